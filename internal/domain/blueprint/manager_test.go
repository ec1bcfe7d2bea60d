package blueprint

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "blueprints"), zap.NewNop())
	return NewManager(store, zap.NewNop())
}

func sampleParams() CreateParams {
	return CreateParams{
		SessionID: "sess1",
		Goal:      "Ship the thing",
		Why:       "Users need it",
		What:      "Add the feature end to end",
		Tasks: []Task{
			{Title: "Write code", ValidationGate: ValidationSyntax},
			{Title: "Write tests", ValidationGate: ValidationUnitTest},
		},
	}
}

func TestManager_CreateAssignsIDAndGates(t *testing.T) {
	m := newTestManager(t)
	bp, err := m.Create(sampleParams())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if bp.ID == "" || !strings.HasPrefix(bp.ID, "bp_") {
		t.Fatalf("expected a bp_-prefixed ID, got %q", bp.ID)
	}
	if bp.Status != StatusDraft {
		t.Fatalf("expected draft status, got %q", bp.Status)
	}
	if len(bp.ValidationGates) != 2 {
		t.Fatalf("expected 2 derived validation gates, got %d", len(bp.ValidationGates))
	}
	if bp.ValidationGates[0].Level != ValidationSyntax {
		t.Fatalf("expected gates sorted ascending by level, got %+v", bp.ValidationGates)
	}
}

func TestManager_GetActiveResolvesBySession(t *testing.T) {
	m := newTestManager(t)
	created, err := m.Create(sampleParams())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	active, ok, err := m.GetActive("sess1")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if !ok || active.ID != created.ID {
		t.Fatalf("expected active blueprint to be %q, got %+v (ok=%v)", created.ID, active, ok)
	}
}

func TestManager_GetActiveMostRecentlyUpdated(t *testing.T) {
	m := newTestManager(t)
	first, err := m.Create(sampleParams())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := m.Create(sampleParams())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	active, ok, err := m.GetActive("sess1")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if !ok || active.ID != second.ID {
		t.Fatalf("expected most recently created blueprint %q active, got %+v", second.ID, active)
	}
	_ = first
}

func TestManager_UpdateTaskAdvancesCurrentIndex(t *testing.T) {
	m := newTestManager(t)
	bp, err := m.Create(sampleParams())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := m.UpdateTask(bp.SessionID, "", 0, "completed", "looks good", "")
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if updated.CurrentTaskIndex != 1 {
		t.Fatalf("expected current_task_index to advance to 1, got %d", updated.CurrentTaskIndex)
	}
	if updated.Tasks[0].Notes != "looks good" {
		t.Fatalf("expected notes to be recorded, got %q", updated.Tasks[0].Notes)
	}
}

func TestManager_UpdateTaskCompletesBlueprintWhenAllDone(t *testing.T) {
	m := newTestManager(t)
	bp, err := m.Create(sampleParams())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := m.UpdateTask(bp.SessionID, "", 0, "completed", "", ""); err != nil {
		t.Fatalf("UpdateTask 0: %v", err)
	}
	final, err := m.UpdateTask(bp.SessionID, "", 1, "completed", "", "")
	if err != nil {
		t.Fatalf("UpdateTask 1: %v", err)
	}
	if final.Status != StatusCompleted {
		t.Fatalf("expected blueprint status completed, got %q", final.Status)
	}
}

func TestManager_UpdateTaskInvalidIndex(t *testing.T) {
	m := newTestManager(t)
	bp, err := m.Create(sampleParams())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := m.UpdateTask(bp.SessionID, "", 99, "completed", "", ""); err == nil {
		t.Fatal("expected an error for an out-of-range task index")
	}
}

func TestManager_UpdateTaskNoActiveBlueprint(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.UpdateTask("no-such-session", "", 0, "completed", "", ""); err == nil {
		t.Fatal("expected an error when no blueprint is active")
	}
}

func TestManager_ListRecent(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Create(sampleParams()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create(sampleParams()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	list, err := m.ListRecent(10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 blueprints, got %d", len(list))
	}
}

func TestBlueprint_ToMarkdownIncludesCurrentTaskMarker(t *testing.T) {
	bp := &Blueprint{
		Goal:   "Test goal",
		Status: StatusInProgress,
		Tasks: []Task{
			{Title: "First", Complexity: "low", Status: "completed"},
			{Title: "Second", Complexity: "medium", Status: "pending"},
		},
		CurrentTaskIndex: 1,
	}

	md := bp.ToMarkdown()
	if !strings.Contains(md, "# Blueprint: Test goal") {
		t.Fatalf("expected goal header, got %q", md)
	}
	if !strings.Contains(md, "[x] **First**") {
		t.Fatalf("expected completed task checked off, got %q", md)
	}
	if !strings.Contains(md, "**Second** (medium) <-- CURRENT") {
		t.Fatalf("expected current task marker, got %q", md)
	}
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML("# Hello\n\nWorld")
	if err != nil {
		t.Fatalf("RenderHTML: %v", err)
	}
	if !strings.Contains(html, "<h1>Hello</h1>") {
		t.Fatalf("expected rendered heading, got %q", html)
	}
}
