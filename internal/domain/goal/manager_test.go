package goal

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ag3nt-run/ag3nt/internal/domain/entity"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/persistence/models"
)

func sampleGoal() *entity.Goal {
	return &entity.Goal{
		ID:      "test-goal",
		Name:    "Test Goal",
		Trigger: entity.Trigger{EventType: "http_check"},
		Action:  entity.Action{Tool: "shell", Args: map[string]interface{}{"command": "echo test"}},
		Enabled: true,
	}
}

func TestManager_AddGoal(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.AddGoal(sampleGoal())

	if m.GetGoal("test-goal") == nil {
		t.Fatal("expected goal to be retrievable after add")
	}
}

func TestManager_RemoveGoal(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.AddGoal(sampleGoal())

	if !m.RemoveGoal("test-goal") {
		t.Fatal("expected remove to report success")
	}
	if m.GetGoal("test-goal") != nil {
		t.Fatal("expected goal to be gone after remove")
	}
}

func TestManager_RemoveNonexistentGoal(t *testing.T) {
	m := NewManager(zap.NewNop())
	if m.RemoveGoal("nonexistent") {
		t.Fatal("expected remove of unknown goal to report false")
	}
}

func TestManager_ListGoals(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.AddGoal(sampleGoal())

	goals := m.ListGoals()
	if len(goals) != 1 || goals[0].ID != "test-goal" {
		t.Fatalf("unexpected goal list: %+v", goals)
	}
}

func TestManager_FindMatchingGoals(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.AddGoal(sampleGoal())

	event := &entity.Event{Type: "http_check", Source: "monitor"}
	matching := m.FindMatchingGoals(event)
	if len(matching) != 1 || matching[0].ID != "test-goal" {
		t.Fatalf("expected 1 matching goal, got %+v", matching)
	}
}

func TestManager_FindMatchingGoalsNone(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.AddGoal(sampleGoal())

	event := &entity.Event{Type: "file_change", Source: "watcher"}
	if matching := m.FindMatchingGoals(event); len(matching) != 0 {
		t.Fatalf("expected no matches, got %+v", matching)
	}
}

func TestManager_FindMatchingGoalsEmergencyStop(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.AddGoal(sampleGoal())
	m.SetEmergencyStop(true)

	event := &entity.Event{Type: "http_check", Source: "monitor"}
	if matching := m.FindMatchingGoals(event); len(matching) != 0 {
		t.Fatalf("expected emergency stop to suppress all matches, got %+v", matching)
	}
}

func TestManager_EnableDisableGoal(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.AddGoal(sampleGoal())

	m.DisableGoal("test-goal")
	if m.GetGoal("test-goal").Enabled {
		t.Fatal("expected goal to be disabled")
	}

	m.EnableGoal("test-goal")
	if !m.GetGoal("test-goal").Enabled {
		t.Fatal("expected goal to be re-enabled")
	}
}

func TestManager_GetStatus(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.AddGoal(sampleGoal())

	status := m.GetStatus()
	if status["total_goals"] != 1 {
		t.Fatalf("expected total_goals 1, got %v", status["total_goals"])
	}
	if status["enabled_goals"] != 1 {
		t.Fatalf("expected enabled_goals 1, got %v", status["enabled_goals"])
	}
	if status["emergency_stop"] != false {
		t.Fatalf("expected emergency_stop false, got %v", status["emergency_stop"])
	}
}

func TestManager_LoadGoalsFromYAML(t *testing.T) {
	dir := t.TempDir()
	yamlContent := `
goals:
  - id: yaml-goal
    name: YAML Goal
    description: Loaded from YAML
    trigger:
      event_type: test
    action:
      type: shell
      command: echo test
    risk_level: low
`
	if err := os.WriteFile(filepath.Join(dir, "goals.yaml"), []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write goals.yaml: %v", err)
	}

	m := NewManager(zap.NewNop())
	if err := m.LoadGoals(dir); err != nil {
		t.Fatalf("LoadGoals: %v", err)
	}

	g := m.GetGoal("yaml-goal")
	if g == nil {
		t.Fatal("expected yaml-goal to be loaded")
	}
	if g.Name != "YAML Goal" {
		t.Fatalf("unexpected name: %q", g.Name)
	}
	if g.RiskLevel != entity.RiskLow {
		t.Fatalf("expected risk level LOW, got %q", g.RiskLevel)
	}
	if !g.Enabled {
		t.Fatal("expected goal with no explicit 'enabled' key to default to true")
	}
	if g.Action.Tool != "shell" || g.Action.Args["command"] != "echo test" {
		t.Fatalf("unexpected action: %+v", g.Action)
	}
}

func TestManager_LoadGoalsSkipsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("goals: [unterminated"), 0o644); err != nil {
		t.Fatalf("write broken.yaml: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "good.yaml"), []byte("goals:\n  - id: ok-goal\n    name: OK\n    trigger:\n      event_type: test\n    action:\n      tool: noop\n"), 0o644); err != nil {
		t.Fatalf("write good.yaml: %v", err)
	}

	m := NewManager(zap.NewNop())
	if err := m.LoadGoals(dir); err != nil {
		t.Fatalf("LoadGoals: %v", err)
	}
	if m.GetGoal("ok-goal") == nil {
		t.Fatal("expected the well-formed file to still load")
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	if err := db.AutoMigrate(&models.GoalCounterModel{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestManager_RecordExecutionPersistsCounters(t *testing.T) {
	db := newTestDB(t)
	m := NewPersistentManager(zap.NewNop(), db)
	m.AddGoal(sampleGoal())

	m.RecordExecution("test-goal")

	var row models.GoalCounterModel
	if err := db.First(&row, "goal_id = ?", "test-goal").Error; err != nil {
		t.Fatalf("expected persisted counter row: %v", err)
	}
	if row.ExecutionsThisHour != 1 || row.ExecutionsToday != 1 {
		t.Fatalf("unexpected persisted counters: %+v", row)
	}
}

func TestManager_AddGoalRestoresPersistedCounters(t *testing.T) {
	db := newTestDB(t)

	first := NewPersistentManager(zap.NewNop(), db)
	first.AddGoal(sampleGoal())
	first.RecordExecution("test-goal")
	first.RecordExecution("test-goal")

	// Simulate a restart: a fresh manager over the same database should
	// pick up where the last process left off instead of resetting to
	// zero executions.
	second := NewPersistentManager(zap.NewNop(), db)
	second.AddGoal(sampleGoal())

	restored := second.GetGoal("test-goal")
	_, executionsThisHour, _, executionsToday, _ := restored.RateLimitState()
	if executionsThisHour != 2 || executionsToday != 2 {
		t.Fatalf("expected restored counters of 2/2, got hour=%d day=%d", executionsThisHour, executionsToday)
	}
}

func TestManager_InMemoryManagerSkipsPersistence(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.AddGoal(sampleGoal())
	m.RecordExecution("test-goal")

	g := m.GetGoal("test-goal")
	_, executionsThisHour, _, _, _ := g.RateLimitState()
	if executionsThisHour != 1 {
		t.Fatalf("expected in-memory execution count to still update, got %d", executionsThisHour)
	}
}
