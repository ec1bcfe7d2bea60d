package blueprint

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/ag3nt-run/ag3nt/pkg/errors"
)

// Manager exposes blueprint creation, reading, and task updates — the
// three operations the model sees as tools. Active-blueprint resolution
// is per session (most-recently-updated blueprint for that session_id),
// not a single process-wide pointer, so concurrent sessions never
// collide on "the" active blueprint.
type Manager struct {
	store  *Store
	logger *zap.Logger
}

// NewManager builds a Manager backed by store.
func NewManager(store *Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, logger: logger}
}

// CreateParams groups write_blueprint's optional context fields.
type CreateParams struct {
	SessionID         string
	Goal              string
	Why               string
	What              string
	Tasks             []Task
	SuccessCriteria   []SuccessCriterion
	AntiPatterns      []AntiPattern
	Gotchas           []string
	Learnings         []string
	CodeReferences    []CodeReference
	DocumentationRefs []string
}

// Create builds a new draft blueprint, deriving a validation gate per
// distinct level used across its tasks, and persists it.
func (m *Manager) Create(params CreateParams) (*Blueprint, error) {
	now := time.Now()
	id := fmt.Sprintf("bp_%s", uuid.New().String()[:12])

	levelsUsed := map[ValidationLevel]bool{}
	for _, t := range params.Tasks {
		if t.ValidationGate == 0 {
			t.ValidationGate = ValidationSyntax
		}
		levelsUsed[t.ValidationGate] = true
	}
	gates := make([]Gate, 0, len(levelsUsed))
	for level := range levelsUsed {
		gates = append(gates, Gate{Level: level, Name: level.Name()})
	}
	sortGatesByLevel(gates)

	bp := &Blueprint{
		ID:                id,
		SessionID:         params.SessionID,
		CreatedAt:         now,
		UpdatedAt:         now,
		Goal:              params.Goal,
		Why:               params.Why,
		What:              params.What,
		SuccessCriteria:   params.SuccessCriteria,
		CodeReferences:    params.CodeReferences,
		DocumentationRefs: params.DocumentationRefs,
		AntiPatterns:      params.AntiPatterns,
		Gotchas:           params.Gotchas,
		Learnings:         params.Learnings,
		Tasks:             normalizeTasks(params.Tasks),
		ValidationGates:   gates,
		Status:            StatusDraft,
	}

	if err := m.store.Save(bp); err != nil {
		return nil, err
	}
	m.logger.Info("blueprint created", zap.String("blueprint_id", id), zap.String("session_id", params.SessionID), zap.Int("tasks", len(bp.Tasks)))
	return bp, nil
}

func normalizeTasks(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		if t.ValidationGate == 0 {
			t.ValidationGate = ValidationSyntax
		}
		if t.Complexity == "" {
			t.Complexity = "medium"
		}
		if t.Status == "" {
			t.Status = "pending"
		}
		out[i] = t
	}
	return out
}

func sortGatesByLevel(gates []Gate) {
	for i := 1; i < len(gates); i++ {
		for j := i; j > 0 && gates[j].Level < gates[j-1].Level; j-- {
			gates[j], gates[j-1] = gates[j-1], gates[j]
		}
	}
}

// Get returns the blueprint with the given ID.
func (m *Manager) Get(id string) (*Blueprint, bool, error) {
	return m.store.Load(id)
}

// GetActive returns the most-recently-updated blueprint for sessionID.
func (m *Manager) GetActive(sessionID string) (*Blueprint, bool, error) {
	return m.store.LoadForSession(sessionID)
}

// resolve finds the blueprint identified by blueprintID, falling back to
// the active blueprint for sessionID when blueprintID is empty.
func (m *Manager) resolve(sessionID, blueprintID string) (*Blueprint, error) {
	var (
		bp  *Blueprint
		ok  bool
		err error
	)
	if blueprintID != "" {
		bp, ok, err = m.store.Load(blueprintID)
	} else {
		bp, ok, err = m.store.LoadForSession(sessionID)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NewValidationError("no active blueprint found")
	}
	return bp, nil
}

// UpdateTask mutates one task's status/notes/validation result, advances
// current_task_index when the current task completes, and rolls the
// blueprint's own status forward when every task is done.
func (m *Manager) UpdateTask(sessionID, blueprintID string, taskIndex int, status, notes, validationResult string) (*Blueprint, error) {
	bp, err := m.resolve(sessionID, blueprintID)
	if err != nil {
		return nil, err
	}

	if taskIndex < 0 || taskIndex >= len(bp.Tasks) {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("invalid task index %d, blueprint has %d tasks", taskIndex, len(bp.Tasks)))
	}

	task := &bp.Tasks[taskIndex]
	task.Status = status
	if notes != "" {
		task.Notes = notes
	}
	if validationResult != "" {
		task.ValidationResult = validationResult
	}

	if status == "completed" && taskIndex == bp.CurrentTaskIndex {
		bp.CurrentTaskIndex = min(taskIndex+1, len(bp.Tasks)-1)
	}

	if status == "in_progress" && bp.Status == StatusDraft {
		bp.Status = StatusInProgress
	} else if allTasksSettled(bp.Tasks) {
		bp.Status = StatusCompleted
	}

	bp.UpdatedAt = time.Now()
	if err := m.store.Save(bp); err != nil {
		return nil, err
	}
	m.logger.Info("blueprint task updated",
		zap.String("blueprint_id", bp.ID), zap.Int("task_index", taskIndex), zap.String("status", status))
	return bp, nil
}

func allTasksSettled(tasks []Task) bool {
	if len(tasks) == 0 {
		return false
	}
	for _, t := range tasks {
		if t.Status != "completed" && t.Status != "skipped" {
			return false
		}
	}
	return true
}

// ListRecent returns up to limit blueprints, most-recently-updated first.
func (m *Manager) ListRecent(limit int) ([]*Blueprint, error) {
	return m.store.ListRecent(limit)
}
