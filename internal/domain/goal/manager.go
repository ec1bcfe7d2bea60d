// Package goal holds declarative autonomous Goal definitions, matches
// them against incoming events, and enforces their per-goal rate limits.
package goal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ag3nt-run/ag3nt/internal/domain/entity"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/persistence/models"
)

// Manager owns the live set of goals, their enabled/disabled state, and
// the global emergency stop.
type Manager struct {
	logger *zap.Logger
	db     *gorm.DB // optional; nil means rate-limit counters are in-memory only

	mu            sync.Mutex
	goals         map[string]*entity.Goal
	emergencyStop bool
}

// NewManager builds an empty Manager whose rate-limit counters live only
// in memory and reset on restart.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger: logger,
		goals:  make(map[string]*entity.Goal),
	}
}

// NewPersistentManager builds a Manager whose goals' rate-limit counters
// are durably stored in db (see models.GoalCounterModel), so a goal's
// cooldown and hourly/daily limits survive a process restart.
func NewPersistentManager(logger *zap.Logger, db *gorm.DB) *Manager {
	m := NewManager(logger)
	m.db = db
	return m
}

// AddGoal registers or replaces a goal by ID. If the manager is backed by
// a database, the goal's rate-limit counters are restored from its last
// persisted state.
func (m *Manager) AddGoal(g *entity.Goal) {
	m.mu.Lock()
	m.goals[g.ID] = g
	m.mu.Unlock()

	m.restoreCounters(g)
	m.logger.Info("goal added", zap.String("goal_id", g.ID), zap.String("risk_level", string(g.RiskLevel)))
}

// RecordExecution stamps goalID as having just fired and, when the
// manager is backed by a database, persists its updated rate-limit
// counters so they survive a restart.
func (m *Manager) RecordExecution(goalID string) {
	m.mu.Lock()
	g, ok := m.goals[goalID]
	m.mu.Unlock()
	if !ok {
		return
	}

	g.RecordExecution()
	m.persistCounters(g)
}

func (m *Manager) restoreCounters(g *entity.Goal) {
	if m.db == nil {
		return
	}
	var row models.GoalCounterModel
	if err := m.db.First(&row, "goal_id = ?", g.ID).Error; err != nil {
		return
	}
	g.RestoreRateLimitState(row.LastTriggered, row.ExecutionsThisHour, row.HourReset, row.ExecutionsToday, row.DayReset)
}

func (m *Manager) persistCounters(g *entity.Goal) {
	if m.db == nil {
		return
	}
	lastTriggered, executionsThisHour, hourReset, executionsToday, dayReset := g.RateLimitState()
	row := models.GoalCounterModel{
		GoalID:             g.ID,
		LastTriggered:      lastTriggered,
		ExecutionsThisHour: executionsThisHour,
		HourReset:          hourReset,
		ExecutionsToday:    executionsToday,
		DayReset:           dayReset,
	}
	err := m.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "goal_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_triggered", "executions_this_hour", "hour_reset", "executions_today", "day_reset", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		m.logger.Error("persist goal rate-limit counters", zap.String("goal_id", g.ID), zap.Error(err))
	}
}

// RemoveGoal deletes a goal by ID, reporting whether it existed.
func (m *Manager) RemoveGoal(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.goals[id]; !ok {
		return false
	}
	delete(m.goals, id)
	m.logger.Info("goal removed", zap.String("goal_id", id))
	return true
}

// GetGoal returns the goal with the given ID, or nil if not found.
func (m *Manager) GetGoal(id string) *entity.Goal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.goals[id]
}

// ListGoals returns every registered goal, sorted by ID for stable output.
func (m *Manager) ListGoals() []*entity.Goal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entity.Goal, 0, len(m.goals))
	for _, g := range m.goals {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindMatchingGoals returns every enabled goal whose trigger matches event
// and that currently passes can_execute. Returns nothing while the
// emergency stop is set.
func (m *Manager) FindMatchingGoals(event *entity.Event) []*entity.Goal {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.emergencyStop {
		return nil
	}

	var matches []*entity.Goal
	for _, g := range m.goals {
		if !g.Matches(event) {
			continue
		}
		if ok, reason := g.CanExecute(); !ok {
			m.logger.Debug("goal matched but cannot execute", zap.String("goal_id", g.ID), zap.String("reason", reason))
			continue
		}
		matches = append(matches, g)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return matches
}

// EnableGoal enables a goal by ID.
func (m *Manager) EnableGoal(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.goals[id]; ok {
		g.Enabled = true
	}
}

// DisableGoal disables a goal by ID.
func (m *Manager) DisableGoal(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.goals[id]; ok {
		g.Enabled = false
	}
}

// SetEmergencyStop sets or clears the global kill switch.
func (m *Manager) SetEmergencyStop(stop bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emergencyStop = stop
	m.logger.Warn("emergency stop changed", zap.Bool("stop", stop))
}

// GetStatus summarizes the manager's current state.
func (m *Manager) GetStatus() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	enabled := 0
	for _, g := range m.goals {
		if g.Enabled {
			enabled++
		}
	}
	return map[string]interface{}{
		"total_goals":    len(m.goals),
		"enabled_goals":  enabled,
		"emergency_stop": m.emergencyStop,
	}
}

// LoadGoals reads every *.yaml/*.yml file in dir as a goal document and
// registers the goals it contains. A malformed file is logged and
// skipped rather than aborting the whole load.
func (m *Manager) LoadGoals(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read goals directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			m.logger.Warn("failed to read goal file", zap.String("path", path), zap.Error(err))
			continue
		}

		var doc goalDocument
		if err := yaml.Unmarshal(data, &doc); err != nil {
			m.logger.Warn("failed to parse goal file", zap.String("path", path), zap.Error(err))
			continue
		}

		for _, raw := range doc.Goals {
			g := raw.toEntity()
			m.AddGoal(&g)
			m.logger.Info("goal loaded from file", zap.String("goal_id", g.ID), zap.String("path", path))
		}
	}
	return nil
}
