package decision

import (
	"sync"

	"github.com/ag3nt-run/ag3nt/internal/domain/entity"
)

const defaultMaxAuditEntries = 1000

// AuditLog is a bounded ring buffer of past decisions, queryable by goal
// or type and summarizable into per-type rates.
type AuditLog struct {
	mu         sync.Mutex
	maxEntries int
	entries    []entity.Decision
}

// NewAuditLog builds an AuditLog capped at maxEntries. maxEntries <= 0
// falls back to a sensible default.
func NewAuditLog(maxEntries int) *AuditLog {
	if maxEntries <= 0 {
		maxEntries = defaultMaxAuditEntries
	}
	return &AuditLog{maxEntries: maxEntries}
}

// Record appends a decision, trimming the oldest entry if the log is at
// capacity.
func (a *AuditLog) Record(d entity.Decision) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, d)
	if over := len(a.entries) - a.maxEntries; over > 0 {
		a.entries = a.entries[over:]
	}
}

// GetRecent returns up to limit decisions, most recent first.
func (a *AuditLog) GetRecent(limit int) []entity.Decision {
	a.mu.Lock()
	defer a.mu.Unlock()
	return reversed(a.entries, limit)
}

// GetByGoal returns every recorded decision for goalID, most recent first.
func (a *AuditLog) GetByGoal(goalID string) []entity.Decision {
	a.mu.Lock()
	defer a.mu.Unlock()
	var matches []entity.Decision
	for _, d := range a.entries {
		if d.GoalID == goalID {
			matches = append(matches, d)
		}
	}
	return reversed(matches, len(matches))
}

// GetByType returns every recorded decision of the given type, most
// recent first.
func (a *AuditLog) GetByType(t entity.DecisionType) []entity.Decision {
	a.mu.Lock()
	defer a.mu.Unlock()
	var matches []entity.Decision
	for _, d := range a.entries {
		if d.Type == t {
			matches = append(matches, d)
		}
	}
	return reversed(matches, len(matches))
}

// GetStats summarizes the log: total count and the fraction of each
// decision type.
func (a *AuditLog) GetStats() map[string]interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := len(a.entries)
	counts := map[entity.DecisionType]int{}
	for _, d := range a.entries {
		counts[d.Type]++
	}

	rate := func(t entity.DecisionType) float64 {
		if total == 0 {
			return 0
		}
		return float64(counts[t]) / float64(total)
	}

	return map[string]interface{}{
		"total":         total,
		"act_rate":      rate(entity.DecisionAct),
		"ask_rate":      rate(entity.DecisionAsk),
		"defer_rate":    rate(entity.DecisionDefer),
		"escalate_rate": rate(entity.DecisionEscalate),
		"reject_rate":   rate(entity.DecisionReject),
	}
}

// reversed returns up to limit elements of entries in reverse order
// (most-recently-appended first) without mutating entries.
func reversed(entries []entity.Decision, limit int) []entity.Decision {
	if limit > len(entries) {
		limit = len(entries)
	}
	if limit <= 0 {
		return nil
	}
	out := make([]entity.Decision, limit)
	for i := 0; i < limit; i++ {
		out[i] = entries[len(entries)-1-i]
	}
	return out
}
