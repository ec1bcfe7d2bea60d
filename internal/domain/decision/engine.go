// Package decision turns a (goal, event) match into an ACT/ASK/DEFER/
// ESCALATE/REJECT verdict, weighing a goal's configured risk tier against
// its historical confidence score.
package decision

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ag3nt-run/ag3nt/internal/domain/entity"
)

// ConfidenceProvider fetches a goal's historical confidence for an event,
// typically backed by a learning store over past action outcomes.
type ConfidenceProvider interface {
	GetConfidence(ctx context.Context, goal *entity.Goal, event *entity.Event) (entity.ConfidenceScore, error)
}

// Config tunes the engine's decision thresholds.
type Config struct {
	// MinSamplesRequired is the smallest confidence sample_count the
	// engine will act on; below it the engine always asks.
	MinSamplesRequired int
	// RejectThreshold is the confidence score below which the engine
	// rejects outright instead of asking.
	RejectThreshold float64
	// EscalateAfterFailures is the per-goal consecutive-failure count
	// that forces escalation regardless of confidence.
	EscalateAfterFailures int
}

// DefaultConfig returns the engine's documented default thresholds.
func DefaultConfig() Config {
	return Config{
		MinSamplesRequired:    3,
		RejectThreshold:       0.1,
		EscalateAfterFailures: 3,
	}
}

// Engine evaluates goal/event matches into decisions.
type Engine struct {
	confidence ConfidenceProvider
	config     Config
	logger     *zap.Logger

	mu            sync.Mutex
	failureCounts map[string]int
}

// NewEngine builds an Engine. A zero Config falls back to DefaultConfig.
func NewEngine(confidence ConfidenceProvider, config Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config == (Config{}) {
		config = DefaultConfig()
	}
	return &Engine{
		confidence:    confidence,
		config:        config,
		logger:        logger,
		failureCounts: make(map[string]int),
	}
}

// Evaluate returns the decision for goal firing on event, per the
// algorithm: goals that always require approval ask; insufficient
// confidence history asks; confidence below the reject threshold rejects;
// goals with too many consecutive failures escalate; confidence clearing
// the risk-scaled threshold acts; everything else asks.
func (e *Engine) Evaluate(ctx context.Context, goal *entity.Goal, event *entity.Event) (entity.Decision, error) {
	base := entity.Decision{
		GoalID:    goal.ID,
		GoalName:  goal.Name,
		Timestamp: time.Now(),
	}
	if event != nil {
		base.EventID = event.ID
	}

	if goal.RequiresApproval {
		base.Type = entity.DecisionAsk
		base.Reason = "Goal is configured to always require approval"
		return base, nil
	}

	confidence, err := e.confidence.GetConfidence(ctx, goal, event)
	if err != nil {
		return entity.Decision{}, err
	}
	base.Confidence = confidence

	if confidence.SampleCount < e.config.MinSamplesRequired {
		base.Type = entity.DecisionAsk
		base.Reason = fmt.Sprintf("Insufficient history to decide autonomously (%d samples, need %d)",
			confidence.SampleCount, e.config.MinSamplesRequired)
		return base, nil
	}

	if confidence.Score < e.config.RejectThreshold {
		base.Type = entity.DecisionReject
		base.Reason = fmt.Sprintf("Confidence %.2f is below the reject threshold %.2f", confidence.Score, e.config.RejectThreshold)
		return base, nil
	}

	e.mu.Lock()
	failures := e.failureCounts[goal.ID]
	e.mu.Unlock()
	if failures >= e.config.EscalateAfterFailures {
		base.Type = entity.DecisionEscalate
		base.Reason = fmt.Sprintf("Goal has failed %d consecutive times", failures)
		return base, nil
	}

	threshold := goal.ConfidenceThreshold * goal.RiskLevel.Multiplier()
	if confidence.Score >= threshold {
		base.Type = entity.DecisionAct
		base.Reason = fmt.Sprintf("Confidence %.2f meets risk-scaled threshold %.2f", confidence.Score, threshold)
		return base, nil
	}

	base.Type = entity.DecisionAsk
	base.Reason = fmt.Sprintf("Confidence %.2f is below risk-scaled threshold %.2f", confidence.Score, threshold)
	return base, nil
}

// RecordOutcome updates the per-goal failure counter: a success resets it
// to zero, a failure increments it by one.
func (e *Engine) RecordOutcome(goalID string, success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if success {
		e.failureCounts[goalID] = 0
		return
	}
	e.failureCounts[goalID]++
}

// FailureCount returns the current consecutive-failure count for goalID.
func (e *Engine) FailureCount(goalID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failureCounts[goalID]
}

// GetExplanation renders a human-readable summary of a decision.
func (e *Engine) GetExplanation(d entity.Decision) string {
	pct := int(math.Round(d.Confidence.Score * 100))
	return fmt.Sprintf("%s decision for goal %q: %s (confidence %d%%, %d samples)",
		d.Type, d.GoalName, d.Reason, pct, d.Confidence.SampleCount)
}
