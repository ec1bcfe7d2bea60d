package entity

import "time"

// DecisionType is the closed set of verdicts the decision engine can reach.
type DecisionType string

const (
	DecisionAct      DecisionType = "ACT"
	DecisionAsk      DecisionType = "ASK"
	DecisionDefer    DecisionType = "DEFER"
	DecisionEscalate DecisionType = "ESCALATE"
	DecisionReject   DecisionType = "REJECT"
)

// ConfidenceScore summarizes a goal's historical success, fetched from the
// learning-store collaborator and cached with a short TTL.
type ConfidenceScore struct {
	Score       float64
	SampleCount int
	SuccessRate float64
	AvgDuration time.Duration
}

// Decision is the engine's verdict for one (event, goal) match. It is a
// derived value, never persisted as primary state — only the audit log
// retains a history of past decisions.
type Decision struct {
	Type       DecisionType
	GoalID     string
	GoalName   string
	EventID    string
	Confidence ConfidenceScore
	Reason     string
	Timestamp  time.Time
}

// ShouldExecute reports whether the decision authorizes immediate
// execution without human involvement.
func (d Decision) ShouldExecute() bool {
	return d.Type == DecisionAct
}

// NeedsApproval reports whether the decision requires a human to confirm
// before the action runs.
func (d Decision) NeedsApproval() bool {
	return d.Type == DecisionAsk
}
