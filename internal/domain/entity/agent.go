package entity

import "time"

// AgentInstance is the opaque LLM-bound executor tracked by the warm pool.
// The pool never inspects the model itself (a collaborator, per SPEC_FULL
// §1) — only these lifecycle attributes.
type AgentInstance struct {
	ID            string
	CreatedAt     time.Time
	LastUsedAt    time.Time
	TurnsExecuted int

	// Build is the opaque handle to whatever the caller's agent-builder
	// produced (an LLM-bound executor). The pool treats it as inert.
	Build interface{}
}
