package entity

import "time"

// Priority is the closed set of event-bus priority classes. Higher values
// sort first; CRITICAL jumps every other class.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Event is a single unit of work flowing through the autonomous event bus.
type Event struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"event_type"`
	Source     string                 `json:"source"`
	Payload    map[string]interface{} `json:"payload"`
	Priority   Priority               `json:"priority"`
	DedupKey   string                 `json:"dedup_key"`
	Timestamp  time.Time              `json:"timestamp"`
	RetryCount int                    `json:"retry_count"`
	Metadata   map[string]string      `json:"metadata,omitempty"`

	// arrivalOrder is stamped by the bus at publish time and used as the
	// FIFO tiebreaker within a priority class. Not part of the public
	// event identity.
	arrivalOrder uint64
}

// ArrivalOrder returns the bus-assigned FIFO sequence number.
func (e *Event) ArrivalOrder() uint64 { return e.arrivalOrder }

// SetArrivalOrder is called exactly once by the bus at publish time.
func (e *Event) SetArrivalOrder(n uint64) { e.arrivalOrder = n }

// DLQEntry records an event that exhausted its retry budget.
type DLQEntry struct {
	Event      Event
	LastError  string
	RetryCount int
	FailedAt   time.Time
}
