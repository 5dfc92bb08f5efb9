package events

import "time"

// Event type names.
const (
	TypeDeliverableReviewed = "DeliverableReviewed"
	TypeEscalationRaised    = "EscalationRaised"
	TypeAuditRunCompleted   = "AuditRunCompleted"
)

// DeliverableReviewed fires after a review stage commits its outcome.
type DeliverableReviewed struct {
	DeliverableID string
	ClientID      string
	Kind          string
	CombinedScore float64
	Passed        bool
	Iteration     int
	Timestamp     time.Time
}

func (DeliverableReviewed) EventType() string { return TypeDeliverableReviewed }

// EscalationRaised fires when a deliverable exhausts its iteration budget
// and is handed to a human.
type EscalationRaised struct {
	DeliverableID string
	ClientID      string
	Kind          string
	Iterations    int
	LastScore     float64
	Timestamp     time.Time
}

func (EscalationRaised) EventType() string { return TypeEscalationRaised }

// AuditRunCompleted fires when an audit run reaches a final state, whether
// completed or stage_failed.
type AuditRunCompleted struct {
	RunID      string
	ClientID   string
	State      string
	GateScore  float64
	GatePassed bool
	Timestamp  time.Time
}

func (AuditRunCompleted) EventType() string { return TypeAuditRunCompleted }
