package model

import "time"

// RebootOutcome is how an operator-initiated restart ended.
type RebootOutcome string

const (
	OutcomeCompleted RebootOutcome = "completed"
	OutcomeCancelled RebootOutcome = "cancelled"
	OutcomeFailed    RebootOutcome = "failed"
)

// RebootRecord is one entry of restart history.
type RebootRecord struct {
	ID          string        `json:"id" db:"id"`
	Host        string        `json:"host" db:"host"`
	RequestedAt time.Time     `json:"requested_at" db:"requested_at"`
	FinishedAt  time.Time     `json:"finished_at" db:"finished_at"`
	Outcome     RebootOutcome `json:"outcome" db:"outcome"`
	RequestedBy string        `json:"requested_by" db:"requested_by"`
	Error       string        `json:"error,omitempty" db:"error"`
}
