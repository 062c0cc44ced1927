package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Status is the closed set of appointment states the engine recognizes.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

var validStatuses = map[Status]bool{
	StatusScheduled: true, StatusConfirmed: true, StatusInProgress: true,
	StatusCompleted: true, StatusCancelled: true, StatusNoShow: true,
}

// Valid reports whether s is a recognized status.
func (s Status) Valid() bool { return validStatuses[s] }

// IsActiveForQueue reports whether an appointment in this status still
// occupies a place in the provider's queue. This is the single definition
// every ahead-count and waiting-count query must go through.
func (s Status) IsActiveForQueue() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusInProgress:
		return true
	}
	return false
}

// CountsForArrivals reports whether an appointment contributes to demand
// (arrival rate). No-shows arrived as far as demand is concerned; only
// cancellations are excluded.
func (s Status) CountsForArrivals() bool {
	return s != StatusCancelled
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// legalTransitions maps each status to the statuses it may move to.
var legalTransitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusInProgress, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range legalTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Appointment maps to the appointment table. TokenNumber is assigned exactly
// once, inside the booking transaction, and never changes afterwards.
type Appointment struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	ProviderID  uuid.UUID  `db:"provider_id" json:"provider_id"`
	ScheduledAt time.Time  `db:"scheduled_at" json:"scheduled_at"`
	Status      Status     `db:"status" json:"status"`
	TokenNumber *int       `db:"token_number" json:"token_number,omitempty"`
	CheckedInAt *time.Time `db:"checked_in_at" json:"checked_in_at,omitempty"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Day returns the appointment's calendar date in UTC, the partition key for
// token sequencing.
func (a *Appointment) Day() time.Time {
	return a.ScheduledAt.UTC().Truncate(24 * time.Hour)
}
