package metrics

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/clinq/clinq/internal/domain/queue"
)

// epsilon is the tolerance for the consistency checks below. The snapshot
// fields are derived from one model evaluation, so disagreement beyond
// floating-point noise means a computation bug, not rounding.
const epsilon = 1e-6

// Snapshot is one day's queue metrics for one provider. Rows are append
// only: a forced re-aggregation writes the next revision, it never updates
// an existing row.
type Snapshot struct {
	ID              uuid.UUID `db:"id" json:"id"`
	ProviderID      uuid.UUID `db:"provider_id" json:"provider_id"`
	MetricDate      time.Time `db:"metric_date" json:"metric_date"`
	Revision        int       `db:"revision" json:"revision"`
	ArrivalRate     float64   `db:"arrival_rate" json:"arrival_rate"`
	ServiceRate     float64   `db:"service_rate" json:"service_rate"`
	Utilization     float64   `db:"utilization" json:"utilization"`
	AvgWaitInSystem float64   `db:"avg_wait_in_system" json:"avg_wait_in_system"`
	AvgWaitInQueue  float64   `db:"avg_wait_in_queue" json:"avg_wait_in_queue"`
	AvgInSystem     float64   `db:"avg_in_system" json:"avg_in_system"`
	AvgInQueue      float64   `db:"avg_in_queue" json:"avg_in_queue"`
	Total           int       `db:"total_appointments" json:"total_appointments"`
	Completed       int       `db:"completed" json:"completed"`
	NoShow          int       `db:"no_show" json:"no_show"`
	Cancelled       int       `db:"cancelled" json:"cancelled"`
	IsStable        bool      `db:"is_stable" json:"is_stable"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Validate checks the snapshot's internal consistency. A failing snapshot
// is rejected with ErrInvariantViolation -- values are never adjusted to
// pass.
func (s *Snapshot) Validate() error {
	if s.ArrivalRate < 0 || s.ServiceRate < 0 {
		return fmt.Errorf("%w: negative rate (lambda=%g mu=%g)",
			queue.ErrInvariantViolation, s.ArrivalRate, s.ServiceRate)
	}
	if s.Utilization < 0 {
		return fmt.Errorf("%w: negative utilization %g", queue.ErrInvariantViolation, s.Utilization)
	}

	if s.ServiceRate > 0 {
		want := s.ArrivalRate / s.ServiceRate
		if math.Abs(s.Utilization-want) > epsilon {
			return fmt.Errorf("%w: utilization %g != lambda/mu %g",
				queue.ErrInvariantViolation, s.Utilization, want)
		}
	}

	if s.IsStable {
		if s.Utilization >= 1 {
			return fmt.Errorf("%w: marked stable with utilization %g",
				queue.ErrInvariantViolation, s.Utilization)
		}
		// Little's Law: L = lambda*W and Lq = lambda*Wq.
		if math.Abs(s.AvgInSystem-s.ArrivalRate*s.AvgWaitInSystem) > epsilon {
			return fmt.Errorf("%w: L=%g violates Little's Law (lambda*W=%g)",
				queue.ErrInvariantViolation, s.AvgInSystem, s.ArrivalRate*s.AvgWaitInSystem)
		}
		if math.Abs(s.AvgInQueue-s.ArrivalRate*s.AvgWaitInQueue) > epsilon {
			return fmt.Errorf("%w: Lq=%g violates Little's Law (lambda*Wq=%g)",
				queue.ErrInvariantViolation, s.AvgInQueue, s.ArrivalRate*s.AvgWaitInQueue)
		}
	}

	if s.Completed+s.NoShow+s.Cancelled > s.Total {
		return fmt.Errorf("%w: completed+no_show+cancelled %d exceeds total %d",
			queue.ErrInvariantViolation, s.Completed+s.NoShow+s.Cancelled, s.Total)
	}

	return nil
}
