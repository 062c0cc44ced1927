package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinq/clinq/internal/domain/queue"
	"github.com/clinq/clinq/internal/platform/telemetry"
)

// DaySource supplies the per-day appointment facts the aggregator
// snapshots. Satisfied by the appointment repository.
type DaySource interface {
	ProvidersWithAppointments(ctx context.Context, day time.Time) ([]uuid.UUID, error)
	DailyCounts(ctx context.Context, providerID uuid.UUID, day time.Time) (total, completed, noShow, cancelled int, err error)
}

// Aggregator computes and persists the daily QueueMetricsSnapshot rows.
// One bad provider never stops the run: invariant violations are logged
// and the next provider proceeds.
type Aggregator struct {
	source DaySource
	snaps  Repository
	est    *queue.Estimator
	tel    *telemetry.Provider
	logger zerolog.Logger
}

func NewAggregator(source DaySource, snaps Repository, est *queue.Estimator, tel *telemetry.Provider, logger zerolog.Logger) *Aggregator {
	return &Aggregator{source: source, snaps: snaps, est: est, tel: tel, logger: logger}
}

// RunForDate aggregates every provider that saw at least one appointment on
// the date. Without force, providers already snapshotted for the date are
// skipped; with force, a new revision is appended. Returns the number of
// snapshots written.
func (a *Aggregator) RunForDate(ctx context.Context, date time.Time, force bool) (int, error) {
	providers, err := a.source.ProvidersWithAppointments(ctx, date)
	if err != nil {
		a.record("error")
		return 0, fmt.Errorf("%w: list providers for %s: %s",
			queue.ErrStorageUnavailable, date.Format("2006-01-02"), err)
	}

	written := 0
	for _, providerID := range providers {
		err := a.RunForProvider(ctx, providerID, date, force)
		switch {
		case err == nil:
			written++
			a.record("ok")
		case errors.Is(err, queue.ErrSnapshotExists):
			a.record("skipped")
			a.logger.Debug().
				Str("provider_id", providerID.String()).
				Str("date", date.Format("2006-01-02")).
				Msg("snapshot exists, skipping")
		case errors.Is(err, queue.ErrInvariantViolation):
			a.record("invariant_violation")
			a.logger.Error().Err(err).
				Str("provider_id", providerID.String()).
				Str("date", date.Format("2006-01-02")).
				Msg("snapshot rejected")
		default:
			a.record("error")
			a.logger.Error().Err(err).
				Str("provider_id", providerID.String()).
				Str("date", date.Format("2006-01-02")).
				Msg("aggregation failed")
		}
	}

	a.logger.Info().
		Str("date", date.Format("2006-01-02")).
		Int("providers", len(providers)).
		Int("written", written).
		Bool("force", force).
		Msg("daily aggregation finished")
	return written, nil
}

// RunForProvider snapshots one provider's day.
func (a *Aggregator) RunForProvider(ctx context.Context, providerID uuid.UUID, date time.Time, force bool) error {
	latest, err := a.snaps.LatestRevision(ctx, providerID, date)
	if err != nil {
		return fmt.Errorf("%w: latest revision: %s", queue.ErrStorageUnavailable, err)
	}
	if latest > 0 && !force {
		return queue.ErrSnapshotExists
	}

	snap, err := a.buildSnapshot(ctx, providerID, date)
	if err != nil {
		return err
	}
	snap.Revision = latest + 1

	if err := snap.Validate(); err != nil {
		return err
	}

	if err := a.snaps.Insert(ctx, snap); err != nil {
		return fmt.Errorf("%w: insert snapshot: %s", queue.ErrStorageUnavailable, err)
	}
	return nil
}

func (a *Aggregator) buildSnapshot(ctx context.Context, providerID uuid.UUID, date time.Time) (*Snapshot, error) {
	total, completed, noShow, cancelled, err := a.source.DailyCounts(ctx, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("%w: daily counts: %s", queue.ErrStorageUnavailable, err)
	}

	mu, err := a.est.ServiceRate(ctx, providerID)
	if err != nil {
		return nil, err
	}
	lambda, err := a.est.ArrivalRate(ctx, providerID, date)
	if err != nil {
		return nil, err
	}

	model := queue.Model{Lambda: lambda.Rate, Mu: mu.Rate}
	return &Snapshot{
		ProviderID:      providerID,
		MetricDate:      date,
		ArrivalRate:     model.Lambda,
		ServiceRate:     model.Mu,
		Utilization:     model.Utilization(),
		AvgWaitInSystem: model.AvgWaitInSystem(),
		AvgWaitInQueue:  model.AvgWaitInQueue(),
		AvgInSystem:     model.AvgInSystem(),
		AvgInQueue:      model.AvgInQueue(),
		Total:           total,
		Completed:       completed,
		NoShow:          noShow,
		Cancelled:       cancelled,
		IsStable:        model.Stable(),
	}, nil
}

func (a *Aggregator) record(outcome string) {
	if a.tel != nil {
		a.tel.AggregationRun(outcome)
	}
}
