// Package scheduler runs the close-of-business metrics aggregation once a
// day for every configured tenant.
package scheduler

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinq/clinq/internal/domain/metrics"
	"github.com/clinq/clinq/internal/platform/db"
)

type Daily struct {
	pool    *pgxpool.Pool
	agg     *metrics.Aggregator
	tenants []string
	hour    int // local hour, 0-23
	logger  zerolog.Logger
}

func NewDaily(pool *pgxpool.Pool, agg *metrics.Aggregator, tenants []string, hour int, logger zerolog.Logger) *Daily {
	return &Daily{pool: pool, agg: agg, tenants: tenants, hour: hour, logger: logger}
}

// Start launches the scheduler goroutine. It sleeps until the configured
// hour, aggregates the day for each tenant, then waits for the next day.
// Failures are logged and never bring the server down. Cancel the context
// to stop.
func (d *Daily) Start(ctx context.Context) {
	go func() {
		for {
			wait := time.Until(d.nextRun(time.Now()))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				d.runAll(ctx)
			}
		}
	}()
}

// nextRun returns the next occurrence of the configured hour after now.
func (d *Daily) nextRun(now time.Time) time.Time {
	run := time.Date(now.Year(), now.Month(), now.Day(), d.hour, 0, 0, 0, now.Location())
	if !run.After(now) {
		run = run.AddDate(0, 0, 1)
	}
	return run
}

func (d *Daily) runAll(ctx context.Context) {
	date := time.Now().UTC().Truncate(24 * time.Hour)
	for _, tenant := range d.tenants {
		err := db.WithTenant(ctx, d.pool, tenant, func(ctx context.Context) error {
			_, err := d.agg.RunForDate(ctx, date, false)
			return err
		})
		if err != nil {
			d.logger.Error().Err(err).
				Str("tenant", tenant).
				Str("date", date.Format("2006-01-02")).
				Msg("scheduled aggregation failed")
			continue
		}
		d.logger.Info().
			Str("tenant", tenant).
			Str("date", date.Format("2006-01-02")).
			Msg("scheduled aggregation completed")
	}
}
