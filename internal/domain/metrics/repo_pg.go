package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinq/clinq/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const snapCols = `id, provider_id, metric_date, revision, arrival_rate, service_rate,
	utilization, avg_wait_in_system, avg_wait_in_queue, avg_in_system, avg_in_queue,
	total_appointments, completed, no_show, cancelled, is_stable, created_at`

func scanSnap(row pgx.Row) (*Snapshot, error) {
	var s Snapshot
	err := row.Scan(&s.ID, &s.ProviderID, &s.MetricDate, &s.Revision, &s.ArrivalRate, &s.ServiceRate,
		&s.Utilization, &s.AvgWaitInSystem, &s.AvgWaitInQueue, &s.AvgInSystem, &s.AvgInQueue,
		&s.Total, &s.Completed, &s.NoShow, &s.Cancelled, &s.IsStable, &s.CreatedAt)
	return &s, err
}

func (r *repoPG) Insert(ctx context.Context, s *Snapshot) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue_metrics_snapshot (id, provider_id, metric_date, revision,
			arrival_rate, service_rate, utilization,
			avg_wait_in_system, avg_wait_in_queue, avg_in_system, avg_in_queue,
			total_appointments, completed, no_show, cancelled, is_stable)
		VALUES ($1,$2,$3::date,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at`,
		s.ID, s.ProviderID, s.MetricDate, s.Revision,
		s.ArrivalRate, s.ServiceRate, s.Utilization,
		s.AvgWaitInSystem, s.AvgWaitInQueue, s.AvgInSystem, s.AvgInQueue,
		s.Total, s.Completed, s.NoShow, s.Cancelled, s.IsStable,
	).Scan(&s.CreatedAt)
}

// LatestRevision returns 0 when no snapshot exists for the (provider, date).
func (r *repoPG) LatestRevision(ctx context.Context, providerID uuid.UUID, date time.Time) (int, error) {
	var rev int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(MAX(revision), 0) FROM queue_metrics_snapshot
		WHERE provider_id = $1 AND metric_date = $2::date`,
		providerID, date).Scan(&rev)
	return rev, err
}

func (r *repoPG) ListForProviderDate(ctx context.Context, providerID uuid.UUID, date time.Time) ([]*Snapshot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+snapCols+` FROM queue_metrics_snapshot
		WHERE provider_id = $1 AND metric_date = $2::date
		ORDER BY revision ASC`,
		providerID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Snapshot
	for rows.Next() {
		s, err := scanSnap(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}
