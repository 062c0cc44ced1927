package appointment

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

const apptCols = `id, patient_id, provider_id, scheduled_at, status, token_number,
	checked_in_at, started_at, completed_at, created_at, updated_at`

func scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.ProviderID, &a.ScheduledAt, &a.Status, &a.TokenNumber,
		&a.CheckedInAt, &a.StartedAt, &a.CompletedAt, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *repoPG) CreateInTx(ctx context.Context, tx pgx.Tx, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return tx.QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, provider_id, scheduled_at, status, token_number)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.ProviderID, a.ScheduledAt, a.Status, a.TokenNumber,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *repoPG) UpdateStatus(ctx context.Context, a *Appointment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET status=$2, checked_in_at=$3, started_at=$4, completed_at=$5, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Status, a.CheckedInAt, a.StartedAt, a.CompletedAt)
	return err
}

func (r *repoPG) ListForProviderDay(ctx context.Context, providerID uuid.UUID, day time.Time, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointment WHERE provider_id = $1 AND scheduled_at::date = $2::date`,
		providerID, day).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+apptCols+` FROM appointment
		 WHERE provider_id = $1 AND scheduled_at::date = $2::date
		 ORDER BY token_number ASC NULLS LAST LIMIT $3 OFFSET $4`,
		providerID, day, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppt(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *repoPG) CountActiveAhead(ctx context.Context, providerID uuid.UUID, day time.Time, token int) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointment
		WHERE provider_id = $1 AND scheduled_at::date = $2::date
		  AND status IN ('scheduled','confirmed','in_progress')
		  AND token_number < $3`,
		providerID, day, token).Scan(&n)
	return n, err
}

func (r *repoPG) CountWaiting(ctx context.Context, providerID uuid.UUID, day time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointment
		WHERE provider_id = $1 AND scheduled_at::date = $2::date
		  AND status IN ('scheduled','confirmed')`,
		providerID, day).Scan(&n)
	return n, err
}

// CurrentToken is the token being served: the highest in_progress token,
// falling back to the highest completed token. Zero when the day has not
// started.
func (r *repoPG) CurrentToken(ctx context.Context, providerID uuid.UUID, day time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(
			(SELECT MAX(token_number) FROM appointment
			 WHERE provider_id = $1 AND scheduled_at::date = $2::date AND status = 'in_progress'),
			(SELECT MAX(token_number) FROM appointment
			 WHERE provider_id = $1 AND scheduled_at::date = $2::date AND status = 'completed'),
			0)`,
		providerID, day).Scan(&n)
	return n, err
}

func (r *repoPG) NextWaitingToken(ctx context.Context, providerID uuid.UUID, day time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(MIN(token_number), 0) FROM appointment
		WHERE provider_id = $1 AND scheduled_at::date = $2::date
		  AND status IN ('scheduled','confirmed')`,
		providerID, day).Scan(&n)
	return n, err
}

// CompletedStats returns the number of visits completed since the window
// start and the provider's active hours over that window (sum of
// started->completed durations).
func (r *repoPG) CompletedStats(ctx context.Context, providerID uuid.UUID, since time.Time) (int, float64, error) {
	var count int
	var seconds float64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(EXTRACT(EPOCH FROM (completed_at - started_at))), 0)
		FROM appointment
		WHERE provider_id = $1 AND status = 'completed'
		  AND completed_at >= $2 AND started_at IS NOT NULL`,
		providerID, since).Scan(&count, &seconds)
	return count, seconds / 3600.0, err
}

func (r *repoPG) CountArrivals(ctx context.Context, providerID uuid.UUID, day time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointment
		WHERE provider_id = $1 AND scheduled_at::date = $2::date
		  AND status <> 'cancelled'`,
		providerID, day).Scan(&n)
	return n, err
}

func (r *repoPG) DailyCounts(ctx context.Context, providerID uuid.UUID, day time.Time) (total, completed, noShow, cancelled int, err error) {
	err = r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'completed'),
		       COUNT(*) FILTER (WHERE status = 'no_show'),
		       COUNT(*) FILTER (WHERE status = 'cancelled')
		FROM appointment
		WHERE provider_id = $1 AND scheduled_at::date = $2::date`,
		providerID, day).Scan(&total, &completed, &noShow, &cancelled)
	return
}

func (r *repoPG) ProvidersWithAppointments(ctx context.Context, day time.Time) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT provider_id FROM appointment WHERE scheduled_at::date = $1::date`,
		day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
