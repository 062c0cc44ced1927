package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository is the storage surface for appointments. Mutations that must
// share a transaction with token assignment take the pgx.Tx explicitly;
// everything else picks up the tenant connection from context.
type Repository interface {
	CreateInTx(ctx context.Context, tx pgx.Tx, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateStatus(ctx context.Context, a *Appointment) error
	ListForProviderDay(ctx context.Context, providerID uuid.UUID, day time.Time, limit, offset int) ([]*Appointment, int, error)

	// Queue statistics, all scoped to one (provider, day) partition.
	CountActiveAhead(ctx context.Context, providerID uuid.UUID, day time.Time, token int) (int, error)
	CountWaiting(ctx context.Context, providerID uuid.UUID, day time.Time) (int, error)
	CurrentToken(ctx context.Context, providerID uuid.UUID, day time.Time) (int, error)
	NextWaitingToken(ctx context.Context, providerID uuid.UUID, day time.Time) (int, error)

	// Rate estimation inputs.
	CompletedStats(ctx context.Context, providerID uuid.UUID, since time.Time) (count int, activeHours float64, err error)
	CountArrivals(ctx context.Context, providerID uuid.UUID, day time.Time) (int, error)

	// Aggregation inputs.
	DailyCounts(ctx context.Context, providerID uuid.UUID, day time.Time) (total, completed, noShow, cancelled int, err error)
	ProvidersWithAppointments(ctx context.Context, day time.Time) ([]uuid.UUID, error)
}
