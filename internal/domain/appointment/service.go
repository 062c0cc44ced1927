package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinq/clinq/internal/platform/cache"
	"github.com/clinq/clinq/internal/platform/db"
	"github.com/clinq/clinq/internal/platform/telemetry"
)

// TokenAssigner reserves the next queue token inside the booking
// transaction. Implemented by the queue sequencer.
type TokenAssigner interface {
	NextToken(ctx context.Context, tx pgx.Tx, providerID uuid.UUID, day time.Time) (int, error)
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service struct {
	repo   Repository
	tokens TokenAssigner
	pool   *pgxpool.Pool
	store  cache.Store
	tel    *telemetry.Provider
	logger zerolog.Logger
}

func NewService(repo Repository, tokens TokenAssigner, pool *pgxpool.Pool, store cache.Store, tel *telemetry.Provider, logger zerolog.Logger) *Service {
	return &Service{repo: repo, tokens: tokens, pool: pool, store: store, tel: tel, logger: logger}
}

func (s *Service) beginner(ctx context.Context) txBeginner {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

// Book creates the appointment and assigns its token in one transaction.
// If anything fails the whole booking rolls back -- there is never an
// appointment without a token, or a consumed token without an appointment.
func (s *Service) Book(ctx context.Context, a *Appointment) error {
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if a.ProviderID == uuid.Nil {
		return fmt.Errorf("provider_id is required")
	}
	if a.ScheduledAt.IsZero() {
		return fmt.Errorf("scheduled_at is required")
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	if !a.Status.Valid() {
		return fmt.Errorf("invalid appointment status: %s", a.Status)
	}
	if a.TokenNumber != nil {
		return fmt.Errorf("token_number is assigned by the engine")
	}

	tx, err := s.beginner(ctx).Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin booking transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	token, err := s.tokens.NextToken(ctx, tx, a.ProviderID, a.Day())
	if err != nil {
		return err
	}
	a.TokenNumber = &token

	if err := s.repo.CreateInTx(ctx, tx, a); err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit booking: %w", err)
	}

	if s.tel != nil {
		s.tel.TokenAssigned(a.ProviderID.String())
	}
	s.invalidateQueue(ctx, a.ProviderID)
	s.store.Delete(ctx, cache.ArrivalRateKey(db.TenantFromContext(ctx), a.ProviderID.String(), a.Day().Format("2006-01-02")))

	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("provider_id", a.ProviderID.String()).
		Int("token", token).
		Msg("appointment booked")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListForProviderDay(ctx context.Context, providerID uuid.UUID, day time.Time, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListForProviderDay(ctx, providerID, day, limit, offset)
}

// UpdateStatus applies one legal transition, stamping the lifecycle
// timestamp the new status implies, then drops the provider's cached queue
// views so the next read reflects it.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, next Status) (*Appointment, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("invalid appointment status: %s", next)
	}

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("illegal transition %s -> %s", a.Status, next)
	}

	now := time.Now().UTC()
	switch next {
	case StatusConfirmed:
		if a.CheckedInAt == nil {
			a.CheckedInAt = &now
		}
	case StatusInProgress:
		if a.StartedAt == nil {
			a.StartedAt = &now
		}
	case StatusCompleted:
		if a.CompletedAt == nil {
			a.CompletedAt = &now
		}
	}
	a.Status = next

	if err := s.repo.UpdateStatus(ctx, a); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	tenant := db.TenantFromContext(ctx)
	s.invalidateQueue(ctx, a.ProviderID)
	switch next {
	case StatusCancelled:
		// Cancellations change the day's demand.
		s.store.Delete(ctx, cache.ArrivalRateKey(tenant, a.ProviderID.String(), a.Day().Format("2006-01-02")))
	case StatusCompleted:
		// Completions feed the trailing service-rate window.
		s.store.Delete(ctx, cache.ServiceRateKey(tenant, a.ProviderID.String()))
	}

	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("status", string(next)).
		Msg("appointment status updated")
	return a, nil
}

// invalidateQueue evicts the provider's status view and every wait estimate
// under it. Scoped to the (tenant, provider) prefix only.
func (s *Service) invalidateQueue(ctx context.Context, providerID uuid.UUID) {
	prefix := cache.QueuePrefix(db.TenantFromContext(ctx), providerID.String())
	s.store.Invalidate(ctx, prefix)
}
