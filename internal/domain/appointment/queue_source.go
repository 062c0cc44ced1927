package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clinq/clinq/internal/domain/queue"
)

// QueueSource adapts the appointment repository to the queue engine's
// StatsSource.
type QueueSource struct {
	repo Repository
}

func NewQueueSource(repo Repository) *QueueSource {
	return &QueueSource{repo: repo}
}

func (s *QueueSource) QueueInfo(ctx context.Context, appointmentID uuid.UUID) (*queue.AppointmentInfo, error) {
	a, err := s.repo.GetByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %s", queue.ErrStorageUnavailable, err)
	}
	return &queue.AppointmentInfo{
		ID:          a.ID,
		ProviderID:  a.ProviderID,
		Day:         a.Day(),
		Token:       a.TokenNumber,
		Active:      a.Status.IsActiveForQueue(),
		CheckedInAt: a.CheckedInAt,
	}, nil
}

func (s *QueueSource) CountActiveAhead(ctx context.Context, providerID uuid.UUID, day time.Time, token int) (int, error) {
	return s.repo.CountActiveAhead(ctx, providerID, day, token)
}

func (s *QueueSource) CountWaiting(ctx context.Context, providerID uuid.UUID, day time.Time) (int, error) {
	return s.repo.CountWaiting(ctx, providerID, day)
}

func (s *QueueSource) CurrentToken(ctx context.Context, providerID uuid.UUID, day time.Time) (int, error) {
	return s.repo.CurrentToken(ctx, providerID, day)
}

func (s *QueueSource) NextWaitingToken(ctx context.Context, providerID uuid.UUID, day time.Time) (int, error) {
	return s.repo.NextWaitingToken(ctx, providerID, day)
}
