package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the append-only snapshot store.
type Repository interface {
	Insert(ctx context.Context, s *Snapshot) error
	LatestRevision(ctx context.Context, providerID uuid.UUID, date time.Time) (int, error)
	ListForProviderDate(ctx context.Context, providerID uuid.UUID, date time.Time) ([]*Snapshot, error)
}
