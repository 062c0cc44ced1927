package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// lockNotAvailable is the SQLSTATE raised when lock_timeout expires.
const lockNotAvailable = "55P03"

// Sequencer hands out appointment tokens. Each (provider, day) partition --
// the tenant is already fixed by the connection's schema -- has one row in
// token_sequence; the upsert takes that row's lock, so concurrent bookings
// for the same provider and day serialize while other partitions proceed
// untouched. Tokens are contiguous from 1 and strictly increasing in
// assignment order.
type Sequencer struct {
	lockTimeout time.Duration
}

func NewSequencer(lockTimeout time.Duration) *Sequencer {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &Sequencer{lockTimeout: lockTimeout}
}

// NextToken reserves the next token inside the caller's transaction. If the
// transaction rolls back, the increment rolls back with it, keeping tokens
// contiguous.
func (s *Sequencer) NextToken(ctx context.Context, tx pgx.Tx, providerID uuid.UUID, day time.Time) (int, error) {
	// SET LOCAL scopes the timeout to this transaction only.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return 0, fmt.Errorf("set lock_timeout: %w", classify(err))
	}

	var token int
	err := tx.QueryRow(ctx, `
		INSERT INTO token_sequence (provider_id, token_date, next_token)
		VALUES ($1, $2::date, 1)
		ON CONFLICT (provider_id, token_date)
		DO UPDATE SET next_token = token_sequence.next_token + 1
		RETURNING next_token`,
		providerID, day).Scan(&token)
	if err != nil {
		return 0, fmt.Errorf("reserve token for provider %s on %s: %w",
			providerID, day.Format("2006-01-02"), classify(err))
	}
	return token, nil
}

// classify maps storage errors to the engine's taxonomy.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable {
		return fmt.Errorf("%w: %s", ErrPartitionLockTimeout, pgErr.Message)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrPartitionLockTimeout, err)
	}
	return fmt.Errorf("%w: %s", ErrStorageUnavailable, err)
}
