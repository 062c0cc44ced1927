package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// tokenTable mimics the token_sequence upsert: one counter per
// (provider, day) partition, incremented under a lock.
type tokenTable struct {
	mu   sync.Mutex
	rows map[string]int
}

func newTokenTable() *tokenTable {
	return &tokenTable{rows: make(map[string]int)}
}

func (t *tokenTable) next(providerID uuid.UUID, day time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := providerID.String() + "|" + day.Format("2006-01-02")
	t.rows[key]++
	return t.rows[key]
}

// fakeTx implements pgx.Tx over the in-memory token table. Only Exec and
// QueryRow are exercised by the sequencer.
type fakeTx struct {
	table   *tokenTable
	execErr error
	rowErr  error
}

func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if f.rowErr != nil {
		return &fakeRow{err: f.rowErr}
	}
	providerID := args[0].(uuid.UUID)
	day := args[1].(time.Time)
	return &fakeRow{token: f.table.next(providerID, day)}
}

func (f *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return f, nil }
func (f *fakeTx) Commit(ctx context.Context) error          { return nil }
func (f *fakeTx) Rollback(ctx context.Context) error        { return nil }
func (f *fakeTx) CopyFrom(ctx context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}
func (f *fakeTx) SendBatch(ctx context.Context, _ *pgx.Batch) pgx.BatchResults { return nil }
func (f *fakeTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (f *fakeTx) Prepare(ctx context.Context, _, _ string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeTx) Query(ctx context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeTx) Conn() *pgx.Conn { return nil }

type fakeRow struct {
	token int
	err   error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*int) = r.token
	return nil
}

func TestNextTokenSequence(t *testing.T) {
	table := newTokenTable()
	seq := NewSequencer(time.Second)
	provider := uuid.New()
	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	for want := 1; want <= 5; want++ {
		got, err := seq.NextToken(context.Background(), &fakeTx{table: table}, provider, day)
		if err != nil {
			t.Fatalf("NextToken: %v", err)
		}
		if got != want {
			t.Fatalf("token %d, want %d", got, want)
		}
	}
}

func TestNextTokenPartitionsIndependent(t *testing.T) {
	table := newTokenTable()
	seq := NewSequencer(time.Second)
	tx := &fakeTx{table: table}
	providerA := uuid.New()
	providerB := uuid.New()
	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	nextDay := day.AddDate(0, 0, 1)

	for i := 0; i < 3; i++ {
		if _, err := seq.NextToken(context.Background(), tx, providerA, day); err != nil {
			t.Fatalf("NextToken: %v", err)
		}
	}

	// A different provider, and the same provider on a different day, both
	// start fresh at 1.
	if got, _ := seq.NextToken(context.Background(), tx, providerB, day); got != 1 {
		t.Errorf("other provider first token = %d, want 1", got)
	}
	if got, _ := seq.NextToken(context.Background(), tx, providerA, nextDay); got != 1 {
		t.Errorf("next day first token = %d, want 1", got)
	}
}

func TestNextTokenConcurrentUniqueContiguous(t *testing.T) {
	table := newTokenTable()
	seq := NewSequencer(time.Second)
	provider := uuid.New()
	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	const n = 64
	tokens := make([]int, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			tok, err := seq.NextToken(context.Background(), &fakeTx{table: table}, provider, day)
			if err != nil {
				t.Errorf("NextToken: %v", err)
				return
			}
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	sort.Ints(tokens)
	for i, tok := range tokens {
		if tok != i+1 {
			t.Fatalf("tokens not unique and contiguous from 1: got %v", tokens)
		}
	}
}

func TestNextTokenLockTimeout(t *testing.T) {
	seq := NewSequencer(time.Second)
	tx := &fakeTx{rowErr: &pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"}}

	_, err := seq.NextToken(context.Background(), tx, uuid.New(), time.Now())
	if !errors.Is(err, ErrPartitionLockTimeout) {
		t.Fatalf("err = %v, want ErrPartitionLockTimeout", err)
	}
}

func TestNextTokenStorageError(t *testing.T) {
	seq := NewSequencer(time.Second)
	tx := &fakeTx{rowErr: fmt.Errorf("connection refused")}

	_, err := seq.NextToken(context.Background(), tx, uuid.New(), time.Now())
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("err = %v, want ErrStorageUnavailable", err)
	}
	if errors.Is(err, ErrPartitionLockTimeout) {
		t.Fatal("storage error misclassified as lock timeout")
	}
}

func TestNextTokenExecError(t *testing.T) {
	seq := NewSequencer(time.Second)
	tx := &fakeTx{execErr: fmt.Errorf("broken pipe")}

	_, err := seq.NextToken(context.Background(), tx, uuid.New(), time.Now())
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("err = %v, want ErrStorageUnavailable", err)
	}
}

func TestClassifyDeadlineExceeded(t *testing.T) {
	err := classify(fmt.Errorf("waiting: %w", context.DeadlineExceeded))
	if !errors.Is(err, ErrPartitionLockTimeout) {
		t.Fatalf("err = %v, want ErrPartitionLockTimeout", err)
	}
}
