package cache

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryStoreGetSet(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if _, ok := s.Get(ctx, "missing"); ok {
		t.Fatal("expected miss for unknown key")
	}

	s.Set(ctx, "k", []byte("v"), time.Minute)
	got, ok := s.Get(ctx, "k")
	if !ok || string(got) != "v" {
		t.Fatalf("Get = (%q, %v), want (v, true)", got, ok)
	}
}

func TestInMemoryStoreExpiry(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	s.Set(ctx, "k", []byte("v"), 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if _, ok := s.Get(ctx, "k"); ok {
		t.Fatal("expected expired entry to miss")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after lazy expiry, want 0", s.Len())
	}
}

func TestInMemoryStoreRejectsNonPositiveTTL(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	s.Set(ctx, "zero", []byte("v"), 0)
	s.Set(ctx, "negative", []byte("v"), -time.Second)

	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0: non-positive TTLs must be rejected", s.Len())
	}
}

func TestInMemoryStoreDelete(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	s.Set(ctx, "k", []byte("v"), time.Minute)
	s.Delete(ctx, "k")
	if _, ok := s.Get(ctx, "k"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestInvalidateScopedToPrefix(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	// Two providers in tenant t1 plus the same provider ID in tenant t2.
	keep := []string{
		StatusKey("t1", "prov-b"),
		WaitKey("t1", "prov-b", "appt-1"),
		StatusKey("t2", "prov-a"),
		ServiceRateKey("t1", "prov-a"), // rates are a separate prefix
	}
	evict := []string{
		StatusKey("t1", "prov-a"),
		WaitKey("t1", "prov-a", "appt-2"),
		WaitKey("t1", "prov-a", "appt-3"),
	}
	for _, k := range append(append([]string{}, keep...), evict...) {
		s.Set(ctx, k, []byte("{}"), time.Minute)
	}

	removed := s.Invalidate(ctx, QueuePrefix("t1", "prov-a"))
	if removed != len(evict) {
		t.Errorf("Invalidate removed %d entries, want %d", removed, len(evict))
	}
	for _, k := range evict {
		if _, ok := s.Get(ctx, k); ok {
			t.Errorf("key %q survived invalidation", k)
		}
	}
	for _, k := range keep {
		if _, ok := s.Get(ctx, k); !ok {
			t.Errorf("key %q was evicted outside its prefix", k)
		}
	}
}

func TestKeyBuildersTenantFirst(t *testing.T) {
	// Every key must start with the tenant so prefix invalidation can never
	// cross tenants.
	keys := []string{
		StatusKey("acme", "p"),
		WaitKey("acme", "p", "a"),
		ServiceRateKey("acme", "p"),
		ArrivalRateKey("acme", "p", "2026-08-30"),
		QueuePrefix("acme", "p"),
		RatesPrefix("acme", "p"),
	}
	for _, k := range keys {
		if len(k) < 5 || k[:5] != "acme:" {
			t.Errorf("key %q does not start with tenant prefix", k)
		}
	}
}

func TestStartCleanup(t *testing.T) {
	s := NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Set(ctx, "short", []byte("v"), 5*time.Millisecond)
	s.Set(ctx, "long", []byte("v"), time.Minute)

	s.StartCleanup(ctx, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	if s.Len() != 1 {
		t.Errorf("Len = %d after cleanup, want 1", s.Len())
	}
}
