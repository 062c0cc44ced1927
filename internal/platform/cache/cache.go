package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Store is the cache backend for derived queue values. Invalidation is
// always prefix-scoped: a status change for one provider must never evict
// another provider's (or tenant's) entries, so there is deliberately no
// Clear/flush-all operation on this interface.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Invalidate(ctx context.Context, prefix string) int
}

// Key builders. Every key starts with the tenant so prefix invalidation
// can never cross tenants.

// StatusKey is the cached queue-status view for a provider.
func StatusKey(tenantID, providerID string) string {
	return fmt.Sprintf("%s:queue:%s:status", tenantID, providerID)
}

// WaitKey is the cached wait estimate for one appointment.
func WaitKey(tenantID, providerID, appointmentID string) string {
	return fmt.Sprintf("%s:queue:%s:wait:%s", tenantID, providerID, appointmentID)
}

// ServiceRateKey is the cached trailing-window service rate for a provider.
func ServiceRateKey(tenantID, providerID string) string {
	return fmt.Sprintf("%s:rates:%s:mu", tenantID, providerID)
}

// ArrivalRateKey is the cached arrival rate for a provider on a given day.
func ArrivalRateKey(tenantID, providerID, date string) string {
	return fmt.Sprintf("%s:rates:%s:lambda:%s", tenantID, providerID, date)
}

// QueuePrefix covers every queue-derived entry for one provider: the status
// view and all per-appointment wait estimates.
func QueuePrefix(tenantID, providerID string) string {
	return fmt.Sprintf("%s:queue:%s:", tenantID, providerID)
}

// RatesPrefix covers the rate estimates for one provider.
func RatesPrefix(tenantID, providerID string) string {
	return fmt.Sprintf("%s:rates:%s:", tenantID, providerID)
}

// entry holds a cached value and its expiration time.
type entry struct {
	data      []byte
	expiresAt time.Time
}

// InMemoryStore is a thread-safe in-memory Store with lazy expiration.
type InMemoryStore struct {
	entries map[string]*entry
	mu      sync.RWMutex
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]*entry),
	}
}

// Get retrieves a value. Performs lazy expiration: deletes the entry and
// returns a miss if it has expired.
func (s *InMemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false
	}
	return e.data, true
}

// Set stores a value with the given TTL. Non-positive TTLs are rejected so
// a misconfigured category can't create immortal entries.
func (s *InMemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &entry{
		data:      value,
		expiresAt: time.Now().Add(ttl),
	}
}

// Delete removes a single entry.
func (s *InMemoryStore) Delete(_ context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Invalidate removes every entry whose key starts with prefix and returns
// the number removed.
func (s *InMemoryStore) Invalidate(_ context.Context, prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// StartCleanup runs a background goroutine that periodically removes expired
// entries. It stops when the context is cancelled.
func (s *InMemoryStore) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				now := time.Now()
				for k, e := range s.entries {
					if now.After(e.expiresAt) {
						delete(s.entries, k)
					}
				}
				s.mu.Unlock()
			}
		}
	}()
}

// Len reports the number of live (possibly expired but not yet collected)
// entries. Used by the pool gauge and in tests.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
