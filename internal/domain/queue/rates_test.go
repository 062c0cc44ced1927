package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinq/clinq/internal/platform/cache"
)

type mockHistorySource struct {
	completedCount int
	activeHours    float64
	arrivals       int
	err            error

	completedCalls int
	arrivalCalls   int
}

func (m *mockHistorySource) CompletedStats(_ context.Context, _ uuid.UUID, _ time.Time) (int, float64, error) {
	m.completedCalls++
	return m.completedCount, m.activeHours, m.err
}

func (m *mockHistorySource) CountArrivals(_ context.Context, _ uuid.UUID, _ time.Time) (int, error) {
	m.arrivalCalls++
	return m.arrivals, m.err
}

func testEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		DefaultServiceRate: 4.0,
		MinSampleSize:      5,
		WindowDays:         7,
		OperatingHours:     8.0,
		ServiceRateTTL:     time.Hour,
		ArrivalRateTTL:     5 * time.Minute,
	}
}

func TestServiceRateComputed(t *testing.T) {
	src := &mockHistorySource{completedCount: 24, activeHours: 6}
	est := NewEstimator(src, cache.NewInMemoryStore(), nil, testEstimatorConfig())

	got, err := est.ServiceRate(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ServiceRate: %v", err)
	}
	if got.Rate != 4.0 {
		t.Errorf("Rate = %g, want 4", got.Rate)
	}
	if got.Defaulted {
		t.Error("Defaulted = true for a provider with enough history")
	}
	if got.SampleSize != 24 {
		t.Errorf("SampleSize = %d, want 24", got.SampleSize)
	}
}

func TestServiceRateDefaultsBelowMinSample(t *testing.T) {
	src := &mockHistorySource{completedCount: 3, activeHours: 10}
	est := NewEstimator(src, cache.NewInMemoryStore(), nil, testEstimatorConfig())

	got, err := est.ServiceRate(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ServiceRate: %v", err)
	}
	if got.Rate != 4.0 {
		t.Errorf("Rate = %g, want default 4", got.Rate)
	}
	if !got.Defaulted {
		t.Error("Defaulted = false, want true for thin history")
	}
	if got.SampleSize != 3 {
		t.Errorf("SampleSize = %d, want 3", got.SampleSize)
	}
}

func TestServiceRateDefaultsOnZeroActiveHours(t *testing.T) {
	// Enough completions but no measurable active time: the division is
	// undefined, so the default applies.
	src := &mockHistorySource{completedCount: 10, activeHours: 0}
	est := NewEstimator(src, cache.NewInMemoryStore(), nil, testEstimatorConfig())

	got, err := est.ServiceRate(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ServiceRate: %v", err)
	}
	if !got.Defaulted || got.Rate != 4.0 {
		t.Errorf("got %+v, want defaulted rate 4", got)
	}
}

func TestServiceRateCached(t *testing.T) {
	src := &mockHistorySource{completedCount: 24, activeHours: 6}
	est := NewEstimator(src, cache.NewInMemoryStore(), nil, testEstimatorConfig())
	provider := uuid.New()

	if _, err := est.ServiceRate(context.Background(), provider); err != nil {
		t.Fatalf("ServiceRate: %v", err)
	}
	// Second call must come from cache, not history.
	src.completedCount = 999
	got, err := est.ServiceRate(context.Background(), provider)
	if err != nil {
		t.Fatalf("ServiceRate: %v", err)
	}
	if got.Rate != 4.0 {
		t.Errorf("Rate = %g, want cached 4", got.Rate)
	}
	if src.completedCalls != 1 {
		t.Errorf("history queried %d times, want 1", src.completedCalls)
	}
}

func TestArrivalRateNoDefault(t *testing.T) {
	// One booking on a slow day is real demand, not missing history: the
	// estimator must report it as-is rather than substituting a default.
	src := &mockHistorySource{arrivals: 1}
	est := NewEstimator(src, cache.NewInMemoryStore(), nil, testEstimatorConfig())

	got, err := est.ArrivalRate(context.Background(), uuid.New(), time.Now().UTC())
	if err != nil {
		t.Fatalf("ArrivalRate: %v", err)
	}
	if got.Rate != 0.125 {
		t.Errorf("Rate = %g, want 0.125", got.Rate)
	}
	if got.Defaulted {
		t.Error("arrival rate must never be defaulted")
	}
}

func TestArrivalRateComputed(t *testing.T) {
	src := &mockHistorySource{arrivals: 16}
	est := NewEstimator(src, cache.NewInMemoryStore(), nil, testEstimatorConfig())

	got, err := est.ArrivalRate(context.Background(), uuid.New(), time.Now().UTC())
	if err != nil {
		t.Fatalf("ArrivalRate: %v", err)
	}
	if got.Rate != 2.0 {
		t.Errorf("Rate = %g, want 2", got.Rate)
	}
	if got.SampleSize != 16 {
		t.Errorf("SampleSize = %d, want 16", got.SampleSize)
	}
}

func TestArrivalRateCachedPerDay(t *testing.T) {
	src := &mockHistorySource{arrivals: 16}
	est := NewEstimator(src, cache.NewInMemoryStore(), nil, testEstimatorConfig())
	provider := uuid.New()
	today := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	if _, err := est.ArrivalRate(context.Background(), provider, today); err != nil {
		t.Fatalf("ArrivalRate: %v", err)
	}
	if _, err := est.ArrivalRate(context.Background(), provider, today); err != nil {
		t.Fatalf("ArrivalRate: %v", err)
	}
	if src.arrivalCalls != 1 {
		t.Errorf("history queried %d times for same day, want 1", src.arrivalCalls)
	}

	// A different day is a different cache entry.
	if _, err := est.ArrivalRate(context.Background(), provider, today.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("ArrivalRate: %v", err)
	}
	if src.arrivalCalls != 2 {
		t.Errorf("history queried %d times across two days, want 2", src.arrivalCalls)
	}
}

func TestEstimatorPropagatesSourceErrors(t *testing.T) {
	src := &mockHistorySource{err: fmt.Errorf("connection refused")}
	est := NewEstimator(src, cache.NewInMemoryStore(), nil, testEstimatorConfig())

	if _, err := est.ServiceRate(context.Background(), uuid.New()); err == nil {
		t.Error("ServiceRate: expected error")
	}
	if _, err := est.ArrivalRate(context.Background(), uuid.New(), time.Now()); err == nil {
		t.Error("ArrivalRate: expected error")
	}
}

func TestAvgServiceMinutes(t *testing.T) {
	src := &mockHistorySource{completedCount: 24, activeHours: 6}
	est := NewEstimator(src, cache.NewInMemoryStore(), nil, testEstimatorConfig())

	got, err := est.AvgServiceMinutes(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("AvgServiceMinutes: %v", err)
	}
	if got != 15.0 {
		t.Errorf("AvgServiceMinutes = %g, want 15", got)
	}
}
