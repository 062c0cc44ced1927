package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinq/clinq/internal/platform/cache"
	"github.com/clinq/clinq/internal/platform/db"
	"github.com/clinq/clinq/internal/platform/telemetry"
)

// HistorySource supplies the appointment history the estimator derives
// rates from. Satisfied by the appointment repository.
type HistorySource interface {
	CompletedStats(ctx context.Context, providerID uuid.UUID, since time.Time) (count int, activeHours float64, err error)
	CountArrivals(ctx context.Context, providerID uuid.UUID, day time.Time) (int, error)
}

// RateEstimate is a rate in events/hour plus where it came from. Defaulted
// is set when history was too thin and the configured default was used --
// that is an expected condition for new providers, not an error.
type RateEstimate struct {
	Rate       float64 `json:"rate"`
	Defaulted  bool    `json:"defaulted"`
	SampleSize int     `json:"sample_size"`
}

// EstimatorConfig carries the estimator's tuning knobs from config.
type EstimatorConfig struct {
	DefaultServiceRate float64
	MinSampleSize      int
	WindowDays         int
	OperatingHours     float64
	ServiceRateTTL     time.Duration
	ArrivalRateTTL     time.Duration
}

// Estimator derives per-provider service and arrival rates from trailing
// appointment history, caching each estimate under its own TTL.
type Estimator struct {
	source HistorySource
	store  cache.Store
	tel    *telemetry.Provider
	cfg    EstimatorConfig
}

func NewEstimator(source HistorySource, store cache.Store, tel *telemetry.Provider, cfg EstimatorConfig) *Estimator {
	return &Estimator{source: source, store: store, tel: tel, cfg: cfg}
}

// ServiceRate estimates mu: completed visits over the trailing window
// divided by the provider's active hours in that window. Providers with
// fewer than MinSampleSize completed visits get the configured default.
func (e *Estimator) ServiceRate(ctx context.Context, providerID uuid.UUID) (RateEstimate, error) {
	key := cache.ServiceRateKey(db.TenantFromContext(ctx), providerID.String())
	if est, ok := e.cached(ctx, key, "mu"); ok {
		return est, nil
	}

	since := time.Now().UTC().AddDate(0, 0, -e.cfg.WindowDays)
	count, activeHours, err := e.source.CompletedStats(ctx, providerID, since)
	if err != nil {
		return RateEstimate{}, fmt.Errorf("completed stats for provider %s: %w", providerID, err)
	}

	est := RateEstimate{SampleSize: count}
	if count < e.cfg.MinSampleSize || activeHours <= 0 {
		est.Rate = e.cfg.DefaultServiceRate
		est.Defaulted = true
	} else {
		est.Rate = float64(count) / activeHours
	}

	e.put(ctx, key, est, e.cfg.ServiceRateTTL)
	return est, nil
}

// ArrivalRate estimates lambda for one day: non-cancelled appointments
// divided by the configured operating hours. A thin day is real demand,
// not missing history, so no default applies here.
func (e *Estimator) ArrivalRate(ctx context.Context, providerID uuid.UUID, day time.Time) (RateEstimate, error) {
	key := cache.ArrivalRateKey(db.TenantFromContext(ctx), providerID.String(), day.Format("2006-01-02"))
	if est, ok := e.cached(ctx, key, "lambda"); ok {
		return est, nil
	}

	arrivals, err := e.source.CountArrivals(ctx, providerID, day)
	if err != nil {
		return RateEstimate{}, fmt.Errorf("count arrivals for provider %s: %w", providerID, err)
	}

	est := RateEstimate{
		Rate:       float64(arrivals) / e.cfg.OperatingHours,
		SampleSize: arrivals,
	}

	e.put(ctx, key, est, e.cfg.ArrivalRateTTL)
	return est, nil
}

// AvgServiceMinutes is the mean per-patient service time implied by the
// service rate, used by the saturated-queue heuristic.
func (e *Estimator) AvgServiceMinutes(ctx context.Context, providerID uuid.UUID) (float64, error) {
	est, err := e.ServiceRate(ctx, providerID)
	if err != nil {
		return 0, err
	}
	if est.Rate <= 0 {
		return 60 / e.cfg.DefaultServiceRate, nil
	}
	return 60 / est.Rate, nil
}

func (e *Estimator) cached(ctx context.Context, key, category string) (RateEstimate, bool) {
	data, ok := e.store.Get(ctx, key)
	if !ok {
		if e.tel != nil {
			e.tel.CacheMiss(category)
		}
		return RateEstimate{}, false
	}
	var est RateEstimate
	if err := json.Unmarshal(data, &est); err != nil {
		return RateEstimate{}, false
	}
	if e.tel != nil {
		e.tel.CacheHit(category)
	}
	return est, true
}

func (e *Estimator) put(ctx context.Context, key string, est RateEstimate, ttl time.Duration) {
	data, err := json.Marshal(est)
	if err != nil {
		return
	}
	e.store.Set(ctx, key, data, ttl)
}
