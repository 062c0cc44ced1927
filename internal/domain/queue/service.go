package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinq/clinq/internal/platform/cache"
	"github.com/clinq/clinq/internal/platform/db"
	"github.com/clinq/clinq/internal/platform/telemetry"
)

// AppointmentInfo is the slice of an appointment the queue engine needs.
type AppointmentInfo struct {
	ID          uuid.UUID
	ProviderID  uuid.UUID
	Day         time.Time
	Token       *int
	Active      bool // still occupies a place in the queue
	CheckedInAt *time.Time
}

// StatsSource supplies live queue counts. Satisfied by an adapter over the
// appointment repository.
type StatsSource interface {
	QueueInfo(ctx context.Context, appointmentID uuid.UUID) (*AppointmentInfo, error)
	CountActiveAhead(ctx context.Context, providerID uuid.UUID, day time.Time, token int) (int, error)
	CountWaiting(ctx context.Context, providerID uuid.UUID, day time.Time) (int, error)
	CurrentToken(ctx context.Context, providerID uuid.UUID, day time.Time) (int, error)
	NextWaitingToken(ctx context.Context, providerID uuid.UUID, day time.Time) (int, error)
}

// StatusView is the provider queue snapshot served to front desks.
type StatusView struct {
	ProviderID           uuid.UUID `json:"provider_id"`
	Date                 string    `json:"date"`
	CurrentToken         int       `json:"current_token"`
	NextToken            int       `json:"next_token"`
	PatientsWaiting      int       `json:"patients_waiting"`
	EstimatedWaitMinutes float64   `json:"estimated_wait_minutes"`
	Utilization          float64   `json:"utilization"`
	IsStable             bool      `json:"is_stable"`
	ComputedAt           time.Time `json:"computed_at"`
}

// WaitView is the per-appointment wait estimate.
type WaitView struct {
	AppointmentID        uuid.UUID `json:"appointment_id"`
	TokenNumber          *int      `json:"token_number,omitempty"`
	PatientsAhead        int       `json:"patients_ahead"`
	EstimatedWaitMinutes float64   `json:"estimated_wait_minutes"`
	IsStable             bool      `json:"is_stable"`
}

// PositionView is the queue position of one appointment.
type PositionView struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	TokenNumber   *int      `json:"token_number,omitempty"`
	Position      int       `json:"position"`
	PatientsAhead int       `json:"patients_ahead"`
	CurrentToken  int       `json:"current_token"`
}

// Service computes queue analytics, cache-first. All reads are advisory:
// the HTTP layer degrades to an unavailable payload rather than failing
// when storage is down.
type Service struct {
	stats     StatsSource
	est       *Estimator
	store     cache.Store
	tel       *telemetry.Provider
	logger    zerolog.Logger
	statusTTL time.Duration
}

func NewService(stats StatsSource, est *Estimator, store cache.Store, tel *telemetry.Provider, logger zerolog.Logger, statusTTL time.Duration) *Service {
	return &Service{stats: stats, est: est, store: store, tel: tel, logger: logger, statusTTL: statusTTL}
}

// Status returns the live queue view for a provider's current day.
func (s *Service) Status(ctx context.Context, providerID uuid.UUID) (*StatusView, error) {
	key := cache.StatusKey(db.TenantFromContext(ctx), providerID.String())
	if data, ok := s.store.Get(ctx, key); ok {
		var view StatusView
		if err := json.Unmarshal(data, &view); err == nil {
			if s.tel != nil {
				s.tel.CacheHit("status")
			}
			return &view, nil
		}
	}
	if s.tel != nil {
		s.tel.CacheMiss("status")
	}

	day := time.Now().UTC().Truncate(24 * time.Hour)
	view, err := s.computeStatus(ctx, providerID, day)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(view); err == nil {
		s.store.Set(ctx, key, data, s.statusTTL)
	}
	return view, nil
}

func (s *Service) computeStatus(ctx context.Context, providerID uuid.UUID, day time.Time) (*StatusView, error) {
	model, err := s.model(ctx, providerID, day)
	if err != nil {
		return nil, err
	}

	waiting, err := s.stats.CountWaiting(ctx, providerID, day)
	if err != nil {
		return nil, fmt.Errorf("count waiting: %w", err)
	}
	current, err := s.stats.CurrentToken(ctx, providerID, day)
	if err != nil {
		return nil, fmt.Errorf("current token: %w", err)
	}
	next, err := s.stats.NextWaitingToken(ctx, providerID, day)
	if err != nil {
		return nil, fmt.Errorf("next token: %w", err)
	}

	view := &StatusView{
		ProviderID:      providerID,
		Date:            day.Format("2006-01-02"),
		CurrentToken:    current,
		NextToken:       next,
		PatientsWaiting: waiting,
		Utilization:     model.Utilization(),
		IsStable:        model.Stable(),
		ComputedAt:      time.Now().UTC(),
	}

	if model.Stable() {
		view.EstimatedWaitMinutes = model.AvgWaitInQueue() * 60
	} else {
		avgMin, err := s.est.AvgServiceMinutes(ctx, providerID)
		if err != nil {
			return nil, err
		}
		view.EstimatedWaitMinutes = HeuristicWaitMinutes(avgMin, waiting)
	}

	return view, nil
}

// WaitEstimate estimates remaining wait for one appointment. Elapsed time
// since check-in is credited against the estimate, floored at zero.
func (s *Service) WaitEstimate(ctx context.Context, appointmentID uuid.UUID) (*WaitView, error) {
	info, err := s.stats.QueueInfo(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("appointment %s: %w", appointmentID, err)
	}

	key := cache.WaitKey(db.TenantFromContext(ctx), info.ProviderID.String(), appointmentID.String())
	if data, ok := s.store.Get(ctx, key); ok {
		var view WaitView
		if err := json.Unmarshal(data, &view); err == nil {
			if s.tel != nil {
				s.tel.CacheHit("wait")
			}
			return &view, nil
		}
	}
	if s.tel != nil {
		s.tel.CacheMiss("wait")
	}

	view := &WaitView{AppointmentID: appointmentID, TokenNumber: info.Token, IsStable: true}
	if info.Token == nil || !info.Active {
		return view, nil
	}

	ahead, err := s.stats.CountActiveAhead(ctx, info.ProviderID, info.Day, *info.Token)
	if err != nil {
		return nil, fmt.Errorf("count ahead: %w", err)
	}
	view.PatientsAhead = ahead

	model, err := s.model(ctx, info.ProviderID, info.Day)
	if err != nil {
		return nil, err
	}
	view.IsStable = model.Stable()

	var waitMin float64
	if model.Stable() {
		waitMin = model.AvgWaitInQueue() * 60
	} else {
		avgMin, err := s.est.AvgServiceMinutes(ctx, info.ProviderID)
		if err != nil {
			return nil, err
		}
		waitMin = HeuristicWaitMinutes(avgMin, ahead)
	}

	if info.CheckedInAt != nil {
		waitMin -= time.Since(*info.CheckedInAt).Minutes()
	}
	if waitMin < 0 {
		waitMin = 0
	}
	view.EstimatedWaitMinutes = waitMin

	if data, err := json.Marshal(view); err == nil {
		s.store.Set(ctx, key, data, s.statusTTL)
	}
	return view, nil
}

// Position reports where an appointment sits in its provider's queue:
// position N means N-1 active appointments hold a smaller token.
func (s *Service) Position(ctx context.Context, appointmentID uuid.UUID) (*PositionView, error) {
	info, err := s.stats.QueueInfo(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("appointment %s: %w", appointmentID, err)
	}

	view := &PositionView{AppointmentID: appointmentID, TokenNumber: info.Token}
	current, err := s.stats.CurrentToken(ctx, info.ProviderID, info.Day)
	if err != nil {
		return nil, fmt.Errorf("current token: %w", err)
	}
	view.CurrentToken = current

	if info.Token == nil || !info.Active {
		return view, nil
	}

	ahead, err := s.stats.CountActiveAhead(ctx, info.ProviderID, info.Day, *info.Token)
	if err != nil {
		return nil, fmt.Errorf("count ahead: %w", err)
	}
	view.PatientsAhead = ahead
	view.Position = ahead + 1
	return view, nil
}

func (s *Service) model(ctx context.Context, providerID uuid.UUID, day time.Time) (Model, error) {
	mu, err := s.est.ServiceRate(ctx, providerID)
	if err != nil {
		return Model{}, err
	}
	lambda, err := s.est.ArrivalRate(ctx, providerID, day)
	if err != nil {
		return Model{}, err
	}
	return Model{Lambda: lambda.Rate, Mu: mu.Rate}, nil
}
