package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func metricsRequest(h echo.HandlerFunc, target, providerID string) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if providerID != "" {
		c.SetParamNames("id")
		c.SetParamValues(providerID)
	}
	return rec, h(c)
}

func TestGetProviderMetrics(t *testing.T) {
	p := uuid.New()
	source := &mockDaySource{
		providers: []uuid.UUID{p},
		counts:    map[uuid.UUID]dailyCounts{p: {total: 10, completed: 8, noShow: 1, cancelled: 1}},
	}
	snaps := newMockSnapshotRepo()
	agg := newTestAggregator(source, snaps, &mockHistory{completed: 40, activeHours: 10, arrivals: 16})
	if err := agg.RunForProvider(context.Background(), p, testDate, false); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	h := NewHandler(snaps, agg)

	rec, err := metricsRequest(h.GetProviderMetrics, "/?date=2026-08-29", p.String())
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Date      string      `json:"date"`
		Snapshots []*Snapshot `json:"snapshots"`
		Latest    *Snapshot   `json:"latest"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Date != "2026-08-29" {
		t.Errorf("date = %s, want 2026-08-29", body.Date)
	}
	if len(body.Snapshots) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(body.Snapshots))
	}
	if body.Latest == nil || body.Latest.Revision != 1 {
		t.Errorf("latest = %+v, want revision 1", body.Latest)
	}
}

func TestGetProviderMetricsNotFound(t *testing.T) {
	snaps := newMockSnapshotRepo()
	h := NewHandler(snaps, nil)

	_, err := metricsRequest(h.GetProviderMetrics, "/?date=2026-08-29", uuid.NewString())
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("err = %v, want 404", err)
	}
}

func TestGetProviderMetricsBadDate(t *testing.T) {
	h := NewHandler(newMockSnapshotRepo(), nil)

	_, err := metricsRequest(h.GetProviderMetrics, "/?date=yesterday", uuid.NewString())
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400", err)
	}
}

func TestTriggerAggregation(t *testing.T) {
	p := uuid.New()
	source := &mockDaySource{
		providers: []uuid.UUID{p},
		counts:    map[uuid.UUID]dailyCounts{p: {total: 4, completed: 4}},
	}
	snaps := newMockSnapshotRepo()
	agg := newTestAggregator(source, snaps, &mockHistory{completed: 40, activeHours: 10, arrivals: 16})
	h := NewHandler(snaps, agg)

	rec, err := metricsRequest(h.TriggerAggregation, "/?date=2026-08-29", "")
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Written int  `json:"written"`
		Force   bool `json:"force"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Written != 1 {
		t.Errorf("written = %d, want 1", body.Written)
	}
	if body.Force {
		t.Error("force = true without force param")
	}
}
