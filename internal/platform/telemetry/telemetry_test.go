package telemetry

import (
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestCounters(t *testing.T) {
	p := NewProvider(Config{})

	p.TokenAssigned("prov-1")
	p.TokenAssigned("prov-1")
	p.TokenAssigned("prov-2")
	if got := p.GetCounter("queue.token.assignments", "prov-1"); got != 2 {
		t.Errorf("prov-1 assignments = %d, want 2", got)
	}
	if got := p.GetCounter("queue.token.assignments", "prov-2"); got != 1 {
		t.Errorf("prov-2 assignments = %d, want 1", got)
	}

	p.CacheHit("status")
	p.CacheMiss("status")
	p.CacheMiss("mu")
	if got := p.GetCounter("queue.cache.hits", "status"); got != 1 {
		t.Errorf("status hits = %d, want 1", got)
	}
	if got := p.GetCounter("queue.cache.misses", "mu"); got != 1 {
		t.Errorf("mu misses = %d, want 1", got)
	}

	p.AggregationRun("ok")
	p.AggregationRun("invariant_violation")
	if got := p.GetCounter("queue.aggregation.runs", "ok"); got != 1 {
		t.Errorf("ok runs = %d, want 1", got)
	}
}

func TestCountersConcurrent(t *testing.T) {
	p := NewProvider(Config{})
	var wg sync.WaitGroup
	const n = 100
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			p.TokenAssigned("prov")
			p.LockTimeout()
		}()
	}
	wg.Wait()

	if got := p.GetCounter("queue.token.assignments", "prov"); got != n {
		t.Errorf("assignments = %d, want %d", got, n)
	}
	if got := p.GetCounter("queue.lock.timeouts", ""); got != n {
		t.Errorf("lock timeouts = %d, want %d", got, n)
	}
}

func TestGauges(t *testing.T) {
	p := NewProvider(Config{})
	p.SetDBPoolActive(7)
	p.SetDBPoolIdle(3)
	if got := p.GetGauge("db.pool.active_connections"); got != 7 {
		t.Errorf("active = %d, want 7", got)
	}
	p.SetDBPoolActive(2)
	if got := p.GetGauge("db.pool.active_connections"); got != 2 {
		t.Errorf("active after reset = %d, want 2", got)
	}
}

func TestHistogram(t *testing.T) {
	h := newHistogram([]float64{0.1, 1, 10})
	for _, v := range []float64{0.05, 0.5, 5, 50} {
		h.Observe(v)
	}

	if h.Count() != 4 {
		t.Errorf("Count = %d, want 4", h.Count())
	}
	if sum := h.Sum(); math.Abs(sum-55.55) > 1e-9 {
		t.Errorf("Sum = %g, want 55.55", sum)
	}
	cum := h.cumulativeBuckets()
	want := []int64{1, 2, 3}
	for i := range want {
		if cum[i] != want[i] {
			t.Errorf("cumulative bucket %d = %d, want %d", i, cum[i], want[i])
		}
	}
}

func TestMetricsMiddlewareObservesRequests(t *testing.T) {
	p := NewProvider(Config{})
	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
	}

	if got := p.GetGauge("http.server.active_requests"); got != 0 {
		t.Errorf("active_requests = %d after requests finished, want 0", got)
	}
	p.histMu.RLock()
	h := p.histograms["http.server.request.duration"]
	p.histMu.RUnlock()
	if h == nil || h.Count() != 3 {
		t.Fatalf("duration histogram count = %v, want 3", h)
	}
}

func TestPrometheusHandlerOutput(t *testing.T) {
	p := NewProvider(Config{})
	p.TokenAssigned("prov-1")
	p.CacheHit("status")
	p.CacheMiss("lambda")
	p.AggregationRun("skipped")
	p.LockTimeout()
	p.SetDBPoolActive(4)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := p.PrometheusHandler()(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	body := rec.Body.String()

	for _, want := range []string{
		`token_assignments_total{provider_id="prov-1"} 1`,
		`queue_cache_hits_total{category="status"} 1`,
		`queue_cache_misses_total{category="lambda"} 1`,
		`aggregation_runs_total{outcome="skipped"} 1`,
		"partition_lock_timeouts_total 1",
		"db_pool_active_connections 4",
		"# TYPE http_server_request_duration_seconds histogram",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q\n%s", want, body)
		}
	}
}
