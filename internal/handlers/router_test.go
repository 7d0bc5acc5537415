package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/dogwalking/geoloc-service/internal/domain"
	"github.com/dogwalking/geoloc-service/internal/inference"
	"github.com/dogwalking/geoloc-service/internal/metrics"
)

func newTestRouter(requestsPerSecond float64) *routerDeps {
	logger := zap.NewNop()
	m := metrics.New()
	log := &fakeReportLog{}
	engine := inference.New(&noopEmitterGetter{}, &noopCoarseCells{}, m)
	outcomes := NewOutcomeLog()
	locate := NewLocateHandler(engine, m, logger)
	report := NewReportHandler(log, m, logger, false, outcomes)
	geosubmit := NewReportHandler(log, m, logger, true, outcomes)
	admin := NewAdminHandler(log, m, logger, outcomes)
	router := NewRouter(locate, report, geosubmit, admin, m, logger, "secret", requestsPerSecond)
	return &routerDeps{router: router}
}

type routerDeps struct {
	router http.Handler
}

func TestRouter_HealthIsUnauthenticated(t *testing.T) {
	deps := newTestRouter(1000)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	deps.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRouter_LocateRequiresAuth(t *testing.T) {
	deps := newTestRouter(1000)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/locate", nil)
	w := httptest.NewRecorder()
	deps.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRouter_GeosubmitIsUnauthenticated(t *testing.T) {
	deps := newTestRouter(1000)
	req := httptest.NewRequest(http.MethodPost, "/v2/geosubmit", nil)
	w := httptest.NewRecorder()
	deps.router.ServeHTTP(w, req)
	// No auth required: a malformed/empty body still reaches the
	// handler rather than being rejected by the auth middleware.
	if w.Code == http.StatusUnauthorized {
		t.Fatalf("expected geosubmit to skip auth, got 401")
	}
}

func TestRouter_RateLimitRejectsBurst(t *testing.T) {
	deps := newTestRouter(1) // 1 request/sec, burst of 1
	var lastCode int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		deps.router.ServeHTTP(w, req)
		lastCode = w.Code
	}
	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected the burst to eventually be rate limited, last code was %d", lastCode)
	}
}

func TestRouter_StampsRequestIDWhenCallerOmitsOne(t *testing.T) {
	deps := newTestRouter(1000)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	deps.router.ServeHTTP(w, req)
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a generated X-Request-ID header")
	}
}

func TestRouter_EchoesCallerSuppliedRequestID(t *testing.T) {
	deps := newTestRouter(1000)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "caller-id-123")
	w := httptest.NewRecorder()
	deps.router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "caller-id-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}

type noopEmitterGetter struct{}

func (noopEmitterGetter) GetMany(ctx context.Context, kind domain.EmitterKind, keys []string) (map[string]domain.EmitterAggregate, error) {
	return nil, nil
}

type noopCoarseCells struct{}

func (noopCoarseCells) Lookup(ctx context.Context, key domain.CellKey) (domain.CoarseCell, bool, error) {
	return domain.CoarseCell{}, false, nil
}
