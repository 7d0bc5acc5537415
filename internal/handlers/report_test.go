package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dogwalking/geoloc-service/internal/metrics"
	"github.com/dogwalking/geoloc-service/internal/repository"
)

type fakeReportLog struct {
	appended int
}

func (f *fakeReportLog) Append(ctx context.Context, raw []byte, timestamp time.Time, truthLat, truthLon float64, userAgent string) (int64, error) {
	f.appended++
	return int64(f.appended), nil
}

func (f *fakeReportLog) WithReservation(ctx context.Context, batchSize int, fn func(ctx context.Context, res *repository.Reservation) error) (int, error) {
	return 0, nil
}

func (f *fakeReportLog) QueueDepth(ctx context.Context) (int64, error) {
	return 0, nil
}

func newReportTestRouter(log repository.ReportLog, legacy bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	h := NewReportHandler(log, metrics.New(), logger, legacy, NewOutcomeLog())
	r := gin.New()
	r.POST("/report", h.Handle)
	return r
}

func TestReportHandler_AcceptsWellFormedCanonicalItems(t *testing.T) {
	log := &fakeReportLog{}
	r := newReportTestRouter(log, false)
	body := `{"items":[{"timestamp":1700000000000,"device_id":"a","gnss":{"latitude":59.33,"longitude":18.07}}]}`
	req := httptest.NewRequest(http.MethodPost, "/report", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if log.appended != 1 {
		t.Fatalf("expected one appended report, got %d", log.appended)
	}
}

func TestReportHandler_RejectsItemMissingGNSS(t *testing.T) {
	log := &fakeReportLog{}
	r := newReportTestRouter(log, false)
	body := `{"items":[{"timestamp":1700000000000,"device_id":"a"}]}`
	req := httptest.NewRequest(http.MethodPost, "/report", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 with a per-item rejection, got %d", w.Code)
	}
	if log.appended != 0 {
		t.Fatalf("expected nothing appended for a gnss-less item, got %d", log.appended)
	}
}

func TestReportHandler_LegacyShapeMapsFields(t *testing.T) {
	log := &fakeReportLog{}
	r := newReportTestRouter(log, true)
	body := `{"items":[{"time":1700000000000,"uuid":"a","position":{"latitude":59.33,"longitude":18.07}}]}`
	req := httptest.NewRequest(http.MethodPost, "/report", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if log.appended != 1 {
		t.Fatalf("expected one appended legacy report, got %d", log.appended)
	}
}

func TestReportHandler_RecordsPerItemOutcomes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := &fakeReportLog{}
	outcomes := NewOutcomeLog()
	h := NewReportHandler(log, metrics.New(), zap.NewNop(), false, outcomes)
	r := gin.New()
	r.POST("/report", h.Handle)

	body := `{"items":[
		{"timestamp":1700000000000,"device_id":"good","gnss":{"latitude":59.33,"longitude":18.07}},
		{"timestamp":1700000000000,"device_id":"bad"}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/report", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	got := outcomes.recent()
	if len(got) != 2 {
		t.Fatalf("expected 2 recorded outcomes, got %d", len(got))
	}
	if !got[0].Accepted || got[0].ReportID == 0 {
		t.Fatalf("expected first item accepted with a report id, got %+v", got[0])
	}
	if got[1].Accepted || got[1].Reason == "" {
		t.Fatalf("expected second item rejected with a reason, got %+v", got[1])
	}
}

func TestReportHandler_RejectsMalformedEnvelope(t *testing.T) {
	log := &fakeReportLog{}
	r := newReportTestRouter(log, false)
	req := httptest.NewRequest(http.MethodPost, "/report", bytes.NewBufferString("not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
