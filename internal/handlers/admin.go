package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/dogwalking/geoloc-service/internal/metrics"
	"github.com/dogwalking/geoloc-service/internal/repository"
)

// AdminHandler serves the /metrics/summary rollup: a JSON summary of
// queue depth and counters, plus the most recent per-item ingestion
// outcomes, distinct from the raw Prometheus exposition format at
// /metrics.
type AdminHandler struct {
	log      repository.ReportLog
	metrics  *metrics.Metrics
	logger   *zap.Logger
	outcomes *outcomeLog
}

func NewAdminHandler(log repository.ReportLog, m *metrics.Metrics, logger *zap.Logger, outcomes *outcomeLog) *AdminHandler {
	return &AdminHandler{log: log, metrics: m, logger: logger, outcomes: outcomes}
}

type summaryResponse struct {
	QueueDepth        int64              `json:"queue_depth"`
	WorkerBatches     float64            `json:"worker_batches_total"`
	ReportsIngested   map[string]float64 `json:"reports_ingested_total"`
	ReportsRejected   map[string]float64 `json:"reports_rejected_total"`
	InferenceOutcomes map[string]float64 `json:"inference_outcomes_total"`
	RecentIngestions  []ingestOutcome    `json:"recent_ingestion_outcomes"`
}

func (h *AdminHandler) Handle(c *gin.Context) {
	depth, err := h.log.QueueDepth(c.Request.Context())
	if err != nil {
		h.logger.Warn("queue depth lookup failed", zap.Error(err))
	}

	families, err := h.metrics.Registry.Gather()
	if err != nil {
		h.logger.Warn("metrics gather failed", zap.Error(err))
	}

	resp := summaryResponse{
		QueueDepth:        depth,
		ReportsIngested:   sumByLabel(families, "geoloc_reports_ingested_total", "endpoint"),
		ReportsRejected:   sumByLabel(families, "geoloc_reports_rejected_total", "reason"),
		InferenceOutcomes: sumByLabel(families, "geoloc_inference_outcomes_total", "outcome"),
		WorkerBatches:     sumCounter(families, "geoloc_worker_batches_total"),
		RecentIngestions:  h.outcomes.recent(),
	}
	c.JSON(http.StatusOK, resp)
}

func sumCounter(families []*dto.MetricFamily, name string) float64 {
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var total float64
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func sumByLabel(families []*dto.MetricFamily, name, label string) map[string]float64 {
	out := map[string]float64{}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			key := "unknown"
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label {
					key = lp.GetValue()
				}
			}
			out[key] += m.GetCounter().GetValue()
		}
	}
	return out
}
