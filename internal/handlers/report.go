package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dogwalking/geoloc-service/internal/metrics"
	"github.com/dogwalking/geoloc-service/internal/repository"
)

// reportEnvelope is an items array of opaque per-item JSON objects. The
// canonical per-item shape is decoded fully by the aggregation worker,
// not here; this handler only extracts enough to append durably and to
// reject obviously unusable items before they ever reach the queue.
type reportEnvelope struct {
	Items []json.RawMessage `json:"items"`
}

// shallowItem is the minimal subset this handler needs from a
// canonical item to call ReportLog.Append.
type shallowItem struct {
	Timestamp int64  `json:"timestamp"`
	DeviceID  string `json:"device_id"`
	GNSS      *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"gnss"`
}

// legacyShallowItem is the /v2/geosubmit equivalent.
type legacyShallowItem struct {
	Time int64  `json:"time"`
	UUID string `json:"uuid"`
	Pos  *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"position"`
}

type rejection struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

type reportResponse struct {
	Accepted int         `json:"accepted"`
	Rejected []rejection `json:"rejected,omitempty"`
}

// ReportHandler serves both POST /api/v1/report (canonical) and POST
// /v2/geosubmit (legacy field names), since both only need a shallow
// timestamp/gnss extraction at ingest time; the remaining semantic
// validation and legacy field mapping happens in the aggregation
// worker.
type ReportHandler struct {
	log      repository.ReportLog
	metrics  *metrics.Metrics
	logger   *zap.Logger
	legacy   bool
	outcomes *outcomeLog
}

func NewReportHandler(log repository.ReportLog, m *metrics.Metrics, logger *zap.Logger, legacy bool, outcomes *outcomeLog) *ReportHandler {
	return &ReportHandler{log: log, metrics: m, logger: logger, legacy: legacy, outcomes: outcomes}
}

func (h *ReportHandler) Handle(c *gin.Context) {
	endpoint := "report"
	if h.legacy {
		endpoint = "geosubmit"
	}

	var env reportEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		h.metrics.ReportsRejected.WithLabelValues("malformed_envelope").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	resp := reportResponse{}
	ctx := c.Request.Context()
	userAgent := c.Request.UserAgent()

	for i, raw := range env.Items {
		ts, lat, lon, deviceID, err := h.shallowParse(raw)
		if err != nil {
			resp.Rejected = append(resp.Rejected, rejection{Index: i, Reason: err.Error()})
			h.metrics.ReportsRejected.WithLabelValues("shallow_parse").Inc()
			h.outcomes.record(ingestOutcome{DeviceID: deviceID, Endpoint: endpoint, Accepted: false, Reason: err.Error(), At: time.Now().UTC()})
			continue
		}

		id, err := h.log.Append(ctx, raw, ts, lat, lon, userAgent)
		if err != nil {
			h.logger.Error("failed to append report", zap.Error(err), zap.String("request_id", RequestID(c)))
			c.JSON(statusFor(err), gin.H{"error": "storage unavailable"})
			return
		}
		resp.Accepted++
		h.metrics.ReportsIngested.WithLabelValues(endpoint).Inc()
		h.outcomes.record(ingestOutcome{ReportID: id, DeviceID: deviceID, Endpoint: endpoint, Accepted: true, At: time.Now().UTC()})
	}

	c.JSON(http.StatusAccepted, resp)
}

func (h *ReportHandler) shallowParse(raw json.RawMessage) (time.Time, float64, float64, string, error) {
	if h.legacy {
		var item legacyShallowItem
		if err := json.Unmarshal(raw, &item); err != nil || item.Pos == nil {
			return time.Time{}, 0, 0, "", errMissingGNSS
		}
		return time.UnixMilli(item.Time), item.Pos.Latitude, item.Pos.Longitude, item.UUID, nil
	}

	var item shallowItem
	if err := json.Unmarshal(raw, &item); err != nil || item.GNSS == nil {
		return time.Time{}, 0, 0, "", errMissingGNSS
	}
	return time.UnixMilli(item.Timestamp), item.GNSS.Latitude, item.GNSS.Longitude, item.DeviceID, nil
}

var errMissingGNSS = gnssRequiredError{}

type gnssRequiredError struct{}

func (gnssRequiredError) Error() string { return "item missing required gnss block" }
