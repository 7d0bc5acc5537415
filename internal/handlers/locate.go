package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dogwalking/geoloc-service/internal/domain"
	"github.com/dogwalking/geoloc-service/internal/inference"
	"github.com/dogwalking/geoloc-service/internal/metrics"
)

type locateGNSS struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Bearing   *float64 `json:"bearing,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
}

type locateWifi struct {
	MAC  string   `json:"mac"`
	RSSI *float64 `json:"rssi,omitempty"`
}

// Strength field names differ by family, the same way
// internal/aggregation/ingest_shape.go's wireGSM/wireWCDMA/wireLTE/
// wireNR decode them: rxlev (GSM), rscp (WCDMA), rsrp (LTE), ss_rsrp
// (NR).
type locateGSM struct {
	MCC   int      `json:"mcc"`
	MNC   int      `json:"mnc"`
	LAC   int      `json:"lac"`
	CI    int      `json:"ci"`
	RxLev *float64 `json:"rxlev,omitempty"`
}

type locateWCDMA struct {
	MCC  int      `json:"mcc"`
	MNC  int      `json:"mnc"`
	LAC  int      `json:"lac"`
	CI   int      `json:"ci"`
	PSC  *int     `json:"psc,omitempty"`
	RSCP *float64 `json:"rscp,omitempty"`
}

type locateLTE struct {
	MCC  int      `json:"mcc"`
	MNC  int      `json:"mnc"`
	TAC  int      `json:"tac"`
	ECI  int      `json:"eci"`
	PCI  *int     `json:"pci,omitempty"`
	RSRP *float64 `json:"rsrp,omitempty"`
}

type locateNR struct {
	MCC    int      `json:"mcc"`
	MNC    int      `json:"mnc"`
	TAC    int      `json:"tac"`
	NCI    int      `json:"nci"`
	SSBI   *int     `json:"ssbi,omitempty"`
	SSRSRP *float64 `json:"ss_rsrp,omitempty"`
}

type locateCellSet struct {
	GSM   []locateGSM   `json:"gsm,omitempty"`
	WCDMA []locateWCDMA `json:"wcdma,omitempty"`
	LTE   []locateLTE   `json:"lte,omitempty"`
	NR    []locateNR    `json:"nr,omitempty"`
}

type locateRequest struct {
	Timestamp int64          `json:"timestamp"`
	DeviceID  string         `json:"device_id"`
	GNSS      *locateGNSS    `json:"gnss,omitempty"`
	Wifi      []locateWifi   `json:"wifi,omitempty"`
	Bluetooth []locateWifi   `json:"bluetooth,omitempty"`
	Cell      *locateCellSet `json:"cell,omitempty"`
}

type locateResponse struct {
	Location struct {
		Longitude float64  `json:"longitude"`
		Latitude  float64  `json:"latitude"`
		Altitude  *float64 `json:"altitude,omitempty"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
}

// LocateHandler serves POST /api/v1/locate.
type LocateHandler struct {
	engine  *inference.Engine
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewLocateHandler(engine *inference.Engine, m *metrics.Metrics, logger *zap.Logger) *LocateHandler {
	return &LocateHandler{engine: engine, metrics: m, logger: logger}
}

func (h *LocateHandler) Handle(c *gin.Context) {
	start := time.Now()
	var req locateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.InferenceLatency.WithLabelValues("validation_error").Observe(time.Since(start).Seconds())
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	query, err := toInferenceQuery(req)
	if err != nil {
		h.metrics.InferenceLatency.WithLabelValues("validation_error").Observe(time.Since(start).Seconds())
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.engine.Locate(c.Request.Context(), query)
	outcome := "error"
	if err == nil {
		outcome = result.Outcome
	}
	h.metrics.InferenceLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		status := statusFor(err)
		if status == http.StatusNotFound {
			c.JSON(status, gin.H{"error": "no_coverage"})
			return
		}
		h.logger.Error("locate query failed", zap.Error(err), zap.String("request_id", RequestID(c)))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}

	var resp locateResponse
	resp.Location.Latitude = result.Latitude
	resp.Location.Longitude = result.Longitude
	resp.Location.Altitude = result.Altitude
	resp.Accuracy = result.Accuracy
	c.JSON(http.StatusOK, resp)
}

func toInferenceQuery(req locateRequest) (inference.Query, error) {
	var q inference.Query

	if req.GNSS != nil {
		q.GNSS = &inference.GNSSFix{
			Latitude:  req.GNSS.Latitude,
			Longitude: req.GNSS.Longitude,
			Altitude:  req.GNSS.Altitude,
			Accuracy:  req.GNSS.Accuracy,
		}
	}

	for _, w := range req.Wifi {
		mac, err := domain.NormalizeMAC(w.MAC)
		if err != nil {
			continue
		}
		q.Wifi = append(q.Wifi, inference.EmitterObservation{Key: mac, Strength: derefOr(w.RSSI, -100)})
	}
	for _, b := range req.Bluetooth {
		mac, err := domain.NormalizeMAC(b.MAC)
		if err != nil {
			continue
		}
		q.Bluetooth = append(q.Bluetooth, inference.EmitterObservation{Key: mac, Strength: derefOr(b.RSSI, -100)})
	}

	if req.Cell != nil {
		for _, g := range req.Cell.GSM {
			q.Cell = append(q.Cell, inference.CellObservation{
				Key:      domain.NewCellKey(domain.RadioGSM, g.MCC, g.MNC, g.LAC, g.CI, 0),
				Strength: derefOr(g.RxLev, -100),
			})
		}
		for _, w := range req.Cell.WCDMA {
			q.Cell = append(q.Cell, inference.CellObservation{
				Key:      domain.NewCellKey(domain.RadioWCDMA, w.MCC, w.MNC, w.LAC, w.CI, derefIntOr(w.PSC, 0)),
				Strength: derefOr(w.RSCP, -100),
			})
		}
		for _, l := range req.Cell.LTE {
			q.Cell = append(q.Cell, inference.CellObservation{
				Key:      domain.NewCellKey(domain.RadioLTE, l.MCC, l.MNC, l.TAC, l.ECI, derefIntOr(l.PCI, 0)),
				Strength: derefOr(l.RSRP, -100),
			})
		}
		for _, n := range req.Cell.NR {
			if n.TAC < 0 {
				continue
			}
			q.Cell = append(q.Cell, inference.CellObservation{
				Key:      domain.NewCellKey(domain.RadioNR, n.MCC, n.MNC, n.TAC, n.NCI, derefIntOr(n.SSBI, 0)),
				Strength: derefOr(n.SSRSRP, -100),
			})
		}
	}

	return q, nil
}

func derefOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func derefIntOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
