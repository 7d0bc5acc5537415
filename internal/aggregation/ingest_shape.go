// Package aggregation reserves a batch of raw reports, derives
// (emitter, observation) pairs from each, and folds them into the
// emitter store, all inside the transaction the report log reservation
// already opened.
package aggregation

import (
	"encoding/json"
	"fmt"

	"github.com/dogwalking/geoloc-service/internal/domain"
)

// wireReport is the canonical shape a raw report's bytes decode into.
type wireReport struct {
	Timestamp  int64        `json:"timestamp"`
	DeviceID   string       `json:"device_id"`
	GNSS       *wireGNSS    `json:"gnss"`
	Wifi       []wireWifi   `json:"wifi"`
	Bluetooth  []wireWifi   `json:"bluetooth,omitempty"` // same shape as wifi: mac + rssi
	Cell       *wireCellSet `json:"cell"`
}

type wireGNSS struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Bearing   *float64 `json:"bearing,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
}

type wireWifi struct {
	MAC       string   `json:"mac"`
	RSSI      *float64 `json:"rssi,omitempty"`
	SSID      string   `json:"ssid,omitempty"`
	Channel   *int     `json:"channel,omitempty"`
	Frequency *int     `json:"frequency,omitempty"`
	SNR       *float64 `json:"snr,omitempty"`
	Bandwidth *int     `json:"bandwidth,omitempty"`
	Age       *int     `json:"age,omitempty"`
}

type wireCellSet struct {
	GSM   []wireGSM   `json:"gsm,omitempty"`
	WCDMA []wireWCDMA `json:"wcdma,omitempty"`
	LTE   []wireLTE   `json:"lte,omitempty"`
	NR    []wireNR    `json:"nr,omitempty"`
}

type wireGSM struct {
	MCC   int      `json:"mcc"`
	MNC   int      `json:"mnc"`
	LAC   int      `json:"lac"`
	CI    int      `json:"ci"`
	RxLev *float64 `json:"rxlev,omitempty"`
}

type wireWCDMA struct {
	MCC  int      `json:"mcc"`
	MNC  int      `json:"mnc"`
	LAC  int      `json:"lac"`
	CI   int      `json:"ci"`
	PSC  *int     `json:"psc,omitempty"`
	RSCP *float64 `json:"rscp,omitempty"`
}

type wireLTE struct {
	MCC  int      `json:"mcc"`
	MNC  int      `json:"mnc"`
	TAC  int      `json:"tac"`
	ECI  int      `json:"eci"`
	PCI  *int     `json:"pci,omitempty"`
	RSRP *float64 `json:"rsrp,omitempty"`
}

type wireNR struct {
	MCC    int      `json:"mcc"`
	MNC    int      `json:"mnc"`
	TAC    int      `json:"tac"`
	NCI    int      `json:"nci"`
	SSBI   *int     `json:"ssbi,omitempty"`
	ARFCN  *int     `json:"arfcn,omitempty"`
	ARCFN  *int     `json:"arcfn,omitempty"` // accepted alias for arfcn
	SSRSRP *float64 `json:"ss_rsrp,omitempty"`
}

// legacyWireReport is the /v2/geosubmit shape: same information, a
// handful of renamed fields.
type legacyWireReport struct {
	Time      int64        `json:"time"`
	ID        string       `json:"uuid"`
	Pos       *wireGNSS    `json:"position"`
	Wifi      []wireWifi   `json:"wifiAccessPoints"`
	Bluetooth []wireWifi   `json:"bluetoothBeacons,omitempty"`
	Cell      *wireCellSet `json:"cellTowers"`
}

// decodeReport parses a raw report's bytes, trying the canonical shape
// first and falling back to the legacy /v2/geosubmit shape by mapping
// its fields onto the canonical one.
func decodeReport(raw []byte) (*wireReport, error) {
	var canonical wireReport
	if err := json.Unmarshal(raw, &canonical); err == nil && (canonical.GNSS != nil || canonical.Timestamp != 0) {
		return &canonical, nil
	}

	var legacy legacyWireReport
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	return &wireReport{
		Timestamp: legacy.Time,
		DeviceID:  legacy.ID,
		GNSS:      legacy.Pos,
		Wifi:      legacy.Wifi,
		Bluetooth: legacy.Bluetooth,
		Cell:      legacy.Cell,
	}, nil
}

// cellKeysAndStrengths expands the four per-family cell arrays into a
// flat list of (domain.CellKey, strength) pairs, binding each
// family-fixed radio code and its secondary identifier (PSC/PCI/SSBI)
// into the key's unit field.
func (c *wireCellSet) cellKeysAndStrengths() []cellObservation {
	if c == nil {
		return nil
	}
	var out []cellObservation
	for _, g := range c.GSM {
		out = append(out, cellObservation{
			key:      domain.NewCellKey(domain.RadioGSM, g.MCC, g.MNC, g.LAC, g.CI, 0),
			strength: derefOr(g.RxLev, defaultStrength),
		})
	}
	for _, w := range c.WCDMA {
		out = append(out, cellObservation{
			key:      domain.NewCellKey(domain.RadioWCDMA, w.MCC, w.MNC, w.LAC, w.CI, derefIntOr(w.PSC, 0)),
			strength: derefOr(w.RSCP, defaultStrength),
		})
	}
	for _, l := range c.LTE {
		out = append(out, cellObservation{
			key:      domain.NewCellKey(domain.RadioLTE, l.MCC, l.MNC, l.TAC, l.ECI, derefIntOr(l.PCI, 0)),
			strength: derefOr(l.RSRP, defaultStrength),
		})
	}
	for _, n := range c.NR {
		tac := n.TAC
		if tac < 0 {
			continue // negative 24-bit TAC: drop this observation, not the whole report
		}
		arfcn := n.ARFCN
		if arfcn == nil {
			arfcn = n.ARCFN
		}
		_ = arfcn // carried for completeness; not part of the emitter key
		out = append(out, cellObservation{
			key:      domain.NewCellKey(domain.RadioNR, n.MCC, n.MNC, tac, n.NCI, derefIntOr(n.SSBI, 0)),
			strength: derefOr(n.SSRSRP, defaultStrength),
		})
	}
	return out
}

type cellObservation struct {
	key      domain.CellKey
	strength float64
}

// defaultStrength is used when a report's emitter entry omits its
// strength field.
const defaultStrength = -100.0

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
