package domain

import "time"

// Report is one submitted ground-truth observation: a GNSS fix paired
// with the radio environment observed at that instant. It is immutable
// after insertion except for the ProcessedAt/ProcessingError pair,
// which transition together from (nil, nil) to (ts, nil) on success or
// (ts, text) on permanent failure.
type Report struct {
	ID              int64
	SubmittedAt     time.Time // server receive time; the partitioning key
	Timestamp       time.Time // device-side measurement time
	Latitude        float64
	Longitude       float64
	UserAgent       string
	Raw             []byte // untouched request bytes, kept for replay
	ProcessedAt     *time.Time
	ProcessingError *string
}

// Unprocessed reports true if the report is still sitting in the work
// queue: reports with a null ProcessedAt are the work queue.
func (r *Report) Unprocessed() bool {
	return r.ProcessedAt == nil
}

// Observation is the transient, derived record the aggregation worker
// folds into the emitter store. It is never persisted.
type Observation struct {
	WifiKey      string // normalized MAC, empty if Kind != KindWifi
	BluetoothKey string // normalized MAC, empty if Kind != KindBluetooth
	CellKey      CellKey
	Kind         EmitterKind
	StrengthDBM  float64
	TruthLat     float64
	TruthLon     float64
}

// Key returns the kind-appropriate emitter key as an opaque string,
// useful for batching/deduplication and for cache/invalidation
// addressing regardless of kind.
func (o Observation) Key() string {
	switch o.Kind {
	case KindWifi:
		return o.WifiKey
	case KindBluetooth:
		return o.BluetoothKey
	case KindCell:
		return o.CellKey.String()
	default:
		return ""
	}
}
