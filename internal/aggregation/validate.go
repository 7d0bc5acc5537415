package aggregation

import (
	"fmt"
	"time"

	"github.com/dogwalking/geoloc-service/internal/domain"
)

// maxPastAge and maxFutureAge bound how stale or how far in the future a
// report's device-side timestamp may be.
const (
	maxPastAge   = 30 * 24 * time.Hour
	maxFutureAge = 24 * time.Hour
)

// validate checks the syntactic and range constraints on a decoded
// report, returning the first violation found. GNSS accuracy is
// checked against gnssMaxAccuracyM.
func validate(r *wireReport, gnssMaxAccuracyM float64, now time.Time) error {
	ts := time.UnixMilli(r.Timestamp)
	if ts.Before(now.Add(-maxPastAge)) || ts.After(now.Add(maxFutureAge)) {
		return fmt.Errorf("timestamp %s outside allowed window", ts.UTC().Format(time.RFC3339))
	}
	if r.GNSS == nil {
		return fmt.Errorf("missing gnss block")
	}
	if r.GNSS.Latitude < -90 || r.GNSS.Latitude > 90 {
		return fmt.Errorf("latitude %f out of range", r.GNSS.Latitude)
	}
	if r.GNSS.Longitude < -180 || r.GNSS.Longitude > 180 {
		return fmt.Errorf("longitude %f out of range", r.GNSS.Longitude)
	}
	if r.GNSS.Accuracy != nil && *r.GNSS.Accuracy > gnssMaxAccuracyM {
		return fmt.Errorf("gnss accuracy %.1fm exceeds threshold %.1fm", *r.GNSS.Accuracy, gnssMaxAccuracyM)
	}
	if len(r.Wifi) == 0 && len(r.Bluetooth) == 0 && (r.Cell == nil || len(r.Cell.cellKeysAndStrengths()) == 0) {
		return fmt.Errorf("no emitters present")
	}
	return nil
}

// deriveObservations normalizes MACs and cell keys into the three
// per-kind delta lists the emitter store expects. A syntactically
// invalid Wi-Fi MAC is skipped, not fatal to the report.
func deriveObservations(r *wireReport) (wifi, bluetooth, cell []domain.Delta) {
	truthLat, truthLon := r.GNSS.Latitude, r.GNSS.Longitude

	for _, w := range r.Wifi {
		mac, err := domain.NormalizeMAC(w.MAC)
		if err != nil {
			continue
		}
		wifi = append(wifi, domain.Delta{
			Key:      mac,
			TruthLat: truthLat,
			TruthLon: truthLon,
			Strength: derefOr(w.RSSI, defaultStrength),
		})
	}

	for _, b := range r.Bluetooth {
		mac, err := domain.NormalizeMAC(b.MAC)
		if err != nil {
			continue
		}
		bluetooth = append(bluetooth, domain.Delta{
			Key:      mac,
			TruthLat: truthLat,
			TruthLon: truthLon,
			Strength: derefOr(b.RSSI, defaultStrength),
		})
	}

	for _, co := range r.Cell.cellKeysAndStrengths() {
		cell = append(cell, domain.Delta{
			Key:         co.key.String(),
			CellKeyOnly: co.key,
			TruthLat:    truthLat,
			TruthLon:    truthLon,
			Strength:    co.strength,
		})
	}

	return wifi, bluetooth, cell
}
