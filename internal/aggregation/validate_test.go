package aggregation

import (
	"testing"
	"time"
)

func sampleReport(now time.Time) *wireReport {
	return &wireReport{
		Timestamp: now.UnixMilli(),
		GNSS:      &wireGNSS{Latitude: 59.33, Longitude: 18.07},
		Wifi:      []wireWifi{{MAC: "50:ff:20:ec:90:d7"}},
	}
}

func TestValidate_AcceptsWellFormedReport(t *testing.T) {
	now := time.Now().UTC()
	if err := validate(sampleReport(now), 200, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_RejectsStaleTimestamp(t *testing.T) {
	now := time.Now().UTC()
	r := sampleReport(now)
	r.Timestamp = now.Add(-31 * 24 * time.Hour).UnixMilli()
	if err := validate(r, 200, now); err == nil {
		t.Fatal("expected error for a timestamp older than the allowed window")
	}
}

func TestValidate_RejectsFutureTimestamp(t *testing.T) {
	now := time.Now().UTC()
	r := sampleReport(now)
	r.Timestamp = now.Add(48 * time.Hour).UnixMilli()
	if err := validate(r, 200, now); err == nil {
		t.Fatal("expected error for a timestamp beyond the allowed future window")
	}
}

func TestValidate_RejectsMissingGNSS(t *testing.T) {
	now := time.Now().UTC()
	r := sampleReport(now)
	r.GNSS = nil
	if err := validate(r, 200, now); err == nil {
		t.Fatal("expected error for a missing gnss block")
	}
}

func TestValidate_RejectsOutOfRangeLatitude(t *testing.T) {
	now := time.Now().UTC()
	r := sampleReport(now)
	r.GNSS.Latitude = 91
	if err := validate(r, 200, now); err == nil {
		t.Fatal("expected error for out-of-range latitude")
	}
}

func TestValidate_RejectsAccuracyAboveThreshold(t *testing.T) {
	now := time.Now().UTC()
	r := sampleReport(now)
	acc := 500.0
	r.GNSS.Accuracy = &acc
	if err := validate(r, 200, now); err == nil {
		t.Fatal("expected error for gnss accuracy exceeding threshold")
	}
}

func TestValidate_RejectsNoEmittersPresent(t *testing.T) {
	now := time.Now().UTC()
	r := sampleReport(now)
	r.Wifi = nil
	if err := validate(r, 200, now); err == nil {
		t.Fatal("expected error when no wifi, bluetooth, or cell observations are present")
	}
}

func TestValidate_AcceptsBluetoothOnlyReport(t *testing.T) {
	now := time.Now().UTC()
	r := sampleReport(now)
	r.Wifi = nil
	r.Bluetooth = []wireWifi{{MAC: "aabbccddeeff"}}
	if err := validate(r, 200, now); err != nil {
		t.Fatalf("unexpected error for bluetooth-only report: %v", err)
	}
}

func TestDeriveObservations_SkipsInvalidMACSilently(t *testing.T) {
	now := time.Now().UTC()
	r := sampleReport(now)
	r.Wifi = append(r.Wifi, wireWifi{MAC: "not-a-mac"})
	wifi, _, _ := deriveObservations(r)
	if len(wifi) != 1 {
		t.Fatalf("expected invalid MAC to be dropped, got %d wifi deltas", len(wifi))
	}
}

func TestDeriveObservations_SplitsByKind(t *testing.T) {
	now := time.Now().UTC()
	r := sampleReport(now)
	r.Bluetooth = []wireWifi{{MAC: "aabbccddeeff"}}
	r.Cell = &wireCellSet{GSM: []wireGSM{{MCC: 310, MNC: 260, LAC: 1, CI: 2}}}
	wifi, bt, cell := deriveObservations(r)
	if len(wifi) != 1 || len(bt) != 1 || len(cell) != 1 {
		t.Fatalf("expected one delta per kind, got wifi=%d bt=%d cell=%d", len(wifi), len(bt), len(cell))
	}
}
