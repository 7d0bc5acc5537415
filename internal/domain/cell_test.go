package domain

import (
	"strconv"
	"strings"
	"testing"
)

func TestNewCellKey_ClampsMCCMNC(t *testing.T) {
	k := NewCellKey(RadioLTE, 0, 1500, 100, 200, 5)
	if k.Country != 1 {
		t.Errorf("expected mcc clamped to 1, got %d", k.Country)
	}
	if k.Network != 999 {
		t.Errorf("expected mnc clamped to 999, got %d", k.Network)
	}
}

func TestNewCellKey_WithinRangeUnchanged(t *testing.T) {
	k := NewCellKey(RadioGSM, 310, 260, 1, 2, 0)
	if k.Country != 310 || k.Network != 260 {
		t.Errorf("expected unclamped values, got %d/%d", k.Country, k.Network)
	}
}

func TestCellKey_StringRoundTripsSixFields(t *testing.T) {
	k := NewCellKey(RadioNR, 310, 410, 7, 99, 3)
	parts := strings.Split(k.String(), "-")
	if len(parts) != 6 {
		t.Fatalf("expected 6 dash-separated fields, got %d: %q", len(parts), k.String())
	}
	country, _ := strconv.Atoi(parts[1])
	network, _ := strconv.Atoi(parts[2])
	area, _ := strconv.Atoi(parts[3])
	cell, _ := strconv.Atoi(parts[4])
	unit, _ := strconv.Atoi(parts[5])
	if RadioFamily(parts[0]) != k.Radio || country != k.Country || network != k.Network ||
		area != k.Area || cell != k.Cell || unit != k.Unit {
		t.Fatalf("round trip mismatch from %q", k.String())
	}
}
