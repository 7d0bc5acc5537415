package domain

import "fmt"

// CellKey is the six-tuple identity of a cellular base station, shared
// across 2G/3G/4G/5G families. Unit carries the family's secondary
// physical-layer identifier (PSC, PCI, or SSBI) or 0 when the
// submission did not include one.
type CellKey struct {
	Radio   RadioFamily
	Country int // MCC
	Network int // MNC
	Area    int // LAC/TAC
	Cell    int // CI/ECI/NCI
	Unit    int // PSC/PCI/SSBI, or 0
}

// clampMCCMNC clamps a country/network code into [1, 999]. Submitted
// values outside this range are folded to the nearest bound rather than
// rejected, since MCC/MNC are device-reported and a single malformed
// digit should not sink an otherwise-valid cell entry.
func clampMCCMNC(v int) int {
	if v < 1 {
		return 1
	}
	if v > 999 {
		return 999
	}
	return v
}

// NewCellKey builds a normalized six-tuple key, clamping MCC/MNC into
// their valid range.
func NewCellKey(radio RadioFamily, mcc, mnc, area, cell, unit int) CellKey {
	return CellKey{
		Radio:   radio,
		Country: clampMCCMNC(mcc),
		Network: clampMCCMNC(mnc),
		Area:    area,
		Cell:    cell,
		Unit:    unit,
	}
}

// String renders a stable, human-readable representation used for log
// correlation and as a cache/invalidation key.
func (k CellKey) String() string {
	return fmt.Sprintf("%s-%d-%d-%d-%d-%d", k.Radio, k.Country, k.Network, k.Area, k.Cell, k.Unit)
}
