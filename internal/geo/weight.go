package geo

import "math"

// Reference weight-function constants. refStrengthDBM is the dBm power
// level mapped to weight 1 before clamping; minWeight/maxWeight bound
// the resulting linear weight so a single very strong or very weak
// reading cannot dominate or vanish from a centroid.
const (
	refStrengthDBM = -100.0
	minWeight      = 1e-4
	maxWeight      = 1.0
)

// Weight maps a received-power measurement in dBm to a linear weight,
// clamped into [minWeight, maxWeight]. Received power in dBm is
// logarithmic in the power ratio, so this linear weight is linear in
// signal power, which makes the weighted centroid a maximum-likelihood
// estimate under a signal-power-proportional observation model. Weight
// is strictly positive for every finite input.
func Weight(strengthDBM float64) float64 {
	if math.IsNaN(strengthDBM) {
		return minWeight
	}
	w := math.Pow(10, (strengthDBM-refStrengthDBM)/10)
	switch {
	case w < minWeight:
		return minWeight
	case w > maxWeight:
		return maxWeight
	default:
		return w
	}
}
