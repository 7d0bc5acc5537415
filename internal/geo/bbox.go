package geo

// ExpandBox grows (minLat, minLon, maxLat, maxLon) to include (lat, lon),
// returning the new box. The box is always wide enough to contain every
// truth point folded into an aggregate so far.
func ExpandBox(minLat, minLon, maxLat, maxLon, lat, lon float64) (float64, float64, float64, float64) {
	if lat < minLat {
		minLat = lat
	}
	if lat > maxLat {
		maxLat = lat
	}
	if lon < minLon {
		minLon = lon
	}
	if lon > maxLon {
		maxLon = lon
	}
	return minLat, minLon, maxLat, maxLon
}

// BoxAccuracy returns the half-diagonal of a bounding box in meters,
// computed via the equirectangular approximation. It is monotone in
// the box's dispersion: a box can only grow, so this value can only
// grow alongside it as more observations fold in.
func BoxAccuracy(minLat, minLon, maxLat, maxLon float64) float64 {
	return EquirectangularMeters(minLat, minLon, maxLat, maxLon) / 2
}

// WeightedMean folds a new truth point with weight w into a running
// (lat, lon, totalWeight) accumulator using the incremental weighted
// mean: w' = total+w; lat' = (lat*total + truthLat*w)/w'.
func WeightedMean(lat, lon, totalWeight, truthLat, truthLon, w float64) (newLat, newLon, newTotalWeight float64) {
	newTotalWeight = totalWeight + w
	newLat = (lat*totalWeight + truthLat*w) / newTotalWeight
	newLon = (lon*totalWeight + truthLon*w) / newTotalWeight
	return newLat, newLon, newTotalWeight
}
