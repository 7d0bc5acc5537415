package domain

// EmitterAggregate is the weighted location model for one Wi-Fi BSSID,
// Bluetooth MAC, or cellular six-tuple. The same shape is shared by all
// three kinds; only the key type differs, which is why the emitter
// store keeps one concrete operation per kind rather than attempting a
// polymorphic key.
type EmitterAggregate struct {
	MinLat, MinLon float64
	MaxLat, MaxLon float64
	Lat, Lon       float64 // weighted centroid
	Accuracy       float64 // half-diagonal of the box, meters
	TotalWeight    float64 // running sum of observation weights
	MinStrength    float64 // dBm envelope
	MaxStrength    float64
}

// Delta is one (key, truth, strength) observation to fold into an
// aggregate via an upsert-many call.
type Delta struct {
	Key         string
	CellKeyOnly CellKey // populated only when the batch is for KindCell
	TruthLat    float64
	TruthLon    float64
	Strength    float64
}

// CoarseCell is one row of the imported, read-only coarse-cell
// reference dataset. Used only as a fallback when no finer-grained
// emitter aggregate covers a query.
type CoarseCell struct {
	Key    CellKey
	Lat    float64
	Lon    float64
	Radius float64 // meters
}
