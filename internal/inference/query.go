// Package inference answers locate queries by honoring a direct GNSS
// fix, else resolving the query's emitters against the emitter store
// and fusing them, else falling back to the imported coarse-cell
// dataset, else failing no_coverage.
package inference

import (
	"context"
	"math"
	"sort"

	"github.com/dogwalking/geoloc-service/internal/apperr"
	"github.com/dogwalking/geoloc-service/internal/domain"
	"github.com/dogwalking/geoloc-service/internal/geo"
	"github.com/dogwalking/geoloc-service/internal/metrics"
	"github.com/dogwalking/geoloc-service/internal/repository"
)

const (
	defaultGNSSAccuracyM = 10.0
	minAccuracyM         = 10.0
	epsilonAccuracyM     = 1.0
	trimFraction         = 0.10
	minPointsToTrim      = 4
)

// Query is the subset of the locate request relevant to inference.
type Query struct {
	GNSS      *GNSSFix
	Wifi      []EmitterObservation // key = normalized MAC
	Bluetooth []EmitterObservation
	Cell      []CellObservation
}

type GNSSFix struct {
	Latitude  float64
	Longitude float64
	Altitude  *float64
	Accuracy  *float64
}

type EmitterObservation struct {
	Key      string
	Strength float64
}

type CellObservation struct {
	Key      domain.CellKey
	Strength float64
}

// Result is the locate response shape.
type Result struct {
	Latitude  float64
	Longitude float64
	Altitude  *float64
	Accuracy  float64
	Outcome   string // "gnss", "fused", "coarse", used for the metrics label
}

// EmitterGetter is the subset of repository.EmitterStore the engine
// needs.
type EmitterGetter interface {
	GetMany(ctx context.Context, kind domain.EmitterKind, keys []string) (map[string]domain.EmitterAggregate, error)
}

type Engine struct {
	store   EmitterGetter
	coarse  repository.CoarseCellDataset
	metrics *metrics.Metrics
}

func New(store EmitterGetter, coarse repository.CoarseCellDataset, m *metrics.Metrics) *Engine {
	return &Engine{store: store, coarse: coarse, metrics: m}
}

// Locate resolves a query to a position, preferring a direct GNSS fix,
// then fused emitter observations, then the coarse-cell fallback.
func (e *Engine) Locate(ctx context.Context, q Query) (Result, error) {
	if q.GNSS != nil && isFinite(q.GNSS.Latitude) && isFinite(q.GNSS.Longitude) {
		acc := defaultGNSSAccuracyM
		if q.GNSS.Accuracy != nil {
			acc = *q.GNSS.Accuracy
		}
		e.metrics.InferenceOutcomes.WithLabelValues("gnss").Inc()
		return Result{
			Latitude:  q.GNSS.Latitude,
			Longitude: q.GNSS.Longitude,
			Altitude:  q.GNSS.Altitude,
			Accuracy:  acc,
			Outcome:   "gnss",
		}, nil
	}

	points, err := e.resolveEmitters(ctx, q)
	if err != nil {
		return Result{}, err
	}

	if len(points) == 0 {
		res, ok, err := e.coarseFallback(ctx, q.Cell)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			e.metrics.InferenceOutcomes.WithLabelValues("no_coverage").Inc()
			return Result{}, apperr.NoCoverage()
		}
		e.metrics.InferenceOutcomes.WithLabelValues("coarse").Inc()
		return res, nil
	}

	result := fuse(points)
	e.metrics.InferenceOutcomes.WithLabelValues("fused").Inc()
	return result, nil
}

// weightedPoint is one resolved emitter ready for fusion.
type weightedPoint struct {
	lat, lon float64
	weight   float64
	accuracy float64
}

func (e *Engine) resolveEmitters(ctx context.Context, q Query) ([]weightedPoint, error) {
	var points []weightedPoint

	if len(q.Wifi) > 0 {
		keys := make([]string, len(q.Wifi))
		byKey := make(map[string]float64, len(q.Wifi))
		for i, o := range q.Wifi {
			keys[i] = o.Key
			byKey[o.Key] = o.Strength
		}
		aggs, err := e.store.GetMany(ctx, domain.KindWifi, keys)
		if err != nil {
			return nil, err
		}
		points = append(points, pointsFrom(aggs, byKey)...)
	}

	if len(q.Bluetooth) > 0 {
		keys := make([]string, len(q.Bluetooth))
		byKey := make(map[string]float64, len(q.Bluetooth))
		for i, o := range q.Bluetooth {
			keys[i] = o.Key
			byKey[o.Key] = o.Strength
		}
		aggs, err := e.store.GetMany(ctx, domain.KindBluetooth, keys)
		if err != nil {
			return nil, err
		}
		points = append(points, pointsFrom(aggs, byKey)...)
	}

	if len(q.Cell) > 0 {
		keys := make([]string, len(q.Cell))
		byKey := make(map[string]float64, len(q.Cell))
		for i, o := range q.Cell {
			k := o.Key.String()
			keys[i] = k
			byKey[k] = o.Strength
		}
		aggs, err := e.store.GetMany(ctx, domain.KindCell, keys)
		if err != nil {
			return nil, err
		}
		points = append(points, pointsFrom(aggs, byKey)...)
	}

	return points, nil
}

func pointsFrom(aggs map[string]domain.EmitterAggregate, strengthByKey map[string]float64) []weightedPoint {
	out := make([]weightedPoint, 0, len(aggs))
	for key, agg := range aggs {
		strength := strengthByKey[key]
		c := 1.0 / math.Max(agg.Accuracy, epsilonAccuracyM)
		w := geo.Weight(strength) * c
		out = append(out, weightedPoint{lat: agg.Lat, lon: agg.Lon, weight: w, accuracy: agg.Accuracy})
	}
	return out
}

// fuse combines resolved emitter points into one position: weighted
// centroid, outlier trim, then weighted RMS accuracy.
func fuse(points []weightedPoint) Result {
	lat, lon := weightedCentroid(points)

	trimmed := points
	if len(points) > minPointsToTrim {
		trimmed = trimOutliers(points, lat, lon)
		lat, lon = weightedCentroid(trimmed)
	}

	rms := weightedRMS(trimmed, lat, lon)
	accuracy := math.Max(rms, minAccuracyM)
	accuracy = math.Min(accuracy, largestAccuracy(trimmed))

	return Result{Latitude: lat, Longitude: lon, Accuracy: accuracy, Outcome: "fused"}
}

func weightedCentroid(points []weightedPoint) (lat, lon float64) {
	var totalWeight float64
	for _, p := range points {
		lat, lon, totalWeight = wmean(lat, lon, totalWeight, p.lat, p.lon, p.weight)
	}
	return lat, lon
}

func wmean(lat, lon, totalWeight, newLat, newLon, w float64) (float64, float64, float64) {
	if totalWeight == 0 && w == 0 {
		return newLat, newLon, 0
	}
	newTotal := totalWeight + w
	if newTotal == 0 {
		return newLat, newLon, 0
	}
	return (lat*totalWeight + newLat*w) / newTotal, (lon*totalWeight + newLon*w) / newTotal, newTotal
}

// trimOutliers discards the 10% of points with the largest distance
// from the centroid, keeping at least one.
func trimOutliers(points []weightedPoint, centroidLat, centroidLon float64) []weightedPoint {
	type distPoint struct {
		p    weightedPoint
		dist float64
	}
	scored := make([]distPoint, len(points))
	for i, p := range points {
		scored[i] = distPoint{p: p, dist: geo.HaversineMeters(centroidLat, centroidLon, p.lat, p.lon)}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].dist < scored[j].dist })

	drop := int(float64(len(scored)) * trimFraction)
	keep := len(scored) - drop
	if keep < 1 {
		keep = 1
	}
	out := make([]weightedPoint, keep)
	for i := 0; i < keep; i++ {
		out[i] = scored[i].p
	}
	return out
}

func weightedRMS(points []weightedPoint, centroidLat, centroidLon float64) float64 {
	var weightedSqSum, totalWeight float64
	for _, p := range points {
		d := geo.HaversineMeters(centroidLat, centroidLon, p.lat, p.lon)
		weightedSqSum += p.weight * d * d
		totalWeight += p.weight
	}
	if totalWeight == 0 {
		return minAccuracyM
	}
	return math.Sqrt(weightedSqSum / totalWeight)
}

func largestAccuracy(points []weightedPoint) float64 {
	best := 0.0
	for _, p := range points {
		if p.accuracy > best {
			best = p.accuracy
		}
	}
	if best == 0 {
		return minAccuracyM
	}
	return best
}

func (e *Engine) coarseFallback(ctx context.Context, cells []CellObservation) (Result, bool, error) {
	var best *domain.CoarseCell
	for _, co := range cells {
		cc, ok, err := e.coarse.Lookup(ctx, co.Key)
		if err != nil {
			return Result{}, false, err
		}
		if !ok {
			continue
		}
		if best == nil || cc.Radius < best.Radius {
			ccCopy := cc
			best = &ccCopy
		}
	}
	if best == nil {
		return Result{}, false, nil
	}
	return Result{Latitude: best.Lat, Longitude: best.Lon, Accuracy: best.Radius, Outcome: "coarse"}, true, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
