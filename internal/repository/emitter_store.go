package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dogwalking/geoloc-service/internal/apperr"
	"github.com/dogwalking/geoloc-service/internal/domain"
	"github.com/dogwalking/geoloc-service/internal/geo"
)

// EmitterStore is the per-kind get-many/upsert-many contract every
// emitter table satisfies. One concrete operation per kind keeps key
// types concrete rather than attempting a polymorphic key across
// Wi-Fi, Bluetooth, and cell identities.
type EmitterStore interface {
	GetMany(ctx context.Context, kind domain.EmitterKind, keys []string) (map[string]domain.EmitterAggregate, error)
	UpsertMany(ctx context.Context, kind domain.EmitterKind, deltas []domain.Delta) error
}

// PgEmitterStore is the Postgres-backed EmitterStore. wifi_emitters and
// bluetooth_emitters share an identical schema keyed by a normalized MAC
// text column; cell_emitters is keyed by the six-tuple.
type PgEmitterStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPgEmitterStore(pool *pgxpool.Pool, logger *zap.Logger) *PgEmitterStore {
	return &PgEmitterStore{pool: pool, logger: logger}
}

func tableFor(kind domain.EmitterKind) (string, error) {
	switch kind {
	case domain.KindWifi:
		return "wifi_emitters", nil
	case domain.KindBluetooth:
		return "bluetooth_emitters", nil
	case domain.KindCell:
		return "cell_emitters", nil
	default:
		return "", fmt.Errorf("unknown emitter kind %q", kind)
	}
}

func (s *PgEmitterStore) GetMany(ctx context.Context, kind domain.EmitterKind, keys []string) (map[string]domain.EmitterAggregate, error) {
	if len(keys) == 0 {
		return map[string]domain.EmitterAggregate{}, nil
	}
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	var rows pgx.Rows
	if kind == domain.KindCell {
		cellKeys := make([]domain.CellKey, 0, len(keys))
		for _, k := range keys {
			if ck, ok := parseCellKeyString(k); ok {
				cellKeys = append(cellKeys, ck)
			}
		}
		rows, err = s.queryCellMany(ctx, table, cellKeys)
	} else {
		rows, err = s.pool.Query(ctx, fmt.Sprintf(
			`SELECT key, min_lat, min_lon, max_lat, max_lon, lat, lon, accuracy, total_weight, min_strength, max_strength
			 FROM %s WHERE key = ANY($1)`, table), keys)
	}
	if err != nil {
		return nil, classifyStorageError(err)
	}
	defer rows.Close()

	result := make(map[string]domain.EmitterAggregate, len(keys))
	for rows.Next() {
		var key string
		var agg domain.EmitterAggregate
		var scanErr error
		if kind == domain.KindCell {
			var radio string
			var country, network, area, cell, unit int
			scanErr = rows.Scan(&radio, &country, &network, &area, &cell, &unit,
				&agg.MinLat, &agg.MinLon, &agg.MaxLat, &agg.MaxLon,
				&agg.Lat, &agg.Lon, &agg.Accuracy, &agg.TotalWeight, &agg.MinStrength, &agg.MaxStrength)
			key = domain.CellKey{Radio: domain.RadioFamily(radio), Country: country, Network: network, Area: area, Cell: cell, Unit: unit}.String()
		} else {
			scanErr = rows.Scan(&key, &agg.MinLat, &agg.MinLon, &agg.MaxLat, &agg.MaxLon,
				&agg.Lat, &agg.Lon, &agg.Accuracy, &agg.TotalWeight, &agg.MinStrength, &agg.MaxStrength)
		}
		if scanErr != nil {
			return nil, classifyStorageError(scanErr)
		}
		if err := checkInvariants(agg); err != nil {
			return nil, err
		}
		result[key] = agg
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStorageError(err)
	}
	return result, nil
}

func (s *PgEmitterStore) queryCellMany(ctx context.Context, table string, keys []domain.CellKey) (pgx.Rows, error) {
	radios := make([]string, len(keys))
	countries := make([]int, len(keys))
	networks := make([]int, len(keys))
	areas := make([]int, len(keys))
	cells := make([]int, len(keys))
	units := make([]int, len(keys))
	for i, k := range keys {
		radios[i] = string(k.Radio)
		countries[i] = k.Country
		networks[i] = k.Network
		areas[i] = k.Area
		cells[i] = k.Cell
		units[i] = k.Unit
	}
	return s.pool.Query(ctx, fmt.Sprintf(`
		SELECT radio, country, network, area, cell, unit,
		       min_lat, min_lon, max_lat, max_lon, lat, lon, accuracy, total_weight, min_strength, max_strength
		FROM %s
		JOIN unnest($1::text[], $2::int[], $3::int[], $4::int[], $5::int[], $6::int[])
		  AS want(radio, country, network, area, cell, unit)
		  USING (radio, country, network, area, cell, unit)
	`, table), radios, countries, networks, areas, cells, units)
}

// UpsertMany groups deltas by key and folds them locally before
// touching storage, so a batch with repeated observations of the same
// emitter costs one locked read and one insert or update per key, not
// per observation. Each key is then merged against
// the stored aggregate under a row lock, so concurrent upserts to the
// same key serialize on that lock rather than racing on a
// read-modify-write from two goroutines.
func (s *PgEmitterStore) UpsertMany(ctx context.Context, kind domain.EmitterKind, deltas []domain.Delta) error {
	if len(deltas) == 0 {
		return nil
	}
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	folded := foldLocally(deltas)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classifyStorageError(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	for key, d := range folded {
		if kind == domain.KindCell {
			if err := s.upsertCellLocked(ctx, tx, table, d); err != nil {
				return err
			}
		} else {
			if err := s.upsertKeyedLocked(ctx, tx, table, key, d); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyStorageError(err)
	}
	committed = true
	return nil
}

// localDelta is the result of folding every observation for one emitter
// key within a single incoming batch into one effective update.
type localDelta struct {
	cellKey          domain.CellKey
	lat, lon         float64
	totalWeight      float64
	minLat, minLon   float64
	maxLat, maxLon   float64
	minStrength      float64
	maxStrength      float64
}

func foldLocally(deltas []domain.Delta) map[string]localDelta {
	out := make(map[string]localDelta, len(deltas))
	for _, d := range deltas {
		w := geo.Weight(d.Strength)
		existing, ok := out[d.Key]
		if !ok {
			out[d.Key] = localDelta{
				cellKey:     d.CellKeyOnly,
				lat:         d.TruthLat,
				lon:         d.TruthLon,
				totalWeight: w,
				minLat:      d.TruthLat, minLon: d.TruthLon,
				maxLat: d.TruthLat, maxLon: d.TruthLon,
				minStrength: d.Strength, maxStrength: d.Strength,
			}
			continue
		}
		lat, lon, total := geo.WeightedMean(existing.lat, existing.lon, existing.totalWeight, d.TruthLat, d.TruthLon, w)
		minLat, minLon, maxLat, maxLon := geo.ExpandBox(existing.minLat, existing.minLon, existing.maxLat, existing.maxLon, d.TruthLat, d.TruthLon)
		existing.lat, existing.lon, existing.totalWeight = lat, lon, total
		existing.minLat, existing.minLon, existing.maxLat, existing.maxLon = minLat, minLon, maxLat, maxLon
		if d.Strength < existing.minStrength {
			existing.minStrength = d.Strength
		}
		if d.Strength > existing.maxStrength {
			existing.maxStrength = d.Strength
		}
		out[d.Key] = existing
	}
	return out
}

func (s *PgEmitterStore) upsertKeyedLocked(ctx context.Context, tx pgx.Tx, table, key string, d localDelta) error {
	var agg domain.EmitterAggregate
	err := tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT min_lat, min_lon, max_lat, max_lon, lat, lon, accuracy, total_weight, min_strength, max_strength
		 FROM %s WHERE key = $1 FOR UPDATE`, table), key).
		Scan(&agg.MinLat, &agg.MinLon, &agg.MaxLat, &agg.MaxLon, &agg.Lat, &agg.Lon, &agg.Accuracy, &agg.TotalWeight, &agg.MinStrength, &agg.MaxStrength)

	merged, isNew := mergeAggregate(agg, err == pgx.ErrNoRows, d)
	if err != nil && err != pgx.ErrNoRows {
		return classifyStorageError(err)
	}

	if isNew {
		_, err = tx.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s (key, min_lat, min_lon, max_lat, max_lon, lat, lon, accuracy, total_weight, min_strength, max_strength)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, table),
			key, merged.MinLat, merged.MinLon, merged.MaxLat, merged.MaxLon, merged.Lat, merged.Lon, merged.Accuracy, merged.TotalWeight, merged.MinStrength, merged.MaxStrength)
	} else {
		_, err = tx.Exec(ctx, fmt.Sprintf(
			`UPDATE %s SET min_lat=$2, min_lon=$3, max_lat=$4, max_lon=$5, lat=$6, lon=$7, accuracy=$8, total_weight=$9, min_strength=$10, max_strength=$11
			 WHERE key = $1`, table),
			key, merged.MinLat, merged.MinLon, merged.MaxLat, merged.MaxLon, merged.Lat, merged.Lon, merged.Accuracy, merged.TotalWeight, merged.MinStrength, merged.MaxStrength)
	}
	if err != nil {
		return classifyStorageError(err)
	}
	return checkInvariants(merged)
}

func (s *PgEmitterStore) upsertCellLocked(ctx context.Context, tx pgx.Tx, table string, d localDelta) error {
	k := d.cellKey
	var agg domain.EmitterAggregate
	err := tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT min_lat, min_lon, max_lat, max_lon, lat, lon, accuracy, total_weight, min_strength, max_strength
		 FROM %s WHERE radio=$1 AND country=$2 AND network=$3 AND area=$4 AND cell=$5 AND unit=$6 FOR UPDATE`, table),
		string(k.Radio), k.Country, k.Network, k.Area, k.Cell, k.Unit).
		Scan(&agg.MinLat, &agg.MinLon, &agg.MaxLat, &agg.MaxLon, &agg.Lat, &agg.Lon, &agg.Accuracy, &agg.TotalWeight, &agg.MinStrength, &agg.MaxStrength)

	merged, isNew := mergeAggregate(agg, err == pgx.ErrNoRows, d)
	if err != nil && err != pgx.ErrNoRows {
		return classifyStorageError(err)
	}

	if isNew {
		_, err = tx.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s (radio, country, network, area, cell, unit, min_lat, min_lon, max_lat, max_lon, lat, lon, accuracy, total_weight, min_strength, max_strength)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`, table),
			string(k.Radio), k.Country, k.Network, k.Area, k.Cell, k.Unit,
			merged.MinLat, merged.MinLon, merged.MaxLat, merged.MaxLon, merged.Lat, merged.Lon, merged.Accuracy, merged.TotalWeight, merged.MinStrength, merged.MaxStrength)
	} else {
		_, err = tx.Exec(ctx, fmt.Sprintf(
			`UPDATE %s SET min_lat=$7, min_lon=$8, max_lat=$9, max_lon=$10, lat=$11, lon=$12, accuracy=$13, total_weight=$14, min_strength=$15, max_strength=$16
			 WHERE radio=$1 AND country=$2 AND network=$3 AND area=$4 AND cell=$5 AND unit=$6`, table),
			string(k.Radio), k.Country, k.Network, k.Area, k.Cell, k.Unit,
			merged.MinLat, merged.MinLon, merged.MaxLat, merged.MaxLon, merged.Lat, merged.Lon, merged.Accuracy, merged.TotalWeight, merged.MinStrength, merged.MaxStrength)
	}
	if err != nil {
		return classifyStorageError(err)
	}
	return checkInvariants(merged)
}

// mergeAggregate applies the upsert delta rule: a new key gets an
// initial row with its box degenerate to the truth point; an existing
// key gets its box extended and its centroid moved by the weighted
// incremental mean.
func mergeAggregate(stored domain.EmitterAggregate, isNew bool, d localDelta) (domain.EmitterAggregate, bool) {
	if isNew {
		return domain.EmitterAggregate{
			MinLat: d.minLat, MinLon: d.minLon, MaxLat: d.maxLat, MaxLon: d.maxLon,
			Lat: d.lat, Lon: d.lon,
			Accuracy:    geo.BoxAccuracy(d.minLat, d.minLon, d.maxLat, d.maxLon),
			TotalWeight: d.totalWeight,
			MinStrength: d.minStrength, MaxStrength: d.maxStrength,
		}, true
	}

	minLat, minLon, maxLat, maxLon := geo.ExpandBox(stored.MinLat, stored.MinLon, stored.MaxLat, stored.MaxLon, d.minLat, d.minLon)
	minLat, minLon, maxLat, maxLon = geo.ExpandBox(minLat, minLon, maxLat, maxLon, d.maxLat, d.maxLon)
	lat, lon, total := geo.WeightedMean(stored.Lat, stored.Lon, stored.TotalWeight, d.lat, d.lon, d.totalWeight)

	minStrength := stored.MinStrength
	if d.minStrength < minStrength {
		minStrength = d.minStrength
	}
	maxStrength := stored.MaxStrength
	if d.maxStrength > maxStrength {
		maxStrength = d.maxStrength
	}

	return domain.EmitterAggregate{
		MinLat: minLat, MinLon: minLon, MaxLat: maxLat, MaxLon: maxLon,
		Lat: lat, Lon: lon,
		Accuracy:    geo.BoxAccuracy(minLat, minLon, maxLat, maxLon),
		TotalWeight: total,
		MinStrength: minStrength, MaxStrength: maxStrength,
	}, false
}

// checkInvariants fails closed rather than silently correcting a
// contradiction in a stored aggregate.
func checkInvariants(agg domain.EmitterAggregate) error {
	if agg.Lat < agg.MinLat || agg.Lat > agg.MaxLat || agg.Lon < agg.MinLon || agg.Lon > agg.MaxLon {
		return apperr.Invariant("bounding box does not contain centroid")
	}
	if agg.TotalWeight <= 0 {
		return apperr.Invariant("non-positive total weight")
	}
	if agg.MinStrength > agg.MaxStrength {
		return apperr.Invariant("strength envelope min exceeds max")
	}
	return nil
}

func parseCellKeyString(s string) (domain.CellKey, bool) {
	parts := strings.Split(s, "-")
	if len(parts) != 6 {
		return domain.CellKey{}, false
	}
	fields := make([]int, 5)
	for i, p := range parts[1:] {
		v, err := strconv.Atoi(p)
		if err != nil {
			return domain.CellKey{}, false
		}
		fields[i] = v
	}
	return domain.CellKey{
		Radio:   domain.RadioFamily(parts[0]),
		Country: fields[0], Network: fields[1], Area: fields[2], Cell: fields[3], Unit: fields[4],
	}, true
}
