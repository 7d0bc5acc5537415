package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dogwalking/geoloc-service/internal/domain"
)

// CoarseCellDataset is the read-only lookup over the imported
// coarse-cell reference table, used only as the last-resort fallback
// when no Wi-Fi, Bluetooth, or cell emitter in the store resolves.
type CoarseCellDataset interface {
	Lookup(ctx context.Context, key domain.CellKey) (domain.CoarseCell, bool, error)
}

// PgCoarseCellDataset reads coarse_cells, a table populated out of band
// by an import job; the aggregation worker never writes to it.
type PgCoarseCellDataset struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPgCoarseCellDataset(pool *pgxpool.Pool, logger *zap.Logger) *PgCoarseCellDataset {
	return &PgCoarseCellDataset{pool: pool, logger: logger}
}

func (d *PgCoarseCellDataset) Lookup(ctx context.Context, key domain.CellKey) (domain.CoarseCell, bool, error) {
	var cc domain.CoarseCell
	cc.Key = key
	err := d.pool.QueryRow(ctx, `
		SELECT lat, lon, radius_m FROM coarse_cells
		WHERE radio = $1 AND country = $2 AND network = $3 AND area = $4 AND cell = $5 AND unit = $6
	`, string(key.Radio), key.Country, key.Network, key.Area, key.Cell, key.Unit).Scan(&cc.Lat, &cc.Lon, &cc.Radius)
	if err != nil {
		if isNoRows(err) {
			return domain.CoarseCell{}, false, nil
		}
		return domain.CoarseCell{}, false, classifyStorageError(err)
	}
	return cc, true, nil
}
