package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is an arbitrary constant used with pg_advisory_lock so
// that two partition manager instances never attempt to create or drop
// the same partition concurrently; losing the race is wasted work, not
// an error.
const advisoryLockKey = 0x67656f6c6f63 // "geoloc" packed into an int64

// PartitionManager creates future daily partitions, drops expired ones,
// and installs the per-partition hot indexes each new partition needs.
type PartitionManager struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPartitionManager(pool *pgxpool.Pool, logger *zap.Logger) *PartitionManager {
	return &PartitionManager{pool: pool, logger: logger}
}

func partitionName(day time.Time) string {
	return fmt.Sprintf("reports_%04d_%02d_%02d", day.Year(), day.Month(), day.Day())
}

// EnsureForward creates the daily partitions covering today through
// today+horizonDays if they do not already exist, installing the hot
// indexes on each newly created partition.
func (m *PartitionManager) EnsureForward(ctx context.Context, horizonDays int) error {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return classifyStorageError(err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, int64(advisoryLockKey)); err != nil {
		return classifyStorageError(err)
	}
	defer conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, int64(advisoryLockKey))

	today := time.Now().UTC().Truncate(24 * time.Hour)
	for i := 0; i <= horizonDays; i++ {
		day := today.AddDate(0, 0, i)
		name := partitionName(day)
		next := day.AddDate(0, 0, 1)

		var exists bool
		if err := conn.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, "public."+name).Scan(&exists); err != nil {
			return classifyStorageError(err)
		}
		if exists {
			continue
		}

		createSQL := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s PARTITION OF reports FOR VALUES FROM ($1) TO ($2)`,
			name,
		)
		if _, err := conn.Exec(ctx, createSQL, day, next); err != nil {
			return classifyStorageError(err)
		}
		m.logger.Info("created report partition", zap.String("partition", name))

		if err := m.installHotIndexesLocked(ctx, conn.Conn(), name); err != nil {
			return err
		}
	}
	return nil
}

// InstallHotIndexes idempotently creates the two per-partition indexes
// a fresh partition needs: a partial index on the unprocessed tail, and
// a coarse range index on submitted_at for cold reads.
func (m *PartitionManager) InstallHotIndexes(ctx context.Context, partition string) error {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return classifyStorageError(err)
	}
	defer conn.Release()
	return m.installHotIndexesLocked(ctx, conn.Conn(), partition)
}

func (m *PartitionManager) installHotIndexesLocked(ctx context.Context, conn execer, partition string) error {
	partialIdx := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_unprocessed ON %s (processed_at, submitted_at) WHERE processed_at IS NULL`,
		partition, partition,
	)
	if _, err := conn.Exec(ctx, partialIdx); err != nil {
		return classifyStorageError(err)
	}

	rangeIdx := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_submitted_at ON %s (submitted_at)`,
		partition, partition,
	)
	if _, err := conn.Exec(ctx, rangeIdx); err != nil {
		return classifyStorageError(err)
	}
	return nil
}

// DropExpired drops daily partitions whose date is strictly before
// today-retainDays. Individual drop failures are logged and skipped,
// never fatal to the batch.
func (m *PartitionManager) DropExpired(ctx context.Context, retainDays int, cascade bool) error {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return classifyStorageError(err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, int64(advisoryLockKey)); err != nil {
		return classifyStorageError(err)
	}
	defer conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, int64(advisoryLockKey))

	cutoff := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -retainDays)

	rows, err := conn.Query(ctx, `
		SELECT c.relname
		FROM pg_inherits i
		JOIN pg_class c ON c.oid = i.inhrelid
		JOIN pg_class p ON p.oid = i.inhparent
		WHERE p.relname = 'reports'
	`)
	if err != nil {
		return classifyStorageError(err)
	}
	var partitions []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return classifyStorageError(err)
		}
		partitions = append(partitions, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return classifyStorageError(err)
	}

	for _, name := range partitions {
		day, ok := partitionDate(name)
		if !ok || !day.Before(cutoff) {
			continue
		}
		dropSQL := fmt.Sprintf("DROP TABLE IF EXISTS %s", name)
		if cascade {
			dropSQL += " CASCADE"
		}
		if _, err := conn.Exec(ctx, dropSQL); err != nil {
			m.logger.Warn("failed to drop expired partition, skipping",
				zap.String("partition", name), zap.Error(err))
			continue
		}
		m.logger.Info("dropped expired report partition", zap.String("partition", name))
	}
	return nil
}

func partitionDate(name string) (time.Time, bool) {
	var y, mo, d int
	n, err := fmt.Sscanf(name, "reports_%04d_%02d_%02d", &y, &mo, &d)
	if err != nil || n != 3 {
		return time.Time{}, false
	}
	return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC), true
}

// execer is the minimal interface shared by *pgxpool.Conn's underlying
// connection, used so installHotIndexesLocked can run either through a
// fresh Acquire or inline after EnsureForward already holds one.
type execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}
