// Package repository implements the storage-backed components of the
// service (report log, partition manager, emitter store) against
// Postgres via pgx/v5. Every operation here is a typed method, not raw
// SQL leaking into the rest of the service.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dogwalking/geoloc-service/internal/apperr"
	"github.com/dogwalking/geoloc-service/internal/domain"
)

// ReportLog is the append/reserve/mark-done contract the report log
// satisfies.
type ReportLog interface {
	// Append durably inserts a new report and returns its id. Durable
	// before return.
	Append(ctx context.Context, raw []byte, timestamp time.Time, truthLat, truthLon float64, userAgent string) (int64, error)

	// WithReservation reserves up to batchSize unprocessed reports under
	// row-level locks that skip already-locked rows, then invokes fn
	// with a handle that can mark each report done/failed. Reservation,
	// fn's work, and the mark-done calls all share one transaction: if
	// fn returns an error the transaction rolls back and the reports
	// remain unprocessed for the next reservation.
	WithReservation(ctx context.Context, batchSize int, fn func(ctx context.Context, res *Reservation) error) (int, error)

	// QueueDepth reports the current count of unprocessed reports, for
	// the queue-depth gauge.
	QueueDepth(ctx context.Context) (int64, error)
}

// Reservation is the live handle passed to a WithReservation callback:
// the reserved reports plus mark-done/mark-failed methods bound to the
// same transaction that reserved them.
type Reservation struct {
	Reports []domain.Report
	tx      pgx.Tx
}

// MarkDone sets processed_at = now() for a reserved report.
func (r *Reservation) MarkDone(ctx context.Context, id int64, submittedAt time.Time) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE reports SET processed_at = now() WHERE id = $1 AND submitted_at = $2`,
		id, submittedAt,
	)
	return err
}

// MarkFailed sets processed_at = now() and processing_error for a
// reserved report that failed permanent validation. It is not retried.
func (r *Reservation) MarkFailed(ctx context.Context, id int64, submittedAt time.Time, reason string) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE reports SET processed_at = now(), processing_error = $3 WHERE id = $1 AND submitted_at = $2`,
		id, submittedAt, reason,
	)
	return err
}

// PgReportLog is the Postgres-backed ReportLog.
type PgReportLog struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPgReportLog(pool *pgxpool.Pool, logger *zap.Logger) *PgReportLog {
	return &PgReportLog{pool: pool, logger: logger}
}

func (l *PgReportLog) Append(ctx context.Context, raw []byte, timestamp time.Time, truthLat, truthLon float64, userAgent string) (int64, error) {
	var id int64
	err := l.pool.QueryRow(ctx,
		`INSERT INTO reports (submitted_at, timestamp, latitude, longitude, user_agent, raw)
		 VALUES (now(), $1, $2, $3, $4, $5)
		 RETURNING id`,
		timestamp, truthLat, truthLon, userAgent, raw,
	).Scan(&id)
	if err != nil {
		return 0, classifyStorageError(err)
	}
	return id, nil
}

func (l *PgReportLog) WithReservation(ctx context.Context, batchSize int, fn func(ctx context.Context, res *Reservation) error) (int, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return 0, classifyStorageError(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx,
		`SELECT id, submitted_at, timestamp, latitude, longitude, user_agent, raw
		 FROM reports
		 WHERE processed_at IS NULL
		 ORDER BY submitted_at ASC
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`,
		batchSize,
	)
	if err != nil {
		return 0, classifyStorageError(err)
	}

	var reports []domain.Report
	for rows.Next() {
		var r domain.Report
		if err := rows.Scan(&r.ID, &r.SubmittedAt, &r.Timestamp, &r.Latitude, &r.Longitude, &r.UserAgent, &r.Raw); err != nil {
			rows.Close()
			return 0, classifyStorageError(err)
		}
		reports = append(reports, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, classifyStorageError(err)
	}

	if len(reports) == 0 {
		_ = tx.Rollback(ctx)
		committed = true // nothing to commit; avoid double-rollback
		return 0, nil
	}

	res := &Reservation{Reports: reports, tx: tx}
	if err := fn(ctx, res); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, classifyStorageError(err)
	}
	committed = true
	return len(reports), nil
}

func (l *PgReportLog) QueueDepth(ctx context.Context) (int64, error) {
	var n int64
	err := l.pool.QueryRow(ctx, `SELECT count(*) FROM reports WHERE processed_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, classifyStorageError(err)
	}
	return n, nil
}

// classifyStorageError maps a pgx/driver error into the apperr storage
// taxonomy. Connection loss and serialization failures are transient
// and worth retrying whole; everything else is permanent. The
// aggregation worker uses this classification to decide, per report,
// whether to abort the batch for a clean retry or mark just that
// report failed and move on.
func classifyStorageError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", // serialization_failure, deadlock_detected
			"08000", "08003", "08006", "08001", "08004": // connection exceptions
			return apperr.Transient(err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Transient(err)
	}
	return apperr.Permanent(err)
}
