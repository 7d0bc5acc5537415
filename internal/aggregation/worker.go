package aggregation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dogwalking/geoloc-service/internal/apperr"
	"github.com/dogwalking/geoloc-service/internal/domain"
	"github.com/dogwalking/geoloc-service/internal/metrics"
	"github.com/dogwalking/geoloc-service/internal/repository"
)

// EmitterUpserter is the slice of repository.EmitterStore the worker
// needs; kept narrow so tests can fake it per kind.
type EmitterUpserter interface {
	UpsertMany(ctx context.Context, kind domain.EmitterKind, deltas []domain.Delta) error
}

// Invalidator is notified of every key the worker just upserted, so a
// cache entry on another instance can be evicted (internal/invalidation.Publisher).
type Invalidator interface {
	PublishMany(ctx context.Context, kind domain.EmitterKind, keys []string)
}

// Worker runs the aggregation loop: reserve, derive, fold, mark done.
type Worker struct {
	log              repository.ReportLog
	store            EmitterUpserter
	invalidator      Invalidator
	batchSize        int
	gnssMaxAccuracyM float64
	metrics          *metrics.Metrics
	logger           *zap.Logger
}

func New(log repository.ReportLog, store EmitterUpserter, invalidator Invalidator, batchSize int, gnssMaxAccuracyM float64, m *metrics.Metrics, logger *zap.Logger) *Worker {
	return &Worker{
		log:              log,
		store:            store,
		invalidator:      invalidator,
		batchSize:        batchSize,
		gnssMaxAccuracyM: gnssMaxAccuracyM,
		metrics:          m,
		logger:           logger,
	}
}

// RunForever polls the report log on the given interval until ctx is
// canceled, processing one batch per tick. A transient storage error
// is logged and the batch is retried whole on the next tick; the log,
// not the worker, holds retry state.
func (w *Worker) RunForever(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Warn("aggregation batch failed", zap.Error(err))
			}
		}
	}
}

// RunOnce reserves and processes a single batch. It returns nil when
// there is nothing to reserve.
//
// A report that fails to decode or validate, or whose derived deltas
// are rejected by the store for a permanent reason (a constraint
// violation, or an invariant the merge can never satisfy), is marked
// failed and the loop moves on to the next report rather than aborting
// the whole batch — otherwise a single deterministically bad report
// would be re-reserved and re-fail every tick, starving the rest of
// the queue behind it. A transient store error (connection loss,
// serialization failure) aborts the batch instead: it says nothing
// about this particular report, and the whole reservation rolls back
// for a clean retry next tick.
func (w *Worker) RunOnce(ctx context.Context) error {
	var touchedWifi, touchedBluetooth, touchedCell []string

	n, err := w.log.WithReservation(ctx, w.batchSize, func(ctx context.Context, res *repository.Reservation) error {
		now := time.Now().UTC()
		for _, report := range res.Reports {
			wifi, bt, cell, failErr := w.processOne(&report, now)
			if failErr != nil {
				if err := res.MarkFailed(ctx, report.ID, report.SubmittedAt, failErr.Error()); err != nil {
					return err
				}
				w.metrics.WorkerBatchErrors.WithLabelValues("validation").Inc()
				continue
			}

			upsertErr := w.upsertAll(ctx, wifi, bt, cell, &touchedWifi, &touchedBluetooth, &touchedCell)
			if upsertErr != nil {
				class := errClass(upsertErr)
				if class == "transient" {
					return upsertErr
				}
				w.metrics.WorkerBatchErrors.WithLabelValues(class).Inc()
				if err := res.MarkFailed(ctx, report.ID, report.SubmittedAt, upsertErr.Error()); err != nil {
					return err
				}
				continue
			}

			if err := res.MarkDone(ctx, report.ID, report.SubmittedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		w.metrics.WorkerBatchErrors.WithLabelValues(errClass(err)).Inc()
		return err
	}
	if n > 0 {
		w.metrics.WorkerBatches.Inc()
	}

	if w.invalidator != nil {
		w.invalidator.PublishMany(ctx, domain.KindWifi, touchedWifi)
		w.invalidator.PublishMany(ctx, domain.KindBluetooth, touchedBluetooth)
		w.invalidator.PublishMany(ctx, domain.KindCell, touchedCell)
	}
	return nil
}

// upsertAll folds one report's per-kind deltas into the store,
// recording which keys were touched so the caller can invalidate their
// cache entries once the batch commits.
func (w *Worker) upsertAll(ctx context.Context, wifi, bluetooth, cell []domain.Delta, touchedWifi, touchedBluetooth, touchedCell *[]string) error {
	if len(wifi) > 0 {
		if err := w.store.UpsertMany(ctx, domain.KindWifi, wifi); err != nil {
			return err
		}
		*touchedWifi = append(*touchedWifi, keysOf(wifi)...)
	}
	if len(bluetooth) > 0 {
		if err := w.store.UpsertMany(ctx, domain.KindBluetooth, bluetooth); err != nil {
			return err
		}
		*touchedBluetooth = append(*touchedBluetooth, keysOf(bluetooth)...)
	}
	if len(cell) > 0 {
		if err := w.store.UpsertMany(ctx, domain.KindCell, cell); err != nil {
			return err
		}
		*touchedCell = append(*touchedCell, keysOf(cell)...)
	}
	return nil
}

// processOne decodes, validates, and derives per-emitter deltas for a
// single report.
func (w *Worker) processOne(report *domain.Report, now time.Time) (wifi, bluetooth, cell []domain.Delta, err error) {
	parsed, err := decodeReport(report.Raw)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := validate(parsed, w.gnssMaxAccuracyM, now); err != nil {
		return nil, nil, nil, err
	}
	wifi, bluetooth, cell = deriveObservations(parsed)
	if len(wifi) == 0 && len(bluetooth) == 0 && len(cell) == 0 {
		return nil, nil, nil, errors.New("no emitters survived normalization")
	}
	return wifi, bluetooth, cell, nil
}

func keysOf(deltas []domain.Delta) []string {
	seen := make(map[string]struct{}, len(deltas))
	out := make([]string, 0, len(deltas))
	for _, d := range deltas {
		if _, ok := seen[d.Key]; ok {
			continue
		}
		seen[d.Key] = struct{}{}
		out = append(out, d.Key)
	}
	return out
}

func errClass(err error) string {
	switch {
	case errors.As(err, new(*apperr.TransientStorageError)):
		return "transient"
	case errors.As(err, new(*apperr.PermanentStorageError)):
		return "permanent"
	case errors.As(err, new(*apperr.InvariantError)):
		return "invariant"
	default:
		return "other"
	}
}
