package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/retailpos/retailpos/internal/jobs"
	"github.com/retailpos/retailpos/internal/shared"
	"github.com/retailpos/retailpos/internal/stock"
)

// Reconciler lists products whose quantity differs from their ledger.
type Reconciler interface {
	Reconcile(ctx context.Context) ([]stock.Mismatch, error)
}

// Locker obtains distributed locks.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// DefaultReconcileLockTTL bounds how long a crashed worker can block the next run.
const DefaultReconcileLockTTL = 5 * time.Minute

// StockReconcileJob runs ledger reconciliation on one worker at a time.
type StockReconcileJob struct {
	Reconciler Reconciler
	Locker     Locker
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	LockTTL    time.Duration
}

// NewStockReconcileJob initialises the reconcile handler.
func NewStockReconcileJob(reconciler Reconciler, locker Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockReconcileJob {
	return &StockReconcileJob{
		Reconciler: reconciler,
		Locker:     locker,
		Logger:     logger,
		Metrics:    metrics,
		LockTTL:    DefaultReconcileLockTTL,
	}
}

// Handle executes the reconciliation.
func (j *StockReconcileJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Reconciler == nil {
		return errors.New("stock reconcile: handler not configured")
	}
	var payload StockReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	logger := j.logger()

	if j.Locker != nil {
		lock, err := j.Locker.Obtain(ctx, shared.ReconcileLockKey, j.lockTTL(), nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			logger.Info("stock reconcile already running elsewhere, skipping")
			return nil
		}
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				logger.Warn("release reconcile lock", slog.Any("error", err))
			}
		}()
	}

	tracker := j.Metrics.Track(TaskStockReconcile)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	mismatches, err := j.Reconciler.Reconcile(ctx)
	if err != nil {
		logger.Error("stock reconcile failed", slog.Any("error", err))
		return err
	}
	j.Metrics.SetLedgerMismatches(len(mismatches))
	if len(mismatches) > 0 {
		logger.Warn("stock reconcile found mismatches", slog.Int("products", len(mismatches)))
	} else {
		logger.Info("stock reconcile clean")
	}
	return nil
}

func (j *StockReconcileJob) lockTTL() time.Duration {
	if j.LockTTL > 0 {
		return j.LockTTL
	}
	return DefaultReconcileLockTTL
}

func (j *StockReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("task", TaskStockReconcile))
	}
	return slog.Default().With(slog.String("task", TaskStockReconcile))
}
