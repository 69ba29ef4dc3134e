package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/goodsflow/internal/jobs"
	"github.com/odyssey-erp/goodsflow/internal/ledger"
	"github.com/odyssey-erp/goodsflow/internal/shared"
)

// DefaultReconcileLockTTL bounds how long a crashed worker can block the next run.
const DefaultReconcileLockTTL = 10 * time.Minute

// Reconciler is implemented by *ledger.Service.
type Reconciler interface {
	Reconcile(ctx context.Context, pageSize int) (ledger.ReconcileReport, error)
}

// Locker is implemented by *redislock.Client.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// ReconcileJob runs the ledger reconciliation on one worker at a time.
type ReconcileJob struct {
	Ledger  Reconciler
	Locker  Locker
	LockTTL time.Duration
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReconcileJob constructs the job handler.
func NewReconcileJob(ledgerSvc Reconciler, locker Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{
		Ledger:  ledgerSvc,
		Locker:  locker,
		LockTTL: DefaultReconcileLockTTL,
		Logger:  logger,
		Metrics: metrics,
	}
}

// Handle executes the reconciliation task. A run that finds another worker
// holding the lock is skipped, not retried; the next cron tick covers it.
func (j *ReconcileJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger reconcile: dependencies not configured")
	}
	var payload ReconcilePayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload.PageSize)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil
	}
	return err
}

// Run reconciles under the lock and returns the report. The CLI calls it
// directly.
func (j *ReconcileJob) Run(ctx context.Context, pageSize int) (report ledger.ReconcileReport, err error) {
	if j.Locker != nil {
		ttl := j.LockTTL
		if ttl <= 0 {
			ttl = DefaultReconcileLockTTL
		}
		lock, err := j.Locker.Obtain(ctx, shared.ReconcileLockKey, ttl, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			j.Metrics.Skipped(TaskLedgerReconcile, "locked")
			j.log().Info("reconcile already running elsewhere")
			return report, err
		}
		if err != nil {
			return report, err
		}
		defer func() {
			if relErr := lock.Release(context.WithoutCancel(ctx)); relErr != nil && !errors.Is(relErr, redislock.ErrLockNotHeld) {
				j.log().Warn("release reconcile lock", slog.Any("error", relErr))
			}
		}()
	}

	done := j.Metrics.Start(TaskLedgerReconcile)
	defer func() { err = done(err) }()

	start := time.Now()
	report, err = j.Ledger.Reconcile(ctx, pageSize)
	if err != nil {
		j.log().Error("ledger reconcile", slog.Int("checked", report.Checked), slog.Any("error", err))
		return report, err
	}
	j.Metrics.AddMismatches(len(report.Mismatches))
	for _, m := range report.Mismatches {
		j.log().Warn("ledger mismatch",
			slog.Int64("variant_id", m.VariantID),
			slog.Int64("warehouse_id", m.WarehouseID),
			slog.Int64("quantity", m.Quantity),
			slog.Int64("replayed", m.Replayed),
			slog.Int("breaks", len(m.Breaks)),
		)
	}
	j.log().Info("ledger reconciled",
		slog.Int("checked", report.Checked),
		slog.Int("mismatches", len(report.Mismatches)),
		slog.Duration("duration", time.Since(start)),
	)
	return report, nil
}

func (j *ReconcileJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
