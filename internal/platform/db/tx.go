package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/goodsflow/internal/shared"
)

// DefaultTxAttempts bounds how often WithTx re-runs a transaction aborted by
// a serialization failure or deadlock.
const DefaultTxAttempts = 3

// Isolation levels. Mutations lock every row they read-modify-write with
// SELECT ... FOR UPDATE, which under ReadCommitted re-reads the latest
// committed version once the lock is granted. A hot stock row therefore
// serializes its writers instead of aborting them with 40001.
var (
	mutationTx = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	snapshotTx = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
)

// TxRunner opens transactions on a pool and retries transient aborts from
// scratch.
type TxRunner struct {
	pool     *pgxpool.Pool
	attempts int
}

// NewTxRunner constructs a runner. attempts <= 0 falls back to DefaultTxAttempts.
func NewTxRunner(pool *pgxpool.Pool, attempts int) *TxRunner {
	if attempts <= 0 {
		attempts = DefaultTxAttempts
	}
	return &TxRunner{pool: pool, attempts: attempts}
}

// Pool exposes the underlying pool for non-transactional reads.
func (r *TxRunner) Pool() *pgxpool.Pool {
	return r.pool
}

// WithTx runs fn inside a ReadCommitted transaction. Deadlocks, the rare
// serialization failure and errors wrapping shared.ErrTransient are retried
// with a short linear backoff; every other error rolls back and is returned
// unchanged.
func (r *TxRunner) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return r.run(ctx, mutationTx, fn)
}

// ReadSnapshot runs fn in a read-only RepeatableRead transaction, so every
// statement in fn sees the same committed state.
func (r *TxRunner) ReadSnapshot(ctx context.Context, fn func(pgx.Tx) error) error {
	return r.run(ctx, snapshotTx, fn)
}

func (r *TxRunner) run(ctx context.Context, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	if r == nil || r.pool == nil {
		return errors.New("platform/db: tx runner not initialised")
	}
	return retry(ctx, r.attempts, func() error { return inTx(ctx, r.pool, opts, fn) })
}

// retry re-runs attempt while it fails transiently, up to attempts times.
func retry(ctx context.Context, attempts int, attempt func() error) error {
	var err error
	for n := 1; n <= attempts; n++ {
		err = attempt()
		if err == nil || !(retryable(err) || errors.Is(err, shared.ErrTransient)) {
			return Classify(err)
		}
		if n == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return Classify(err)
		case <-time.After(time.Duration(n) * 10 * time.Millisecond):
		}
	}
	return Classify(err)
}

func inTx(ctx context.Context, pool *pgxpool.Pool, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}
	return nil
}

// SQLSTATE codes the service reacts to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
	}
	return false
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// Classify wraps infrastructure failures into shared.ErrTransient. Business
// errors and nil pass through untouched.
func Classify(err error) error {
	if err == nil || shared.IsBusiness(err) || errors.Is(err, shared.ErrTransient) {
		return err
	}
	if retryable(err) || pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", shared.ErrTransient, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %w", shared.ErrTransient, err)
	}
	return err
}
