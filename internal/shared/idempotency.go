package shared

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrIdempotencyConflict is returned when a request key was already used.
var ErrIdempotencyConflict = fmt.Errorf("%w: idempotent request already processed", ErrInvalidTransition)

// Execer is satisfied by pgx.Tx and *pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// IdempotencyScope validates a client supplied Idempotency-Key and scopes it
// to module.
func IdempotencyScope(module, key string) (string, error) {
	key = strings.TrimSpace(key)
	switch {
	case key == "":
		return "", fmt.Errorf("%w: idempotency key required", ErrValidation)
	case len(key) > 200:
		return "", fmt.Errorf("%w: idempotency key too long", ErrValidation)
	case module == "":
		return "", fmt.Errorf("idempotency: module required")
	}
	return module + ":" + key, nil
}

// ClaimIdempotencyKey records key for module through q. Callers run it on
// the transaction of the guarded write, so the key commits with the write
// and disappears with its rollback. A second claim of a committed key fails
// with ErrIdempotencyConflict; a concurrent claim waits for the first
// transaction to finish.
func ClaimIdempotencyKey(ctx context.Context, q Execer, key, module string) error {
	scoped, err := IdempotencyScope(module, key)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx,
		`INSERT INTO idempotency_keys (key, module) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
		scoped, module)
	if err != nil {
		return fmt.Errorf("idempotency: claim %s: %w", scoped, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}
