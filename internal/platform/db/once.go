package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ClaimOnce sets a nullable completion timestamp only if it is still NULL and
// reports whether this call claimed it. Run it inside the same transaction as
// the effect it guards: a concurrent or retried caller blocks on the row lock
// and, once the first claim commits, re-evaluates the row and finds the
// marker set.
func ClaimOnce(ctx context.Context, q Querier, table, column string, id int64, at time.Time) (bool, error) {
	sql := fmt.Sprintf(`UPDATE %s SET %s = $2 WHERE id = $1 AND %s IS NULL`,
		pgx.Identifier{table}.Sanitize(), pgx.Identifier{column}.Sanitize(), pgx.Identifier{column}.Sanitize())
	tag, err := q.Exec(ctx, sql, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
