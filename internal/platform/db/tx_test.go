package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/goodsflow/internal/shared"
)

func TestClassifyMarksSerializationFailureTransient(t *testing.T) {
	err := fmt.Errorf("update stock: %w", &pgconn.PgError{Code: codeSerializationFailure})
	require.True(t, retryable(err))
	require.ErrorIs(t, Classify(err), shared.ErrTransient)
}

func TestClassifyKeepsBusinessErrors(t *testing.T) {
	err := fmt.Errorf("%w: qty must be positive", shared.ErrValidation)
	got := Classify(err)
	require.ErrorIs(t, got, shared.ErrValidation)
	require.NotErrorIs(t, got, shared.ErrTransient)
	require.Nil(t, Classify(nil))
}

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, IsUniqueViolation(&pgconn.PgError{Code: codeUniqueViolation}))
	require.False(t, IsUniqueViolation(errors.New("boom")))
}

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/db", migrateURL("postgres://u:p@localhost:5432/db"))
	require.Equal(t, "pgx5://h/db", migrateURL("postgresql://h/db"))
	require.Equal(t, "pgx5://h/db", migrateURL("pgx5://h/db"))
}

func TestRetryRerunsSerializationFailures(t *testing.T) {
	calls := 0
	err := retry(context.Background(), 3, func() error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: codeSerializationFailure}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryStopsOnBusinessErrors(t *testing.T) {
	calls := 0
	err := retry(context.Background(), 5, func() error {
		calls++
		return fmt.Errorf("%w: not enough stock", shared.ErrInsufficientStock)
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.NotErrorIs(t, err, shared.ErrTransient)
	require.Equal(t, 1, calls)
}

func TestRetryGivesUpTransient(t *testing.T) {
	calls := 0
	err := retry(context.Background(), 2, func() error {
		calls++
		return &pgconn.PgError{Code: codeDeadlockDetected}
	})
	require.ErrorIs(t, err, shared.ErrTransient)
	require.Equal(t, 2, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls = 0
	err = retry(ctx, 5, func() error {
		calls++
		return fmt.Errorf("%w: version moved", shared.ErrTransient)
	})
	require.ErrorIs(t, err, shared.ErrTransient)
	require.Equal(t, 1, calls)
}

func TestMutationsUseReadCommitted(t *testing.T) {
	require.Equal(t, pgx.ReadCommitted, mutationTx.IsoLevel)
	require.Equal(t, pgx.ReadOnly, snapshotTx.AccessMode)
}
