package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bsm/redislock"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/goodsflow/cmd/goodsflowctl/cli"
	"github.com/odyssey-erp/goodsflow/internal/app"
	"github.com/odyssey-erp/goodsflow/internal/platform/cache"
	"github.com/odyssey-erp/goodsflow/internal/platform/db"
	"github.com/odyssey-erp/goodsflow/internal/shared"
	"github.com/odyssey-erp/goodsflow/jobs"
)

var (
	cfg    *app.Config
	logger *slog.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	err := rootCmd().ExecuteContext(ctx)
	var code exitError
	switch {
	case err == nil:
	case errors.As(err, &code):
		os.Exit(int(code))
	default:
		_, _ = fmt.Fprintln(os.Stderr, "goodsflowctl:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "goodsflowctl",
		Short:         "Operations tooling for the goods-flow service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := app.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
			logger = app.NewLogger(cfg)
			return nil
		},
	}
	root.AddCommand(migrateCmd(), ledgerCmd(), jobsCmd())
	return root
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Apply or roll back schema migrations"}
	withMigrator := func(fn func(*db.Migrator) error) error {
		m, err := db.NewMigrator(cfg.PGDSN)
		if err != nil {
			return err
		}
		defer func() { _ = m.Close() }()
		return fn(m)
	}
	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *db.Migrator) error { return m.Down(steps) })
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(func(m *db.Migrator) error { return m.Up() })
			},
		},
		down,
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(func(m *db.Migrator) error {
					v, dirty, err := m.Version()
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty=%t\n", v, dirty)
					return nil
				})
			},
		},
	)
	return cmd
}

// exitError carries a non-zero exit code without an extra message.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func exitCode(code int) error {
	if code == cli.ExitOK {
		return nil
	}
	return exitError(code)
}

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "ledger", Short: "Replay and verify the movement log"}

	var (
		variantID, warehouseID int64
		pageSize               int
		jsonOutput             bool
	)
	withLedger := func(ctx context.Context, fn func(*cli.LedgerCLI) int) error {
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		services := app.NewServices(app.Infrastructure{
			Config: cfg,
			Logger: logger,
			Runner: db.NewTxRunner(pool, cfg.DBTxRetries),
		})
		job := jobs.NewReconcileJob(services.Ledger, nil, logger, nil)
		if client, err := cache.New(ctx, cfg.RedisAddr); err == nil {
			defer func() { _ = client.Close() }()
			job.Locker = redislock.New(client)
		} else {
			logger.Warn("redis unavailable, reconciling without lock", slog.Any("error", err))
		}
		return exitCode(fn(cli.NewLedgerCLI(services.Ledger, job)))
	}

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Replay one (variant, warehouse) pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(l *cli.LedgerCLI) int {
				return l.VerifyCommand(shared.ContextWithActor(cmd.Context(), shared.Actor{Role: shared.RoleAdmin}), cli.VerifyOptions{
					VariantID:     variantID,
					WarehouseID:   warehouseID,
					OutputOptions: cli.OutputOptions{JSONOutput: jsonOutput, Stdout: cmd.OutOrStdout(), Stderr: cmd.ErrOrStderr()},
				})
			})
		},
	}
	verify.Flags().Int64Var(&variantID, "variant", 0, "variant id")
	verify.Flags().Int64Var(&warehouseID, "warehouse", 0, "warehouse id")
	verify.Flags().BoolVar(&jsonOutput, "json", false, "print JSON")

	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Replay every stock row",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(l *cli.LedgerCLI) int {
				return l.ReconcileCommand(cmd.Context(), cli.ReconcileOptions{
					PageSize:      pageSize,
					OutputOptions: cli.OutputOptions{JSONOutput: jsonOutput, Stdout: cmd.OutOrStdout(), Stderr: cmd.ErrOrStderr()},
				})
			})
		},
	}
	reconcile.Flags().IntVar(&pageSize, "page-size", 200, "stock rows per page")
	reconcile.Flags().BoolVar(&jsonOutput, "json", false, "print JSON")

	cmd.AddCommand(verify, reconcile)
	return cmd
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Inspect and trigger background jobs"}
	var pageSize int
	enqueue := &cobra.Command{
		Use:       "enqueue <task>",
		Short:     "Enqueue a job now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{jobs.TaskLedgerReconcile, jobs.TaskCacheInvalidate},
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cli.NewJobsCLI(cfg.RedisAddr)
			defer func() { _ = c.Close() }()
			info, err := c.Trigger(cmd.Context(), args[0], pageSize)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	enqueue.Flags().IntVar(&pageSize, "page-size", 200, "stock rows per page for ledger:reconcile")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print default queue counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cli.NewJobsCLI(cfg.RedisAddr)
			defer func() { _ = c.Close() }()
			s, err := c.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(s)
		},
	}
	cmd.AddCommand(enqueue, stats)
	return cmd
}
