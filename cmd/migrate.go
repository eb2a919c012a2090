package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/actuary-jobs-crawler/internal/config"
	pgstore "github.com/JakeFAU/actuary-jobs-crawler/internal/storage/postgres"
)

// newMigrateCmd creates the 'migrate' subcommand, which creates the posting
// and run tables when they are missing.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Creates the Postgres tables",
		RunE:  runMigrateCommand,
	}
}

func runMigrateCommand(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	if e.cfg.DB.Driver != config.DBPostgres {
		return fmt.Errorf("migrate needs db.driver %q, got %q", config.DBPostgres, e.cfg.DB.Driver)
	}
	ctx := cmd.Context()
	pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{DSN: e.cfg.DB.DSN, MaxConns: e.cfg.DB.MaxConns})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	jobStore, err := pgstore.NewJobStoreWithPool(pool, e.cfg.DB.Table, nil)
	if err != nil {
		pool.Close()
		return err
	}
	defer func() { _ = jobStore.Close() }()
	runStore, err := pgstore.NewRunStoreWithPool(pool, e.cfg.DB.RunTable)
	if err != nil {
		return err
	}

	if err := jobStore.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := runStore.EnsureSchema(ctx); err != nil {
		return err
	}
	e.logger.Info("schema ready",
		zap.String("table", e.cfg.DB.Table),
		zap.String("run_table", e.cfg.DB.RunTable),
	)
	return nil
}
