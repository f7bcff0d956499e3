package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"nextpage/api/internal/config"
	"nextpage/api/internal/store"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(ctx context.Context, cfg config.Config, logger *zap.Logger, st *store.PostgresStore) error {
				applied, err := store.ApplyMigrations(ctx, st.DB(), os.DirFS(cfg.MigrationsDir))
				if err != nil {
					return err
				}
				logger.Info("migrations applied", zap.Strings("versions", applied))
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(ctx context.Context, cfg config.Config, logger *zap.Logger, st *store.PostgresStore) error {
				version, err := store.RollbackLast(ctx, st.DB(), os.DirFS(cfg.MigrationsDir))
				if err != nil {
					return err
				}
				logger.Info("migration rolled back", zap.String("version", version))
				return nil
			})
		},
	})
	return cmd
}

func withDatabase(ctx context.Context, fn func(context.Context, config.Config, *zap.Logger, *store.PostgresStore) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.StoreDriver != "postgres" {
		return fmt.Errorf("migrate requires the postgres store driver, got %q", cfg.StoreDriver)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{MaxOpenConns: 2})
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, cfg, logger, store.NewPostgresStore(db))
}
