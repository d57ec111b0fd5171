package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"reward_platform/internal/config"
	"reward_platform/internal/db"
	"reward_platform/internal/logger"
	"reward_platform/internal/metrics"
	"reward_platform/internal/service"

	"github.com/spf13/cobra"
)

// Version проставляется при сборке через -ldflags
var Version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "reward",
		Short:        "Reward platform API server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run HTTP API, websocket hub, admin bot and scheduled reconciliation",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database schema",
			RunE: func(cmd *cobra.Command, args []string) error {
				return migrate(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "reconcile",
			Short: "Check every balance against the ledger once and print drifted users",
			RunE: func(cmd *cobra.Command, args []string) error {
				return reconcileOnce(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), Version)
			},
		},
	)
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat == "json")
	return cfg, nil
}

func migrate(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.StorageDriver != config.StoragePostgres {
		return fmt.Errorf("migrate requires STORAGE_DRIVER=%s", config.StoragePostgres)
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	return db.Migrate(ctx, pool)
}

func reconcileOnce(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	report, err := service.NewReconciler(store, metrics.Default()).Run(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if len(report.Drifted) > 0 {
		return fmt.Errorf("%d balances drifted from the ledger", len(report.Drifted))
	}
	return nil
}
