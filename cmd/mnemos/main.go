// Package main implements the mnemos CLI: a personalization middleware
// daemon that ingests observation records, maintains a tiered knowledge
// store, and synthesizes per-user Personal System Prompts.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mnemos/internal/config"
	"mnemos/internal/logging"
)

var (
	configPath string
	debugMode  bool
	logger     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mnemos",
	Short: "Personalization middleware with a tiered knowledge store and PSP engine",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if debugMode {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
		logging.Close()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the middleware until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if debugMode {
			cfg.Logging.DebugMode = true
		}
		if err := logging.Initialize(cfg.DataDir, cfg.LoggingOptions()); err != nil {
			return err
		}

		app, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		if watcher, err := config.NewWatcher(configPath); err == nil {
			defer watcher.Close()
		} else {
			logger.Debug("config watch disabled", zap.Error(err))
		}

		app.Maintenance.Start()
		defer app.Maintenance.Stop()

		logger.Info("mnemos serving",
			zap.String("data_dir", cfg.DataDir),
			zap.Bool("hot_tier", app.HotEnabled),
			zap.String("embedding", app.EmbeddingName))

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := logging.Initialize(cfg.DataDir, cfg.LoggingOptions()); err != nil {
			return err
		}
		app, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		stats, err := app.Service.Stats()
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run one maintenance pass (tier migration, backup pruning)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := logging.Initialize(cfg.DataDir, cfg.LoggingOptions()); err != nil {
			return err
		}
		app, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
		defer cancel()

		moved, err := app.Tiered.Migrate(ctx)
		if err != nil {
			return err
		}
		pruned, err := app.Backups.Prune()
		if err != nil {
			return err
		}
		logger.Info("maintenance complete", zap.Int("migrated", moved), zap.Int("backups_pruned", pruned))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "mnemos.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, statusCmd, maintainCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
