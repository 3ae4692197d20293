// Package main is the entry point of the Feedback Hub gamification service.
//
// One binary carries the long-running API server and the operational
// commands around it:
//
//	gamify serve                       HTTP API, event bus, background jobs
//	gamify migrate up|down|status      PostgreSQL schema
//	gamify seed --file catalog.yaml    upsert achievement definitions
//	gamify sync-points --user ID       reconcile one user's points
//	gamify evaluate --user ID          evaluate one user's achievements
//	gamify version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/feedbackhub/gamification/config"
	"github.com/feedbackhub/gamification/pkg/logger"
)

// Set at build time: -ldflags "-X main.version=1.2.3"
var version = ""

type rootOptions struct {
	envFiles []string
	logLevel string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "gamify",
		Short:         "Points, levels and achievements for Feedback Hub",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load before reading the environment")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newSeedCmd(opts),
		newProfileCmd(opts),
		newSyncPointsCmd(opts),
		newEvaluateCmd(opts),
		newVersionCmd(opts),
	)
	return root
}

// bootstrap loads configuration and builds the logger.
func (o *rootOptions) bootstrap() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(o.envFiles...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if version != "" {
		cfg.App.Version = version
	}

	level := cfg.Observability.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}

	logOpts := logger.DefaultOptions()
	logOpts.Level = logger.ParseLevel(level)
	logOpts.AddCaller = !cfg.IsProduction()
	logOpts.File = cfg.Observability.LogFile
	logOpts.MaxSizeMB = cfg.Observability.LogMaxSizeMB
	logOpts.MaxBackups = cfg.Observability.LogMaxBackups

	log := logger.New(logOpts).With(
		logger.String("app", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
	)
	return cfg, log, nil
}
