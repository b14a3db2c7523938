package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/strataregula/doe-runner/pkg/api"
	"github.com/strataregula/doe-runner/pkg/backend"
	"github.com/strataregula/doe-runner/pkg/cache"
	"github.com/strataregula/doe-runner/pkg/config"
	"github.com/strataregula/doe-runner/pkg/runstore"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the inspection API server",
	Long:  `Serve backends, cached results and run history over HTTP.`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	registry := backend.NewRegistry(log)

	store, err := cache.NewFSStore(log, cfg.Cache.Dir)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}

	var history runstore.Store

	if cfg.History.Enabled {
		history = runstore.NewStore(log, &cfg.History.Database)

		if err := history.Start(ctx); err != nil {
			return fmt.Errorf("starting history store: %w", err)
		}

		defer func() {
			if err := history.Stop(); err != nil {
				log.WithError(err).Warn("Failed to stop history store")
			}
		}()
	}

	srv := api.NewServer(log, &cfg.API, registry, store, history)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down API server")
	cancel()

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	return nil
}
