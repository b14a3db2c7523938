package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/strataregula/doe-runner/pkg/cache"
	"github.com/strataregula/doe-runner/pkg/config"
)

var pruneOlderThan time.Duration

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the result cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCache()
		if err != nil {
			return err
		}

		fmt.Printf("cached results: %d\n", store.Len())

		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [hash]",
	Short: "Remove one cached result by hash, or all without an argument",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCache()
		if err != nil {
			return err
		}

		if len(args) == 1 {
			if err := store.Clear(args[0]); err != nil {
				return fmt.Errorf("clearing cache entry: %w", err)
			}

			log.WithField("hash", args[0]).Info("Cache entry cleared")

			return nil
		}

		removed, err := store.ClearAll()
		if err != nil {
			return fmt.Errorf("clearing cache: %w", err)
		}

		log.WithField("removed", removed).Info("Cache cleared")

		return nil
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove cached results older than a given age",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCache()
		if err != nil {
			return err
		}

		removed, err := store.Prune(pruneOlderThan)
		if err != nil {
			return fmt.Errorf("pruning cache: %w", err)
		}

		log.WithField("removed", removed).Info("Cache pruned")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cachePruneCmd)

	cachePruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 7*24*time.Hour,
		"remove entries older than this duration (e.g. 72h)")
}

func openCache() (cache.Store, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	store, err := cache.NewFSStore(log, cfg.Cache.Dir)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	return store, nil
}
