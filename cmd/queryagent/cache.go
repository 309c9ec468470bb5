package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"queryagent/internal/cache"
	"queryagent/internal/config"
)

func newCacheCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the persisted query cache",
	}

	// withStore opens the configured store, runs fn and persists the result.
	withStore := func(cmd *cobra.Command, fn func(ctx context.Context, s *cache.Store, p cache.Persister) error) error {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		// keep stdout for command output
		cfg.LogLevel = "warn"
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx := cmd.Context()
		opened, err := openStore(ctx, cfg, logger, true)
		if err != nil {
			return err
		}
		defer func() {
			if err := opened.closeResources(); err != nil {
				logger.Warn("close cache backend", zap.Error(err))
			}
		}()

		runErr := fn(ctx, opened.store, opened.persister)
		if err := opened.store.Close(); err != nil && runErr == nil {
			runErr = err
		}
		return runErr
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s *cache.Store, p cache.Persister) error {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Backend:     %s\n", s.Backend())
				fmt.Fprintf(out, "Entries:     %d/%d\n", s.Len(), s.MaxEntries())
				fmt.Fprintf(out, "Dimension:   %d\n", s.Dimension())
				if oldest, ok := s.Oldest(); ok {
					fmt.Fprintf(out, "Oldest:      %s (%s ago)\n",
						oldest.Format(time.RFC3339), time.Since(oldest).Round(time.Second))
				}
				var hits int64
				for _, e := range s.Snapshot() {
					hits += e.HitCount
				}
				fmt.Fprintf(out, "Total hits:  %d\n", hits)
				if fp, ok := p.(*cache.FilePersister); ok {
					fmt.Fprintf(out, "File:        %s (%d bytes)\n", fp.Path(), fp.Size())
				}
				return nil
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List cached queries, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s *cache.Store, _ cache.Persister) error {
				out := cmd.OutOrStdout()
				for _, e := range s.Snapshot() {
					fmt.Fprintf(out, "%s  hits=%-4d  %s\n",
						e.CreatedAt.Format(time.RFC3339), e.HitCount, e.QueryText)
				}
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s *cache.Store, _ cache.Persister) error {
				n, err := s.Clear(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d entries\n", n)
				return nil
			})
		},
	}

	var olderThan time.Duration
	evictCmd := &cobra.Command{
		Use:   "evict-stale",
		Short: "Remove entries created before now minus --older-than",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			return withStore(cmd, func(ctx context.Context, s *cache.Store, _ cache.Persister) error {
				removed, err := s.EvictStale(ctx, olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Evicted %d entries older than %s\n", len(removed), olderThan)
				return nil
			})
		},
	}
	evictCmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "maximum entry age")

	var keep int
	trimCmd := &cobra.Command{
		Use:   "trim",
		Short: "Keep only the newest --keep entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if keep < 0 {
				return fmt.Errorf("--keep must not be negative")
			}
			return withStore(cmd, func(ctx context.Context, s *cache.Store, _ cache.Persister) error {
				removed, err := s.Trim(ctx, keep)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries, keeping latest %d\n", len(removed), keep)
				return nil
			})
		},
	}
	trimCmd.Flags().IntVar(&keep, "keep", cache.DefaultMaxEntries, "entries to keep")

	cmd.AddCommand(statsCmd, listCmd, clearCmd, evictCmd, trimCmd)
	return cmd
}
