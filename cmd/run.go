// -- cmd/run.go --
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/formcourier/formcourier/internal/analyzer"
	"github.com/formcourier/formcourier/internal/browser"
	"github.com/formcourier/formcourier/internal/cache"
	"github.com/formcourier/formcourier/internal/challenge"
	"github.com/formcourier/formcourier/internal/events"
	"github.com/formcourier/formcourier/internal/observability"
	"github.com/formcourier/formcourier/internal/orchestrator"
	"github.com/formcourier/formcourier/internal/resolver"
	"github.com/formcourier/formcourier/internal/screenshots"
	"github.com/formcourier/formcourier/internal/session"
	"github.com/formcourier/formcourier/internal/store"
	"github.com/formcourier/formcourier/internal/submit"
)

// stopGrace bounds the drain after a shutdown signal: the attempt in flight
// is cancelled and still needs to reach its terminal outcome.
const stopGrace = 30 * time.Second

// newRunCmd creates the `run` command, which works through the pending
// targets in the record store one at a time.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Attempt pending targets from the record store",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return fmt.Errorf("database.url is required for run")
			}

			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return err
			}
			eventsPath, err := cmd.Flags().GetString("events")
			if err != nil {
				return err
			}

			// -- Storage --
			pool, err := pgxpool.New(ctx, cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			clock := clockwork.NewRealClock()

			recordStore, err := store.New(ctx, pool, logger)
			if err != nil {
				return err
			}
			if err := recordStore.EnsureSchema(ctx); err != nil {
				return err
			}
			resolutionCache, err := cache.New(ctx, pool, logger, clock, cfg.Cache)
			if err != nil {
				return err
			}
			if err := resolutionCache.EnsureSchema(ctx); err != nil {
				return err
			}

			targets, err := loadPendingTargets(ctx, recordStore, limit)
			if err != nil {
				return err
			}
			logger.Info("Loaded pending targets", zap.Int("count", len(targets)))

			// -- Event stream --
			bus := events.NewBus(logger, clock)
			defer bus.Close()

			eventsOut := cmd.OutOrStdout()
			if eventsPath != "" {
				f, err := os.Create(eventsPath)
				if err != nil {
					return fmt.Errorf("failed to create events file: %w", err)
				}
				defer f.Close()
				eventsOut = f
			}
			stream := events.NewStreamWriter(eventsOut)
			tracker := events.NewTracker()

			sub, unsubscribe := bus.Subscribe(256)
			var consumer errgroup.Group
			consumer.Go(func() error {
				for ev := range sub {
					tracker.Apply(ev)
					stream.Publish(ev)
				}
				return stream.Err()
			})

			// -- Browser and pipeline --
			manager := browser.NewManager(ctx, cfg.Browser, logger)
			shots, err := screenshots.New(logger, cfg.Shots)
			if err != nil {
				return err
			}

			detector := challenge.New(logger, clock, cfg.Challenge)
			runner := session.New(
				logger,
				clock,
				manager,
				resolver.New(logger, resolutionCache, cfg.Resolver, cfg.Network),
				analyzer.New(logger),
				detector,
				submit.New(logger, detector, clock, cfg.Submit),
				bus,
				shots,
				cfg.Engine,
				cfg.Network,
			)

			engine := orchestrator.New(logger, clock, runner, recordStore, bus, cfg.Engine)
			if err := engine.Start(ctx); err != nil {
				return err
			}

			for _, t := range targets {
				if err := engine.Enqueue(t); err != nil {
					logger.Warn("Target not enqueued", zap.String("target_id", t.ID), zap.Error(err))
				}
			}

			// Drain works the queue to completion; a signal cancels ctx,
			// which aborts the attempt in flight and ends the drain early.
			stopCtx, cancel := context.WithTimeout(context.Background(), runDeadline(cfg.Engine.SessionDeadline, len(targets)))
			defer cancel()
			stopErr := engine.Drain(stopCtx)

			if err := manager.Shutdown(context.Background()); err != nil {
				logger.Warn("Browser shutdown incomplete", zap.Error(err))
			}
			shots.Flush()
			unsubscribe()
			bus.Close()
			if werr := consumer.Wait(); werr != nil {
				logger.Warn("Event stream writer failed", zap.Error(werr))
			}
			if stopErr != nil {
				return stopErr
			}

			printSummary(cmd, tracker)
			return ctx.Err()
		},
	}

	runCmd.Flags().Int("limit", 100, "maximum number of pending targets to attempt")
	runCmd.Flags().String("events", "", "write the JSONL event stream to this file instead of stdout")
	return runCmd
}

// runDeadline bounds a whole run: every target gets its session deadline
// plus slack for pacing and teardown.
func runDeadline(sessionDeadline time.Duration, targets int) time.Duration {
	d := time.Duration(targets)*sessionDeadline + stopGrace
	if d < stopGrace {
		d = stopGrace
	}
	return d
}

// printSummary renders final per-target statuses after the stream closes.
func printSummary(cmd *cobra.Command, tracker *events.Tracker) {
	statuses := tracker.Snapshot()
	if len(statuses) == 0 {
		return
	}
	fmt.Fprintln(cmd.OutOrStdout())
	for id, ev := range statuses {
		detail := ev.Detail
		if detail == "" {
			detail = string(ev.Kind)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", id, ev.Kind, detail)
	}
}
