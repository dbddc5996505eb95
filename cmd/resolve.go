// -- cmd/resolve.go --
package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/formcourier/formcourier/internal/browser"
	"github.com/formcourier/formcourier/internal/cache"
	"github.com/formcourier/formcourier/internal/observability"
	"github.com/formcourier/formcourier/internal/resolver"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// newResolveCmd creates the `resolve` command, a diagnostic that locates a
// site's contact page without touching any form.
func newResolveCmd() *cobra.Command {
	resolveCmd := &cobra.Command{
		Use:   "resolve <site-url>",
		Short: "Resolve a site's contact page without submitting anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return fmt.Errorf("database.url is required for resolve")
			}

			pool, err := pgxpool.New(ctx, cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			clock := clockwork.NewRealClock()
			resolutionCache, err := cache.New(ctx, pool, logger, clock, cfg.Cache)
			if err != nil {
				return err
			}
			if err := resolutionCache.EnsureSchema(ctx); err != nil {
				return err
			}

			manager := browser.NewManager(ctx, cfg.Browser, logger)
			defer func() {
				if err := manager.Shutdown(context.Background()); err != nil {
					logger.Warn("Browser shutdown incomplete", zap.Error(err))
				}
			}()

			sess, err := manager.OpenSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close(context.Background())

			page, err := resolver.New(logger, resolutionCache, cfg.Resolver, cfg.Network).
				Resolve(ctx, sess, args[0])
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(page, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	return resolveCmd
}
