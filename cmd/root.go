// Package cmd defines and implements the CLI commands for the jobs crawler.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/app"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/config"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

type rootOptions struct {
	cfgFile  string
	envFiles []string
	app      *app.App
}

// shutdown closes the app once. It runs whether or not the command succeeded.
func (o *rootOptions) shutdown() {
	if o.app == nil {
		return
	}
	_ = o.app.Close()
	_ = o.app.Logger().Sync()
	o.app = nil
}

// newApp is the application factory. Tests replace it to inject fakes.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command. Callers must call
// opts.shutdown after Execute returns.
func newRootCmd() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "jobs-crawler",
		Short: "Crawls recruitment sites and persists normalized job postings.",
		Long: `jobs-crawler runs registered source extractors through a shared
identity pool, normalizes and deduplicates what they find, and saves new
postings through the ingestion API with direct storage as a fallback.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(opts.envFiles...); err != nil {
				return err
			}
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			opts.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(*cobra.Command, []string) {
			opts.shutdown()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, ".env files to load (default ./.env if present)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newScheduleCmd())
	cmd.AddCommand(newProxiesCmd())
	return cmd, opts
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command's context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, opts := newRootCmd()
	err := root.ExecuteContext(ctx)
	opts.shutdown()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
