package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// newScheduleCmd creates the 'schedule' subcommand: passes on an interval plus
// the ops HTTP server, until interrupted.
func newScheduleCmd() *cobra.Command {
	var keyword string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Runs passes on crawler.interval and serves the ops API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchedule(cmd, keyword)
		},
	}
	cmd.Flags().StringVar(&keyword, "keyword", "", "search keyword (default crawler.keyword)")
	return cmd
}

func runSchedule(cmd *cobra.Command, keyword string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()
	if keyword == "" {
		keyword = cfg.Keyword()
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           appInstance.Handler(ctx),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	runErr := appInstance.Orchestrator().ScheduledRun(ctx, keyword)
	logger.Info("shutdown initiated")

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
