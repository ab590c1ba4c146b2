package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	dqhttp "github.com/fyrsmithlabs/docqa/internal/http"
)

const tokenPurgeInterval = time.Hour

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the docqa HTTP API and serve until SIGINT or SIGTERM.

Examples:
  # Start with defaults (port 8000, SQLite at data/docqa.db)
  docqa serve

  # Override the port through the environment
  DOCQA_SERVER_HTTP_PORT=9000 docqa serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

// runServe blocks until ctx is cancelled, then shuts down gracefully.
func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	srv, err := dqhttp.NewServer(dqhttp.Services{
		Accounts:  a.accounts,
		Documents: a.documents,
		Jobs:      a.jobs,
		Answers:   a.answers,
	}, cfg.Server, a.logger.Named("http"),
		dqhttp.WithMeter(a.telemetry.Meter(instrumentationPrefix+"http")))
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	go a.purgeTokens(ctx, tokenPurgeInterval)

	a.logger.Info(ctx, "starting docqa",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("nats_connected", a.natsConn != nil),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	a.logger.Info(ctx, "server shutdown complete")
	return nil
}

// purgeTokens deletes expired bearer tokens every interval until ctx ends.
func (a *app) purgeTokens(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.accounts.PurgeExpired(ctx)
			if err != nil {
				a.logger.Warn(ctx, "purging expired tokens", zap.Error(err))
				continue
			}
			if n > 0 {
				a.logger.Info(ctx, "purged expired tokens", zap.Int64("count", n))
			}
		}
	}
}
