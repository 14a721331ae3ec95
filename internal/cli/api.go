package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kultup/mailbot/internal/admin"
	"github.com/Kultup/mailbot/internal/api"
	"github.com/Kultup/mailbot/internal/config"
	"github.com/Kultup/mailbot/internal/logger"
	"github.com/Kultup/mailbot/internal/redisstore"
)

const shutdownTimeout = 5 * time.Second

// NewAPICmd builds the single-command root of the status API server.
func NewAPICmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:          "api",
		Short:        "api serves relay status and the admin endpoints over HTTP",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAPI(ctx, envFile, cmd)
		},
	}
	cmd.Flags().StringVar(&envFile, "env", config.DefaultEnvFile(), "dotenv file to read configuration from")

	cmd.SetErr(os.Stderr)
	cmd.SetOut(os.Stdout)

	return cmd
}

func ExecuteAPI() {
	if err := NewAPICmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAPI(ctx context.Context, envFile string, cmd *cobra.Command) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.RedisURL == "" {
		return errors.New("REDIS_URL is required for the status API")
	}

	log, closeLog, err := newLogger(cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeLog()

	store, err := redisstore.New(cfg.RedisURL, cfg.TTLSeconds)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer store.Close()

	var adminRoutes http.Handler
	adminHandler, err := admin.NewAdminHandler(cfg, store, log)
	switch {
	case errors.Is(err, admin.ErrNoPassword):
		log.Warn("ADMIN_PASSWORD not set, admin API disabled")
	case err != nil:
		return fmt.Errorf("admin setup: %w", err)
	default:
		adminRoutes = adminHandler.Routes()
	}

	ln, err := net.Listen("tcp", cfg.APIAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.APIAddr, err)
	}
	srv := &http.Server{
		Handler:           api.New(cfg, store, log).Router(adminRoutes),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serve(ctx, srv, ln, log)
}

// serve runs srv on ln until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, log logger.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server exiting")
	return nil
}
