// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HomeHeaven Contributors

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/homeheaven/homeheaven/internal/auth"
	"github.com/homeheaven/homeheaven/internal/auth/postgres"
	"github.com/homeheaven/homeheaven/internal/config"
	"github.com/homeheaven/homeheaven/internal/httpapi"
	"github.com/homeheaven/homeheaven/internal/logging"
	"github.com/homeheaven/homeheaven/internal/notify"
)

const (
	shutdownTimeout      = 10 * time.Second
	readinessPingTimeout = 2 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API. Pending database migrations are applied first.
Metrics and health probes are served on --metrics-addr.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServeWithDeps(ctx, cfg, cmd, nil)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps runs the server until ctx is done or a listener fails.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *Deps) error {
	deps = deps.withDefaults()

	if err := cfg.Validate(); err != nil {
		return err //nolint:wrapcheck // config errors carry codes
	}

	logger, err := logging.SetDefault(logging.Options{
		Service: "homeheaven",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
		Writer:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return oops.Code("SERVE_LOGGING_FAILED").Wrap(err)
	}

	logger.Info("starting homeheaven",
		"http_addr", cfg.HTTP.Addr,
		"metrics_addr", cfg.Metrics.Addr,
		"log_format", cfg.Log.Format,
	)

	// Opening first waits out a database that is still starting.
	db, err := deps.DatabaseOpener(ctx, cfg.Database.URL, logger)
	if err != nil {
		return oops.Code("SERVE_DATABASE_FAILED").With("operation", "open database").Wrap(err)
	}
	defer db.Close()

	if err := migrateUp(deps, cfg.Database.URL); err != nil {
		return err
	}

	var ready atomic.Bool
	readiness := func() bool {
		if !ready.Load() {
			return false
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), readinessPingTimeout)
		defer cancel()
		return db.Ping(pingCtx) == nil
	}

	var (
		metricsErr <-chan error
		recorder   auth.EventRecorder
		observer   httpapi.RequestObserver
		registerer prometheus.Registerer
	)
	if cfg.Metrics.Addr != "" {
		obsServer := deps.ObservabilityServerFactory(cfg.Metrics.Addr, readiness)
		metricsErr, err = obsServer.Start()
		if err != nil {
			return oops.Code("SERVE_METRICS_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		defer stopWithTimeout(logger, "observability server", obsServer.Stop)
		recorder = obsServer.Metrics()
		observer = obsServer.Metrics()
		registerer = obsServer.Registry()
	}

	svc, closeStore, err := buildAuthService(cfg, db, cmd.OutOrStdout(), logger, recorder, registerer)
	if err != nil {
		return err
	}
	defer closeStore()

	listener, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("SERVE_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}

	httpServer := &http.Server{
		Handler:           httpapi.NewRouter(svc, httpapi.Options{Logger: logger, Observer: observer}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		defer close(httpErr)
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			httpErr <- serveErr
		}
	}()

	ready.Store(true)
	logger.Info("homeheaven ready", "http_addr", listener.Addr().String())

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down", "reason", context.Cause(ctx))
	case err := <-httpErr:
		runErr = oops.Code("SERVE_HTTP_FAILED").Wrap(err)
	case err := <-metricsErr:
		runErr = oops.Code("SERVE_METRICS_FAILED").Wrap(err)
	}
	ready.Store(false)

	stopWithTimeout(logger, "http server", httpServer.Shutdown)
	return runErr
}

// buildAuthService wires the auth stack. recorder and registerer may be nil.
func buildAuthService(
	cfg *config.Config,
	db Database,
	out io.Writer,
	logger *slog.Logger,
	recorder auth.EventRecorder,
	registerer prometheus.Registerer,
) (*auth.Service, func(), error) {
	tokens, err := auth.NewTokenIssuer(cfg.SigningKeys(), nil)
	if err != nil {
		return nil, nil, oops.Code("SERVE_TOKENS_FAILED").Wrap(err)
	}

	notifier := newNotifier(cfg, out, logger)

	store := auth.NewRecoveryCodeStore(auth.RecoveryCodeStoreConfig{
		SweepInterval: cfg.Recovery.SweepInterval,
		Registerer:    registerer,
	})
	recovery, err := auth.NewRecoveryManager(store, notifier, auth.RecoveryManagerConfig{
		CodeTTL: cfg.Recovery.CodeTTL,
		Logger:  logger,
	})
	if err != nil {
		store.Close()
		return nil, nil, oops.Code("SERVE_RECOVERY_FAILED").Wrap(err)
	}

	svc, err := auth.NewService(postgres.NewUserRepository(db), auth.NewArgon2idHasher(), tokens, recovery, auth.ServiceConfig{
		TokenTTL:                cfg.Token.TTL,
		HideUnknownDestinations: cfg.Recovery.HideUnknownDestinations,
		Logger:                  logger,
		Recorder:                recorder,
	})
	if err != nil {
		store.Close()
		return nil, nil, oops.Code("SERVE_AUTH_FAILED").Wrap(err)
	}
	return svc, store.Close, nil
}

// newNotifier prints recovery messages to out. Deployments that mail codes
// supply their own auth.Notifier.
func newNotifier(cfg *config.Config, out io.Writer, logger *slog.Logger) auth.Notifier {
	logger.Warn("recovery codes are printed to stdout")
	return notify.NewConsoleNotifier(out, notify.DefaultFrom, cfg.Recovery.CodeTTL, logger)
}

func migrateUp(deps *Deps, url string) error {
	m, err := deps.MigratorFactory(url)
	if err != nil {
		return oops.Code("SERVE_MIGRATE_FAILED").With("operation", "init migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			slog.Warn("best-effort migrator close failed", "operation", "close migrator", "error", closeErr.Error())
		}
	}()
	if err := m.Up(); err != nil {
		return oops.Code("SERVE_MIGRATE_FAILED").With("operation", "migrate up").Wrap(err)
	}
	return nil
}

func stopWithTimeout(logger *slog.Logger, name string, stop func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := stop(ctx); err != nil {
		logger.Warn("shutdown failed", "component", name, "operation", "shutdown", "error", err.Error())
	}
}
