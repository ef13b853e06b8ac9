package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"pkt.systems/pslog"

	"qms/ticket-service/internal/config"
	"qms/ticket-service/internal/httpapi"
	"qms/ticket-service/internal/hub"
	"qms/ticket-service/internal/store"
	"qms/ticket-service/internal/store/actor"
	"qms/ticket-service/internal/store/locked"
	"qms/ticket-service/internal/store/postgres"
	"qms/ticket-service/internal/telemetry"
	"qms/ticket-service/internal/worker"
)

const serviceName = "ticket-service"

func newRootCommand(logger pslog.Logger) *cobra.Command {
	serve := newServeCommand(logger)
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "ticket-service keeps mutable tickets in memory behind an HTTP API",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # Shared-lock store on the default port
  ticket-service

  # Actor store with a small queue and a Postgres event journal
  STORE_MODE=actor DB_DSN=postgres://localhost/tickets ticket-service serve --queue-capacity 32

  # Compare both stores for ten seconds
  ticket-service bench --mode actor --workers 64 --duration 10s
`,
		RunE: serve.RunE,
	}
	registerServeFlags(root.Flags())
	root.AddCommand(serve, newBenchCommand(logger))
	return root
}

func newServeCommand(logger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := applyServeFlags(cmd.Flags(), &cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}
	registerServeFlags(cmd.Flags())
	return cmd
}

func registerServeFlags(flags *pflag.FlagSet) {
	flags.String("port", "", "listen port (overrides TICKET_PORT)")
	flags.String("store-mode", "", "store discipline: locked or actor (overrides STORE_MODE)")
	flags.Int("queue-capacity", 0, "actor queue capacity (overrides STORE_QUEUE_CAPACITY)")
	flags.Int("event-buffer", 0, "event dispatch buffer (overrides EVENT_BUFFER)")
	flags.Duration("request-timeout", 0, "per-request store timeout (overrides REQUEST_TIMEOUT_SECONDS)")
}

// applyServeFlags copies explicitly set flags over the environment values.
func applyServeFlags(flags *pflag.FlagSet, cfg *config.Config) error {
	var err error
	if flags.Changed("port") {
		if cfg.Port, err = flags.GetString("port"); err != nil {
			return err
		}
	}
	if flags.Changed("store-mode") {
		if cfg.StoreMode, err = flags.GetString("store-mode"); err != nil {
			return err
		}
	}
	if flags.Changed("queue-capacity") {
		if cfg.QueueCapacity, err = flags.GetInt("queue-capacity"); err != nil {
			return err
		}
	}
	if flags.Changed("event-buffer") {
		if cfg.EventBuffer, err = flags.GetInt("event-buffer"); err != nil {
			return err
		}
	}
	if flags.Changed("request-timeout") {
		if cfg.RequestTimeout, err = flags.GetDuration("request-timeout"); err != nil {
			return err
		}
	}
	return nil
}

// openStore builds the configured discipline. The returned func stops it.
func openStore(cfg config.Config, notifier store.Notifier, logger pslog.Logger, metrics *telemetry.Metrics) (store.TicketStore, func()) {
	switch cfg.StoreMode {
	case config.StoreModeActor:
		client := actor.Launch(actor.Options{
			Capacity: cfg.QueueCapacity,
			Notifier: notifier,
			Logger:   logger,
		})
		if metrics != nil {
			metrics.QueueDepth(client.Pending)
		}
		return client, client.Close
	default:
		return locked.New(locked.Options{Notifier: notifier}), func() {}
	}
}

func runServe(ctx context.Context, cfg config.Config, logger pslog.Logger) error {
	shutdownTelemetry := telemetry.Setup(ctx, serviceName, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	metrics := telemetry.NewMetrics()
	h := hub.New(logger)
	dispatcher := worker.New(worker.Config{Buffer: cfg.EventBuffer, Logger: logger})
	dispatcher.AddSink("hub", worker.HubSink(h))
	metrics.EventCounters(dispatcher.Dropped, dispatcher.Dispatched)

	var healthCheck func(context.Context) error
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer pool.Close()
		journal := postgres.NewJournal(pool)
		if err := journal.EnsureSchema(ctx); err != nil {
			return err
		}
		dispatcher.AddSink("journal", journal)
		healthCheck = journal.Ping
		logger.Info("events.journal.enabled", "run_id", journal.RunID().String())
	}
	if cfg.EventSink != "" {
		dispatcher.AddSink("outbound", worker.NewSink(cfg.EventSink, cfg.EventSinkToken, logger))
	}

	st, closeStore := openStore(cfg, dispatcher, logger, metrics)

	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Start(dispatchCtx)
	}()

	handler := httpapi.NewHandler(st, httpapi.Options{
		Metrics:        metrics,
		Hub:            h,
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
		HealthCheck:    healthCheck,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})
	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(logger, metrics, limiter.Middleware(handler.Routes())), serviceName)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("ticket-service.listening", "addr", server.Addr, "store_mode", cfg.StoreMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		closeStore()
		stopDispatch()
		<-dispatchDone
		logger.Info("ticket-service.stopped", "events_dispatched", dispatcher.Dispatched(), "events_dropped", dispatcher.Dropped())
		if err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})
	return g.Wait()
}
