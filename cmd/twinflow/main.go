// Package main runs the twinflow command gateway: NATS commands in, twin store
// updates and replies out, with metrics, health and background reconciliation
// served alongside.
package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/twinflow/config"
	"github.com/c360/twinflow/errors"
	"github.com/c360/twinflow/health"
	"github.com/c360/twinflow/ingress"
	"github.com/c360/twinflow/metric"
	"github.com/c360/twinflow/natsclient"
	"github.com/c360/twinflow/pkg/retry"
	"github.com/c360/twinflow/reconcile"
	"github.com/c360/twinflow/twin"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "twinflow"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cli, err := parseFlags(flag.NewFlagSet(appName, flag.ContinueOnError), args)
	if err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cli.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	logger := setupLogger(os.Stdout, cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cli.ConfigPath)
	if err != nil {
		return err
	}
	if cli.Validate {
		logger.Info("Configuration is valid", "config", cfg.String())
		return nil
	}

	logger.Info("Starting twinflow", "version", Version, "config_path", cli.ConfigPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger, cli.ShutdownTimeout)
}

// loadConfig reads path, or only defaults and environment when path is empty.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, shutdownTimeout time.Duration) error {
	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor(registry.CoreMetrics())

	client, err := connectToNATS(ctx, cfg, registry, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			logger.Warn("NATS close failed", "error", err)
		}
	}()
	monitor.Register("nats", func(context.Context) health.Status {
		if client.IsHealthy() {
			return health.NewHealthy("nats", "connected")
		}
		return health.NewUnhealthy("nats", client.Status().String())
	})

	store := twin.NewStore(nil)
	index := twin.NewStore(nil)

	gateway, err := ingress.NewGateway(cfg, client, store,
		ingress.WithLogger(logger),
		ingress.WithMetrics(registry),
		ingress.WithResultObserver(mirror(index)))
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	monitor.Register("ingress", gateway.Health)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := gateway.Start(runCtx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	if cfg.Reconcile.Enabled {
		reconciler, err := reconcile.New(store, index, reconcile.Config{
			Interval:           cfg.Reconcile.Interval.Std(),
			CreditsPerInterval: cfg.Reconcile.CreditsPerInterval,
			Logger:             logger.With("component", "reconcile"),
		}, reconcile.WithMetrics(registry))
		if err != nil {
			return fmt.Errorf("create reconciler: %w", err)
		}
		go func() {
			_ = reconciler.Run(runCtx, repair(runCtx, store, index, client, cfg.Reconcile.ReportSubject,
				reportLimiter(cfg.Reconcile), logger))
		}()
	}

	server := newHTTPServer(cfg.HTTP.Addr, registry, monitor)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	logger.Info("twinflow started", "http_addr", cfg.HTTP.Addr, "subject", cfg.NATS.Subject)

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErr:
		logger.Error("HTTP server failed", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := gateway.Stop(cfg.Dispatch.StopTimeout.Std()); err != nil {
		errs = append(errs, err)
	}
	cancel()

	if err := stderrors.Join(errs...); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("twinflow shutdown complete")
	return nil
}

// connectToNATS establishes the NATS connection and waits for it to be ready
func connectToNATS(ctx context.Context, cfg *config.Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(registry),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait.Std()),
	}
	if cfg.NATS.MaxReconnects != 0 {
		opts = append(opts, natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects))
	}
	if cfg.NATS.ClientName != "" {
		opts = append(opts, natsclient.WithName(cfg.NATS.ClientName))
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	client, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	logger.Info("Connecting to NATS", "url", client.URL())
	err = retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		err := client.Connect(ctx)
		if stderrors.Is(err, natsclient.ErrCircuitOpen) {
			return errors.WrapFatal(err, "main", "connectToNATS", "circuit open")
		}
		if err != nil {
			logger.Warn("NATS connect attempt failed", "error", err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	return client, nil
}

func newHTTPServer(addr string, registry *metric.MetricsRegistry, monitor *health.Monitor) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())
	mux.Handle("/healthz", monitor.Handler(appName))

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// mirror keeps index following every applied command.
func mirror(index *twin.Store) func(ingress.Result) {
	return func(r ingress.Result) {
		if r.Err != nil {
			return
		}
		switch r.Command.Op {
		case twin.OpModify:
			index.Put(r.Thing)
		case twin.OpDelete:
			_ = index.Delete(r.Command.ThingID)
		}
	}
}

// reportPublisher is the slice of *natsclient.Client repair publishes through.
type reportPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// reportLimiter returns nil when reports are not rate limited.
func reportLimiter(cfg config.ReconcileConfig) *rate.Limiter {
	if cfg.ReportRate <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.ReportRate), cfg.ReportBurst)
}

// repair brings index back in line for each difference and publishes the
// difference to subject when one is configured. Reports over the limiter's
// rate are dropped; the repair itself always happens.
func repair(ctx context.Context, store, index *twin.Store, publisher reportPublisher, subject string,
	limiter *rate.Limiter, logger *slog.Logger) func(reconcile.Difference) {
	return func(d reconcile.Difference) {
		logger.Warn("twin out of sync", "thing_id", d.ThingID, "kind", d.Kind,
			"persisted_revision", d.Persisted, "indexed_revision", d.Indexed)

		switch d.Kind {
		case reconcile.Orphaned:
			_ = index.Delete(d.ThingID)
		default:
			if thing, ok := store.Get(d.ThingID); ok {
				index.Put(thing)
			}
		}

		if subject == "" || publisher == nil {
			return
		}
		if limiter != nil && !limiter.Allow() {
			logger.Debug("difference report throttled", "thing_id", d.ThingID)
			return
		}
		data, err := json.Marshal(d)
		if err != nil {
			return
		}
		if err := publisher.Publish(ctx, subject, data); err != nil {
			logger.Warn("difference report failed", "subject", subject, "error", err)
		}
	}
}
