// Command wxopend serves the open platform notification endpoints and keeps
// component and authorizer credentials fresh.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-command"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	wxopen "github.com/goliatone/go-wxopen"
	"github.com/goliatone/go-wxopen/adapters/gocommand"
	"github.com/goliatone/go-wxopen/adapters/gojob"
	"github.com/goliatone/go-wxopen/adapters/gologger"
	"github.com/goliatone/go-wxopen/adapters/prommetrics"
	"github.com/goliatone/go-wxopen/core"
	"github.com/goliatone/go-wxopen/security"
	sqlstore "github.com/goliatone/go-wxopen/store/sql"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "wxopend: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	proc := loadProcessConfig()
	root := newZapLogger(parseLevel(proc.LogLevel))
	defer func() { _ = root.Sync() }()
	provider := zapProvider{root: root}
	logger := gologger.Named(provider, root, "daemon")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := core.NewCfgxConfigProvider(envConfigLoader{}).Load(ctx, core.DefaultConfig())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client, err := openPersistence(ctx, proc)
	if err != nil {
		return err
	}
	defer client.Close()

	factoryOpts := []sqlstore.FactoryOption{}
	if proc.TokenKey != "" {
		cipher, err := security.NewTokenCipher([]byte(proc.TokenKey))
		if err != nil {
			return fmt.Errorf("token cipher: %w", err)
		}
		factoryOpts = append(factoryOpts, sqlstore.WithTokenSealer(cipher))
	}
	if cacheService, err := newRateLimitCache(); err != nil {
		logger.Warn("rate limit cache disabled", "error", err.Error())
	} else {
		factoryOpts = append(factoryOpts, sqlstore.WithRateLimitCache(cacheService))
	}
	stores, err := sqlstore.NewRepositoryFactoryFromPersistence(client, factoryOpts...)
	if err != nil {
		return fmt.Errorf("build stores: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics := prommetrics.NewRecorder(registry)

	runtime, err := wxopen.Setup(cfg,
		wxopen.WithRateLimitStore(stores.RateLimitStateStore()),
		wxopen.WithMetrics(metrics),
		wxopen.WithServiceOptions(
			core.WithLoggerProvider(provider),
			core.WithLogger(root),
			core.WithCredentialStore(stores.CredentialStore()),
		),
	)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	subscriptions, err := gocommand.RegisterService(gocommand.NewRegistryAdapter(command.NewRegistry()), runtime.Service)
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	defer subscriptions.Unsubscribe()

	if err := runtime.Service.Start(ctx); err != nil {
		logger.Warn("service started with errors", "error", err.Error())
	}
	defer runtime.Service.Stop()

	refreshQueue := gojob.NewMemoryQueue()
	defer refreshQueue.Close()
	workerLogger, _, _ := gologger.ResolveForJob(provider, root)
	refreshWorker := gojob.NewRefreshWorker(runtime.Service,
		gojob.WithWorkerLogger(workerLogger),
		gojob.WithWorkerHooks(gojob.NewMetricsHook(metrics)),
	)
	go func() {
		_ = refreshWorker.Run(ctx, refreshQueue)
	}()

	server := &http.Server{
		Addr:    proc.HTTPAddr,
		Handler: newHTTPHandler(runtime, registry, gojob.NewEnqueuerAdapter(refreshQueue)),
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", proc.HTTPAddr, "components", len(cfg.Components))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), proc.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return runtime.Handler.Drain(shutdownCtx)
}
