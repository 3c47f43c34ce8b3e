package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"

	"github.com/petal-labs/toolgarden/executor"
	"github.com/petal-labs/toolgarden/health"
	gardenotel "github.com/petal-labs/toolgarden/otel"
	"github.com/petal-labs/toolgarden/search"
	"github.com/petal-labs/toolgarden/server"
	"github.com/petal-labs/toolgarden/syncer"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the catalog sync daemon and HTTP API",
		RunE:  runServe,
	}

	cmd.Flags().IntP("port", "p", 8080, "Listen port")
	cmd.Flags().String("host", "0.0.0.0", "Listen host")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
	cmd.Flags().String("config", "", "Path to toolgarden.yaml")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 60*time.Second, "HTTP write timeout")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")
	cmd.Flags().Bool("no-scheduler", false, "Disable the cron sync scheduler")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	corsOrigin, _ := cmd.Flags().GetString("cors-origin")
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")
	maxBody, _ := cmd.Flags().GetInt64("max-body")
	noScheduler, _ := cmd.Flags().GetBool("no-scheduler")

	logger := slog.Default()

	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := gardenotel.Setup(ctx, "toolgarden", cfg.Otel.Endpoint)
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shutdownCtx)
	}()

	store, err := openCatalogStore(cfg)
	if err != nil {
		return fmt.Errorf("opening catalog store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	var index *search.Index
	if cfg.Store.IndexPath != "" {
		index, err = search.OpenIndex(cfg.Store.IndexPath)
	} else {
		index, err = search.NewMemoryIndex()
	}
	if err != nil {
		return fmt.Errorf("opening search index: %w", err)
	}
	defer func() {
		_ = index.Close()
	}()

	reg, sb, err := buildClients(cfg)
	if err != nil {
		return fmt.Errorf("building upstream clients: %w", err)
	}

	checker, err := health.NewChecker(health.CheckerConfig{
		Store:       store,
		Sandbox:     sb,
		Concurrency: cfg.Health.Concurrency,
		QueueDepth:  cfg.Health.QueueDepth,
		JobTimeout:  cfg.Health.JobTimeout,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("building health checker: %w", err)
	}
	checker.Start(ctx)
	defer checker.Stop()

	metricsHandler, err := gardenotel.NewMetricsHandler(otelapi.GetMeterProvider().Meter("toolgarden/syncer"))
	if err != nil {
		return fmt.Errorf("building sync metrics: %w", err)
	}
	tracingHandler := gardenotel.NewTracingHandler(otelapi.GetTracerProvider().Tracer("toolgarden/syncer"))
	onEvent := func(e syncer.Event) {
		metricsHandler.Handle(e)
		tracingHandler.Handle(e)
	}

	orch, err := buildOrchestrator(cfg, store, reg, sb,
		func(toolID string) { checker.Check(toolID, health.TriggerSync) },
		index, onEvent, logger)
	if err != nil {
		return fmt.Errorf("building sync orchestrator: %w", err)
	}

	if !noScheduler {
		scheduler, err := syncer.NewScheduler(syncer.SchedulerConfig{
			Orchestrator:  orch,
			ChangesCron:   cfg.Sync.ChangesCron,
			DiscoveryCron: cfg.Sync.DiscoveryCron,
			MetricsCron:   cfg.Sync.MetricsCron,
			Logger:        logger,
		})
		if err != nil {
			return err
		}
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("starting sync scheduler: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = scheduler.Stop(stopCtx)
		}()
	}

	dispatcher, err := executor.NewDispatcher(executor.DispatcherConfig{
		Sandbox:        sb,
		ExecuteTimeout: cfg.Executor.ExecuteTimeout,
	})
	if err != nil {
		return fmt.Errorf("building dispatcher: %w", err)
	}
	verifier := executor.NewVerifier(executor.VerifierConfig{
		AllowInsecure: cfg.Executor.AllowInsecure,
	})

	api := server.NewServer(server.ServerConfig{
		Store:        store,
		Index:        index,
		Orchestrator: orch,
		Dispatcher:   dispatcher,
		Verifier:     verifier,
		HealthCheck:  func(toolID string) { checker.Check(toolID, health.TriggerManual) },
		CORSOrigin:   corsOrigin,
		MaxBody:      maxBody,
		Logger:       logger,
	})

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      api.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("toolgarden listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}
