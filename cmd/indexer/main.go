package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	elasticclient "github.com/elastic/go-elasticsearch/v8"
	"golang.org/x/sync/errgroup"

	esadapter "github.com/nimafallahian/go-indexflow/internal/adapters/es"
	kafkaadapter "github.com/nimafallahian/go-indexflow/internal/adapters/kafka"
	"github.com/nimafallahian/go-indexflow/internal/adapters/logging"
	meiliadapter "github.com/nimafallahian/go-indexflow/internal/adapters/meili"
	"github.com/nimafallahian/go-indexflow/internal/config"
	"github.com/nimafallahian/go-indexflow/internal/metrics"
	"github.com/nimafallahian/go-indexflow/internal/orchestration"
	"github.com/nimafallahian/go-indexflow/internal/ports"
	"github.com/nimafallahian/go-indexflow/internal/service"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	kConsumer, err := kafkaadapter.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)
	if err != nil {
		logger.Error("failed to create kafka consumer", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := kConsumer.Close(); cerr != nil {
			logger.Error("failed to close kafka consumer", "error", cerr)
		}
	}()

	backend, err := newBackend(cfg)
	if err != nil {
		logger.Error("failed to create search backend", "backend", cfg.Backend, "error", err)
		os.Exit(1)
	}

	orch, err := orchestration.New(backend, cfg.Orchestration(),
		orchestration.WithLogger(logger),
		orchestration.WithErrorHandlers(logging.NewErrorHandler(logger)),
	)
	if err != nil {
		logger.Error("failed to create orchestrator", "error", err)
		os.Exit(1)
	}

	svc := service.NewIndexerService(kConsumer, orch, cfg.WorkerCount, service.WithLogger(logger))

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("indexer starting",
		"backend", cfg.Backend,
		"strategy", cfg.Strategy,
		"topic", cfg.KafkaTopic,
		"workers", cfg.WorkerCount,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		svc.Start(gctx)
		if gctx.Err() == nil {
			return errors.New("changeset consumer stopped")
		}
		return nil
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("service terminated with error: %v", err)
	}

	// Changesets already submitted are flushed before exiting.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := orch.AwaitCompletion(shutdownCtx); err != nil {
		logger.Error("pending changesets not completed", "error", err)
	}
	if err := orch.Close(shutdownCtx); err != nil {
		logger.Error("failed to close orchestrator", "error", err)
	}
	logger.Info("indexer stopped")
}

func newBackend(cfg *config.Config) (ports.Backend, error) {
	switch cfg.Backend {
	case config.BackendMeilisearch:
		backend, err := meiliadapter.NewBackend(meiliadapter.NewClient(cfg.MeiliHost, cfg.MeiliAPIKey), cfg.RequestTimeout)
		if err != nil {
			return nil, err
		}
		if err := backend.Ping(); err != nil {
			return nil, err
		}
		return backend, nil
	default:
		esClient, err := elasticclient.NewClient(elasticclient.Config{
			Addresses: cfg.ElasticURLs,
		})
		if err != nil {
			return nil, fmt.Errorf("create elasticsearch client: %w", err)
		}
		return esadapter.NewBackend(esClient, cfg.RequestTimeout)
	}
}
