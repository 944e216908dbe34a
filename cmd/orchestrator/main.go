// Package main wires together the orchestrator service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/policy-orchestrator/internal/api"
	"github.com/JakeFAU/policy-orchestrator/internal/clock/system"
	"github.com/JakeFAU/policy-orchestrator/internal/config"
	"github.com/JakeFAU/policy-orchestrator/internal/control"
	"github.com/JakeFAU/policy-orchestrator/internal/executor"
	"github.com/JakeFAU/policy-orchestrator/internal/extraction/httpext"
	extmem "github.com/JakeFAU/policy-orchestrator/internal/extraction/memory"
	"github.com/JakeFAU/policy-orchestrator/internal/id/uuid"
	"github.com/JakeFAU/policy-orchestrator/internal/logging"
	"github.com/JakeFAU/policy-orchestrator/internal/metrics"
	"github.com/JakeFAU/policy-orchestrator/internal/monitor"
	"github.com/JakeFAU/policy-orchestrator/internal/pipeline"
	"github.com/JakeFAU/policy-orchestrator/internal/pool"
	"github.com/JakeFAU/policy-orchestrator/internal/progress"
	"github.com/JakeFAU/policy-orchestrator/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/policy-orchestrator/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/policy-orchestrator/internal/publisher/pubsub"
	"github.com/JakeFAU/policy-orchestrator/internal/queue"
	resmem "github.com/JakeFAU/policy-orchestrator/internal/results/memory"
	respg "github.com/JakeFAU/policy-orchestrator/internal/results/postgres"
	memstore "github.com/JakeFAU/policy-orchestrator/internal/store/memory"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()
	signals := control.NewRegistry()
	taskStore := memstore.NewTaskStore(time.Duration(cfg.Store.TTLSeconds)*time.Second, clock)

	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		logger.Fatal("progress sink init failed", zap.Error(err))
	}
	hub := progress.NewHub(progress.Config{
		BaseContext: ctx,
		Logger:      logger.Named("progress"),
	}, sinks.NewLogSink(logger.Named("progress")), promSink)

	publisher, pubStop, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer pubStop()

	results, resultsClose, err := buildResultStore(ctx, cfg)
	if err != nil {
		logger.Fatal("result store init failed", zap.Error(err))
	}
	defer resultsClose()

	retry := &pipeline.RetryPolicy{
		MaxAttempts: cfg.Executor.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Executor.BackoffInitialMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Executor.BackoffMaxMs) * time.Millisecond,
	}
	taskQueue := queue.New(taskStore, signals, hub, clock, idGen, retry, queue.Options{
		Publisher: publisher,
		Topic:     cfg.PubSub.Topic,
		Logger:    logger.Named("queue"),
	})

	breaker := monitor.NewBreaker(
		time.Duration(cfg.Monitor.TripWindowSeconds)*time.Second,
		time.Duration(cfg.Monitor.RecoveryWindowSeconds)*time.Second,
		hub,
		logger.Named("breaker"),
	)
	sampleInterval := time.Duration(cfg.Monitor.SampleIntervalSeconds) * time.Second
	lookback := cfg.Monitor.LookbackSeconds / cfg.Monitor.SampleIntervalSeconds
	mon := monitor.New(monitor.Config{
		CPUThreshold:    cfg.Monitor.CPUThreshold,
		MemThreshold:    cfg.Monitor.MemThreshold,
		SampleInterval:  sampleInterval,
		LookbackSamples: lookback,
		Logger:          logger.Named("monitor"),
	}, monitor.NewHostSampler(clock), breaker, clock)

	var extractor pipeline.Extractor
	if cfg.Extraction.Endpoint != "" {
		extractor = httpext.NewClient(httpext.Config{
			BaseURL: cfg.Extraction.Endpoint,
			APIKey:  cfg.Auth.APIKey,
			Timeout: time.Duration(cfg.Extraction.TimeoutSeconds) * time.Second,
		})
	} else {
		logger.Warn("extraction.endpoint not set, using in-process extractor")
		extractor = extmem.NewExtractor(clock)
	}

	exec := executor.New(extractor, results, clock, cfg.UnitTimeout(), logger.Named("executor"))
	workerPool := pool.New(pool.Config{
		MaxWorkers:      cfg.Pool.MaxWorkers,
		MaxUnitsPerSlot: cfg.Pool.MaxUnitsPerSlot,
		DispatchDelay:   cfg.DispatchDelay(),
		ResizeInterval:  time.Duration(cfg.Pool.ResizeIntervalSeconds) * time.Second,
		Logger:          logger.Named("pool"),
	}, taskQueue, exec, mon)

	apiServer := api.NewServer(taskQueue, taskStore, mon, workerPool, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go taskStore.Run(ctx, time.Minute)
	go func() {
		logger.Info("resource monitor started")
		if err := mon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("resource monitor error", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("worker pool started", zap.Int("max_workers", cfg.Pool.MaxWorkers))
		if err := workerPool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("worker pool error", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildPublisher(ctx context.Context, cfg config.Config) (pipeline.Publisher, func(), error) {
	switch cfg.Publisher.Provider {
	case "pubsub":
		client, err := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("create pubsub client: %w", err)
		}
		pub, err := pubsubpublisher.NewFromClient(client, cfg.PubSub.Topic)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return pub, func() {
			pub.Stop()
			client.Close()
		}, nil
	case "memory", "":
		return memorypublisher.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown publisher provider %q", cfg.Publisher.Provider)
	}
}

func buildResultStore(ctx context.Context, cfg config.Config) (pipeline.ResultStore, func(), error) {
	switch cfg.Results.Provider {
	case "postgres":
		store, err := respg.NewResultStore(ctx, respg.ResultStoreConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.Results.Table,
			MaxConns: int32(cfg.DB.MaxConns),
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "memory", "":
		return resmem.NewResultStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown results provider %q", cfg.Results.Provider)
	}
}
