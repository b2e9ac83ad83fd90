// Package main — cmd/anomalyd/main.go
//
// anomalyd entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/anomalyd/config.yaml.
//  2. Initialise structured logger (zap, JSON format).
//  3. Open bbolt storage; construct ProfileStore, EventQueue, AnomalySink.
//  4. Start Prometheus metrics server (127.0.0.1:9091).
//  5. Construct the in-process pub/sub broker.
//  6. Start the StreamProcessor.
//  7. Start the Poller.
//  8. Register SIGHUP handler for config hot-reload.
//  9. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel root context (propagates to poller and stream processor).
//  2. Close the poller's quota bucket.
//  3. Close bbolt.
//  4. Flush logger.
//  5. Exit 0.
//
// On config validation failure: exit 1 immediately.
// On bbolt open failure: exit 1 immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/octoanomaly/octoanomaly/internal/config"
	"github.com/octoanomaly/octoanomaly/internal/detectors"
	"github.com/octoanomaly/octoanomaly/internal/observability"
	"github.com/octoanomaly/octoanomaly/internal/poller"
	"github.com/octoanomaly/octoanomaly/internal/pubsub"
	"github.com/octoanomaly/octoanomaly/internal/storage"
	"github.com/octoanomaly/octoanomaly/internal/streamprocessor"
)

func main() {
	configPath := flag.String("config", "/etc/anomalyd/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("anomalyd %s (commit=%s built=%s)\n", config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := observability.BuildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("anomalyd starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal("bbolt open failed", zap.Error(err), zap.String("path", cfg.Storage.DBPath))
	}
	defer db.Close() //nolint:errcheck
	log.Info("bbolt opened", zap.String("path", cfg.Storage.DBPath))

	profiles, err := storage.NewProfileStore(db, cfg.Storage.ProfileCacheSize)
	if err != nil {
		log.Fatal("profile store init failed", zap.Error(err))
	}
	queue := storage.NewEventQueue(db, cfg.Storage.QueueMaxDepth)
	sink := storage.NewAnomalySink(db)

	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	broker := pubsub.NewBroker(cfg.PubSub.SubscriberBuffer, log)

	processor := streamprocessor.New(
		streamprocessorConfigFrom(cfg),
		queue, profiles, sink, broker, metrics, log,
	)
	go func() {
		if err := processor.Run(ctx); err != nil {
			log.Error("stream processor stopped with error", zap.Error(err))
		}
	}()
	log.Info("stream processor started",
		zap.Int("lanes", cfg.StreamProcessor.Lanes),
		zap.Int("batch_max", cfg.StreamProcessor.BatchMax),
	)

	p := poller.NewPoller(pollerConfigFrom(cfg), queue, log, nil, metrics)
	go func() {
		if err := p.Start(ctx); err != nil {
			log.Error("poller stopped with error", zap.Error(err))
		}
	}()
	log.Info("poller started", zap.String("upstream", cfg.Poller.UpstreamBaseURL))

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			if !config.NonDestructiveReload(cfg, newCfg) {
				log.Warn("config hot-reload contains destructive changes — restart required to apply them",
					zap.String("db_path_old", cfg.Storage.DBPath),
					zap.String("db_path_new", newCfg.Storage.DBPath),
				)
			}
			cfg = newCfg
			log.Info("config hot-reload successful",
				zap.Float64("new_report_floor", newCfg.Fuser.ReportFloor),
				zap.String("new_log_level", newCfg.Observability.LogLevel),
			)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	p.Close()

	shutdownTimer := time.NewTimer(5 * time.Second)
	defer shutdownTimer.Stop()
	<-shutdownTimer.C

	log.Info("anomalyd shutdown complete")
}

func pollerConfigFrom(cfg *config.Config) poller.Config {
	return poller.Config{
		UpstreamBaseURL:         cfg.Poller.UpstreamBaseURL,
		PollInterval:            cfg.Poller.PollInterval,
		PageSize:                cfg.Poller.PageSize,
		ActivePollers:           cfg.Poller.ActivePollers,
		Region:                  cfg.NodeID,
		PrioritySampleLow:       cfg.Poller.PrioritySampleLow,
		CircuitBreakerThreshold: cfg.Poller.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  cfg.Poller.CircuitBreakerCooldown,
		MaxBackoff:              cfg.Poller.MaxBackoff,
		EnqueueWaitTimeout:      cfg.Poller.EnqueueWaitTimeout,
		DedupTTL:                cfg.Dedup.TTL,
	}
}

func streamprocessorConfigFrom(cfg *config.Config) streamprocessor.Config {
	return streamprocessor.Config{
		BatchMax:        cfg.StreamProcessor.BatchMax,
		BatchMaxWait:    cfg.StreamProcessor.BatchMaxWait,
		Lanes:           cfg.StreamProcessor.Lanes,
		DetectorTimeout: cfg.StreamProcessor.DetectorTimeout,
		EventTimeout:    cfg.StreamProcessor.EventTimeout,
		BatchTimeout:    cfg.StreamProcessor.BatchTimeout,
		PrefilterWarmN:  cfg.StreamProcessor.PrefilterWarmN,
		PrefilterShare:  cfg.StreamProcessor.PrefilterShare,
		ReportFloor:     cfg.Fuser.ReportFloor,
		CriticalityTTL:  cfg.Contextual.CriticalityTTL,
		Behavioral: detectors.BehavioralConfig{
			EWMAAlpha:        cfg.Behavioral.EWMAAlpha,
			WarmN:            cfg.Behavioral.WarmN,
			MVNN:             cfg.Behavioral.MVNN,
			VarianceFloor:    cfg.Behavioral.VarianceFloor,
			ZScoreThreshold:  cfg.Behavioral.ZScoreThreshold,
			MahalanobisAlpha: cfg.Behavioral.MahalanobisAlpha,
			CustomScorerName: cfg.Behavioral.CustomScorerName,
		},
		Temporal: detectors.TemporalConfig{
			BurstWindowMin:  cfg.Temporal.BurstWindowMin,
			BurstMinCount:   cfg.Temporal.BurstMinCount,
			BurstMinRate:    cfg.Temporal.BurstMinRate,
			CoordWindowMin:  cfg.Temporal.CoordWindowMin,
			CoordMinActors:  cfg.Temporal.CoordMinActors,
			CoordMinEvents:  cfg.Temporal.CoordMinEvents,
			ChiSquarePValue: cfg.Temporal.ChiSquarePValue,
		},
		EnrichmentEnabled: cfg.Enrichment.Enabled,
		EnrichmentName:    cfg.Enrichment.Summarizer,
		EnrichmentTimeout: cfg.Enrichment.Timeout,
		WindowIdleAfter:   24 * time.Hour,
	}
}
