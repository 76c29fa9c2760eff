package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "torrentstream/internal/api/http"
	"torrentstream/internal/app"
	"torrentstream/internal/media"
	"torrentstream/internal/metrics"
	"torrentstream/internal/pipeline"
	mongorepo "torrentstream/internal/repository/mongo"
	"torrentstream/internal/services/torrent/engine/anacrolix"
	"torrentstream/internal/services/torrent/engine/ffmpeg"
	"torrentstream/internal/services/torrent/engine/ffprobe"
	"torrentstream/internal/telemetry"
	"torrentstream/internal/usecase"

	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "streamcore")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "streamcore"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("downloadRoot", cfg.DownloadRoot),
		slog.Int("segmentDurationSec", cfg.SegmentDurationSec),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	mongoOpts := otelmongo.NewMonitor()
	mongoClient, err := mongorepo.Connect(connectCtx, cfg.MongoURI, options.Client().SetMonitor(mongoOpts))
	if err != nil {
		logger.Error("mongo connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := mongoClient.Ping(connectCtx, readpref.Primary()); err != nil {
		logger.Error("mongo ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store := media.NewFileStore(cfg.DownloadRoot)
	evictAfter := time.Duration(cfg.EvictAfterDays) * 24 * time.Hour
	repo := mongorepo.NewRepository(mongoClient, cfg.MongoDatabase, cfg.MongoCollection, store, evictAfter)
	if err := repo.EnsureIndexes(connectCtx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}

	sessions, err := anacrolix.New(anacrolix.Config{
		DataDir:       cfg.DownloadRoot,
		PortLow:       cfg.SwarmPortLow,
		PortHigh:      cfg.SwarmPortHigh,
		ReapThreshold: time.Duration(cfg.SeedReapAfterSec) * time.Second,
	})
	if err != nil {
		logger.Error("swarm session manager init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	prober := ffprobe.New(cfg.FFProbePath)
	segmenter := ffmpeg.New(cfg.FFMPEGPath)

	pipelineCfg := pipeline.Config{
		SegmentDurationSec: float64(cfg.SegmentDurationSec),
		MaxRetries:         cfg.MaxRetries,
		RetryCooldown:      time.Duration(cfg.RetryCooldownSec) * time.Second,
	}

	pool := &pipeline.Pool{
		Repo:      repo,
		Sessions:  sessions,
		Store:     store,
		Prober:    prober,
		Segmenter: segmenter,
		Config:    pipelineCfg,
		Log:       logger,
	}

	startUC := usecase.Start{Repo: repo, Pipeline: pool}
	statusUC := usecase.Status{Repo: repo, Store: store, SegmentDurationSec: pipelineCfg.SegmentDurationSec}
	segmentsUC := usecase.ListSegments{Repo: repo, Store: store, SegmentDurationSec: pipelineCfg.SegmentDurationSec}
	streamUC := usecase.Stream{Repo: repo, Store: store}

	healthCheck := func(ctx context.Context) error {
		return mongoClient.Ping(ctx, readpref.Primary())
	}

	handler := apihttp.NewServer(startUC, statusUC, segmentsUC, streamUC,
		apihttp.WithLogger(logger),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithHealthCheck(healthCheck),
	)
	pool.OnSnapshot = handler.BroadcastSnapshot

	go updatePipelineMetrics(rootCtx, pool)
	go updateSwarmMetrics(rootCtx, sessions)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	if err := sessions.Close(); err != nil {
		logger.Warn("swarm close error", slog.String("error", err.Error()))
	}
	if err := mongoClient.Disconnect(context.Background()); err != nil {
		logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

// updatePipelineMetrics periodically samples the pool's active worker count
// into a Prometheus gauge.
func updatePipelineMetrics(ctx context.Context, pool *pipeline.Pool) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.PipelineActiveWorkers.Set(float64(pool.ActiveCount()))
		}
	}
}

// updateSwarmMetrics periodically samples aggregate swarm throughput and
// peer counts into the process's Prometheus gauges.
func updateSwarmMetrics(ctx context.Context, sessions *anacrolix.Engine) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := sessions.Stats()
			metrics.ActiveSessions.Set(float64(stats.ActiveSessions))
			metrics.PeersConnected.Set(float64(stats.PeersConnected))
			metrics.DownloadSpeedBytes.Set(float64(stats.DownloadBytes))
			metrics.UploadSpeedBytes.Set(float64(stats.UploadBytes))
		}
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
