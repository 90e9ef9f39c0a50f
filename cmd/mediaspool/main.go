package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/spoolworks/mediaspool/internal/apikeys"
	"github.com/spoolworks/mediaspool/internal/cache"
	"github.com/spoolworks/mediaspool/internal/cleanup"
	"github.com/spoolworks/mediaspool/internal/config"
	"github.com/spoolworks/mediaspool/internal/db"
	"github.com/spoolworks/mediaspool/internal/jobs"
	"github.com/spoolworks/mediaspool/internal/ratelimit"
	"github.com/spoolworks/mediaspool/internal/tools"
	"github.com/spoolworks/mediaspool/internal/vector"
	"github.com/spoolworks/mediaspool/internal/web"
	"github.com/spoolworks/mediaspool/internal/webhook"
	"github.com/spoolworks/mediaspool/internal/workers"
	"github.com/spoolworks/mediaspool/pkg/ffmpeg"
	"github.com/spoolworks/mediaspool/pkg/ytdlp"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(conf.LogFormat)

	slog.Info("Starting mediaspool service")

	if err := os.MkdirAll(conf.SpoolDir, 0o755); err != nil {
		slog.Error("failed to create spool dir", "dir", conf.SpoolDir, "error", err)
		os.Exit(1)
	}

	poolCfg, err := pgxpool.ParseConfig(conf.DatabaseDSN)
	if err != nil {
		slog.Error("failed to parse database DSN", "error", err)
		os.Exit(1)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		slog.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}

	dbc, err := db.NewDatabaseConnection(ctx, pool, conf.DatabaseRetries)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbc.Close()

	if err := dbc.Migrate(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	jobStore := db.NewJobStore(dbc)
	keyStore := db.NewKeyStore(dbc)
	keyRegistry := apikeys.NewRegistry(keyStore)
	bootstrapAdminKey(ctx, keyRegistry)

	resultCache := cache.New(conf.CacheMaxEntries)
	limiter := ratelimit.New(conf.RateLimitRequests, conf.RateLimitPeriod, conf.RateLimitEnabled)
	hub := web.NewHub()

	deliveryStore := db.NewDeliveryStore(dbc)
	var dispatcher *webhook.Dispatcher
	if conf.WebhookEnabled {
		dispatcher = webhook.New(deliveryStore, conf.WebhookTimeout, conf.WebhookMaxAttempts, conf.WebhookBackoffBase)
	}

	downloader := ytdlp.New(conf.YtdlpPath)
	if v, err := downloader.Version(ctx); err != nil {
		slog.Warn("yt-dlp not available at startup; download jobs will fail until it is", "path", conf.YtdlpPath, "error", err)
	} else {
		slog.Info("yt-dlp ready", "version", v)
	}

	deps := workers.Deps{
		SpoolDir:   conf.SpoolDir,
		Downloader: downloader,
		Transcoder: ffmpeg.NewRunner(conf.FFmpegPath, conf.FFmpegThreads),
	}
	if conf.OpenAIAPIKey != "" {
		deps.Embedder = vector.NewEmbedder(conf.OpenAIAPIKey, conf.EmbeddingModel)
		deps.Index = vector.NewStore(dbc)
	} else {
		slog.Warn("OPENAI_API_KEY not set; vector-index and search jobs will fail until configured")
	}

	registry := jobs.NewRegistry()
	workers.Register(registry, deps, workers.CacheTTLs{
		Download:    conf.CacheTTLDownload,
		Process:     conf.CacheTTLProcess,
		VectorIndex: conf.CacheTTLVectorIndex,
		Search:      conf.CacheTTLSearch,
	})

	opts := []jobs.ManagerOption{
		jobs.WithCache(resultCache),
		jobs.WithLimiter(limiter),
		jobs.WithEventSink(hub),
	}
	if dispatcher != nil {
		opts = append(opts, jobs.WithNotifier(dispatcher))
	}
	manager := jobs.NewManager(jobStore, registry, conf.WorkerConcurrency, opts...)

	// Jobs left behind by a previous instance: fail orphaned running ones,
	// re-dispatch queued ones.
	if err := manager.Recover(ctx); err != nil {
		slog.Error("failed to recover jobs", "error", err)
	}

	sweeper := cleanup.New(jobStore, manager, resultCache, limiter,
		conf.CleanupInterval, conf.JobRetention, conf.JobHeartbeatTimeout,
		cleanup.WithSpoolDir(conf.SpoolDir))
	go sweeper.Run(ctx)

	toolRegistry := tools.NewRegistry(manager, registry)
	server := web.NewWebserver(manager, registry, keyRegistry, toolRegistry, deliveryStore, hub)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(strconv.Itoa(conf.WebServerPort))
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			slog.Error("webserver failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down webserver", "error", err)
	}
	if err := manager.Close(shutdownCtx); err != nil {
		slog.Warn("workers did not finish before deadline; running jobs recover on next start", "error", err)
	}
	if dispatcher != nil {
		if err := dispatcher.Close(shutdownCtx); err != nil {
			slog.Warn("webhook deliveries did not finish before deadline", "error", err)
		}
	}

	slog.Info("mediaspool service stopped")
}

func setupLogging(format string) {
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, nil)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	}
	slog.SetDefault(slog.New(handler))
}

// bootstrapAdminKey issues the first admin key on an empty keystore so the
// API is reachable. The plaintext is logged exactly once.
func bootstrapAdminKey(ctx context.Context, reg *apikeys.Registry) {
	records, err := reg.List(ctx)
	if err != nil {
		slog.Error("failed to list api keys", "error", err)
		return
	}
	if len(records) > 0 {
		return
	}

	_, plaintext, err := reg.Create(ctx, "bootstrap-admin", []string{apikeys.ScopeAdmin}, 0)
	if err != nil {
		slog.Error("failed to create bootstrap admin key", "error", err)
		return
	}
	slog.Warn("created bootstrap admin key; store it now, it will not be shown again", "key", plaintext)
}
