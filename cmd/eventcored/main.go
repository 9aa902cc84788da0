package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/contestkit/eventcore/internal/bus"
	"github.com/contestkit/eventcore/internal/cache"
	"github.com/contestkit/eventcore/internal/config"
	"github.com/contestkit/eventcore/internal/handlers"
	"github.com/contestkit/eventcore/internal/queue"
	"github.com/contestkit/eventcore/internal/server"
	"github.com/contestkit/eventcore/internal/store"
	"github.com/contestkit/eventcore/internal/webhook"
	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logging
	setupLogging(cfg)

	// Connect to Postgres
	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to database")

	pg := store.NewPostgres(db)
	if err := pg.EnsureSchema(ctx); err != nil {
		slog.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	// NATS: embedded server or external cluster
	natsURL := cfg.NatsURL
	var embedded *queue.EmbeddedServer
	if cfg.NatsEmbed {
		embedded, err = queue.StartEmbedded(queue.EmbeddedConfig{StoreDir: cfg.NatsStoreDir})
		if err != nil {
			slog.Error("failed to start embedded NATS server", "error", err)
			os.Exit(1)
		}
		defer embedded.Shutdown()
		natsURL = embedded.ClientURL()
	}

	qc, err := queue.Connect(natsURL)
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer qc.Close()
	slog.Info("connected to NATS", "url", natsURL, "embedded", cfg.NatsEmbed)

	// Ensure JetStream streams exist
	if err := qc.EnsureStreams(ctx); err != nil {
		slog.Error("failed to setup JetStream streams", "error", err)
		os.Exit(1)
	}

	// Redis for cache invalidation
	redisClient := cache.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx); err != nil {
		slog.Warn("redis unreachable, cache invalidation will fail until it recovers", "error", err)
	}

	// Bus, webhook engine, and the default handler set
	b := bus.New(queue.New(qc.JetStream()))
	engine := webhook.NewEngine(pg, pg, pg)

	bridge, err := handlers.RegisterDefaultHandlers(b, handlers.Deps{
		EventLog:      pg,
		Notifications: pg,
		Users:         pg,
		Webhooks:      pg,
		Cache:         redisClient,
		Engine:        engine,
	})
	if err != nil {
		slog.Error("failed to register handlers", "error", err)
		os.Exit(1)
	}

	// Queue worker dispatching jobs back into the bus
	workerCfg := queue.DefaultWorkerConfig()
	workerCfg.Concurrency = cfg.WorkerConcurrency
	workerCfg.Attempts = cfg.WorkerAttempts
	workerCfg.RedeliveryDelay = cfg.RedeliveryDelay

	dlqPublisher := queue.NewDLQPublisher(qc.JetStream())
	worker := queue.NewWorker(qc.Stream(), dlqPublisher, workerCfg, b.HandleJob)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go func() {
		if err := worker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			slog.Error("queue worker error", "error", err)
		}
	}()

	// Operational HTTP server
	dlqReader, err := queue.NewDLQReader(ctx, qc.JetStream())
	if err != nil {
		slog.Error("failed to open DLQ reader", "error", err)
		os.Exit(1)
	}

	srv := server.New(cfg, db, qc, engine, dlqReader)
	go func() {
		slog.Info("starting server", "port", cfg.Port)
		if err := srv.Start(); err != nil {
			slog.Error("server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Graceful shutdown: HTTP first, then drain in-flight webhook
	// deliveries, then stop pulling jobs, then close NATS.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	bridge.Close()
	workerCancel()

	slog.Info("shutdown complete")
}

func setupLogging(cfg *config.Config) {
	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		}
	}

	opts := &slog.HandlerOptions{}
	switch cfg.LogLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	slog.SetDefault(slog.New(handler))
}
