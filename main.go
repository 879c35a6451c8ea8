// Command syndicate is the main entrypoint for the cross-publishing service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Registers the platform providers and starts the background loops:
//     the publish scheduler, the performance collector, and the Instagram
//     token refresher.
//   - Exposes an HTTP server with /healthz, /readyz, /status, /metrics,
//     and admin triggers.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wrenlabs/syndicate/collector"
	"github.com/wrenlabs/syndicate/config"
	"github.com/wrenlabs/syndicate/credentials"
	"github.com/wrenlabs/syndicate/db"
	"github.com/wrenlabs/syndicate/instagramapi"
	"github.com/wrenlabs/syndicate/mastodonapi"
	"github.com/wrenlabs/syndicate/metricsink"
	"github.com/wrenlabs/syndicate/provider"
	"github.com/wrenlabs/syndicate/scheduler"
	"github.com/wrenlabs/syndicate/server"
	"github.com/wrenlabs/syndicate/telegramapi"
	"github.com/wrenlabs/syndicate/telemetry"
	"github.com/wrenlabs/syndicate/youtubeapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("syndicate", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	store := db.NewStore(database)

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Platform providers
	registry := provider.NewRegistry()
	registry.Register(mastodonapi.New())
	instagram := instagramapi.New()
	registry.Register(instagram)
	registry.Register(telegramapi.New())
	youtube := youtubeapi.New()
	youtube.Privacy = cfg.YTPrivacy
	registry.Register(youtube)
	slog.Info("providers registered", slog.Any("platforms", registry.SupportedTypes()))

	// Publish scheduler
	sched := scheduler.New(store, registry, cfg.PublishInterval)
	sched.Start(ctx)
	defer sched.Stop()

	// Instagram long-lived tokens expire; refresh them on a fixed cadence.
	refresher := credentials.New(store, instagramapi.NetworkType, credentials.Config{
		Interval:    cfg.CredentialRefreshInterval,
		MaxTokenAge: cfg.MaxTokenAge,
		UserIDField: "ig_user_id",
	}, instagram.RefreshLongLivedToken)
	refresher.Start(ctx)
	defer refresher.Stop()

	// Performance collector, only when a ClickHouse endpoint is configured.
	var coll *collector.Collector
	if cfg.MetricsEnabled() {
		sinkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		sink, err := metricsink.Open(sinkCtx, metricsink.Config{
			Addr:     []string{cfg.ClickHouseAddr},
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
		})
		if err != nil {
			cancel()
			slog.Error("failed to open metrics sink", slog.Any("err", err))
			os.Exit(1)
		}
		if err := sink.EnsureSchema(sinkCtx); err != nil {
			cancel()
			slog.Error("failed to ensure metrics schema", slog.Any("err", err))
			os.Exit(1)
		}
		cancel()
		coll = collector.New(store, registry, sink)
		coll.Start(ctx)
		defer coll.Stop()
	} else {
		slog.Info("performance collection disabled (CLICKHOUSE_ADDR not set)")
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/status/metrics/admin)
	go func() {
		deps := server.Deps{DB: database, Scheduler: sched, Collector: coll, Registry: registry}
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
