package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"sentinelai-backend/api/internal/eventlog"
	"sentinelai-backend/api/internal/feeds"
	"sentinelai-backend/api/internal/handlers"
	"sentinelai-backend/api/internal/intent"
	"sentinelai-backend/api/internal/middleware"
	"sentinelai-backend/api/internal/mission"
	"sentinelai-backend/api/internal/repos"
	"sentinelai-backend/api/internal/status"
	"sentinelai-backend/shared/clients/ai"
	"sentinelai-backend/shared/config"
	"sentinelai-backend/shared/dbx"
	"sentinelai-backend/shared/httpx"
	"sentinelai-backend/shared/lockx"
	"sentinelai-backend/shared/logx"
	"sentinelai-backend/shared/metricsx"
	"sentinelai-backend/shared/observability"
)

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
}

func main() {
	cfg, readyProblems := config.Load("api", 8080)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	if cfg.OtelEnabled {
		shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Version:     version,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		})
		if err != nil {
			logger.Warn(context.Background(), "otel_init_failed", "tracing disabled",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	var (
		dbPool    *pgxpool.Pool
		store     eventlog.Log
		snapshots mission.SnapshotStore
		snapRepo  *repos.SnapshotsRepo
	)
	if cfg.DatabaseURL != "" {
		var err error
		dbPool, err = dbx.NewPool(cfg)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "failed to connect to database"})
			logger.Error(context.Background(), "db_init_failed", "database init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
		}
	}
	if dbPool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		eventsRepo := repos.NewEventsRepo(dbPool)
		if err := eventsRepo.EnsureSchema(ctx); err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "failed to prepare event schema"})
			logger.Error(ctx, "db_schema_failed", "event schema init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
		}
		store = eventsRepo
		if cfg.SnapshotsEnabled {
			snapRepo = repos.NewSnapshotsRepo(dbPool)
			if err := snapRepo.EnsureSchema(ctx); err != nil {
				logger.Warn(ctx, "snapshot_schema_failed", "analysis history disabled",
					slog.String("error_code", "FAILED_PRECONDITION"),
					slog.String("error", err.Error()),
				)
				snapRepo = nil
			} else {
				snapshots = snapRepo
			}
		}
		cancel()
	} else {
		logger.Info(context.Background(), "event_store_memory", "no database available, events are kept in memory")
		store = eventlog.NewMemoryLog()
	}

	pubs := buildPublishers(cfg, logger)
	publishers, closers, cache := pubs.list, pubs.closers, pubs.cache
	eventLog := eventlog.NewFanoutLog(store, logger, publishers...)

	engine := status.NewEngine(status.PenaltiesFromConfig(cfg.StatusPenalties))

	var aiClient *ai.Client
	if cfg.AIEnabled && !cfg.AIMockMode {
		c, err := ai.New(cfg)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "OPENAI_API_KEY", Message: "AI enabled without credentials, analyses degrade to rule-based"})
		} else {
			aiClient = c
		}
	}
	var collab intent.Collaborator
	if aiClient != nil {
		collab = aiClient
	}
	router := intent.NewRouter(engine, collab, intent.Options{AIEnabled: cfg.AIEnabled, MockMode: cfg.AIMockMode}, logger)

	sweeper := eventlog.NewSweeper(eventLog, eventlog.RetentionPolicy{Days: cfg.RetentionDays}, time.Duration(cfg.RetentionSweepSec)*time.Second, logger)
	if snapRepo != nil {
		sweeper.Also("snapshots", snapRepo)
	}
	if cache != nil {
		sweeper.WithLocker(lockx.NewGuard(cache.Client(), "sentinelai:retention", 5*time.Minute))
	}

	feedManager := feeds.Build(cfg, eventLog, logger)

	svc := mission.NewService(mission.Deps{
		Log:       eventLog,
		Engine:    engine,
		Router:    router,
		Sweeper:   sweeper,
		Snapshots: snapshots,
		Feeds:     feedManager,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ok",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if len(readyProblems) > 0 {
			httpx.WriteError(
				w,
				r,
				http.StatusServiceUnavailable,
				"FAILED_PRECONDITION",
				"service not ready: invalid configuration",
				map[string]any{"problems": readyProblems},
			)
			return
		}
		if err := svc.Ping(r.Context()); err != nil {
			httpx.WriteError(
				w,
				r,
				http.StatusServiceUnavailable,
				"FAILED_PRECONDITION",
				"service not ready: event store unavailable",
				map[string]any{"problem": "store_ping_failed"},
			)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ready",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.Handle("GET /metrics", metricsx.Handler())

	api := handlers.New(svc, logger)
	if cfg.AIDebugRoutes && aiClient != nil {
		api.WithProber(aiClient)
	}
	api.Register(mux)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})

	handler := httpx.WrapServeMux(mux, notFound)
	handler = middleware.RateLimitMiddleware{
		Limiter: middleware.NewIPRateLimiter(cfg.PluginRateRPS, cfg.PluginRateBurst, 5*time.Minute),
		Match: func(r *http.Request) bool {
			return r.Method == http.MethodPost && r.URL.Path == "/api/v1/events"
		},
	}.Wrap(handler)
	handler = middleware.CORSMiddleware{AllowedOrigins: cfg.CORSAllowedOrigins, MaxAge: 10 * time.Minute}.Wrap(handler)
	handler = metricsx.Instrument(handler)
	handler = httpx.WithTimeout(cfg.RequestTimeout, handler)
	handler = httpx.WithRequestID(handler)
	handler = httpx.WithRecover(logger, handler)
	handler = httpx.WithRequestLog(logger, httpx.RequestLogOptions{SkipPaths: map[string]bool{"/healthz": true, "/metrics": true}}, handler)
	handler = otelhttp.NewHandler(handler, "api")

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	g, gctx := errgroup.WithContext(bgCtx)

	if err := feedManager.Start(bgCtx); err != nil {
		logger.Warn(context.Background(), "feeds_start_partial", "some feeds failed to start",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
	}
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		logger.Info(context.Background(), "service_start", "starting service",
			slog.String("addr", server.Addr),
			slog.Int("http_port", cfg.HTTPPort),
			slog.String("log_level", cfg.LogLevel),
			slog.Int("request_timeout_ms", cfg.RequestTimeoutMS),
			slog.Int("feeds", feedManager.Len()),
			slog.Int("publishers", len(publishers)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case <-gctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	feedManager.Stop()
	stopBackground()
	if err := g.Wait(); err != nil {
		logger.Error(context.Background(), "server_failed", "server failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		exitCode = 1
	}
	for _, closeFn := range closers {
		closeFn()
	}
	_ = eventLog.Close()
	logger.Info(context.Background(), "service_stop", "service stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
