package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"sentinelai-backend/api/internal/eventlog"
	"sentinelai-backend/api/internal/repos"
	"sentinelai-backend/shared/config"
	"sentinelai-backend/shared/dbx"
	"sentinelai-backend/shared/logx"
	"sentinelai-backend/shared/metricsx"
	"sentinelai-backend/shared/observability"
)

const taskRetentionPurge = "retention.purge"

type purgePayload struct {
	// Days overrides RETENTION_DAYS for a manually enqueued run.
	Days int `json:"days,omitempty"`
}

func main() {
	cfg, problems := config.Load("retention-worker", 8083)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.AsynqRedisAddr == "" {
		problems = append(problems, config.Problem{Field: "ASYNQ_REDIS_ADDR", Message: "ASYNQ_REDIS_ADDR is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	if cfg.OtelEnabled {
		if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Version:     version,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		}); err == nil {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	dbPool, err := dbx.NewPool(cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "db init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()

	eventsRepo := repos.NewEventsRepo(dbPool)
	snapshotsRepo := repos.NewSnapshotsRepo(dbPool)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		Queues: map[string]int{
			cfg.AsynqQueue: 1,
		},
	})
	defer server.Shutdown()

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskRetentionPurge, func(ctx context.Context, t *asynq.Task) error {
		ctx, span := otel.Tracer("asynq").Start(ctx, "retention.purge")
		span.SetAttributes(attribute.String("queue", cfg.AsynqQueue))
		defer span.End()

		policy := eventlog.RetentionPolicy{Days: cfg.RetentionDays}
		if len(t.Payload()) > 0 {
			var payload purgePayload
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return err
			}
			if payload.Days > 0 {
				policy.Days = payload.Days
			}
		}
		sweeper := eventlog.NewSweeper(eventsRepo, policy, 0, logger)
		if cfg.SnapshotsEnabled {
			sweeper.Also("snapshots", snapshotsRepo)
		}
		res, err := sweeper.PurgeExpired(ctx, time.Now())
		if err != nil {
			return err
		}
		logger.Info(ctx, "retention_purged", "retention purge completed",
			slog.Time("cutoff", res.Cutoff),
			slog.Int("removed_events", res.Removed["events"]),
			slog.Int("removed_snapshots", res.Removed["snapshots"]),
		)
		return nil
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
	})
	defer scheduler.Shutdown()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	task := asynq.NewTask(taskRetentionPurge, nil, asynq.Queue(cfg.AsynqQueue), asynq.Unique(time.Duration(cfg.RetentionSweepSec)*time.Second))
	if _, err := scheduler.Register("@every "+strconv.Itoa(cfg.RetentionSweepSec)+"s", task); err != nil {
		logger.Error(context.Background(), "scheduler_init_failed", "scheduler init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error(context.Background(), "scheduler_start_failed", "scheduler start failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			info, err := inspector.GetQueueInfo(cfg.AsynqQueue)
			if err != nil {
				continue
			}
			metricsx.SetAsynqQueueDepth(cfg.AsynqQueue, info.Size)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "worker_start", "retention worker started",
			slog.String("queue", cfg.AsynqQueue),
			slog.Int("concurrency", cfg.AsynqConcurrency),
			slog.Int("retention_days", cfg.RetentionDays),
			slog.Int("interval_sec", cfg.RetentionSweepSec),
		)
		errCh <- server.Run(mux)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, asynq.ErrServerClosed) {
			logger.Error(context.Background(), "worker_failed", "worker failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	logger.Info(context.Background(), "worker_stop", "retention worker stopped")
}
