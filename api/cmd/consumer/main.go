package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"sentinelai-backend/api/internal/eventlog"
	"sentinelai-backend/shared/cachex"
	"sentinelai-backend/shared/config"
	"sentinelai-backend/shared/events"
	"sentinelai-backend/shared/influxx"
	"sentinelai-backend/shared/logx"
	"sentinelai-backend/shared/metricsx"
	"sentinelai-backend/shared/mqx"
	"sentinelai-backend/shared/observability"
)

// The consumer relays the mission event topic into the time-series and live
// cache sinks so API replicas can run with Kafka as their only publisher.
func main() {
	cfg, problems := config.Load("mission-events-consumer", 8082)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if cfg.KafkaGroupID == "" {
		problems = append(problems, config.Problem{Field: "KAFKA_CONSUMER_GROUP", Message: "KAFKA_CONSUMER_GROUP is required"})
	}
	if cfg.InfluxURL == "" && cfg.RedisAddr == "" {
		problems = append(problems, config.Problem{Field: "INFLUX_URL", Message: "INFLUX_URL or REDIS_ADDR is required"})
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

	var sinks []eventlog.Publisher
	if cfg.InfluxURL != "" {
		client, err := influxx.New(cfg)
		if err != nil {
			logger.Error(context.Background(), "influx_init_failed", "influx init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		defer client.Close()
		sinks = append(sinks, influxx.NewEventPublisher(client))
	}
	if cfg.RedisAddr != "" {
		client, err := cachex.New(cfg)
		if err != nil {
			logger.Error(context.Background(), "redis_init_failed", "redis init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		defer client.Close()
		sinks = append(sinks, cachex.NewEventPublisher(client, cfg.RedisEventsChannel))
	}

	topic := cfg.KafkaEventsTopic
	reader, err := mqx.NewConsumer(cfg, topic, cfg.KafkaGroupID)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka reader init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	logger.Info(ctx, "consumer_start", "mission events consumer started",
		slog.String("topic", topic),
		slog.String("group", cfg.KafkaGroupID),
		slog.Int("sinks", len(sinks)),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			logger.Error(ctx, "kafka_fetch_failed", "failed to fetch message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		spanCtx, span := otel.Tracer("mqx").Start(ctx, "kafka.consume")
		span.SetAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", topic),
		)
		if err := relay(spanCtx, msg.Value, sinks); err != nil {
			span.End()
			logger.Error(ctx, "event_relay_failed", "failed to relay event",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			continue
		}
		span.End()
		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Error(ctx, "kafka_commit_failed", "failed to commit message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
		}
		stats := reader.Stats()
		metricsx.SetKafkaLag(stats.Topic, cfg.KafkaGroupID, stats.Lag)
	}

	logger.Info(context.Background(), "consumer_stop", "mission events consumer stopped")
}

var errMalformedEnvelope = errors.New("malformed event envelope")

// relay decodes one envelope and hands its event to every sink. A malformed
// envelope is an error; sink failures are joined so one sink cannot starve
// the others.
func relay(ctx context.Context, payload []byte, sinks []eventlog.Publisher) error {
	var env events.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("%w: %v", errMalformedEnvelope, err)
	}
	if !env.Event.EventType.Valid() || env.Event.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing event_type or occurred_at", errMalformedEnvelope)
	}
	var errs []error
	for _, s := range sinks {
		if err := s.Publish(ctx, env.Event); err != nil {
			metricsx.IncPublishFailure(s.Name())
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
