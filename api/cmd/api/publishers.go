package main

import (
	"context"
	"log/slog"

	"sentinelai-backend/api/internal/eventlog"
	"sentinelai-backend/shared/cachex"
	"sentinelai-backend/shared/config"
	"sentinelai-backend/shared/influxx"
	"sentinelai-backend/shared/logx"
	"sentinelai-backend/shared/mqx"
)

type eventPublishers struct {
	list    []eventlog.Publisher
	closers []func()
	// cache is also the retention lock backend when Redis is configured.
	cache *cachex.Client
}

// buildPublishers wires the optional notification sinks. A sink that fails
// to initialise is logged and left out; appends never depend on it.
func buildPublishers(cfg config.Config, logger logx.Logger) eventPublishers {
	var out eventPublishers
	if cfg.RedisAddr != "" {
		c, err := cachex.New(cfg)
		if err != nil {
			publisherDisabled(logger, "redis", err)
		} else {
			out.cache = c
			out.list = append(out.list, cachex.NewEventPublisher(c, cfg.RedisEventsChannel))
			out.closers = append(out.closers, func() { _ = c.Close() })
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		p, err := mqx.NewProducer(cfg)
		if err != nil {
			publisherDisabled(logger, "kafka", err)
		} else {
			out.list = append(out.list, mqx.NewEventPublisher(p, cfg.KafkaEventsTopic))
			out.closers = append(out.closers, func() { _ = p.Close() })
		}
	}
	if cfg.InfluxURL != "" {
		c, err := influxx.New(cfg)
		if err != nil {
			publisherDisabled(logger, "influx", err)
		} else {
			out.list = append(out.list, influxx.NewEventPublisher(c))
			out.closers = append(out.closers, c.Close)
		}
	}
	return out
}

func publisherDisabled(logger logx.Logger, name string, err error) {
	logger.Warn(context.Background(), name+"_init_failed", name+" publisher disabled",
		slog.String("publisher", name),
		slog.String("error_code", "FAILED_PRECONDITION"),
		slog.String("error", err.Error()),
	)
}
