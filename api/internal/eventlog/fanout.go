package eventlog

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"sentinelai-backend/shared/events"
	"sentinelai-backend/shared/logx"
	"sentinelai-backend/shared/metricsx"
)

// Publisher receives events after they are durably appended. Delivery is
// best effort.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, e events.Event) error
}

// FanoutLog decorates a Log: successful appends are counted and handed to
// every publisher. Publisher failures are logged, never returned.
type FanoutLog struct {
	Log
	publishers []Publisher
	timeout    time.Duration
	logger     logx.Logger
	now        func() time.Time
}

func NewFanoutLog(inner Log, logger logx.Logger, publishers ...Publisher) *FanoutLog {
	return &FanoutLog{
		Log:        inner,
		publishers: publishers,
		timeout:    2 * time.Second,
		logger:     logger.With(slog.String("component", "event_fanout")),
		now:        time.Now,
	}
}

func (l *FanoutLog) Append(ctx context.Context, e events.Event) (int64, error) {
	ctx, span := otel.Tracer("eventlog").Start(ctx, "eventlog.append")
	span.SetAttributes(attribute.String("event.type", string(e.EventType)))
	defer span.End()

	// normalize first so publishers see the same timestamps the log stores
	prepared, err := Prepare(e, l.now())
	if err != nil {
		return 0, err
	}
	id, err := l.Log.Append(ctx, prepared)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	metricsx.IncEventAppended(string(e.EventType))
	if len(l.publishers) == 0 {
		return id, nil
	}

	published := prepared
	published.ID = id
	for _, p := range l.publishers {
		l.publish(ctx, p, published)
	}
	return id, nil
}

func (l *FanoutLog) publish(ctx context.Context, p Publisher, e events.Event) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()
	if err := p.Publish(pctx, e); err != nil {
		metricsx.IncPublishFailure(p.Name())
		l.logger.Warn(ctx, "event_publish_failed", "event notification failed",
			slog.String("publisher", p.Name()),
			slog.Int64("event_id", e.ID),
			slog.String("event_type", string(e.EventType)),
			slog.String("error", err.Error()),
		)
	}
}

// Ping reaches through to the wrapped store when it can be pinged.
func (l *FanoutLog) Ping(ctx context.Context) error {
	if p, ok := l.Log.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}
