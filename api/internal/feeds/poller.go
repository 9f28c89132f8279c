package feeds

import (
	"context"
	"log/slog"
	"time"

	"sentinelai-backend/shared/events"
	"sentinelai-backend/shared/logx"
	"sentinelai-backend/shared/metricsx"
	"sentinelai-backend/shared/workflow"
)

type fetchFunc func(ctx context.Context) ([]events.Event, error)

// poller drives a request/response upstream on a fixed interval. A failed
// poll moves the feed to BACKOFF until the next tick.
type poller struct {
	name     string
	interval time.Duration
	fetch    fetchFunc
	sink     EventSink
	logger   logx.Logger
	tracker  *tracker
	life     lifecycle
	now      func() time.Time
}

func newPoller(name string, interval time.Duration, fetch fetchFunc, sink EventSink, logger logx.Logger) *poller {
	if interval <= 0 {
		interval = time.Minute
	}
	logger = logger.With(slog.String("feed", name))
	return &poller{
		name:     name,
		interval: interval,
		fetch:    fetch,
		sink:     sink,
		logger:   logger,
		tracker:  newTracker(name, logger),
		now:      time.Now,
	}
}

func (p *poller) Name() string { return p.name }

func (p *poller) State() ConnectionState { return p.tracker.snapshot() }

func (p *poller) Start(ctx context.Context) error {
	return p.life.start(ctx, p.run)
}

func (p *poller) Stop() {
	p.life.stop()
	p.tracker.moveTo(context.Background(), workflow.FeedDisconnected, func(s *ConnectionState) {
		s.NextRetryAt = nil
		s.ConnectedSince = nil
	})
}

func (p *poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		p.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollOnce performs a single fetch and records the outcome.
func (p *poller) pollOnce(ctx context.Context) int {
	if p.tracker.status() != workflow.FeedConnected {
		p.tracker.moveTo(ctx, workflow.FeedConnecting, nil)
	}
	evs, err := p.fetch(ctx)
	if ctx.Err() != nil {
		return 0
	}
	now := p.now()
	if err != nil {
		metricsx.IncFeedFailure(p.name)
		p.tracker.moveTo(ctx, workflow.FeedBackoff, func(s *ConnectionState) {
			s.ConsecutiveFailures++
			s.LastError = err.Error()
			s.NextRetryAt = timePtr(now.Add(p.interval))
			s.ConnectedSince = nil
		})
		return 0
	}
	p.tracker.moveTo(ctx, workflow.FeedConnected, func(s *ConnectionState) {
		s.ConsecutiveFailures = 0
		s.LastError = ""
		s.NextRetryAt = nil
		s.LastSuccessAt = timePtr(now)
		if s.ConnectedSince == nil {
			s.ConnectedSince = timePtr(now)
		}
	})
	n := appendAll(ctx, p.name, p.sink, p.logger, evs)
	p.tracker.addEmitted(n)
	if n > 0 {
		p.logger.Debug(ctx, "feed_poll_completed", "poll completed", slog.Int("events", n))
	}
	return n
}
