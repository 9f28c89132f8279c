// Package feeds holds the upstream feed clients. Each client runs on its own
// goroutine, owns its connection state and writes only through an EventSink.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sentinelai-backend/shared/events"
	"sentinelai-backend/shared/logx"
	"sentinelai-backend/shared/metricsx"
	"sentinelai-backend/shared/workflow"
)

// EventSink is the append side of the event log.
type EventSink interface {
	Append(ctx context.Context, e events.Event) (int64, error)
}

type Client interface {
	Name() string
	// Start launches the feed loop and returns immediately.
	Start(ctx context.Context) error
	// Stop cancels the loop and waits for it to exit.
	Stop()
	State() ConnectionState
}

var ErrAlreadyStarted = errors.New("feed already started")

// FeedUnavailableError is an upstream failure. It never leaves the feed
// loop; it is recorded in the connection state.
type FeedUnavailableError struct {
	Feed string
	Err  error
}

func (e *FeedUnavailableError) Error() string {
	return fmt.Sprintf("feed %s unavailable: %v", e.Feed, e.Err)
}

func (e *FeedUnavailableError) Unwrap() error { return e.Err }

func unavailable(feed string, format string, args ...any) error {
	return &FeedUnavailableError{Feed: feed, Err: fmt.Errorf(format, args...)}
}

// ConnectionState is a point-in-time copy of a feed's health.
type ConnectionState struct {
	Feed                string     `json:"feed"`
	Status              string     `json:"status"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	NextRetryAt         *time.Time `json:"next_retry_at,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	ConnectedSince      *time.Time `json:"connected_since,omitempty"`
	EventsEmitted       int64      `json:"events_emitted"`
}

// tracker guards a ConnectionState and logs transitions.
type tracker struct {
	mu     sync.Mutex
	state  ConnectionState
	logger logx.Logger
}

func newTracker(feed string, logger logx.Logger) *tracker {
	t := &tracker{
		state:  ConnectionState{Feed: feed, Status: workflow.FeedDisconnected},
		logger: logger,
	}
	metricsx.SetFeedStatus(feed, workflow.FeedDisconnected, workflow.AllFeedStatuses())
	return t
}

func (t *tracker) snapshot() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.state
	out.NextRetryAt = copyTime(t.state.NextRetryAt)
	out.LastSuccessAt = copyTime(t.state.LastSuccessAt)
	out.ConnectedSince = copyTime(t.state.ConnectedSince)
	return out
}

func (t *tracker) status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Status
}

// moveTo changes status, applies mutate under the lock and logs the
// transition event outside it.
func (t *tracker) moveTo(ctx context.Context, to string, mutate func(*ConnectionState)) {
	t.mu.Lock()
	from := t.state.Status
	t.state.Status = to
	if mutate != nil {
		mutate(&t.state)
	}
	feed := t.state.Feed
	failures := t.state.ConsecutiveFailures
	lastErr := t.state.LastError
	t.mu.Unlock()

	if from == to {
		return
	}
	metricsx.SetFeedStatus(feed, to, workflow.AllFeedStatuses())
	if !workflow.CanTransition(from, to) {
		t.logger.Warn(ctx, "feed_transition_unexpected", "unexpected feed status transition",
			slog.String("from", from),
			slog.String("to", to),
		)
		return
	}
	attrs := []slog.Attr{slog.String("from", from), slog.String("to", to)}
	if to == workflow.FeedBackoff {
		attrs = append(attrs, slog.Int("consecutive_failures", failures), slog.String("error", lastErr))
		t.logger.Warn(ctx, workflow.EventTypeForTransition(from, to), "feed backing off", attrs...)
		return
	}
	t.logger.Info(ctx, workflow.EventTypeForTransition(from, to), "feed status changed", attrs...)
}

func (t *tracker) addEmitted(n int) {
	t.mu.Lock()
	t.state.EventsEmitted += int64(n)
	t.mu.Unlock()
}

func copyTime(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	v := *ts
	return &v
}

func timePtr(ts time.Time) *time.Time {
	return &ts
}

// lifecycle runs one background loop per Start/Stop pair.
type lifecycle struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (l *lifecycle) start(ctx context.Context, run func(context.Context)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	go func() {
		defer close(done)
		run(runCtx)
	}()
	return nil
}

func (l *lifecycle) stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// sleepCtx waits for d or until ctx ends.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// appendAll writes evs through sink, logging and counting rejects.
func appendAll(ctx context.Context, feed string, sink EventSink, logger logx.Logger, evs []events.Event) int {
	n := 0
	for _, e := range evs {
		if _, err := sink.Append(ctx, e); err != nil {
			if ctx.Err() != nil {
				return n
			}
			metricsx.IncFeedSkipped(feed, "rejected")
			logger.Warn(ctx, "feed_event_rejected", "event log rejected feed event",
				slog.String("event_type", string(e.EventType)),
				slog.String("error", err.Error()),
			)
			continue
		}
		n++
	}
	return n
}
