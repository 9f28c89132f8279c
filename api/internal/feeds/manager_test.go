package feeds

import (
	"context"
	"testing"

	"sentinelai-backend/shared/config"
	"sentinelai-backend/shared/logx"
	"sentinelai-backend/shared/workflow"
)

func TestBuildSkipsDisabledFeeds(t *testing.T) {
	cfg := config.Default("api", 8080)
	if m := Build(cfg, &recordingSink{}, logx.Discard()); m.Len() != 0 {
		t.Fatalf("expected no feeds, got %d", m.Len())
	}

	lat, lon := 47.6, -122.3
	cfg.WeatherEnabled = true
	cfg.WeatherLat, cfg.WeatherLon = &lat, &lon
	cfg.APRSEnabled = true
	cfg.APRSCallsign = "N0CALL"
	m := Build(cfg, &recordingSink{}, logx.Discard())
	if m.Len() != 2 {
		t.Fatalf("expected 2 feeds, got %d", m.Len())
	}
	states := m.States()
	if states[0].Feed != RadioFeedName || states[1].Feed != WeatherFeedName {
		t.Fatalf("unexpected feeds: %+v", states)
	}
	for _, st := range states {
		if st.Status != workflow.FeedDisconnected {
			t.Fatalf("expected idle feeds to be DISCONNECTED, got %+v", st)
		}
	}
}

type stubClient struct {
	name    string
	started bool
	stopped bool
}

func (s *stubClient) Name() string                    { return s.name }
func (s *stubClient) Start(ctx context.Context) error { s.started = true; return nil }
func (s *stubClient) Stop()                           { s.stopped = true }
func (s *stubClient) State() ConnectionState          { return ConnectionState{Feed: s.name} }

func TestManagerStartStop(t *testing.T) {
	a, b := &stubClient{name: "a"}, &stubClient{name: "b"}
	m := NewManager(logx.Discard(), a, b)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.Stop()
	if !a.started || !b.started || !a.stopped || !b.stopped {
		t.Fatalf("expected both clients started and stopped")
	}
}
