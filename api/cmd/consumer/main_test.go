package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"sentinelai-backend/api/internal/eventlog"
	"sentinelai-backend/shared/events"
)

type recordingSink struct {
	name string
	err  error
	got  []events.Event
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, e events.Event) error {
	s.got = append(s.got, e)
	return s.err
}

func TestRelayFansOutEnvelope(t *testing.T) {
	e := events.Event{
		ID:         7,
		EventType:  events.TypeAirTrack,
		MissionID:  "m1",
		OccurredAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Payload:    map[string]any{"icao24": "abc123"},
	}
	body, err := events.NewEnvelope(events.TopicMissionEvents, e, e.OccurredAt).Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	a := &recordingSink{name: "influx"}
	b := &recordingSink{name: "redis", err: errors.New("down")}

	err = relay(context.Background(), body, []eventlog.Publisher{a, b})
	if err == nil {
		t.Fatalf("expected the failing sink to surface")
	}
	if len(a.got) != 1 || len(b.got) != 1 {
		t.Fatalf("every sink must see the event: %d %d", len(a.got), len(b.got))
	}
	if a.got[0].ID != 7 || a.got[0].Payload["icao24"] != "abc123" {
		t.Fatalf("unexpected relayed event: %+v", a.got[0])
	}
}

func TestRelayRejectsMalformed(t *testing.T) {
	for _, body := range []string{"not json", `{"event":{"event_type":"ufo"}}`, `{"event":{"event_type":"alert"}}`} {
		err := relay(context.Background(), []byte(body), nil)
		if !errors.Is(err, errMalformedEnvelope) {
			t.Fatalf("%q: expected malformed envelope, got %v", body, err)
		}
	}
}
