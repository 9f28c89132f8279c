package eventlog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sentinelai-backend/shared/events"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func mustAppend(t *testing.T, l Log, e events.Event) int64 {
	t.Helper()
	id, err := l.Append(context.Background(), e)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return id
}

func TestAppendIsVisibleAndOrdered(t *testing.T) {
	l := NewMemoryLog().WithClock(fixedClock(t0))
	late := mustAppend(t, l, events.Event{EventType: events.TypeRadioPacket, OccurredAt: t0.Add(2 * time.Minute)})
	early := mustAppend(t, l, events.Event{EventType: events.TypeAirTrack, OccurredAt: t0})
	tie := mustAppend(t, l, events.Event{EventType: events.TypeWeatherSnapshot, OccurredAt: t0})

	got, err := l.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].ID != early || got[1].ID != tie || got[2].ID != late {
		t.Fatalf("unexpected order: %d %d %d", got[0].ID, got[1].ID, got[2].ID)
	}
	if !(early > late && tie > early) {
		t.Fatalf("expected monotonic ids, got late=%d early=%d tie=%d", late, early, tie)
	}
}

func TestAppendDefaultsOccurredAtToInsertTime(t *testing.T) {
	l := NewMemoryLog().WithClock(fixedClock(t0))
	mustAppend(t, l, events.Event{EventType: events.TypePluginSubmitted})
	got, _ := l.Query(context.Background(), Filter{})
	if !got[0].OccurredAt.Equal(t0) || !got[0].InsertedAt.Equal(t0) {
		t.Fatalf("expected insert-time fallback, got occurred=%v inserted=%v", got[0].OccurredAt, got[0].InsertedAt)
	}
}

func TestAppendRejectsInvalidEvents(t *testing.T) {
	l := NewMemoryLog()
	cases := []events.Event{
		{},
		{EventType: "sonar_ping"},
		{EventType: events.TypeAlert, Location: &events.GeoPoint{Lat: 91, Lon: 0}},
	}
	for _, e := range cases {
		_, err := l.Append(context.Background(), e)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError for %#v, got %v", e, err)
		}
	}
	if l.Len() != 0 {
		t.Fatalf("expected nothing stored, got %d", l.Len())
	}
}

func TestAppendRejectsOutOfRangeTimestamps(t *testing.T) {
	l := NewMemoryLog().WithClock(fixedClock(t0))
	cases := []time.Time{
		time.Date(55800, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(0, 12, 31, 0, 0, 0, 0, time.UTC),
		t0.Add(MaxFutureSkew + time.Minute),
	}
	for _, ts := range cases {
		_, err := l.Append(context.Background(), events.Event{EventType: events.TypePluginSubmitted, OccurredAt: ts})
		var verr *ValidationError
		if !errors.As(err, &verr) || verr.Field != "timestamp" {
			t.Fatalf("expected timestamp ValidationError for %v, got %v", ts, err)
		}
	}
	mustAppend(t, l, events.Event{EventType: events.TypePluginSubmitted, OccurredAt: t0.Add(MaxFutureSkew)})
	if l.Len() != 1 {
		t.Fatalf("expected only the in-range event stored, got %d", l.Len())
	}
}

func TestStoredEventsAreImmutable(t *testing.T) {
	l := NewMemoryLog()
	payload := map[string]any{"text": "original"}
	mustAppend(t, l, events.Event{EventType: events.TypeRadioPacket, Payload: payload})
	payload["text"] = "mutated"

	got, _ := l.Query(context.Background(), Filter{})
	got[0].Payload["text"] = "mutated again"

	again, _ := l.Query(context.Background(), Filter{})
	if again[0].Payload["text"] != "original" {
		t.Fatalf("stored payload changed: %#v", again[0].Payload)
	}
}

func TestQueryFilters(t *testing.T) {
	l := NewMemoryLog()
	seattle := events.GeoPoint{Lat: 47.6062, Lon: -122.3321}
	tacoma := events.GeoPoint{Lat: 47.2529, Lon: -122.4443}
	mustAppend(t, l, events.Event{EventType: events.TypeRadioPacket, MissionID: "alpha", OccurredAt: t0, Location: &seattle})
	mustAppend(t, l, events.Event{EventType: events.TypeAirTrack, OccurredAt: t0.Add(time.Minute), Location: &tacoma})
	mustAppend(t, l, events.Event{EventType: events.TypeRadioPacket, MissionID: "bravo", OccurredAt: t0.Add(2 * time.Minute)})
	mustAppend(t, l, events.Event{EventType: events.TypeAlert, MissionID: "alpha", OccurredAt: t0.Add(3 * time.Minute)})

	ctx := context.Background()
	got, _ := l.Query(ctx, Filter{MissionID: "alpha"})
	if len(got) != 2 {
		t.Fatalf("expected 2 alpha events, got %d", len(got))
	}
	got, _ = l.Query(ctx, Filter{MissionID: "alpha", IncludeGlobal: true})
	if len(got) != 3 {
		t.Fatalf("expected alpha plus global events, got %d", len(got))
	}
	got, _ = l.Query(ctx, Filter{EventTypes: []events.EventType{events.TypeRadioPacket}})
	if len(got) != 2 {
		t.Fatalf("expected 2 radio packets, got %d", len(got))
	}
	got, _ = l.Query(ctx, Filter{Since: t0.Add(time.Minute), Until: t0.Add(2 * time.Minute)})
	if len(got) != 2 {
		t.Fatalf("expected inclusive time window to match 2, got %d", len(got))
	}
	got, _ = l.Query(ctx, Filter{Near: &seattle, RadiusKm: 10})
	if len(got) != 1 || got[0].EventType != events.TypeRadioPacket {
		t.Fatalf("expected only the Seattle event within 10 km, got %#v", got)
	}
	got, _ = l.Query(ctx, Filter{Limit: 2})
	if len(got) != 2 || got[0].EventType != events.TypeRadioPacket || got[1].EventType != events.TypeAlert {
		t.Fatalf("expected newest two events oldest first, got %#v", got)
	}
}

func TestQueryRejectsBadFilter(t *testing.T) {
	l := NewMemoryLog()
	_, err := l.Query(context.Background(), Filter{RadiusKm: 5})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "radius_km" {
		t.Fatalf("expected radius_km validation error, got %v", err)
	}
}

func TestConcurrentAppendsAssignUniqueIDs(t *testing.T) {
	l := NewMemoryLog()
	const writers, perWriter = 8, 50
	var wg sync.WaitGroup
	ids := make(chan int64, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id, err := l.Append(context.Background(), events.Event{EventType: events.TypeRadioPacket, OccurredAt: t0})
				if err != nil {
					t.Errorf("append: %v", err)
					return
				}
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)
	seen := make(map[int64]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != writers*perWriter {
		t.Fatalf("expected %d ids, got %d", writers*perWriter, len(seen))
	}
}

func TestPurgeOlderThan(t *testing.T) {
	l := NewMemoryLog()
	mustAppend(t, l, events.Event{EventType: events.TypeRadioPacket, OccurredAt: t0.Add(-time.Hour)})
	mustAppend(t, l, events.Event{EventType: events.TypeRadioPacket, OccurredAt: t0})
	mustAppend(t, l, events.Event{EventType: events.TypeRadioPacket, OccurredAt: t0.Add(time.Hour)})

	wm, err := l.Watermark(context.Background())
	if err != nil || wm != 3 {
		t.Fatalf("expected watermark 3, got %d err=%v", wm, err)
	}
	n, err := l.PurgeOlderThan(context.Background(), t0, wm)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 purged, got %d err=%v", n, err)
	}
	n, _ = l.PurgeOlderThan(context.Background(), t0, wm)
	if n != 0 {
		t.Fatalf("expected second purge to remove nothing, got %d", n)
	}
	if l.Len() != 2 {
		t.Fatalf("expected event at cutoff to survive, have %d", l.Len())
	}
}

func TestPurgeOlderThanSparesIDsAboveWatermark(t *testing.T) {
	l := NewMemoryLog()
	wm, _ := l.Watermark(context.Background())
	late := mustAppend(t, l, events.Event{EventType: events.TypeAlert, OccurredAt: t0.Add(-48 * time.Hour)})

	n, err := l.PurgeOlderThan(context.Background(), t0, wm)
	if err != nil || n != 0 {
		t.Fatalf("expected nothing purged, got %d err=%v", n, err)
	}
	got, _ := l.Query(context.Background(), Filter{})
	if len(got) != 1 || got[0].ID != late {
		t.Fatalf("expected event %d to survive, got %#v", late, got)
	}
}
