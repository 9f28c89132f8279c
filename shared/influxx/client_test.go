package influxx

import (
	"testing"
	"time"

	"sentinelai-backend/shared/events"
)

func TestPointForAirTrack(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	pt, ok := PointFor(events.Event{
		EventType:  events.TypeAirTrack,
		MissionID:  "m1",
		OccurredAt: ts,
		Location:   &events.GeoPoint{Lat: 47.1, Lon: -122.2},
		Payload:    map[string]any{"icao24": "ABC123", "altitude_ft": 3500.0, "callsign": ""},
		Metadata:   map[string]any{"source": events.SourceOpenSky},
	})
	if !ok {
		t.Fatalf("expected point")
	}
	if pt.Measurement != "air_track" || !pt.Time.Equal(ts) {
		t.Fatalf("unexpected point: %#v", pt)
	}
	if pt.Tags["icao24"] != "ABC123" || pt.Tags["mission_id"] != "m1" || pt.Tags["source"] != "opensky" {
		t.Fatalf("unexpected tags: %#v", pt.Tags)
	}
	if _, ok := pt.Tags["callsign"]; ok {
		t.Fatalf("expected empty callsign to be omitted")
	}
	if pt.Fields["altitude_ft"] != 3500.0 || pt.Fields["lat"] != 47.1 {
		t.Fatalf("unexpected fields: %#v", pt.Fields)
	}
}

func TestPointForSkipsNonTelemetry(t *testing.T) {
	if _, ok := PointFor(events.Event{EventType: events.TypePluginSubmitted}); ok {
		t.Fatalf("expected plugin events to be skipped")
	}
	if _, ok := PointFor(events.Event{EventType: events.TypeWeatherSnapshot, Payload: map[string]any{"condition": "clear"}}); ok {
		t.Fatalf("expected weather without numeric fields to be skipped")
	}
}
