package events

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestParseEventType(t *testing.T) {
	got, err := ParseEventType("  Radio_Packet ")
	if err != nil || got != TypeRadioPacket {
		t.Fatalf("expected radio_packet, got %q err=%v", got, err)
	}
	if _, err := ParseEventType("telepathy"); !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := map[string]time.Time{
		"2024-05-01T12:30:00Z":      time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
		"2024-05-01T14:30:00+02:00": time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
		"2024-05-01T12:30":          time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
		"1714566600":                time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
	}
	for raw, want := range cases {
		got, err := ParseTimestamp(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if !got.Equal(want) {
			t.Fatalf("parse %q: expected %v, got %v", raw, want, got)
		}
	}
	for _, raw := range []string{"yesterday", "1700000000000", "-5"} {
		if _, err := ParseTimestamp(raw); !errors.Is(err, ErrBadTimestamp) {
			t.Fatalf("parse %q: expected ErrBadTimestamp, got %v", raw, err)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	e := Event{
		EventType: TypeAirTrack,
		Location:  &GeoPoint{Lat: 1, Lon: 2},
		Payload:   map[string]any{"nested": map[string]any{"k": "v"}, "list": []any{"a"}},
	}
	c := e.Clone()
	c.Location.Lat = 9
	c.Payload["nested"].(map[string]any)["k"] = "changed"
	c.Payload["list"].([]any)[0] = "b"
	if e.Location.Lat != 1 {
		t.Fatalf("location aliased")
	}
	if e.Payload["nested"].(map[string]any)["k"] != "v" || e.Payload["list"].([]any)[0] != "a" {
		t.Fatalf("payload aliased: %#v", e.Payload)
	}
}

func TestDistanceKm(t *testing.T) {
	// one degree of latitude is roughly 111.2 km
	d := DistanceKm(GeoPoint{Lat: 10, Lon: 20}, GeoPoint{Lat: 11, Lon: 20})
	if math.Abs(d-111.2) > 0.5 {
		t.Fatalf("unexpected distance %.3f", d)
	}
}

func TestSortChronologicalTieBreaksByID(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	list := []Event{
		{ID: 3, OccurredAt: ts},
		{ID: 1, OccurredAt: ts.Add(time.Minute)},
		{ID: 2, OccurredAt: ts},
	}
	SortChronological(list)
	if list[0].ID != 2 || list[1].ID != 3 || list[2].ID != 1 {
		t.Fatalf("unexpected order: %d %d %d", list[0].ID, list[1].ID, list[2].ID)
	}
}
