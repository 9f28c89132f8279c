package missionctx

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"sentinelai-backend/api/internal/eventlog"
	"sentinelai-backend/shared/events"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, evs ...events.Event) *eventlog.MemoryLog {
	t.Helper()
	l := eventlog.NewMemoryLog()
	for _, e := range evs {
		if _, err := l.Append(context.Background(), e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	return l
}

func track(icao string, at time.Time, lat float64, lon float64) events.Event {
	return events.Event{
		EventType:  events.TypeAirTrack,
		OccurredAt: at,
		Location:   &events.GeoPoint{Lat: lat, Lon: lon},
		Payload:    map[string]any{"icao24": icao, "altitude_ft": 3000.0},
	}
}

func weather(at time.Time, payload map[string]any) events.Event {
	return events.Event{EventType: events.TypeWeatherSnapshot, OccurredAt: at, Payload: payload}
}

func TestWindowMinutes(t *testing.T) {
	if got, err := WindowMinutes(0); err != nil || got != DefaultWindowMinutes {
		t.Fatalf("expected default window, got %d err=%v", got, err)
	}
	for _, bad := range []int{-1, MaxWindowMinutes + 1} {
		_, err := WindowMinutes(bad)
		var ve *eventlog.ValidationError
		if !errors.As(err, &ve) || ve.Field != "window_minutes" {
			t.Fatalf("expected window validation error for %d, got %v", bad, err)
		}
	}
}

func TestBuildCountsAndScope(t *testing.T) {
	l := seed(t,
		events.Event{EventType: events.TypeRadioPacket, MissionID: "m1", OccurredAt: t0.Add(-10 * time.Minute)},
		events.Event{EventType: events.TypeRadioPacket, OccurredAt: t0.Add(-5 * time.Minute)},
		events.Event{EventType: events.TypeAlert, MissionID: "m2", OccurredAt: t0.Add(-5 * time.Minute)},
		events.Event{EventType: events.TypeAlert, MissionID: "m1", OccurredAt: t0.Add(-2 * time.Hour)},
		events.Event{EventType: events.TypeAlert, MissionID: "m1", OccurredAt: t0.Add(time.Minute)},
	)
	mc, err := NewBuilder(l).Build(context.Background(), Request{MissionID: "m1", WindowMinutes: 30, Now: t0})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(mc.Events) != 2 {
		t.Fatalf("expected mission and global radio events only, got %d", len(mc.Events))
	}
	if mc.Count(events.TypeRadioPacket) != 2 || mc.Count(events.TypeAlert) != 0 {
		t.Fatalf("unexpected counts: %#v", mc.Counts)
	}
	if len(mc.Counts) != len(events.AllTypes()) {
		t.Fatalf("expected a count for every type, got %#v", mc.Counts)
	}
	if !mc.Window.Start.Equal(t0.Add(-30*time.Minute)) || !mc.Window.End.Equal(t0) || mc.Window.Minutes != 30 {
		t.Fatalf("unexpected window: %+v", mc.Window)
	}
	if mc.DominantEventType != events.TypeRadioPacket || mc.LastEventAt == nil || !mc.LastEventAt.Equal(t0.Add(-5*time.Minute)) {
		t.Fatalf("unexpected dominant/last: %q %v", mc.DominantEventType, mc.LastEventAt)
	}
	if mc.Air != nil || mc.Weather != nil {
		t.Fatalf("expected no summaries when not requested")
	}
}

func TestBuildAirSummaryNearestTracks(t *testing.T) {
	var evs []events.Event
	for i := 0; i < 7; i++ {
		evs = append(evs, track(fmt.Sprintf("T%d", i), t0.Add(-time.Minute), 47+float64(i)*0.1, -122))
	}
	// T6 moves closest on its latest report
	evs = append(evs, track("T6", t0.Add(-30*time.Second), 47.01, -122))
	evs = append(evs, events.Event{EventType: events.TypeAirTrack, OccurredAt: t0, Payload: map[string]any{"callsign": "NOID"}})
	l := seed(t, evs...)

	mc, err := NewBuilder(l).Build(context.Background(), Request{
		Location:      &events.GeoPoint{Lat: 47, Lon: -122},
		WindowMinutes: 10,
		IncludeAir:    true,
		Now:           t0,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	air := mc.Air
	if air == nil || air.Observations != 9 || air.DistinctTracks != 7 {
		t.Fatalf("unexpected air summary: %+v", air)
	}
	if len(air.Nearest) != DefaultNearestTracks {
		t.Fatalf("expected %d nearest tracks, got %d", DefaultNearestTracks, len(air.Nearest))
	}
	want := []string{"T0", "T6", "T1", "T2", "T3"}
	for i, w := range want {
		if air.Nearest[i].ICAO24 != w {
			t.Fatalf("position %d: expected %s, got %s", i, w, air.Nearest[i].ICAO24)
		}
	}
	if air.Nearest[1].Position.Lat != 47.01 {
		t.Fatalf("expected latest position for T6, got %+v", air.Nearest[1].Position)
	}
}

func TestBuildAirSummaryWithoutLocationUsesRecency(t *testing.T) {
	l := seed(t,
		track("OLD", t0.Add(-3*time.Minute), 47, -122),
		track("NEW", t0.Add(-time.Minute), 48, -122),
	)
	mc, err := NewBuilder(l).WithNearest(1).Build(context.Background(), Request{WindowMinutes: 10, IncludeAir: true, Now: t0})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(mc.Air.Nearest) != 1 || mc.Air.Nearest[0].ICAO24 != "NEW" || mc.Air.Nearest[0].DistanceKm != nil {
		t.Fatalf("unexpected nearest: %+v", mc.Air.Nearest)
	}
}

func TestBuildWeatherLatestInWindow(t *testing.T) {
	l := seed(t,
		weather(t0.Add(-20*time.Minute), map[string]any{"wind_speed_mps": 20.0}),
		weather(t0.Add(-5*time.Minute), map[string]any{"wind_speed_mps": 3.0, "temperature_c": 18.0}),
	)
	mc, err := NewBuilder(l).Build(context.Background(), Request{WindowMinutes: 30, IncludeWeather: true, Now: t0})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	w := mc.Weather
	if w == nil || w.Stale || w.Adverse {
		t.Fatalf("expected fresh benign weather, got %+v", w)
	}
	if w.WindSpeedMPS == nil || *w.WindSpeedMPS != 3 {
		t.Fatalf("expected latest snapshot, got %+v", w)
	}
}

func TestBuildWeatherStaleFallback(t *testing.T) {
	l := seed(t,
		weather(t0.Add(-7*time.Hour), map[string]any{"wind_speed_mps": 1.0}),
		weather(t0.Add(-2*time.Hour), map[string]any{"visibility_km": 1.5, "weather_code": 95.0}),
	)
	mc, err := NewBuilder(l).Build(context.Background(), Request{WindowMinutes: 30, IncludeWeather: true, Now: t0})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	w := mc.Weather
	if w == nil || !w.Stale {
		t.Fatalf("expected stale weather, got %+v", w)
	}
	if !w.Adverse || len(w.Reasons) != 2 {
		t.Fatalf("expected visibility and thunderstorm reasons, got %#v", w.Reasons)
	}
	if mc.Count(events.TypeWeatherSnapshot) != 0 {
		t.Fatalf("stale snapshot must not be counted in the window")
	}

	mc, _ = NewBuilder(l).Build(context.Background(), Request{WindowMinutes: 30, IncludeWeather: true, Now: t0.Add(5 * time.Hour)})
	if mc.Weather != nil {
		t.Fatalf("expected no weather beyond the lookback, got %+v", mc.Weather)
	}
}

func TestAdverseThresholds(t *testing.T) {
	v := func(f float64) *float64 { return &f }
	cases := []struct {
		name    string
		ws      WeatherSummary
		adverse bool
	}{
		{"calm", WeatherSummary{WindSpeedMPS: v(4), TemperatureC: v(20), VisibilityKm: v(20)}, false},
		{"wind", WeatherSummary{WindSpeedMPS: v(12)}, true},
		{"rain", WeatherSummary{PrecipitationMM: v(2.5)}, true},
		{"rain chance", WeatherSummary{PrecipitationProbabilityPct: v(70)}, true},
		{"cold", WeatherSummary{TemperatureC: v(-15)}, true},
		{"heat", WeatherSummary{TemperatureC: v(40)}, true},
		{"empty", WeatherSummary{}, false},
	}
	for _, tc := range cases {
		ws := tc.ws
		ws.evaluate(DefaultAdverseThresholds())
		if ws.Adverse != tc.adverse {
			t.Fatalf("%s: expected adverse=%v, got %v (%v)", tc.name, tc.adverse, ws.Adverse, ws.Reasons)
		}
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	l := seed(t,
		track("A", t0.Add(-time.Minute), 47.1, -122),
		track("B", t0.Add(-time.Minute), 47.1, -122),
		weather(t0.Add(-2*time.Minute), map[string]any{"wind_speed_mps": 13.0}),
		events.Event{EventType: events.TypeRadioPacket, OccurredAt: t0.Add(-time.Minute)},
	)
	req := Request{Location: &events.GeoPoint{Lat: 47, Lon: -122}, WindowMinutes: 15, IncludeAir: true, IncludeWeather: true, Now: t0}
	first, err := NewBuilder(l).Build(context.Background(), req)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	second, _ := NewBuilder(l).Build(context.Background(), req)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical contexts")
	}
	if first.Air.Nearest[0].ICAO24 != "A" {
		t.Fatalf("expected icao tie-break, got %s", first.Air.Nearest[0].ICAO24)
	}
}

type failingReader struct{}

func (failingReader) Query(context.Context, eventlog.Filter) ([]events.Event, error) {
	return nil, eventlog.ErrStore
}

func TestBuildPropagatesStoreErrors(t *testing.T) {
	_, err := NewBuilder(failingReader{}).Build(context.Background(), Request{Now: t0})
	if !errors.Is(err, eventlog.ErrStore) {
		t.Fatalf("expected store error, got %v", err)
	}
}
