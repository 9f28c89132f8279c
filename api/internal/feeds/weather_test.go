package feeds

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sentinelai-backend/shared/events"
	"sentinelai-backend/shared/logx"
)

const forecastBody = `{
 "current_weather":{"time":"2024-06-01T12:15","temperature":18.5,"windspeed":14.2,"winddirection":270,"weathercode":95},
 "hourly":{
  "time":["2024-06-01T11:00","2024-06-01T12:00","2024-06-01T13:00"],
  "visibility":[10000,2400,30000],
  "precipitation_probability":[10,80,20],
  "precipitation":[0,3.1,0],
  "cloudcover":[20,100,40]
 }
}`

func TestParseForecastUsesCurrentHour(t *testing.T) {
	loc := events.GeoPoint{Lat: 47.6, Lon: -122.3}
	snap, err := ParseForecast([]byte(forecastBody), loc, time.Now())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !snap.AsOf.Equal(time.Date(2024, 6, 1, 12, 15, 0, 0, time.UTC)) {
		t.Fatalf("unexpected as_of: %v", snap.AsOf)
	}
	if snap.VisibilityKm == nil || *snap.VisibilityKm != 2.4 {
		t.Fatalf("expected visibility 2.4km, got %v", snap.VisibilityKm)
	}
	if snap.PrecipitationProbabilityPct == nil || *snap.PrecipitationProbabilityPct != 80 {
		t.Fatalf("unexpected precipitation probability: %v", snap.PrecipitationProbabilityPct)
	}
	if snap.WeatherCode == nil || *snap.WeatherCode != 95 {
		t.Fatalf("unexpected weather code: %v", snap.WeatherCode)
	}

	e := snap.Event("m1", time.Date(2024, 6, 1, 12, 16, 0, 0, time.UTC))
	if e.EventType != events.TypeWeatherSnapshot || e.Source() != events.SourceOpenMeteo {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.Payload["condition"] != "thunderstorm" || e.Payload["wind_speed_mps"] != 14.2 {
		t.Fatalf("unexpected payload: %#v", e.Payload)
	}
	if e.Location == nil || e.Location.Lat != 47.6 {
		t.Fatalf("unexpected location: %+v", e.Location)
	}
}

func TestParseForecastFallsBackToFirstHour(t *testing.T) {
	body := `{"current_weather":{"time":"2030-01-01T00:00","temperature":1},"hourly":{"time":["2024-06-01T11:00"],"cloudcover":[55]}}`
	snap, err := ParseForecast([]byte(body), events.GeoPoint{}, time.Now())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if snap.CloudCoverPct == nil || *snap.CloudCoverPct != 55 {
		t.Fatalf("expected first hourly value, got %v", snap.CloudCoverPct)
	}
	if snap.VisibilityKm != nil || snap.WeatherCode != nil {
		t.Fatalf("expected missing values to stay nil")
	}
}

func TestParseForecastWithoutCurrentWeather(t *testing.T) {
	_, err := ParseForecast([]byte(`{"hourly":{}}`), events.GeoPoint{}, time.Now())
	var fu *FeedUnavailableError
	if !errors.As(err, &fu) {
		t.Fatalf("expected FeedUnavailableError, got %v", err)
	}
}

func TestWeatherPollerFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("current_weather") != "true" || q.Get("windspeed_unit") != "ms" || q.Get("timezone") != "UTC" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(forecastBody))
	}))
	defer srv.Close()

	sink := &recordingSink{}
	p := NewWeatherPoller(WeatherConfig{BaseURL: srv.URL, Location: events.GeoPoint{Lat: 47.6, Lon: -122.3}, MissionID: "m1"}, srv.Client(), sink, logx.Discard())
	if n := p.pollOnce(context.Background()); n != 1 {
		t.Fatalf("expected 1 event, got %d (state %+v)", n, p.State())
	}
	if got := sink.all(); got[0].MissionID != "m1" {
		t.Fatalf("unexpected event: %+v", got[0])
	}
}

func TestWeatherCondition(t *testing.T) {
	cases := map[int]string{0: "clear sky", 2: "partly cloudy", 45: "fog", 63: "rain", 99: "thunderstorm with hail", 42: "unknown"}
	for code, want := range cases {
		if got := WeatherCondition(code); got != want {
			t.Fatalf("code %d: expected %q, got %q", code, want, got)
		}
	}
}
