package feeds

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"sentinelai-backend/shared/events"
	"sentinelai-backend/shared/logx"
)

const WeatherFeedName = "weather"

type WeatherConfig struct {
	BaseURL   string
	Location  events.GeoPoint
	MissionID string
	Interval  time.Duration
}

// Snapshot is the current conditions at one point.
type Snapshot struct {
	Location                    events.GeoPoint
	AsOf                        time.Time
	TemperatureC                *float64
	WindSpeedMPS                *float64
	WindDirectionDeg            *float64
	WeatherCode                 *int
	PrecipitationProbabilityPct *float64
	PrecipitationMM             *float64
	VisibilityKm                *float64
	CloudCoverPct               *float64
}

// WeatherPoller polls Open-Meteo for current conditions at a fixed point.
type WeatherPoller struct {
	*poller
	cfg    WeatherConfig
	client *http.Client
}

func NewWeatherPoller(cfg WeatherConfig, client *http.Client, sink EventSink, logger logx.Logger) *WeatherPoller {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	w := &WeatherPoller{cfg: cfg, client: client}
	w.poller = newPoller(WeatherFeedName, cfg.Interval, w.fetch, sink, logger)
	return w
}

func (w *WeatherPoller) fetch(ctx context.Context) ([]events.Event, error) {
	snap, err := w.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return []events.Event{snap.Event(w.cfg.MissionID, w.poller.now().UTC())}, nil
}

// Fetch performs one forecast request.
func (w *WeatherPoller) Fetch(ctx context.Context) (Snapshot, error) {
	q := url.Values{}
	q.Set("latitude", formatCoord(w.cfg.Location.Lat))
	q.Set("longitude", formatCoord(w.cfg.Location.Lon))
	q.Set("current_weather", "true")
	q.Set("hourly", "visibility,precipitation_probability,precipitation,cloudcover")
	q.Set("windspeed_unit", "ms")
	q.Set("timezone", "UTC")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Snapshot{}, unavailable(WeatherFeedName, "build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return Snapshot{}, unavailable(WeatherFeedName, "request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, unavailable(WeatherFeedName, "http status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Snapshot{}, unavailable(WeatherFeedName, "read body: %w", err)
	}
	return ParseForecast(body, w.cfg.Location, w.poller.now())
}

type forecastResponse struct {
	CurrentWeather *struct {
		Time          string   `json:"time"`
		Temperature   *float64 `json:"temperature"`
		WindSpeed     *float64 `json:"windspeed"`
		WindDirection *float64 `json:"winddirection"`
		WeatherCode   *float64 `json:"weathercode"`
	} `json:"current_weather"`
	Hourly struct {
		Time                     []string   `json:"time"`
		Visibility               []*float64 `json:"visibility"`
		PrecipitationProbability []*float64 `json:"precipitation_probability"`
		Precipitation            []*float64 `json:"precipitation"`
		CloudCover               []*float64 `json:"cloudcover"`
	} `json:"hourly"`
}

// ParseForecast decodes an Open-Meteo forecast body. Hourly values are read
// at the current-weather hour, falling back to the first hour.
func ParseForecast(body []byte, loc events.GeoPoint, now time.Time) (Snapshot, error) {
	var payload forecastResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Snapshot{}, unavailable(WeatherFeedName, "decode: %w", err)
	}
	cur := payload.CurrentWeather
	if cur == nil {
		return Snapshot{}, unavailable(WeatherFeedName, "response has no current_weather")
	}

	snap := Snapshot{
		Location:         loc,
		AsOf:             now.UTC(),
		TemperatureC:     cur.Temperature,
		WindSpeedMPS:     cur.WindSpeed,
		WindDirectionDeg: cur.WindDirection,
	}
	if ts, err := events.ParseTimestamp(cur.Time); err == nil {
		snap.AsOf = ts
	}
	if cur.WeatherCode != nil {
		code := int(*cur.WeatherCode)
		snap.WeatherCode = &code
	}

	idx := hourlyIndex(payload.Hourly.Time, cur.Time)
	snap.PrecipitationProbabilityPct = at(payload.Hourly.PrecipitationProbability, idx)
	snap.PrecipitationMM = at(payload.Hourly.Precipitation, idx)
	snap.CloudCoverPct = at(payload.Hourly.CloudCover, idx)
	if vis := at(payload.Hourly.Visibility, idx); vis != nil {
		km := *vis / 1000
		snap.VisibilityKm = &km
	}
	return snap, nil
}

func hourlyIndex(times []string, target string) int {
	if target == "" {
		return 0
	}
	for i, t := range times {
		if t == target {
			return i
		}
	}
	if ts, err := events.ParseTimestamp(target); err == nil {
		hour := ts.Truncate(time.Hour)
		for i, t := range times {
			if parsed, err := events.ParseTimestamp(t); err == nil && parsed.Equal(hour) {
				return i
			}
		}
	}
	return 0
}

func at(values []*float64, i int) *float64 {
	if i < 0 || i >= len(values) {
		return nil
	}
	return values[i]
}

// Event converts the snapshot into a weather_snapshot event.
func (s Snapshot) Event(missionID string, observed time.Time) events.Event {
	loc := s.Location
	payload := map[string]any{
		"as_of": s.AsOf.UTC().Format(time.RFC3339),
	}
	putFloat(payload, "temperature_c", s.TemperatureC)
	putFloat(payload, "wind_speed_mps", s.WindSpeedMPS)
	putFloat(payload, "wind_direction_deg", s.WindDirectionDeg)
	putFloat(payload, "precipitation_probability_pct", s.PrecipitationProbabilityPct)
	putFloat(payload, "precipitation_mm", s.PrecipitationMM)
	putFloat(payload, "visibility_km", s.VisibilityKm)
	putFloat(payload, "cloud_cover_pct", s.CloudCoverPct)
	if s.WeatherCode != nil {
		payload["weather_code"] = float64(*s.WeatherCode)
		payload["condition"] = WeatherCondition(*s.WeatherCode)
	}
	return events.Event{
		EventType:  events.TypeWeatherSnapshot,
		MissionID:  missionID,
		OccurredAt: observed,
		Location:   &loc,
		Payload:    payload,
		Metadata:   map[string]any{"source": events.SourceOpenMeteo},
	}
}

// WeatherCondition maps a WMO weather code to a short description.
func WeatherCondition(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code >= 1 && code <= 3:
		return "partly cloudy"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 57:
		return "drizzle"
	case code >= 61 && code <= 67:
		return "rain"
	case code >= 71 && code <= 77:
		return "snow"
	case code >= 80 && code <= 82:
		return "rain showers"
	case code == 85 || code == 86:
		return "snow showers"
	case code == 95:
		return "thunderstorm"
	case code == 96 || code == 99:
		return "thunderstorm with hail"
	default:
		return "unknown"
	}
}
