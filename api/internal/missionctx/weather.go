package missionctx

import (
	"fmt"
	"time"

	"sentinelai-backend/shared/events"
)

// AdverseThresholds mark a weather snapshot as adverse when any limit is
// crossed.
type AdverseThresholds struct {
	WindMPS          float64
	PrecipitationMM  float64
	PrecipProbPct    float64
	MinVisibilityKm  float64
	MinTemperatureC  float64
	MaxTemperatureC  float64
	ThunderstormCode int
}

func DefaultAdverseThresholds() AdverseThresholds {
	return AdverseThresholds{
		WindMPS:          12,
		PrecipitationMM:  2.5,
		PrecipProbPct:    70,
		MinVisibilityKm:  3,
		MinTemperatureC:  -15,
		MaxTemperatureC:  40,
		ThunderstormCode: 95,
	}
}

type WeatherSummary struct {
	AsOf                        time.Time        `json:"as_of"`
	ObservedAt                  time.Time        `json:"observed_at"`
	Stale                       bool             `json:"stale"`
	Location                    *events.GeoPoint `json:"location,omitempty"`
	TemperatureC                *float64         `json:"temperature_c,omitempty"`
	WindSpeedMPS                *float64         `json:"wind_speed_mps,omitempty"`
	WindDirectionDeg            *float64         `json:"wind_direction_deg,omitempty"`
	PrecipitationMM             *float64         `json:"precipitation_mm,omitempty"`
	PrecipitationProbabilityPct *float64         `json:"precipitation_probability_pct,omitempty"`
	VisibilityKm                *float64         `json:"visibility_km,omitempty"`
	CloudCoverPct               *float64         `json:"cloud_cover_pct,omitempty"`
	WeatherCode                 *int             `json:"weather_code,omitempty"`
	Condition                   string           `json:"condition,omitempty"`
	Adverse                     bool             `json:"adverse"`
	Reasons                     []string         `json:"reasons,omitempty"`
}

func weatherFromEvent(e events.Event, stale bool) *WeatherSummary {
	ws := &WeatherSummary{
		AsOf:                        e.OccurredAt,
		ObservedAt:                  e.OccurredAt,
		Stale:                       stale,
		TemperatureC:                number(e.Payload, "temperature_c"),
		WindSpeedMPS:                number(e.Payload, "wind_speed_mps"),
		WindDirectionDeg:            number(e.Payload, "wind_direction_deg"),
		PrecipitationMM:             number(e.Payload, "precipitation_mm"),
		PrecipitationProbabilityPct: number(e.Payload, "precipitation_probability_pct"),
		VisibilityKm:                number(e.Payload, "visibility_km"),
		CloudCoverPct:               number(e.Payload, "cloud_cover_pct"),
		Condition:                   text(e.Payload, "condition"),
	}
	if raw := text(e.Payload, "as_of"); raw != "" {
		if ts, err := events.ParseTimestamp(raw); err == nil {
			ws.AsOf = ts
		}
	}
	if code := number(e.Payload, "weather_code"); code != nil {
		c := int(*code)
		ws.WeatherCode = &c
	}
	if e.Location != nil {
		loc := *e.Location
		ws.Location = &loc
	}
	return ws
}

// evaluate sets Adverse and lists the crossed limits in a fixed order.
func (w *WeatherSummary) evaluate(t AdverseThresholds) {
	var reasons []string
	if v := w.WindSpeedMPS; v != nil && *v >= t.WindMPS {
		reasons = append(reasons, fmt.Sprintf("wind %.1f m/s at or above %.1f m/s", *v, t.WindMPS))
	}
	if v := w.PrecipitationMM; v != nil && *v >= t.PrecipitationMM {
		reasons = append(reasons, fmt.Sprintf("precipitation %.1f mm at or above %.1f mm", *v, t.PrecipitationMM))
	}
	if v := w.PrecipitationProbabilityPct; v != nil && *v >= t.PrecipProbPct {
		reasons = append(reasons, fmt.Sprintf("precipitation probability %.0f%% at or above %.0f%%", *v, t.PrecipProbPct))
	}
	if v := w.VisibilityKm; v != nil && *v < t.MinVisibilityKm {
		reasons = append(reasons, fmt.Sprintf("visibility %.1f km below %.1f km", *v, t.MinVisibilityKm))
	}
	if v := w.TemperatureC; v != nil && (*v <= t.MinTemperatureC || *v >= t.MaxTemperatureC) {
		reasons = append(reasons, fmt.Sprintf("temperature %.1f C outside %.0f..%.0f C", *v, t.MinTemperatureC, t.MaxTemperatureC))
	}
	if c := w.WeatherCode; c != nil && t.ThunderstormCode > 0 && *c >= t.ThunderstormCode {
		reasons = append(reasons, fmt.Sprintf("thunderstorm reported (weather code %d)", *c))
	}
	w.Reasons = reasons
	w.Adverse = len(reasons) > 0
}
