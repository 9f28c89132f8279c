// Package intent selects an analysis mode for a mission context and produces
// the analysis result, consulting the AI collaborator when one is available.
package intent

import (
	"fmt"
	"strings"

	"sentinelai-backend/api/internal/missionctx"
	"sentinelai-backend/shared/events"
)

type Intent string

const (
	SituationalAwareness        Intent = "SITUATIONAL_AWARENESS"
	RouteRiskAssessment         Intent = "ROUTE_RISK_ASSESSMENT"
	WeatherImpact               Intent = "WEATHER_IMPACT"
	AirspaceDeconfliction       Intent = "AIRSPACE_DECONFLICTION"
	AirActivityAnalysis         Intent = "AIR_ACTIVITY_ANALYSIS"
	RadioSignalActivityAnalysis Intent = "RADIO_SIGNAL_ACTIVITY_ANALYSIS"

	Default = SituationalAwareness
)

var all = []Intent{
	SituationalAwareness,
	RouteRiskAssessment,
	WeatherImpact,
	AirspaceDeconfliction,
	AirActivityAnalysis,
	RadioSignalActivityAnalysis,
}

func All() []Intent {
	out := make([]Intent, len(all))
	copy(out, all)
	return out
}

func (i Intent) Valid() bool {
	for _, known := range all {
		if i == known {
			return true
		}
	}
	return false
}

// InvalidIntentError rejects an explicit intent outside the enumeration.
type InvalidIntentError struct {
	Value string
}

func (e *InvalidIntentError) Error() string {
	return fmt.Sprintf("invalid intent %q", e.Value)
}

// Parse accepts any casing and surrounding whitespace.
func Parse(raw string) (Intent, error) {
	i := Intent(strings.ToUpper(strings.TrimSpace(raw)))
	if !i.Valid() {
		return "", &InvalidIntentError{Value: raw}
	}
	return i, nil
}

// Auto-selection thresholds.
const (
	MinAirTrackEvents       = 3
	DeconflictionTrackCount = 5
	MinRadioPackets         = 5
)

// Select picks an intent from context signals. The checks run in a fixed
// priority order: air traffic, adverse weather, radio concentration.
// ROUTE_RISK_ASSESSMENT is never auto-selected.
func Select(mc missionctx.Context) Intent {
	if mc.Count(events.TypeAirTrack) >= MinAirTrackEvents {
		if mc.DistinctTracks() >= DeconflictionTrackCount {
			return AirspaceDeconfliction
		}
		return AirActivityAnalysis
	}
	if mc.AdverseWeather() {
		return WeatherImpact
	}
	if mc.Count(events.TypeRadioPacket) >= MinRadioPackets {
		return RadioSignalActivityAnalysis
	}
	return SituationalAwareness
}
