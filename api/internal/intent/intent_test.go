package intent

import (
	"errors"
	"testing"

	"sentinelai-backend/api/internal/missionctx"
	"sentinelai-backend/shared/events"
)

func ctxWith(counts map[events.EventType]int, tracks int, adverse bool) missionctx.Context {
	mc := missionctx.Context{Counts: map[events.EventType]int{}, Window: missionctx.Window{Minutes: 60}}
	for _, t := range events.AllTypes() {
		mc.Counts[t] = counts[t]
	}
	if tracks > 0 {
		mc.Air = &missionctx.AirSummary{DistinctTracks: tracks, Observations: counts[events.TypeAirTrack]}
	}
	if adverse {
		mc.Weather = &missionctx.WeatherSummary{Adverse: true, Reasons: []string{"wind"}}
	}
	return mc
}

func TestParse(t *testing.T) {
	got, err := Parse("  weather_impact ")
	if err != nil || got != WeatherImpact {
		t.Fatalf("expected WEATHER_IMPACT, got %q err=%v", got, err)
	}
	_, err = Parse("NOT_A_REAL_INTENT")
	var ie *InvalidIntentError
	if !errors.As(err, &ie) || ie.Value != "NOT_A_REAL_INTENT" {
		t.Fatalf("expected InvalidIntentError, got %v", err)
	}
}

func TestSelectPriority(t *testing.T) {
	cases := []struct {
		name string
		mc   missionctx.Context
		want Intent
	}{
		{"empty", ctxWith(nil, 0, false), SituationalAwareness},
		{"dense air", ctxWith(map[events.EventType]int{events.TypeAirTrack: 8}, 6, true), AirspaceDeconfliction},
		{"light air", ctxWith(map[events.EventType]int{events.TypeAirTrack: 3, events.TypeRadioPacket: 9}, 2, true), AirActivityAnalysis},
		{"few air events", ctxWith(map[events.EventType]int{events.TypeAirTrack: 2}, 2, true), WeatherImpact},
		{"radio", ctxWith(map[events.EventType]int{events.TypeRadioPacket: 5}, 0, false), RadioSignalActivityAnalysis},
		{"little radio", ctxWith(map[events.EventType]int{events.TypeRadioPacket: 4}, 0, false), SituationalAwareness},
	}
	for _, tc := range cases {
		if got := Select(tc.mc); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
		if again := Select(tc.mc); again != tc.want {
			t.Fatalf("%s: selection not deterministic", tc.name)
		}
	}
}

func TestSelectNeverPicksRouteRisk(t *testing.T) {
	for air := 0; air < 6; air++ {
		for radio := 0; radio < 7; radio++ {
			for _, adverse := range []bool{false, true} {
				mc := ctxWith(map[events.EventType]int{events.TypeAirTrack: air, events.TypeRadioPacket: radio}, air, adverse)
				if Select(mc) == RouteRiskAssessment {
					t.Fatalf("route risk must be explicit only")
				}
			}
		}
	}
}

func TestResolve(t *testing.T) {
	mc := ctxWith(nil, 0, false)
	i, src, err := Resolve("", mc)
	if err != nil || i != SituationalAwareness || src != SourceAuto {
		t.Fatalf("unexpected auto resolve: %s %s %v", i, src, err)
	}
	i, src, err = Resolve("route_risk_assessment", mc)
	if err != nil || i != RouteRiskAssessment || src != SourceExplicit {
		t.Fatalf("unexpected explicit resolve: %s %s %v", i, src, err)
	}
}
