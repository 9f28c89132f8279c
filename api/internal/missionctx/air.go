package missionctx

import (
	"math"
	"sort"
	"time"

	"sentinelai-backend/shared/events"
)

// TrackSummary is the latest observation of one aircraft.
type TrackSummary struct {
	ICAO24        string          `json:"icao24"`
	Callsign      string          `json:"callsign,omitempty"`
	Position      events.GeoPoint `json:"position"`
	AltitudeFt    *float64        `json:"altitude_ft,omitempty"`
	GroundSpeedKt *float64        `json:"ground_speed_kt,omitempty"`
	HeadingDeg    *float64        `json:"heading_deg,omitempty"`
	OnGround      bool            `json:"on_ground"`
	DistanceKm    *float64        `json:"distance_km,omitempty"`
	ObservedAt    time.Time       `json:"observed_at"`
}

type AirSummary struct {
	Observations   int            `json:"observations"`
	DistinctTracks int            `json:"distinct_tracks"`
	Nearest        []TrackSummary `json:"nearest"`
}

// summarizeAir keeps the latest position per icao24 and returns the n
// nearest to loc, or the n most recently seen when loc is nil.
func summarizeAir(list []events.Event, loc *events.GeoPoint, n int) *AirSummary {
	latest := make(map[string]TrackSummary)
	out := &AirSummary{}
	for _, e := range list {
		if e.EventType != events.TypeAirTrack {
			continue
		}
		out.Observations++
		icao := text(e.Payload, "icao24")
		if icao == "" || e.Location == nil {
			continue
		}
		ts := TrackSummary{
			ICAO24:        icao,
			Callsign:      text(e.Payload, "callsign"),
			Position:      *e.Location,
			AltitudeFt:    number(e.Payload, "altitude_ft"),
			GroundSpeedKt: number(e.Payload, "ground_speed_kt"),
			HeadingDeg:    number(e.Payload, "heading_deg"),
			ObservedAt:    e.OccurredAt,
		}
		ts.OnGround, _ = e.Payload["on_ground"].(bool)
		// list is chronological, so later observations overwrite earlier ones
		latest[icao] = ts
	}
	out.DistinctTracks = len(latest)

	tracks := make([]TrackSummary, 0, len(latest))
	for _, ts := range latest {
		if loc != nil {
			d := math.Round(events.DistanceKm(*loc, ts.Position)*1000) / 1000
			ts.DistanceKm = &d
		}
		tracks = append(tracks, ts)
	}
	sort.Slice(tracks, func(i, j int) bool {
		a, b := tracks[i], tracks[j]
		if loc != nil && *a.DistanceKm != *b.DistanceKm {
			return *a.DistanceKm < *b.DistanceKm
		}
		if loc == nil && !a.ObservedAt.Equal(b.ObservedAt) {
			return a.ObservedAt.After(b.ObservedAt)
		}
		return a.ICAO24 < b.ICAO24
	})
	if len(tracks) > n {
		tracks = tracks[:n]
	}
	out.Nearest = tracks
	return out
}
