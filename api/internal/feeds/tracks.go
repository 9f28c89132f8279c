package feeds

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sentinelai-backend/shared/events"
	"sentinelai-backend/shared/logx"
	"sentinelai-backend/shared/metricsx"
)

const TracksFeedName = "tracks"

const (
	metersToFeet = 3.28084
	mpsToKnots   = 1.94384
	mpsToFPM     = 196.850394
)

type TracksConfig struct {
	BaseURL   string
	Center    events.GeoPoint
	RadiusNM  float64
	MissionID string
	Interval  time.Duration
}

// Track is one normalized aircraft state vector.
type Track struct {
	ICAO24          string
	Callsign        string
	OriginCountry   string
	Position        events.GeoPoint
	AltitudeFt      *float64
	OnGround        bool
	GroundSpeedKt   *float64
	HeadingDeg      *float64
	VerticalRateFPM *float64
	LastSeen        *time.Time
}

// TracksPoller polls the OpenSky states endpoint for a bounding box around
// a fixed centre.
type TracksPoller struct {
	*poller
	cfg    TracksConfig
	client *http.Client
}

func NewTracksPoller(cfg TracksConfig, client *http.Client, sink EventSink, logger logx.Logger) *TracksPoller {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.RadiusNM <= 0 {
		cfg.RadiusNM = 25
	}
	t := &TracksPoller{cfg: cfg, client: client}
	t.poller = newPoller(TracksFeedName, cfg.Interval, t.fetch, sink, logger)
	return t
}

// BoundingBox returns lamin, lomin, lamax, lomax for a radius in nautical
// miles around centre.
func BoundingBox(center events.GeoPoint, radiusNM float64) (float64, float64, float64, float64) {
	latDelta := radiusNM / 60.0
	lonDelta := radiusNM / math.Max(60.0*math.Cos(center.Lat*math.Pi/180), 0.0001)
	return center.Lat - latDelta, center.Lon - lonDelta, center.Lat + latDelta, center.Lon + lonDelta
}

func (t *TracksPoller) fetch(ctx context.Context) ([]events.Event, error) {
	tracks, skipped, err := t.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range skipped {
		metricsx.IncFeedSkipped(TracksFeedName, s.Reason)
		t.poller.logger.Info(ctx, "feed_value_skipped", "state vector not usable as an air track",
			slog.String("icao24", s.ICAO24),
			slog.String("reason", s.Reason),
		)
	}
	observed := t.poller.now().UTC()
	out := make([]events.Event, 0, len(tracks))
	for _, tr := range tracks {
		out = append(out, tr.Event(t.cfg.MissionID, observed))
	}
	return out, nil
}

// Fetch performs one request and returns the normalized tracks and the
// state vectors that were dropped.
func (t *TracksPoller) Fetch(ctx context.Context) ([]Track, []SkippedState, error) {
	lamin, lomin, lamax, lomax := BoundingBox(t.cfg.Center, t.cfg.RadiusNM)
	q := url.Values{}
	q.Set("lamin", formatCoord(lamin))
	q.Set("lomin", formatCoord(lomin))
	q.Set("lamax", formatCoord(lamax))
	q.Set("lomax", formatCoord(lomax))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, nil, unavailable(TracksFeedName, "build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, nil, unavailable(TracksFeedName, "request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, nil, unavailable(TracksFeedName, "rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, unavailable(TracksFeedName, "http status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, nil, unavailable(TracksFeedName, "read body: %w", err)
	}
	return ParseStates(body)
}

// SkippedState is a state vector that could not become a track.
type SkippedState struct {
	ICAO24 string
	Reason string
}

const (
	skipShortRow        = "short_row"
	skipMissingICAO     = "missing_icao24"
	skipMissingPosition = "missing_position"
	skipInvalidPosition = "invalid_position"
)

// ParseStates decodes an OpenSky states response. State vectors that lack
// an identifier or a position are returned as skipped.
func ParseStates(body []byte) ([]Track, []SkippedState, error) {
	var payload struct {
		States [][]json.RawMessage `json:"states"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, unavailable(TracksFeedName, "decode: %w", err)
	}
	out := make([]Track, 0, len(payload.States))
	var skipped []SkippedState
	for _, row := range payload.States {
		tr, reason := normalizeState(row)
		if reason != "" {
			skipped = append(skipped, SkippedState{ICAO24: tr.ICAO24, Reason: reason})
			continue
		}
		out = append(out, tr)
	}
	return out, skipped, nil
}

// normalizeState returns a non-empty reason when row is unusable; the
// returned track then only carries what was read before the failure.
func normalizeState(row []json.RawMessage) (Track, string) {
	if len(row) < 7 {
		return Track{}, skipShortRow
	}
	icao, ok := rawString(row, 0)
	icao = strings.ToUpper(strings.TrimSpace(icao))
	if !ok || icao == "" {
		return Track{}, skipMissingICAO
	}
	lon := rawFloat(row, 5)
	lat := rawFloat(row, 6)
	if lat == nil || lon == nil {
		return Track{ICAO24: icao}, skipMissingPosition
	}
	pos := events.GeoPoint{Lat: *lat, Lon: *lon}
	if !pos.Valid() {
		return Track{ICAO24: icao}, skipInvalidPosition
	}
	tr := Track{ICAO24: icao, Position: pos}
	if cs, ok := rawString(row, 1); ok {
		tr.Callsign = strings.TrimSpace(cs)
	}
	if c, ok := rawString(row, 2); ok {
		tr.OriginCountry = c
	}

	alt := rawFloat(row, 13)
	if alt == nil {
		alt = rawFloat(row, 7)
	}
	tr.AltitudeFt = scaled(alt, metersToFeet)
	if g, ok := rawBool(row, 8); ok {
		tr.OnGround = g
	}
	tr.GroundSpeedKt = scaled(rawFloat(row, 9), mpsToKnots)
	tr.HeadingDeg = rawFloat(row, 10)
	tr.VerticalRateFPM = scaled(rawFloat(row, 11), mpsToFPM)

	seen := rawFloat(row, 4)
	if seen == nil {
		seen = rawFloat(row, 3)
	}
	if seen != nil {
		ts := time.Unix(int64(*seen), 0).UTC()
		tr.LastSeen = &ts
	}
	return tr, ""
}

// Event converts the track into an air_track event. OccurredAt is the
// track's LastSeen, or observed when the source gave none or reported a
// time past observed.
func (tr Track) Event(missionID string, observed time.Time) events.Event {
	ts := observed
	if tr.LastSeen != nil && !tr.LastSeen.After(observed) {
		ts = *tr.LastSeen
	}
	loc := tr.Position
	payload := map[string]any{
		"icao24":    tr.ICAO24,
		"on_ground": tr.OnGround,
	}
	if tr.Callsign != "" {
		payload["callsign"] = tr.Callsign
	}
	if tr.OriginCountry != "" {
		payload["origin_country"] = tr.OriginCountry
	}
	putFloat(payload, "altitude_ft", tr.AltitudeFt)
	putFloat(payload, "ground_speed_kt", tr.GroundSpeedKt)
	putFloat(payload, "heading_deg", tr.HeadingDeg)
	putFloat(payload, "vertical_rate_fpm", tr.VerticalRateFPM)
	if tr.LastSeen != nil {
		payload["last_seen"] = tr.LastSeen.Format(time.RFC3339)
	}
	return events.Event{
		EventType:  events.TypeAirTrack,
		MissionID:  missionID,
		OccurredAt: ts,
		Location:   &loc,
		Payload:    payload,
		Metadata:   map[string]any{"source": events.SourceOpenSky},
	}
}

func rawString(row []json.RawMessage, i int) (string, bool) {
	if i >= len(row) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(row[i], &s); err != nil {
		return "", false
	}
	return s, true
}

func rawFloat(row []json.RawMessage, i int) *float64 {
	if i >= len(row) {
		return nil
	}
	var f *float64
	if err := json.Unmarshal(row[i], &f); err != nil || f == nil {
		return nil
	}
	if math.IsNaN(*f) || math.IsInf(*f, 0) {
		return nil
	}
	return f
}

func rawBool(row []json.RawMessage, i int) (bool, bool) {
	if i >= len(row) {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(row[i], &b); err != nil {
		return false, false
	}
	return b, true
}

func scaled(v *float64, factor float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v * factor
	return &out
}

func putFloat(m map[string]any, key string, v *float64) {
	if v != nil {
		m[key] = *v
	}
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
