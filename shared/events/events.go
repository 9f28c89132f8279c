package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	TypeRadioPacket      EventType = "radio_packet"
	TypeAirTrack         EventType = "air_track"
	TypeWeatherSnapshot  EventType = "weather_snapshot"
	TypePluginSubmitted  EventType = "plugin_submitted"
	TypeAlert            EventType = "alert"
	TypeRadioSilence     EventType = "radio_silence"
	TypeTrackConvergence EventType = "track_convergence"
)

var allTypes = []EventType{
	TypeRadioPacket,
	TypeAirTrack,
	TypeWeatherSnapshot,
	TypePluginSubmitted,
	TypeAlert,
	TypeRadioSilence,
	TypeTrackConvergence,
}

// AllTypes returns every known event type in declaration order.
func AllTypes() []EventType {
	out := make([]EventType, len(allTypes))
	copy(out, allTypes)
	return out
}

func (t EventType) Valid() bool {
	for _, known := range allTypes {
		if t == known {
			return true
		}
	}
	return false
}

var ErrUnknownEventType = errors.New("unknown event type")

func ParseEventType(raw string) (EventType, error) {
	t := EventType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, raw)
	}
	return t, nil
}

// Metadata sources stamped by the ingest paths.
const (
	SourceAPRS      = "aprs_is"
	SourceOpenSky   = "opensky"
	SourceOpenMeteo = "open_meteo"
	SourcePlugin    = "plugin"
)

type GeoPoint struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

func (p GeoPoint) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lon) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

const earthRadiusKm = 6371.0088

// DistanceKm is the great-circle distance between two points.
func DistanceKm(a GeoPoint, b GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Event is a single fused observation. Events are immutable once appended;
// the log hands out copies.
type Event struct {
	ID         int64          `json:"id"`
	EventType  EventType      `json:"event_type"`
	MissionID  string         `json:"mission_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	InsertedAt time.Time      `json:"inserted_at"`
	Location   *GeoPoint      `json:"location,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy of e.
func (e Event) Clone() Event {
	out := e
	if e.Location != nil {
		loc := *e.Location
		out.Location = &loc
	}
	out.Payload = cloneMap(e.Payload)
	out.Metadata = cloneMap(e.Metadata)
	return out
}

func (e Event) Source() string {
	s, _ := e.Metadata["source"].(string)
	return s
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

// SortChronological orders by OccurredAt, then ID.
func SortChronological(list []Event) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].OccurredAt.Equal(list[j].OccurredAt) {
			return list[i].OccurredAt.Before(list[j].OccurredAt)
		}
		return list[i].ID < list[j].ID
	})
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

var ErrBadTimestamp = errors.New("unparsable timestamp")

// maxEpochSeconds is 9999-12-31T23:59:59Z.
const maxEpochSeconds = 253402300799

// ParseTimestamp accepts RFC3339 variants, zone-less ISO timestamps (read
// as UTC) and epoch seconds up to the year 9999.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrBadTimestamp
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(secs) && !math.IsInf(secs, 0) {
		if secs < 0 || secs > maxEpochSeconds {
			return time.Time{}, fmt.Errorf("%w: epoch seconds %q out of range", ErrBadTimestamp, raw)
		}
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, raw)
}

// Envelope wraps an appended event for the notification fan-out.
type Envelope struct {
	EnvelopeID  uuid.UUID `json:"envelope_id"`
	Topic       string    `json:"topic"`
	PublishedAt time.Time `json:"published_at"`
	Event       Event     `json:"event"`
}

func NewEnvelope(topic string, e Event, now time.Time) Envelope {
	return Envelope{
		EnvelopeID:  uuid.New(),
		Topic:       topic,
		PublishedAt: now.UTC(),
		Event:       e,
	}
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

const TopicMissionEvents = "mission.events"
