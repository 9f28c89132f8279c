// Package missionctx assembles the request-scoped view of the event log that
// the status engine and intent router work from.
package missionctx

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sentinelai-backend/api/internal/eventlog"
	"sentinelai-backend/shared/events"
)

const (
	DefaultWindowMinutes = 60
	MaxWindowMinutes     = 1440
	DefaultNearestTracks = 5
	// WeatherLookback bounds how far back a stale snapshot may come from
	// when the window itself holds none.
	WeatherLookback = 6 * time.Hour
)

// Reader is the query side of the event log.
type Reader interface {
	Query(ctx context.Context, f eventlog.Filter) ([]events.Event, error)
}

type Request struct {
	MissionID string
	Location  *events.GeoPoint
	// RadiusKm restricts events to those within this distance of Location.
	// Zero keeps every event; Location then only orders tracks.
	RadiusKm       float64
	WindowMinutes  int
	EventTypes     []events.EventType
	IncludeAir     bool
	IncludeWeather bool
	Now            time.Time
}

type Window struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Minutes int       `json:"minutes"`
}

// Context is never persisted; it is rebuilt for every request.
type Context struct {
	AsOf              time.Time                `json:"as_of"`
	Window            Window                   `json:"window"`
	MissionID         string                   `json:"mission_id,omitempty"`
	Location          *events.GeoPoint         `json:"location,omitempty"`
	Events            []events.Event           `json:"-"`
	Counts            map[events.EventType]int `json:"event_counts"`
	LastEventAt       *time.Time               `json:"last_event_at,omitempty"`
	DominantEventType events.EventType         `json:"dominant_event_type,omitempty"`
	Air               *AirSummary              `json:"air,omitempty"`
	Weather           *WeatherSummary          `json:"weather,omitempty"`
}

// Count returns the number of events of type t in the window.
func (c Context) Count(t events.EventType) int {
	return c.Counts[t]
}

func (c Context) Total() int {
	n := 0
	for _, v := range c.Counts {
		n += v
	}
	return n
}

// DistinctTracks is zero when no air summary was built.
func (c Context) DistinctTracks() int {
	if c.Air == nil {
		return 0
	}
	return c.Air.DistinctTracks
}

func (c Context) AdverseWeather() bool {
	return c.Weather != nil && c.Weather.Adverse
}

type Builder struct {
	reader     Reader
	nearest    int
	thresholds AdverseThresholds
	now        func() time.Time
}

func NewBuilder(reader Reader) *Builder {
	return &Builder{
		reader:     reader,
		nearest:    DefaultNearestTracks,
		thresholds: DefaultAdverseThresholds(),
		now:        time.Now,
	}
}

func (b *Builder) WithThresholds(t AdverseThresholds) *Builder {
	b.thresholds = t
	return b
}

func (b *Builder) WithNearest(n int) *Builder {
	if n > 0 {
		b.nearest = n
	}
	return b
}

// WindowMinutes applies the default and bounds to a requested window.
func WindowMinutes(requested int) (int, error) {
	if requested == 0 {
		return DefaultWindowMinutes, nil
	}
	if requested < 1 || requested > MaxWindowMinutes {
		return 0, &eventlog.ValidationError{
			Field:   "window_minutes",
			Message: fmt.Sprintf("must be between 1 and %d", MaxWindowMinutes),
		}
	}
	return requested, nil
}

// Build queries [now-window, now] and reduces it to a Context. Global
// events are included alongside the mission's own.
func (b *Builder) Build(ctx context.Context, req Request) (Context, error) {
	minutes, err := WindowMinutes(req.WindowMinutes)
	if err != nil {
		return Context{}, err
	}
	now := req.Now
	if now.IsZero() {
		now = b.now()
	}
	now = now.UTC()
	start := now.Add(-time.Duration(minutes) * time.Minute)

	filter := eventlog.Filter{
		MissionID:     strings.TrimSpace(req.MissionID),
		IncludeGlobal: true,
		EventTypes:    req.EventTypes,
		Since:         start,
		Until:         now,
		Near:          req.Location,
		RadiusKm:      req.RadiusKm,
	}
	if err := filter.Validate(); err != nil {
		return Context{}, err
	}
	list, err := b.reader.Query(ctx, filter)
	if err != nil {
		return Context{}, err
	}

	out := Context{
		AsOf:      now,
		Window:    Window{Start: start, End: now, Minutes: minutes},
		MissionID: filter.MissionID,
		Events:    list,
		Counts:    make(map[events.EventType]int, len(events.AllTypes())),
	}
	if req.Location != nil {
		loc := *req.Location
		out.Location = &loc
	}
	for _, t := range events.AllTypes() {
		out.Counts[t] = 0
	}
	for _, e := range list {
		out.Counts[e.EventType]++
	}
	if n := len(list); n > 0 {
		last := list[n-1].OccurredAt
		out.LastEventAt = &last
		out.DominantEventType = dominantType(out.Counts)
	}

	if req.IncludeAir {
		out.Air = summarizeAir(list, req.Location, b.nearest)
	}
	if req.IncludeWeather {
		ws, err := b.weather(ctx, list, filter, now)
		if err != nil {
			return Context{}, err
		}
		if ws != nil {
			ws.evaluate(b.thresholds)
		}
		out.Weather = ws
	}
	return out, nil
}

// dominantType picks the most frequent type; ties go to declaration order.
func dominantType(counts map[events.EventType]int) events.EventType {
	var best events.EventType
	bestN := 0
	for _, t := range events.AllTypes() {
		if counts[t] > bestN {
			best, bestN = t, counts[t]
		}
	}
	return best
}

func (b *Builder) weather(ctx context.Context, list []events.Event, filter eventlog.Filter, now time.Time) (*WeatherSummary, error) {
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].EventType == events.TypeWeatherSnapshot {
			return weatherFromEvent(list[i], false), nil
		}
	}
	if len(filter.EventTypes) > 0 && !containsType(filter.EventTypes, events.TypeWeatherSnapshot) {
		return nil, nil
	}
	lookback := filter
	lookback.EventTypes = []events.EventType{events.TypeWeatherSnapshot}
	lookback.Since = now.Add(-WeatherLookback)
	lookback.Limit = 1
	older, err := b.reader.Query(ctx, lookback)
	if err != nil {
		return nil, err
	}
	if len(older) == 0 {
		return nil, nil
	}
	return weatherFromEvent(older[len(older)-1], true), nil
}

func containsType(list []events.EventType, t events.EventType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

// number reads a numeric payload value, tolerating the shapes JSON decoding
// and in-process producers leave behind.
func number(m map[string]any, key string) *float64 {
	var f float64
	switch v := m[key].(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}

func text(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}
