// Package eventlog is the append-only store of fused mission events and its
// retention sweep.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sentinelai-backend/shared/events"
)

// ErrStore wraps failures of the backing store.
var ErrStore = errors.New("event store failure")

// ValidationError rejects an event or query before it reaches the store.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field string, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

const maxMissionIDLen = 128

// MaxFutureSkew bounds how far ahead of insert time OccurredAt may be.
const MaxFutureSkew = 24 * time.Hour

// Log is the event log contract shared by the in-memory and Postgres stores.
type Log interface {
	// Append validates e, assigns its id and makes it visible to Query.
	Append(ctx context.Context, e events.Event) (int64, error)
	// Query returns matching events ordered by OccurredAt, then ID.
	Query(ctx context.Context, f Filter) ([]events.Event, error)
	// Watermark is the highest id assigned so far.
	Watermark(ctx context.Context) (int64, error)
	// PurgeOlderThan deletes events with OccurredAt before cutoff and an id
	// no greater than upTo.
	PurgeOlderThan(ctx context.Context, cutoff time.Time, upTo int64) (int, error)
	Close() error
}

// Filter selects events. Zero values do not filter.
type Filter struct {
	MissionID string
	// IncludeGlobal also matches events without a mission when MissionID
	// is set.
	IncludeGlobal bool
	EventTypes    []events.EventType
	Since         time.Time
	Until         time.Time
	Near          *events.GeoPoint
	RadiusKm      float64
	// Limit keeps the newest Limit matches, still returned oldest first.
	Limit int
}

// Validate checks the filter bounds.
func (f Filter) Validate() error {
	for _, t := range f.EventTypes {
		if !t.Valid() {
			return invalid("event_type", "unknown event type %q", t)
		}
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Until.Before(f.Since) {
		return invalid("until", "must not be before since")
	}
	if f.Near != nil && !f.Near.Valid() {
		return invalid("location", "latitude must be -90..90 and longitude -180..180")
	}
	if f.RadiusKm < 0 {
		return invalid("radius_km", "must be >= 0")
	}
	if f.RadiusKm > 0 && f.Near == nil {
		return invalid("radius_km", "requires a location")
	}
	if f.Limit < 0 {
		return invalid("limit", "must be >= 0")
	}
	return nil
}

// Matches reports whether e passes every filter condition.
func (f Filter) Matches(e events.Event) bool {
	if f.MissionID != "" && e.MissionID != f.MissionID {
		if !(f.IncludeGlobal && e.MissionID == "") {
			return false
		}
	}
	if len(f.EventTypes) > 0 && !containsType(f.EventTypes, e.EventType) {
		return false
	}
	if !f.Since.IsZero() && e.OccurredAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.OccurredAt.After(f.Until) {
		return false
	}
	if f.Near != nil && f.RadiusKm > 0 {
		if e.Location == nil || events.DistanceKm(*f.Near, *e.Location) > f.RadiusKm {
			return false
		}
	}
	return true
}

// ApplyLimit trims a chronologically sorted slice to the newest f.Limit.
func (f Filter) ApplyLimit(list []events.Event) []events.Event {
	if f.Limit > 0 && len(list) > f.Limit {
		return list[len(list)-f.Limit:]
	}
	return list
}

func containsType(list []events.EventType, t events.EventType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

// Prepare validates e and fills insert-time defaults. The returned event is
// a deep copy safe to retain.
func Prepare(e events.Event, now time.Time) (events.Event, error) {
	if e.EventType == "" {
		return events.Event{}, invalid("event_type", "is required")
	}
	if !e.EventType.Valid() {
		return events.Event{}, invalid("event_type", "unknown event type %q", e.EventType)
	}
	e.MissionID = strings.TrimSpace(e.MissionID)
	if len(e.MissionID) > maxMissionIDLen {
		return events.Event{}, invalid("mission_id", "must be at most %d characters", maxMissionIDLen)
	}
	if e.Location != nil && !e.Location.Valid() {
		return events.Event{}, invalid("location", "latitude must be -90..90 and longitude -180..180")
	}
	out := e.Clone()
	out.ID = 0
	out.InsertedAt = now.UTC()
	if out.OccurredAt.IsZero() {
		out.OccurredAt = out.InsertedAt
	}
	out.OccurredAt = out.OccurredAt.UTC()
	if y := out.OccurredAt.Year(); y < 1 || y > 9999 {
		return events.Event{}, invalid("timestamp", "year %d is out of range", y)
	}
	if out.OccurredAt.After(out.InsertedAt.Add(MaxFutureSkew)) {
		return events.Event{}, invalid("timestamp", "%s is more than %s in the future", out.OccurredAt.Format(time.RFC3339), MaxFutureSkew)
	}
	return out, nil
}
