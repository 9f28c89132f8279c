package repos

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sentinelai-backend/api/internal/eventlog"
	"sentinelai-backend/shared/dbx"
	"sentinelai-backend/shared/events"
)

const eventsSchema = `
CREATE TABLE IF NOT EXISTS mission_events (
	id          BIGSERIAL PRIMARY KEY,
	event_type  TEXT NOT NULL,
	mission_id  TEXT,
	occurred_at TIMESTAMPTZ NOT NULL,
	inserted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	latitude    DOUBLE PRECISION,
	longitude   DOUBLE PRECISION,
	payload     JSONB NOT NULL DEFAULT '{}'::jsonb,
	metadata    JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS idx_mission_events_mission_occurred ON mission_events (mission_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_mission_events_type_occurred ON mission_events (event_type, occurred_at);
`

// EventsRepo is the Postgres event log.
type EventsRepo struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewEventsRepo(pool *pgxpool.Pool) *EventsRepo {
	return &EventsRepo{pool: pool, now: time.Now}
}

func (r *EventsRepo) EnsureSchema(ctx context.Context) error {
	if err := dbx.ApplySchema(ctx, r.pool, eventsSchema); err != nil {
		return fmt.Errorf("%w: ensure schema: %v", eventlog.ErrStore, err)
	}
	return nil
}

func (r *EventsRepo) Append(ctx context.Context, e events.Event) (int64, error) {
	prepared, err := eventlog.Prepare(e, r.now())
	if err != nil {
		return 0, err
	}
	return insertEvent(ctx, r.pool, prepared)
}

func insertEvent(ctx context.Context, db DBTX, e events.Event) (int64, error) {
	payload, err := encodeJSON(e.Payload)
	if err != nil {
		return 0, &eventlog.ValidationError{Field: "payload", Message: err.Error()}
	}
	metadata, err := encodeJSON(e.Metadata)
	if err != nil {
		return 0, &eventlog.ValidationError{Field: "metadata", Message: err.Error()}
	}
	var lat, lon *float64
	if e.Location != nil {
		lat, lon = &e.Location.Lat, &e.Location.Lon
	}
	var id int64
	err = db.QueryRow(ctx, `
		INSERT INTO mission_events (event_type, mission_id, occurred_at, inserted_at, latitude, longitude, payload, metadata)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, string(e.EventType), e.MissionID, e.OccurredAt, e.InsertedAt, lat, lon, payload, metadata).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: insert event: %v", eventlog.ErrStore, err)
	}
	return id, nil
}

func (r *EventsRepo) Query(ctx context.Context, f eventlog.Filter) ([]events.Event, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	sql, args := buildEventQuery(f)
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query events: %v", eventlog.ErrStore, err)
	}
	defer rows.Close()

	out := make([]events.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan event: %v", eventlog.ErrStore, err)
		}
		// the SQL bounding box is coarse; the exact radius is applied here
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read events: %v", eventlog.ErrStore, err)
	}
	events.SortChronological(out)
	return f.ApplyLimit(out), nil
}

// buildEventQuery renders f as SQL. When no radius filter applies the limit
// is pushed down by reading newest first.
func buildEventQuery(f eventlog.Filter) (string, []any) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.MissionID != "" {
		if f.IncludeGlobal {
			where = append(where, "(mission_id = "+arg(f.MissionID)+" OR mission_id IS NULL)")
		} else {
			where = append(where, "mission_id = "+arg(f.MissionID))
		}
	}
	if len(f.EventTypes) > 0 {
		types := make([]string, 0, len(f.EventTypes))
		for _, t := range f.EventTypes {
			types = append(types, string(t))
		}
		where = append(where, "event_type = ANY("+arg(types)+")")
	}
	if !f.Since.IsZero() {
		where = append(where, "occurred_at >= "+arg(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "occurred_at <= "+arg(f.Until))
	}
	geo := f.Near != nil && f.RadiusKm > 0
	if geo {
		latDelta := f.RadiusKm / 111.0
		lonDelta := f.RadiusKm / math.Max(111.0*math.Cos(f.Near.Lat*math.Pi/180), 1e-3)
		where = append(where,
			"latitude BETWEEN "+arg(f.Near.Lat-latDelta)+" AND "+arg(f.Near.Lat+latDelta),
			"longitude BETWEEN "+arg(f.Near.Lon-lonDelta)+" AND "+arg(f.Near.Lon+lonDelta),
		)
	}

	var b strings.Builder
	b.WriteString("SELECT id, event_type, COALESCE(mission_id, ''), occurred_at, inserted_at, latitude, longitude, payload, metadata FROM mission_events")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if f.Limit > 0 && !geo {
		b.WriteString(" ORDER BY occurred_at DESC, id DESC LIMIT ")
		b.WriteString(arg(f.Limit))
	} else {
		b.WriteString(" ORDER BY occurred_at ASC, id ASC")
	}
	return b.String(), args
}

func scanEvent(row pgx.Row) (events.Event, error) {
	var (
		e           events.Event
		eventType   string
		lat, lon    *float64
		payload, md []byte
	)
	if err := row.Scan(&e.ID, &eventType, &e.MissionID, &e.OccurredAt, &e.InsertedAt, &lat, &lon, &payload, &md); err != nil {
		return events.Event{}, err
	}
	e.EventType = events.EventType(eventType)
	e.OccurredAt = e.OccurredAt.UTC()
	e.InsertedAt = e.InsertedAt.UTC()
	if lat != nil && lon != nil {
		e.Location = &events.GeoPoint{Lat: *lat, Lon: *lon}
	}
	e.Payload = decodeJSONMap(payload)
	e.Metadata = decodeJSONMap(md)
	return e, nil
}

func (r *EventsRepo) Watermark(ctx context.Context) (int64, error) {
	var id int64
	if err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM mission_events`).Scan(&id); err != nil {
		return 0, fmt.Errorf("%w: events watermark: %v", eventlog.ErrStore, err)
	}
	return id, nil
}

// PurgeOlderThan only reaches rows at or below the watermark upTo, so events
// appended after the sweep started survive even when backdated.
func (r *EventsRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time, upTo int64) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM mission_events WHERE occurred_at < $1 AND id <= $2`, cutoff, upTo)
	if err != nil {
		return 0, fmt.Errorf("%w: purge events: %v", eventlog.ErrStore, err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *EventsRepo) Ping(ctx context.Context) error {
	if err := dbx.Ping(ctx, r.pool); err != nil {
		return fmt.Errorf("%w: ping: %v", eventlog.ErrStore, err)
	}
	return nil
}

func (r *EventsRepo) Close() error {
	r.pool.Close()
	return nil
}

func encodeJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func decodeJSONMap(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || len(out) == 0 {
		return nil
	}
	return out
}
