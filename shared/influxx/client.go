package influxx

import (
	"context"
	"errors"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"sentinelai-backend/shared/config"
	"sentinelai-backend/shared/events"
	"sentinelai-backend/shared/metricsx"
)

type Client struct {
	client influxdb2.Client
	org    string
	bucket string
}

func New(cfg config.Config) (*Client, error) {
	if cfg.InfluxURL == "" || cfg.InfluxToken == "" || cfg.InfluxOrg == "" || cfg.InfluxBucket == "" {
		return nil, errors.New("INFLUX_URL/INFLUX_TOKEN/INFLUX_ORG/INFLUX_BUCKET are required")
	}
	opts := influxdb2.DefaultOptions().
		SetHTTPRequestTimeout(uint(cfg.InfluxTimeoutMS))
	client := influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken, opts)
	return &Client{client: client, org: cfg.InfluxOrg, bucket: cfg.InfluxBucket}, nil
}

func (c *Client) WritePoint(ctx context.Context, measurement string, tags map[string]string, fields map[string]any, ts time.Time) error {
	if c == nil || c.client == nil {
		return errors.New("influx client not initialized")
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	p := influxdb2.NewPoint(measurement, tags, fields, ts)
	writeAPI := c.client.WriteAPIBlocking(c.org, c.bucket)
	if err := writeAPI.WritePoint(ctx, p); err != nil {
		metricsx.IncInfluxWriteFailure()
		return err
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("influx client not initialized")
	}
	ok, err := c.client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("influx ping failed")
	}
	return nil
}

func (c *Client) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Close()
}

// Point is the time-series projection of a feed event.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
	Time        time.Time
}

var numericFields = map[events.EventType][]string{
	events.TypeAirTrack:        {"altitude_ft", "ground_speed_kt", "heading_deg", "vertical_rate_fpm"},
	events.TypeWeatherSnapshot: {"temperature_c", "wind_speed_mps", "wind_direction_deg", "precipitation_probability_pct", "precipitation_mm", "visibility_km", "cloud_cover_pct"},
	events.TypeRadioPacket:     {"altitude_m"},
}

var tagFields = map[events.EventType][]string{
	events.TypeAirTrack:    {"icao24", "callsign"},
	events.TypeRadioPacket: {"source_callsign"},
}

// PointFor projects telemetry events onto a point. Events without numeric
// telemetry report false.
func PointFor(e events.Event) (Point, bool) {
	names, ok := numericFields[e.EventType]
	if !ok {
		return Point{}, false
	}
	fields := make(map[string]any)
	for _, name := range names {
		if v, ok := asFloat(e.Payload[name]); ok {
			fields[name] = v
		}
	}
	if e.Location != nil {
		fields["lat"] = e.Location.Lat
		fields["lon"] = e.Location.Lon
	}
	if len(fields) == 0 {
		return Point{}, false
	}
	tags := map[string]string{}
	if e.MissionID != "" {
		tags["mission_id"] = e.MissionID
	}
	if src := e.Source(); src != "" {
		tags["source"] = src
	}
	for _, name := range tagFields[e.EventType] {
		if s, ok := e.Payload[name].(string); ok && s != "" {
			tags[name] = s
		}
	}
	return Point{Measurement: string(e.EventType), Tags: tags, Fields: fields, Time: e.OccurredAt}, true
}

// EventPublisher mirrors feed telemetry into InfluxDB.
type EventPublisher struct {
	client *Client
}

func NewEventPublisher(client *Client) *EventPublisher {
	return &EventPublisher{client: client}
}

func (p *EventPublisher) Name() string { return "influx" }

func (p *EventPublisher) Publish(ctx context.Context, e events.Event) error {
	pt, ok := PointFor(e)
	if !ok {
		return nil
	}
	return p.client.WritePoint(ctx, pt.Measurement, pt.Tags, pt.Fields, pt.Time)
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
