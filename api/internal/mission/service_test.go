package mission

import (
	"context"
	"errors"
	"testing"
	"time"

	"sentinelai-backend/api/internal/eventlog"
	"sentinelai-backend/api/internal/feeds"
	"sentinelai-backend/api/internal/intent"
	"sentinelai-backend/api/internal/models"
	"sentinelai-backend/api/internal/status"
	"sentinelai-backend/shared/events"
	"sentinelai-backend/shared/logx"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type memorySnapshots struct {
	saved []models.AnalysisSnapshot
	err   error
}

func (m *memorySnapshots) Insert(_ context.Context, s models.AnalysisSnapshot) (models.AnalysisSnapshot, error) {
	if m.err != nil {
		return models.AnalysisSnapshot{}, m.err
	}
	s.SnapshotID = int64(len(m.saved) + 1)
	m.saved = append(m.saved, s)
	return s, nil
}

func (m *memorySnapshots) Recent(_ context.Context, missionID string, limit int) ([]models.AnalysisSnapshot, error) {
	var out []models.AnalysisSnapshot
	for i := len(m.saved) - 1; i >= 0 && len(out) < limit; i-- {
		if missionID == "" || m.saved[i].MissionID == missionID {
			out = append(out, m.saved[i])
		}
	}
	return out, nil
}

func newService(t *testing.T, retentionDays int, snaps SnapshotStore) (*Service, eventlog.Log) {
	t.Helper()
	log := eventlog.NewMemoryLog()
	logger := logx.Discard()
	sweeper := eventlog.NewSweeper(log, eventlog.RetentionPolicy{Days: retentionDays}, time.Hour, logger)
	svc := NewService(Deps{Log: log, Sweeper: sweeper, Snapshots: snaps, Logger: logger}).WithClock(func() time.Time { return now })
	return svc, log
}

func TestPurgeExpiredRemovesOldEvents(t *testing.T) {
	svc, _ := newService(t, 1, nil)
	ctx := context.Background()
	if _, err := svc.AppendEvent(ctx, events.Event{EventType: events.TypeAlert, OccurredAt: now.Add(-48 * time.Hour)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := svc.AppendEvent(ctx, events.Event{EventType: events.TypeAlert, OccurredAt: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("append: %v", err)
	}

	n, err := svc.PurgeExpired(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 purged, got %d err=%v", n, err)
	}
	if n, _ := svc.PurgeExpired(ctx, now); n != 0 {
		t.Fatalf("expected idempotent purge, got %d", n)
	}
	got, err := svc.QueryEvents(ctx, eventlog.Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || !got[0].OccurredAt.Equal(now.Add(-time.Hour)) {
		t.Fatalf("unexpected survivors: %+v", got)
	}
}

func TestQueryEventsValidatesFilter(t *testing.T) {
	svc, _ := newService(t, 7, nil)
	_, err := svc.QueryEvents(context.Background(), eventlog.Filter{RadiusKm: 5})
	var ve *eventlog.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestComputeStatusRecordsSnapshot(t *testing.T) {
	snaps := &memorySnapshots{}
	svc, _ := newService(t, 7, snaps)
	ctx := context.Background()
	svc.AppendEvent(ctx, events.Event{EventType: events.TypeAlert, MissionID: "m1", OccurredAt: now.Add(-time.Minute)})
	svc.AppendEvent(ctx, events.Event{EventType: events.TypeRadioPacket, OccurredAt: now.Add(-2 * time.Minute)})

	res, err := svc.ComputeStatus(ctx, StatusRequest{MissionID: "m1", WindowMinutes: 10})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	// alert 15 and no weather data 0
	if res.StatusScore != 85 || res.Status != status.LabelStable || res.EventCount != 2 {
		t.Fatalf("unexpected status: %+v", res)
	}
	if len(snaps.saved) != 1 || snaps.saved[0].MissionID != "m1" || snaps.saved[0].EventCounts["alert"] != 1 {
		t.Fatalf("unexpected snapshots: %+v", snaps.saved)
	}
	hist, err := svc.History(ctx, "m1", 10)
	if err != nil || len(hist) != 1 {
		t.Fatalf("unexpected history: %v err=%v", hist, err)
	}
}

func TestComputeStatusSurvivesSnapshotFailure(t *testing.T) {
	svc, _ := newService(t, 7, &memorySnapshots{err: errors.New("db down")})
	if _, err := svc.ComputeStatus(context.Background(), StatusRequest{}); err != nil {
		t.Fatalf("snapshot failure must not fail status: %v", err)
	}
}

func TestComputeStatusRejectsBadWindow(t *testing.T) {
	svc, _ := newService(t, 7, nil)
	_, err := svc.ComputeStatus(context.Background(), StatusRequest{WindowMinutes: 5000})
	var ve *eventlog.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHistoryUnavailableWithoutStore(t *testing.T) {
	svc, _ := newService(t, 7, nil)
	if _, err := svc.History(context.Background(), "", 0); !errors.Is(err, ErrHistoryUnavailable) {
		t.Fatalf("expected ErrHistoryUnavailable, got %v", err)
	}
}

func TestAnalyzeMission(t *testing.T) {
	svc, _ := newService(t, 7, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		svc.AppendEvent(ctx, events.Event{
			EventType:  events.TypeAirTrack,
			OccurredAt: now.Add(-time.Duration(i+1) * time.Minute),
			Location:   &events.GeoPoint{Lat: 47, Lon: -122},
			Payload:    map[string]any{"icao24": "ABC123"},
		})
	}

	res, err := svc.AnalyzeMission(ctx, AnalyzeRequest{WindowMinutes: 15})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.IntentUsed != intent.AirActivityAnalysis || !res.Degraded || res.DegradedReason != intent.ReasonAIDisabled {
		t.Fatalf("unexpected result: %+v", res)
	}

	_, err = svc.AnalyzeMission(ctx, AnalyzeRequest{Intent: "NOT_A_REAL_INTENT"})
	var ie *intent.InvalidIntentError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InvalidIntentError, got %v", err)
	}
}

type staticFeeds []feeds.ConnectionState

func (s staticFeeds) States() []feeds.ConnectionState { return s }

func TestFeedStates(t *testing.T) {
	svc, _ := newService(t, 7, nil)
	if got := svc.FeedStates(); got == nil || len(got) != 0 {
		t.Fatalf("expected empty feed list, got %#v", got)
	}
	svc.feeds = staticFeeds{{Feed: "radio", Status: "CONNECTED"}}
	if got := svc.FeedStates(); len(got) != 1 || got[0].Feed != "radio" {
		t.Fatalf("unexpected feeds: %#v", got)
	}
}
