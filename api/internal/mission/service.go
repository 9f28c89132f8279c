// Package mission is the public surface of the fusion core: event intake and
// query, status scoring, intent-routed analysis and retention.
package mission

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sentinelai-backend/api/internal/eventlog"
	"sentinelai-backend/api/internal/feeds"
	"sentinelai-backend/api/internal/intent"
	"sentinelai-backend/api/internal/missionctx"
	"sentinelai-backend/api/internal/models"
	"sentinelai-backend/api/internal/status"
	"sentinelai-backend/shared/events"
	"sentinelai-backend/shared/logx"
)

var ErrHistoryUnavailable = errors.New("analysis history is not enabled")

// SnapshotStore persists status computations for history.
type SnapshotStore interface {
	Insert(ctx context.Context, s models.AnalysisSnapshot) (models.AnalysisSnapshot, error)
	Recent(ctx context.Context, missionID string, limit int) ([]models.AnalysisSnapshot, error)
}

// FeedReporter exposes feed health; *feeds.Manager satisfies it.
type FeedReporter interface {
	States() []feeds.ConnectionState
}

type Deps struct {
	Log       eventlog.Log
	Engine    *status.Engine
	Router    *intent.Router
	Sweeper   *eventlog.Sweeper
	Snapshots SnapshotStore
	Feeds     FeedReporter
	Logger    logx.Logger
}

type Service struct {
	log       eventlog.Log
	builder   *missionctx.Builder
	engine    *status.Engine
	router    *intent.Router
	sweeper   *eventlog.Sweeper
	snapshots SnapshotStore
	feeds     FeedReporter
	logger    logx.Logger
	now       func() time.Time
}

func NewService(d Deps) *Service {
	engine := d.Engine
	if engine == nil {
		engine = status.NewEngine(nil)
	}
	router := d.Router
	if router == nil {
		router = intent.NewRouter(engine, nil, intent.Options{}, d.Logger)
	}
	sweeper := d.Sweeper
	if sweeper == nil {
		sweeper = eventlog.NewSweeper(d.Log, eventlog.RetentionPolicy{Days: eventlog.DefaultRetentionDays}, 0, d.Logger)
	}
	return &Service{
		log:       d.Log,
		builder:   missionctx.NewBuilder(d.Log),
		engine:    engine,
		router:    router,
		sweeper:   sweeper,
		snapshots: d.Snapshots,
		feeds:     d.Feeds,
		logger:    d.Logger,
		now:       time.Now,
	}
}

// WithClock replaces the time source used for windows and purges.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// AppendEvent validates and stores e, returning its id.
func (s *Service) AppendEvent(ctx context.Context, e events.Event) (int64, error) {
	return s.log.Append(ctx, e)
}

// QueryEvents returns matching events oldest first.
func (s *Service) QueryEvents(ctx context.Context, f eventlog.Filter) ([]events.Event, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return s.log.Query(ctx, f)
}

type StatusRequest struct {
	MissionID     string
	WindowMinutes int
}

type StatusResult struct {
	MissionID         string                   `json:"mission_id,omitempty"`
	StatusScore       int                      `json:"status_score"`
	Status            string                   `json:"status"`
	Summary           string                   `json:"summary"`
	Risks             []string                 `json:"risks"`
	Recommendations   []string                 `json:"recommendations"`
	WindowMinutes     int                      `json:"window_minutes"`
	EventCount        int                      `json:"event_count"`
	EventCounts       map[events.EventType]int `json:"event_counts"`
	LastEventAt       *time.Time               `json:"last_event_at,omitempty"`
	DominantEventType events.EventType         `json:"dominant_event_type,omitempty"`
	AsOf              time.Time                `json:"as_of"`
}

// ComputeStatus scores the mission over the window. When a snapshot store is
// configured the result is recorded; a failed write does not fail the call.
func (s *Service) ComputeStatus(ctx context.Context, req StatusRequest) (StatusResult, error) {
	mc, err := s.builder.Build(ctx, missionctx.Request{
		MissionID:      req.MissionID,
		WindowMinutes:  req.WindowMinutes,
		IncludeAir:     true,
		IncludeWeather: true,
		Now:            s.now(),
	})
	if err != nil {
		return StatusResult{}, err
	}
	a := s.engine.Score(mc)
	res := StatusResult{
		MissionID:         mc.MissionID,
		StatusScore:       a.Score,
		Status:            a.Status,
		Summary:           a.Summary,
		Risks:             a.Risks,
		Recommendations:   a.Recommendations,
		WindowMinutes:     mc.Window.Minutes,
		EventCount:        mc.Total(),
		EventCounts:       mc.Counts,
		LastEventAt:       mc.LastEventAt,
		DominantEventType: mc.DominantEventType,
		AsOf:              mc.AsOf,
	}
	s.recordSnapshot(ctx, res)
	return res, nil
}

func (s *Service) recordSnapshot(ctx context.Context, res StatusResult) {
	if s.snapshots == nil {
		return
	}
	counts := make(map[string]int, len(res.EventCounts))
	for t, n := range res.EventCounts {
		counts[string(t)] = n
	}
	_, err := s.snapshots.Insert(ctx, models.AnalysisSnapshot{
		MissionID:       res.MissionID,
		StatusScore:     res.StatusScore,
		Status:          res.Status,
		WindowMinutes:   res.WindowMinutes,
		EventCounts:     counts,
		Risks:           res.Risks,
		Recommendations: res.Recommendations,
		CreatedAt:       res.AsOf,
	})
	if err != nil {
		s.logger.Warn(ctx, "snapshot_insert_failed", "analysis snapshot not recorded",
			slog.String("mission_id", res.MissionID),
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
}

// History returns the most recent recorded status computations.
func (s *Service) History(ctx context.Context, missionID string, limit int) ([]models.AnalysisSnapshot, error) {
	if s.snapshots == nil {
		return nil, ErrHistoryUnavailable
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.snapshots.Recent(ctx, missionID, limit)
}

type AnalyzeRequest struct {
	MissionID     string
	Location      *events.GeoPoint
	RadiusKm      float64
	WindowMinutes int
	Intent        string
}

// AnalyzeMission builds the mission context and routes it. Only malformed
// input and store faults are errors; collaborator trouble degrades.
func (s *Service) AnalyzeMission(ctx context.Context, req AnalyzeRequest) (intent.Result, error) {
	mc, err := s.builder.Build(ctx, missionctx.Request{
		MissionID:      req.MissionID,
		Location:       req.Location,
		RadiusKm:       req.RadiusKm,
		WindowMinutes:  req.WindowMinutes,
		IncludeAir:     true,
		IncludeWeather: true,
		Now:            s.now(),
	})
	if err != nil {
		return intent.Result{}, err
	}
	return s.router.Route(ctx, req.Intent, mc)
}

// PurgeExpired applies the retention policy as of now.
func (s *Service) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.sweeper.PurgeExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	return res.Removed["events"], nil
}

// FeedStates reports every configured feed; nil when feeds are not wired.
func (s *Service) FeedStates() []feeds.ConnectionState {
	if s.feeds == nil {
		return []feeds.ConnectionState{}
	}
	return s.feeds.States()
}

// Ping checks the event log when it supports it.
func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.log.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}
