// Package handlers maps the mission service onto the /api/v1 HTTP routes.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sentinelai-backend/api/internal/eventlog"
	"sentinelai-backend/api/internal/feeds"
	"sentinelai-backend/api/internal/intent"
	"sentinelai-backend/api/internal/mission"
	"sentinelai-backend/api/internal/models"
	"sentinelai-backend/shared/events"
	"sentinelai-backend/shared/httpx"
	"sentinelai-backend/shared/logx"
)

const maxEventBodyBytes = 256 << 10

// Service is the slice of *mission.Service the routes need.
type Service interface {
	AppendEvent(ctx context.Context, e events.Event) (int64, error)
	QueryEvents(ctx context.Context, f eventlog.Filter) ([]events.Event, error)
	ComputeStatus(ctx context.Context, req mission.StatusRequest) (mission.StatusResult, error)
	AnalyzeMission(ctx context.Context, req mission.AnalyzeRequest) (intent.Result, error)
	History(ctx context.Context, missionID string, limit int) ([]models.AnalysisSnapshot, error)
	FeedStates() []feeds.ConnectionState
}

// Prober answers the AI debug route.
type Prober interface {
	Probe(ctx context.Context) (string, error)
}

type Handlers struct {
	svc    Service
	prober Prober
	logger logx.Logger
	now    func() time.Time
}

func New(svc Service, logger logx.Logger) *Handlers {
	return &Handlers{svc: svc, logger: logger, now: time.Now}
}

// WithProber enables GET /api/v1/debug/ai.
func (h *Handlers) WithProber(p Prober) *Handlers {
	h.prober = p
	return h
}

func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/events", h.appendEvent)
	mux.HandleFunc("GET /api/v1/events", h.queryEvents)
	mux.HandleFunc("GET /api/v1/analysis/status", h.status)
	mux.HandleFunc("POST /api/v1/analysis/mission", h.analyze)
	mux.HandleFunc("GET /api/v1/analysis/history", h.history)
	mux.HandleFunc("GET /api/v1/feeds", h.listFeeds)
	if h.prober != nil {
		mux.HandleFunc("GET /api/v1/debug/ai", h.probeAI)
	}
}

type eventRequest struct {
	EventType   string           `json:"event_type"`
	MissionID   string           `json:"mission_id"`
	Description string           `json:"description"`
	Source      string           `json:"source"`
	Timestamp   any              `json:"timestamp"`
	Location    *events.GeoPoint `json:"location"`
	Payload     map[string]any   `json:"payload"`
	Metadata    map[string]any   `json:"metadata"`
}

// toEvent shapes a submission. Missing event_type means plugin_submitted and
// the metadata source defaults to plugin.
func (req eventRequest) toEvent() (events.Event, error) {
	e := events.Event{
		EventType: events.TypePluginSubmitted,
		MissionID: req.MissionID,
		Location:  req.Location,
		Payload:   req.Payload,
		Metadata:  req.Metadata,
	}
	if raw := strings.TrimSpace(req.EventType); raw != "" {
		t, err := events.ParseEventType(raw)
		if err != nil {
			return events.Event{}, &eventlog.ValidationError{Field: "event_type", Message: err.Error()}
		}
		e.EventType = t
	}
	if req.Description != "" {
		if e.Payload == nil {
			e.Payload = map[string]any{}
		}
		e.Payload["description"] = req.Description
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	switch {
	case strings.TrimSpace(req.Source) != "":
		e.Metadata["source"] = strings.TrimSpace(req.Source)
	case e.Source() == "":
		e.Metadata["source"] = events.SourcePlugin
	}
	switch ts := req.Timestamp.(type) {
	case nil:
	case string:
		if strings.TrimSpace(ts) == "" {
			break
		}
		parsed, err := events.ParseTimestamp(ts)
		if err != nil {
			return events.Event{}, &eventlog.ValidationError{Field: "timestamp", Message: err.Error()}
		}
		e.OccurredAt = parsed
	case float64:
		parsed, err := events.ParseTimestamp(strconv.FormatFloat(ts, 'f', -1, 64))
		if err != nil {
			return events.Event{}, &eventlog.ValidationError{Field: "timestamp", Message: err.Error()}
		}
		e.OccurredAt = parsed
	default:
		return events.Event{}, &eventlog.ValidationError{Field: "timestamp", Message: "must be an ISO-8601 string or epoch seconds"}
	}
	return e, nil
}

func (h *Handlers) appendEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := httpx.DecodeJSON(r, &req, maxEventBodyBytes); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid JSON body", nil)
		return
	}
	e, err := req.toEvent()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	id, err := h.svc.AppendEvent(r.Context(), e)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"id": id, "status": "received"})
}

func (h *Handlers) queryEvents(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	list, err := h.svc.QueryEvents(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []events.Event{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"events": list, "count": len(list)})
}

func filterFromQuery(r *http.Request) (eventlog.Filter, error) {
	q := r.URL.Query()
	f := eventlog.Filter{MissionID: strings.TrimSpace(q.Get("mission_id"))}
	f.IncludeGlobal = q.Get("include_global") == "true"
	for _, raw := range q["event_type"] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			t, err := events.ParseEventType(part)
			if err != nil {
				return f, &eventlog.ValidationError{Field: "event_type", Message: err.Error()}
			}
			f.EventTypes = append(f.EventTypes, t)
		}
	}
	var err error
	if f.Since, err = timeParam(q.Get("since"), "since"); err != nil {
		return f, err
	}
	if f.Until, err = timeParam(q.Get("until"), "until"); err != nil {
		return f, err
	}
	if f.Near, err = locationParams(q.Get("lat"), q.Get("lon")); err != nil {
		return f, err
	}
	if f.RadiusKm, err = floatParam(q.Get("radius_km"), "radius_km"); err != nil {
		return f, err
	}
	if f.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return f, err
	}
	return f, nil
}

func (h *Handlers) status(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window, err := intParam(q.Get("window_minutes"), "window_minutes")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	res, err := h.svc.ComputeStatus(r.Context(), mission.StatusRequest{
		MissionID:     strings.TrimSpace(q.Get("mission_id")),
		WindowMinutes: window,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

type analyzeRequest struct {
	MissionID     string           `json:"mission_id"`
	Location      *events.GeoPoint `json:"location"`
	RadiusKm      float64          `json:"radius_km"`
	WindowMinutes int              `json:"window_minutes"`
	Intent        string           `json:"intent"`
}

func (h *Handlers) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req, maxEventBodyBytes); err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid JSON body", nil)
			return
		}
	}
	res, err := h.svc.AnalyzeMission(r.Context(), mission.AnalyzeRequest{
		MissionID:     strings.TrimSpace(req.MissionID),
		Location:      req.Location,
		RadiusKm:      req.RadiusKm,
		WindowMinutes: req.WindowMinutes,
		Intent:        req.Intent,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handlers) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	list, err := h.svc.History(r.Context(), strings.TrimSpace(q.Get("mission_id")), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []models.AnalysisSnapshot{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"snapshots": list})
}

func (h *Handlers) listFeeds(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"feeds": h.svc.FeedStates(), "as_of": h.now().UTC()})
}

func (h *Handlers) probeAI(w http.ResponseWriter, r *http.Request) {
	out, err := h.prober.Probe(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadGateway, "UNAVAILABLE", "ai probe failed", map[string]any{"error": err.Error()})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"reply": out})
}

// writeServiceError maps domain errors onto the error envelope.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *eventlog.ValidationError
	var iErr *intent.InvalidIntentError
	switch {
	case errors.As(err, &vErr):
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", vErr.Error(), map[string]any{"field": vErr.Field})
	case errors.As(err, &iErr):
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", iErr.Error(), map[string]any{"allowed": intent.All()})
	case errors.Is(err, mission.ErrHistoryUnavailable):
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION", err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(w, r, http.StatusGatewayTimeout, "DEADLINE_EXCEEDED", "request timed out", nil)
	default:
		h.logger.Error(r.Context(), "request_failed", "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
	}
}

func timeParam(raw string, field string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	ts, err := events.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, &eventlog.ValidationError{Field: field, Message: err.Error()}
	}
	return ts, nil
}

func intParam(raw string, field string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &eventlog.ValidationError{Field: field, Message: "must be an integer"}
	}
	return v, nil
}

func floatParam(raw string, field string) (float64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, &eventlog.ValidationError{Field: field, Message: "must be a number"}
	}
	return v, nil
}

func locationParams(lat string, lon string) (*events.GeoPoint, error) {
	if strings.TrimSpace(lat) == "" && strings.TrimSpace(lon) == "" {
		return nil, nil
	}
	la, err := floatParam(lat, "lat")
	if err != nil {
		return nil, err
	}
	lo, err := floatParam(lon, "lon")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(lat) == "" || strings.TrimSpace(lon) == "" {
		return nil, &eventlog.ValidationError{Field: "location", Message: "lat and lon must be given together"}
	}
	return &events.GeoPoint{Lat: la, Lon: lo}, nil
}
