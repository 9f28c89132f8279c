package intent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"sentinelai-backend/api/internal/missionctx"
	"sentinelai-backend/api/internal/status"
	"sentinelai-backend/shared/clients/ai"
	"sentinelai-backend/shared/events"
	"sentinelai-backend/shared/logx"
	"sentinelai-backend/shared/metricsx"
)

// Collaborator is the AI completion contract; *ai.Client satisfies it.
type Collaborator interface {
	Complete(ctx context.Context, req ai.Request) (string, error)
}

const (
	SourceExplicit = "explicit"
	SourceAuto     = "auto"

	ResultRuleBased = "rule_based"
	ResultAI        = "ai"

	ReasonAIDisabled   = "ai_disabled"
	ReasonMockMode     = "mock_mode"
	ReasonCollaborator = "collaborator_error"
	ReasonUnparsable   = "unparsable_response"
)

type Options struct {
	AIEnabled bool
	MockMode  bool
}

type ContextWindow struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Minutes int       `json:"minutes"`
	AsOf    time.Time `json:"as_of"`
}

type Result struct {
	MissionID       string                   `json:"mission_id,omitempty"`
	StatusScore     int                      `json:"status_score"`
	Status          string                   `json:"status"`
	Summary         string                   `json:"summary"`
	Risks           []string                 `json:"risks"`
	Recommendations []string                 `json:"recommendations"`
	IntentUsed      Intent                   `json:"intent_used"`
	IntentSource    string                   `json:"intent_source"`
	Source          string                   `json:"source"`
	Degraded        bool                     `json:"degraded"`
	DegradedReason  string                   `json:"degraded_reason,omitempty"`
	ContextWindow   ContextWindow            `json:"context_window"`
	EventCounts     map[events.EventType]int `json:"event_counts"`
}

// Router dispatches one analysis per call and keeps no per-call state.
type Router struct {
	engine    *status.Engine
	collab    Collaborator
	aiEnabled bool
	mock      bool
	logger    logx.Logger
}

// NewRouter builds a router. A nil collaborator behaves as AI disabled.
func NewRouter(engine *status.Engine, collab Collaborator, opts Options, logger logx.Logger) *Router {
	if engine == nil {
		engine = status.NewEngine(nil)
	}
	return &Router{
		engine:    engine,
		collab:    collab,
		aiEnabled: opts.AIEnabled && collab != nil,
		mock:      opts.MockMode,
		logger:    logger,
	}
}

// Resolve returns the intent to use and how it was chosen. Only a malformed
// explicit intent is an error.
func Resolve(explicit string, mc missionctx.Context) (Intent, string, error) {
	if strings.TrimSpace(explicit) == "" {
		return Select(mc), SourceAuto, nil
	}
	i, err := Parse(explicit)
	if err != nil {
		return "", "", err
	}
	return i, SourceExplicit, nil
}

// Route analyzes mc. Collaborator failures degrade to the rule-based result;
// the only error is InvalidIntentError.
func (r *Router) Route(ctx context.Context, explicit string, mc missionctx.Context) (Result, error) {
	ctx, span := otel.Tracer("intent").Start(ctx, "intent.route", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	chosen, source, err := Resolve(explicit, mc)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	baseline := r.engine.Score(mc)
	res := ruleBased(chosen, source, mc, baseline)

	if chosen == SituationalAwareness {
		return r.finish(ctx, res), nil
	}
	switch {
	case r.mock:
		return r.finish(ctx, degrade(res, ReasonMockMode, nil)), nil
	case !r.aiEnabled:
		return r.finish(ctx, degrade(res, ReasonAIDisabled, nil)), nil
	}

	reply, reason, err := r.consult(ctx, chosen, mc, baseline)
	if err != nil {
		r.logger.Warn(ctx, "analysis_degraded", "ai collaborator unavailable, using rule-based result",
			slog.String("intent", string(chosen)),
			slog.String("reason", reason),
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		return r.finish(ctx, degrade(res, reason, err)), nil
	}
	res.Source = ResultAI
	res.Summary = reply.Summary
	res.Risks = reply.Risks
	res.Recommendations = reply.Recommendations
	return r.finish(ctx, res), nil
}

func (r *Router) consult(ctx context.Context, i Intent, mc missionctx.Context, baseline status.Assessment) (Reply, string, error) {
	msgs, err := BuildPrompt(i, mc, baseline).Messages()
	if err != nil {
		return Reply{}, ReasonCollaborator, err
	}
	out, err := r.collab.Complete(ctx, ai.Request{Messages: msgs, JSON: true})
	if err != nil {
		return Reply{}, ReasonCollaborator, err
	}
	reply, err := ParseReply(out)
	if err != nil {
		return Reply{}, ReasonUnparsable, err
	}
	return reply, "", nil
}

func (r *Router) finish(ctx context.Context, res Result) Result {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("intent", string(res.IntentUsed)),
		attribute.String("intent.source", res.IntentSource),
		attribute.String("result.source", res.Source),
		attribute.Bool("degraded", res.Degraded),
	)
	metricsx.IncAnalysis(string(res.IntentUsed), res.Source, res.Degraded)
	r.logger.Debug(ctx, "analysis_routed", "mission analysis routed",
		slog.String("intent", string(res.IntentUsed)),
		slog.String("intent_source", res.IntentSource),
		slog.String("source", res.Source),
		slog.Bool("degraded", res.Degraded),
	)
	return res
}

func ruleBased(i Intent, source string, mc missionctx.Context, a status.Assessment) Result {
	counts := make(map[events.EventType]int, len(mc.Counts))
	for k, v := range mc.Counts {
		counts[k] = v
	}
	return Result{
		MissionID:       mc.MissionID,
		StatusScore:     a.Score,
		Status:          a.Status,
		Summary:         a.Summary,
		Risks:           a.Risks,
		Recommendations: a.Recommendations,
		IntentUsed:      i,
		IntentSource:    source,
		Source:          ResultRuleBased,
		ContextWindow: ContextWindow{
			Start:   mc.Window.Start,
			End:     mc.Window.End,
			Minutes: mc.Window.Minutes,
			AsOf:    mc.AsOf,
		},
		EventCounts: counts,
	}
}

func degrade(res Result, reason string, err error) Result {
	res.Source = ResultRuleBased
	res.Degraded = true
	res.DegradedReason = reason
	if errors.Is(err, context.DeadlineExceeded) {
		res.DegradedReason = ReasonCollaborator + ": timeout"
	}
	return res
}
