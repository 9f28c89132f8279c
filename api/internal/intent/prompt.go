package intent

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"sentinelai-backend/api/internal/missionctx"
	"sentinelai-backend/api/internal/status"
	"sentinelai-backend/shared/clients/ai"
	"sentinelai-backend/shared/events"
)

const systemPrompt = "You are a mission operations analyst. Respond only with a JSON object " +
	`{"summary": string, "risks": [string], "recommendations": [string]}. ` +
	"Base every statement on the supplied context; do not invent observations."

var instructions = map[Intent]string{
	SituationalAwareness:        "Summarize the overall mission picture across all signals.",
	RouteRiskAssessment:         "Assess risks along the mission route from weather, air traffic and reported events.",
	WeatherImpact:               "Assess how current weather affects mission safety and timing.",
	AirspaceDeconfliction:       "Identify aircraft that may conflict with mission operations and how to deconflict.",
	AirActivityAnalysis:         "Describe notable air activity near the mission area.",
	RadioSignalActivityAnalysis: "Describe radio traffic patterns, active stations and any communication gaps.",
}

// Prompt is the structured payload sent to the collaborator.
type Prompt struct {
	Intent         Intent         `json:"intent"`
	ContextSummary map[string]any `json:"context_summary"`
	Instructions   string         `json:"instructions"`
}

// BuildPrompt reduces mc and the rule-based baseline to a compact summary.
// Raw events are not forwarded.
func BuildPrompt(i Intent, mc missionctx.Context, baseline status.Assessment) Prompt {
	summary := map[string]any{
		"window": map[string]any{
			"start":   mc.Window.Start.Format(time.RFC3339),
			"end":     mc.Window.End.Format(time.RFC3339),
			"minutes": mc.Window.Minutes,
		},
		"event_counts": mc.Counts,
		"total_events": mc.Total(),
		"rule_based": map[string]any{
			"status_score": baseline.Score,
			"status":       baseline.Status,
			"risks":        baseline.Risks,
		},
	}
	if mc.MissionID != "" {
		summary["mission_id"] = mc.MissionID
	}
	if mc.Location != nil {
		summary["location"] = mc.Location
	}
	if mc.Air != nil {
		summary["air"] = mc.Air
	}
	if mc.Weather != nil {
		summary["weather"] = mc.Weather
	}
	if radio := radioDigest(mc); radio != nil {
		summary["radio"] = radio
	}
	return Prompt{Intent: i, ContextSummary: summary, Instructions: instructions[i]}
}

// Messages renders p as a system and user message pair.
func (p Prompt) Messages() ([]ai.Message, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}
	return []ai.Message{
		{Role: ai.RoleSystem, Content: systemPrompt},
		{Role: ai.RoleUser, Content: string(body)},
	}, nil
}

const maxRadioStations = 10

// radioDigest lists the most active callsigns in the window.
func radioDigest(mc missionctx.Context) map[string]any {
	counts := map[string]int{}
	var order []string
	for _, e := range mc.Events {
		if e.EventType != events.TypeRadioPacket {
			continue
		}
		cs, _ := e.Payload["source_callsign"].(string)
		if cs == "" {
			continue
		}
		if _, seen := counts[cs]; !seen {
			order = append(order, cs)
		}
		counts[cs]++
	}
	if len(order) == 0 {
		return nil
	}
	stations := make([]map[string]any, 0, len(order))
	for _, cs := range topStations(order, counts, maxRadioStations) {
		stations = append(stations, map[string]any{"callsign": cs, "packets": counts[cs]})
	}
	return map[string]any{"distinct_stations": len(order), "stations": stations}
}

func topStations(order []string, counts map[string]int, n int) []string {
	out := make([]string, len(order))
	copy(out, order)
	// equal counts keep first-heard order
	sort.SliceStable(out, func(i, j int) bool { return counts[out[i]] > counts[out[j]] })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
