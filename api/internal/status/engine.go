// Package status scores a mission context with a fixed rule table. Scoring
// is a pure function of its input.
package status

import (
	"fmt"
	"sort"
	"strings"

	"sentinelai-backend/api/internal/missionctx"
	"sentinelai-backend/shared/events"
)

const (
	BaseScore = 100

	LabelStable    = "stable"
	LabelAttention = "attention"
	LabelCritical  = "critical"
)

// DefaultPenalties is the per-event deduction for high-risk event types.
func DefaultPenalties() map[events.EventType]int {
	return map[events.EventType]int{
		events.TypeAlert:            15,
		events.TypeRadioSilence:     10,
		events.TypeTrackConvergence: 8,
	}
}

// Label maps a score to its status label.
func Label(score int) string {
	switch {
	case score >= 80:
		return LabelStable
	case score >= 50:
		return LabelAttention
	default:
		return LabelCritical
	}
}

type Finding struct {
	Rule           string `json:"rule"`
	Risk           string `json:"risk"`
	Recommendation string `json:"recommendation"`
	Penalty        int    `json:"penalty"`
}

type Assessment struct {
	Score           int                      `json:"status_score"`
	Status          string                   `json:"status"`
	Summary         string                   `json:"summary"`
	Risks           []string                 `json:"risks"`
	Recommendations []string                 `json:"recommendations"`
	Findings        []Finding                `json:"findings"`
	Penalties       map[events.EventType]int `json:"penalties,omitempty"`
}

type rule struct {
	name  string
	apply func(mc missionctx.Context, penalized int) (Finding, bool)
}

const (
	DenseTrafficTracks    = 10
	ElevatedActivityCount = 5
)

// rules run in declaration order; findings are reported in the same order.
var rules = []rule{
	{"no_radio_contact", func(mc missionctx.Context, _ int) (Finding, bool) {
		if mc.Count(events.TypeRadioPacket) > 0 {
			return Finding{}, false
		}
		return Finding{
			Risk:           fmt.Sprintf("No recent radio contact in the last %d minutes.", mc.Window.Minutes),
			Recommendation: "Attempt radio contact and verify field team communications.",
			Penalty:        10,
		}, true
	}},
	{"adverse_weather", func(mc missionctx.Context, _ int) (Finding, bool) {
		if !mc.AdverseWeather() {
			return Finding{}, false
		}
		return Finding{
			Risk:           "Adverse weather: " + strings.Join(mc.Weather.Reasons, "; ") + ".",
			Recommendation: "Review weather limits before continuing operations.",
			Penalty:        10,
		}, true
	}},
	{"dense_air_traffic", func(mc missionctx.Context, _ int) (Finding, bool) {
		n := mc.DistinctTracks()
		if n < DenseTrafficTracks {
			return Finding{}, false
		}
		return Finding{
			Risk:           fmt.Sprintf("Dense air traffic: %d distinct tracks nearby.", n),
			Recommendation: "Coordinate with airspace control and increase lookout.",
			Penalty:        5,
		}, true
	}},
	{"high_risk_events", func(mc missionctx.Context, penalized int) (Finding, bool) {
		if penalized == 0 {
			return Finding{}, false
		}
		return Finding{
			Risk:           fmt.Sprintf("%d high-risk event(s) reported in the window.", penalized),
			Recommendation: "Review high-risk events and confirm they are resolved.",
		}, true
	}},
	{"elevated_activity", func(mc missionctx.Context, _ int) (Finding, bool) {
		n := mc.Count(events.TypePluginSubmitted) + mc.Count(events.TypeAlert)
		if n < ElevatedActivityCount {
			return Finding{}, false
		}
		return Finding{
			Risk:           fmt.Sprintf("Elevated activity: %d submitted reports and alerts.", n),
			Recommendation: "Monitor ongoing events closely.",
			Penalty:        5,
		}, true
	}},
	{"no_weather_data", func(mc missionctx.Context, _ int) (Finding, bool) {
		if mc.Weather != nil {
			return Finding{}, false
		}
		return Finding{
			Risk:           "No weather data available for the mission area.",
			Recommendation: "Enable the weather feed or obtain a local observation.",
		}, true
	}},
}

// RuleNames lists the rules in evaluation order.
func RuleNames() []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.name
	}
	return out
}

// Engine holds the penalty table. It has no other state.
type Engine struct {
	penalties map[events.EventType]int
}

func NewEngine(penalties map[events.EventType]int) *Engine {
	table := DefaultPenalties()
	for t, p := range penalties {
		if p < 0 {
			p = 0
		}
		table[t] = p
	}
	return &Engine{penalties: table}
}

// PenaltiesFromConfig converts a string-keyed table, skipping unknown types.
func PenaltiesFromConfig(raw map[string]int) map[events.EventType]int {
	out := make(map[events.EventType]int, len(raw))
	for k, v := range raw {
		t, err := events.ParseEventType(k)
		if err != nil {
			continue
		}
		out[t] = v
	}
	return out
}

func (e *Engine) Penalties() map[events.EventType]int {
	out := make(map[events.EventType]int, len(e.penalties))
	for k, v := range e.penalties {
		out[k] = v
	}
	return out
}

// Score evaluates mc. The result depends only on mc and the penalty table.
func (e *Engine) Score(mc missionctx.Context) Assessment {
	score := BaseScore
	penalized := 0
	for _, t := range sortedTypes(e.penalties) {
		n := mc.Count(t)
		if n == 0 || e.penalties[t] == 0 {
			continue
		}
		penalized += n
		score -= n * e.penalties[t]
	}

	out := Assessment{
		Risks:           []string{},
		Recommendations: []string{},
		Findings:        []Finding{},
		Penalties:       e.Penalties(),
	}
	for _, r := range rules {
		f, ok := r.apply(mc, penalized)
		if !ok {
			continue
		}
		f.Rule = r.name
		score -= f.Penalty
		out.Findings = append(out.Findings, f)
		out.Risks = append(out.Risks, f.Risk)
		out.Recommendations = append(out.Recommendations, f.Recommendation)
	}
	if score < 0 {
		score = 0
	}
	out.Score = score
	out.Status = Label(score)
	out.Summary = summarize(mc, out)
	return out
}

func summarize(mc missionctx.Context, a Assessment) string {
	var b strings.Builder
	switch a.Status {
	case LabelStable:
		b.WriteString("Mission appears stable.")
	case LabelAttention:
		b.WriteString("Elevated risk detected; monitor ongoing events.")
	default:
		b.WriteString("Critical conditions; immediate attention required.")
	}
	fmt.Fprintf(&b, " %d event(s) in the last %d minutes.", mc.Total(), mc.Window.Minutes)
	if mc.DominantEventType != "" {
		fmt.Fprintf(&b, " Most frequent event type: %s.", mc.DominantEventType)
	}
	return b.String()
}

func sortedTypes(m map[events.EventType]int) []events.EventType {
	out := make([]events.EventType, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
