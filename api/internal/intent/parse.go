package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrUnparsableResponse = errors.New("unparsable collaborator response")

var bulletRe = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s+`)

// Reply is the structured part of a collaborator response.
type Reply struct {
	Summary         string
	Risks           []string
	Recommendations []string
}

// ParseReply accepts a JSON object, a fenced JSON block, or plain text with
// Summary:, Risks: and Recommendations: sections.
func ParseReply(raw string) (Reply, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Reply{}, fmt.Errorf("%w: empty", ErrUnparsableResponse)
	}
	if body, ok := jsonObject(text); ok {
		if r, err := parseJSONReply(body); err == nil {
			return r, nil
		}
	}
	if r, ok := parseSections(text); ok {
		return r, nil
	}
	return Reply{}, fmt.Errorf("%w: no summary found", ErrUnparsableResponse)
}

// jsonObject strips code fences and returns the outermost {...} span.
func jsonObject(text string) (string, bool) {
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			text = text[nl+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func parseJSONReply(body string) (Reply, error) {
	var payload struct {
		Summary         string `json:"summary"`
		Risks           []any  `json:"risks"`
		Recommendations []any  `json:"recommendations"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return Reply{}, err
	}
	r := Reply{
		Summary:         strings.TrimSpace(payload.Summary),
		Risks:           flattenItems(payload.Risks),
		Recommendations: flattenItems(payload.Recommendations),
	}
	if r.Summary == "" {
		return Reply{}, ErrUnparsableResponse
	}
	return r, nil
}

// flattenItems keeps strings and the descriptive field of object items.
func flattenItems(items []any) []string {
	out := []string{}
	for _, item := range items {
		switch v := item.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				out = append(out, s)
			}
		case map[string]any:
			for _, key := range []string{"description", "text", "risk", "recommendation", "title"} {
				if s, ok := v[key].(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, strings.TrimSpace(s))
					break
				}
			}
		}
	}
	return out
}

func parseSections(text string) (Reply, bool) {
	r := Reply{Risks: []string{}, Recommendations: []string{}}
	var section string
	var summary []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if name, rest, ok := sectionHeader(line); ok {
			section = name
			line = rest
			if line == "" {
				continue
			}
		}
		item := strings.TrimSpace(bulletRe.ReplaceAllString(line, ""))
		switch section {
		case "summary":
			summary = append(summary, line)
		case "risks":
			if item != "" {
				r.Risks = append(r.Risks, item)
			}
		case "recommendations":
			if item != "" {
				r.Recommendations = append(r.Recommendations, item)
			}
		}
	}
	r.Summary = strings.Join(summary, " ")
	return r, r.Summary != ""
}

func sectionHeader(line string) (string, string, bool) {
	head, rest, ok := strings.Cut(line, ":")
	if !ok {
		return "", "", false
	}
	head = strings.ToLower(strings.Trim(strings.TrimSpace(head), "#* "))
	switch head {
	case "summary":
		return "summary", strings.TrimSpace(rest), true
	case "risks", "risk":
		return "risks", strings.TrimSpace(rest), true
	case "recommendations", "recommendation":
		return "recommendations", strings.TrimSpace(rest), true
	}
	return "", "", false
}
