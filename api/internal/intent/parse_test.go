package intent

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseReplyJSON(t *testing.T) {
	r, err := ParseReply(`{"summary":"Two aircraft nearby.","risks":["Traffic at 3000ft",{"description":"Helicopter low"}],"recommendations":["Hold altitude"]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.Summary != "Two aircraft nearby." {
		t.Fatalf("unexpected summary: %q", r.Summary)
	}
	if !reflect.DeepEqual(r.Risks, []string{"Traffic at 3000ft", "Helicopter low"}) {
		t.Fatalf("unexpected risks: %#v", r.Risks)
	}
	if !reflect.DeepEqual(r.Recommendations, []string{"Hold altitude"}) {
		t.Fatalf("unexpected recommendations: %#v", r.Recommendations)
	}
}

func TestParseReplyFencedJSON(t *testing.T) {
	r, err := ParseReply("```json\n{\"summary\": \"Calm.\", \"risks\": [], \"recommendations\": []}\n```")
	if err != nil || r.Summary != "Calm." {
		t.Fatalf("unexpected reply: %+v err=%v", r, err)
	}
	if r.Risks == nil || len(r.Risks) != 0 {
		t.Fatalf("expected empty risks, got %#v", r.Risks)
	}
}

func TestParseReplySections(t *testing.T) {
	text := "Summary: Radio traffic is steady.\n\nRisks:\n- 3 stations silent since noon\n- Repeater congestion\nRecommendations:\n1. Check the repeater\n2) Poll silent stations"
	r, err := ParseReply(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.Summary != "Radio traffic is steady." {
		t.Fatalf("unexpected summary: %q", r.Summary)
	}
	if !reflect.DeepEqual(r.Risks, []string{"3 stations silent since noon", "Repeater congestion"}) {
		t.Fatalf("unexpected risks: %#v", r.Risks)
	}
	if !reflect.DeepEqual(r.Recommendations, []string{"Check the repeater", "Poll silent stations"}) {
		t.Fatalf("unexpected recommendations: %#v", r.Recommendations)
	}
}

func TestParseReplyRejectsUnstructured(t *testing.T) {
	for _, raw := range []string{"", "   ", "I cannot help with that.", `{"risks":["x"]}`} {
		if _, err := ParseReply(raw); !errors.Is(err, ErrUnparsableResponse) {
			t.Fatalf("expected unparsable for %q, got %v", raw, err)
		}
	}
}
