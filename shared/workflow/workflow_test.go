package workflow

import "testing"

func TestCanTransition(t *testing.T) {
	if !CanTransition(FeedDisconnected, FeedConnecting) {
		t.Fatalf("expected disconnected -> connecting to be allowed")
	}
	if !CanTransition("backoff", "connecting") {
		t.Fatalf("expected lower-case statuses to normalize")
	}
	if CanTransition(FeedDisconnected, FeedConnected) {
		t.Fatalf("expected disconnected -> connected to be blocked")
	}
	if CanTransition(FeedBackoff, FeedConnected) {
		t.Fatalf("expected backoff -> connected to be blocked")
	}
}

func TestEventTypeForTransition(t *testing.T) {
	if ev := EventTypeForTransition(FeedConnected, FeedBackoff); ev != EventFeedBackoff {
		t.Fatalf("expected %s, got %q", EventFeedBackoff, ev)
	}
	if ev := EventTypeForTransition(FeedConnected, FeedConnected); ev != "" {
		t.Fatalf("expected no event for self transition, got %q", ev)
	}
}
