package workflow

import "strings"

// Feed connection statuses.
const (
	FeedDisconnected = "DISCONNECTED"
	FeedConnecting   = "CONNECTING"
	FeedConnected    = "CONNECTED"
	FeedBackoff      = "BACKOFF"
)

const (
	EventFeedConnecting   = "feed_connecting"
	EventFeedConnected    = "feed_connected"
	EventFeedBackoff      = "feed_backoff"
	EventFeedDisconnected = "feed_disconnected"
)

var feedTransitions = map[string]map[string]string{
	FeedDisconnected: {
		FeedConnecting: EventFeedConnecting,
	},
	FeedConnecting: {
		FeedConnected:    EventFeedConnected,
		FeedBackoff:      EventFeedBackoff,
		FeedDisconnected: EventFeedDisconnected,
	},
	FeedConnected: {
		FeedBackoff:      EventFeedBackoff,
		FeedDisconnected: EventFeedDisconnected,
	},
	FeedBackoff: {
		FeedConnecting:   EventFeedConnecting,
		FeedDisconnected: EventFeedDisconnected,
	},
}

func NormalizeFeedStatus(status string) string {
	return strings.ToUpper(strings.TrimSpace(status))
}

func CanTransition(fromStatus string, toStatus string) bool {
	fromStatus = NormalizeFeedStatus(fromStatus)
	toStatus = NormalizeFeedStatus(toStatus)
	if fromStatus == toStatus {
		return true
	}
	next := feedTransitions[fromStatus]
	if next == nil {
		return false
	}
	_, ok := next[toStatus]
	return ok
}

func EventTypeForTransition(fromStatus string, toStatus string) string {
	fromStatus = NormalizeFeedStatus(fromStatus)
	toStatus = NormalizeFeedStatus(toStatus)
	if fromStatus == toStatus {
		return ""
	}
	next := feedTransitions[fromStatus]
	if next == nil {
		return ""
	}
	return next[toStatus]
}

func AllFeedStatuses() []string {
	return []string{
		FeedDisconnected,
		FeedConnecting,
		FeedConnected,
		FeedBackoff,
	}
}
