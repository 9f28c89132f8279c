package models

import "time"

// AnalysisSnapshot is one persisted status computation, kept for history.
type AnalysisSnapshot struct {
	SnapshotID      int64          `json:"snapshot_id"`
	MissionID       string         `json:"mission_id,omitempty"`
	StatusScore     int            `json:"status_score"`
	Status          string         `json:"status"`
	WindowMinutes   int            `json:"window_minutes"`
	EventCounts     map[string]int `json:"event_counts"`
	Risks           []string       `json:"risks"`
	Recommendations []string       `json:"recommendations"`
	CreatedAt       time.Time      `json:"created_at"`
}
