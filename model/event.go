package model

import "time"

// EmergencyEvent is one emergency-stop episode, from latch to clear.
type EmergencyEvent struct {
	ID           string          `json:"id"`
	Asset        string          `json:"asset"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time,omitempty"`
	Duration     int             `json:"duration_sec,omitempty"`
	Triggers     []string        `json:"triggers,omitempty"`
	PeakCritical int             `json:"peak_critical"`
	Frames       int             `json:"frames"`
	Active       bool            `json:"active"`
	Timeline     []TimelineEntry `json:"timeline,omitempty"`
}

// TimelineEntry is a timestamped milestone within an episode.
type TimelineEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}
