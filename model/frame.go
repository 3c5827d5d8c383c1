package model

import "time"

// Frame is one sampling cycle's readings keyed by sensor id.
// Ids are unique; iteration follows first appearance.
type Frame struct {
	order []string
	byID  map[string]Reading
}

// NewFrame builds a frame from raw readings. Entries without an id are
// dropped. A repeated id keeps its first position and its last value.
func NewFrame(readings []Reading) Frame {
	f := Frame{byID: make(map[string]Reading, len(readings))}
	for _, r := range readings {
		if r.ID == "" {
			continue
		}
		if _, seen := f.byID[r.ID]; !seen {
			f.order = append(f.order, r.ID)
		}
		f.byID[r.ID] = r
	}
	return f
}

// Len returns the number of readings.
func (f Frame) Len() int { return len(f.order) }

// IDs returns sensor ids in frame order.
func (f Frame) IDs() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// Readings returns the readings in frame order.
func (f Frame) Readings() []Reading {
	out := make([]Reading, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.byID[id])
	}
	return out
}

// Get returns the reading for id.
func (f Frame) Get(id string) (Reading, bool) {
	r, ok := f.byID[id]
	return r, ok
}

// Num returns the numeric value for id, if present and numeric.
func (f Frame) Num(id string) (float64, bool) {
	r, ok := f.byID[id]
	if !ok {
		return 0, false
	}
	return r.Value.Float()
}

// EnrichedFrame is the analyzer output for one frame: every original reading
// with severity and probability attached, plus the four derived readings.
type EnrichedFrame struct {
	Asset           string          `json:"asset"`
	Sequence        uint64          `json:"seq"`
	Timestamp       time.Time       `json:"ts"`
	Readings        []ScoredReading `json:"sensors"`
	EmergencyActive bool            `json:"emergency_active"`
}

// Get returns the scored reading for id.
func (e *EnrichedFrame) Get(id string) (ScoredReading, bool) {
	for _, r := range e.Readings {
		if r.ID == id {
			return r, true
		}
	}
	return ScoredReading{}, false
}

// Worst returns the highest severity in the frame.
func (e *EnrichedFrame) Worst() Severity {
	worst := SeverityNormal
	for _, r := range e.Readings {
		if r.Severity.Rank() > worst.Rank() {
			worst = r.Severity
		}
	}
	return worst
}

// Counts returns the number of readings per severity.
func (e *EnrichedFrame) Counts() map[Severity]int {
	out := map[Severity]int{SeverityNormal: 0, SeverityWarning: 0, SeverityCritical: 0}
	for _, r := range e.Readings {
		out[r.Severity]++
	}
	return out
}
