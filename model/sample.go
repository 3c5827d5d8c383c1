package model

import "time"

// Sample is one raw frame as delivered by a source, before analysis.
type Sample struct {
	Asset    string    `json:"asset"`
	Time     time.Time `json:"ts"`
	Readings []Reading `json:"sensors"`
}

// Frame builds the analyzer frame for the sample.
func (s Sample) Frame() Frame { return NewFrame(s.Readings) }
