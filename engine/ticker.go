package engine

import (
	"context"
	"time"

	"github.com/ftahirops/gentop/model"
)

// SampleSource abstracts a data source that produces raw samples. Next
// returns io.EOF when a finite source is exhausted.
type SampleSource interface {
	Next(ctx context.Context) (model.Sample, error)
	Close() error
}

// Ticker pulls one sample per Tick from a source and analyzes it.
type Ticker struct {
	Source SampleSource
	Fleet  *Fleet
	// Asset names samples that arrive without one.
	Asset string
	now   func() time.Time
}

// NewTicker creates a ticker feeding src into fleet.
func NewTicker(src SampleSource, fleet *Fleet, defaultAsset string) *Ticker {
	return &Ticker{Source: src, Fleet: fleet, Asset: defaultAsset, now: time.Now}
}

// Tick performs one fetch + analysis cycle.
func (t *Ticker) Tick(ctx context.Context) (Result, error) {
	s, err := t.Source.Next(ctx)
	if err != nil {
		return Result{}, err
	}
	asset := s.Asset
	if asset == "" {
		asset = t.Asset
	}
	ts := s.Time
	if ts.IsZero() {
		ts = t.now()
	}
	return t.Fleet.Asset(asset).AnalyzeAt(s.Frame(), ts), nil
}
