package ui

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ftahirops/gentop/engine"
	"github.com/ftahirops/gentop/model"
)

type sliceSource struct {
	samples []model.Sample
}

func (s *sliceSource) Next(ctx context.Context) (model.Sample, error) {
	if len(s.samples) == 0 {
		return model.Sample{}, io.EOF
	}
	out := s.samples[0]
	s.samples = s.samples[1:]
	return out, nil
}

func (s *sliceSource) Close() error { return nil }

func reading(id string, v float64) model.Reading {
	return model.Reading{ID: id, Value: model.Num(v)}
}

func newTestModel(samples ...model.Sample) Model {
	hist := engine.NewHistory("gen-1", 16)
	events := engine.NewEventDetector(nil)
	fleet := engine.NewFleet(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), hist, events)
	ticker := engine.NewTicker(&sliceSource{samples: samples}, fleet, "gen-1")
	m := NewModel(ticker, time.Second, hist, events)
	m.width, m.height = 120, 0
	return m
}

// step runs one collection and feeds the result back into the model.
func step(t *testing.T, m Model) Model {
	t.Helper()
	msg := collectOnce(m.ticker)()
	next, _ := m.Update(msg)
	return next.(Model)
}

func TestViewWaitingForFirstFrame(t *testing.T) {
	m := newTestModel()
	if got := m.View(); !strings.Contains(got, "Waiting") {
		t.Errorf("View before data = %q", got)
	}
}

func TestViewShowsLatchedEmergency(t *testing.T) {
	m := newTestModel(
		model.Sample{Readings: []model.Reading{reading(model.SensorRPM, 1500), reading(model.SensorOilPressure, 0.8)}},
	)
	m = step(t, m)
	if m.res == nil {
		t.Fatal("no result after step")
	}
	view := stripANSI(m.View())
	for _, want := range []string{"EMERGENCY STOP LATCHED", engine.TriggerOilPressure, "oil_pressure", "critical", "1 frames"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestViewRunningAndEventsPage(t *testing.T) {
	m := newTestModel(
		model.Sample{Readings: []model.Reading{reading(model.SensorRPM, 1500)}},
	)
	m = step(t, m)
	if view := stripANSI(m.View()); !strings.Contains(view, "RUNNING") {
		t.Errorf("healthy frame should show RUNNING:\n%s", view)
	}

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(Model)
	if m.page != PageEvents {
		t.Fatalf("tab should switch to events, page=%d", m.page)
	}
	if view := stripANSI(m.View()); !strings.Contains(view, "No emergency stops recorded") {
		t.Errorf("events page:\n%s", view)
	}
}

func TestSourceEndStopsTicking(t *testing.T) {
	m := newTestModel()
	m = step(t, m)
	if !m.ended {
		t.Fatal("EOF should mark the source ended")
	}
	if _, cmd := m.Update(tickMsg(time.Now())); cmd != nil {
		t.Error("ended model should not schedule more ticks")
	}
}

func TestSelectionClampedToReadings(t *testing.T) {
	m := newTestModel(
		model.Sample{Readings: []model.Reading{reading(model.SensorRPM, 1500)}},
	)
	m = step(t, m)
	n := len(m.res.Frame.Readings)
	for i := 0; i < n+5; i++ {
		next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})
		m = next.(Model)
	}
	if m.selected != n-1 {
		t.Errorf("selected = %d, want %d", m.selected, n-1)
	}
	sel, ok := m.selectedReading()
	if !ok || sel.ID != m.res.Frame.Readings[n-1].ID {
		t.Errorf("selectedReading = %+v, %v", sel, ok)
	}
}

func TestPauseAndHelp(t *testing.T) {
	m := newTestModel()
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'p'}})
	m = next.(Model)
	if !m.paused {
		t.Fatal("p should pause")
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'?'}})
	m = next.(Model)
	if !strings.Contains(stripANSI(m.View()), "gentop keys") {
		t.Error("? should show help")
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}})
	if next.(Model).showHelp {
		t.Error("any key should close help")
	}
}

func TestFuelTrend(t *testing.T) {
	h := engine.NewHistory("gen-1", 8)
	if _, ok := fuelTrend(h); ok {
		t.Fatal("empty history has no trend")
	}
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, level := range []float64{80, 75, 70} {
		h.Push(model.EnrichedFrame{
			Asset:     "gen-1",
			Timestamp: ts.Add(time.Duration(i) * 30 * time.Minute),
			Readings: []model.ScoredReading{
				model.Score(reading(model.SensorFuelLevel, level), model.SeverityNormal, 0.05),
			},
		})
	}
	rate, ok := fuelTrend(h)
	if !ok {
		t.Fatal("expected a trend")
	}
	if rate != -10 {
		t.Errorf("fuelTrend = %v, want -10", rate)
	}
}
