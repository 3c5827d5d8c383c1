package ui

import (
	"context"
	"errors"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ftahirops/gentop/engine"
	"github.com/ftahirops/gentop/model"
	"github.com/ftahirops/gentop/util"
)

// Page identifies the current screen.
type Page int

const (
	PageOverview Page = iota
	PageEvents
	pageCount
)

var pageNames = []string{"Overview", "Events"}

type tickMsg time.Time

type resultMsg struct {
	res engine.Result
	err error
}

// Model is the bubbletea model.
type Model struct {
	ticker   *engine.Ticker
	interval time.Duration
	history  *engine.History
	events   *engine.EventDetector
	width    int
	height   int

	// Data
	res    *engine.Result
	err    error
	ended  bool
	frames uint64

	// Frame rate over the last rate window
	rateFrames uint64
	rateAt     time.Time
	fps        float64

	// Navigation
	page     Page
	showHelp bool
	paused   bool
	selected int // row in the readings table
	evtSel   int
}

// NewModel creates the TUI over ticker. history and events must already be
// observing the ticker's fleet.
func NewModel(ticker *engine.Ticker, interval time.Duration, history *engine.History, events *engine.EventDetector) Model {
	return Model{
		ticker:   ticker,
		interval: interval,
		history:  history,
		events:   events,
		rateAt:   time.Now(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(m.interval), collectOnce(m.ticker))
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func collectOnce(t *engine.Ticker) tea.Cmd {
	return func() tea.Msg {
		res, err := t.Tick(context.Background())
		return resultMsg{res: res, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		if m.ended {
			return m, nil
		}
		if m.paused {
			return m, tick(m.interval)
		}
		return m, tea.Batch(tick(m.interval), collectOnce(m.ticker))

	case resultMsg:
		if msg.err != nil {
			if errors.Is(msg.err, io.EOF) || errors.Is(msg.err, engine.ErrSourceClosed) {
				m.ended = true
				return m, nil
			}
			m.err = msg.err
			return m, nil
		}
		res := msg.res
		m.res = &res
		m.err = nil
		m.frames++
		now := time.Now()
		if dt := now.Sub(m.rateAt); dt >= time.Second {
			m.fps = util.Rate(m.rateFrames, m.frames, dt)
			m.rateFrames = m.frames
			m.rateAt = now
		}
		if n := len(res.Frame.Readings); m.selected >= n && n > 0 {
			m.selected = n - 1
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		m.showHelp = false
		return m, nil
	}
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "?", "h":
		m.showHelp = true
	case " ", "p":
		m.paused = !m.paused
	case "tab":
		m.page = (m.page + 1) % pageCount
	case "1":
		m.page = PageOverview
	case "2":
		m.page = PageEvents
	case "j", "down":
		if m.page == PageEvents {
			m.evtSel++
		} else if m.res != nil && m.selected < len(m.res.Frame.Readings)-1 {
			m.selected++
		}
	case "k", "up":
		if m.page == PageEvents {
			if m.evtSel > 0 {
				m.evtSel--
			}
		} else if m.selected > 0 {
			m.selected--
		}
	case "n":
		// single step while paused
		if m.paused && !m.ended {
			return m, collectOnce(m.ticker)
		}
	}
	return m, nil
}

// selectedReading returns the highlighted row of the readings table.
func (m Model) selectedReading() (model.ScoredReading, bool) {
	if m.res == nil || m.selected >= len(m.res.Frame.Readings) {
		return model.ScoredReading{}, false
	}
	return m.res.Frame.Readings[m.selected], true
}
