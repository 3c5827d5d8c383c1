package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ftahirops/gentop/model"
)

// maxCompleted bounds the closed episodes kept in memory per detector.
const maxCompleted = 256

// EventDetector turns latch transitions into emergency-stop episodes: an
// episode opens when an asset latches and closes when it clears.
type EventDetector struct {
	mu sync.Mutex

	active    map[string]*model.EmergencyEvent
	completed []model.EmergencyEvent

	onClose func(model.EmergencyEvent)
}

// NewEventDetector creates a detector. onClose, if set, is called with
// every closed episode, outside the detector lock.
func NewEventDetector(onClose func(model.EmergencyEvent)) *EventDetector {
	return &EventDetector{
		active:  make(map[string]*model.EmergencyEvent),
		onClose: onClose,
	}
}

// Observe implements Observer.
func (d *EventDetector) Observe(res Result) {
	closed, ok := d.process(res)
	if ok && d.onClose != nil {
		d.onClose(closed)
	}
}

func (d *EventDetector) process(res Result) (model.EmergencyEvent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := res.Frame.Timestamp
	ev := d.active[res.Asset]

	switch {
	case res.Transition == TransitionLatched:
		ev = &model.EmergencyEvent{
			ID:        uuid.NewString(),
			Asset:     res.Asset,
			StartTime: now,
			Active:    true,
		}
		d.active[res.Asset] = ev
		ev.Timeline = append(ev.Timeline, model.TimelineEntry{
			Time:    now,
			Message: "latched: " + strings.Join(res.Derived.Triggers, ", "),
		})
	case ev == nil:
		return model.EmergencyEvent{}, false
	}

	ev.Frames++
	if n := res.Frame.Counts()[model.SeverityCritical]; n > ev.PeakCritical {
		ev.PeakCritical = n
	}
	for _, tr := range res.Derived.Triggers {
		if !contains(ev.Triggers, tr) {
			ev.Triggers = append(ev.Triggers, tr)
			if res.Transition != TransitionLatched {
				ev.Timeline = append(ev.Timeline, model.TimelineEntry{Time: now, Message: "new trigger: " + tr})
			}
		}
	}

	if res.Transition != TransitionCleared {
		return model.EmergencyEvent{}, false
	}

	ev.Active = false
	ev.EndTime = now
	ev.Duration = int(now.Sub(ev.StartTime).Seconds())
	ev.Timeline = append(ev.Timeline, model.TimelineEntry{Time: now, Message: "cleared"})
	delete(d.active, res.Asset)
	d.completed = append(d.completed, *ev)
	if len(d.completed) > maxCompleted {
		d.completed = d.completed[len(d.completed)-maxCompleted:]
	}
	return *ev, true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ActiveEvent returns a copy of the open episode for asset, or nil.
func (d *EventDetector) ActiveEvent(asset string) *model.EmergencyEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	ev, ok := d.active[asset]
	if !ok {
		return nil
	}
	cpy := *ev
	return &cpy
}

// Events returns completed episodes in reverse chronological order.
func (d *EventDetector) Events() []model.EmergencyEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.EmergencyEvent, len(d.completed))
	for i, e := range d.completed {
		out[len(d.completed)-1-i] = e
	}
	return out
}

// AllEvents returns open episodes (any asset) followed by completed ones,
// newest first.
func (d *EventDetector) AllEvents() (active []model.EmergencyEvent, completed []model.EmergencyEvent) {
	d.mu.Lock()
	for _, ev := range d.active {
		active = append(active, *ev)
	}
	d.mu.Unlock()
	return active, d.Events()
}

// LoadEvents adds externally loaded episodes (e.g., from the event log).
func (d *EventDetector) LoadEvents(events []model.EmergencyEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.completed = append(append([]model.EmergencyEvent(nil), events...), d.completed...)
	if len(d.completed) > maxCompleted {
		d.completed = d.completed[len(d.completed)-maxCompleted:]
	}
}

// EventLogWriter appends episodes to a JSONL file.
type EventLogWriter struct {
	path string
	mu   sync.Mutex
}

// NewEventLogWriter creates a writer for the given path.
func NewEventLogWriter(path string) *EventLogWriter {
	return &EventLogWriter{path: path}
}

// Write appends an episode to the log file.
func (w *EventLogWriter) Write(e model.EmergencyEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(e)
}

// ReadEventLog reads all episodes from a JSONL file. A missing file is not
// an error.
func ReadEventLog(path string) ([]model.EmergencyEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []model.EmergencyEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB line limit
	for scanner.Scan() {
		var e model.EmergencyEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue // skip malformed lines
		}
		events = append(events, e)
	}
	return events, scanner.Err()
}

// OpenEventLog creates a detector backed by the JSONL log at path: past
// episodes are loaded and every newly closed one is appended.
func OpenEventLog(path string, logger *slog.Logger) (*EventDetector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	past, err := ReadEventLog(path)
	if err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	w := NewEventLogWriter(path)
	d := NewEventDetector(func(evt model.EmergencyEvent) {
		if err := w.Write(evt); err != nil {
			logger.Error("write event", "err", err)
			return
		}
		logger.Info("emergency episode closed", "id", evt.ID, "asset", evt.Asset,
			"duration_sec", evt.Duration, "triggers", evt.Triggers)
	})
	d.LoadEvents(past)
	return d, nil
}
