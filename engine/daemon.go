package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ftahirops/gentop/model"
)

// ErrSourceClosed is returned by sources that were closed while a caller
// was waiting on them.
var ErrSourceClosed = errors.New("source closed")

// DaemonConfig holds daemon-specific configuration.
type DaemonConfig struct {
	DataDir  string
	Interval time.Duration
	// Asset names samples that arrive without one.
	Asset  string
	Fleet  *Fleet
	Source SampleSource // nil when frames arrive only by push (MQTT, HTTP)
	// Events receives the fleet's results. When nil the daemon opens
	// events.jsonl under DataDir.
	Events *EventDetector
	Logger *slog.Logger
}

// compactSummary is a minimal per-frame record for the rolling log.
type compactSummary struct {
	Timestamp time.Time `json:"ts"`
	Asset     string    `json:"asset"`
	Seq       uint64    `json:"seq"`
	Worst     string    `json:"worst"`
	Warning   int       `json:"warning"`
	Critical  int       `json:"critical"`
	Emergency bool      `json:"emergency"`
	ECUErrors int       `json:"ecu_errors"`
	FuelLeak  bool      `json:"fuel_leak,omitempty"`
	Overheat  bool      `json:"overheat,omitempty"`
	Triggers  []string  `json:"triggers,omitempty"`
}

// RunDaemon runs gentop as a background analyzer, writing the rolling
// summary, emergency episodes and incident snapshots to DataDir. It returns
// when ctx is cancelled, on SIGINT/SIGTERM, or when a finite source is
// exhausted.
func RunDaemon(ctx context.Context, cfg DaemonConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Fleet == nil {
		return errors.New("daemon: no fleet")
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Write PID file
	pidPath := filepath.Join(cfg.DataDir, "daemon.pid")
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0600); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	incidentDir := filepath.Join(cfg.DataDir, "incidents")
	if err := os.MkdirAll(incidentDir, 0700); err != nil {
		logger.Warn("create incident dir", "err", err)
	}

	detector := cfg.Events
	if detector == nil {
		var err error
		if detector, err = OpenEventLog(filepath.Join(cfg.DataDir, "events.jsonl"), logger); err != nil {
			return err
		}
	}
	summaryPath := filepath.Join(cfg.DataDir, "current.jsonl")

	cfg.Fleet.AddObserver(detector)
	cfg.Fleet.AddObserver(ObserverFunc(func(res Result) {
		if res.Transition == TransitionLatched {
			path := filepath.Join(incidentDir, fmt.Sprintf("incident-%s-%s.json",
				res.Asset, res.Frame.Timestamp.Format("2006-01-02T15-04-05")))
			saveIncidentSnapshot(path, res, logger)
			logger.Warn("incident snapshot", "path", path, "asset", res.Asset, "triggers", res.Derived.Triggers)
		}
		writeSummaryLine(summaryPath, summarize(res))
	}))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("gentop daemon started", "pid", os.Getpid(), "interval", cfg.Interval, "datadir", cfg.DataDir)
	defer logger.Info("gentop daemon shutting down")

	if cfg.Source == nil {
		<-ctx.Done()
		return nil
	}
	defer cfg.Source.Close()

	ticker := NewTicker(cfg.Source, cfg.Fleet, cfg.Asset)
	var pace <-chan time.Time
	if cfg.Interval > 0 {
		intervalTicker := time.NewTicker(cfg.Interval)
		defer intervalTicker.Stop()
		pace = intervalTicker.C
	}

	for {
		if pace != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-pace:
			}
		}
		_, err := ticker.Tick(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, ErrSourceClosed):
			logger.Info("source exhausted")
			return nil
		case ctx.Err() != nil:
			return nil
		default:
			logger.Warn("read sample", "err", err)
		}
	}
}

func summarize(res Result) compactSummary {
	counts := res.Frame.Counts()
	return compactSummary{
		Timestamp: res.Frame.Timestamp,
		Asset:     res.Asset,
		Seq:       res.Frame.Sequence,
		Worst:     string(res.Frame.Worst()),
		Warning:   counts[model.SeverityWarning],
		Critical:  counts[model.SeverityCritical],
		Emergency: res.Frame.EmergencyActive,
		ECUErrors: res.Derived.ECUErrors,
		FuelLeak:  res.Derived.FuelLeakConfirmed(),
		Overheat:  res.Derived.Overheat,
		Triggers:  res.Derived.Triggers,
	}
}

// saveIncidentSnapshot writes the frame that latched an emergency stop.
func saveIncidentSnapshot(path string, res Result, logger *slog.Logger) {
	type incidentSnapshot struct {
		Timestamp time.Time             `json:"timestamp"`
		Asset     string                `json:"asset"`
		Seq       uint64                `json:"seq"`
		Triggers  []string              `json:"triggers"`
		ECUErrors int                   `json:"ecu_errors"`
		FuelLeak  bool                  `json:"fuel_leak"`
		Overheat  bool                  `json:"overheat"`
		Sensors   []model.ScoredReading `json:"sensors"`
	}

	is := incidentSnapshot{
		Timestamp: res.Frame.Timestamp,
		Asset:     res.Asset,
		Seq:       res.Frame.Sequence,
		Triggers:  res.Derived.Triggers,
		ECUErrors: res.Derived.ECUErrors,
		FuelLeak:  res.Derived.FuelLeakConfirmed(),
		Overheat:  res.Derived.Overheat,
		Sensors:   res.Frame.Readings,
	}

	data, err := json.MarshalIndent(is, "", "  ")
	if err != nil {
		logger.Error("marshal incident snapshot", "err", err)
		return
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		logger.Error("write incident snapshot", "err", err)
	}
}

// writeSummaryLine appends a compact JSON line to the summary file.
// Rotates at 10MB.
func writeSummaryLine(path string, s compactSummary) {
	// Check file size for rotation
	if info, err := os.Stat(path); err == nil && info.Size() > 10*1024*1024 {
		// Rotate: rename to .old, start fresh
		_ = os.Rename(path, path+".old")
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_ = json.NewEncoder(f).Encode(s)
}
