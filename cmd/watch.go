package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ftahirops/gentop/collector"
	"github.com/ftahirops/gentop/engine"
	"github.com/ftahirops/gentop/ui"
)

var errPushSource = errors.New("watch needs a pull source (simulator, lines or replay)")

func newWatchCmd(g *globalFlags) *cobra.Command {
	var (
		source   string
		path     string
		profile  string
		interval time.Duration
		record   string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Interactive terminal dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			fl := cmd.Flags()
			if fl.Changed("source") {
				cfg.Source.Kind = source
			}
			if fl.Changed("path") {
				cfg.Source.Path = path
			}
			if fl.Changed("profile") {
				cfg.Source.Profile = profile
				cfg.Source.Probabilities.Normal = 0
				cfg.Source.Probabilities.Warning = 0
				cfg.Source.Probabilities.Critical = 0
			}
			if fl.Changed("interval") {
				cfg.IntervalSec = interval.Seconds()
			}
			if cfg.Source.Kind == collector.KindMQTT || cfg.Source.Kind == collector.KindHTTP {
				return errPushSource
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			// The dashboard owns the terminal, so logs go to a file.
			if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
			logFile, err := os.OpenFile(filepath.Join(cfg.DataDir, "watch.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer logFile.Close()
			logger := newLogger(logFile, cfg.Log.Level, cfg.Log.Format)

			src, err := collector.Open(sourceOptions(cfg))
			if err != nil {
				return err
			}
			defer src.Close()

			history := engine.NewHistory(cfg.Asset, cfg.HistorySize)
			events := engine.NewEventDetector(nil)
			fleet := engine.NewFleet(nil, logger, history, events)
			if record != "" {
				f, err := os.Create(record)
				if err != nil {
					return fmt.Errorf("create record file: %w", err)
				}
				defer f.Close()
				fleet.AddObserver(engine.NewRecorder(f, logger))
			}

			ticker := engine.NewTicker(src, fleet, cfg.Asset)
			p := tea.NewProgram(ui.NewModel(ticker, cfg.Interval(), history, events), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&source, "source", "", "frame source: simulator, lines or replay")
	fl.StringVar(&path, "path", "", "input file for the lines and replay sources")
	fl.StringVar(&profile, "profile", "", "simulator profile: safe or stress")
	fl.DurationVar(&interval, "interval", 0, "refresh interval")
	fl.StringVar(&record, "record", "", "record every analyzed frame to this file")
	return cmd
}
