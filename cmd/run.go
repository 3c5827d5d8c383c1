package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ftahirops/gentop/collector"
	"github.com/ftahirops/gentop/config"
	"github.com/ftahirops/gentop/engine"
	"github.com/ftahirops/gentop/mqttbridge"
	"github.com/ftahirops/gentop/server"
)

type runFlags struct {
	source   string
	path     string
	profile  string
	seed     uint64
	interval time.Duration
	dataDir  string
	record   string
	mqtt     string
	http     string
	metrics  string
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the analyzer daemon",
		Long: `Run analyzes frames from the configured source and publishes every
result to the enabled sinks: MQTT, the HTTP/WebSocket API, Prometheus
metrics and a recording file. The rolling summary, closed emergency
episodes and incident snapshots are written under the data directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			f.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			slog.SetDefault(logger)
			return runDaemon(cmd.Context(), cfg, logger)
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func (f *runFlags) register(fl *pflag.FlagSet) {
	fl.StringVar(&f.source, "source", "", "frame source: simulator, lines, replay, mqtt, http")
	fl.StringVar(&f.path, "path", "", "input file for the lines and replay sources (- for stdin)")
	fl.StringVar(&f.profile, "profile", "", "simulator profile: safe or stress")
	fl.Uint64Var(&f.seed, "seed", 0, "simulator seed")
	fl.DurationVar(&f.interval, "interval", 0, "sampling interval for pull sources")
	fl.StringVar(&f.dataDir, "datadir", "", "data directory")
	fl.StringVar(&f.record, "record", "", "record every analyzed frame to this file")
	fl.StringVar(&f.mqtt, "mqtt", "", "enable MQTT with this broker URL")
	fl.StringVar(&f.http, "http", "", "enable the HTTP API on this address")
	fl.StringVar(&f.metrics, "metrics", "", "serve Prometheus metrics on this address")
}

// apply copies explicitly set flags over cfg.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	fl := cmd.Flags()
	if fl.Changed("source") {
		cfg.Source.Kind = f.source
	}
	if fl.Changed("path") {
		cfg.Source.Path = f.path
	}
	if fl.Changed("profile") {
		cfg.Source.Profile = f.profile
		cfg.Source.Probabilities = config.ProbabilityConfig{}
	}
	if fl.Changed("seed") {
		cfg.Source.Seed = f.seed
	}
	if fl.Changed("interval") {
		cfg.IntervalSec = f.interval.Seconds()
	}
	if fl.Changed("datadir") {
		cfg.DataDir = f.dataDir
	}
	if fl.Changed("record") {
		cfg.Record.Path = f.record
	}
	if fl.Changed("mqtt") {
		cfg.MQTT.Enabled = true
		cfg.MQTT.Broker = f.mqtt
	}
	if fl.Changed("http") {
		cfg.HTTP.Enabled = true
		cfg.HTTP.Addr = f.http
	}
	if fl.Changed("metrics") {
		cfg.Prometheus.Enabled = true
		cfg.Prometheus.Addr = f.metrics
	}
}

// runDaemon wires the source, the fleet and every enabled sink, then runs
// until the source ends or the process is signalled.
func runDaemon(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	events, err := engine.OpenEventLog(filepath.Join(cfg.DataDir, "events.jsonl"), logger)
	if err != nil {
		return err
	}
	src, err := collector.Open(sourceOptions(cfg))
	if err != nil {
		return err
	}
	if src != nil {
		defer src.Close()
	}
	metrics := engine.NewMetricsStore()
	fleet := engine.NewFleet(nil, logger, metrics)

	if cfg.Record.Path != "" {
		f, err := os.Create(cfg.Record.Path)
		if err != nil {
			return fmt.Errorf("create record file: %w", err)
		}
		defer f.Close()
		fleet.AddObserver(engine.NewRecorder(f, logger))
		logger.Info("recording frames", "path", cfg.Record.Path)
	}

	// The first sink failure cancels the group and stops the daemon; the
	// daemon ending stops the sinks.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	if cfg.MQTT.Enabled {
		var sub *engine.Fleet
		if cfg.Source.Kind == collector.KindMQTT {
			sub = fleet
		}
		bridge, err := mqttbridge.Dial(ctx, mqttbridge.Config{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			FrameTopic:     cfg.MQTT.FrameTopic,
			ResultTopic:    cfg.MQTT.ResultTopic,
			EmergencyTopic: cfg.MQTT.EmergencyTopic,
			QoS:            cfg.MQTT.QoS,
			DefaultAsset:   cfg.Asset,
			Logger:         logger.With("component", "mqtt"),
		}, sub)
		if err != nil {
			return err
		}
		defer bridge.Close()
		fleet.AddObserver(bridge)
	}

	if cfg.HTTP.Enabled {
		hub := server.NewHub(logger.With("component", "ws"))
		eg.Go(func() error {
			hub.Run(ctx)
			return nil
		})
		fleet.AddObserver(hub)
		srv := server.New(server.Options{
			Fleet:        fleet,
			Metrics:      metrics,
			Events:       events,
			Hub:          hub,
			APIKeys:      cfg.HTTP.APIKeys,
			DefaultAsset: cfg.Asset,
			Logger:       logger.With("component", "http"),
			Simulator:    simulatorFor(cfg),
		})
		eg.Go(func() error {
			return server.ListenAndServe(ctx, cfg.HTTP.Addr, srv.Handler(), logger)
		})
	}

	if cfg.Prometheus.Enabled {
		eg.Go(func() error {
			if err := server.ListenAndServe(ctx, cfg.Prometheus.Addr, metrics.Handler(), logger); err != nil {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
	}

	eg.Go(func() error {
		defer cancel()
		return engine.RunDaemon(ctx, engine.DaemonConfig{
			DataDir:  cfg.DataDir,
			Interval: cfg.Interval(),
			Asset:    cfg.Asset,
			Fleet:    fleet,
			Source:   src,
			Events:   events,
			Logger:   logger,
		})
	})
	return eg.Wait()
}

// simulatorFor builds the simulator behind GET /simulate from the source
// settings; an unknown profile falls back to safe.
func simulatorFor(cfg config.Config) *collector.Simulator {
	p, err := collector.ProfileByName(cfg.Source.Profile)
	if err != nil {
		p = collector.ProfileSafe
	}
	return collector.NewSimulator(cfg.Asset, p, cfg.Source.Seed)
}
