package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ftahirops/gentop/collector"
	"github.com/ftahirops/gentop/config"
	"github.com/ftahirops/gentop/mqttbridge"
)

func newPublishCmd(g *globalFlags) *cobra.Command {
	var (
		broker   string
		source   string
		path     string
		profile  string
		interval time.Duration
		count    int
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish frames from a pull source to the MQTT frame topic",
		Long: `Publish reads frames from the simulator, a line file or a recording and
sends each one to the frame topic of its asset. A gentop daemon running
with --source mqtt analyzes them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			fl := cmd.Flags()
			if fl.Changed("broker") {
				cfg.MQTT.Broker = broker
			}
			if fl.Changed("source") {
				cfg.Source.Kind = source
			}
			if fl.Changed("path") {
				cfg.Source.Path = path
			}
			if fl.Changed("profile") {
				cfg.Source.Profile = profile
				cfg.Source.Probabilities = config.ProbabilityConfig{}
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
			logger := newLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			return publishFrames(cmd.Context(), cfg, count, logger)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&broker, "broker", "", "MQTT broker URL")
	fl.StringVar(&source, "source", "", "frame source: simulator, lines or replay")
	fl.StringVar(&path, "path", "", "input file for the lines and replay sources")
	fl.StringVar(&profile, "profile", "", "simulator profile: safe or stress")
	fl.DurationVar(&interval, "interval", 0, "delay between frames")
	fl.IntVarP(&count, "count", "n", 0, "stop after this many frames (0 = until the source ends)")
	return cmd
}

func publishFrames(ctx context.Context, cfg config.Config, count int, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, err := collector.Open(sourceOptions(cfg))
	if err != nil {
		return err
	}
	defer src.Close()

	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = "gentop"
	}
	bridge, err := mqttbridge.Dial(ctx, mqttbridge.Config{
		Broker:       cfg.MQTT.Broker,
		ClientID:     fmt.Sprintf("%s-publish-%d", clientID, os.Getpid()),
		FrameTopic:   cfg.MQTT.FrameTopic,
		QoS:          cfg.MQTT.QoS,
		DefaultAsset: cfg.Asset,
		Logger:       logger,
	}, nil)
	if err != nil {
		return err
	}
	defer bridge.Close()

	pace := time.NewTicker(cfg.Interval())
	defer pace.Stop()

	sent := 0
	for count == 0 || sent < count {
		s, err := src.Next(ctx)
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, collector.ErrSourceClosed):
			logger.Info("source exhausted", "published", sent)
			return nil
		case ctx.Err() != nil:
			return nil
		case err != nil:
			return err
		}
		if err := bridge.PublishSample(ctx, s); err != nil {
			return fmt.Errorf("publish frame: %w", err)
		}
		sent++
		logger.Debug("frame published", "asset", s.Asset, "readings", len(s.Readings))

		select {
		case <-ctx.Done():
			return nil
		case <-pace.C:
		}
	}
	logger.Info("published", "frames", sent)
	return nil
}
