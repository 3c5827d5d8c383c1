package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ftahirops/gentop/collector"
	"github.com/ftahirops/gentop/engine"
	"github.com/ftahirops/gentop/model"
)

func newAnalyzeCmd(g *globalFlags) *cobra.Command {
	var (
		format string
		pretty bool
	)
	cmd := &cobra.Command{
		Use:   "analyze [FILE...]",
		Short: "Analyze frames from files or stdin and print the enriched frames",
		Long: `Analyze reads frames and writes one enriched frame per input frame as JSON.
Frames of the same asset are analyzed in order, so state carries from one
frame to the next. With no FILE, or when FILE is -, read stdin.

Formats:
  json   a single JSON document, or JSON lines (reading arrays, envelopes
         or flat sensor maps)
  lines  key=value blocks separated by blank lines or ---`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			fleet := engine.NewFleet(nil, logger)

			enc := json.NewEncoder(cmd.OutOrStdout())
			if pretty {
				enc.SetIndent("", "  ")
			}
			emit := func(s model.Sample) error {
				asset := s.Asset
				if asset == "" {
					asset = cfg.Asset
				}
				ts := s.Time
				if ts.IsZero() {
					ts = time.Now()
				}
				res := fleet.Asset(asset).AnalyzeAt(s.Frame(), ts)
				for _, f := range res.Faults {
					logger.Warn("reading replaced by safe default", "asset", asset, "sensor", f.Sensor, "err", f.Err)
				}
				return enc.Encode(res.Frame)
			}

			if len(args) == 0 {
				args = []string{"-"}
			}
			for _, name := range args {
				if err := analyzeInput(cmd, name, format, cfg.Asset, emit); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "input format: json or lines")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent the JSON output")
	return cmd
}

func analyzeInput(cmd *cobra.Command, name, format, asset string, emit func(model.Sample) error) error {
	var r io.Reader = cmd.InOrStdin()
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return fmt.Errorf("open %s: %w", name, err)
		}
		defer f.Close()
		r = f
	}

	switch format {
	case "lines":
		src := collector.NewLineSource(r, asset)
		for {
			s, err := src.Next(context.Background())
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			if err := emit(s); err != nil {
				return err
			}
		}
	case "json":
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		samples, err := decodeSamples(data)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		for _, s := range samples {
			if err := emit(s); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown format %q", format)
}

// decodeSamples accepts one JSON document or JSON lines.
func decodeSamples(data []byte) ([]model.Sample, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	if s, err := collector.DecodeSample(data); err == nil {
		return []model.Sample{s}, nil
	}
	var out []model.Sample
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	for n := 1; sc.Scan(); n++ {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		s, err := collector.DecodeSample(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		out = append(out, s)
	}
	return out, sc.Err()
}
