package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/ftahirops/gentop/collector"
	"github.com/ftahirops/gentop/config"
)

// Version is set at build time via ldflags.
var Version = "0.1.0"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	asset      string
}

// Run parses the command line and executes the selected command.
func Run() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "gentop",
		Short: "Genset telemetry analyzer with latched emergency-stop detection",
		Long: `gentop scores every sensor reading of a generator set, derives
cross-sensor signals (ECU errors, fuel leak, overheat) and latches an
emergency stop with hysteresis. Frames come from the built-in simulator,
key=value line files, recordings, MQTT or HTTP.`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "config file (default "+config.Path()+")")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&g.logFormat, "log-format", "", "log format: text or json")
	pf.StringVar(&g.asset, "asset", "", "asset id for frames that carry none")

	root.AddCommand(
		newRunCmd(g),
		newWatchCmd(g),
		newAnalyzeCmd(g),
		newReplayCmd(g),
		newPublishCmd(g),
		newVersionCmd(),
	)
	return root
}

// load reads the config file and applies the global flag overrides.
func (g *globalFlags) load() (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	if g.asset != "" {
		cfg.Asset = g.asset
	}
	return cfg, cfg.Validate()
}

// newLogger builds the process logger: tint for text, slog JSON otherwise.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	lvl := parseLevel(level)
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	}
	noColor := true
	if f, ok := w.(*os.File); ok {
		if fi, err := f.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
			noColor = false
		}
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: time.TimeOnly,
		NoColor:    noColor,
	}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// sourceOptions maps the source section of cfg onto collector options.
func sourceOptions(cfg config.Config) collector.Options {
	p := cfg.Source.Probabilities
	return collector.Options{
		Kind:        cfg.Source.Kind,
		Asset:       cfg.Asset,
		Profile:     collector.Profile{Name: "custom", Normal: p.Normal, Warning: p.Warning, Critical: p.Critical},
		ProfileName: cfg.Source.Profile,
		Seed:        cfg.Source.Seed,
		Path:        cfg.Source.Path,
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gentop v%s\n", Version)
		},
	}
}
