package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config holds user-configurable defaults and integrations.
type Config struct {
	Asset       string           `json:"asset" mapstructure:"asset"`
	IntervalSec float64          `json:"interval_sec" mapstructure:"interval_sec"`
	HistorySize int              `json:"history_size" mapstructure:"history_size"`
	DataDir     string           `json:"data_dir" mapstructure:"data_dir"`
	Log         LogConfig        `json:"log" mapstructure:"log"`
	Source      SourceConfig     `json:"source" mapstructure:"source"`
	MQTT        MQTTConfig       `json:"mqtt" mapstructure:"mqtt"`
	HTTP        HTTPConfig       `json:"http" mapstructure:"http"`
	Prometheus  PrometheusConfig `json:"prometheus" mapstructure:"prometheus"`
	Record      RecordConfig     `json:"record" mapstructure:"record"`
}

type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"` // text or json
}

// SourceConfig selects where frames come from.
type SourceConfig struct {
	Kind    string `json:"kind" mapstructure:"kind"` // simulator, lines, replay, mqtt, http
	Profile string `json:"profile" mapstructure:"profile"`
	Seed    uint64 `json:"seed" mapstructure:"seed"`
	Path    string `json:"path" mapstructure:"path"`
	// Probabilities overrides the named profile when any field is set.
	Probabilities ProbabilityConfig `json:"probabilities" mapstructure:"probabilities"`
}

type ProbabilityConfig struct {
	Normal   float64 `json:"normal" mapstructure:"normal"`
	Warning  float64 `json:"warning" mapstructure:"warning"`
	Critical float64 `json:"critical" mapstructure:"critical"`
}

type MQTTConfig struct {
	Enabled        bool   `json:"enabled" mapstructure:"enabled"`
	Broker         string `json:"broker" mapstructure:"broker"`
	ClientID       string `json:"client_id" mapstructure:"client_id"`
	FrameTopic     string `json:"frame_topic" mapstructure:"frame_topic"`
	ResultTopic    string `json:"result_topic" mapstructure:"result_topic"`
	EmergencyTopic string `json:"emergency_topic" mapstructure:"emergency_topic"`
	QoS            byte   `json:"qos" mapstructure:"qos"`
}

type HTTPConfig struct {
	Enabled bool     `json:"enabled" mapstructure:"enabled"`
	Addr    string   `json:"addr" mapstructure:"addr"`
	APIKeys []string `json:"api_keys" mapstructure:"api_keys"`
}

type PrometheusConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

type RecordConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// Default returns a config with sensible defaults.
func Default() Config {
	return Config{
		Asset:       "genset-1",
		IntervalSec: 1,
		HistorySize: 300,
		DataDir:     defaultDataDir(),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Source: SourceConfig{
			Kind:    "simulator",
			Profile: "safe",
			Seed:    1,
		},
		MQTT: MQTTConfig{
			Broker:         "tcp://127.0.0.1:1883",
			ClientID:       "gentop",
			FrameTopic:     "gentop/+/frames",
			ResultTopic:    "gentop/%s/analysis",
			EmergencyTopic: "gentop/%s/emergency",
			QoS:            1,
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:8088",
		},
		Prometheus: PrometheusConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9108",
		},
	}
}

// Interval returns the sampling interval.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalSec * float64(time.Second))
}

// Path returns ~/.config/gentop/config.json (or XDG_CONFIG_HOME).
// Returns empty string if home directory cannot be determined.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "gentop", "config.json")
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "gentop")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "gentop-data"
	}
	return filepath.Join(home, ".local", "state", "gentop")
}

// Load reads the config at path, or at Path() when path is empty, layered
// over Default() and GENTOP_* environment variables. A missing file at the
// default location is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix("GENTOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = Path()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("asset", d.Asset)
	v.SetDefault("interval_sec", d.IntervalSec)
	v.SetDefault("history_size", d.HistorySize)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("source.kind", d.Source.Kind)
	v.SetDefault("source.profile", d.Source.Profile)
	v.SetDefault("source.seed", d.Source.Seed)
	v.SetDefault("source.path", d.Source.Path)
	v.SetDefault("source.probabilities.normal", d.Source.Probabilities.Normal)
	v.SetDefault("source.probabilities.warning", d.Source.Probabilities.Warning)
	v.SetDefault("source.probabilities.critical", d.Source.Probabilities.Critical)
	v.SetDefault("mqtt.enabled", d.MQTT.Enabled)
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.frame_topic", d.MQTT.FrameTopic)
	v.SetDefault("mqtt.result_topic", d.MQTT.ResultTopic)
	v.SetDefault("mqtt.emergency_topic", d.MQTT.EmergencyTopic)
	v.SetDefault("mqtt.qos", d.MQTT.QoS)
	v.SetDefault("http.enabled", d.HTTP.Enabled)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.api_keys", d.HTTP.APIKeys)
	v.SetDefault("prometheus.enabled", d.Prometheus.Enabled)
	v.SetDefault("prometheus.addr", d.Prometheus.Addr)
	v.SetDefault("record.path", d.Record.Path)
}

// Validate checks the config for values the daemon cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Asset) == "" {
		errs = append(errs, errors.New("asset is empty"))
	}
	if c.IntervalSec <= 0 {
		errs = append(errs, fmt.Errorf("interval_sec must be positive, got %v", c.IntervalSec))
	}
	if c.HistorySize <= 0 {
		errs = append(errs, fmt.Errorf("history_size must be positive, got %d", c.HistorySize))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q", c.Log.Format))
	}
	switch c.Source.Kind {
	case "simulator", "lines", "replay", "http":
	case "mqtt":
		if !c.MQTT.Enabled {
			errs = append(errs, errors.New("source.kind mqtt needs mqtt.enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("source.kind %q", c.Source.Kind))
	}
	if c.Source.Kind == "replay" && c.Source.Path == "" {
		errs = append(errs, errors.New("source.kind replay needs source.path"))
	}
	if c.Source.Kind == "http" && !c.HTTP.Enabled {
		errs = append(errs, errors.New("source.kind http needs http.enabled"))
	}
	p := c.Source.Probabilities
	if p.Normal < 0 || p.Warning < 0 || p.Critical < 0 {
		errs = append(errs, errors.New("source.probabilities must not be negative"))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is empty"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos %d", c.MQTT.QoS))
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is empty"))
	}
	if c.Prometheus.Enabled && c.Prometheus.Addr == "" {
		errs = append(errs, errors.New("prometheus.addr is empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Save writes the config to path, or to Path() when path is empty.
func Save(cfg Config, path string) error {
	if path == "" {
		path = Path()
	}
	if path == "" {
		return fmt.Errorf("cannot determine config directory")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
