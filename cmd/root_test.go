package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftahirops/gentop/config"
	"github.com/ftahirops/gentop/engine"
	"github.com/ftahirops/gentop/model"
)

// isolate points the config and state directories at a temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	return dir
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.Execute()
	return out.String(), err
}

func decodeFrames(t *testing.T, out string) []model.EnrichedFrame {
	t.Helper()
	var frames []model.EnrichedFrame
	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	for sc.Scan() {
		var f model.EnrichedFrame
		require.NoError(t, json.Unmarshal(sc.Bytes(), &f))
		frames = append(frames, f)
	}
	return frames
}

func TestVersion(t *testing.T) {
	isolate(t)
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "gentop v"+Version+"\n", out)
}

func TestAnalyzeJSONLines(t *testing.T) {
	isolate(t)
	in := `{"asset":"gen-1","sensors":[{"id":"oil_pressure","value":0.8},{"id":"rpm","value":1500}]}
{"asset":"gen-1","sensors":[{"id":"oil_pressure","value":3.5},{"id":"rpm","value":1500}]}
`
	out, err := execute(t, in, "analyze")
	require.NoError(t, err)
	frames := decodeFrames(t, out)
	require.Len(t, frames, 2)
	assert.Equal(t, uint64(1), frames[0].Sequence)
	assert.True(t, frames[0].EmergencyActive)
	assert.Equal(t, uint64(2), frames[1].Sequence)
	assert.True(t, frames[1].EmergencyActive, "one clean frame does not clear the latch")
}

func TestAnalyzeSingleDocumentUsesDefaultAsset(t *testing.T) {
	isolate(t)
	in := "{\n  \"coolant_temp\": 85,\n  \"rpm\": 1500\n}\n"
	out, err := execute(t, in, "analyze", "--asset", "gen-x")
	require.NoError(t, err)
	frames := decodeFrames(t, out)
	require.Len(t, frames, 1)
	assert.Equal(t, "gen-x", frames[0].Asset)
	_, ok := frames[0].Get(model.SensorCoolantTemp)
	assert.True(t, ok)
}

func TestAnalyzeLinesFormat(t *testing.T) {
	isolate(t)
	in := "asset=gen-7\nrpm=1500\nvoltage=27\n---\nasset=gen-7\nvoltage=35\n"
	out, err := execute(t, in, "analyze", "--format", "lines")
	require.NoError(t, err)
	frames := decodeFrames(t, out)
	require.Len(t, frames, 2)
	assert.Equal(t, "gen-7", frames[1].Asset)
	assert.False(t, frames[0].EmergencyActive)
	assert.True(t, frames[1].EmergencyActive)
}

func TestAnalyzeRejectsGarbage(t *testing.T) {
	isolate(t)
	_, err := execute(t, "not json\n", "analyze")
	assert.Error(t, err)

	_, err = execute(t, "{}", "analyze", "--format", "xml")
	assert.Error(t, err)
}

func writeRecording(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	fleet := engine.NewFleet(nil, slog.Default(), engine.NewRecorder(f, nil))
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	frames := [][]model.Reading{
		{{ID: "rpm", Value: model.Num(1500)}, {ID: "vibration", Value: model.Num(7)}},
		{{ID: "rpm", Value: model.Num(1500)}, {ID: "vibration", Value: model.Num(1.2)}},
		{{ID: "rpm", Value: model.Num(1500)}, {ID: "vibration", Value: model.Num(1.2)}},
	}
	for i, rs := range frames {
		fleet.Asset("gen-1").AnalyzeAt(model.NewFrame(rs), ts.Add(time.Duration(i)*time.Second))
	}
}

func TestReplayVerify(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "rec.jsonl")
	writeRecording(t, path)

	out, err := execute(t, "", "replay", path, "--verify")
	require.NoError(t, err)
	frames := decodeFrames(t, out)
	require.Len(t, frames, 3)
	assert.True(t, frames[0].EmergencyActive)
	assert.False(t, frames[2].EmergencyActive)

	out, err = execute(t, "", "replay", path, "-q")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRunDaemonFromRecording(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "rec.jsonl")
	writeRecording(t, path)

	cfg := config.Default()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.IntervalSec = 0.001
	cfg.Source.Kind = "replay"
	cfg.Source.Path = path
	cfg.Record.Path = filepath.Join(dir, "again.jsonl")
	require.NoError(t, cfg.Validate())

	require.NoError(t, runDaemon(context.Background(), cfg, slog.Default()))

	events, err := engine.ReadEventLog(filepath.Join(cfg.DataDir, "events.jsonl"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []string{engine.TriggerVibration}, events[0].Triggers)

	// The daemon's own recording replays to the same output.
	_, err = execute(t, "", "replay", cfg.Record.Path, "--verify", "-q")
	assert.NoError(t, err)
}

func TestRunFlagsOverrideConfig(t *testing.T) {
	f := &runFlags{}
	cmd := &cobra.Command{Use: "run"}
	f.register(cmd.Flags())
	require.NoError(t, cmd.ParseFlags([]string{"--source", "lines", "--path", "-", "--http", ":0", "--interval", "250ms"}))

	cfg := config.Default()
	f.apply(cmd, &cfg)
	assert.Equal(t, "lines", cfg.Source.Kind)
	assert.Equal(t, "-", cfg.Source.Path)
	assert.True(t, cfg.HTTP.Enabled)
	assert.Equal(t, ":0", cfg.HTTP.Addr)
	assert.Equal(t, 0.25, cfg.IntervalSec)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, "safe", cfg.Source.Profile, "unset flags leave the config alone")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestSourceOptions(t *testing.T) {
	cfg := config.Default()
	opts := sourceOptions(cfg)
	assert.Equal(t, "simulator", opts.Kind)
	assert.Equal(t, "safe", opts.ProfileName)
	assert.Zero(t, opts.Profile.Normal+opts.Profile.Warning+opts.Profile.Critical)

	cfg.Source.Probabilities = config.ProbabilityConfig{Normal: 1}
	assert.Equal(t, 1.0, sourceOptions(cfg).Profile.Normal)
}
