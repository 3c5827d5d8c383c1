package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftahirops/gentop/model"
)

type sliceSource struct {
	samples []model.Sample
	closed  bool
}

func (s *sliceSource) Next(ctx context.Context) (model.Sample, error) {
	if len(s.samples) == 0 {
		return model.Sample{}, io.EOF
	}
	out := s.samples[0]
	s.samples = s.samples[1:]
	return out, nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

func TestRunDaemonWritesDataDir(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &sliceSource{samples: []model.Sample{
		{Asset: "gen-1", Time: ts, Readings: frameOf("oil_pressure", 0.8).Readings()},
		{Asset: "gen-1", Time: ts.Add(time.Second), Readings: stableFrame().Readings()},
		{Asset: "gen-1", Time: ts.Add(2 * time.Second), Readings: stableFrame().Readings()},
	}}

	err := RunDaemon(context.Background(), DaemonConfig{
		DataDir: dir,
		Fleet:   NewFleet(nil, quietLogger()),
		Source:  src,
		Logger:  quietLogger(),
	})
	require.NoError(t, err)
	assert.True(t, src.closed)

	_, err = os.Stat(filepath.Join(dir, "daemon.pid"))
	assert.True(t, os.IsNotExist(err), "pid file removed on exit")

	f, err := os.Open(filepath.Join(dir, "current.jsonl"))
	require.NoError(t, err)
	defer f.Close()
	var lines []compactSummary
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var s compactSummary
		require.NoError(t, json.Unmarshal(sc.Bytes(), &s))
		lines = append(lines, s)
	}
	require.Len(t, lines, 3)
	assert.True(t, lines[0].Emergency)
	assert.Equal(t, []string{TriggerOilPressure}, lines[0].Triggers)
	assert.False(t, lines[2].Emergency)

	incidents, err := filepath.Glob(filepath.Join(dir, "incidents", "incident-gen-1-*.json"))
	require.NoError(t, err)
	assert.Len(t, incidents, 1)

	events, err := ReadEventLog(filepath.Join(dir, "events.jsonl"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 3, events[0].Frames)
}

func TestRunDaemonRequiresFleet(t *testing.T) {
	err := RunDaemon(context.Background(), DaemonConfig{DataDir: t.TempDir()})
	assert.Error(t, err)
}

func TestRunDaemonPushOnlyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunDaemon(ctx, DaemonConfig{DataDir: t.TempDir(), Fleet: NewFleet(nil, quietLogger()), Logger: quietLogger()})
	}()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}
