package engine

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftahirops/gentop/model"
)

func TestRecorderPlayerRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf, quietLogger())
	live := NewFleet(nil, quietLogger(), rec)

	ts := time.Unix(1000, 0).UTC()
	frames := []model.Frame{
		frameOf("oil_pressure", 0.8, "fuel_level", 50),
		stableFrame(),
		frameOf("oil_pressure", 3.5, "engine_temp_coolant", 85, "voltage", 27.5, "vibration", 1.2, "fuel_pressure", 3.5, "fuel_level", 49.9),
	}
	var want []model.EnrichedFrame
	for i, f := range frames {
		res := live.Asset("gen-1").AnalyzeAt(f, ts.Add(time.Duration(i)*time.Second))
		want = append(want, res.Frame)
	}
	require.Equal(t, 3, rec.Count())

	player, err := NewPlayer(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, 3, player.Len())
	require.NotNil(t, player.Recorded(0))
	assert.True(t, player.Recorded(0).EmergencyActive)

	var got []model.EnrichedFrame
	n, err := player.Replay(context.Background(), NewFleet(nil, quietLogger()), func(r Result) {
		got = append(got, r.Frame)
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, got, 3)

	for i := range want {
		assert.Equal(t, want[i].Sequence, got[i].Sequence)
		assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp))
		assert.Equal(t, want[i].EmergencyActive, got[i].EmergencyActive, "frame %d", i)
		require.Len(t, got[i].Readings, len(want[i].Readings))
		for j := range want[i].Readings {
			assert.Equal(t, want[i].Readings[j].ID, got[i].Readings[j].ID)
			assert.Equal(t, want[i].Readings[j].Severity, got[i].Readings[j].Severity)
			assert.Equal(t, want[i].Readings[j].RiskProbability, got[i].Readings[j].RiskProbability)
		}
	}

	_, err = player.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestPlayerSkipsMalformedLines(t *testing.T) {
	in := strings.Join([]string{
		`{"asset":"a","ts":"2026-01-01T00:00:00Z","sensors":[{"id":"rpm","value":1500}]}`,
		`not json`,
		``,
		`{"asset":"b","ts":"2026-01-01T00:00:01Z","sensors":[{"id":"voltage","value":27.5}]}`,
	}, "\n")

	player, err := NewPlayer(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 2, player.Len())
	assert.Equal(t, 1, player.Skipped())

	s, err := player.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", s.Asset)
	v, ok := s.Frame().Num("rpm")
	require.True(t, ok)
	assert.Equal(t, 1500.0, v)

	player.Seek(0)
	assert.Equal(t, 0, player.Index())
	player.Seek(99)
	_, err = player.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestPlayerHonoursContext(t *testing.T) {
	player, err := NewPlayer(strings.NewReader(`{"asset":"a","sensors":[]}`))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = player.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
