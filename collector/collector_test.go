package collector

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftahirops/gentop/engine"
	"github.com/ftahirops/gentop/model"
)

func TestMapFlat(t *testing.T) {
	readings := MapFlat(map[string]any{
		"coolant_temp": 85.5,
		"rpm":          1500,
		"fuel_leak":    false,
		"bogus":        1,
	})
	require.Len(t, readings, 3)

	assert.Equal(t, model.SensorRPM, readings[0].ID)
	assert.Equal(t, "RPM", readings[0].Type)
	assert.Equal(t, model.SensorCoolantTemp, readings[1].ID)
	assert.Equal(t, "temperature_coolant", readings[1].Type)
	require.NotNil(t, readings[1].Max)
	assert.Equal(t, 120.0, *readings[1].Max)
	v, ok := readings[1].Value.Float()
	assert.True(t, ok)
	assert.Equal(t, 85.5, v)

	b, ok := readings[2].Value.Boolean()
	assert.True(t, ok)
	assert.False(t, b)
	assert.Nil(t, readings[2].Min)
}

func TestLookup(t *testing.T) {
	m, ok := Lookup("coolant_temp")
	require.True(t, ok)
	assert.Equal(t, model.SensorCoolantTemp, m.ID)

	m, ok = Lookup(model.SensorCoolantTemp)
	require.True(t, ok)
	assert.Equal(t, "temperature_coolant", m.Type)

	_, ok = Lookup("nope")
	assert.False(t, ok)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		ids     []string
		asset   string
	}{
		{
			name:    "array",
			payload: `[{"id":"rpm","value":1500},{"id":"oil_pressure","value":3.2,"unit":"bar"}]`,
			ids:     []string{"rpm", "oil_pressure"},
		},
		{
			name:    "envelope",
			payload: `{"asset":"gen-7","sensors":[{"id":"voltage","value":27.5}]}`,
			ids:     []string{"voltage"},
			asset:   "gen-7",
		},
		{
			name:    "flat",
			payload: ` {"asset":"gen-2","coolant_temp":90,"oil_pressure":3.1,"fuel_leak":true} `,
			ids:     []string{"engine_temp_coolant", "oil_pressure", "fuel_leak"},
			asset:   "gen-2",
		},
		{
			name:    "envelope with empty sensors falls back to flat",
			payload: `{"sensors":null,"rpm":900}`,
			ids:     []string{"rpm"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := DecodeSample([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.asset, s.Asset)
			var ids []string
			for _, r := range s.Readings {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.ids, ids)
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	for _, payload := range []string{"", "   ", "42", `"rpm"`, `[{"id":`, `{"sensors":[1,2]}`} {
		_, err := Decode([]byte(payload))
		assert.ErrorIs(t, err, ErrUndecodable, "payload %q", payload)
	}
}

func TestDecodeKeepsGoodReadings(t *testing.T) {
	payloads := []string{
		`[{"id":"rpm","value":1500},{"id":"exhaust","value":0.5,"min":"0"}]`,
		`[{"id":"rpm","value":1500},{"id":"vibration","value":1e400}]`,
		`[{"id":"rpm","value":1500},{"id":42,"value":"stuck"},7]`,
		`{"asset":5,"ts":"yesterday","sensors":[{"id":"rpm","value":1500},{"id":"aux_temp","value":0.5,"max":{}}]}`,
	}
	a := engine.NewAnalyzer(nil)
	for _, payload := range payloads {
		readings, err := Decode([]byte(payload))
		require.NoError(t, err, payload)
		require.Len(t, readings, 2, payload)

		out, _ := a.Process(model.NewFrame(readings), model.AnalyzerState{})
		rpm, ok := out.Get(model.SensorRPM)
		require.True(t, ok, payload)
		assert.Equal(t, model.SeverityNormal, rpm.Severity, payload)
		assert.Equal(t, 0.1, rpm.RiskProbability, payload)

		bad, ok := out.Get(readings[1].ID)
		require.True(t, ok, payload)
		assert.Equal(t, model.SeverityNormal, bad.Severity, payload)
		assert.Equal(t, 0.1, bad.RiskProbability, payload)
	}
}

func TestDecodeFlatNumbersAreNumeric(t *testing.T) {
	readings, err := Decode([]byte(`{"rpm":1500,"ecu_errors":2}`))
	require.NoError(t, err)
	for _, r := range readings {
		_, ok := r.Value.Float()
		assert.True(t, ok, r.ID)
	}
}

func TestSimulatorDeterministic(t *testing.T) {
	a := NewSimulator("gen-1", ProfileSafe, 42)
	b := NewSimulator("gen-1", ProfileSafe, 42)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Step(), b.Step())
	}

	c := NewSimulator("gen-1", ProfileSafe, 43)
	assert.NotEqual(t, NewSimulator("gen-1", ProfileSafe, 42).Step(), c.Step())
}

func TestSimulatorFrameShape(t *testing.T) {
	sim := NewSimulator("gen-1", ProfileStress, 7)
	for i := 0; i < 200; i++ {
		f := model.NewFrame(sim.Step())
		require.Equal(t, 15, f.Len())

		rpm, ok := f.Num(model.SensorRPM)
		require.True(t, ok)
		assert.GreaterOrEqual(t, rpm, 0.0)
		assert.LessOrEqual(t, rpm, 3000.0)

		ct, _ := f.Num(model.SensorCoolantTemp)
		assert.GreaterOrEqual(t, ct, 20.0)
		assert.LessOrEqual(t, ct, 120.0)

		lvl, _ := f.Num(model.SensorFuelLevel)
		assert.GreaterOrEqual(t, lvl, 0.0)
		assert.LessOrEqual(t, lvl, 80.0)
	}
}

func TestSimulatorFeedsAnalyzer(t *testing.T) {
	sim := NewSimulator("gen-1", ProfileSafe, 1)
	a := engine.NewAnalyzer(nil)
	var st model.AnalyzerState
	for i := 0; i < 50; i++ {
		out, next := a.Process(model.NewFrame(sim.Step()), st)
		for _, id := range model.DerivedSensors {
			_, ok := out.Get(id)
			assert.True(t, ok, id)
		}
		st = next
	}
}

func TestSimulatorSource(t *testing.T) {
	sim := NewSimulator("gen-9", ProfileSafe, 3)
	s, err := sim.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gen-9", s.Asset)
	assert.False(t, s.Time.IsZero())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sim.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, sim.Close())
	_, err = sim.Next(context.Background())
	assert.ErrorIs(t, err, ErrSourceClosed)
}

func TestProfileByName(t *testing.T) {
	p, err := ProfileByName("STRESS")
	require.NoError(t, err)
	assert.Equal(t, ProfileStress, p)

	p, err = ProfileByName("")
	require.NoError(t, err)
	assert.Equal(t, ProfileSafe, p)

	_, err = ProfileByName("chaos")
	assert.ErrorIs(t, err, ErrUnknownProfile)
}

func TestProfileNormalized(t *testing.T) {
	p := Profile{Normal: 2, Warning: 1, Critical: 1}.normalized()
	assert.InDelta(t, 0.5, p.Normal, 1e-9)
	assert.InDelta(t, 0.25, p.Critical, 1e-9)

	zero := Profile{}.normalized()
	assert.Zero(t, zero.Normal)
}

func TestLineSource(t *testing.T) {
	input := `
# first dump
rpm: 1500
coolant_temp: 85.5 °C
fuel_leak: no
---
asset = gen-3
oil_pressure 0.8
custom_probe: ok

`
	ls := NewLineSource(strings.NewReader(input), "gen-1")
	ctx := context.Background()

	s, err := ls.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gen-1", s.Asset)
	f := s.Frame()
	assert.Equal(t, []string{"rpm", "engine_temp_coolant", "fuel_leak"}, f.IDs())
	ct, ok := f.Num(model.SensorCoolantTemp)
	require.True(t, ok)
	assert.Equal(t, 85.5, ct)
	leak, _ := f.Get(model.SensorFuelLeak)
	b, ok := leak.Value.Boolean()
	assert.True(t, ok)
	assert.False(t, b)

	s, err = ls.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gen-3", s.Asset)
	assert.Equal(t, []string{"oil_pressure", "custom_probe"}, s.Frame().IDs())
	probe, _ := s.Frame().Get("custom_probe")
	assert.Equal(t, model.KindString, probe.Value.Kind())

	_, err = ls.Next(ctx)
	assert.True(t, errors.Is(err, io.EOF))

	require.NoError(t, ls.Close())
	_, err = ls.Next(ctx)
	assert.ErrorIs(t, err, ErrSourceClosed)
}

func TestOpen(t *testing.T) {
	src, err := Open(Options{Kind: KindSimulator, Asset: "gen-1", ProfileName: "stress", Seed: 1})
	require.NoError(t, err)
	sim, ok := src.(*Simulator)
	require.True(t, ok)
	assert.Equal(t, "stress", sim.Profile().Name)

	src, err = Open(Options{Kind: KindMQTT})
	assert.NoError(t, err)
	assert.Nil(t, src)

	_, err = Open(Options{Kind: "carrier-pigeon"})
	assert.ErrorIs(t, err, ErrUnknownSource)

	_, err = Open(Options{ProfileName: "chaos"})
	assert.ErrorIs(t, err, ErrUnknownProfile)

	path := filepath.Join(t.TempDir(), "dump.txt")
	require.NoError(t, os.WriteFile(path, []byte("rpm: 900\n"), 0o600))
	src, err = Open(Options{Kind: KindLines, Path: path, Asset: "gen-4"})
	require.NoError(t, err)
	defer src.Close()
	s, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gen-4", s.Asset)
}
