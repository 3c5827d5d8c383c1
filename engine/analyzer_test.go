package engine

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftahirops/gentop/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stableFrame() model.Frame {
	return frameOf(
		"rpm", 1500,
		"oil_pressure", 3.5,
		"engine_temp_coolant", 85,
		"voltage", 27.5,
		"vibration", 1.2,
		"fuel_pressure", 3.5,
	)
}

func mustGet(t *testing.T, ef model.EnrichedFrame, id string) model.ScoredReading {
	t.Helper()
	r, ok := ef.Get(id)
	require.True(t, ok, "missing %s", id)
	return r
}

func TestProcessColdStart(t *testing.T) {
	a := NewAnalyzer(nil)
	out, st := a.Process(frameOf("fuel_level", 60, "rpm", 1500), model.AnalyzerState{})

	leak := mustGet(t, out, model.SensorFuelLeak)
	v, _ := leak.Value.Boolean()
	assert.False(t, v)
	assert.Equal(t, model.SeverityNormal, leak.Severity)
	assert.Equal(t, 0.03, leak.RiskProbability)

	stop := mustGet(t, out, model.SensorEmergencyStop)
	v, _ = stop.Value.Boolean()
	assert.False(t, v)
	assert.Equal(t, 0.02, stop.RiskProbability)
	assert.False(t, out.EmergencyActive)

	require.NotNil(t, st.LastRPM)
	assert.Equal(t, 1500.0, *st.LastRPM)
	require.NotNil(t, st.LastFuelLevel)
	assert.Equal(t, 60.0, *st.LastFuelLevel)
	assert.False(t, st.EmergencyActive)
}

func TestProcessOutputShape(t *testing.T) {
	in := model.NewFrame([]model.Reading{
		{ID: "rpm", Type: "Engine Speed", Value: model.Num(1500), Unit: "rpm"},
		{ID: "fuel_leak", Type: "Fuel Leak", Value: model.Bool(true)},
		{ID: "exhaust_temp", Value: model.Num(0.5)},
		{ID: "", Value: model.Num(1)},
	})
	out, _ := NewAnalyzer(nil).Process(in, model.AnalyzerState{})

	ids := make([]string, 0, len(out.Readings))
	for _, r := range out.Readings {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"rpm", "fuel_leak", "exhaust_temp", "ecu_errors", "overheat", "emergency_stop"}, ids)

	// the supplied fuel_leak is overwritten by the derived value in place
	leak := mustGet(t, out, model.SensorFuelLeak)
	assert.Equal(t, "Fuel Leak", leak.Type)
	v, _ := leak.Value.Boolean()
	assert.False(t, v)
	assert.Equal(t, model.SeverityNormal, leak.Severity)

	ecu := mustGet(t, out, model.SensorECUErrors)
	assert.Equal(t, "ecu_errors", ecu.Type)
	n, ok := ecu.Value.Float()
	require.True(t, ok)
	assert.Equal(t, 0.0, n)

	// input is untouched
	orig, _ := in.Get(model.SensorFuelLeak)
	b, _ := orig.Value.Boolean()
	assert.True(t, b)

	for _, r := range out.Readings {
		assert.GreaterOrEqual(t, r.RiskProbability, 0.0)
		assert.LessOrEqual(t, r.RiskProbability, 1.0)
		assert.Equal(t, r.RiskProbability, model.RoundProbability(r.RiskProbability))
	}
}

func TestProcessFuelLeakScenario(t *testing.T) {
	a := NewAnalyzer(nil)
	_, st := a.Process(frameOf("fuel_level", 50.0), model.AnalyzerState{})
	out, st := a.Process(frameOf("fuel_level", 46.5, "fuel_consumption", 130), st)

	leak := mustGet(t, out, model.SensorFuelLeak)
	v, _ := leak.Value.Boolean()
	assert.True(t, v)
	assert.Equal(t, model.SeverityCritical, leak.Severity)
	assert.Equal(t, 0.97, leak.RiskProbability)
	assert.True(t, st.LastFuelLeakConfirmed)

	// fuel level missing: the confirmed leak carries forward
	out, st = a.Process(frameOf("rpm", 1500), st)
	leak = mustGet(t, out, model.SensorFuelLeak)
	v, _ = leak.Value.Boolean()
	assert.True(t, v)
	assert.Equal(t, model.SeverityWarning, leak.Severity)
	assert.True(t, st.LastFuelLeakConfirmed)
	assert.Nil(t, st.LastFuelLevel)

	// with no previous level, the next reading cannot compare and still carries
	out, st = a.Process(frameOf("fuel_level", 40), st)
	leak = mustGet(t, out, model.SensorFuelLeak)
	v, _ = leak.Value.Boolean()
	assert.True(t, v)

	// a comparable pair with no drop clears it
	out, _ = a.Process(frameOf("fuel_level", 40), st)
	leak = mustGet(t, out, model.SensorFuelLeak)
	v, _ = leak.Value.Boolean()
	assert.False(t, v)
}

func TestProcessOverheatOverride(t *testing.T) {
	out, _ := NewAnalyzer(nil).Process(frameOf("engine_temp_coolant", 102, "coolant_pressure", 1.6), model.AnalyzerState{})
	heat := mustGet(t, out, model.SensorOverheat)
	v, _ := heat.Value.Boolean()
	assert.True(t, v)
	assert.Equal(t, model.SeverityCritical, heat.Severity)
	assert.Equal(t, 0.9, heat.RiskProbability)
}

func TestProcessZeroTemperature(t *testing.T) {
	out, _ := NewAnalyzer(nil).Process(frameOf("engine_temp_coolant", 0, "coolant_pressure", 1.6), model.AnalyzerState{})

	cool := mustGet(t, out, model.SensorCoolantTemp)
	assert.Equal(t, model.SeverityWarning, cool.Severity, "0 degC is a cold reading, not a missing one")
	assert.Equal(t, 0.4, cool.RiskProbability)

	heat := mustGet(t, out, model.SensorOverheat)
	v, _ := heat.Value.Boolean()
	assert.False(t, v)
}

func TestProcessErrorCountScenario(t *testing.T) {
	st := model.AnalyzerState{LastRPM: ptr(1250)}
	out, _ := NewAnalyzer(nil).Process(frameOf(
		"rpm", 1250, "oil_pressure", 1.8, "fuel_pressure", 3.5, "voltage", 27.5,
	), st)
	ecu := mustGet(t, out, model.SensorECUErrors)
	n, _ := ecu.Value.Float()
	assert.Equal(t, 1.0, n)
	assert.Equal(t, model.SeverityWarning, ecu.Severity)
	assert.Equal(t, 0.6, ecu.RiskProbability)
}

func TestProcessEmergencyHysteresis(t *testing.T) {
	a := NewAnalyzer(nil)

	f1 := frameOf("oil_pressure", 0.8, "engine_temp_coolant", 85, "voltage", 27.5, "vibration", 1.2, "fuel_pressure", 3.5)
	out, st := a.Process(f1, model.AnalyzerState{})
	assert.True(t, out.EmergencyActive)
	assert.True(t, st.EmergencyActive)
	assert.Equal(t, 0, st.EmergencyClearStreak)
	stop := mustGet(t, out, model.SensorEmergencyStop)
	assert.Equal(t, model.SeverityCritical, stop.Severity)
	assert.Equal(t, 0.99, stop.RiskProbability)

	out, st = a.Process(stableFrame(), st)
	assert.True(t, out.EmergencyActive, "still latched after one stable frame")
	assert.Equal(t, 1, st.EmergencyClearStreak)

	out, st = a.Process(stableFrame(), st)
	assert.False(t, out.EmergencyActive, "cleared on the second stable frame")
	assert.False(t, st.EmergencyActive)
	assert.Equal(t, 0, st.EmergencyClearStreak)
}

func TestProcessEmergencyFlapResistance(t *testing.T) {
	a := NewAnalyzer(nil)
	st := model.AnalyzerState{EmergencyActive: true, EmergencyClearStreak: 1}

	noisy := frameOf("rpm", 1500, "oil_pressure", 3.5, "engine_temp_coolant", 85, "voltage", 27.5, "vibration", 4.0, "fuel_pressure", 3.5)
	out, st := a.Process(noisy, st)
	assert.True(t, out.EmergencyActive)
	assert.Equal(t, 0, st.EmergencyClearStreak)

	out, st = a.Process(stableFrame(), st)
	assert.True(t, out.EmergencyActive)
	out, _ = a.Process(stableFrame(), st)
	assert.False(t, out.EmergencyActive)
}

func TestProcessEmergencyBlockedByLeak(t *testing.T) {
	a := NewAnalyzer(nil)
	st := model.AnalyzerState{EmergencyActive: true, LastFuelLeakConfirmed: true}

	// stable sensors but no fuel level: the leak carries forward and blocks clearing
	for i := 0; i < 3; i++ {
		var out model.EnrichedFrame
		out, st = a.Process(stableFrame(), st)
		assert.True(t, out.EmergencyActive)
		assert.Equal(t, 0, st.EmergencyClearStreak)
	}
}

type panicScorer struct{ id string }

func (p panicScorer) Score(r model.Reading, st model.AnalyzerState) (model.ScoredReading, error) {
	if r.ID == p.id {
		panic("scorer bug")
	}
	return RuleScorer{}.Score(r, st)
}

func TestProcessIsolatesScoringFaults(t *testing.T) {
	a := NewAnalyzer(panicScorer{id: model.SensorVoltage})
	res := a.Evaluate(frameOf("voltage", 50, "oil_pressure", 3.5, "vibration", "loud"), model.AnalyzerState{})

	require.Len(t, res.Faults, 2)
	volt := mustGet(t, res.Frame, model.SensorVoltage)
	assert.Equal(t, model.SeverityNormal, volt.Severity)
	assert.Equal(t, 0.1, volt.RiskProbability)

	vib := mustGet(t, res.Frame, model.SensorVibration)
	assert.Equal(t, model.SeverityNormal, vib.Severity)

	oil := mustGet(t, res.Frame, model.SensorOilPressure)
	assert.Equal(t, 0.06, oil.RiskProbability)

	// the raw voltage still triggers the emergency check
	assert.True(t, res.Frame.EmergencyActive)
}

func TestAssetSequencesAndObserves(t *testing.T) {
	var got []Result
	as := NewAsset("gen-1", nil, quietLogger(), ObserverFunc(func(r Result) { got = append(got, r) }))
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	r1 := as.AnalyzeAt(frameOf("oil_pressure", 0.5), ts)
	r2 := as.AnalyzeAt(stableFrame(), ts.Add(time.Second))

	assert.Equal(t, uint64(1), r1.Frame.Sequence)
	assert.Equal(t, uint64(2), r2.Frame.Sequence)
	assert.Equal(t, "gen-1", r2.Frame.Asset)
	assert.Equal(t, ts, r1.Frame.Timestamp)
	assert.Equal(t, TransitionLatched, r1.Transition)
	assert.True(t, as.EmergencyActive())
	require.Len(t, got, 2)
	assert.Equal(t, r2.Frame.Sequence, got[1].Frame.Sequence)

	latest := as.Latest()
	require.NotNil(t, latest)
	assert.Equal(t, uint64(2), latest.Sequence)
}

func TestAssetSerializesSubmissions(t *testing.T) {
	as := NewAsset("gen-1", nil, quietLogger())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			as.Analyze(stableFrame())
		}()
	}
	wg.Wait()

	latest := as.Latest()
	require.NotNil(t, latest)
	assert.Equal(t, uint64(50), latest.Sequence)
	require.NotNil(t, as.State().LastRPM)
}

func TestFleetKeepsAssetsApart(t *testing.T) {
	fl := NewFleet(nil, quietLogger())
	fl.Submit("a", frameOf("oil_pressure", 0.5))
	fl.Submit("b", stableFrame())

	a, ok := fl.Lookup("a")
	require.True(t, ok)
	b, ok := fl.Lookup("b")
	require.True(t, ok)
	assert.True(t, a.EmergencyActive())
	assert.False(t, b.EmergencyActive())
	assert.Same(t, a, fl.Asset("a"))
	assert.Equal(t, []string{"a", "b"}, fl.IDs())

	_, ok = fl.Lookup("c")
	assert.False(t, ok)
}

func ExampleAnalyzer_Process() {
	a := NewAnalyzer(nil)
	out, _ := a.Process(model.NewFrame([]model.Reading{
		{ID: "oil_pressure", Value: model.Num(0.8)},
	}), model.AnalyzerState{})
	for _, r := range out.Readings {
		fmt.Println(r.ID, r.Severity, r.RiskProbability)
	}
	// Output:
	// oil_pressure critical 0.9
	// ecu_errors normal 0.05
	// fuel_leak normal 0.03
	// overheat normal 0.05
	// emergency_stop critical 0.99
}
