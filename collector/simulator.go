package collector

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/ftahirops/gentop/model"
)

// Profile sets how often each simulated sensor lands in its normal, warning
// or critical band.
type Profile struct {
	Name     string  `json:"name" mapstructure:"name"`
	Normal   float64 `json:"normal" mapstructure:"normal"`
	Warning  float64 `json:"warning" mapstructure:"warning"`
	Critical float64 `json:"critical" mapstructure:"critical"`
}

var (
	ProfileSafe   = Profile{Name: "safe", Normal: 0.92, Warning: 0.07, Critical: 0.01}
	ProfileStress = Profile{Name: "stress", Normal: 0.6, Warning: 0.3, Critical: 0.1}
)

// ProfileByName returns a built-in profile.
func ProfileByName(name string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "safe":
		return ProfileSafe, nil
	case "stress":
		return ProfileStress, nil
	}
	return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
}

// normalized scales the probabilities to sum to one.
func (p Profile) normalized() Profile {
	s := math.Max(1e-6, p.Normal+p.Warning+p.Critical)
	p.Normal /= s
	p.Warning /= s
	p.Critical /= s
	return p
}

type band int

const (
	bandNormal band = iota
	bandWarning
	bandCritical
)

// Nominal operating point of the simulated genset.
const (
	simNominalRPM  = 1500.0
	simWarningPct  = 0.08
	simCriticalPct = 0.12
	simLoadRPM     = 1300.0
	simStartLevel  = 80.0
)

// Simulator generates plausible genset telemetry. Output is deterministic
// for a given seed.
type Simulator struct {
	asset   string
	profile Profile
	now     func() time.Time

	mu        sync.Mutex
	rng       *rand.Rand
	rpm       float64
	fuelLevel float64
	closed    bool
}

// NewSimulator creates a simulator for asset.
func NewSimulator(asset string, p Profile, seed uint64) *Simulator {
	return &Simulator{
		asset:     asset,
		profile:   p.normalized(),
		now:       time.Now,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		rpm:       simNominalRPM,
		fuelLevel: simStartLevel,
	}
}

// Profile returns the normalized profile in use.
func (s *Simulator) Profile() Profile { return s.profile }

// Next implements engine.SampleSource.
func (s *Simulator) Next(ctx context.Context) (model.Sample, error) {
	if err := ctx.Err(); err != nil {
		return model.Sample{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.Sample{}, ErrSourceClosed
	}
	return model.Sample{Asset: s.asset, Time: s.now(), Readings: s.step()}, nil
}

// Close implements engine.SampleSource.
func (s *Simulator) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Step returns one frame of readings.
func (s *Simulator) Step() []model.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step()
}

func (s *Simulator) uniform(a, b float64) float64 {
	return a + (b-a)*s.rng.Float64()
}

func (s *Simulator) chance(p float64) bool {
	return s.rng.Float64() < p
}

// sample draws from [a,b] and applies a relative jitter.
func (s *Simulator) sample(a, b, jitter float64) float64 {
	return s.uniform(a, b) * (1 + s.uniform(-jitter, jitter))
}

func (s *Simulator) pickBand() band {
	r := s.rng.Float64()
	switch {
	case r < s.profile.Critical:
		return bandCritical
	case r < s.profile.Critical+s.profile.Warning:
		return bandWarning
	}
	return bandNormal
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func (s *Simulator) step() []model.Reading {
	out := make([]model.Reading, 0, 15)
	add := func(id, typ string, v model.Value, min, max float64, unit string) {
		out = append(out, model.Reading{ID: id, Type: typ, Value: v, Min: model.Bound(min), Max: model.Bound(max), Unit: unit})
	}

	var rpm float64
	switch s.pickBand() {
	case bandNormal:
		rpm = s.sample(simNominalRPM*(1-simWarningPct/2), simNominalRPM*(1+simWarningPct/2), 0.01)
	case bandWarning:
		rpm = s.sample(simNominalRPM*(1-simCriticalPct), simNominalRPM*(1+simCriticalPct), 0.02)
	default:
		side := 1.0
		if s.chance(0.5) {
			side = -1
		}
		rpm = simNominalRPM * (1 + side*(simCriticalPct+s.uniform(0.02, 0.2)))
	}
	rpm = clamp(rpm, 0, 3000)
	s.rpm = rpm
	add(model.SensorRPM, "RPM", model.Num(round(rpm, 0)), 0, 3000, "rpm")

	temp := func(normal, warning, critical [2]float64, lo, hi float64) float64 {
		r := normal
		switch s.pickBand() {
		case bandWarning:
			r = warning
		case bandCritical:
			r = critical
		}
		return clamp(s.sample(r[0], r[1], 0.01), lo, hi)
	}
	coolant := temp([2]float64{80, 95}, [2]float64{96, 104}, [2]float64{105, 120}, 20, 120)
	add(model.SensorCoolantTemp, "temperature_coolant", model.Num(round(coolant, 1)), 20, 120, "°C")
	oilT := temp([2]float64{80, 110}, [2]float64{111, 120}, [2]float64{121, 150}, 20, 150)
	add(model.SensorOilTemp, "temperature_oil", model.Num(round(oilT, 1)), 20, 150, "°C")

	lo, hi := 2.5, 5.0
	switch s.pickBand() {
	case bandWarning:
		lo, hi = 2.0, 2.5
	case bandCritical:
		lo, hi = 0.5, 2.0
	}
	add(model.SensorOilPressure, "pressure_oil", model.Num(round(s.sample(lo, hi, 0.03), 2)), 0.5, 10, "bar")

	lo, hi = 2.5, 5.0
	switch s.pickBand() {
	case bandWarning:
		lo, hi = 2.0, 6.0
	case bandCritical:
		if s.chance(0.5) {
			lo, hi = 0.3, 2.0
		} else {
			lo, hi = 6.0, 8.0
		}
	}
	add(model.SensorFuelPressure, "pressure_fuel", model.Num(round(s.sample(lo, hi, 0.03), 2)), 0.5, 8, "bar")

	lo, hi = 40, 120
	if s.rpm < simLoadRPM {
		lo, hi = 10, 40
	}
	burn := s.sample(lo, hi, 0.08)
	add(model.SensorFuelConsumption, "consumption_fuel", model.Num(round(burn, 1)), 0, 150, "l/h")

	drop := burn * 0.005 / 60
	if s.chance(0.01) {
		drop *= s.uniform(2, 5)
	}
	s.fuelLevel = math.Max(0, s.fuelLevel-drop)
	add(model.SensorFuelLevel, "level_fuel", model.Num(round(s.fuelLevel, 1)), 0, 100, "%")

	var volt float64
	if s.chance(0.5) {
		volt = s.sample(24.0, 25.5, 0.01)
	} else {
		volt = s.sample(27.2, 28.4, 0.01)
	}
	if s.chance(s.profile.Critical * 0.5) {
		if s.chance(0.5) {
			volt -= 1.5
		} else {
			volt += 1.5
		}
	}
	add(model.SensorVoltage, "voltage", model.Num(round(volt, 2)), 20, 32, "V")

	cur := s.sample(10, 150, 0.05)
	if s.chance(s.profile.Warning) {
		cur = s.sample(150, 220, 0.05)
	}
	if s.chance(s.profile.Critical * 0.3) {
		cur = s.sample(220, 300, 0.05)
	}
	add(model.SensorCurrent, "current", model.Num(round(cur, 1)), 0, 400, "A")

	lo, hi = 0.8, 1.5
	if coolant >= 100 && s.chance(s.profile.Warning) {
		lo, hi = 0.6, 1.8
	}
	cpress := s.sample(lo, hi, 0.03)
	add(model.SensorCoolantPressure, "pressure_coolant", model.Num(round(cpress, 2)), 0.3, 2.5, "bar")

	vib := s.sample(0.1, 3.0, 0.1)
	if s.chance(s.profile.Warning) {
		vib = s.sample(3.0, 5.0, 0.1)
	}
	if s.chance(s.profile.Critical * 0.2) {
		vib = s.sample(5.0, 8.0, 0.2)
	}
	add(model.SensorVibration, "vibration", model.Num(round(vib, 2)), 0, 10, "m/s²")

	// Flags are placeholders; the analyzer recomputes them.
	leak := s.chance(s.profile.Critical * 0.1)
	overheat := coolant >= 111 || oilT >= 121 || (cpress > 1.5 && coolant > 100)
	out = append(out,
		model.Reading{ID: model.SensorFuelLeak, Type: "fuel_leak", Value: model.Bool(leak)},
		model.Reading{ID: model.SensorOverheat, Type: "overheat", Value: model.Bool(overheat)},
		model.Reading{ID: model.SensorEmergencyStop, Type: "emergency_stop", Value: model.Bool(false)},
		model.Reading{ID: model.SensorECUErrors, Type: "ecu_errors", Value: model.Num(0)},
	)
	return out
}
