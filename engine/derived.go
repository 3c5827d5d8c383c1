package engine

import "github.com/ftahirops/gentop/model"

// FuelLeakLevel grades the fuel-leak derived signal.
type FuelLeakLevel int

const (
	FuelLeakNone FuelLeakLevel = iota
	FuelLeakWarning
	FuelLeakCritical
)

// Confirmed reports whether the level counts as a leak.
func (l FuelLeakLevel) Confirmed() bool { return l != FuelLeakNone }

// Emergency trigger names, reported with every candidate decision.
const (
	TriggerOilPressure = "oil_pressure_below_1.0"
	TriggerCoolantTemp = "coolant_temp_at_or_above_125"
	TriggerVoltage     = "voltage_outside_22_30"
	TriggerVibration   = "vibration_above_6.5"
	TriggerLeakLowFuel = "fuel_leak_with_level_below_15"
)

// Derived holds the cross-sensor signals computed for one frame.
type Derived struct {
	ECUErrors   int
	ECUSeverity model.Severity

	FuelLeak FuelLeakLevel
	// FuelLeakCarried is set when the leak state was carried forward from
	// the previous frame for lack of two fuel-level readings.
	FuelLeakCarried bool

	Overheat         bool
	OverheatSeverity model.Severity

	EmergencyCandidate bool
	Triggers           []string
}

// FuelLeakConfirmed reports the boolean leak state committed to the next frame.
func (d Derived) FuelLeakConfirmed() bool { return d.FuelLeak.Confirmed() }

// ecu error aggregation thresholds
const (
	ecuRPMJump          = 150.0
	ecuOilPressLowRPM   = 1200.0
	ecuOilPressLow      = 2.0
	ecuColdCoolant      = 70.0
	ecuColdCoolantRPM   = 1300.0
	ecuColdCoolantBurn  = 20.0
	ecuWarningMaxErrors = 2
)

// fuel leak thresholds, in percent of tank per frame
const (
	leakCriticalDrop = 3.0
	leakWarningDrop  = 1.2
	leakLowBurnRate  = 10.0
	leakLowFuelLevel = 15.0
)

// overheat thresholds
const (
	overheatCoolant         = 105.0
	overheatCoolantCritical = 110.0
	overheatOil             = 121.0
	overheatOilCritical     = 130.0
	overheatPressure        = 1.5
	overheatPressureTemp    = 100.0
)

// emergency thresholds, stricter than any critical band
const (
	estopOilPressure = 1.0
	estopCoolantTemp = 125.0
	estopVoltageLow  = 22.0
	estopVoltageHigh = 30.0
	estopVibration   = 6.5
)

// ComputeDerived derives the aggregate error count, fuel leak, overheat and
// emergency-stop candidate from the current frame, its scores and the state
// committed by the previous frame. It does not modify any of its inputs.
func ComputeDerived(f model.Frame, scored map[string]model.ScoredReading, st model.AnalyzerState) Derived {
	var d Derived

	elevated := func(id string) bool {
		s, ok := scored[id]
		return ok && s.Severity.Elevated()
	}

	rpm, hasRPM := f.Num(model.SensorRPM)
	oilP, hasOilP := f.Num(model.SensorOilPressure)
	volt, hasVolt := f.Num(model.SensorVoltage)
	vib, hasVib := f.Num(model.SensorVibration)
	coolT, hasCoolT := f.Num(model.SensorCoolantTemp)
	oilT, hasOilT := f.Num(model.SensorOilTemp)
	coolP, hasCoolP := f.Num(model.SensorCoolantPressure)
	level, hasLevel := f.Num(model.SensorFuelLevel)
	burn, _ := f.Num(model.SensorFuelConsumption) // absent reads as 0

	// Aggregate error count.
	if elevated(model.SensorFuelPressure) {
		d.ECUErrors++
	}
	if hasOilP && hasRPM && rpm >= ecuOilPressLowRPM && oilP < ecuOilPressLow {
		d.ECUErrors++
	}
	if elevated(model.SensorVoltage) {
		d.ECUErrors++
	}
	if hasRPM && st.LastRPM != nil && elevated(model.SensorFuelPressure) {
		jump := rpm - *st.LastRPM
		if jump < 0 {
			jump = -jump
		}
		if jump > ecuRPMJump {
			d.ECUErrors++
		}
	}
	if hasCoolT && hasRPM && coolT < ecuColdCoolant && rpm > ecuColdCoolantRPM && burn > ecuColdCoolantBurn {
		d.ECUErrors++
	}
	switch {
	case d.ECUErrors == 0:
		d.ECUSeverity = model.SeverityNormal
	case d.ECUErrors <= ecuWarningMaxErrors:
		d.ECUSeverity = model.SeverityWarning
	default:
		d.ECUSeverity = model.SeverityCritical
	}

	// Fuel leak from the level drop since the previous frame.
	if hasLevel && st.LastFuelLevel != nil {
		drop := *st.LastFuelLevel - level
		switch {
		case drop > leakCriticalDrop:
			d.FuelLeak = FuelLeakCritical
		case drop > leakWarningDrop && burn < leakLowBurnRate:
			d.FuelLeak = FuelLeakWarning
		default:
			d.FuelLeak = FuelLeakNone
		}
	} else {
		d.FuelLeakCarried = true
		if st.LastFuelLeakConfirmed {
			d.FuelLeak = FuelLeakWarning
		}
	}

	// Overheat. Zero is a real temperature, so presence is tested explicitly.
	d.OverheatSeverity = model.SeverityNormal
	if (hasCoolT && coolT >= overheatCoolant) || (hasOilT && oilT >= overheatOil) {
		d.Overheat = true
		d.OverheatSeverity = model.SeverityWarning
		if (hasCoolT && coolT >= overheatCoolantCritical) || (hasOilT && oilT >= overheatOilCritical) {
			d.OverheatSeverity = model.SeverityCritical
		}
	}
	if hasCoolP && hasCoolT && coolP > overheatPressure && coolT > overheatPressureTemp {
		d.Overheat = true
		d.OverheatSeverity = model.SeverityCritical
	}

	// Emergency-stop candidate.
	if hasOilP && oilP < estopOilPressure {
		d.Triggers = append(d.Triggers, TriggerOilPressure)
	}
	if hasCoolT && coolT >= estopCoolantTemp {
		d.Triggers = append(d.Triggers, TriggerCoolantTemp)
	}
	if hasVolt && (volt < estopVoltageLow || volt > estopVoltageHigh) {
		d.Triggers = append(d.Triggers, TriggerVoltage)
	}
	if hasVib && vib > estopVibration {
		d.Triggers = append(d.Triggers, TriggerVibration)
	}
	if d.FuelLeak.Confirmed() && hasLevel && level < leakLowFuelLevel {
		d.Triggers = append(d.Triggers, TriggerLeakLowFuel)
	}
	d.EmergencyCandidate = len(d.Triggers) > 0

	return d
}

// stabilized reports whether every stabilization sensor scored normal and no
// leak is confirmed. A missing sensor does not count as normal.
func stabilized(scored map[string]model.ScoredReading, d Derived) bool {
	if d.FuelLeakConfirmed() {
		return false
	}
	for _, id := range model.StabilizationSensors {
		s, ok := scored[id]
		if !ok || s.Severity != model.SeverityNormal {
			return false
		}
	}
	return true
}
