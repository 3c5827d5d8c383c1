package engine

import (
	"math"

	"github.com/ftahirops/gentop/model"
)

// SensorKind is the closed set of sensors with dedicated band rules.
type SensorKind int

const (
	KindUnknown SensorKind = iota
	KindRPM
	KindCoolantTemp
	KindOilTemp
	KindOilPressure
	KindFuelPressure
	KindFuelLevel
	KindFuelConsumption
	KindVoltage
	KindCurrent
	KindECUErrors
	KindLeak
	KindCoolantPressure
	KindOverheat
	KindVibration
	KindEmergencyStop
)

var kindByID = map[string]SensorKind{
	model.SensorRPM:             KindRPM,
	model.SensorCoolantTemp:     KindCoolantTemp,
	model.SensorOilTemp:         KindOilTemp,
	model.SensorOilPressure:     KindOilPressure,
	model.SensorFuelPressure:    KindFuelPressure,
	model.SensorFuelLevel:       KindFuelLevel,
	model.SensorFuelConsumption: KindFuelConsumption,
	model.SensorVoltage:         KindVoltage,
	model.SensorCurrent:         KindCurrent,
	model.SensorECUErrors:       KindECUErrors,
	model.SensorFuelLeak:        KindLeak,
	model.SensorOilLeak:         KindLeak,
	model.SensorCoolantPressure: KindCoolantPressure,
	model.SensorOverheat:        KindOverheat,
	model.SensorVibration:       KindVibration,
	model.SensorEmergencyStop:   KindEmergencyStop,
}

// KindOf maps a sensor id to its kind; unrecognized ids are KindUnknown.
func KindOf(id string) SensorKind {
	return kindByID[id]
}

// Interval is a range on the real line. Zero-width closed intervals match a
// single point.
type Interval struct {
	Lo, Hi         float64
	LoOpen, HiOpen bool
}

// Contains reports whether v lies inside the interval.
func (iv Interval) Contains(v float64) bool {
	if iv.LoOpen {
		if !(v > iv.Lo) {
			return false
		}
	} else if !(v >= iv.Lo) {
		return false
	}
	if iv.HiOpen {
		return v < iv.Hi
	}
	return v <= iv.Hi
}

func closed(lo, hi float64) Interval { return Interval{Lo: lo, Hi: hi} }
func closedOpen(lo, hi float64) Interval { return Interval{Lo: lo, Hi: hi, HiOpen: true} }
func openClosed(lo, hi float64) Interval { return Interval{Lo: lo, Hi: hi, LoOpen: true} }
func atLeast(lo float64) Interval { return Interval{Lo: lo, Hi: math.Inf(1)} }
func atMost(hi float64) Interval { return Interval{Lo: math.Inf(-1), Hi: hi} }
func below(hi float64) Interval { return Interval{Lo: math.Inf(-1), Hi: hi, HiOpen: true} }
func above(lo float64) Interval { return Interval{Lo: lo, Hi: math.Inf(1), LoOpen: true} }

// everything matches any real number; every numeric table ends with it.
var everything = []Interval{atMost(math.Inf(1))}

// Measure selects what a band is evaluated against.
type Measure int

const (
	MeasureValue     Measure = iota // the raw reading
	MeasureDeviation                // |v - nominal| / nominal
)

// Band is one row of a rule table: if the measured value falls in any of the
// intervals, the reading gets this severity and probability.
type Band struct {
	Match       []Interval
	Measure     Measure
	Severity    model.Severity
	Probability float64
}

func band(sev model.Severity, p float64, match ...Interval) Band {
	return Band{Match: match, Severity: sev, Probability: p}
}

func deviationBand(sev model.Severity, p float64, match ...Interval) Band {
	return Band{Match: match, Measure: MeasureDeviation, Severity: sev, Probability: p}
}

// Input describes which value types a rule accepts and how.
type Input int

const (
	// InputNumeric: numbers only; anything else is an unsupported value.
	InputNumeric Input = iota
	// InputFlag: any value, judged by truthiness.
	InputFlag
	// InputNumericOrFlag: numbers by band, anything else by truthiness.
	InputNumericOrFlag
	// InputCount: numbers by band, boolean true as the True band, anything
	// else as the False band.
	InputCount
)

// Rule is the band table for one sensor kind.
type Rule struct {
	Kind    SensorKind
	Input   Input
	Nominal float64
	Bands   []Band
	True    Band
	False   Band
}

const (
	nominalRPM = 1500.0
	// fuel consumption switches to loaded bands at or above this previous rpm
	loadedRPM = 1300.0
)

var (
	ruleRPM = Rule{Kind: KindRPM, Nominal: nominalRPM, Bands: []Band{
		band(model.SeverityNormal, 0.05, closed(600, 800)),
		deviationBand(model.SeverityNormal, 0.10, atMost(0.08)),
		deviationBand(model.SeverityWarning, 0.50, atMost(0.12)),
		band(model.SeverityCritical, 0.90, everything...),
	}}
	ruleCoolantTemp = Rule{Kind: KindCoolantTemp, Bands: []Band{
		band(model.SeverityNormal, 0.05, closed(80, 95)),
		band(model.SeverityWarning, 0.50, closed(96, 104)),
		band(model.SeverityCritical, 0.92, atLeast(110)),
		band(model.SeverityCritical, 0.80, atLeast(105)),
		band(model.SeverityWarning, 0.40, everything...),
	}}
	ruleOilTemp = Rule{Kind: KindOilTemp, Bands: []Band{
		band(model.SeverityNormal, 0.05, closed(80, 110)),
		band(model.SeverityWarning, 0.60, closed(111, 120)),
		band(model.SeverityCritical, 0.92, atLeast(130)),
		band(model.SeverityCritical, 0.82, atLeast(121)),
		band(model.SeverityWarning, 0.40, everything...),
	}}
	ruleOilPressure = Rule{Kind: KindOilPressure, Bands: []Band{
		band(model.SeverityNormal, 0.06, closed(2.5, 5.0)),
		band(model.SeverityWarning, 0.50, closedOpen(2.0, 2.5), openClosed(5.0, 6.0)),
		band(model.SeverityCritical, 0.90, below(1.5), above(7.0)),
		band(model.SeverityWarning, 0.60, everything...),
	}}
	ruleFuelPressure = Rule{Kind: KindFuelPressure, Bands: []Band{
		band(model.SeverityNormal, 0.06, closed(2.5, 5.0)),
		band(model.SeverityWarning, 0.50, closedOpen(2.0, 2.5), openClosed(5.0, 6.0)),
		band(model.SeverityCritical, 0.90, below(1.8), above(7.0)),
		band(model.SeverityWarning, 0.60, everything...),
	}}
	ruleFuelLevel = Rule{Kind: KindFuelLevel, Bands: []Band{
		band(model.SeverityNormal, 0.05, atLeast(30)),
		band(model.SeverityWarning, 0.50, closedOpen(15, 30)),
		band(model.SeverityCritical, 0.90, everything...),
	}}
	ruleFuelConsumptionLoaded = Rule{Kind: KindFuelConsumption, Bands: []Band{
		band(model.SeverityNormal, 0.08, atMost(120)),
		band(model.SeverityWarning, 0.55, atMost(140)),
		band(model.SeverityCritical, 0.90, everything...),
	}}
	ruleFuelConsumptionIdle = Rule{Kind: KindFuelConsumption, Bands: []Band{
		band(model.SeverityNormal, 0.08, atMost(40)),
		band(model.SeverityWarning, 0.55, atMost(60)),
		band(model.SeverityCritical, 0.90, everything...),
	}}
	ruleVoltage = Rule{Kind: KindVoltage, Bands: []Band{
		band(model.SeverityNormal, 0.06, closed(24.0, 25.5), closed(27.2, 28.4)),
		band(model.SeverityWarning, 0.55, closedOpen(22.5, 24.0), closed(28.5, 29.5)),
		band(model.SeverityCritical, 0.90, everything...),
	}}
	ruleCurrent = Rule{Kind: KindCurrent, Bands: []Band{
		band(model.SeverityNormal, 0.08, closed(10, 150)),
		band(model.SeverityWarning, 0.55, openClosed(150, 220)),
		band(model.SeverityCritical, 0.90, everything...),
	}}
	ruleECUErrors = Rule{Kind: KindECUErrors, Input: InputCount,
		Bands: []Band{
			band(model.SeverityCritical, 0.92, atLeast(2)),
			band(model.SeverityWarning, 0.60, closed(1, 1)),
			band(model.SeverityNormal, 0.05, everything...),
		},
		True:  band(model.SeverityCritical, 0.92),
		False: band(model.SeverityNormal, 0.05),
	}
	ruleLeak = Rule{Kind: KindLeak, Input: InputFlag,
		True:  band(model.SeverityCritical, 0.97),
		False: band(model.SeverityNormal, 0.03),
	}
	ruleCoolantPressure = Rule{Kind: KindCoolantPressure, Bands: []Band{
		band(model.SeverityNormal, 0.06, closed(0.8, 1.5)),
		band(model.SeverityWarning, 0.55, closedOpen(0.6, 0.8), openClosed(1.5, 1.8)),
		band(model.SeverityCritical, 0.90, everything...),
	}}
	ruleOverheat = Rule{Kind: KindOverheat, Input: InputNumericOrFlag,
		Bands: []Band{
			band(model.SeverityNormal, 0.05, atMost(110)),
			band(model.SeverityWarning, 0.60, atMost(120)),
			band(model.SeverityCritical, 0.92, everything...),
		},
		True:  band(model.SeverityCritical, 0.95),
		False: band(model.SeverityNormal, 0.03),
	}
	ruleVibration = Rule{Kind: KindVibration, Bands: []Band{
		band(model.SeverityNormal, 0.08, closed(0.1, 3.0)),
		band(model.SeverityWarning, 0.60, openClosed(3.0, 5.0)),
		band(model.SeverityCritical, 0.90, everything...),
	}}
	ruleEmergencyStop = Rule{Kind: KindEmergencyStop, Input: InputFlag,
		True:  band(model.SeverityCritical, 0.99),
		False: band(model.SeverityNormal, 0.02),
	}
)

var ruleTable = map[SensorKind]*Rule{
	KindRPM:             &ruleRPM,
	KindCoolantTemp:     &ruleCoolantTemp,
	KindOilTemp:         &ruleOilTemp,
	KindOilPressure:     &ruleOilPressure,
	KindFuelPressure:    &ruleFuelPressure,
	KindFuelLevel:       &ruleFuelLevel,
	KindVoltage:         &ruleVoltage,
	KindCurrent:         &ruleCurrent,
	KindECUErrors:       &ruleECUErrors,
	KindLeak:            &ruleLeak,
	KindCoolantPressure: &ruleCoolantPressure,
	KindOverheat:        &ruleOverheat,
	KindVibration:       &ruleVibration,
	KindEmergencyStop:   &ruleEmergencyStop,
}

// RuleFor returns the rule for kind. Fuel consumption is the one
// context-dependent sensor: the previous frame's rpm selects the table, and
// a missing previous rpm selects the idle table.
func RuleFor(kind SensorKind, st model.AnalyzerState) (*Rule, bool) {
	if kind == KindFuelConsumption {
		if st.LastRPM != nil && *st.LastRPM >= loadedRPM {
			return &ruleFuelConsumptionLoaded, true
		}
		return &ruleFuelConsumptionIdle, true
	}
	r, ok := ruleTable[kind]
	return r, ok
}

// Classify returns the band v falls into.
func (r *Rule) Classify(v model.Value) (Band, error) {
	x, numeric := v.Float()
	if numeric && (math.IsNaN(x) || math.IsInf(x, 0)) {
		return Band{}, ErrNonFinite
	}
	switch r.Input {
	case InputFlag:
		return r.flag(v.Truthy()), nil
	case InputNumericOrFlag:
		if !numeric {
			return r.flag(v.Truthy()), nil
		}
	case InputCount:
		if !numeric {
			b, _ := v.Boolean()
			return r.flag(b), nil
		}
	default:
		if !numeric {
			return Band{}, ErrUnsupportedValue
		}
	}
	if len(r.Bands) == 0 {
		return Band{}, ErrUnsupportedValue
	}
	return r.classifyNumber(x), nil
}

func (r *Rule) flag(on bool) Band {
	if on {
		return r.True
	}
	return r.False
}

func (r *Rule) classifyNumber(x float64) Band {
	for _, b := range r.Bands {
		m := x
		if b.Measure == MeasureDeviation {
			m = math.Abs(x-r.Nominal) / r.Nominal
		}
		for _, iv := range b.Match {
			if iv.Contains(m) {
				return b
			}
		}
	}
	// unreachable for tables ending in everything
	return r.Bands[len(r.Bands)-1]
}
