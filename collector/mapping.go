package collector

import (
	"github.com/ftahirops/gentop/model"
)

// Meta is the display metadata attached to a flat telemetry key.
type Meta struct {
	ID   string
	Type string
	Min  *float64
	Max  *float64
	Unit string
}

func meta(id, typ string, min, max float64, unit string) Meta {
	return Meta{ID: id, Type: typ, Min: model.Bound(min), Max: model.Bound(max), Unit: unit}
}

// flatKeys lists the flat telemetry keys in output order.
var flatKeys = []string{
	"rpm",
	"coolant_temp",
	"oil_temp",
	"oil_pressure",
	"fuel_pressure",
	"fuel_level",
	"fuel_consumption",
	"voltage",
	"current",
	"ecu_errors",
	"fuel_leak",
	"coolant_pressure",
	"overheat",
	"vibration",
	"emergency_stop",
}

var flatMapping = map[string]Meta{
	"rpm":              meta(model.SensorRPM, "RPM", 0, 3000, "rpm"),
	"coolant_temp":     meta(model.SensorCoolantTemp, "temperature_coolant", 20, 120, "°C"),
	"oil_temp":         meta(model.SensorOilTemp, "temperature_oil", 20, 150, "°C"),
	"oil_pressure":     meta(model.SensorOilPressure, "pressure_oil", 1, 10, "bar"),
	"fuel_pressure":    meta(model.SensorFuelPressure, "pressure_fuel", 1, 8, "bar"),
	"fuel_level":       meta(model.SensorFuelLevel, "level_fuel", 0, 100, "%"),
	"fuel_consumption": meta(model.SensorFuelConsumption, "consumption_fuel", 0, 60, "l/h"),
	"voltage":          meta(model.SensorVoltage, "voltage", 10, 32, "V"),
	"current":          meta(model.SensorCurrent, "current", 0, 500, "A"),
	"ecu_errors":       {ID: model.SensorECUErrors, Type: "ecu_errors"},
	"fuel_leak":        {ID: model.SensorFuelLeak, Type: "fuel_leak"},
	"coolant_pressure": meta(model.SensorCoolantPressure, "pressure_coolant", 0.5, 3, "bar"),
	"overheat":         {ID: model.SensorOverheat, Type: "overheat"},
	"vibration":        meta(model.SensorVibration, "vibration", 0, 10, "m/s²"),
	"emergency_stop":   {ID: model.SensorEmergencyStop, Type: "emergency_stop"},
}

// Lookup resolves a flat key, or a canonical sensor id, to its metadata.
func Lookup(key string) (Meta, bool) {
	if m, ok := flatMapping[key]; ok {
		return m, true
	}
	for _, m := range flatMapping {
		if m.ID == key {
			return m, true
		}
	}
	return Meta{}, false
}

// Reading builds a reading for m carrying v.
func (m Meta) Reading(v model.Value) model.Reading {
	return model.Reading{ID: m.ID, Type: m.Type, Value: v, Min: m.Min, Max: m.Max, Unit: m.Unit}
}

// MapFlat converts flat telemetry into readings. Unknown keys are dropped.
// Known keys come out in a fixed order; a canonical id follows its flat
// alias.
func MapFlat(values map[string]any) []model.Reading {
	out := make([]model.Reading, 0, len(values))
	for _, key := range flatKeys {
		m := flatMapping[key]
		if v, ok := values[key]; ok {
			out = append(out, m.Reading(model.ValueOf(v)))
		}
		if m.ID == key {
			continue
		}
		if v, ok := values[m.ID]; ok {
			out = append(out, m.Reading(model.ValueOf(v)))
		}
	}
	return out
}
