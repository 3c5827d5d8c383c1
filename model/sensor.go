package model

// Known sensor identifiers.
const (
	SensorRPM             = "rpm"
	SensorCoolantTemp     = "engine_temp_coolant"
	SensorOilTemp         = "oil_temp"
	SensorOilPressure     = "oil_pressure"
	SensorFuelPressure    = "fuel_pressure"
	SensorFuelLevel       = "fuel_level"
	SensorFuelConsumption = "fuel_consumption"
	SensorVoltage         = "voltage"
	SensorCurrent         = "current"
	SensorECUErrors       = "ecu_errors"
	SensorFuelLeak        = "fuel_leak"
	SensorOilLeak         = "oil_leak"
	SensorCoolantPressure = "coolant_pressure"
	SensorOverheat        = "overheat"
	SensorVibration       = "vibration"
	SensorEmergencyStop   = "emergency_stop"
)

// DerivedSensors are the ids the analyzer computes and injects into every
// enriched frame, in output order.
var DerivedSensors = []string{SensorECUErrors, SensorFuelLeak, SensorOverheat, SensorEmergencyStop}

// StabilizationSensors must all score normal before a latched emergency stop
// may begin to clear.
var StabilizationSensors = []string{
	SensorOilPressure,
	SensorCoolantTemp,
	SensorVoltage,
	SensorVibration,
	SensorFuelPressure,
}
