package model

// AnalyzerState is the only state the analyzer carries between frames.
// The zero value is the cold-start state.
type AnalyzerState struct {
	LastRPM               *float64 `json:"last_rpm,omitempty"`
	LastFuelLevel         *float64 `json:"last_fuel_level,omitempty"`
	LastFuelLeakConfirmed bool     `json:"last_fuel_leak_confirmed"`
	EmergencyActive       bool     `json:"emergency_active"`
	EmergencyClearStreak  int      `json:"emergency_clear_streak"`
}
