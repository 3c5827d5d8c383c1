package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrMalformedBound marks a reading whose min or max was not a number.
var ErrMalformedBound = errors.New("malformed bound")

// Severity is the ordinal classification attached to a reading.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities: normal < warning < critical.
func (s Severity) Rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	}
	return 0
}

// Elevated reports whether the severity is warning or critical.
func (s Severity) Elevated() bool {
	return s == SeverityWarning || s == SeverityCritical
}

// Reading is one measurement as supplied by a source.
type Reading struct {
	ID    string
	Type  string
	Value Value
	Min   *float64
	Max   *float64
	Unit  string

	// undecodable bound text, kept so the reading re-encodes as received
	badMin, badMax json.RawMessage
}

// readingWire is the JSON form of a Reading.
type readingWire struct {
	ID    string          `json:"id"`
	Type  string          `json:"type,omitempty"`
	Value Value           `json:"value"`
	Min   json.RawMessage `json:"min,omitempty"`
	Max   json.RawMessage `json:"max,omitempty"`
	Unit  string          `json:"unit,omitempty"`
}

// Malformed reports a min or max that could not be decoded as a number.
// The bound itself is left nil.
func (r Reading) Malformed() error {
	switch {
	case r.badMin != nil:
		return fmt.Errorf("%w: min=%s", ErrMalformedBound, r.badMin)
	case r.badMax != nil:
		return fmt.Errorf("%w: max=%s", ErrMalformedBound, r.badMax)
	}
	return nil
}

func (r Reading) wire() readingWire {
	return readingWire{
		ID:    r.ID,
		Type:  r.Type,
		Value: r.Value,
		Min:   boundJSON(r.Min, r.badMin),
		Max:   boundJSON(r.Max, r.badMax),
		Unit:  r.Unit,
	}
}

func boundJSON(v *float64, bad json.RawMessage) json.RawMessage {
	if bad != nil {
		return bad
	}
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return strconv.AppendFloat(nil, *v, 'g', -1, 64)
}

// MarshalJSON implements json.Marshaler.
func (r Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.wire())
}

// UnmarshalJSON decodes a reading object field by field so that one bad
// field never loses the reading. A non-string id is kept as its JSON text;
// non-numeric bounds are dropped and reported by Malformed.
func (r *Reading) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID    json.RawMessage `json:"id"`
		Type  json.RawMessage `json:"type"`
		Value Value           `json:"value"`
		Min   json.RawMessage `json:"min"`
		Max   json.RawMessage `json:"max"`
		Unit  json.RawMessage `json:"unit"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Reading{
		ID:    looseString(raw.ID),
		Type:  looseString(raw.Type),
		Value: raw.Value,
		Unit:  looseString(raw.Unit),
	}
	var ok bool
	if out.Min, ok = looseBound(raw.Min); !ok {
		out.badMin = compact(raw.Min)
	}
	if out.Max, ok = looseBound(raw.Max); !ok {
		out.badMax = compact(raw.Max)
	}
	*r = out
	return nil
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return append(json.RawMessage(nil), raw...)
	}
	return buf.Bytes()
}

func looseString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(compact(raw))
}

// looseBound decodes an optional numeric bound. ok is false when a value
// was present but not a finite number.
func looseBound(raw json.RawMessage) (*float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, true
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, false
	}
	return &f, true
}

// ScoredReading is a Reading with its severity and risk probability.
type ScoredReading struct {
	Reading
	Severity        Severity
	RiskProbability float64
}

type scoredWire struct {
	readingWire
	Severity        Severity `json:"severity"`
	RiskProbability float64  `json:"risk_probability"`
}

// MarshalJSON implements json.Marshaler; it shadows the promoted
// Reading.MarshalJSON so the scoring fields are written.
func (s ScoredReading) MarshalJSON() ([]byte, error) {
	return json.Marshal(scoredWire{
		readingWire:     s.Reading.wire(),
		Severity:        s.Severity,
		RiskProbability: s.RiskProbability,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *ScoredReading) UnmarshalJSON(data []byte) error {
	var scored struct {
		Severity        Severity `json:"severity"`
		RiskProbability float64  `json:"risk_probability"`
	}
	if err := json.Unmarshal(data, &scored); err != nil {
		return err
	}
	if err := s.Reading.UnmarshalJSON(data); err != nil {
		return err
	}
	s.Severity = scored.Severity
	s.RiskProbability = scored.RiskProbability
	return nil
}

// Score builds a ScoredReading, clamping p into [0,1] and rounding to three
// decimals. Severity and probability always come from the same call.
func Score(r Reading, sev Severity, p float64) ScoredReading {
	return ScoredReading{
		Reading:         r,
		Severity:        sev,
		RiskProbability: RoundProbability(p),
	}
}

// RoundProbability clamps p into [0,1] and rounds it to three decimals.
// NaN maps to 0.
func RoundProbability(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return math.Round(p*1000) / 1000
}

// Bound returns a pointer to v, for Reading.Min and Reading.Max literals.
func Bound(v float64) *float64 { return &v }
