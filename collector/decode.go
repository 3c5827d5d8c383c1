package collector

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ftahirops/gentop/model"
)

// ErrUndecodable is returned for payloads that are neither a reading array,
// a sensors envelope nor a flat telemetry object.
var ErrUndecodable = errors.New("undecodable frame")

// Decode parses one frame in any accepted shape:
//
//	[{"id": "rpm", "value": 1500}, ...]
//	{"sensors": [{"id": "rpm", "value": 1500}, ...]}
//	{"rpm": 1500, "coolant_temp": 85, ...}
func Decode(data []byte) ([]model.Reading, error) {
	s, err := DecodeSample(data)
	if err != nil {
		return nil, err
	}
	return s.Readings, nil
}

// DecodeSample is Decode that also keeps the optional "asset" and "ts"
// fields of an object payload.
func DecodeSample(data []byte) (model.Sample, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return model.Sample{}, fmt.Errorf("%w: empty payload", ErrUndecodable)
	}

	switch data[0] {
	case '[':
		readings, err := decodeReadings(data)
		if err != nil {
			return model.Sample{}, err
		}
		return model.Sample{Readings: readings}, nil
	case '{':
	default:
		return model.Sample{}, fmt.Errorf("%w: unexpected %q", ErrUndecodable, data[0])
	}

	var envelope struct {
		Asset   json.RawMessage `json:"asset"`
		Time    json.RawMessage `json:"ts"`
		Sensors json.RawMessage `json:"sensors"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return model.Sample{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	// asset and ts are optional; a malformed one is ignored
	s := model.Sample{}
	_ = json.Unmarshal(envelope.Asset, &s.Asset)
	_ = json.Unmarshal(envelope.Time, &s.Time)

	if len(envelope.Sensors) > 0 && envelope.Sensors[0] == '[' {
		readings, err := decodeReadings(envelope.Sensors)
		if err != nil {
			return model.Sample{}, fmt.Errorf("sensors: %w", err)
		}
		s.Readings = readings
		return s, nil
	}

	flat := make(map[string]any)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&flat); err != nil {
		return model.Sample{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	s.Readings = MapFlat(flat)
	return s, nil
}

// decodeReadings decodes a reading array entry by entry. Entries that are not
// objects are skipped; the array fails only when no entry survives.
func decodeReadings(data []byte) ([]model.Reading, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	readings := make([]model.Reading, 0, len(entries))
	var firstErr error
	for i, e := range entries {
		var r model.Reading
		if err := json.Unmarshal(e, &r); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("entry %d: %v", i, err)
			}
			continue
		}
		readings = append(readings, r)
	}
	if len(readings) == 0 && firstErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, firstErr)
	}
	return readings, nil
}
