package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// ValueKind classifies the dynamic type carried by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindNumber
	KindBool
	KindString
	KindOther // objects, arrays, anything the decoder did not expect
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	}
	return "other"
}

// Value is a sensor reading value: numeric, boolean, or something malformed.
// Booleans are never treated as numbers.
type Value struct {
	kind ValueKind
	num  float64
	b    bool
	str  string
	raw  json.RawMessage
}

// Num returns a numeric value.
func Num(v float64) Value { return Value{kind: KindNumber, num: v} }

// Bool returns a boolean value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Str returns a string value.
func Str(v string) Value { return Value{kind: KindString, str: v} }

// Null returns the absent value.
func Null() Value { return Value{} }

// ValueOf converts a decoded Go value (as produced by encoding/json or by a
// caller building frames by hand) into a Value.
func ValueOf(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case bool:
		return Bool(x)
	case float64:
		return Num(x)
	case float32:
		return Num(float64(x))
	case int:
		return Num(float64(x))
	case int32:
		return Num(float64(x))
	case int64:
		return Num(float64(x))
	case uint:
		return Num(float64(x))
	case uint32:
		return Num(float64(x))
	case uint64:
		return Num(float64(x))
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Str(x.String())
		}
		return Num(f)
	case string:
		return Str(x)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Value{kind: KindOther}
	}
	return Value{kind: KindOther, raw: raw}
}

// Kind reports the dynamic type.
func (v Value) Kind() ValueKind { return v.kind }

// Float returns the numeric value and whether the value is a number.
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// Boolean returns the boolean value and whether the value is a bool.
func (v Value) Boolean() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// Truthy follows the usual dynamic-language notion of truth: false, 0, NaN,
// "" and null are false.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.num != 0 && !math.IsNaN(v.num)
	case KindString:
		return v.str != ""
	case KindOther:
		return len(v.raw) > 0 && !bytes.Equal(v.raw, []byte("{}")) && !bytes.Equal(v.raw, []byte("[]"))
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return fmt.Sprintf("%g", v.num)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindString:
		return v.str
	case KindOther:
		return string(v.raw)
	}
	return "null"
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindString:
		return json.Marshal(v.str)
	case KindOther:
		if len(v.raw) == 0 {
			return []byte("null"), nil
		}
		return v.raw, nil
	}
	return []byte("null"), nil
}

// UnmarshalJSON implements json.Unmarshaler. It never fails on well-formed
// JSON: unexpected shapes are kept as KindOther so the scorer can decide.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Null()
		return nil
	}
	switch data[0] {
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Str(s)
	case '{', '[':
		if !json.Valid(data) {
			return fmt.Errorf("invalid value %q", data)
		}
		*v = Value{kind: KindOther, raw: append(json.RawMessage(nil), data...)}
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			if !json.Valid(data) {
				return err
			}
			// out of float64 range
			*v = Value{kind: KindOther, raw: append(json.RawMessage(nil), data...)}
			return nil
		}
		*v = Num(f)
	}
	return nil
}
