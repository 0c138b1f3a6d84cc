// Package state provides typed, scoped, permissioned state variables for
// workflow execution, with change observation, TTL expiry, and JSON
// persistence.
package state

import (
	"encoding/json"
	"fmt"
)

// ValueType tags the dynamic kind of a variable's value. The tag is recorded
// when the variable is created and enforced on every subsequent write.
type ValueType string

const (
	// TypeInteger is a whole number (stored as int64).
	TypeInteger ValueType = "integer"
	// TypeReal is a floating-point number (stored as float64).
	TypeReal ValueType = "real"
	// TypeText is a string.
	TypeText ValueType = "text"
	// TypeBoolean is true/false.
	TypeBoolean ValueType = "boolean"
	// TypeSequence is an ordered list of values.
	TypeSequence ValueType = "sequence"
	// TypeMapping is a string-keyed map of values.
	TypeMapping ValueType = "mapping"
	// TypeNull is the absent value.
	TypeNull ValueType = "null"
	// TypeAny accepts any value. Variables created with a nil value and no
	// declared type default to TypeAny.
	TypeAny ValueType = "any"
)

// TypeOf reports the ValueType tag for a Go value.
//
// Integer-valued kinds (int, int32, int64) map to TypeInteger; float32/float64
// map to TypeReal. []any, []string, []int and []float64 map to TypeSequence
// and map[string]any to TypeMapping; other slice and map types, like every
// other unrecognized kind, map to TypeAny.
func TypeOf(v any) ValueType {
	switch v.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBoolean
	case int, int32, int64:
		return TypeInteger
	case float32, float64:
		return TypeReal
	case string:
		return TypeText
	case []any, []string, []int, []float64:
		return TypeSequence
	case map[string]any:
		return TypeMapping
	case json.Number:
		return TypeReal
	default:
		return TypeAny
	}
}

// Coerce attempts to convert v to the target type tag. It returns the
// converted value and true on success, or the original value and false when
// no safe conversion exists.
//
// Supported coercions are numeric widening (integer to real), numeric
// narrowing when exact (real with zero fraction to integer), and
// JSON-decoded numbers to either numeric tag.
func Coerce(v any, target ValueType) (any, bool) {
	if v == nil {
		return nil, target == TypeNull || target == TypeAny
	}
	actual := TypeOf(v)
	if actual == target || target == TypeAny {
		return v, true
	}
	switch target {
	case TypeReal:
		switch n := v.(type) {
		case int:
			return float64(n), true
		case int32:
			return float64(n), true
		case int64:
			return float64(n), true
		case json.Number:
			f, err := n.Float64()
			return f, err == nil
		}
	case TypeInteger:
		switch n := v.(type) {
		case float64:
			if n == float64(int64(n)) {
				return int64(n), true
			}
		case json.Number:
			i, err := n.Int64()
			return i, err == nil
		}
	case TypeSequence:
		switch s := v.(type) {
		case []string:
			out := make([]any, len(s))
			for i, e := range s {
				out[i] = e
			}
			return out, true
		case []int:
			out := make([]any, len(s))
			for i, e := range s {
				out[i] = e
			}
			return out, true
		case []float64:
			out := make([]any, len(s))
			for i, e := range s {
				out[i] = e
			}
			return out, true
		}
	}
	return v, false
}

// compatible reports whether a value of type actual may be stored in a slot
// recorded as declared, possibly after Coerce.
func compatible(declared, actual ValueType) bool {
	if declared == TypeAny || actual == declared {
		return true
	}
	if actual == TypeNull {
		// Null is storable in any slot; expiry and absence are handled
		// separately.
		return true
	}
	if declared == TypeReal && actual == TypeInteger {
		return true
	}
	return false
}

func (t ValueType) String() string { return string(t) }

// ParseValueType converts a persisted tag back to a ValueType.
func ParseValueType(s string) (ValueType, error) {
	switch ValueType(s) {
	case TypeInteger, TypeReal, TypeText, TypeBoolean, TypeSequence, TypeMapping, TypeNull, TypeAny:
		return ValueType(s), nil
	}
	return TypeAny, fmt.Errorf("unknown value type %q", s)
}
