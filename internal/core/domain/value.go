package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ValueKind identifies the variant held by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is a tagged JSON value. Event parameters and rule operands are
// modeled as Values so that rule evaluation and wire encoding are total
// functions: every JSON document maps to a Value and back without loss.
type Value struct {
	Kind   ValueKind
	Bool   bool
	Number float64
	Str    string
	Array  []Value
	Object map[string]Value
}

// Null is the zero Value. Lookups of unknown parameters resolve to Null,
// which never matches any comparison.
var Null = Value{Kind: KindNull}

func BoolValue(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Number: n} }
func StringValue(s string) Value  { return Value{Kind: KindString, Str: s} }

func ArrayValue(items ...Value) Value {
	return Value{Kind: KindArray, Array: items}
}

func ObjectValue(fields map[string]Value) Value {
	return Value{Kind: KindObject, Object: fields}
}

// IsNull reports whether the value is the null variant.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Equal reports deep equality between two values. Values of different
// kinds are never equal.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindNumber:
		return v.Number == o.Number
	case KindString:
		return v.Str == o.Str
	case KindArray:
		if len(v.Array) != len(o.Array) {
			return false
		}
		for i := range v.Array {
			if !v.Array[i].Equal(o.Array[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.Object) != len(o.Object) {
			return false
		}
		for k, vv := range v.Object {
			ov, ok := o.Object[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders the value for logging and debug output.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindNumber:
		return fmt.Sprintf("%g", v.Number)
	case KindString:
		return v.Str
	case KindArray:
		parts := make([]string, len(v.Array))
		for i, item := range v.Array {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case KindObject:
		keys := make([]string, 0, len(v.Object))
		for k := range v.Object {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ":" + v.Object[k].String()
		}
		return "{" + strings.Join(parts, ",") + "}"
	}
	return ""
}

// MarshalJSON encodes the value as plain JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.Bool)
	case KindNumber:
		return json.Marshal(v.Number)
	case KindString:
		return json.Marshal(v.Str)
	case KindArray:
		if v.Array == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.Array)
	case KindObject:
		if v.Object == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.Object)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.Kind)
}

// UnmarshalJSON decodes arbitrary JSON into the tagged representation.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	decoded, err := fromAny(raw)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

func fromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null, nil
	case bool:
		return BoolValue(t), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Null, err
		}
		return NumberValue(n), nil
	case float64:
		return NumberValue(t), nil
	case string:
		return StringValue(t), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			decoded, err := fromAny(item)
			if err != nil {
				return Null, err
			}
			items[i] = decoded
		}
		return Value{Kind: KindArray, Array: items}, nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			decoded, err := fromAny(item)
			if err != nil {
				return Null, err
			}
			fields[k] = decoded
		}
		return Value{Kind: KindObject, Object: fields}, nil
	}
	return Null, fmt.Errorf("unsupported JSON type %T", raw)
}
