package agent

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ValueKind identifies the shape of a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject
)

// Value is a typed representation of a dynamic tool argument or result.
// It replaces untyped maps so tool implementations keep schema flexibility
// without losing type safety.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	arr  []Value
	obj  map[string]Value
}

// Null returns the null Value. The zero Value is also null.
func Null() Value { return Value{kind: KindNull} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number wraps a float64.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Bool wraps a bool.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Array wraps a slice of Values.
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }

// Object wraps a map of Values. The map is used as-is, not copied.
func Object(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindObject, obj: fields}
}

// Kind returns the Value's kind.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether the Value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string payload, if any.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// AsNumber returns the numeric payload, if any.
func (v Value) AsNumber() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// AsBool returns the boolean payload, if any.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsArray returns the array payload, if any.
func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

// AsObject returns the object payload, if any.
func (v Value) AsObject() (map[string]Value, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.obj, true
}

// Field returns the named field of an object Value.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindObject {
		return Null(), false
	}
	f, ok := v.obj[name]
	return f, ok
}

// StringField returns the named field as a string, or the fallback when the
// field is missing or not a string.
func (v Value) StringField(name, fallback string) string {
	f, ok := v.Field(name)
	if !ok {
		return fallback
	}
	s, ok := f.AsString()
	if !ok {
		return fallback
	}
	return s
}

// NumberField returns the named field as a float64, or the fallback.
func (v Value) NumberField(name string, fallback float64) float64 {
	f, ok := v.Field(name)
	if !ok {
		return fallback
	}
	n, ok := f.AsNumber()
	if !ok {
		return fallback
	}
	return n
}

// BoolField returns the named field as a bool, or the fallback.
func (v Value) BoolField(name string, fallback bool) bool {
	f, ok := v.Field(name)
	if !ok {
		return fallback
	}
	b, ok := f.AsBool()
	if !ok {
		return fallback
	}
	return b
}

// Text renders a scalar Value as a plain string for transcript content.
// Arrays and objects render as compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.str
	case KindNumber:
		return formatNumber(v.num)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// Keys returns the sorted field names of an object Value.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.obj)
	default:
		return nil, fmt.Errorf("unknown value kind %d", v.kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts a decoded JSON value (nil, string, float64, bool, []any,
// map[string]any) into a Value.
func FromAny(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case bool:
		return Bool(t), nil
	case []interface{}:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			val, err := FromAny(item)
			if err != nil {
				return Null(), err
			}
			items = append(items, val)
		}
		return Array(items...), nil
	case map[string]interface{}:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			val, err := FromAny(item)
			if err != nil {
				return Null(), err
			}
			fields[k] = val
		}
		return Object(fields), nil
	default:
		return Null(), fmt.Errorf("unsupported value type %T", raw)
	}
}

// ParseValue decodes raw JSON into a Value.
func ParseValue(data []byte) (Value, error) {
	if len(data) == 0 {
		return Null(), nil
	}
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return Null(), fmt.Errorf("parse value: %w", err)
	}
	return v, nil
}

// ToAny converts a Value back into plain decoded-JSON shapes.
func (v Value) ToAny() interface{} {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindArray:
		out := make([]interface{}, 0, len(v.arr))
		for _, item := range v.arr {
			out = append(out, item.ToAny())
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, len(v.obj))
		for k, item := range v.obj {
			out[k] = item.ToAny()
		}
		return out
	default:
		return nil
	}
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}
