package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindString
	KindBool
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindMap:
		return "map"
	default:
		return "null"
	}
}

// Value is a small tagged union used for rule thresholds, rule metadata and
// violation details: null, number, string, bool or a nested map of values.
type Value struct {
	kind Kind
	num  float64
	str  string
	b    bool
	m    map[string]Value
}

// Number wraps a float.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Int wraps an integer as a number.
func Int(i int) Value { return Number(float64(i)) }

func String(s string) Value { return Value{kind: KindString, str: s} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Fields returns the entries of a map value, nil otherwise.
func (v Value) Fields() map[string]Value { return v.m }

// Number returns the numeric content of v. Numeric strings are accepted, and a
// map is searched for a "value" or "max" entry so structured thresholds such as
// {value: 95, unit: percent} resolve to their number.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		f, err := strconv.ParseFloat(v.str, 64)
		return f, err == nil
	case KindMap:
		for _, key := range []string{"value", "max"} {
			if inner, ok := v.m[key]; ok {
				return inner.Number()
			}
		}
	}
	return 0, false
}

// Get returns the entry of a map value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	inner, ok := v.m[key]
	return inner, ok
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindString:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindMap:
		return fmt.Sprint(v.m)
	default:
		return "null"
	}
}

// ValueOf converts a decoded JSON/YAML/TOML tree into a Value.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return Number(f), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, inner := range t {
			val, err := ValueOf(inner)
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", k, err)
			}
			m[k] = val
		}
		return Map(m), nil
	case map[any]any:
		// yaml.v2 decodes nested mappings with interface keys
		m := make(map[string]Value, len(t))
		for k, inner := range t {
			val, err := ValueOf(inner)
			if err != nil {
				return Value{}, fmt.Errorf("%v: %w", k, err)
			}
			m[fmt.Sprint(k)] = val
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.num)
	case KindString:
		return json.Marshal(v.str)
	case KindBool:
		return json.Marshal(v.b)
	case KindMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.m)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty value")
	}
	switch data[0] {
	case 'n':
		*v = Value{}
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case '{':
		var m map[string]Value
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		*v = Map(m)
		return nil
	case '[':
		return fmt.Errorf("list values are not supported")
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		*v = Number(f)
		return nil
	}
}

// UnmarshalYAML implements yaml.v2's Unmarshaler.
func (v *Value) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	val, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// UnmarshalTOML implements toml.Unmarshaler.
func (v *Value) UnmarshalTOML(data any) error {
	val, err := ValueOf(data)
	if err != nil {
		return err
	}
	*v = val
	return nil
}
