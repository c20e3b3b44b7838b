package graph

import (
	"encoding/json"
	"fmt"
)

// Metadata is structured relation metadata. Values are restricted to a
// closed variant set (null, string, number, bool, object, array) so every
// payload survives a JSON round trip unchanged.
type Metadata map[string]Value

// ValueKind enumerates the metadata variants
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindObject
	KindArray
)

// Value is one metadata variant
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	obj  map[string]Value
	arr  []Value
}

// Constructors.

func Null() Value                      { return Value{kind: KindNull} }
func String(s string) Value            { return Value{kind: KindString, str: s} }
func Number(n float64) Value           { return Value{kind: KindNumber, num: n} }
func Bool(b bool) Value                { return Value{kind: KindBool, b: b} }
func Object(m map[string]Value) Value  { return Value{kind: KindObject, obj: m} }
func Array(items []Value) Value        { return Value{kind: KindArray, arr: items} }

// Kind returns the variant tag
func (v Value) Kind() ValueKind { return v.kind }

// Accessors return the value and whether the variant matches.

func (v Value) AsString() (string, bool)           { return v.str, v.kind == KindString }
func (v Value) AsNumber() (float64, bool)          { return v.num, v.kind == KindNumber }
func (v Value) AsBool() (bool, bool)               { return v.b, v.kind == KindBool }
func (v Value) AsObject() (map[string]Value, bool) { return v.obj, v.kind == KindObject }
func (v Value) AsArray() ([]Value, bool)           { return v.arr, v.kind == KindArray }

// MarshalJSON implements json.Marshaler
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
	case KindObject:
		return json.Marshal(v.obj)
	case KindArray:
		return json.Marshal(v.arr)
	}
	return nil, fmt.Errorf("unknown metadata kind %d", v.kind)
}

// UnmarshalJSON implements json.Unmarshaler
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := fromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func fromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case bool:
		return Bool(t), nil
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, item := range t {
			val, err := fromAny(item)
			if err != nil {
				return Value{}, err
			}
			obj[k] = val
		}
		return Object(obj), nil
	case []any:
		arr := make([]Value, len(t))
		for i, item := range t {
			val, err := fromAny(item)
			if err != nil {
				return Value{}, err
			}
			arr[i] = val
		}
		return Array(arr), nil
	}
	return Value{}, fmt.Errorf("unsupported metadata value of type %T", raw)
}

// encode serializes metadata to the packed string stored on the edge.
// Empty metadata encodes to "" so the property stays absent.
func (m Metadata) encode() (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}

// decodeMetadata parses the packed string back into Metadata
func decodeMetadata(raw string) (Metadata, error) {
	if raw == "" {
		return nil, nil
	}
	var m Metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}
