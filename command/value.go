package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/xiaojinao/cellium/errors"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	// KindNull is the zero Value
	KindNull Kind = iota
	// KindString holds opaque text
	KindString
	// KindNumber holds a float64
	KindNumber
	// KindBool holds a boolean
	KindBool
	// KindMap holds an ordered string-keyed mapping
	KindMap
	// KindSeq holds an ordered sequence
	KindSeq
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindMap:
		return "map"
	case KindSeq:
		return "seq"
	default:
		return "unknown"
	}
}

// Value is the closed set of types that may cross the wire boundary:
// string, number, boolean, null, ordered mapping, or sequence.
// Handler results outside this set are a contract violation surfaced
// as a serialization error, never silently coerced.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	m    *Map
	seq  []Value
}

// Map is an ordered string-keyed mapping of Values.
// Key order is insertion order and survives JSON round-trips.
type Map struct {
	keys []string
	vals map[string]Value
}

// NewMap creates an empty ordered map
func NewMap() *Map {
	return &Map{vals: make(map[string]Value)}
}

// Set stores v under key, preserving first-insertion order
func (m *Map) Set(key string, v Value) {
	if _, exists := m.vals[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = v
}

// Get returns the value stored under key
func (m *Map) Get(key string) (Value, bool) {
	v, ok := m.vals[key]
	return v, ok
}

// Keys returns keys in insertion order
func (m *Map) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of entries
func (m *Map) Len() int {
	return len(m.keys)
}

// Null returns the null Value
func Null() Value {
	return Value{kind: KindNull}
}

// String returns a string Value
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// Number returns a numeric Value
func Number(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

// Bool returns a boolean Value
func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// MapValue wraps an ordered map as a Value
func MapValue(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: KindMap, m: m}
}

// Seq returns a sequence Value
func Seq(items ...Value) Value {
	return Value{kind: KindSeq, seq: items}
}

// Kind returns the variant held by v
func (v Value) Kind() Kind {
	return v.kind
}

// IsNull reports whether v is the null Value
func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// Text returns the string content for KindString, else ""
func (v Value) Text() string {
	if v.kind == KindString {
		return v.str
	}
	return ""
}

// Float returns the numeric content for KindNumber, else 0
func (v Value) Float() float64 {
	if v.kind == KindNumber {
		return v.num
	}
	return 0
}

// Truth returns the boolean content for KindBool, else false
func (v Value) Truth() bool {
	if v.kind == KindBool {
		return v.b
	}
	return false
}

// AsMap returns the mapping content for KindMap, else nil
func (v Value) AsMap() *Map {
	if v.kind == KindMap {
		return v.m
	}
	return nil
}

// AsSeq returns the sequence content for KindSeq, else nil
func (v Value) AsSeq() []Value {
	if v.kind == KindSeq {
		return v.seq
	}
	return nil
}

// FromAny converts a handler result into a Value. Supported inputs are
// nil, string, bool, integer and float types, Value, *Map, []Value,
// []any, and map[string]any (key order sorted by encoding/json rules is
// NOT preserved for raw maps; use *Map when order matters).
// Anything else fails with ErrNotSerializable.
func FromAny(in any) (Value, error) {
	switch t := in.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case float32:
		return Number(float64(t)), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return Null(), errors.WrapInvalid(
				errors.ErrNotSerializable, "Value", "FromAny", "non-finite number check")
		}
		return Number(t), nil
	case *Map:
		return MapValue(t), nil
	case []Value:
		return Seq(t...), nil
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Null(), err
			}
			items = append(items, v)
		}
		return Seq(items...), nil
	case map[string]any:
		// Round-trip through JSON to reuse the ordered decoder; raw Go maps
		// have no stable order to preserve in the first place.
		data, err := json.Marshal(t)
		if err != nil {
			return Null(), errors.WrapInvalid(
				errors.ErrNotSerializable, "Value", "FromAny", "map conversion")
		}
		return DecodeJSON(data)
	default:
		return Null(), errors.WrapInvalid(
			fmt.Errorf("%w: %T", errors.ErrNotSerializable, in),
			"Value", "FromAny", "type check")
	}
}

// MarshalJSON implements json.Marshaler, preserving map key order
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encodeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encodeJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindString:
		data, err := json.Marshal(v.str)
		if err != nil {
			return err
		}
		buf.Write(data)
	case KindNumber:
		data, err := json.Marshal(v.num)
		if err != nil {
			return err
		}
		buf.Write(data)
	case KindBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindMap:
		buf.WriteByte('{')
		for i, key := range v.m.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyData, err := json.Marshal(key)
			if err != nil {
				return err
			}
			buf.Write(keyData)
			buf.WriteByte(':')
			if err := v.m.vals[key].encodeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case KindSeq:
		buf.WriteByte('[')
		for i, item := range v.seq {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encodeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	}
	return nil
}

// Encode serializes a Value to its wire form. Strings cross the boundary
// as plain text; everything else is serialized to JSON.
func (v Value) Encode() (string, error) {
	if v.kind == KindString {
		return v.str, nil
	}
	if v.kind == KindNumber {
		// Integral numbers render without a decimal point so that
		// "calc:calc:1+1" returns "2", not "2.000000".
		if v.num == math.Trunc(v.num) && !math.IsInf(v.num, 0) {
			return fmt.Sprintf("%d", int64(v.num)), nil
		}
		return fmt.Sprintf("%g", v.num), nil
	}
	data, err := v.MarshalJSON()
	if err != nil {
		return "", errors.WrapInvalid(errors.ErrNotSerializable, "Value", "Encode", "JSON encoding")
	}
	return string(data), nil
}

// DecodeJSON parses JSON into a Value, preserving object key order.
// It uses the token stream rather than map decoding so that mapping
// order survives the round-trip.
func DecodeJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return Null(), errors.WrapInvalid(err, "Value", "DecodeJSON", "JSON decoding")
	}

	// Trailing garbage after the first value is a decode failure
	if dec.More() {
		return Null(), errors.WrapInvalid(
			errors.New("trailing data after JSON value"), "Value", "DecodeJSON", "JSON decoding")
	}

	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Null(), err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Null(), err
		}
		return Number(f), nil
	case json.Delim:
		switch t {
		case '{':
			m := NewMap()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Null(), err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Null(), fmt.Errorf("unexpected object key token %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return Null(), err
				}
				m.Set(key, val)
			}
			// Consume closing '}'
			if _, err := dec.Token(); err != nil {
				return Null(), err
			}
			return MapValue(m), nil
		case '[':
			var items []Value
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return Null(), err
				}
				items = append(items, val)
			}
			// Consume closing ']'
			if _, err := dec.Token(); err != nil {
				return Null(), err
			}
			return Seq(items...), nil
		}
	}
	return Null(), fmt.Errorf("unexpected JSON token %v", tok)
}
