// Package config holds the two configuration layers of the importer: the
// static run config (connection string, middle cache settings, output list)
// and the dynamic Value tree used for table definitions.
//
// Table definitions are authored by users and arrive as arbitrary JSON, so
// they cannot be decoded into fixed structs up front. Value wraps the decoded
// JSON and gives the schema compiler typed, error-reporting access to it.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind classifies a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindString
	KindTable
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindTable:
		return "table"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// ConfigError reports a malformed field in a user-provided definition.
// Owner describes what was being configured ("The table", "Column entry"),
// so the message reads as a full sentence.
type ConfigError struct {
	Owner  string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return e.Owner + " " + e.Reason
}

// Value is one node of a decoded definition tree. The zero Value has
// KindNil. Values are cheap to copy and never mutated after decoding.
//
// Numbers are kept as json.Number so large integers survive the trip
// through the decoder; use AsInt or AsFloat to convert.
type Value struct {
	raw any
}

// FromAny wraps a plain Go value. Accepted leaf types are nil, bool, string,
// json.Number and the built-in numeric types; containers are map[string]any
// and []any. Mostly useful in tests, where literals beat JSON strings.
func FromAny(v any) Value {
	return Value{raw: v}
}

// ParseValue decodes a single JSON document into a Value.
func ParseValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("parse definition: %w", err)
	}
	if dec.More() {
		return Value{}, fmt.Errorf("parse definition: trailing data after JSON value")
	}
	return Value{raw: raw}, nil
}

// UnmarshalJSON lets Value sit directly in config structs.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	v.raw = raw
	return nil
}

func (v Value) Kind() Kind {
	switch v.raw.(type) {
	case nil:
		return KindNil
	case bool:
		return KindBool
	case json.Number, float64, int, int64:
		return KindNumber
	case string:
		return KindString
	case map[string]any:
		return KindTable
	case []any:
		return KindArray
	default:
		return KindNil
	}
}

func (v Value) IsNil() bool   { return v.Kind() == KindNil }
func (v Value) IsTable() bool { return v.Kind() == KindTable }
func (v Value) IsArray() bool { return v.Kind() == KindArray }

// AsBool returns the boolean value; ok is false when the kind differs.
func (v Value) AsBool() (value, ok bool) {
	b, ok := v.raw.(bool)
	return b, ok
}

// AsString returns the string value; ok is false when the kind differs.
func (v Value) AsString() (string, bool) {
	s, ok := v.raw.(string)
	return s, ok
}

// AsFloat returns the numeric value as float64.
func (v Value) AsFloat() (float64, bool) {
	switch n := v.raw.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// AsInt returns the numeric value as int64. Fractional numbers report
// ok == false; they are never truncated silently.
func (v Value) AsInt() (int64, bool) {
	switch n := v.raw.(type) {
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

// Field returns the named field of a table Value. Absent fields and
// non-table receivers yield the nil Value, so lookups chain safely.
func (v Value) Field(name string) Value {
	m, ok := v.raw.(map[string]any)
	if !ok {
		return Value{}
	}
	return Value{raw: m[name]}
}

// Has reports whether a table Value carries the named field.
func (v Value) Has(name string) bool {
	m, ok := v.raw.(map[string]any)
	if !ok {
		return false
	}
	_, present := m[name]
	return present
}

// Keys returns the field names of a table Value, sorted.
func (v Value) Keys() []string {
	m, ok := v.raw.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the element count of an array Value, 0 otherwise.
func (v Value) Len() int {
	a, ok := v.raw.([]any)
	if !ok {
		return 0
	}
	return len(a)
}

// Index returns the i-th element of an array Value, the nil Value when out
// of range.
func (v Value) Index(i int) Value {
	a, ok := v.raw.([]any)
	if !ok || i < 0 || i >= len(a) {
		return Value{}
	}
	return Value{raw: a[i]}
}

// Each calls fn for every element of an array Value, stopping at the first
// error.
func (v Value) Each(fn func(i int, el Value) error) error {
	a, ok := v.raw.([]any)
	if !ok {
		return nil
	}
	for i, el := range a {
		if err := fn(i, Value{raw: el}); err != nil {
			return err
		}
	}
	return nil
}

// RequireString reads a mandatory string field from a table Value. The
// owner string names the surrounding definition and becomes the subject of
// the error message.
func (v Value) RequireString(field, owner string) (string, error) {
	f := v.Field(field)
	s, ok := f.AsString()
	if !ok {
		return "", &ConfigError{
			Owner:  owner,
			Field:  field,
			Reason: fmt.Sprintf("must contain a string '%s' field.", field),
		}
	}
	return s, nil
}

// GetString reads an optional string field, returning def when the field is
// absent or nil.
func (v Value) GetString(field, owner, def string) (string, error) {
	f := v.Field(field)
	if f.IsNil() {
		return def, nil
	}
	s, ok := f.AsString()
	if !ok {
		return "", &ConfigError{
			Owner:  owner,
			Field:  field,
			Reason: fmt.Sprintf("must contain a string '%s' field.", field),
		}
	}
	return s, nil
}

// GetBool reads an optional boolean field, returning def when the field is
// absent or nil.
func (v Value) GetBool(field, owner string, def bool) (bool, error) {
	f := v.Field(field)
	if f.IsNil() {
		return def, nil
	}
	b, ok := f.AsBool()
	if !ok {
		return false, &ConfigError{
			Owner:  owner,
			Field:  field,
			Reason: "must be a boolean field.",
		}
	}
	return b, nil
}

// GetNumber reads an optional numeric field, returning def when the field is
// absent or nil.
func (v Value) GetNumber(field, owner string, def float64) (float64, error) {
	f := v.Field(field)
	if f.IsNil() {
		return def, nil
	}
	n, ok := f.AsFloat()
	if !ok {
		return 0, &ConfigError{
			Owner:  owner,
			Field:  field,
			Reason: "must be a number field.",
		}
	}
	return n, nil
}
