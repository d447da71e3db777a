package crawl

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ValueKind discriminates the closed set of value shapes an extraction can
// produce.
type ValueKind int

// Value kinds.
const (
	KindNull ValueKind = iota
	KindScalar
	KindList
)

// Value is a scalar string, null, or a sequence of strings. Sparse sequences
// never occur; list entries are always successfully extracted values.
type Value struct {
	Kind   ValueKind
	Scalar string
	List   []string
}

// NullValue returns the null Value.
func NullValue() Value { return Value{Kind: KindNull} }

// ScalarValue wraps a single string.
func ScalarValue(s string) Value { return Value{Kind: KindScalar, Scalar: s} }

// ListValue wraps a sequence of strings. A nil slice marshals as [].
func ListValue(items []string) Value { return Value{Kind: KindList, List: items} }

// MarshalJSON emits null, a JSON string, or a JSON array of strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindScalar:
		return json.Marshal(v.Scalar)
	case KindList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	default:
		return nil, fmt.Errorf("unknown value kind %d", v.Kind)
	}
}

// UnmarshalJSON accepts null, a string, or an array of strings.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*v = NullValue()
		return nil
	case len(trimmed) > 0 && trimmed[0] == '[':
		var items []string
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return fmt.Errorf("unmarshal list value: %w", err)
		}
		if items == nil {
			items = []string{}
		}
		*v = ListValue(items)
		return nil
	default:
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("unmarshal scalar value: %w", err)
		}
		*v = ScalarValue(s)
		return nil
	}
}

// Field pairs a rule name (or well-known fallback field name) with its
// extracted value.
type Field struct {
	Name  string
	Value Value
}

// ScrapedData is the ordered output record of the extraction engine. Field
// order mirrors rule input order, or the fixed fallback field order.
type ScrapedData struct {
	Fields []Field
}

// Append adds a field, preserving insertion order.
func (d *ScrapedData) Append(name string, value Value) {
	d.Fields = append(d.Fields, Field{Name: name, Value: value})
}

// Get returns the value for a field name.
func (d *ScrapedData) Get(name string) (Value, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Len returns the number of fields.
func (d *ScrapedData) Len() int { return len(d.Fields) }

// MarshalJSON emits a JSON object whose key order matches field order.
func (d ScrapedData) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range d.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, fmt.Errorf("marshal field name: %w", err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", f.Name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object back preserving its key order.
func (d *ScrapedData) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read scraped data: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("scraped data must be an object, got %v", tok)
	}
	d.Fields = nil
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read field name: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("field name must be a string, got %v", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("read field %q: %w", key, err)
		}
		var val Value
		if err := val.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		d.Append(key, val)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("read scraped data close: %w", err)
	}
	return nil
}
