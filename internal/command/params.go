package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Params is a string-keyed mapping of loosely typed values that remembers
// insertion (or decoding) order.
type Params struct {
	keys   []string
	values map[string]any
	// raw keeps the encoded form of decoded values so nested objects can
	// be re-read in order.
	raw map[string]json.RawMessage
}

// NewParams builds Params from alternating key/value pairs.
func NewParams(kv ...any) Params {
	var p Params
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		p.Set(k, kv[i+1])
	}
	return p
}

// ParamsFromMap copies m. Key order follows Go map iteration and is
// therefore unspecified.
func ParamsFromMap(m map[string]any) Params {
	var p Params
	for k, v := range m {
		p.Set(k, v)
	}
	return p
}

// Set inserts or replaces a value. Replacing keeps the original position.
func (p *Params) Set(key string, value any) {
	if p.values == nil {
		p.values = make(map[string]any)
	}
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
	delete(p.raw, key)
}

// Delete removes key if present.
func (p *Params) Delete(key string) {
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	delete(p.raw, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i:i], p.keys[i+1:]...)
			break
		}
	}
}

func (p Params) Get(key string) (any, bool) {
	v, ok := p.values[key]
	return v, ok
}

func (p Params) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

// Raw returns the JSON a value was decoded from. It is absent for values
// set in code.
func (p Params) Raw(key string) (json.RawMessage, bool) {
	r, ok := p.raw[key]
	return r, ok
}

func (p Params) Len() int { return len(p.keys) }

// Keys returns the keys in order.
func (p Params) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// String returns the value under key when it is a string, or its
// formatted form for numbers and booleans.
func (p Params) String(key string) string {
	v, ok := p.values[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Float returns the numeric value under key. Numeric strings are accepted.
func (p Params) Float(key string) (float64, bool) {
	v, ok := p.values[key]
	if !ok {
		return 0, false
	}
	return AsFloat(v)
}

// AsFloat converts a loosely typed number, or numeric string, to float64.
func AsFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Clone returns a shallow copy that can be modified independently.
func (p Params) Clone() Params {
	out := Params{keys: make([]string, len(p.keys)), values: make(map[string]any, len(p.values))}
	copy(out.keys, p.keys)
	for k, v := range p.values {
		out.values[k] = v
	}
	if len(p.raw) > 0 {
		out.raw = make(map[string]json.RawMessage, len(p.raw))
		for k, r := range p.raw {
			out.raw[k] = r
		}
	}
	return out
}

// Map returns a plain map copy, for callers that do not care about order.
func (p Params) Map() map[string]any {
	out := make(map[string]any, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p *Params) UnmarshalJSON(data []byte) error {
	*p = Params{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("parameters must be an object: %w", ErrMalformedMessage)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected parameter key %v: %w", tok, ErrMalformedMessage)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("param %q: %w", key, err)
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("param %q: %w", key, err)
		}
		p.Set(key, value)
		if p.raw == nil {
			p.raw = make(map[string]json.RawMessage)
		}
		p.raw[key] = raw
	}
	_, err = dec.Token()
	return err
}
