package query

import (
	"bytes"
	"encoding/json"
)

// ResultRow is a flat, ordered mapping of dimension-name to group-key value
// and measure-key to aggregate. Keys keep insertion order; setting an
// existing key overwrites its value in place, so a measure-key collision is
// an explicit last-write-wins.
type ResultRow struct {
	keys   []string
	values map[string]any
}

func NewResultRow() *ResultRow {
	return &ResultRow{values: make(map[string]any)}
}

// Set assigns v to key, appending the key on first write.
func (r *ResultRow) Set(key string, v any) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// Get returns the value stored under key.
func (r *ResultRow) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (r *ResultRow) Keys() []string {
	return r.keys
}

// MarshalJSON renders the row as a JSON object with keys in insertion order.
func (r *ResultRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		value, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
