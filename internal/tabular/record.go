// Package tabular converts between CSV text and ordered row records.
package tabular

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// ErrNotTabular is returned when a JSON document cannot be read as a list of rows.
var ErrNotTabular = errors.New("document is not tabular")

// Field is a single named cell of a Record.
type Field struct {
	Key   string
	Value any
}

// Record is a row whose fields keep the order they were read or built in.
// Go maps lose key order, and the header row of a CSV export is derived from
// the key order of the first row, so rows are kept as ordered field lists.
type Record []Field

// Get returns the value stored under key.
func (r Record) Get(key string) (any, bool) {
	for _, f := range r {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Keys returns the field names in order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for _, f := range r {
		keys = append(keys, f.Key)
	}
	return keys
}

// Set replaces the value under key, or appends a new field.
func (r Record) Set(key string, value any) Record {
	for i := range r {
		if r[i].Key == key {
			r[i].Value = value
			return r
		}
	}
	return append(r, Field{Key: key, Value: value})
}

// Project returns a new Record holding only keys, in the given order.
// Keys missing from r are skipped.
func (r Record) Project(keys []string) Record {
	out := make(Record, 0, len(keys))
	for _, k := range keys {
		if v, ok := r.Get(k); ok {
			out = append(out, Field{Key: k, Value: v})
		}
	}
	return out
}

// MarshalJSON encodes the record as a JSON object preserving field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", f.Key, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object preserving field order.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok != json.Delim('{') {
		return ErrNotTabular
	}
	rec, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// DecodeRecords reads rows out of a JSON document. Accepted shapes are an
// array of objects, an object wrapping such an array under "data", or a single
// object, which becomes one row.
func DecodeRecords(data []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return ToRecords(v)
}

// ToRecords converts an already-decoded value into rows. Maps are accepted
// for callers that decoded without order; their keys are sorted.
func ToRecords(v any) ([]Record, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []Record:
		return t, nil
	case Record:
		if inner, ok := t.Get("data"); ok {
			if _, isList := inner.([]any); isList {
				return ToRecords(inner)
			}
		}
		return []Record{t}, nil
	case map[string]any:
		if inner, ok := t["data"].([]any); ok {
			return ToRecords(inner)
		}
		return []Record{recordFromMap(t)}, nil
	case []map[string]any:
		out := make([]Record, 0, len(t))
		for _, m := range t {
			out = append(out, recordFromMap(m))
		}
		return out, nil
	case []any:
		out := make([]Record, 0, len(t))
		for i, item := range t {
			switch row := item.(type) {
			case Record:
				out = append(out, row)
			case map[string]any:
				out = append(out, recordFromMap(row))
			default:
				return nil, fmt.Errorf("%w: element %d is %T", ErrNotTabular, i, item)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrNotTabular, v)
	}
}

func recordFromMap(m map[string]any) Record {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rec := make(Record, 0, len(keys))
	for _, k := range keys {
		rec = append(rec, Field{Key: k, Value: m[k]})
	}
	return rec
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		return decodeObject(dec)
	case '[':
		return decodeArray(dec)
	default:
		return nil, fmt.Errorf("unexpected delimiter %q", delim)
	}
}

func decodeObject(dec *json.Decoder) (Record, error) {
	rec := Record{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", tok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		rec = append(rec, Field{Key: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return rec, nil
}

func decodeArray(dec *json.Decoder) ([]any, error) {
	items := []any{}
	for dec.More() {
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		items = append(items, val)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return items, nil
}

// FormatValue renders a cell value as CSV text.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.UTC().Format("2006-01-02T15:04:05.000Z")
	case fmt.Stringer:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
