package storage

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
)

// State is the entire persisted content: table name to Table.
type State map[string]Table

// Table maps a document identifier, stored as a decimal string, to its
// Document. Iteration order is defined by DocIDs.
type Table map[string]Document

// Document maps field names to values drawn from the value universe: string,
// int64, float64, bool, nil, map[string]any and []any.
type Document map[string]any

// Clone returns an independently owned deep copy of s. Numeric values are
// widened to int64 or float64 so that every backend reads back the same
// representation.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for name, t := range s {
		out[name] = t.Clone()
	}
	return out
}

// Tables returns the table names in s in lexical order.
func (s State) Tables() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Clone returns a deep copy of t.
func (t Table) Clone() Table {
	if t == nil {
		return nil
	}
	out := make(Table, len(t))
	for id, doc := range t {
		out[id] = doc.Clone()
	}
	return out
}

// DocIDs returns the integer identifiers of t in ascending order. Keys that
// are not decimal integers are skipped.
func (t Table) DocIDs() []int {
	ids := make([]int, 0, len(t))
	for key := range t {
		id, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// NextID returns the identifier a newly inserted document receives.
func (t Table) NextID() int {
	ids := t.DocIDs()
	if len(ids) == 0 {
		return 1
	}
	return ids[len(ids)-1] + 1
}

// Clone returns a deep copy of d. Values outside the value universe that
// have no representation in it are kept as they are; Normalize rejects them.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

// Normalize returns a deep copy of s converted into the value universe. A
// value with no representation fails with ErrMalformedState.
func (s State) Normalize() (State, error) {
	if s == nil {
		return nil, nil
	}
	out := make(State, len(s))
	for name, t := range s {
		nt := make(Table, len(t))
		for id, doc := range t {
			nd, err := normalizeDoc(doc)
			if err != nil {
				return nil, fmt.Errorf("%w: table %q: document %s %v", ErrMalformedState, name, id, err)
			}
			nt[id] = nd
		}
		out[name] = nt
	}
	return out, nil
}

func normalizeDoc(d Document) (Document, error) {
	out := make(Document, len(d))
	for k, v := range d {
		val, err := copyValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %v", k, err)
		}
		out[k] = val
	}
	return out, nil
}

func cloneValue(v any) any {
	val, err := copyValue(v)
	if err != nil {
		return v
	}
	return val
}

// copyValue deep-copies v into the value universe. Maps with string keys
// become map[string]any and slices or arrays become []any, whatever their
// element types. Unsigned integers above math.MaxInt64 widen to float64.
func copyValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, int64, float64:
		return val, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case float32:
		return float64(val), nil
	case json.Number:
		return normalize(val, false)
	case map[string]any:
		return copyMap(val)
	case Document:
		return copyMap(val)
	case []any:
		s := make([]any, len(val))
		for i, item := range val {
			c, err := copyValue(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %v", i, err)
			}
			s[i] = c
		}
		return s, nil
	}
	return copyReflect(reflect.ValueOf(v))
}

func copyMap(val map[string]any) (map[string]any, error) {
	m := make(map[string]any, len(val))
	for k, item := range val {
		c, err := copyValue(item)
		if err != nil {
			return nil, fmt.Errorf("key %q: %v", k, err)
		}
		m[k] = c
	}
	return m, nil
}

func copyReflect(rv reflect.Value) (any, error) {
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return float64(u), nil
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			c, err := copyValue(iter.Value().Interface())
			if err != nil {
				return nil, fmt.Errorf("key %q: %v", iter.Key().String(), err)
			}
			m[iter.Key().String()] = c
		}
		return m, nil
	case reflect.Slice, reflect.Array:
		s := make([]any, rv.Len())
		for i := range s {
			c, err := copyValue(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("index %d: %v", i, err)
			}
			s[i] = c
		}
		return s, nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return copyValue(rv.Elem().Interface())
	default:
		return nil, fmt.Errorf("unsupported value type %s", rv.Type())
	}
}

// fromRaw converts a decoded generic value into a State, rejecting any shape
// outside table -> document -> fields.
func fromRaw(raw map[string]any, integral bool) (State, error) {
	state := make(State, len(raw))
	for name, rawTable := range raw {
		t, err := tableFromRaw(rawTable, integral)
		if err != nil {
			return nil, fmt.Errorf("%w: table %q: %v", ErrMalformedState, name, err)
		}
		state[name] = t
	}
	return state, nil
}

func tableFromRaw(raw any, integral bool) (Table, error) {
	if raw == nil {
		return Table{}, nil
	}
	docs, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", raw)
	}
	t := make(Table, len(docs))
	for id, rawDoc := range docs {
		if rawDoc == nil {
			t[id] = Document{}
			continue
		}
		fields, ok := rawDoc.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("document %s: expected object, got %T", id, rawDoc)
		}
		doc, err := docFromRaw(fields, integral)
		if err != nil {
			return nil, fmt.Errorf("document %s %v", id, err)
		}
		t[id] = doc
	}
	return t, nil
}

func docFromRaw(fields map[string]any, integral bool) (Document, error) {
	doc := make(Document, len(fields))
	for k, v := range fields {
		val, err := normalize(v, integral)
		if err != nil {
			return nil, fmt.Errorf("field %q: %v", k, err)
		}
		doc[k] = val
	}
	return doc, nil
}

// normalize maps decoder output onto the value universe. When integral is
// set, whole float64 values become int64; codecs without a distinct integer
// type rely on this.
func normalize(v any, integral bool) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, int64:
		return val, nil
	case float64:
		if integral && val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int64(val), nil
		}
		return val, nil
	case interface{ Int64() (int64, error) }:
		if n, err := val.Int64(); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(fmt.Sprint(val), 64)
		if err != nil {
			return nil, err
		}
		return f, nil
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			n, err := normalize(item, integral)
			if err != nil {
				return nil, err
			}
			m[k] = n
		}
		return m, nil
	case []any:
		s := make([]any, len(val))
		for i, item := range val {
			n, err := normalize(item, integral)
			if err != nil {
				return nil, err
			}
			s[i] = n
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
