// Package store defines the minimal document-store contract the chat core is
// built on: per-document atomic reads, conditional writes and ordered range
// scans. Backends live in subpackages (memstore, sqlstore, redisstore) and
// are injected at construction time.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
)

var (
	// ErrNotFound is returned by Get when no document exists under the id.
	ErrNotFound = errors.New("store: document not found")
	// ErrAlreadyExists is returned by Put in ModeCreate when the id is occupied.
	ErrAlreadyExists = errors.New("store: document already exists")
)

// Mode selects the write discipline for Put.
type Mode int

const (
	// ModeCreate fails with ErrAlreadyExists if the id is occupied.
	ModeCreate Mode = iota
	// ModeUpsert replaces the whole document.
	ModeUpsert
	// ModeMerge performs a shallow field-level update, leaving unspecified
	// fields untouched.
	ModeMerge
)

// Doc is one persisted document. Values follow JSON conventions: numbers are
// json.Number, nested objects map[string]any.
type Doc map[string]any

// Where is an equality filter on a top-level document field. Values must be
// plain scalars (string, bool, int64, float64).
type Where struct {
	Field string
	Value any
}

// Query bounds a Scan. The result is a finite slice; re-issuing the same
// query (optionally with a new offset) is how callers page.
type Query struct {
	Where   []Where
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// Store is the adapter every chat component talks to. Implementations must
// honor the context deadline on every call.
type Store interface {
	Get(ctx context.Context, collection, id string) (Doc, error)
	Put(ctx context.Context, collection, id string, doc Doc, mode Mode) error
	Scan(ctx context.Context, collection string, q Query) ([]Doc, error)
}

// Encode converts a struct into a Doc via a JSON round trip, so field names
// follow the struct's json tags and numbers survive as json.Number.
func Encode(v any) (Doc, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var d Doc
	if err := dec.Decode(&d); err != nil {
		return nil, err
	}
	return d, nil
}

// Decode is the inverse of Encode.
func Decode(d Doc, v any) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Clone deep-copies a document so backends never hand out aliased maps.
func Clone(d Doc) Doc {
	out := make(Doc, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}

// Matches reports whether the document satisfies every equality filter.
// Used by the map-based backends (memstore, redisstore).
func Matches(d Doc, where []Where) bool {
	for _, w := range where {
		got, ok := d[w.Field]
		if !ok {
			return false
		}
		if c, comparable := compare(got, w.Value); !comparable || c != 0 {
			return false
		}
	}
	return true
}

// Sort orders docs in place by the query's OrderBy field. Missing fields sort
// first. The sort is stable so equal keys keep insertion order.
func Sort(docs []Doc, orderBy string, desc bool) {
	if orderBy == "" {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		c, ok := compare(docs[i][orderBy], docs[j][orderBy])
		if !ok {
			return false
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// Page applies offset/limit bounds to an already-sorted slice.
func Page(docs []Doc, offset, limit int) []Doc {
	if offset > 0 {
		if offset >= len(docs) {
			return nil
		}
		docs = docs[offset:]
	}
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}

// compare handles the scalar types a Doc can hold, normalizing numerics
// (json.Number, int64, float64, int) to float64 for comparison.
func compare(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	switch at := a.(type) {
	case string:
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case at < bs:
			return -1, true
		case at > bs:
			return 1, true
		default:
			return 0, true
		}
	case bool:
		bb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if at == bb {
			return 0, true
		}
		if !at {
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		// numbers can arrive as strings from some drivers
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
