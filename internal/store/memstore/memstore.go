// Package memstore is an in-memory store.Store used by tests and local
// development. It is safe for concurrent use and deep-copies every document
// crossing its boundary.
package memstore

import (
	"context"
	"sync"

	"github.com/fieldworks/chatline/internal/store"
)

type Store struct {
	mu   sync.RWMutex
	data map[string]map[string]store.Doc // collection -> id -> doc
}

func New() *Store {
	return &Store{data: make(map[string]map[string]store.Doc)}
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.data[collection][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return store.Clone(doc), nil
}

func (s *Store) Put(ctx context.Context, collection, id string, doc store.Doc, mode store.Mode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.data[collection]
	if !ok {
		coll = make(map[string]store.Doc)
		s.data[collection] = coll
	}
	existing, exists := coll[id]
	switch mode {
	case store.ModeCreate:
		if exists {
			return store.ErrAlreadyExists
		}
		coll[id] = store.Clone(doc)
	case store.ModeUpsert:
		coll[id] = store.Clone(doc)
	case store.ModeMerge:
		if !exists {
			coll[id] = store.Clone(doc)
			return nil
		}
		merged := store.Clone(existing)
		for k, v := range store.Clone(doc) {
			merged[k] = v
		}
		coll[id] = merged
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, collection string, q store.Query) ([]store.Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var matched []store.Doc
	for _, doc := range s.data[collection] {
		if store.Matches(doc, q.Where) {
			matched = append(matched, store.Clone(doc))
		}
	}
	s.mu.RUnlock()

	store.Sort(matched, q.OrderBy, q.Desc)
	return store.Page(matched, q.Offset, q.Limit), nil
}
