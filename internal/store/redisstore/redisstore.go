// Package redisstore implements store.Store on Redis. Each document is a
// JSON string value; a per-collection set tracks ids so scans can be served
// with MGET. Create-only writes use SETNX, merges run under WATCH so
// concurrent partial updates do not clobber each other.
package redisstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/fieldworks/chatline/internal/store"
)

const mergeRetries = 8

type Store struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func docKey(collection, id string) string { return "chatline:doc:" + collection + ":" + id }
func idsKey(collection string) string     { return "chatline:ids:" + collection }

func (s *Store) Get(ctx context.Context, collection, id string) (store.Doc, error) {
	raw, err := s.rdb.Get(ctx, docKey(collection, id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return decode([]byte(raw))
}

func (s *Store) Put(ctx context.Context, collection, id string, doc store.Doc, mode store.Mode) error {
	key := docKey(collection, id)
	switch mode {
	case store.ModeCreate:
		body, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		okSet, err := s.rdb.SetNX(ctx, key, body, 0).Result()
		if err != nil {
			return err
		}
		if !okSet {
			return store.ErrAlreadyExists
		}
		return s.rdb.SAdd(ctx, idsKey(collection), id).Err()

	case store.ModeUpsert:
		body, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		if err := s.rdb.Set(ctx, key, body, 0).Err(); err != nil {
			return err
		}
		return s.rdb.SAdd(ctx, idsKey(collection), id).Err()

	case store.ModeMerge:
		txf := func(tx *redis.Tx) error {
			merged := store.Doc{}
			raw, err := tx.Get(ctx, key).Result()
			switch {
			case errors.Is(err, redis.Nil):
				// fresh doc
			case err != nil:
				return err
			default:
				if merged, err = decode([]byte(raw)); err != nil {
					return err
				}
			}
			for k, v := range doc {
				merged[k] = v
			}
			body, err := json.Marshal(merged)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, body, 0)
				pipe.SAdd(ctx, idsKey(collection), id)
				return nil
			})
			return err
		}
		var err error
		for i := 0; i < mergeRetries; i++ {
			err = s.rdb.Watch(ctx, txf, key)
			if !errors.Is(err, redis.TxFailedErr) {
				return err
			}
		}
		return err
	}
	return errors.New("redisstore: unknown put mode")
}

func (s *Store) Scan(ctx context.Context, collection string, q store.Query) ([]store.Doc, error) {
	ids, err := s.rdb.SMembers(ctx, idsKey(collection)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(collection, id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var matched []store.Doc
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // id set member without a doc; skip
		}
		doc, err := decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		if store.Matches(doc, q.Where) {
			matched = append(matched, doc)
		}
	}
	store.Sort(matched, q.OrderBy, q.Desc)
	return store.Page(matched, q.Offset, q.Limit), nil
}

func decode(raw []byte) (store.Doc, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc store.Doc
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
