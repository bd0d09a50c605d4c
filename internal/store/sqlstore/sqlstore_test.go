package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/fieldworks/chatline/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s, err := New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := store.Doc{"session_id": "s1", "sequence_number": int64(7), "text": "hi"}
	if err := s.Put(ctx, "messages", "s1:7", in, store.ModeCreate); err != nil {
		t.Fatalf("put: %v", err)
	}

	doc, err := s.Get(ctx, "messages", "s1:7")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc["session_id"] != "s1" || doc["text"] != "hi" {
		t.Fatalf("unexpected doc: %v", doc)
	}
	seq, ok := doc["sequence_number"].(json.Number)
	if !ok {
		t.Fatalf("expected json.Number sequence, got %T", doc["sequence_number"])
	}
	if n, _ := seq.Int64(); n != 7 {
		t.Fatalf("expected sequence 7, got %v", seq)
	}
}

func TestCreateOnlyConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "messages", "s1:0", store.Doc{"v": 1}, store.ModeCreate); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := s.Put(ctx, "messages", "s1:0", store.Doc{"v": 2}, store.ModeCreate)
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMergePartialUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Put(ctx, "sessions", "s1", store.Doc{
		"name":                 "first",
		"last_sequence_number": int64(-1),
		"message_count":        int64(0),
	}, store.ModeCreate)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	err = s.Put(ctx, "sessions", "s1", store.Doc{
		"last_sequence_number": int64(0),
		"message_count":        int64(1),
	}, store.ModeMerge)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	doc, err := s.Get(ctx, "sessions", "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc["name"] != "first" {
		t.Fatalf("merge clobbered name: %v", doc["name"])
	}
	if n, _ := doc["message_count"].(json.Number).Int64(); n != 1 {
		t.Fatalf("merge did not apply count: %v", doc["message_count"])
	}
}

func TestMergeMissingDocCreates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "sessions", "s1", store.Doc{"name": "fresh"}, store.ModeMerge); err != nil {
		t.Fatalf("merge-create: %v", err)
	}
	doc, err := s.Get(ctx, "sessions", "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc["name"] != "fresh" {
		t.Fatalf("unexpected doc: %v", doc)
	}
}

func TestScanFiltersAndOrders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		sid := "s1"
		if i == 3 {
			sid = "s2"
		}
		err := s.Put(ctx, "messages", messageKey(sid, i), store.Doc{
			"session_id":      sid,
			"sequence_number": int64(i),
		}, store.ModeCreate)
		if err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	docs, err := s.Scan(ctx, "messages", store.Query{
		Where:   []store.Where{{Field: "session_id", Value: "s1"}},
		OrderBy: "sequence_number",
		Desc:    true,
		Limit:   2,
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(docs))
	}
	if n, _ := docs[0]["sequence_number"].(json.Number).Int64(); n != 2 {
		t.Fatalf("expected newest first, got %v", docs[0]["sequence_number"])
	}
}

func TestScanRejectsBadFieldName(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Scan(context.Background(), "messages", store.Query{
		Where: []store.Where{{Field: "x') OR 1=1 --", Value: "boom"}},
	})
	if err == nil {
		t.Fatal("expected field-name validation error")
	}
}

func messageKey(sid string, seq int) string {
	return sid + ":" + string(rune('0'+seq))
}
