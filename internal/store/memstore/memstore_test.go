package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/fieldworks/chatline/internal/store"
)

func TestGetMissing(t *testing.T) {
	s := New()
	if _, err := s.Get(context.Background(), "things", "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateOnlyConflict(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Put(ctx, "things", "a", store.Doc{"v": int64(1)}, store.ModeCreate); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := s.Put(ctx, "things", "a", store.Doc{"v": int64(2)}, store.ModeCreate)
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	doc, err := s.Get(ctx, "things", "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got, _ := doc["v"].(int64); got != 1 {
		t.Fatalf("create-only must not clobber, got v=%v", doc["v"])
	}
}

func TestMergeKeepsUnspecifiedFields(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Put(ctx, "things", "a", store.Doc{"name": "one", "count": int64(3)}, store.ModeCreate); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Put(ctx, "things", "a", store.Doc{"count": int64(4)}, store.ModeMerge); err != nil {
		t.Fatalf("merge: %v", err)
	}

	doc, err := s.Get(ctx, "things", "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc["name"] != "one" {
		t.Fatalf("merge clobbered name: %v", doc["name"])
	}
	if got, _ := doc["count"].(int64); got != 4 {
		t.Fatalf("merge did not apply count: %v", doc["count"])
	}
}

func TestScanFilterOrderPage(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		owner := "u1"
		if i%2 == 1 {
			owner = "u2"
		}
		err := s.Put(ctx, "items", string(rune('a'+i)), store.Doc{
			"owner": owner,
			"rank":  int64(i),
		}, store.ModeCreate)
		if err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	docs, err := s.Scan(ctx, "items", store.Query{
		Where:   []store.Where{{Field: "owner", Value: "u1"}},
		OrderBy: "rank",
		Desc:    true,
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 docs, got %d", len(docs))
	}
	for i, want := range []int64{4, 2, 0} {
		if got, _ := docs[i]["rank"].(int64); got != want {
			t.Fatalf("pos %d: expected rank %d, got %v", i, want, docs[i]["rank"])
		}
	}

	page, err := s.Scan(ctx, "items", store.Query{OrderBy: "rank", Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("scan page: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(page))
	}
	if got, _ := page[0]["rank"].(int64); got != 1 {
		t.Fatalf("expected offset to skip rank 0, got %v", page[0]["rank"])
	}
}

func TestDocsAreCopied(t *testing.T) {
	s := New()
	ctx := context.Background()

	in := store.Doc{"v": "x"}
	if err := s.Put(ctx, "things", "a", in, store.ModeCreate); err != nil {
		t.Fatalf("create: %v", err)
	}
	in["v"] = "mutated"

	doc, err := s.Get(ctx, "things", "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc["v"] != "x" {
		t.Fatalf("store aliased caller map: %v", doc["v"])
	}
	doc["v"] = "mutated again"

	again, _ := s.Get(ctx, "things", "a")
	if again["v"] != "x" {
		t.Fatalf("store handed out aliased map: %v", again["v"])
	}
}
