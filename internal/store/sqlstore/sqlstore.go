// Package sqlstore persists documents in a single GORM-managed table, one
// JSON body per row keyed by (collection, doc_id). Filters and ordering use
// json_extract, which both the SQLite and MySQL drivers support.
package sqlstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fieldworks/chatline/internal/store"
)

type document struct {
	Collection string `gorm:"primaryKey;size:64;not null"`
	DocID      string `gorm:"primaryKey;size:128;not null;column:doc_id"`
	Body       string `gorm:"type:text;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (document) TableName() string { return "documents" }

type Store struct {
	db *gorm.DB
}

// New migrates the documents table and returns the store.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&document{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Doc, error) {
	var row document
	err := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection, id).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return decodeBody(row.Body)
}

func (s *Store) Put(ctx context.Context, collection, id string, doc store.Doc, mode store.Mode) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	row := document{Collection: collection, DocID: id, Body: string(body)}

	switch mode {
	case store.ModeCreate:
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			// driver duplicate-key errors vary; confirm via lookup
			var existing document
			getErr := s.db.WithContext(ctx).
				Where("collection = ? AND doc_id = ?", collection, id).
				First(&existing).Error
			if getErr == nil {
				return store.ErrAlreadyExists
			}
			return err
		}
		return nil

	case store.ModeUpsert:
		return s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "collection"}, {Name: "doc_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
			}).
			Create(&row).Error

	case store.ModeMerge:
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var existing document
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("collection = ? AND doc_id = ?", collection, id).
				First(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return tx.Create(&row).Error
			}
			if err != nil {
				return err
			}
			merged, err := decodeBody(existing.Body)
			if err != nil {
				return err
			}
			for k, v := range doc {
				merged[k] = v
			}
			mergedBody, err := json.Marshal(merged)
			if err != nil {
				return err
			}
			return tx.Model(&document{}).
				Where("collection = ? AND doc_id = ?", collection, id).
				Updates(map[string]any{"body": string(mergedBody), "updated_at": time.Now()}).Error
		})
	}
	return fmt.Errorf("sqlstore: unknown put mode %d", mode)
}

func (s *Store) Scan(ctx context.Context, collection string, q store.Query) ([]store.Doc, error) {
	tx := s.db.WithContext(ctx).Model(&document{}).Where("collection = ?", collection)
	for _, w := range q.Where {
		path, err := jsonPath(w.Field)
		if err != nil {
			return nil, err
		}
		tx = tx.Where(fmt.Sprintf("json_extract(body, '%s') = ?", path), w.Value)
	}
	if q.OrderBy != "" {
		path, err := jsonPath(q.OrderBy)
		if err != nil {
			return nil, err
		}
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		tx = tx.Order(fmt.Sprintf("json_extract(body, '%s') %s", path, dir))
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}

	var rows []document
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.Doc, 0, len(rows))
	for _, row := range rows {
		doc, err := decodeBody(row.Body)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

var fieldNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func jsonPath(field string) (string, error) {
	if !fieldNameRe.MatchString(field) {
		return "", fmt.Errorf("sqlstore: invalid field name %q", field)
	}
	return "$." + field, nil
}

func decodeBody(body string) (store.Doc, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	var doc store.Doc
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
