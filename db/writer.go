package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"snapfeed/models"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

type Writer struct {
	db  *sql.DB
	now func() time.Time
}

func NewWriter(database string) (*Writer, error) {
	db, err := connection(database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return &Writer{db: db, now: time.Now}, nil
}

func (writer *Writer) Close() error {
	return writer.db.Close()
}

// SaveItems archives items, skipping keys already stored, and returns the
// items that were new.
func (writer *Writer) SaveItems(ctx context.Context, items []models.Item) ([]models.Item, error) {
	if len(items) == 0 {
		return nil, nil
	}

	tx, err := writer.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	indexedAt := writer.now().Unix()
	inserted := []models.Item{}

	for _, item := range items {
		ib := sqlbuilder.SQLite.NewInsertBuilder()
		ib.InsertIgnoreInto("snaps").
			Cols("key", "author", "permlink", "container", "body", "json_metadata", "created_at", "indexed_at").
			Values(item.Key(), item.Author, item.Permlink, item.ParentPermlink, item.Body, item.JSONMetadata, item.CreatedAt.Unix(), indexedAt)
		query, args := ib.Build()

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("insert snap %s: %w", item.Key(), err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if affected > 0 {
			inserted = append(inserted, item)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit snaps: %w", err)
	}

	log.WithFields(log.Fields{
		"received": len(items),
		"inserted": len(inserted),
	}).Debug("Archived snaps")

	return inserted, nil
}

// Tidy removes snaps created before now minus retention
func (writer *Writer) Tidy(ctx context.Context, retention time.Duration) (int64, error) {
	return tidy(ctx, writer.db, writer.now().Add(-retention))
}
