package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"snapfeed/models"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
)

type Reader struct {
	db *sql.DB
}

func NewReader(database string) (*Reader, error) {
	db, err := readConnection(database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return &Reader{db: db}, nil
}

func (reader *Reader) Close() error {
	return reader.db.Close()
}

// GetSnaps returns archived snaps newest first. A non-zero cursor only
// returns snaps with a lower id.
func (reader *Reader) GetSnaps(ctx context.Context, author string, limit int, cursor int64) ([]models.ArchivedSnap, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("id", "key", "author", "body", "created_at").From("snaps")

	if cursor != 0 {
		sb.Where(sb.LessThan("id", cursor))
	}
	if author != "" {
		sb.Where(sb.Equal("author", author))
	}

	sb.OrderBy("id").Desc()
	sb.Limit(limit)

	query, args := sb.Build()

	rows, err := reader.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	snaps := []models.ArchivedSnap{}
	for rows.Next() {
		var snap models.ArchivedSnap
		var createdAt int64
		if err := rows.Scan(&snap.Id, &snap.Key, &snap.Author, &snap.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		snap.CreatedAt = time.Unix(createdAt, 0).UTC()
		snaps = append(snaps, snap)
	}

	return snaps, rows.Err()
}

// CountPerTime returns the number of archived snaps per hour, day or week
func (reader *Reader) CountPerTime(ctx context.Context, author string, timeAgg string) ([]models.SnapsAggregatedByTime, error) {
	var sqlFormat, layout string

	switch timeAgg {
	case "day":
		sqlFormat = `STRFTIME('%Y-%m-%d', created_at, 'unixepoch')`
		layout = "2006-01-02"
	case "week":
		// Monday of the week the snap was created in
		sqlFormat = `DATE(created_at, 'unixepoch', 'weekday 0', '-6 days')`
		layout = "2006-01-02"
	default:
		sqlFormat = `STRFTIME('%Y-%m-%d-%H', created_at, 'unixepoch')`
		layout = "2006-01-02-15"
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(sb.As(sqlFormat, "bucket"), "count(*) as count").From("snaps")
	if author != "" {
		sb.Where(sb.Equal("author", author))
	}
	sb.GroupBy("bucket")
	sb.OrderBy("bucket").Asc()

	query, args := sb.Build()

	rows, err := reader.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := []models.SnapsAggregatedByTime{}
	for rows.Next() {
		var bucket string
		var count models.SnapsAggregatedByTime

		if err := rows.Scan(&bucket, &count.Count); err != nil {
			continue // Skip this row
		}
		if parsed, err := time.Parse(layout, bucket); err == nil {
			count.Time = parsed
		}
		counts = append(counts, count)
	}

	return counts, rows.Err()
}
