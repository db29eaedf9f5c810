package db

import (
	"context"
	"database/sql"
	"time"

	sb "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

// Tidy removes snaps older than retention from the database
func Tidy(ctx context.Context, database string, retention time.Duration) (int64, error) {
	db, err := connection(database)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	return tidy(ctx, db, time.Now().Add(-retention))
}

func tidy(ctx context.Context, db *sql.DB, cutoff time.Time) (int64, error) {
	deleteSnaps := sb.SQLite.NewDeleteBuilder()
	sql, args := deleteSnaps.DeleteFrom("snaps").Where(deleteSnaps.LessThan("created_at", cutoff.Unix())).Build()

	res, err := db.ExecContext(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{
		"cutoff":  cutoff,
		"deleted": deleted,
	}).Info("Tidied database")

	return deleted, nil
}
