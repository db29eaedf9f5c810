// Package feeds pages snaps out of the container stream and the local archive
package feeds

import (
	"context"
	"strconv"

	"snapfeed/models"

	log "github.com/sirupsen/logrus"
)

// ArchiveReader reads archived snaps, newest first, below a row id cursor
type ArchiveReader interface {
	GetSnaps(ctx context.Context, author string, limit int, cursor int64) ([]models.ArchivedSnap, error)
}

// ArchivePage returns one page of archived snaps and the cursor for the next one
func ArchivePage(ctx context.Context, reader ArchiveReader, author string, cursor string, limit int) (*models.ArchiveResponse, error) {
	snapId := safeParseCursor(cursor)

	snaps, err := reader.GetSnaps(ctx, author, limit+1, snapId)
	if err != nil {
		log.WithFields(log.Fields{
			"cursor": cursor,
			"error":  err,
		}).Error("Error reading archive")
		return nil, err
	}

	if snaps == nil {
		snaps = []models.ArchivedSnap{}
	}

	var nextCursor *string

	// Only set cursor if we have more results
	if len(snaps) > limit {
		// Remove the extra snap we fetched to check for more results
		snaps = snaps[:len(snaps)-1]
		parsed := strconv.FormatInt(snaps[len(snaps)-1].Id, 10)
		nextCursor = &parsed
	}

	return &models.ArchiveResponse{
		Snaps:  snaps,
		Cursor: nextCursor, // Will be nil if no more results
	}, nil
}

// safeParseCursor parses the cursor string and returns the snap id
// If the cursor is invalid, it returns 0
func safeParseCursor(cursor string) int64 {
	id, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
