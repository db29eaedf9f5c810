package query

import (
	"context"
	"time"

	"snapfeed/models"
)

// FilterStrategy decides which snaps survive into a feed
type FilterStrategy interface {
	// Name returns the feed mode the filter implements
	Name() string
	// Keep reports whether the item belongs in the feed
	Keep(item models.Item) bool
}

// Preparer is implemented by filters that need remote state before use.
// Prepare is called once per pager session before the first round.
type Preparer interface {
	Prepare(ctx context.Context)
}

// ContainerSource lists containers and their replies
type ContainerSource interface {
	// ListContainersBefore returns containers by author older than the cursor,
	// newest first. An empty result means the stream is exhausted.
	ListContainersBefore(ctx context.Context, author string, beforeID string, before time.Time, limit int) ([]models.Container, error)
	// ListChildItems returns the direct replies of a container
	ListChildItems(ctx context.Context, author string, containerID string) ([]models.Item, error)
}

// FollowingSource lists the accounts followed by an account
type FollowingSource interface {
	ListFollowing(ctx context.Context, account string, startAfter string, limit int) ([]string, error)
}
