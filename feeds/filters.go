package feeds

import (
	"context"
	"fmt"
	"sync"

	"snapfeed/models"
	"snapfeed/query"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// Feed modes
const (
	ModeCommunity = "community"
	ModeAll       = "all"
	ModeFollowing = "following"
)

const (
	DefaultFollowingPageSize = 100
	DefaultFollowingMaxPages = 10
	// Hive returns at most 1000 follows per call and one slot goes to the
	// echoed start account on every page after the first
	MaxFollowingPageSize = 999
)

// TagFilter keeps snaps tagged with the community tag
type TagFilter struct {
	Tag string
}

func (f *TagFilter) Name() string { return ModeCommunity }

func (f *TagFilter) Keep(item models.Item) bool {
	tags, err := ParseTags(item.JSONMetadata)
	if err != nil {
		log.WithFields(log.Fields{
			"key":   item.Key(),
			"error": err,
		}).Debug("Excluding snap with unparsable metadata")
		return false
	}
	return tags.Contains(f.Tag)
}

// PassThroughFilter keeps every snap
type PassThroughFilter struct{}

func (f *PassThroughFilter) Name() string { return ModeAll }

func (f *PassThroughFilter) Keep(item models.Item) bool { return true }

// FollowingFilter keeps snaps written by accounts the viewer follows
type FollowingFilter struct {
	Account  string
	Source   query.FollowingSource
	PageSize int
	MaxPages int

	once      sync.Once
	following map[string]struct{}
}

func (f *FollowingFilter) Name() string { return ModeFollowing }

// Prepare loads the following set. It only runs once, later calls are no-ops.
func (f *FollowingFilter) Prepare(ctx context.Context) {
	f.once.Do(func() {
		following, err := f.load(ctx)
		if err != nil {
			log.WithFields(log.Fields{
				"account": f.Account,
				"loaded":  len(following),
				"error":   err,
			}).Warn("Could not load the full following list")
		}
		f.following = lo.SliceToMap(following, func(account string) (string, struct{}) {
			return account, struct{}{}
		})
	})
}

func (f *FollowingFilter) load(ctx context.Context) ([]string, error) {
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = DefaultFollowingPageSize
	}
	pageSize = min(pageSize, MaxFollowingPageSize)
	maxPages := f.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultFollowingMaxPages
	}

	var following []string
	start := ""
	for page := 0; page < maxPages; page++ {
		accounts, err := f.Source.ListFollowing(ctx, f.Account, start, pageSize)
		if err != nil {
			// Keep what we have, an empty set excludes everything
			return following, &FollowingFetchError{Account: f.Account, Err: err}
		}
		following = append(following, accounts...)
		if len(accounts) < pageSize {
			break
		}
		start = accounts[len(accounts)-1]
	}

	return lo.Uniq(following), nil
}

func (f *FollowingFilter) Keep(item models.Item) bool {
	_, ok := f.following[item.Author]
	return ok
}

// FollowingCount returns the size of the loaded following set
func (f *FollowingFilter) FollowingCount() int {
	return len(f.following)
}

// NewFilter creates the filter for a feed mode
func NewFilter(mode string, tag string, account string, source query.FollowingSource) (query.FilterStrategy, error) {
	switch mode {
	case ModeCommunity, "":
		return &TagFilter{Tag: tag}, nil
	case ModeAll:
		return &PassThroughFilter{}, nil
	case ModeFollowing:
		if account == "" {
			return nil, ErrFollowingAccountRequired
		}
		return &FollowingFilter{Account: account, Source: source}, nil
	default:
		return nil, fmt.Errorf("unknown feed mode %q", mode)
	}
}

// FilterFactory builds filters that share a community tag and following source
type FilterFactory struct {
	Tag               string
	Following         query.FollowingSource
	FollowingPageSize int
	FollowingMaxPages int
}

func (f FilterFactory) New(mode string, account string) (query.FilterStrategy, error) {
	filter, err := NewFilter(mode, f.Tag, account, f.Following)
	if err != nil {
		return nil, err
	}
	if following, ok := filter.(*FollowingFilter); ok {
		following.PageSize = f.FollowingPageSize
		following.MaxPages = f.FollowingMaxPages
	}
	return filter, nil
}

var _ query.FilterStrategy = (*TagFilter)(nil)
var _ query.FilterStrategy = (*PassThroughFilter)(nil)
var _ query.FilterStrategy = (*FollowingFilter)(nil)
var _ query.Preparer = (*FollowingFilter)(nil)
