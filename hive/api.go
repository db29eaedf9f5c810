package hive

import (
	"context"
	"fmt"
	"time"

	"snapfeed/models"

	"github.com/samber/lo"
)

// maxFollowingLimit is the largest page get_following accepts
const maxFollowingLimit = 1000

func (c *Client) GetDiscussionsByAuthorBeforeDate(ctx context.Context, author, startPermlink string, before time.Time, limit int) ([]Discussion, error) {
	var discussions []Discussion
	params := []any{author, startPermlink, FormatTime(before), limit}
	if err := c.Call(ctx, "condenser_api.get_discussions_by_author_before_date", params, &discussions); err != nil {
		return nil, err
	}
	return discussions, nil
}

func (c *Client) GetContentReplies(ctx context.Context, author, permlink string) ([]Discussion, error) {
	var replies []Discussion
	if err := c.Call(ctx, "condenser_api.get_content_replies", []any{author, permlink}, &replies); err != nil {
		return nil, err
	}
	return replies, nil
}

func (c *Client) GetContent(ctx context.Context, author, permlink string) (*Discussion, error) {
	var content Discussion
	if err := c.Call(ctx, "condenser_api.get_content", []any{author, permlink}, &content); err != nil {
		return nil, err
	}
	// Missing content comes back as an empty object
	if content.Author == "" {
		return nil, fmt.Errorf("content @%s/%s not found", author, permlink)
	}
	return &content, nil
}

// GetFollowing returns accounts followed by account, starting at start inclusive
func (c *Client) GetFollowing(ctx context.Context, account, start string, limit int) ([]FollowEntry, error) {
	var entries []FollowEntry
	params := []any{account, start, "blog", limit}
	if err := c.Call(ctx, "condenser_api.get_following", params, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetAccountHistory returns up to limit operations ending at start.
// A start of -1 means the latest operation.
func (c *Client) GetAccountHistory(ctx context.Context, account string, start int64, limit int) ([]HistoryEntry, error) {
	if start >= 0 && int64(limit) > start+1 {
		limit = int(start + 1)
	}
	var entries []HistoryEntry
	if err := c.Call(ctx, "condenser_api.get_account_history", []any{account, start, limit}, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) GetDynamicGlobalProperties(ctx context.Context) (*DynamicGlobalProperties, error) {
	var props DynamicGlobalProperties
	if err := c.Call(ctx, "condenser_api.get_dynamic_global_properties", []any{}, &props); err != nil {
		return nil, err
	}
	return &props, nil
}

func (c *Client) GetCommunity(ctx context.Context, name string) (*models.Community, error) {
	var community models.Community
	if err := c.Call(ctx, "bridge.get_community", map[string]any{"name": name}, &community); err != nil {
		return nil, err
	}
	return &community, nil
}

// ListContainersBefore lists containers of author created at or before the
// given point, newest first. The entry for beforeID is included when it exists.
func (c *Client) ListContainersBefore(ctx context.Context, author, beforeID string, before time.Time, limit int) ([]models.Container, error) {
	discussions, err := c.GetDiscussionsByAuthorBeforeDate(ctx, author, beforeID, before, limit)
	if err != nil {
		return nil, err
	}
	return lo.Map(discussions, func(d Discussion, _ int) models.Container {
		return d.Container()
	}), nil
}

func (c *Client) ListChildItems(ctx context.Context, author, containerID string) ([]models.Item, error) {
	replies, err := c.GetContentReplies(ctx, author, containerID)
	if err != nil {
		return nil, err
	}
	return lo.Map(replies, func(d Discussion, _ int) models.Item {
		return d.Item()
	}), nil
}

// ListFollowing returns up to limit followed accounts strictly after startAfter
func (c *Client) ListFollowing(ctx context.Context, account, startAfter string, limit int) ([]string, error) {
	requested := min(limit, maxFollowingLimit)
	if startAfter != "" {
		// The start entry is echoed back and takes one slot of the page
		requested = min(limit, maxFollowingLimit-1) + 1
	}

	entries, err := c.GetFollowing(ctx, account, startAfter, requested)
	if err != nil {
		return nil, err
	}

	names := lo.FilterMap(entries, func(e FollowEntry, _ int) (string, bool) {
		return e.Following, e.Following != "" && e.Following != startAfter
	})
	if len(names) > limit {
		names = names[:limit]
	}
	return names, nil
}
