package feeds_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"snapfeed/feeds"
	"snapfeed/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTags(t *testing.T) {
	tests := []struct {
		name     string
		metadata string
		expected []string
		wantErr  bool
	}{
		{
			name:     "empty string",
			metadata: "",
			wantErr:  true,
		},
		{
			name:     "whitespace",
			metadata: "   ",
			wantErr:  true,
		},
		{
			name:     "truncated json",
			metadata: `{"tags":["hive-173115"`,
			wantErr:  true,
		},
		{
			name:     "array instead of object",
			metadata: `["hive-173115"]`,
			wantErr:  true,
		},
		{
			name:     "numeric tags",
			metadata: `{"tags":[1,2]}`,
			wantErr:  true,
		},
		{
			name:     "no tags field",
			metadata: `{"app":"peakd"}`,
			expected: []string{},
		},
		{
			name:     "null tags",
			metadata: `{"tags":null}`,
			expected: []string{},
		},
		{
			name:     "tag array",
			metadata: `{"tags":["hive-173115","skate","skate"]}`,
			expected: []string{"hive-173115", "skate"},
		},
		{
			name:     "single tag string",
			metadata: `{"tags":"hive-173115"}`,
			expected: []string{"hive-173115"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tags, err := feeds.ParseTags(tt.metadata)
			if tt.wantErr {
				var parseErr *feeds.MetadataParseError
				assert.True(t, errors.As(err, &parseErr))
				return
			}
			require.NoError(t, err)
			assert.Len(t, tags, len(tt.expected))
			for _, tag := range tt.expected {
				assert.True(t, tags.Contains(tag))
			}
		})
	}
}

func TestTagFilterFailsClosed(t *testing.T) {
	filter := &feeds.TagFilter{Tag: communityTag}

	tests := []struct {
		name     string
		metadata string
		expected bool
	}{
		{name: "missing metadata", metadata: "", expected: false},
		{name: "malformed metadata", metadata: "{not json", expected: false},
		{name: "other tags", metadata: `{"tags":["skate"]}`, expected: false},
		{name: "community tag", metadata: fmt.Sprintf(`{"tags":["skate","%s"]}`, communityTag), expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := models.Item{Author: "alice", Permlink: "p", JSONMetadata: tt.metadata}
			assert.Equal(t, tt.expected, filter.Keep(item))
		})
	}
}

func TestFollowingFilterPagesThroughList(t *testing.T) {
	names := make([]string, 250)
	for i := range names {
		names[i] = fmt.Sprintf("account%03d", i)
	}

	tests := []struct {
		name          string
		failAfter     int
		expectedCount int
		expectedCalls int
	}{
		{name: "full list", failAfter: -1, expectedCount: 250, expectedCalls: 3},
		{name: "second page fails", failAfter: 1, expectedCount: 100, expectedCalls: 2},
		{name: "first page fails", failAfter: 0, expectedCount: 0, expectedCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &fakeFollowing{following: names, failAfter: tt.failAfter}
			filter := &feeds.FollowingFilter{Account: "viewer", Source: source, PageSize: 100}

			filter.Prepare(context.Background())
			filter.Prepare(context.Background())

			assert.Equal(t, tt.expectedCount, filter.FollowingCount())
			assert.Equal(t, tt.expectedCalls, source.calls)
			assert.Equal(t, tt.expectedCount > 0, filter.Keep(models.Item{Author: "account000"}))
		})
	}
}

func TestFollowingFilterBeforePrepareKeepsNothing(t *testing.T) {
	filter := &feeds.FollowingFilter{Account: "viewer"}
	assert.False(t, filter.Keep(models.Item{Author: "alice"}))
}

func TestNewFilter(t *testing.T) {
	following := &fakeFollowing{failAfter: -1}

	filter, err := feeds.NewFilter(feeds.ModeCommunity, communityTag, "", following)
	require.NoError(t, err)
	assert.Equal(t, feeds.ModeCommunity, filter.Name())

	filter, err = feeds.NewFilter("", communityTag, "", following)
	require.NoError(t, err)
	assert.Equal(t, feeds.ModeCommunity, filter.Name())

	filter, err = feeds.NewFilter(feeds.ModeAll, communityTag, "", following)
	require.NoError(t, err)
	assert.Equal(t, feeds.ModeAll, filter.Name())

	_, err = feeds.NewFilter(feeds.ModeFollowing, communityTag, "", following)
	assert.ErrorIs(t, err, feeds.ErrFollowingAccountRequired)

	_, err = feeds.NewFilter("trending", communityTag, "", following)
	assert.Error(t, err)
}

func TestFilterFactoryAppliesFollowingPaging(t *testing.T) {
	names := make([]string, 30)
	for i := range names {
		names[i] = fmt.Sprintf("account%03d", i)
	}
	source := &fakeFollowing{following: names, failAfter: -1}
	factory := feeds.FilterFactory{Tag: communityTag, Following: source, FollowingPageSize: 10, FollowingMaxPages: 2}

	filter, err := factory.New(feeds.ModeFollowing, "viewer")
	require.NoError(t, err)

	following, ok := filter.(*feeds.FollowingFilter)
	require.True(t, ok)
	following.Prepare(context.Background())
	assert.Equal(t, 20, following.FollowingCount(), "loading stops at the page limit")
	assert.Equal(t, 2, source.calls)

	filter, err = factory.New(feeds.ModeCommunity, "")
	require.NoError(t, err)
	assert.Equal(t, &feeds.TagFilter{Tag: communityTag}, filter)
}

func TestFollowingFilterPagesPastNodeMaximum(t *testing.T) {
	names := make([]string, 2500)
	for i := range names {
		names[i] = fmt.Sprintf("account%04d", i)
	}
	source := &fakeFollowing{following: names, failAfter: -1, pageCap: feeds.MaxFollowingPageSize}
	filter := &feeds.FollowingFilter{Account: "viewer", Source: source, PageSize: 1000, MaxPages: 5}

	filter.Prepare(context.Background())
	assert.Equal(t, 2500, filter.FollowingCount())
	assert.Equal(t, 3, source.calls)
}
