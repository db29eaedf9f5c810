package feeds_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"snapfeed/models"
)

const communityTag = "hive-173115"

var errRemote = errors.New("rpc node unavailable")

// fakeSource serves a fixed container stream, newest first
type fakeSource struct {
	mu sync.Mutex

	containers []models.Container
	replies    map[string][]models.Item
	// echo the cursor container like the Hive API does
	echo bool

	containerCalls  int
	childCalls      map[string]int
	befores         []time.Time
	failContainers  int
	failChildren    map[string]int
	blockContainers chan struct{}
	entered         chan struct{}
}

func newFakeSource(containers []models.Container, replies map[string][]models.Item) *fakeSource {
	return &fakeSource{
		containers:   containers,
		replies:      replies,
		childCalls:   make(map[string]int),
		failChildren: make(map[string]int),
	}
}

func (s *fakeSource) ListContainersBefore(ctx context.Context, author string, beforeID string, before time.Time, limit int) ([]models.Container, error) {
	// Block only the first call so the test can interleave with it
	s.mu.Lock()
	block := s.blockContainers
	s.blockContainers = nil
	s.mu.Unlock()
	if block != nil {
		s.entered <- struct{}{}
		<-block
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.containerCalls++
	s.befores = append(s.befores, before)

	if s.failContainers > 0 {
		s.failContainers--
		return nil, errRemote
	}

	page := []models.Container{}
	for _, c := range s.containers {
		older := c.CreatedAt.Before(before)
		if s.echo && beforeID != "" && c.Permlink == beforeID {
			older = true
		}
		if !older {
			continue
		}
		page = append(page, c)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (s *fakeSource) ListChildItems(ctx context.Context, author string, containerID string) ([]models.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.childCalls[containerID]++

	if s.failChildren[containerID] > 0 {
		s.failChildren[containerID]--
		return nil, errRemote
	}
	return s.replies[containerID], nil
}

func (s *fakeSource) totalChildCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.childCalls {
		total += n
	}
	return total
}

func (s *fakeSource) childCallsFor(containerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.childCalls[containerID]
}

func (s *fakeSource) containerCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.containerCalls
}

// fakeFollowing serves a sorted following list
type fakeFollowing struct {
	mu        sync.Mutex
	following []string
	failAfter int // fail every call after this many successful ones, -1 never
	pageCap   int // largest page returned, 0 for no cap
	calls     int
}

func (f *fakeFollowing) ListFollowing(ctx context.Context, account string, startAfter string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter >= 0 && f.calls >= f.failAfter {
		f.calls++
		return nil, errRemote
	}
	f.calls++
	if f.pageCap > 0 {
		limit = min(limit, f.pageCap)
	}

	page := []string{}
	started := startAfter == ""
	for _, name := range f.following {
		if !started {
			started = name == startAfter
			continue
		}
		page = append(page, name)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

// buildStream creates n containers an hour apart, each with replies from
// repliesPer authors of which the first tagged ones carry the community tag
func buildStream(n int, repliesPer int, tagged int) ([]models.Container, map[string][]models.Item) {
	base := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
	containers := make([]models.Container, 0, n)
	replies := make(map[string][]models.Item)

	for i := 0; i < n; i++ {
		c := models.Container{
			Author:    "peak.snaps",
			Permlink:  fmt.Sprintf("snaps-%d", i+1),
			CreatedAt: base.Add(-time.Duration(i) * time.Hour),
		}
		containers = append(containers, c)

		for j := 0; j < repliesPer; j++ {
			metadata := `{"tags":["other"]}`
			if j < tagged {
				metadata = fmt.Sprintf(`{"tags":["%s","skate"],"app":"snapfeed"}`, communityTag)
			}
			replies[c.Permlink] = append(replies[c.Permlink], models.Item{
				Author:         fmt.Sprintf("user%d", j),
				Permlink:       fmt.Sprintf("%s-reply-%d", c.Permlink, j),
				ParentAuthor:   c.Author,
				ParentPermlink: c.Permlink,
				Body:           "kickflip",
				JSONMetadata:   metadata,
				CreatedAt:      c.CreatedAt.Add(time.Duration(j+1) * time.Minute),
			})
		}
	}
	return containers, replies
}
