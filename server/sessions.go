package server

import (
	"context"
	"sync"
	"time"

	"snapfeed/feeds"
	"snapfeed/models"
	"snapfeed/query"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const DefaultSessionTTL = 30 * time.Minute

// FeedSession is one client's view of the snaps feed. The merged list and the
// filter are guarded by mu, the pager guards itself.
type FeedSession struct {
	Id    string
	Pager *feeds.Pager

	mu         sync.Mutex
	list       *feeds.List
	mode       string
	account    string
	generation uint64
	lastUsed   time.Time
}

// Matches reports whether the session was created for mode and account
func (s *FeedSession) Matches(mode, account string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode == mode && s.account == account
}

// Reset starts the session over with a new filter
func (s *FeedSession) Reset(mode, account string, filter query.FilterStrategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	s.account = account
	s.generation++
	s.Pager.Reset(filter)
	s.list.Reset()
}

// Generation identifies the current filter, it changes on every Reset
func (s *FeedSession) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Merge adds a batch fetched under generation to the session list and returns
// the items that were new. A batch from before the last Reset is rejected.
func (s *FeedSession) Merge(generation uint64, batch []models.Item) ([]models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		return nil, feeds.ErrSessionReset
	}
	return s.list.Merge(batch), nil
}

// Items returns the merged list, newest first
func (s *FeedSession) Items() []models.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list.Sorted()
}

func (s *FeedSession) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = now
}

func (s *FeedSession) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Registry holds the live feed sessions
type Registry struct {
	sync.RWMutex
	sessions map[string]*FeedSession
	ttl      time.Duration
	now      func() time.Time
}

func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Registry{
		sessions: make(map[string]*FeedSession),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create registers a new session around pager
func (r *Registry) Create(mode, account string, pager *feeds.Pager) *FeedSession {
	session := &FeedSession{
		Id:       uuid.New().String(),
		Pager:    pager,
		list:     feeds.NewList(),
		mode:     mode,
		account:  account,
		lastUsed: r.now(),
	}

	r.Lock()
	defer r.Unlock()
	r.sessions[session.Id] = session

	log.WithFields(log.Fields{
		"session": session.Id,
		"mode":    mode,
		"count":   len(r.sessions),
	}).Info("Created feed session")

	return session
}

func (r *Registry) Get(id string) (*FeedSession, bool) {
	r.RLock()
	session, ok := r.sessions[id]
	r.RUnlock()

	if ok {
		session.touch(r.now())
	}
	return session, ok
}

func (r *Registry) Remove(id string) bool {
	r.Lock()
	defer r.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)

	log.WithFields(log.Fields{
		"session": id,
		"count":   len(r.sessions),
	}).Info("Removed feed session")
	return true
}

func (r *Registry) Len() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.sessions)
}

// Expire removes sessions idle for longer than the ttl
func (r *Registry) Expire() int {
	cutoff := r.now().Add(-r.ttl)

	r.Lock()
	defer r.Unlock()

	expired := 0
	for id, session := range r.sessions {
		if session.idleSince().Before(cutoff) {
			delete(r.sessions, id)
			expired++
		}
	}

	if expired > 0 {
		log.WithFields(log.Fields{
			"expired": expired,
			"count":   len(r.sessions),
		}).Info("Expired idle feed sessions")
	}
	return expired
}

// Run expires idle sessions every interval until ctx is done
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Expire()
		}
	}
}
