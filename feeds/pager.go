package feeds

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"snapfeed/models"
	"snapfeed/query"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	pagerBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapfeed_pager_batches_total",
		Help: "The total number of batch fetches by outcome",
	}, []string{"outcome"})

	pagerContainersExpanded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snapfeed_pager_containers_expanded_total",
		Help: "The total number of containers whose replies were fetched",
	})

	pagerItemsKept = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapfeed_pager_items_total",
		Help: "Snaps seen by the pager, split by filter decision",
	}, []string{"filter", "decision"})

	pagerBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "snapfeed_pager_batch_duration_seconds",
		Help:    "Duration of a batch fetch",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // Start at 50ms, double each bucket, 10 buckets
	})
)

const (
	DefaultContainerAuthor    = "peak.snaps"
	DefaultContainerPageLimit = 10
	DefaultPageMinSize        = 10
	DefaultMaxRounds          = 8
	DefaultConcurrency        = 1
	DefaultRetryAttempts      = 3
	DefaultRetryInterval      = 200 * time.Millisecond
)

// PagerConfig controls how a pager walks the container stream
type PagerConfig struct {
	// Account that publishes the containers
	ContainerAuthor string
	// Number of containers requested per round
	ContainerPageLimit int
	// Multiplier applied to the minimum batch size before stopping
	LookAhead int
	// Upper bound of container pages fetched per batch
	MaxRounds int
	// Number of containers expanded concurrently
	Concurrency int
	// Attempts per remote call, including the first one
	RetryAttempts int
	RetryInterval time.Duration
}

func (c PagerConfig) withDefaults() PagerConfig {
	if c.ContainerAuthor == "" {
		c.ContainerAuthor = DefaultContainerAuthor
	}
	if c.ContainerPageLimit <= 0 {
		c.ContainerPageLimit = DefaultContainerPageLimit
	}
	if c.LookAhead <= 0 {
		c.LookAhead = 1
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	return c
}

type pageState struct {
	cursor    models.Cursor
	seen      map[string]struct{}
	exhausted bool
}

func (s *pageState) clone() *pageState {
	seen := make(map[string]struct{}, len(s.seen))
	for id := range s.seen {
		seen[id] = struct{}{}
	}
	return &pageState{cursor: s.cursor, seen: seen, exhausted: s.exhausted}
}

// markSeen records a processed container and moves the cursor back to it.
// The cursor never moves forward in time.
func (s *pageState) markSeen(container models.Container) {
	s.seen[container.Permlink] = struct{}{}
	if container.CreatedAt.After(s.cursor.CreatedAt) {
		log.WithFields(log.Fields{
			"permlink":  container.Permlink,
			"createdAt": container.CreatedAt,
			"cursor":    s.cursor.CreatedAt,
		}).Warn("Container newer than cursor, not moving cursor")
		return
	}
	s.cursor = models.Cursor{ContainerID: container.Permlink, CreatedAt: container.CreatedAt}
}

// Session is the pagination state of one feed view
type Session struct {
	filter      query.FilterStrategy
	state       *pageState
	prepareOnce sync.Once

	cacheMu sync.Mutex
	cache   map[string][]models.Item
}

func newSession(filter query.FilterStrategy, now time.Time) *Session {
	return &Session{
		filter: filter,
		state: &pageState{
			cursor: models.Cursor{CreatedAt: now},
			seen:   make(map[string]struct{}),
		},
		cache: make(map[string][]models.Item),
	}
}

func (s *Session) prepare(ctx context.Context) {
	s.prepareOnce.Do(func() {
		if preparer, ok := s.filter.(query.Preparer); ok {
			preparer.Prepare(ctx)
		}
	})
}

func (s *Session) cached(containerID string) ([]models.Item, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	items, ok := s.cache[containerID]
	return items, ok
}

func (s *Session) store(containerID string, items []models.Item) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache[containerID] = items
}

// Pager produces batches of filtered snaps by walking the containers of the
// configured author backwards in time. A pager serves a single consumer.
type Pager struct {
	source query.ContainerSource
	config PagerConfig
	now    func() time.Time

	mu      sync.Mutex
	session *Session
	busy    atomic.Bool
}

func NewPager(source query.ContainerSource, config PagerConfig, filter query.FilterStrategy) *Pager {
	p := &Pager{
		source: source,
		config: config.withDefaults(),
		now:    time.Now,
	}
	p.session = newSession(filter, p.now().UTC())
	return p
}

// Reset discards the current session and starts over with the given filter.
// A batch fetch in flight for the old session is discarded.
func (p *Pager) Reset(filter query.FilterStrategy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = newSession(filter, p.now().UTC())
}

// HasMore reports whether the container stream might still yield snaps
func (p *Pager) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.session.state.exhausted
}

func (p *Pager) Cursor() models.Cursor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session.state.cursor
}

func (p *Pager) Filter() query.FilterStrategy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session.filter
}

// FetchNextBatch returns the next snaps that pass the session filter. It stops
// once minimumBatchSize times the look-ahead is reached, the stream is
// exhausted or the round limit is hit. On error the cursor and seen set are
// left untouched so the call can be retried.
func (p *Pager) FetchNextBatch(ctx context.Context, minimumBatchSize int) ([]models.Item, error) {
	if minimumBatchSize < 1 {
		return nil, ErrInvalidBatchSize
	}
	if !p.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer p.busy.Store(false)

	start := time.Now()
	defer func() {
		pagerBatchDuration.Observe(time.Since(start).Seconds())
	}()

	p.mu.Lock()
	session := p.session
	state := session.state.clone()
	p.mu.Unlock()

	if state.exhausted {
		pagerBatches.WithLabelValues("exhausted").Inc()
		return []models.Item{}, nil
	}

	session.prepare(ctx)

	target := minimumBatchSize * p.config.LookAhead
	batch := []models.Item{}
	rounds := 0

	for len(batch) < target {
		if rounds >= p.config.MaxRounds {
			log.WithFields(log.Fields{
				"rounds": rounds,
				"found":  len(batch),
				"target": target,
			}).Info("Round limit reached before filling batch")
			break
		}
		rounds++

		containers, err := p.listContainers(ctx, state.cursor)
		if err != nil {
			pagerBatches.WithLabelValues("error").Inc()
			return nil, err
		}

		fresh := lo.Filter(containers, func(container models.Container, _ int) bool {
			_, seen := state.seen[container.Permlink]
			return !seen
		})
		// The source echoes the cursor container, a page without anything new is the end
		if len(fresh) == 0 {
			state.exhausted = true
			break
		}
		sort.SliceStable(fresh, func(i, j int) bool {
			return fresh[i].CreatedAt.After(fresh[j].CreatedAt)
		})

		for offset := 0; offset < len(fresh) && len(batch) < target; offset += p.config.Concurrency {
			wave := fresh[offset:min(offset+p.config.Concurrency, len(fresh))]
			results, err := p.expand(ctx, session, wave)
			if err != nil {
				pagerBatches.WithLabelValues("error").Inc()
				return nil, err
			}
			for i, container := range wave {
				batch = append(batch, results[i]...)
				state.markSeen(container)
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != session {
		pagerBatches.WithLabelValues("reset").Inc()
		return nil, ErrSessionReset
	}
	session.state = state

	log.WithFields(log.Fields{
		"filter":    session.filter.Name(),
		"found":     len(batch),
		"rounds":    rounds,
		"cursor":    state.cursor.ContainerID,
		"exhausted": state.exhausted,
		"latency":   time.Since(start),
	}).Info("Fetched batch")
	pagerBatches.WithLabelValues("ok").Inc()

	return batch, nil
}

func (p *Pager) listContainers(ctx context.Context, cursor models.Cursor) ([]models.Container, error) {
	var containers []models.Container
	err := p.retry(ctx, "list containers", func() error {
		var err error
		containers, err = p.source.ListContainersBefore(ctx, p.config.ContainerAuthor, cursor.ContainerID, cursor.CreatedAt, p.config.ContainerPageLimit)
		return err
	})
	return containers, err
}

// expand fetches and filters the replies of a wave of containers concurrently.
// Results are returned in wave order.
func (p *Pager) expand(ctx context.Context, session *Session, wave []models.Container) ([][]models.Item, error) {
	results := make([][]models.Item, len(wave))
	filterName := session.filter.Name()

	g, gctx := errgroup.WithContext(ctx)
	for i, container := range wave {
		i, container := i, container
		g.Go(func() error {
			if items, ok := session.cached(container.Permlink); ok {
				results[i] = items
				return nil
			}

			var replies []models.Item
			err := p.retry(gctx, "list child items", func() error {
				var err error
				replies, err = p.source.ListChildItems(gctx, container.Author, container.Permlink)
				return err
			})
			if err != nil {
				return err
			}
			pagerContainersExpanded.Inc()

			kept := lo.Filter(replies, func(item models.Item, _ int) bool {
				return session.filter.Keep(item)
			})
			pagerItemsKept.WithLabelValues(filterName, "kept").Add(float64(len(kept)))
			pagerItemsKept.WithLabelValues(filterName, "dropped").Add(float64(len(replies) - len(kept)))

			session.store(container.Permlink, kept)
			results[i] = kept
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// retry runs fn with exponential backoff. Failures surface as RemoteFetchError,
// cancellation as the context error.
func (p *Pager) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.RetryInterval
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = time.Minute

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.config.RetryAttempts-1)), ctx)

	err := backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		log.WithFields(log.Fields{
			"op":    op,
			"wait":  wait,
			"error": err,
		}).Warn("Remote fetch failed, retrying")
	})

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &RemoteFetchError{Op: op, Err: err}
	}
	return nil
}
