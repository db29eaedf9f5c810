// Package indexer polls the newest snaps into the local archive
package indexer

import (
	"context"
	"fmt"
	"time"

	"snapfeed/feeds"
	"snapfeed/models"
	"snapfeed/query"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	indexerPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapfeed_indexer_polls_total",
		Help: "The total number of archive polls by outcome",
	}, []string{"outcome"})

	indexerArchived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snapfeed_indexer_snaps_archived_total",
		Help: "The total number of snaps written to the archive",
	})

	indexerLastPoll = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "snapfeed_indexer_last_poll_timestamp_seconds",
		Help: "Unix time of the last successful poll",
	})
)

const (
	DefaultInterval     = 5 * time.Minute
	DefaultTidyInterval = time.Hour
	DefaultMaxBatches   = 5
)

// Store persists snaps and returns the ones it had not seen before
type Store interface {
	SaveItems(ctx context.Context, items []models.Item) ([]models.Item, error)
	Tidy(ctx context.Context, retention time.Duration) (int64, error)
}

// Publisher receives every newly archived snap
type Publisher interface {
	BroadcastSnap(snap models.Item)
}

type Config struct {
	// Time between polls
	Interval time.Duration
	// Snaps older than this are removed, zero keeps everything
	Retention    time.Duration
	TidyInterval time.Duration
	// Minimum snaps requested per batch
	BatchSize int
	// Batches fetched per poll at most
	MaxBatches int
}

type Indexer struct {
	source    query.ContainerSource
	pager     feeds.PagerConfig
	filter    func() query.FilterStrategy
	store     Store
	publisher Publisher
	config    Config
}

// New creates an indexer. newFilter is called for every poll so filters
// holding state start fresh.
func New(source query.ContainerSource, pager feeds.PagerConfig, newFilter func() query.FilterStrategy, store Store, publisher Publisher, config Config) *Indexer {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.TidyInterval <= 0 {
		config.TidyInterval = DefaultTidyInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = feeds.DefaultPageMinSize
	}
	if config.MaxBatches <= 0 {
		config.MaxBatches = DefaultMaxBatches
	}
	return &Indexer{
		source:    source,
		pager:     pager,
		filter:    newFilter,
		store:     store,
		publisher: publisher,
		config:    config,
	}
}

// Poll walks back from the newest container until a batch holds nothing new,
// the stream ends or MaxBatches is reached. It returns the number of snaps archived.
func (ix *Indexer) Poll(ctx context.Context) (int, error) {
	pager := feeds.NewPager(ix.source, ix.pager, ix.filter())

	archived := 0
	for batchNo := 0; batchNo < ix.config.MaxBatches && pager.HasMore(); batchNo++ {
		batch, err := pager.FetchNextBatch(ctx, ix.config.BatchSize)
		if err != nil {
			indexerPolls.WithLabelValues("error").Inc()
			return archived, fmt.Errorf("fetch batch: %w", err)
		}

		inserted, err := ix.store.SaveItems(ctx, batch)
		if err != nil {
			indexerPolls.WithLabelValues("error").Inc()
			return archived, fmt.Errorf("save batch: %w", err)
		}

		archived += len(inserted)
		indexerArchived.Add(float64(len(inserted)))
		if ix.publisher != nil {
			for _, snap := range inserted {
				ix.publisher.BroadcastSnap(snap)
			}
		}

		// Caught up with what an earlier poll archived
		if len(batch) > 0 && len(inserted) == 0 {
			break
		}
	}

	indexerPolls.WithLabelValues("ok").Inc()
	indexerLastPoll.SetToCurrentTime()

	log.WithFields(log.Fields{
		"archived": archived,
	}).Info("Polled snaps")

	return archived, nil
}

func (ix *Indexer) tidy(ctx context.Context) {
	if ix.config.Retention <= 0 {
		return
	}
	if _, err := ix.store.Tidy(ctx, ix.config.Retention); err != nil {
		log.Error("Error tidying database: ", err)
	}
}

// Run polls and tidies until ctx is cancelled. Failed polls are retried
// with exponential backoff instead of waiting for the next interval.
func (ix *Indexer) Run(ctx context.Context) {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = time.Second
	retry.MaxInterval = ix.config.Interval
	retry.Multiplier = 1.5
	retry.MaxElapsedTime = 0 // Never stop retrying

	tidyTicker := time.NewTicker(ix.config.TidyInterval)
	defer tidyTicker.Stop()

	ix.tidy(ctx)

	wait := time.Duration(0)
	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("Stopping indexer")
			return
		case <-tidyTicker.C:
			timer.Stop()
			log.Info("Tidying database")
			ix.tidy(ctx)
			continue
		case <-timer.C:
		}

		if _, err := ix.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			wait = retry.NextBackOff()
			log.WithFields(log.Fields{
				"error": err,
				"retry": wait,
			}).Warn("Poll failed")
			continue
		}

		retry.Reset()
		wait = ix.config.Interval
	}
}
