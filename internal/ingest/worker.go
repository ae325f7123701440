// Package ingest implements the worker pool that drains the page cache,
// extracts records, and persists them.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/omnimuse/trackmapper/internal/clock"
	"github.com/omnimuse/trackmapper/internal/extract"
	"github.com/omnimuse/trackmapper/internal/metrics"
	"github.com/omnimuse/trackmapper/internal/pagecache"
	"github.com/omnimuse/trackmapper/internal/pipeline"
	"github.com/omnimuse/trackmapper/internal/store"
)

// Cache is the page-cache surface the worker consumes.
type Cache interface {
	Save(content []byte, pt pagecache.PageType, name string) error
	Take() (pagecache.PageType, []byte, bool)
}

// Config controls Worker behavior.
type Config struct {
	// Tick is the sleep between empty polls. Defaults to one second.
	Tick time.Duration
}

// Worker consumes cached pages and writes records into the store.
type Worker struct {
	cache  Cache
	store  store.Store
	clock  clock.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(cache Cache, st store.Store, clk clock.Clock, cfg Config, logger *zap.Logger) *Worker {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Worker{
		cache:  cache,
		store:  st,
		clock:  clk,
		cfg:    cfg,
		logger: logger,
	}
}

// Run blocks, polling the cache until the context finishes. A failure
// while handling one page re-saves the original raw content for another
// attempt; nothing here is fatal.
func (w *Worker) Run(ctx context.Context) {
	for {
		pt, content, ok := w.cache.Take()
		if ok {
			if err := w.processPage(ctx, pt, content); err != nil {
				kind, _ := pipeline.KindOf(err)
				w.logger.Warn("page processing failed, re-queueing",
					zap.String("page_type", string(pt)),
					zap.String("kind", kind.String()),
					zap.Error(err),
				)
				if saveErr := w.cache.Save(content, pt, ""); saveErr != nil {
					w.logger.Error("re-save of failed page lost",
						zap.String("page_type", string(pt)),
						zap.Error(saveErr),
					)
				} else {
					metrics.ObserveIngestRetry(string(pt))
				}
			} else {
				metrics.ObservePageIngested(string(pt))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.Tick):
		}
	}
}

func (w *Worker) processPage(ctx context.Context, pt pagecache.PageType, content []byte) error {
	switch pt {
	case pagecache.TrackPage:
		return w.processTrackPage(ctx, content)
	case pagecache.UserLibraryArtistPage:
		return w.processUserLibraryArtistPage(ctx, content)
	case pagecache.UserFollowersPage:
		return w.processUserFollowersPage(ctx, content)
	default:
		return pipeline.E(pipeline.KindCache, "dispatch page", fmt.Errorf("unknown page type %q", pt))
	}
}

func (w *Worker) processTrackPage(ctx context.Context, content []byte) error {
	records, err := extract.TrackRecords(content)
	if err != nil {
		return pipeline.E(pipeline.KindExtract, "extract track records", err)
	}
	for _, rec := range records {
		// Automated writes always force ManuallyMapped=false, even when
		// overwriting an existing row.
		m := store.TrackMapping{
			SpotifyID:      rec.SpotifyID,
			SpotifyURL:     rec.SpotifyURL,
			TrackName:      rec.TrackName,
			TrackURL:       rec.TrackURL,
			ArtistName:     rec.ArtistName,
			ArtistURL:      rec.ArtistURL,
			ManuallyMapped: false,
			LastUpdated:    w.clock.Now(),
		}
		if err := w.store.UpsertMapping(ctx, m); err != nil {
			return pipeline.E(pipeline.KindPersist, "upsert mapping", err)
		}
		metrics.ObserveMappingUpserted()
	}
	return nil
}

func (w *Worker) processUserLibraryArtistPage(ctx context.Context, content []byte) error {
	records, err := extract.ArtistRecords(content)
	if err != nil {
		return pipeline.E(pipeline.KindExtract, "extract artist records", err)
	}
	for _, rec := range records {
		// First writer wins; an existing row is left untouched.
		// TODO: re-queue artists whose processed_date is older than ~2 months.
		inserted, err := w.store.InsertArtistIfAbsent(ctx, store.ArtistQueueItem{
			Name:      rec.Name,
			ArtistURL: rec.ArtistURL,
		})
		if err != nil {
			return pipeline.E(pipeline.KindPersist, "insert artist frontier", err)
		}
		if inserted {
			metrics.ObserveFrontierInsert("artist")
		}
	}
	return nil
}

func (w *Worker) processUserFollowersPage(ctx context.Context, content []byte) error {
	records, err := extract.UserRecords(content)
	if err != nil {
		return pipeline.E(pipeline.KindExtract, "extract user records", err)
	}
	for _, rec := range records {
		inserted, err := w.store.InsertUserIfAbsent(ctx, store.UserQueueItem{
			Name:    rec.Name,
			UserURL: rec.UserURL,
		})
		if err != nil {
			return pipeline.E(pipeline.KindPersist, "insert user frontier", err)
		}
		if inserted {
			metrics.ObserveFrontierInsert("user")
		}
	}
	return nil
}
