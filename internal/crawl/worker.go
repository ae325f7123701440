package crawl

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/omnimuse/trackmapper/internal/clock"
	"github.com/omnimuse/trackmapper/internal/metrics"
	"github.com/omnimuse/trackmapper/internal/pagecache"
	"github.com/omnimuse/trackmapper/internal/store"
)

// Role selects which frontier queues a worker drains.
type Role uint8

// Worker roles; a worker may carry both.
const (
	RoleArtistPages Role = 1 << iota
	RoleUserPages
)

// Has reports whether r includes role.
func (r Role) Has(role Role) bool {
	return r&role != 0
}

// Sink is where fetched pages go; satisfied by pagecache.Cache.
type Sink interface {
	Save(content []byte, pt pagecache.PageType, name string) error
}

// Config controls a crawl worker.
type Config struct {
	// BaseURL is the site root, e.g. "https://www.last.fm".
	BaseURL string
	// Roles selects the frontier queues this worker drains.
	Roles Role
	// SeedUsers are crawled unconditionally before the steady-state loop.
	SeedUsers []string
	// Tick is the sleep between frontier polls. Defaults to two seconds.
	Tick time.Duration
	// ArtistPageLimit caps the track pages fetched per artist. Defaults
	// to ten; content past that point is rarely worth the requests.
	ArtistPageLimit int
}

// Worker drains the frontier queues, pages through the site, and pushes
// raw pages into the sink.
type Worker struct {
	fetcher PageFetcher
	sink    Sink
	store   store.Store
	clock   clock.Clock
	cfg     Config
	logger  *zap.Logger
}

// NewWorker constructs a Worker.
func NewWorker(fetcher PageFetcher, sink Sink, st store.Store, clk clock.Clock, cfg Config, logger *zap.Logger) *Worker {
	if cfg.Tick <= 0 {
		cfg.Tick = 2 * time.Second
	}
	if cfg.ArtistPageLimit <= 0 {
		cfg.ArtistPageLimit = 10
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Worker{
		fetcher: fetcher,
		sink:    sink,
		store:   st,
		clock:   clk,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run blocks until the context finishes. Seed users are crawled first,
// then the worker polls its frontier queues. Cycle errors are logged and
// swallowed; the loop never dies.
func (w *Worker) Run(ctx context.Context) {
	for _, seed := range w.cfg.SeedUsers {
		if ctx.Err() != nil {
			return
		}
		if err := w.crawlUser(ctx, seed); err != nil {
			w.logger.Warn("seed user crawl failed", zap.String("user", seed), zap.Error(err))
			metrics.ObserveCrawlError()
		}
	}

	for {
		if w.cfg.Roles.Has(RoleArtistPages) {
			if err := w.crawlNextArtist(ctx); err != nil {
				w.logger.Warn("artist crawl cycle failed", zap.Error(err))
				metrics.ObserveCrawlError()
			}
		}
		if w.cfg.Roles.Has(RoleUserPages) {
			if err := w.crawlNextUser(ctx); err != nil {
				w.logger.Warn("user crawl cycle failed", zap.Error(err))
				metrics.ObserveCrawlError()
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.Tick):
		}
	}
}

func (w *Worker) crawlNextArtist(ctx context.Context) error {
	item, err := w.store.NextUnprocessedArtist(ctx)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return fmt.Errorf("next unprocessed artist: %w", err)
	}
	return w.crawlArtist(ctx, item.Name)
}

func (w *Worker) crawlNextUser(ctx context.Context) error {
	item, err := w.store.NextUnprocessedUser(ctx)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return fmt.Errorf("next unprocessed user: %w", err)
	}
	return w.crawlUser(ctx, item.Name)
}

// crawlArtist fetches the artist's track-listing pages up to the page
// ceiling and marks the frontier row processed afterwards, even when
// pagination stopped early on a non-success status. A partial crawl is
// not revisited. A transport error aborts the cycle instead, leaving the
// row unprocessed so a later cycle retries it.
func (w *Worker) crawlArtist(ctx context.Context, name string) error {
	for page := 1; page <= w.cfg.ArtistPageLimit; page++ {
		stop, err := w.fetchInto(ctx, w.artistTracksURL(name, page), pagecache.TrackPage)
		if err != nil {
			return err
		}
		if stop {
			break
		}
	}

	if err := w.store.MarkArtistProcessed(ctx, name, w.clock.Now()); err != nil {
		return fmt.Errorf("mark artist processed: %w", err)
	}
	w.logger.Debug("artist crawled", zap.String("artist", name))
	return nil
}

// crawlUser pages through the user's library artists, then their
// followers, then marks the user processed (creating the row for
// directly-seeded users).
func (w *Worker) crawlUser(ctx context.Context, name string) error {
	for page := 1; ; page++ {
		stop, err := w.fetchInto(ctx, w.userLibraryArtistsURL(name, page), pagecache.UserLibraryArtistPage)
		if err != nil {
			return err
		}
		if stop {
			break
		}
	}

	for page := 1; ; page++ {
		stop, err := w.fetchInto(ctx, w.userFollowersURL(name, page), pagecache.UserFollowersPage)
		if err != nil {
			return err
		}
		if stop {
			break
		}
	}

	if err := w.store.MarkUserProcessed(ctx, name, "/user/"+name, w.clock.Now()); err != nil {
		return fmt.Errorf("mark user processed: %w", err)
	}
	w.logger.Debug("user crawled", zap.String("user", name))
	return nil
}

// fetchInto fetches one page and saves it into the sink. stop=true means
// the pagination termination rule fired: a non-success status or a
// redirect chain starting with 302. End of results and an expired
// session are indistinguishable here. A transport failure is an error,
// not a stop: the cycle aborts and the frontier row stays unprocessed.
func (w *Worker) fetchInto(ctx context.Context, pageURL string, pt pagecache.PageType) (stop bool, err error) {
	res, err := w.fetcher.FetchPage(ctx, pageURL)
	if err != nil {
		return false, fmt.Errorf("fetch %s page: %w", pt, err)
	}
	metrics.ObserveFetch(string(pt), res.StatusCode)

	if res.StatusCode != 200 || res.RedirectedFromFound {
		return true, nil
	}

	if err := w.sink.Save(res.Body, pt, ""); err != nil {
		return true, fmt.Errorf("save %s page: %w", pt, err)
	}
	return false, nil
}

func (w *Worker) artistTracksURL(artist string, page int) string {
	return fmt.Sprintf("%s/music/%s/+tracks?page=%d", w.cfg.BaseURL, url.PathEscape(artist), page)
}

func (w *Worker) userLibraryArtistsURL(user string, page int) string {
	return fmt.Sprintf("%s/user/%s/library/artists?page=%d", w.cfg.BaseURL, url.PathEscape(user), page)
}

func (w *Worker) userFollowersURL(user string, page int) string {
	return fmt.Sprintf("%s/user/%s/followers?page=%d", w.cfg.BaseURL, url.PathEscape(user), page)
}
