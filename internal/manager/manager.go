// Package manager sizes, starts, and stops the crawl and ingest worker
// pools around the shared page cache and store.
package manager

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omnimuse/trackmapper/internal/clock"
	"github.com/omnimuse/trackmapper/internal/crawl"
	"github.com/omnimuse/trackmapper/internal/ingest"
	"github.com/omnimuse/trackmapper/internal/pagecache"
	"github.com/omnimuse/trackmapper/internal/store"
)

// Config sizes the pools.
type Config struct {
	IngestWorkers        int
	UserCrawlWorkers     int
	ArtistCrawlWorkers   int
	CombinedCrawlWorkers int
	SeedUsers            []string

	// StartStagger spaces out crawl worker logins so the login endpoint
	// does not see a burst of sessions from one address.
	StartStagger time.Duration

	IngestTick time.Duration
	CrawlTick  time.Duration

	BaseURL         string
	ArtistPageLimit int
}

// SessionFactory builds a fresh fetcher for one crawl worker. Each worker
// owns its session; sessions are never shared.
type SessionFactory func() crawl.PageFetcher

// Manager supervises the two pools and performs ordered shutdown.
type Manager struct {
	cfg        Config
	cache      *pagecache.Cache
	store      store.Store
	clock      clock.Clock
	newSession SessionFactory
	logger     *zap.Logger

	mu           sync.Mutex
	started      bool
	crawlCancel  context.CancelFunc
	ingestCancel context.CancelFunc
	// launched closes once Start has finished spawning crawl workers, so
	// Stop can safely wait on the pool.
	launched chan struct{}
	crawlWG  sync.WaitGroup
	ingestWG sync.WaitGroup
}

// New constructs a Manager.
func New(cfg Config, cache *pagecache.Cache, st store.Store, clk clock.Clock, factory SessionFactory, logger *zap.Logger) *Manager {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:        cfg,
		cache:      cache,
		store:      st,
		clock:      clk,
		newSession: factory,
		logger:     logger,
	}
}

// Start launches the ingest pool first (consumers ready before
// producers), then the crawl groups: user-only, artist-only, combined.
// Only the first user-only worker receives the seed list. The staggered
// crawl launch runs outside the manager lock, so Stop is not blocked
// behind it; canceling the parent context aborts the launch.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true

	ingestCtx, ingestCancel := context.WithCancel(ctx)
	crawlCtx, crawlCancel := context.WithCancel(ctx)
	m.ingestCancel = ingestCancel
	m.crawlCancel = crawlCancel
	launched := make(chan struct{})
	m.launched = launched

	for i := 0; i < m.cfg.IngestWorkers; i++ {
		w := ingest.New(m.cache, m.store, m.clock,
			ingest.Config{Tick: m.cfg.IngestTick},
			m.logger.Named("ingest").With(zap.Int("index", i)),
		)
		m.ingestWG.Add(1)
		go func() {
			defer m.ingestWG.Done()
			w.Run(ingestCtx)
		}()
	}
	m.logger.Info("ingest workers started", zap.Int("count", m.cfg.IngestWorkers))
	m.mu.Unlock()

	m.startCrawlGroup(crawlCtx, "user", m.cfg.UserCrawlWorkers, crawl.RoleUserPages, m.cfg.SeedUsers)
	m.startCrawlGroup(crawlCtx, "artist", m.cfg.ArtistCrawlWorkers, crawl.RoleArtistPages, nil)
	m.startCrawlGroup(crawlCtx, "combined", m.cfg.CombinedCrawlWorkers, crawl.RoleArtistPages|crawl.RoleUserPages, nil)
	close(launched)
}

func (m *Manager) startCrawlGroup(ctx context.Context, group string, count int, roles crawl.Role, seeds []string) {
	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			return
		}
		fetcher := m.newSession()
		if err := fetcher.Login(ctx); err != nil {
			// Not fatal: an unauthenticated worker's fetches redirect and
			// terminate pagination immediately, and the loop keeps polling.
			m.logger.Warn("crawl worker login failed",
				zap.String("group", group),
				zap.Int("index", i),
				zap.Error(err),
			)
		}

		var workerSeeds []string
		if i == 0 {
			workerSeeds = seeds
		}
		w := crawl.NewWorker(fetcher, m.cache, m.store, m.clock,
			crawl.Config{
				BaseURL:         m.cfg.BaseURL,
				Roles:           roles,
				SeedUsers:       workerSeeds,
				Tick:            m.cfg.CrawlTick,
				ArtistPageLimit: m.cfg.ArtistPageLimit,
			},
			m.logger.Named("crawl").With(zap.String("group", group), zap.Int("index", i)),
		)
		m.crawlWG.Add(1)
		go func() {
			defer m.crawlWG.Done()
			w.Run(ctx)
		}()

		if m.cfg.StartStagger > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.cfg.StartStagger):
			}
		}
	}
	if count > 0 {
		m.logger.Info("crawl workers started", zap.String("group", group), zap.Int("count", count))
	}
}

// Stop signals the crawl pool first and waits for it, then the ingest
// pool: producers drain before consumers are torn down. Queued cache
// state is left on disk for the next run. Safe to call while Start is
// still staggering worker launches; the cancellation aborts the launch.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}

	m.crawlCancel()
	// Wait for Start to finish spawning before waiting on the pool.
	<-m.launched
	m.crawlWG.Wait()
	m.logger.Info("crawl workers stopped")

	m.ingestCancel()
	m.ingestWG.Wait()
	m.logger.Info("ingest workers stopped")

	m.started = false
}
