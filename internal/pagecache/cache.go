// Package pagecache implements a durable, file-backed FIFO of raw
// downloaded pages. The directory tree is the queue state: a page is
// dequeueable exactly when its backing file exists, so in-flight work
// survives process restarts.
package pagecache

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/omnimuse/trackmapper/internal/metrics"
)

// PageType identifies which extractor a cached page is destined for.
type PageType string

// Page types, one per cache subdirectory.
const (
	TrackPage             PageType = "tracks"
	UserLibraryArtistPage PageType = "user-lib-artist"
	UserFollowersPage     PageType = "user-followers"
)

var pageTypes = []PageType{TrackPage, UserLibraryArtistPage, UserFollowersPage}

// Valid reports whether pt is a known page type.
func (pt PageType) Valid() bool {
	switch pt {
	case TrackPage, UserLibraryArtistPage, UserFollowersPage:
		return true
	}
	return false
}

var unsafeNameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

type entry struct {
	pageType PageType
	path     string
}

// Cache is a typed page queue backed by one directory per page type.
// Safe for concurrent producers and consumers.
type Cache struct {
	root   string
	logger *zap.Logger

	mu    sync.Mutex
	queue []entry
}

// New creates the per-type subdirectories under root and re-syncs the
// queue from any page files already on disk.
func New(root string, logger *zap.Logger) (*Cache, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("cache root directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	c := &Cache{root: root, logger: logger}
	for _, pt := range pageTypes {
		if err := os.MkdirAll(c.dir(pt), 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory for %s: %w", pt, err)
		}
	}
	if err := c.refresh(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) dir(pt PageType) string {
	return filepath.Join(c.root, string(pt))
}

// refresh rebuilds the in-memory queue from the files on disk. Pages left
// behind by a crash are rediscovered here, nothing is duplicated.
func (c *Cache) refresh() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue = c.queue[:0]
	for _, pt := range pageTypes {
		names, err := os.ReadDir(c.dir(pt))
		if err != nil {
			return fmt.Errorf("list cache directory for %s: %w", pt, err)
		}
		for _, de := range names {
			if de.IsDir() || !strings.HasSuffix(de.Name(), ".html") {
				continue
			}
			c.queue = append(c.queue, entry{
				pageType: pt,
				path:     filepath.Join(c.dir(pt), de.Name()),
			})
		}
	}
	return nil
}

// Save writes content under the page type's directory and enqueues it.
// An empty name gets a generated unique one; caller-supplied names are
// stripped of path-unsafe characters. If the target file already exists
// the write and the enqueue are both skipped, so re-saving the same name
// is idempotent.
func (c *Cache) Save(content []byte, pt PageType, name string) error {
	if !pt.Valid() {
		return fmt.Errorf("unknown page type %q", pt)
	}
	if name == "" {
		name = strings.ReplaceAll(uuid.NewString(), "-", "") + ".html"
	} else {
		name = unsafeNameChars.ReplaceAllString(name, "")
	}
	path := filepath.Join(c.dir(pt), name)

	if _, err := os.Stat(path); err == nil {
		metrics.ObservePageSkipped(string(pt))
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat cached page: %w", err)
	}

	if err := os.WriteFile(path, content, 0o600); err != nil {
		return fmt.Errorf("write cached page: %w", err)
	}

	c.mu.Lock()
	c.queue = append(c.queue, entry{pageType: pt, path: path})
	c.mu.Unlock()

	metrics.ObservePageSaved(string(pt))
	return nil
}

// Take pops the oldest queued page, reads and deletes its backing file,
// and returns the raw content. It never blocks: an empty queue returns
// ok=false immediately. A read or delete failure drops the page (logged,
// not re-enqueued).
func (c *Cache) Take() (PageType, []byte, bool) {
	c.mu.Lock()
	if len(c.queue) == 0 {
		c.mu.Unlock()
		return "", nil, false
	}
	e := c.queue[0]
	c.queue = c.queue[1:]
	c.mu.Unlock()

	content, err := os.ReadFile(e.path)
	if err != nil {
		c.logger.Warn("dropping cached page, read failed",
			zap.String("page_type", string(e.pageType)),
			zap.String("path", e.path),
			zap.Error(err),
		)
		metrics.ObservePageDropped(string(e.pageType))
		return "", nil, false
	}
	if err := os.Remove(e.path); err != nil {
		c.logger.Warn("dropping cached page, delete failed",
			zap.String("page_type", string(e.pageType)),
			zap.String("path", e.path),
			zap.Error(err),
		)
		metrics.ObservePageDropped(string(e.pageType))
		return "", nil, false
	}

	metrics.ObservePageTaken(string(e.pageType))
	return e.pageType, content, true
}

// Len reports the number of queued pages.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
