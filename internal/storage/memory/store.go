// Package memory provides an in-memory store implementation for tests and
// local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/omnimuse/trackmapper/internal/store"
)

// Store implements store.Store with mutex-guarded maps. Every method is
// atomic with respect to its row, matching the guarantees the pipeline
// expects from the real database.
type Store struct {
	mu       sync.Mutex
	mappings map[string]store.TrackMapping
	artists  map[string]store.ArtistQueueItem
	users    map[string]store.UserQueueItem
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		mappings: make(map[string]store.TrackMapping),
		artists:  make(map[string]store.ArtistQueueItem),
		users:    make(map[string]store.UserQueueItem),
	}
}

// GetMapping returns the mapping for a Spotify id, or store.ErrNotFound.
func (s *Store) GetMapping(_ context.Context, spotifyID string) (store.TrackMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[spotifyID]
	if !ok {
		return store.TrackMapping{}, store.ErrNotFound
	}
	return m, nil
}

// UpsertMapping inserts or overwrites the row keyed by SpotifyID.
func (s *Store) UpsertMapping(_ context.Context, m store.TrackMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[m.SpotifyID] = m
	return nil
}

// GetArtist returns the artist frontier row by name, or store.ErrNotFound.
func (s *Store) GetArtist(_ context.Context, name string) (store.ArtistQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.artists[name]
	if !ok {
		return store.ArtistQueueItem{}, store.ErrNotFound
	}
	return item, nil
}

// GetUser returns the user frontier row by name, or store.ErrNotFound.
func (s *Store) GetUser(_ context.Context, name string) (store.UserQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.users[name]
	if !ok {
		return store.UserQueueItem{}, store.ErrNotFound
	}
	return item, nil
}

// InsertArtistIfAbsent inserts the row unless the name already exists.
func (s *Store) InsertArtistIfAbsent(_ context.Context, item store.ArtistQueueItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artists[item.Name]; ok {
		return false, nil
	}
	s.artists[item.Name] = item
	return true, nil
}

// InsertUserIfAbsent inserts the row unless the name already exists.
func (s *Store) InsertUserIfAbsent(_ context.Context, item store.UserQueueItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[item.Name]; ok {
		return false, nil
	}
	s.users[item.Name] = item
	return true, nil
}

// NextUnprocessedArtist returns any unprocessed artist row, or
// store.ErrNotFound when the frontier is drained.
func (s *Store) NextUnprocessedArtist(_ context.Context) (store.ArtistQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.artists {
		if !item.Processed {
			return item, nil
		}
	}
	return store.ArtistQueueItem{}, store.ErrNotFound
}

// NextUnprocessedUser returns any unprocessed user row, or store.ErrNotFound.
func (s *Store) NextUnprocessedUser(_ context.Context) (store.UserQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.users {
		if !item.Processed {
			return item, nil
		}
	}
	return store.UserQueueItem{}, store.ErrNotFound
}

// MarkArtistProcessed flags the named artist row as processed.
func (s *Store) MarkArtistProcessed(_ context.Context, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.artists[name]
	if !ok {
		return store.ErrNotFound
	}
	item.Processed = true
	item.ProcessedDate = &at
	s.artists[name] = item
	return nil
}

// MarkUserProcessed flags the named user row as processed, creating it
// first when it does not exist (directly-seeded users).
func (s *Store) MarkUserProcessed(_ context.Context, name, userURL string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.users[name]
	if !ok {
		item = store.UserQueueItem{Name: name, UserURL: userURL}
	}
	item.Processed = true
	item.ProcessedDate = &at
	s.users[name] = item
	return nil
}
