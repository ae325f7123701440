// Package postgres provides the Postgres-backed store implementation.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omnimuse/trackmapper/internal/store"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements store.Store on a pgx connection pool. Row-level
// atomicity comes from single-statement upserts (ON CONFLICT), which is
// what lets the worker pools skip application-level locking.
type Store struct {
	pool pgxIface
}

// New connects a pool and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool pgxIface) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// GetMapping returns the mapping row for a Spotify id, or store.ErrNotFound.
func (s *Store) GetMapping(ctx context.Context, spotifyID string) (store.TrackMapping, error) {
	query := `
SELECT spotify_id, spotify_url, track_name, lastfm_track_url, artist_name, lastfm_artist_url, manually_mapped, last_updated
FROM mappings
WHERE spotify_id = $1`

	var m store.TrackMapping
	err := s.pool.QueryRow(ctx, query, spotifyID).Scan(
		&m.SpotifyID,
		&m.SpotifyURL,
		&m.TrackName,
		&m.TrackURL,
		&m.ArtistName,
		&m.ArtistURL,
		&m.ManuallyMapped,
		&m.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.TrackMapping{}, store.ErrNotFound
		}
		return store.TrackMapping{}, fmt.Errorf("get mapping: %w", err)
	}
	return m, nil
}

// UpsertMapping inserts or overwrites the row keyed by spotify_id in a
// single statement.
func (s *Store) UpsertMapping(ctx context.Context, m store.TrackMapping) error {
	query := `
INSERT INTO mappings (spotify_id, spotify_url, track_name, lastfm_track_url, artist_name, lastfm_artist_url, manually_mapped, last_updated)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (spotify_id) DO UPDATE SET
	spotify_url = EXCLUDED.spotify_url,
	track_name = EXCLUDED.track_name,
	lastfm_track_url = EXCLUDED.lastfm_track_url,
	artist_name = EXCLUDED.artist_name,
	lastfm_artist_url = EXCLUDED.lastfm_artist_url,
	manually_mapped = EXCLUDED.manually_mapped,
	last_updated = EXCLUDED.last_updated`

	_, err := s.pool.Exec(ctx, query,
		m.SpotifyID,
		m.SpotifyURL,
		m.TrackName,
		m.TrackURL,
		m.ArtistName,
		m.ArtistURL,
		m.ManuallyMapped,
		m.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("upsert mapping: %w", err)
	}
	return nil
}

// GetArtist returns the artist frontier row by name, or store.ErrNotFound.
func (s *Store) GetArtist(ctx context.Context, name string) (store.ArtistQueueItem, error) {
	query := `
SELECT name, lastfm_artist_url, processed, processed_date
FROM artist_queue
WHERE name = $1`

	var item store.ArtistQueueItem
	err := s.pool.QueryRow(ctx, query, name).Scan(
		&item.Name,
		&item.ArtistURL,
		&item.Processed,
		&item.ProcessedDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ArtistQueueItem{}, store.ErrNotFound
		}
		return store.ArtistQueueItem{}, fmt.Errorf("get artist: %w", err)
	}
	return item, nil
}

// GetUser returns the user frontier row by name, or store.ErrNotFound.
func (s *Store) GetUser(ctx context.Context, name string) (store.UserQueueItem, error) {
	query := `
SELECT name, lastfm_user_url, processed, processed_date
FROM user_queue
WHERE name = $1`

	var item store.UserQueueItem
	err := s.pool.QueryRow(ctx, query, name).Scan(
		&item.Name,
		&item.UserURL,
		&item.Processed,
		&item.ProcessedDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.UserQueueItem{}, store.ErrNotFound
		}
		return store.UserQueueItem{}, fmt.Errorf("get user: %w", err)
	}
	return item, nil
}

// InsertArtistIfAbsent inserts an unprocessed artist row unless the name
// already exists. The conditional insert is atomic, so concurrent
// discovery of the same artist leaves exactly one row.
func (s *Store) InsertArtistIfAbsent(ctx context.Context, item store.ArtistQueueItem) (bool, error) {
	query := `
INSERT INTO artist_queue (name, lastfm_artist_url, processed)
VALUES ($1, $2, false)
ON CONFLICT (name) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, item.Name, item.ArtistURL)
	if err != nil {
		return false, fmt.Errorf("insert artist: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertUserIfAbsent inserts an unprocessed user row unless the name
// already exists.
func (s *Store) InsertUserIfAbsent(ctx context.Context, item store.UserQueueItem) (bool, error) {
	query := `
INSERT INTO user_queue (name, lastfm_user_url, processed)
VALUES ($1, $2, false)
ON CONFLICT (name) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, item.Name, item.UserURL)
	if err != nil {
		return false, fmt.Errorf("insert user: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// NextUnprocessedArtist returns one unprocessed artist row; selection
// order is whatever the database prefers.
func (s *Store) NextUnprocessedArtist(ctx context.Context) (store.ArtistQueueItem, error) {
	query := `
SELECT name, lastfm_artist_url, processed, processed_date
FROM artist_queue
WHERE processed = false
LIMIT 1`

	var item store.ArtistQueueItem
	err := s.pool.QueryRow(ctx, query).Scan(
		&item.Name,
		&item.ArtistURL,
		&item.Processed,
		&item.ProcessedDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ArtistQueueItem{}, store.ErrNotFound
		}
		return store.ArtistQueueItem{}, fmt.Errorf("next unprocessed artist: %w", err)
	}
	return item, nil
}

// NextUnprocessedUser returns one unprocessed user row.
func (s *Store) NextUnprocessedUser(ctx context.Context) (store.UserQueueItem, error) {
	query := `
SELECT name, lastfm_user_url, processed, processed_date
FROM user_queue
WHERE processed = false
LIMIT 1`

	var item store.UserQueueItem
	err := s.pool.QueryRow(ctx, query).Scan(
		&item.Name,
		&item.UserURL,
		&item.Processed,
		&item.ProcessedDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.UserQueueItem{}, store.ErrNotFound
		}
		return store.UserQueueItem{}, fmt.Errorf("next unprocessed user: %w", err)
	}
	return item, nil
}

// MarkArtistProcessed flags the named artist row as processed.
func (s *Store) MarkArtistProcessed(ctx context.Context, name string, at time.Time) error {
	query := `
UPDATE artist_queue
SET processed = true, processed_date = $2
WHERE name = $1`

	if _, err := s.pool.Exec(ctx, query, name, at); err != nil {
		return fmt.Errorf("mark artist processed: %w", err)
	}
	return nil
}

// MarkUserProcessed flags the named user row as processed, inserting it
// when absent (directly-seeded users have no frontier row yet).
func (s *Store) MarkUserProcessed(ctx context.Context, name, userURL string, at time.Time) error {
	query := `
INSERT INTO user_queue (name, lastfm_user_url, processed, processed_date)
VALUES ($1, $2, true, $3)
ON CONFLICT (name) DO UPDATE SET
	processed = true,
	processed_date = EXCLUDED.processed_date`

	if _, err := s.pool.Exec(ctx, query, name, userURL, at); err != nil {
		return fmt.Errorf("mark user processed: %w", err)
	}
	return nil
}
