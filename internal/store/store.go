// Package store defines the persisted record types and the repository
// contract shared by the crawl and ingest worker pools.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// TrackMapping links a Spotify track id to the Last.fm catalog metadata it
// was scraped alongside. At most one row exists per SpotifyID.
type TrackMapping struct {
	SpotifyID      string
	SpotifyURL     string
	TrackName      string
	TrackURL       string
	ArtistName     string
	ArtistURL      string
	ManuallyMapped bool
	LastUpdated    time.Time
}

// ArtistQueueItem is a frontier row for an artist whose track pages still
// need crawling. Name is the unique key; first writer wins.
type ArtistQueueItem struct {
	Name          string
	ArtistURL     string
	Processed     bool
	ProcessedDate *time.Time
}

// UserQueueItem is a frontier row for a user whose library and follower
// pages still need crawling.
type UserQueueItem struct {
	Name          string
	UserURL       string
	Processed     bool
	ProcessedDate *time.Time
}

// MappingRepository persists the Spotify track mapping table.
type MappingRepository interface {
	// GetMapping returns the mapping for a Spotify track id, or ErrNotFound.
	GetMapping(ctx context.Context, spotifyID string) (TrackMapping, error)
	// UpsertMapping inserts or overwrites the row keyed by SpotifyID.
	UpsertMapping(ctx context.Context, m TrackMapping) error
}

// FrontierRepository persists the artist and user crawl frontiers.
//
// The InsertXIfAbsent operations are atomic: concurrent discovery of the
// same name leaves exactly one row. Selection order for NextUnprocessedX
// is unspecified.
type FrontierRepository interface {
	GetArtist(ctx context.Context, name string) (ArtistQueueItem, error)
	GetUser(ctx context.Context, name string) (UserQueueItem, error)

	InsertArtistIfAbsent(ctx context.Context, item ArtistQueueItem) (bool, error)
	InsertUserIfAbsent(ctx context.Context, item UserQueueItem) (bool, error)

	NextUnprocessedArtist(ctx context.Context) (ArtistQueueItem, error)
	NextUnprocessedUser(ctx context.Context) (UserQueueItem, error)

	MarkArtistProcessed(ctx context.Context, name string, at time.Time) error
	// MarkUserProcessed upserts: seeded users may be marked processed
	// before any ingest worker has inserted their frontier row.
	MarkUserProcessed(ctx context.Context, name, userURL string, at time.Time) error
}

// Store is the full persistence surface consumed by the pipeline.
type Store interface {
	MappingRepository
	FrontierRepository
}
