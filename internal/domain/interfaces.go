package domain

import (
	"context"
	"time"
)

// PageFetcher retrieves the raw listing page for a 1-based page index.
type PageFetcher interface {
	FetchPage(ctx context.Context, page int) (string, error)
}

// ListingExtractor turns raw page text into coin observations stamped with observedAt.
type ListingExtractor interface {
	Extract(page int, html string, observedAt time.Time) ([]CoinObservation, error)
}

// SnapshotRepository defines storage operations for coins and their snapshots.
type SnapshotRepository interface {
	EnsureSchema(ctx context.Context) error
	Save(ctx context.Context, observations []CoinObservation) error

	// LatestRanked returns ranked rows of the most recent pass, best rank first.
	LatestRanked(ctx context.Context, limit int) ([]CoinSnapshot, error)
	// Latest returns the coin's newest snapshot, independent of the latest pass.
	Latest(ctx context.Context, symbol string) (*CoinSnapshot, error)
	// History returns the coin's snapshots oldest first. A zero since returns all of them.
	History(ctx context.Context, symbol string, since time.Time) ([]HistoryPoint, error)
	Count(ctx context.Context) (int64, error)

	Close() error
}

// PassSink receives every committed pass, e.g. for file exports.
type PassSink interface {
	Name() string
	WritePass(ctx context.Context, result *ScrapeResult) error
}

// PassPublisher fans committed passes out to live subscribers.
type PassPublisher interface {
	Publish(event PassEvent)
}
