package harvest

import (
	"context"
	"io"
	"time"
)

// StateStore persists CrawlState records under opaque keys.
// A missing key is reported with found == false, never as an error.
type StateStore interface {
	GetState(ctx context.Context, key string) (state CrawlState, found bool, err error)
	PutState(ctx context.Context, key string, state CrawlState) error
}

// BlobStore writes and reads raw document bytes by name.
type BlobStore interface {
	PutObject(ctx context.Context, name string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, name string) (DocumentRecord, error)
}

// Fetcher performs a single HTTP retrieval.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Converter turns document bytes into plain text.
type Converter interface {
	Convert(ctx context.Context, data []byte) (string, error)
}

// Meter is charged once per metered attempt, regardless of its outcome.
type Meter interface {
	Charge(ctx context.Context, event string) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RetryPolicy decides whether and when a failed attempt is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
