package imagery

import (
	"context"
	"time"
)

// Fetcher retrieves the current image from the provider. Failures are
// reported through the Outcome, never as a panic or a separate error.
type Fetcher interface {
	Fetch(ctx context.Context) Outcome
}

// BlobStore keeps an operational copy of the latest image.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Publisher pushes refresh notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// FetchLog records refresh attempts for the history endpoint.
type FetchLog interface {
	Record(ctx context.Context, attempt Attempt) error
	Recent(ctx context.Context, limit int) ([]Attempt, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time and schedules waits (useful for testing).
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// IDGenerator produces attempt IDs.
type IDGenerator interface {
	NewID() (string, error)
}
