package crawler

import (
	"context"
	"io"
	"net/url"
	"time"
)

// Fetcher issues a single HTTP request and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// IdentityProvider hands out the outbound proxy and user agent for a request.
// A nil proxy means connect directly; an empty user agent means pick a random one.
type IdentityProvider interface {
	Proxy() (*url.URL, error)
	UserAgent() string
}

// Extractor turns raw page bodies into structured records. Selectors that do
// not match yield absent values, never errors.
type Extractor interface {
	SearchPage(body []byte) (SearchResult, error)
	ProductPage(body []byte) (ProductPage, error)
	ReviewTotals(body []byte) (ReviewTotals, error)
	NativeReviews(body []byte) (ReviewPage, error)
	MallReviews(body []byte) (ReviewPage, error)
}

// Enqueuer accepts jobs onto a lane and returns the stored job.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) (Job, error)
}

// Lane is a durable job queue with started and failed registries.
type Lane interface {
	Enqueuer
	Name() LaneName
	Dequeue(ctx context.Context) (Job, error)
	Complete(ctx context.Context, job Job) error
	Fail(ctx context.Context, job Job, cause error) error
	Reap(ctx context.Context, now time.Time) (int, error)
	Requeue(ctx context.Context, jobID string) (Job, error)
	Failed(ctx context.Context, limit int) ([]Job, error)
	Stats(ctx context.Context) (LaneStats, error)
}

// ProductStore persists product documents keyed by product UID.
type ProductStore interface {
	UpsertProduct(ctx context.Context, product Product) error
}

// ReviewStore persists review documents keyed by review hash.
type ReviewStore interface {
	CountReviews(ctx context.Context, fkey string, source ReviewSource) (int64, error)
	ReviewExists(ctx context.Context, id string) (bool, error)
	// InsertReview returns ErrDuplicate when a review with the same ID exists.
	InsertReview(ctx context.Context, review Review) error
}

// KeywordSource supplies the product keywords for a discovery cycle.
type KeywordSource interface {
	Keywords(ctx context.Context) ([]string, error)
}

// DocumentStore is the full persistence surface used by the workers.
type DocumentStore interface {
	ProductStore
	ReviewStore
	KeywordSource
	Close(ctx context.Context) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, body io.Reader) (string, error)
}

// Publisher pushes notices to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Pauser blocks for a politeness delay. It returns the context error when the
// context ends first.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

// Hasher computes digests for review identity and archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
