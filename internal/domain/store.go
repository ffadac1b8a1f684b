package domain

import (
	"context"
	"fmt"
	"io"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PredictionStore persists predictions and their outcomes.
type PredictionStore interface {
	Create(ctx context.Context, p Prediction, outcomes []Outcome) error
	GetByID(ctx context.Context, id string) (Prediction, error)
	GetOutcomes(ctx context.Context, predictionID string) ([]Outcome, error)
	List(ctx context.Context, status PredictionStatus, opts ListOpts) ([]Prediction, error)

	// TransitionStatus atomically moves a prediction from one status to
	// another. It returns ErrInvalidTransition when the row is not in the
	// expected from status, which is how settlement enforces its
	// at-most-once guarantee.
	TransitionStatus(ctx context.Context, id string, from, to PredictionStatus) error

	// ApplySettlement persists a settlement result in a single transaction:
	// prediction financials and winner, per-stake payouts, and the winning
	// outcome flag.
	ApplySettlement(ctx context.Context, id string, res SettlementResult, settledBy string) error

	// MarkVoid records the void reason and flags every stake as refunded.
	MarkVoid(ctx context.Context, id string, reason string) error
}

// StakeStore persists stakes.
type StakeStore interface {
	// Create inserts a stake and bumps the outcome's pool and the
	// prediction's total pool in one transaction. It returns
	// ErrAlreadyExists when the ledger transaction has already funded a
	// stake, which makes stake tokens effectively single-use.
	Create(ctx context.Context, s Stake) error
	ListByPrediction(ctx context.Context, predictionID string) ([]Stake, error)
	ListByUser(ctx context.Context, username string, opts ListOpts) ([]Stake, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of financial events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// ViewCache caches serialized prediction views.
type ViewCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte) error
	Invalidate(ctx context.Context, predictionID string) error
}

// ViewCacheKey builds the cache key for one rendering variant of a
// prediction view. The prediction ID leads so implementations can group all
// of a prediction's variants for invalidation.
func ViewCacheKey(predictionID, viewer string, includeStakers bool) string {
	return fmt.Sprintf("%s|viewer=%s|stakers=%t", predictionID, viewer, includeStakers)
}

// LockManager provides distributed locks keyed by string.
type LockManager interface {
	// Acquire returns an unlock function on success, or ErrLockHeld when
	// another party holds the lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter enforces per-key request limits.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage is one entry read from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub messaging plus durable ordered streams for
// stake and settlement events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// BlobWriter writes objects to blob storage. Used by the settlement
// archiver to keep an immutable off-database record of every settlement.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobInfo describes one stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobReader reads archived records back out of blob storage.
type BlobReader interface {
	// Get returns the object body. The caller closes it. Returns
	// ErrNotFound when no object exists at the path.
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}
