// Package timedstore provides a sharded, concurrency-safe map from string keys
// to values with a per-record lifetime.
//
// Expiry is evaluated lazily on every read from the record's timestamps, so
// correctness never depends on the background sweep. The sweep (Run/Sweep)
// only reclaims memory held by keys that are never read again.
//
// Each shard has its own lock. Operations on the same key are serialized by
// that lock; operations on keys in different shards never contend.
package timedstore

import "time"

// Entry is a copy of a stored record. Callers never hold a live record.
type Entry[V any] struct {
	Value     V
	CreatedAt time.Time
	TouchedAt time.Time
	TTL       time.Duration // <= 0 means no expiry
}

// ExpiresAt returns when the entry stops being visible (zero if it never expires).
func (e Entry[V]) ExpiresAt() time.Time {
	if e.TTL <= 0 {
		return time.Time{}
	}
	return e.TouchedAt.Add(e.TTL)
}

// Expired reports whether the entry is past its TTL at now.
func (e Entry[V]) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.TouchedAt) >= e.TTL
}

// Action tells Compute what to do with the record after the callback returns.
type Action int

const (
	// ActionNone leaves the store untouched.
	ActionNone Action = iota
	// ActionSet writes the value as a brand-new record (CreatedAt = TouchedAt = now).
	ActionSet
	// ActionUpdate replaces the value, keeps CreatedAt and sets TouchedAt = now.
	ActionUpdate
	// ActionDelete removes the record.
	ActionDelete
)

// Result is returned by a Compute callback.
type Result[V any] struct {
	Value  V
	TTL    time.Duration
	Action Action
}

// Metrics receives store lifecycle events. Implementations must be cheap and
// non-blocking; they are called with a shard lock held.
type Metrics interface {
	Hit()
	Miss()
	Expire()
	Evict()
}

// NoopMetrics discards all events.
type NoopMetrics struct{}

func (NoopMetrics) Hit()    {}
func (NoopMetrics) Miss()   {}
func (NoopMetrics) Expire() {}
func (NoopMetrics) Evict()  {}
