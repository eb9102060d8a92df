package timedstore

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrFull is returned by Compute when a new key cannot be stored because its
// shard is at capacity and no record may be evicted.
var ErrFull = errors.New("timedstore: shard full")

const (
	defaultShards        = 32
	defaultSweepInterval = time.Minute
)

// Store is a sharded TTL map. The zero value is not usable; use New.
type Store[V any] struct {
	name          string
	shards        []*shard[V]
	mask          uint32
	perShardCap   int // 0 = unbounded
	sweepInterval time.Duration
	now           func() time.Time
	metrics       Metrics
	evictable     func(Entry[V], time.Time) bool // nil = any live record
}

// Option configures a Store.
type Option func(*options)

type options struct {
	name          string
	shards        int
	maxEntries    int
	sweepInterval time.Duration
	now           func() time.Time
	metrics       Metrics
	evictable     any
}

// WithName labels the store in logs.
func WithName(name string) Option { return func(o *options) { o.name = name } }

// WithShards sets the shard count. Rounded up to a power of two.
func WithShards(n int) Option { return func(o *options) { o.shards = n } }

// WithMaxEntries caps the number of records. The cap is split evenly across
// shards; a full shard evicts its expired records first, then its oldest.
func WithMaxEntries(n int) Option { return func(o *options) { o.maxEntries = n } }

// WithSweepInterval sets how often Run sweeps expired records.
func WithSweepInterval(d time.Duration) Option { return func(o *options) { o.sweepInterval = d } }

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithMetrics installs a metrics sink.
func WithMetrics(m Metrics) Option { return func(o *options) { o.metrics = m } }

// WithEvictable limits which live records a full shard may evict. When none
// qualifies, inserting a new key fails with ErrFull. V must match the
// store's value type.
func WithEvictable[V any](fn func(e Entry[V], now time.Time) bool) Option {
	return func(o *options) { o.evictable = fn }
}

// New creates a Store.
func New[V any](opts ...Option) *Store[V] {
	o := options{
		name:          "store",
		shards:        defaultShards,
		sweepInterval: defaultSweepInterval,
		now:           time.Now,
		metrics:       NoopMetrics{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	n := nextPowerOfTwo(o.shards)
	s := &Store[V]{
		name:          o.name,
		shards:        make([]*shard[V], n),
		mask:          uint32(n - 1),
		sweepInterval: o.sweepInterval,
		now:           o.now,
		metrics:       o.metrics,
	}
	if fn, ok := o.evictable.(func(Entry[V], time.Time) bool); ok {
		s.evictable = fn
	}
	if o.maxEntries > 0 {
		s.perShardCap = o.maxEntries / n
		if s.perShardCap < 1 {
			s.perShardCap = 1
		}
	}
	for i := range s.shards {
		s.shards[i] = newShard[V]()
	}
	return s
}

func nextPowerOfTwo(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Name returns the store label.
func (s *Store[V]) Name() string { return s.name }

// Now returns the store clock's current time.
func (s *Store[V]) Now() time.Time { return s.now() }

func (s *Store[V]) shardFor(key string) *shard[V] {
	return s.shards[hashKey(key)&s.mask]
}

// Get returns the value for key, or false if it is missing or expired.
func (s *Store[V]) Get(key string) (V, bool) {
	e, ok := s.Peek(key)
	return e.Value, ok
}

// Peek returns a copy of the live entry for key, including timestamps.
// It never mutates the store; expired records are left for the sweep.
func (s *Store[V]) Peek(key string) (Entry[V], bool) {
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	r, ok := sh.data[key]
	if !ok || r.expired(now) {
		s.metrics.Miss()
		return Entry[V]{}, false
	}
	s.metrics.Hit()
	return r.entry(), true
}

// Set inserts or overwrites key. CreatedAt and TouchedAt are reset to now.
func (s *Store[V]) Set(key string, value V, ttl time.Duration) error {
	return s.Compute(key, func(*Entry[V], time.Time) Result[V] {
		return Result[V]{Value: value, TTL: ttl, Action: ActionSet}
	})
}

// Touch moves TouchedAt to now without changing the value, extending a
// sliding TTL. Returns false if key is missing or already expired.
func (s *Store[V]) Touch(key string) bool {
	touched := false
	s.Compute(key, func(cur *Entry[V], _ time.Time) Result[V] {
		if cur == nil {
			return Result[V]{}
		}
		touched = true
		return Result[V]{Value: cur.Value, TTL: cur.TTL, Action: ActionUpdate}
	})
	return touched
}

// Delete removes key. Deleting a missing key is a no-op.
func (s *Store[V]) Delete(key string) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	delete(sh.data, key)
	sh.mu.Unlock()
}

// Compute runs fn under key's shard lock and applies the returned action.
// cur is nil when key is missing or expired. fn must not call back into the
// store and must not block. It returns ErrFull when fn asked to insert a new
// key that did not fit; the store is then unchanged.
func (s *Store[V]) Compute(key string, fn func(cur *Entry[V], now time.Time) Result[V]) error {
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	r, ok := sh.data[key]
	var cur *Entry[V]
	if ok {
		if r.expired(now) {
			delete(sh.data, key)
			s.metrics.Expire()
			r, ok = nil, false
		} else {
			e := r.entry()
			cur = &e
		}
	}

	res := fn(cur, now)

	switch res.Action {
	case ActionSet:
		if !ok && !s.makeRoomLocked(sh, now) {
			return ErrFull
		}
		sh.data[key] = &record[V]{value: res.Value, createdAt: now, touchedAt: now, ttl: res.TTL}
	case ActionUpdate:
		if !ok {
			if !s.makeRoomLocked(sh, now) {
				return ErrFull
			}
			sh.data[key] = &record[V]{value: res.Value, createdAt: now, touchedAt: now, ttl: res.TTL}
			return nil
		}
		r.value = res.Value
		r.touchedAt = now
		r.ttl = res.TTL
	case ActionDelete:
		if ok {
			delete(sh.data, key)
		}
	}
	return nil
}

// makeRoomLocked reports whether sh has room for one more record.
func (s *Store[V]) makeRoomLocked(sh *shard[V], now time.Time) bool {
	if s.perShardCap == 0 || len(sh.data) < s.perShardCap {
		return true
	}
	sh.purgeExpiredLocked(now, s.metrics)
	for len(sh.data) >= s.perShardCap {
		if !sh.evictOldestLocked(now, s.evictable, s.metrics) {
			return false
		}
	}
	return true
}

// Sweep removes every expired record and returns how many were dropped.
// Shards are locked one at a time.
func (s *Store[V]) Sweep() int {
	total := 0
	for _, sh := range s.shards {
		now := s.now()
		sh.mu.Lock()
		total += sh.purgeExpiredLocked(now, s.metrics)
		sh.mu.Unlock()
	}
	return total
}

// Run sweeps on SweepInterval until ctx is done.
func (s *Store[V]) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				slog.Debug("timedstore.sweep", "store", s.name, "removed", n, "remaining", s.Len())
			}
		}
	}
}

// SweepInterval returns the configured sweep period.
func (s *Store[V]) SweepInterval() time.Duration { return s.sweepInterval }

// Len counts live (non-expired) records.
func (s *Store[V]) Len() int {
	n := 0
	s.Range(func(string, Entry[V]) bool {
		n++
		return true
	})
	return n
}

// Range calls fn for every live record until fn returns false. fn receives
// copies and runs with the shard's read lock held, so it must not call back
// into the store.
func (s *Store[V]) Range(fn func(key string, e Entry[V]) bool) {
	for _, sh := range s.shards {
		now := s.now()
		sh.mu.RLock()
		for k, r := range sh.data {
			if r.expired(now) {
				continue
			}
			if !fn(k, r.entry()) {
				sh.mu.RUnlock()
				return
			}
		}
		sh.mu.RUnlock()
	}
}
