package timedstore

import (
	"hash/fnv"
	"sync"
	"time"
)

type record[V any] struct {
	value     V
	createdAt time.Time
	touchedAt time.Time
	ttl       time.Duration
}

func (r *record[V]) expired(now time.Time) bool {
	return r.ttl > 0 && now.Sub(r.touchedAt) >= r.ttl
}

func (r *record[V]) entry() Entry[V] {
	return Entry[V]{Value: r.value, CreatedAt: r.createdAt, TouchedAt: r.touchedAt, TTL: r.ttl}
}

type shard[V any] struct {
	mu   sync.RWMutex
	data map[string]*record[V]
}

func newShard[V any]() *shard[V] {
	return &shard[V]{data: make(map[string]*record[V])}
}

// hashKey is FNV-1a; shard counts are powers of two so the mask is exact.
func hashKey(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

// purgeExpiredLocked drops expired records. Caller holds sh.mu.
func (sh *shard[V]) purgeExpiredLocked(now time.Time, m Metrics) int {
	n := 0
	for k, r := range sh.data {
		if r.expired(now) {
			delete(sh.data, k)
			m.Expire()
			n++
		}
	}
	return n
}

// evictOldestLocked drops the record touched longest ago among those allowed
// by evictable (all when nil) and reports whether one was dropped. Caller
// holds sh.mu. Linear in shard size; only runs when a shard is full.
func (sh *shard[V]) evictOldestLocked(now time.Time, evictable func(Entry[V], time.Time) bool, m Metrics) bool {
	var (
		oldestKey string
		oldestAt  time.Time
		found     bool
	)
	for k, r := range sh.data {
		if evictable != nil && !evictable(r.entry(), now) {
			continue
		}
		if !found || r.touchedAt.Before(oldestAt) {
			oldestKey, oldestAt, found = k, r.touchedAt, true
		}
	}
	if found {
		delete(sh.data, oldestKey)
		m.Evict()
	}
	return found
}
