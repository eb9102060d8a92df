// Package ratelimit implements fixed-window point limiters with a block
// period, backed by a timedstore.Store. A limiter never performs I/O; every
// operation on a key is serialized by the key's shard lock.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/nextlevelbuilder/talkgate/internal/timedstore"
)

// ErrEmptyKey is returned for an empty key. Keys are never coerced.
var ErrEmptyKey = errors.New("ratelimit: empty key")

// ErrFault is returned when the limiter recovered from an internal panic.
// The accompanying Result is always a rejection.
var ErrFault = errors.New("ratelimit: internal fault")

// Policy configures one tier.
type Policy struct {
	Points        int           // consumptions allowed per window; 0 blocks every request
	Duration      time.Duration // window length
	BlockDuration time.Duration // how long an exhausted key stays blocked; 0 = until the window ends
}

// Validate checks the policy contract.
func (p Policy) Validate() error {
	if p.Points < 0 {
		return fmt.Errorf("points must be >= 0, got %d", p.Points)
	}
	if p.Duration <= 0 {
		return fmt.Errorf("duration must be > 0, got %s", p.Duration)
	}
	if p.BlockDuration < 0 {
		return fmt.Errorf("block duration must be >= 0, got %s", p.BlockDuration)
	}
	return nil
}

// Result is the outcome of Consume.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // > 0 when rejected
	ResetAt    time.Time     // end of the current window, or of the block
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1.
func (r Result) RetryAfterSeconds() int {
	s := int(math.Ceil(r.RetryAfter.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// Status is a read-only view of a key, as returned by Peek.
type Status struct {
	Key          string    `json:"key"`
	Limit        int       `json:"limit"`
	Remaining    int       `json:"remaining"`
	Hits         int       `json:"hits"`
	Blocked      bool      `json:"blocked"`
	ResetAt      time.Time `json:"resetAt,omitzero"`
	BlockedUntil time.Time `json:"blockedUntil,omitzero"`
}

type state struct {
	remaining    int
	windowStart  time.Time
	blockedUntil time.Time // zero = not blocked
	hits         int
}

// Limiter is one rate-limit tier. Safe for concurrent use.
type Limiter struct {
	name   string
	policy Policy
	store  *timedstore.Store[state]
}

// New creates a limiter. Store options (clock, shards, cap, metrics) are
// passed through to the backing store.
func New(name string, policy Policy, opts ...timedstore.Option) (*Limiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("ratelimit %s: %w", name, err)
	}
	l := &Limiter{name: name, policy: policy}
	opts = append([]timedstore.Option{timedstore.WithName("ratelimit_" + name)}, opts...)
	// A key still inside its window or block must never lose its record to
	// the size cap; that would hand it a fresh quota.
	opts = append(opts, timedstore.WithEvictable(func(e timedstore.Entry[state], now time.Time) bool {
		return l.fresh(e.Value, now)
	}))
	l.store = timedstore.New[state](opts...)
	return l, nil
}

// Name returns the tier name.
func (l *Limiter) Name() string { return l.name }

// Policy returns the tier's configuration.
func (l *Limiter) Policy() Policy { return l.policy }

// Run sweeps idle keys until ctx is done.
func (l *Limiter) Run(ctx context.Context) { l.store.Run(ctx) }

// Sweep removes keys whose window and block have both elapsed.
func (l *Limiter) Sweep() int { return l.store.Sweep() }

// Len returns the number of tracked keys.
func (l *Limiter) Len() int { return l.store.Len() }

func (l *Limiter) windowEnd(st state) time.Time {
	return st.windowStart.Add(l.policy.Duration)
}

// fresh reports whether st no longer constrains the key at now.
func (l *Limiter) fresh(st state, now time.Time) bool {
	if !st.blockedUntil.IsZero() {
		return !now.Before(st.blockedUntil)
	}
	return !now.Before(l.windowEnd(st))
}

func (l *Limiter) blockUntil(st state, now time.Time) time.Time {
	if l.policy.BlockDuration > 0 {
		return now.Add(l.policy.BlockDuration)
	}
	return l.windowEnd(st)
}

// ttlFor keeps the record alive until neither the window nor the block
// constrains the key any more.
func (l *Limiter) ttlFor(st state, now time.Time) time.Duration {
	end := l.windowEnd(st)
	if st.blockedUntil.After(end) {
		end = st.blockedUntil
	}
	if ttl := end.Sub(now); ttl > 0 {
		return ttl
	}
	return time.Nanosecond
}

// Consume spends one point for key. Points already consumed are never
// refunded, including when the caller's request is later cancelled.
func (l *Limiter) Consume(key string) (res Result, err error) {
	if key == "" {
		return Result{}, ErrEmptyKey
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("ratelimit.panic", "tier", l.name, "key", key, "panic", r)
			res, err = l.reject(time.Now()), ErrFault
		}
	}()

	cerr := l.store.Compute(key, func(cur *timedstore.Entry[state], now time.Time) timedstore.Result[state] {
		var st state
		if cur == nil || l.fresh(cur.Value, now) {
			st = state{remaining: l.policy.Points, windowStart: now}
		} else {
			st = cur.Value
		}
		st.hits++

		switch {
		case !st.blockedUntil.IsZero():
			// Still blocked: every attempt pushes the block out again.
			if l.policy.BlockDuration > 0 {
				st.blockedUntil = now.Add(l.policy.BlockDuration)
			}
			res = Result{Allowed: false, RetryAfter: st.blockedUntil.Sub(now), ResetAt: st.blockedUntil}
		case st.remaining > 0:
			st.remaining--
			res = Result{Allowed: true, Remaining: st.remaining, ResetAt: l.windowEnd(st)}
		default:
			st.blockedUntil = l.blockUntil(st, now)
			res = Result{Allowed: false, RetryAfter: st.blockedUntil.Sub(now), ResetAt: st.blockedUntil}
		}

		return timedstore.Result[state]{Value: st, TTL: l.ttlFor(st, now), Action: timedstore.ActionUpdate}
	})
	if errors.Is(cerr, timedstore.ErrFull) {
		// No slot for an untracked key: treat it as blocked.
		slog.Warn("ratelimit.store_full", "tier", l.name, "key", key)
		return l.reject(l.store.Now()), nil
	}
	return res, nil
}

// reject is the result for a key the limiter could not account for.
func (l *Limiter) reject(now time.Time) Result {
	retry := l.policy.BlockDuration
	if retry <= 0 {
		retry = l.policy.Duration
	}
	return Result{Allowed: false, RetryAfter: retry, ResetAt: now.Add(retry)}
}

// Peek reports key's quota without consuming or refreshing anything.
func (l *Limiter) Peek(key string) Status {
	status := Status{Key: key, Limit: l.policy.Points, Remaining: l.policy.Points}
	if key == "" {
		return status
	}
	e, ok := l.store.Peek(key)
	if !ok {
		return status
	}
	now := l.store.Now()
	st := e.Value
	if l.fresh(st, now) {
		return status
	}
	status.Remaining = st.remaining
	status.Hits = st.hits
	status.ResetAt = l.windowEnd(st)
	if !st.blockedUntil.IsZero() {
		status.Blocked = true
		status.BlockedUntil = st.blockedUntil
		status.ResetAt = st.blockedUntil
	}
	return status
}

// Reset drops key's record, restoring the full quota.
func (l *Limiter) Reset(key string) {
	if key == "" {
		return
	}
	l.store.Delete(key)
}
