// Package conversation keeps the recent turns of each chat session in memory.
//
// A session's log holds at most MaxTurns turns (oldest dropped first) and
// disappears TTL after its last append. Reads never extend the lifetime.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/talkgate/internal/timedstore"
)

// ErrEmptyKey is returned when a session key is empty.
var ErrEmptyKey = errors.New("conversation: empty session key")

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config controls history size and lifetime.
type Config struct {
	MaxTurns int           // even, >= 2
	TTL      time.Duration // inactivity lifetime, measured from the last append
}

// Validate checks the config contract.
func (c Config) Validate() error {
	if c.MaxTurns < 2 || c.MaxTurns%2 != 0 {
		return fmt.Errorf("max turns must be an even number >= 2, got %d", c.MaxTurns)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be > 0, got %s", c.TTL)
	}
	return nil
}

// Summary describes one stored session for the admin view.
type Summary struct {
	Key          string    `json:"key"`
	Turns        int       `json:"turns"`
	StartedAt    time.Time `json:"startedAt"`
	LastActivity time.Time `json:"lastActivity"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Cache is the per-session turn log. Safe for concurrent use; appends to the
// same key are serialized, appends to different keys only share a shard.
type Cache struct {
	cfg   Config
	store *timedstore.Store[[]Turn]
}

// New creates a cache. Store options are passed through.
func New(cfg Config, opts ...timedstore.Option) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}
	opts = append([]timedstore.Option{timedstore.WithName("conversation")}, opts...)
	return &Cache{cfg: cfg, store: timedstore.New[[]Turn](opts...)}, nil
}

// Config returns the cache configuration.
func (c *Cache) Config() Config { return c.cfg }

// Context returns a copy of key's turns, oldest first. Empty when the key is
// unknown or expired.
func (c *Cache) Context(key string) []Turn {
	turns, ok := c.store.Get(key)
	if !ok {
		return []Turn{}
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Append records one completed exchange and restarts the inactivity clock.
func (c *Cache) Append(key, user, assistant string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return c.store.Compute(key, func(cur *timedstore.Entry[[]Turn], _ time.Time) timedstore.Result[[]Turn] {
		var prev []Turn
		if cur != nil {
			prev = cur.Value
		}
		// Build a new slice so copies handed out by Context never alias.
		next := make([]Turn, 0, len(prev)+2)
		next = append(next, prev...)
		next = append(next,
			Turn{Role: RoleUser, Content: user},
			Turn{Role: RoleAssistant, Content: assistant},
		)
		if over := len(next) - c.cfg.MaxTurns; over > 0 {
			next = next[over:]
		}
		return timedstore.Result[[]Turn]{Value: next, TTL: c.cfg.TTL, Action: timedstore.ActionUpdate}
	})
}

// Clear drops key's history.
func (c *Cache) Clear(key string) {
	if key == "" {
		return
	}
	c.store.Delete(key)
}

// Len returns the number of live sessions.
func (c *Cache) Len() int { return c.store.Len() }

// Snapshot lists live sessions. Turn contents are not included.
func (c *Cache) Snapshot() []Summary {
	var out []Summary
	c.store.Range(func(key string, e timedstore.Entry[[]Turn]) bool {
		out = append(out, Summary{
			Key:          key,
			Turns:        len(e.Value),
			StartedAt:    e.CreatedAt,
			LastActivity: e.TouchedAt,
			ExpiresAt:    e.ExpiresAt(),
		})
		return true
	})
	return out
}

// Run sweeps expired sessions until ctx is done.
func (c *Cache) Run(ctx context.Context) { c.store.Run(ctx) }

// Sweep removes expired sessions now.
func (c *Cache) Sweep() int { return c.store.Sweep() }
