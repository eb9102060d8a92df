package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ExchangeData is one completed request/reply pair. It is an audit record;
// nothing reads it back into the in-memory stores.
type ExchangeData struct {
	ID         uuid.UUID `json:"id"`
	SessionKey string    `json:"sessionKey"`
	Channel    string    `json:"channel"`
	UserID     string    `json:"userId,omitempty"`
	Intent     string    `json:"intent,omitempty"`
	UserText   string    `json:"userText"`
	Reply      string    `json:"reply"`
	Model      string    `json:"model,omitempty"`
	LatencyMS  int64     `json:"latencyMs"`
	Fallback   bool      `json:"fallback,omitempty"` // the model failed and a canned reply was sent
	CreatedAt  time.Time `json:"createdAt"`
}

// ExchangeListOpts filters List.
type ExchangeListOpts struct {
	SessionKey string // empty = all sessions
	Limit      int    // <= 0 = DefaultExchangeLimit
}

// DefaultExchangeLimit caps List when no limit is given.
const DefaultExchangeLimit = 50

// MaxExchangeLimit is the largest page List returns.
const MaxExchangeLimit = 500

// NormalizeLimit clamps a requested page size.
func (o ExchangeListOpts) NormalizeLimit() int {
	switch {
	case o.Limit <= 0:
		return DefaultExchangeLimit
	case o.Limit > MaxExchangeLimit:
		return MaxExchangeLimit
	}
	return o.Limit
}

// ExchangeStore records exchanges and lists the most recent ones.
type ExchangeStore interface {
	Record(ctx context.Context, ex ExchangeData) error
	// List returns exchanges newest first.
	List(ctx context.Context, opts ExchangeListOpts) ([]ExchangeData, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Prepare fills the id and timestamp when unset.
func (ex *ExchangeData) Prepare(now time.Time) {
	if ex.ID == uuid.Nil {
		ex.ID = uuid.Must(uuid.NewV7())
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = now
	}
}
