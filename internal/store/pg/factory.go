package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/talkgate/internal/store"
)

// NewPGStores opens Postgres and verifies connectivity. It does not migrate;
// run `talkgate migrate up` first.
func NewPGStores(cfg store.StoreConfig) (*store.Stores, error) {
	db, err := OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &store.Stores{Exchanges: NewPGExchangeStore(db)}, nil
}
