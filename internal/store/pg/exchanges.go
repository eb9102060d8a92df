package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/talkgate/internal/store"
)

// PGExchangeStore implements store.ExchangeStore backed by Postgres.
// The schema is owned by the embedded migrations.
type PGExchangeStore struct {
	db *sql.DB
}

func NewPGExchangeStore(db *sql.DB) *PGExchangeStore {
	return &PGExchangeStore{db: db}
}

func (s *PGExchangeStore) Record(ctx context.Context, ex store.ExchangeData) error {
	ex.Prepare(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exchanges (id, session_key, channel, user_id, intent, user_text, reply, model, latency_ms, fallback, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		ex.ID, ex.SessionKey, ex.Channel, ex.UserID, ex.Intent, ex.UserText, ex.Reply,
		ex.Model, ex.LatencyMS, ex.Fallback, ex.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert exchange: %w", err)
	}
	return nil
}

func (s *PGExchangeStore) List(ctx context.Context, opts store.ExchangeListOpts) ([]store.ExchangeData, error) {
	q := `SELECT id, session_key, channel, user_id, intent, user_text, reply, model, latency_ms, fallback, created_at
	      FROM exchanges`
	args := []interface{}{}
	if opts.SessionKey != "" {
		args = append(args, opts.SessionKey)
		q += fmt.Sprintf(` WHERE session_key = $%d`, len(args))
	}
	args = append(args, opts.NormalizeLimit())
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list exchanges: %w", err)
	}
	defer rows.Close()

	var out []store.ExchangeData
	for rows.Next() {
		var ex store.ExchangeData
		if err := rows.Scan(&ex.ID, &ex.SessionKey, &ex.Channel, &ex.UserID, &ex.Intent, &ex.UserText,
			&ex.Reply, &ex.Model, &ex.LatencyMS, &ex.Fallback, &ex.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

func (s *PGExchangeStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exchanges`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count exchanges: %w", err)
	}
	return n, nil
}

func (s *PGExchangeStore) Close() error { return s.db.Close() }
