// Package sqlite stores the exchange log in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/talkgate/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
	id          TEXT PRIMARY KEY,
	session_key TEXT NOT NULL,
	channel     TEXT NOT NULL,
	user_id     TEXT NOT NULL DEFAULT '',
	intent      TEXT NOT NULL DEFAULT '',
	user_text   TEXT NOT NULL,
	reply       TEXT NOT NULL,
	model       TEXT NOT NULL DEFAULT '',
	latency_ms  INTEGER NOT NULL DEFAULT 0,
	fallback    INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exchanges_created ON exchanges (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_exchanges_session ON exchanges (session_key, created_at DESC);
`

// SQLiteExchangeStore implements store.ExchangeStore on a SQLite file.
type SQLiteExchangeStore struct {
	db *sql.DB
}

// Open creates the parent directory and schema if needed.
func Open(path string) (*SQLiteExchangeStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLiteExchangeStore{db: db}, nil
}

func (s *SQLiteExchangeStore) Record(ctx context.Context, ex store.ExchangeData) error {
	ex.Prepare(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exchanges (id, session_key, channel, user_id, intent, user_text, reply, model, latency_ms, fallback, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID.String(), ex.SessionKey, ex.Channel, ex.UserID, ex.Intent, ex.UserText, ex.Reply,
		ex.Model, ex.LatencyMS, ex.Fallback, ex.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert exchange: %w", err)
	}
	return nil
}

func (s *SQLiteExchangeStore) List(ctx context.Context, opts store.ExchangeListOpts) ([]store.ExchangeData, error) {
	q := `SELECT id, session_key, channel, user_id, intent, user_text, reply, model, latency_ms, fallback, created_at
	      FROM exchanges`
	var args []interface{}
	if opts.SessionKey != "" {
		q += ` WHERE session_key = ?`
		args = append(args, opts.SessionKey)
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, opts.NormalizeLimit())

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list exchanges: %w", err)
	}
	defer rows.Close()

	var out []store.ExchangeData
	for rows.Next() {
		var (
			ex      store.ExchangeData
			id      string
			created int64
		)
		if err := rows.Scan(&id, &ex.SessionKey, &ex.Channel, &ex.UserID, &ex.Intent, &ex.UserText,
			&ex.Reply, &ex.Model, &ex.LatencyMS, &ex.Fallback, &created); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		ex.ID, _ = uuid.Parse(id)
		ex.CreatedAt = time.UnixMilli(created)
		out = append(out, ex)
	}
	return out, rows.Err()
}

func (s *SQLiteExchangeStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exchanges`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count exchanges: %w", err)
	}
	return n, nil
}

func (s *SQLiteExchangeStore) Close() error { return s.db.Close() }
