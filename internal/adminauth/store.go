// Package adminauth holds admin sessions: bcrypt login, opaque random tokens,
// sliding expiry and optional origin binding.
package adminauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/nextlevelbuilder/talkgate/internal/timedstore"
)

var (
	// ErrInvalidCredentials covers both unknown user and wrong password.
	ErrInvalidCredentials = errors.New("adminauth: invalid credentials")
	// ErrNotConfigured is returned by Login when no password hash is set.
	ErrNotConfigured = errors.New("adminauth: admin credentials not configured")
)

const tokenBytes = 32

// Config configures the session store.
type Config struct {
	Username     string
	PasswordHash string        // bcrypt
	TTL          time.Duration // sliding inactivity lifetime
	// PurgeOnOriginMismatch deletes a session presented from a different
	// origin instead of only rejecting that request.
	PurgeOnOriginMismatch bool
	FailedLoginDelay      time.Duration
}

// Validate checks the config contract. An empty hash is allowed and
// disables login.
func (c Config) Validate() error {
	if c.TTL <= 0 {
		return fmt.Errorf("session ttl must be > 0, got %s", c.TTL)
	}
	if c.FailedLoginDelay < 0 {
		return fmt.Errorf("failed login delay must be >= 0, got %s", c.FailedLoginDelay)
	}
	if c.PasswordHash != "" {
		if c.Username == "" {
			return errors.New("admin username is required when a password hash is set")
		}
		if _, err := bcrypt.Cost([]byte(c.PasswordHash)); err != nil {
			return fmt.Errorf("admin password hash: %w", err)
		}
	}
	return nil
}

// Session is a copy of a stored admin session.
type Session struct {
	Username       string    `json:"username"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	BoundOrigin    string    `json:"boundOrigin,omitempty"`
}

// SessionInfo is the admin listing form of a session.
type SessionInfo struct {
	Token string `json:"token"` // masked
	Session
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store is the admin session store. Safe for concurrent use.
type Store struct {
	cfg   Config
	store *timedstore.Store[Session]
}

// New creates a session store. Store options are passed through.
func New(cfg Config, opts ...timedstore.Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("adminauth: %w", err)
	}
	opts = append([]timedstore.Option{timedstore.WithName("admin_sessions")}, opts...)
	return &Store{cfg: cfg, store: timedstore.New[Session](opts...)}, nil
}

// Configured reports whether a login is possible at all.
func (s *Store) Configured() bool { return s.cfg.PasswordHash != "" }

// TTL returns the session lifetime.
func (s *Store) TTL() time.Duration { return s.cfg.TTL }

// Login checks credentials and creates a new session. The bcrypt comparison
// runs even when the username is wrong. On failure the caller should wait
// FailedLoginDelay before answering.
func (s *Store) Login(ctx context.Context, username, password string) (string, Session, error) {
	if !s.Configured() {
		return "", Session{}, ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return "", Session{}, err
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.Username)) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(s.cfg.PasswordHash), []byte(password))
	if !userOK || passErr != nil {
		return "", Session{}, ErrInvalidCredentials
	}

	token, err := NewToken()
	if err != nil {
		return "", Session{}, fmt.Errorf("adminauth: generate token: %w", err)
	}
	now := s.store.Now()
	sess := Session{Username: s.cfg.Username, CreatedAt: now, LastActivityAt: now}
	if err := s.store.Set(token, sess, s.cfg.TTL); err != nil {
		return "", Session{}, fmt.Errorf("adminauth: store session: %w", err)
	}
	return token, sess, nil
}

// Validate returns the session for token if it is live and, when bound,
// presented from the same origin. A successful validation refreshes the
// activity time and binds origin if none is bound yet. A mismatch never
// refreshes.
func (s *Store) Validate(token, origin string) (Session, bool) {
	if token == "" {
		return Session{}, false
	}
	var (
		out Session
		ok  bool
	)
	s.store.Compute(token, func(cur *timedstore.Entry[Session], now time.Time) timedstore.Result[Session] {
		if cur == nil {
			return timedstore.Result[Session]{}
		}
		sess := cur.Value
		if sess.BoundOrigin != "" && sess.BoundOrigin != origin {
			slog.Warn("security.admin_origin_mismatch",
				"user", sess.Username, "bound", sess.BoundOrigin, "origin", origin,
				"purged", s.cfg.PurgeOnOriginMismatch)
			if s.cfg.PurgeOnOriginMismatch {
				return timedstore.Result[Session]{Action: timedstore.ActionDelete}
			}
			return timedstore.Result[Session]{}
		}
		if sess.BoundOrigin == "" {
			sess.BoundOrigin = origin
		}
		sess.LastActivityAt = now
		out, ok = sess, true
		return timedstore.Result[Session]{Value: sess, TTL: s.cfg.TTL, Action: timedstore.ActionUpdate}
	})
	return out, ok
}

// Logout deletes token's session. Unknown tokens are ignored.
func (s *Store) Logout(token string) {
	if token == "" {
		return
	}
	s.store.Delete(token)
}

// FailedLoginDelay waits the configured delay or until ctx is done.
func (s *Store) FailedLoginDelay(ctx context.Context) {
	if s.cfg.FailedLoginDelay <= 0 {
		return
	}
	t := time.NewTimer(s.cfg.FailedLoginDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Len returns the number of live sessions.
func (s *Store) Len() int { return s.store.Len() }

// Sessions lists live sessions with masked tokens.
func (s *Store) Sessions() []SessionInfo {
	var out []SessionInfo
	s.store.Range(func(token string, e timedstore.Entry[Session]) bool {
		out = append(out, SessionInfo{Token: MaskToken(token), Session: e.Value, ExpiresAt: e.ExpiresAt()})
		return true
	})
	return out
}

// Run sweeps expired sessions until ctx is done.
func (s *Store) Run(ctx context.Context) { s.store.Run(ctx) }

// NewToken returns a hex-encoded 32-byte random token.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// MaskToken keeps the first 8 characters of a token.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "***"
}

// HashPassword returns a bcrypt hash for password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
