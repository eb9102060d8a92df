package ratelimit

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/talkgate/internal/timedstore"
)

const (
	TierGeneral = "general"
	TierUser    = "user"
)

// UserKey is the per-user tier key for a platform user id.
func UserKey(userID string) string { return "user_" + userID }

// Tiers bundles the coarse per-address tier and the per-user tier.
type Tiers struct {
	General *Limiter
	User    *Limiter
}

// NewTiers builds both tiers. storeOpts is called once per tier so each can
// carry its own metrics label.
func NewTiers(general, user Policy, storeOpts func(tier string) []timedstore.Option) (*Tiers, error) {
	if storeOpts == nil {
		storeOpts = func(string) []timedstore.Option { return nil }
	}
	g, err := New(TierGeneral, general, storeOpts(TierGeneral)...)
	if err != nil {
		return nil, err
	}
	u, err := New(TierUser, user, storeOpts(TierUser)...)
	if err != nil {
		return nil, err
	}
	return &Tiers{General: g, User: u}, nil
}

// Run sweeps both tiers until ctx is done.
func (t *Tiers) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		t.User.Run(ctx)
		close(done)
	}()
	t.General.Run(ctx)
	<-done
}

// StatusReport is the admin view of both tiers for one address/user pair.
type StatusReport struct {
	General Status  `json:"general"`
	User    *Status `json:"user,omitempty"`
}

// Report peeks both tiers. userID may be empty.
func (t *Tiers) Report(ip, userID string) StatusReport {
	r := StatusReport{General: t.General.Peek(ip)}
	if userID != "" {
		s := t.User.Peek(UserKey(userID))
		r.User = &s
	}
	return r
}

// ResetPair resets the general tier for ip and the user tier for userID,
// skipping empty values. It returns a description of what was reset.
func (t *Tiers) ResetPair(ip, userID string) []string {
	var reset []string
	if ip != "" {
		t.General.Reset(ip)
		reset = append(reset, fmt.Sprintf("%s:%s", TierGeneral, ip))
	}
	if userID != "" {
		t.User.Reset(UserKey(userID))
		reset = append(reset, fmt.Sprintf("%s:%s", TierUser, userID))
	}
	return reset
}
