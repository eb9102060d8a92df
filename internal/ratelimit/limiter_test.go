package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/talkgate/internal/timedstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newLimiter(t *testing.T, p Policy, clk *fakeClock) *Limiter {
	t.Helper()
	l, err := New("test", p, timedstore.WithClock(clk.Now), timedstore.WithShards(4))
	require.NoError(t, err)
	return l
}

// --- consume ---

func TestFirstConsumeStartsWindow(t *testing.T) {
	clk := newFakeClock()
	l := newLimiter(t, Policy{Points: 5, Duration: time.Minute}, clk)

	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("ip-%d", i)
		res, err := l.Consume(key)
		require.NoError(t, err)
		assert.True(t, res.Allowed, key)
		assert.Equal(t, 4, res.Remaining, key)
		assert.Equal(t, clk.Now().Add(time.Minute), res.ResetAt)
	}
}

func TestExhaustedWindowRejects(t *testing.T) {
	clk := newFakeClock()
	l := newLimiter(t, Policy{Points: 3, Duration: time.Minute, BlockDuration: 5 * time.Minute}, clk)

	for i := 0; i < 3; i++ {
		res, err := l.Consume("k")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := l.Consume("k")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 5*time.Minute, res.RetryAfter)
	assert.Equal(t, 300, res.RetryAfterSeconds())
}

func TestGeneralTierScenario(t *testing.T) {
	clk := newFakeClock()
	l := newLimiter(t, Policy{Points: 2, Duration: 60 * time.Second}, clk)

	r1, _ := l.Consume("ip1")
	clk.Advance(300 * time.Millisecond)
	r2, _ := l.Consume("ip1")
	clk.Advance(300 * time.Millisecond)
	r3, _ := l.Consume("ip1")

	assert.True(t, r1.Allowed)
	assert.True(t, r2.Allowed)
	assert.False(t, r3.Allowed)
	assert.Greater(t, r3.RetryAfter, time.Duration(0))
	// no block duration: blocked until the window ends
	assert.Equal(t, 60*time.Second-600*time.Millisecond, r3.RetryAfter)
}

func TestBlockRefreshedWhileHammering(t *testing.T) {
	clk := newFakeClock()
	l := newLimiter(t, Policy{Points: 1, Duration: 10 * time.Second, BlockDuration: 30 * time.Second}, clk)

	_, _ = l.Consume("k")
	res, _ := l.Consume("k")
	require.False(t, res.Allowed)

	clk.Advance(20 * time.Second)
	res, _ = l.Consume("k")
	assert.False(t, res.Allowed)
	assert.Equal(t, 30*time.Second, res.RetryAfter, "attempt while blocked extends the block")

	clk.Advance(29 * time.Second)
	res, _ = l.Consume("k")
	assert.False(t, res.Allowed)
}

func TestFreshWindowAfterBlock(t *testing.T) {
	clk := newFakeClock()
	l := newLimiter(t, Policy{Points: 2, Duration: 10 * time.Second, BlockDuration: time.Minute}, clk)

	_, _ = l.Consume("k")
	_, _ = l.Consume("k")
	res, _ := l.Consume("k")
	require.False(t, res.Allowed)

	clk.Advance(time.Minute)
	res, err := l.Consume("k")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)
}

func TestBlockOutlivesWindow(t *testing.T) {
	clk := newFakeClock()
	l := newLimiter(t, Policy{Points: 1, Duration: 5 * time.Second, BlockDuration: time.Minute}, clk)

	_, _ = l.Consume("k")
	_, _ = l.Consume("k")
	clk.Advance(10 * time.Second)

	res, _ := l.Consume("k")
	assert.False(t, res.Allowed, "window elapsed but block still active")
}

func TestCapacityNeverFreesBlockedKey(t *testing.T) {
	clk := newFakeClock()
	l, err := New("test", Policy{Points: 1, Duration: time.Minute, BlockDuration: time.Hour},
		timedstore.WithClock(clk.Now), timedstore.WithShards(1), timedstore.WithMaxEntries(4))
	require.NoError(t, err)

	_, _ = l.Consume("abuser")
	res, _ := l.Consume("abuser")
	require.False(t, res.Allowed)
	clk.Advance(time.Second)

	for i := 0; i < 4; i++ {
		_, _ = l.Consume(fmt.Sprintf("fresh-%d", i))
	}

	res, err = l.Consume("abuser")
	require.NoError(t, err)
	assert.False(t, res.Allowed, "blocked key must survive the size cap")
	assert.True(t, l.Peek("abuser").Blocked)

	// The store is full of live windows: an untracked key is rejected.
	res, err = l.Consume("newcomer")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Hour, res.RetryAfter)

	// Once the windows of the other keys end, slots free up again.
	clk.Advance(time.Minute)
	res, err = l.Consume("newcomer")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestWindowRollover(t *testing.T) {
	clk := newFakeClock()
	l := newLimiter(t, Policy{Points: 2, Duration: 10 * time.Second}, clk)

	_, _ = l.Consume("k")
	clk.Advance(10 * time.Second)
	res, _ := l.Consume("k")
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining, "new window, not a continuation")
}

func TestZeroPointsAlwaysBlocks(t *testing.T) {
	clk := newFakeClock()
	l := newLimiter(t, Policy{Points: 0, Duration: time.Second}, clk)

	for i := 0; i < 3; i++ {
		res, err := l.Consume("k")
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Greater(t, res.RetryAfter, time.Duration(0))
		clk.Advance(2 * time.Second)
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	l := newLimiter(t, Policy{Points: 1, Duration: time.Second}, newFakeClock())
	_, err := l.Consume("")
	assert.True(t, errors.Is(err, ErrEmptyKey))
	assert.Equal(t, 0, l.Len())
}

func TestConsumeSameKeyConcurrent(t *testing.T) {
	clk := newFakeClock()
	const points = 100
	l := newLimiter(t, Policy{Points: points, Duration: time.Hour}, clk)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < 20; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if res, err := l.Consume("shared"); err == nil && res.Allowed {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, points, allowed.Load(), "the last point is never handed out twice")
}

// --- peek / reset ---

func TestPeekDoesNotMutate(t *testing.T) {
	clk := newFakeClock()
	l := newLimiter(t, Policy{Points: 3, Duration: time.Minute}, clk)

	st := l.Peek("k")
	assert.Equal(t, 3, st.Remaining)
	assert.Equal(t, 0, l.Len(), "peek on unknown key creates nothing")

	_, _ = l.Consume("k")
	for i := 0; i < 5; i++ {
		st = l.Peek("k")
	}
	assert.Equal(t, 2, st.Remaining)
	assert.Equal(t, 1, st.Hits)
	assert.False(t, st.Blocked)
	assert.Equal(t, clk.Now().Add(time.Minute), st.ResetAt)

	res, _ := l.Consume("k")
	assert.Equal(t, 1, res.Remaining)
}

func TestPeekReportsBlock(t *testing.T) {
	clk := newFakeClock()
	l := newLimiter(t, Policy{Points: 1, Duration: time.Minute, BlockDuration: 2 * time.Minute}, clk)
	_, _ = l.Consume("k")
	_, _ = l.Consume("k")

	st := l.Peek("k")
	assert.True(t, st.Blocked)
	assert.Equal(t, 0, st.Remaining)
	assert.Equal(t, clk.Now().Add(2*time.Minute), st.BlockedUntil)

	clk.Advance(2 * time.Minute)
	st = l.Peek("k")
	assert.False(t, st.Blocked)
	assert.Equal(t, 1, st.Remaining)
}

func TestResetRestoresQuota(t *testing.T) {
	clk := newFakeClock()
	l := newLimiter(t, Policy{Points: 1, Duration: time.Hour, BlockDuration: time.Hour}, clk)

	_, _ = l.Consume("k")
	res, _ := l.Consume("k")
	require.False(t, res.Allowed)

	l.Reset("k")
	res, err := l.Consume("k")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	// reset of an unknown key is harmless
	l.Reset("nobody")
	l.Reset("")
}

// --- sweep ---

func TestSweepDropsIdleKeysOnlyAfterBlock(t *testing.T) {
	clk := newFakeClock()
	l := newLimiter(t, Policy{Points: 1, Duration: 10 * time.Second, BlockDuration: time.Minute}, clk)

	_, _ = l.Consume("idle")
	_, _ = l.Consume("blocked")
	_, _ = l.Consume("blocked")

	clk.Advance(10 * time.Second)
	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())

	clk.Advance(time.Minute)
	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 0, l.Len())
}

// --- policy / tiers ---

func TestPolicyValidate(t *testing.T) {
	cases := []struct {
		name    string
		p       Policy
		wantErr bool
	}{
		{"ok", Policy{Points: 10, Duration: time.Minute}, false},
		{"zero points ok", Policy{Points: 0, Duration: time.Minute}, false},
		{"negative points", Policy{Points: -1, Duration: time.Minute}, true},
		{"zero duration", Policy{Points: 1}, true},
		{"negative block", Policy{Points: 1, Duration: time.Second, BlockDuration: -time.Second}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.p.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRetryAfterSecondsRoundsUp(t *testing.T) {
	assert.Equal(t, 1, Result{RetryAfter: 0}.RetryAfterSeconds())
	assert.Equal(t, 1, Result{RetryAfter: 200 * time.Millisecond}.RetryAfterSeconds())
	assert.Equal(t, 2, Result{RetryAfter: 1001 * time.Millisecond}.RetryAfterSeconds())
}

func TestTiersAreIndependent(t *testing.T) {
	clk := newFakeClock()
	tiers, err := NewTiers(
		Policy{Points: 1, Duration: time.Minute},
		Policy{Points: 2, Duration: time.Minute},
		func(string) []timedstore.Option { return []timedstore.Option{timedstore.WithClock(clk.Now)} },
	)
	require.NoError(t, err)

	_, _ = tiers.General.Consume("1.2.3.4")
	_, _ = tiers.User.Consume(UserKey("u1"))

	rep := tiers.Report("1.2.3.4", "u1")
	assert.Equal(t, 0, rep.General.Remaining)
	require.NotNil(t, rep.User)
	assert.Equal(t, 1, rep.User.Remaining)
	assert.Equal(t, "user_u1", rep.User.Key)

	assert.Nil(t, tiers.Report("1.2.3.4", "").User)

	reset := tiers.ResetPair("1.2.3.4", "u1")
	assert.Equal(t, []string{"general:1.2.3.4", "user:u1"}, reset)
	assert.Equal(t, 1, tiers.General.Peek("1.2.3.4").Remaining)
}

func TestNewTiersRejectsBadPolicy(t *testing.T) {
	_, err := NewTiers(Policy{Points: 1, Duration: time.Minute}, Policy{Points: 1}, nil)
	assert.Error(t, err)
}
