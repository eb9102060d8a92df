package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "talkgate.json5")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

// --- load ---

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Conversation.MaxTurns)
	assert.Equal(t, time.Hour, cfg.Conversation.TTL.D())
	assert.Equal(t, 100, cfg.RateLimit.General.Points)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.User.BlockDuration.D())
	require.NoError(t, cfg.Validate())
}

func TestLoadJSON5WithMixedDurations(t *testing.T) {
	path := writeConfig(t, `{
		// comments are allowed
		env: "development",
		rate_limit: {
			general: { points: 2, duration: 60, block_duration: "90s" },
		},
		conversation: { max_turns: 4, ttl: "30m" },
		gateway: { allowed_origins: ["https://a.example", 42] },
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.RateLimit.General.Points)
	assert.Equal(t, time.Minute, cfg.RateLimit.General.Duration.D())
	assert.Equal(t, 90*time.Second, cfg.RateLimit.General.BlockDuration.D())
	assert.Equal(t, 4, cfg.Conversation.MaxTurns)
	assert.Equal(t, 30*time.Minute, cfg.Conversation.TTL.D())
	assert.Equal(t, FlexibleStringSlice{"https://a.example", "42"}, cfg.Gateway.AllowedOrigins)
	// untouched sections keep defaults
	assert.Equal(t, 30, cfg.RateLimit.User.Points)
}

func TestLoadRejectsBadFile(t *testing.T) {
	_, err := Load(writeConfig(t, `{ rate_limit: `))
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{ rate_limit: { general: { points: 5 } } }`)
	t.Setenv("TALKGATE_RATE_LIMIT_POINTS", "7")
	t.Setenv("TALKGATE_CONVERSATION_TTL", "120")
	t.Setenv("TALKGATE_OPENAI_API_KEY", "sk-test")
	t.Setenv("TALKGATE_RATE_LIMIT_BYPASS_TOKEN", "bypass")
	t.Setenv("TALKGATE_TRUST_PROXY", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.RateLimit.General.Points)
	assert.Equal(t, 2*time.Minute, cfg.Conversation.TTL.D())
	assert.Equal(t, "sk-test", cfg.Provider.APIKey)
	assert.Equal(t, "bypass", cfg.RateLimit.BypassToken)
	assert.True(t, cfg.Gateway.TrustProxy)
}

func TestEnvOverrideParseError(t *testing.T) {
	t.Setenv("TALKGATE_PORT", "eighty")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TALKGATE_PORT")
}

func TestSecretsNeverReadFromFile(t *testing.T) {
	path := writeConfig(t, `{ admin: { username: "ops", PasswordHash: "x" }, provider: { APIKey: "leak" } }`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ops", cfg.Admin.Username)
	assert.Empty(t, cfg.Admin.PasswordHash)
	assert.Empty(t, cfg.Provider.APIKey)
}

// --- validate ---

func TestValidateContract(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"odd turns", func(c *Config) { c.Conversation.MaxTurns = 5 }, "max_turns"},
		{"zero ttl", func(c *Config) { c.Conversation.TTL = 0 }, "conversation.ttl"},
		{"negative points", func(c *Config) { c.RateLimit.User.Points = -1 }, "rate_limit.user.points"},
		{"negative block", func(c *Config) { c.RateLimit.General.BlockDuration = Duration(-time.Second) }, "block_duration"},
		{"auth bypass in production", func(c *Config) {
			c.Env = "production"
			c.Provider.APIKey = "k"
			c.Admin.DisableAuth = true
		}, "disable_auth"},
		{"production without key", func(c *Config) { c.Env = "production" }, "OPENAI_API_KEY"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }, "POSTGRES_DSN"},
		{"coarse sweep", func(c *Config) { c.Stores.SweepInterval = Duration(time.Hour) }, "too coarse"},
		{"bad env", func(c *Config) { c.Env = "staging" }, "env must be"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateDerivesSweepInterval(t *testing.T) {
	cfg := Default()
	cfg.RateLimit.User.Duration = Duration(20 * time.Second)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2*time.Second, cfg.Stores.SweepInterval.D())

	cfg = Default()
	cfg.RateLimit.General.Duration = Duration(200 * time.Millisecond)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100*time.Millisecond, cfg.Stores.SweepInterval.D(), "floor")
}

func TestAuthBypassAllowedInDevelopment(t *testing.T) {
	cfg := Default()
	cfg.Admin.DisableAuth = true
	assert.NoError(t, cfg.Validate())
}

// --- masking ---

func TestMaskedCopy(t *testing.T) {
	cfg := Default()
	cfg.Provider.APIKey = "sk-live"
	cfg.RateLimit.BypassToken = "tok"
	cfg.Database.PostgresDSN = ""

	cp := cfg.MaskedCopy()
	assert.Equal(t, "***", cp.Provider.APIKey)
	assert.Equal(t, "***", cp.RateLimit.BypassToken)
	assert.Empty(t, cp.Database.PostgresDSN)
	assert.Equal(t, "sk-live", cfg.Provider.APIKey, "original untouched")

	view := cfg.MaskedView()
	secrets := view["secrets"].(map[string]string)
	assert.Equal(t, "***", secrets["openai_api_key"])
	assert.Equal(t, "", secrets["postgres_dsn"])
}

func TestHashIgnoresSecrets(t *testing.T) {
	a := Default()
	b := Default()
	b.Provider.APIKey = "changed"
	assert.Equal(t, a.Hash(), b.Hash())
	b.Conversation.MaxTurns = 10
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestParseDuration(t *testing.T) {
	for in, want := range map[string]time.Duration{
		"90":   90 * time.Second,
		"90s":  90 * time.Second,
		"1h":   time.Hour,
		" 5m ": 5 * time.Minute,
	} {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDuration("soon")
	assert.True(t, err != nil && strings.Contains(err.Error(), "soon"))
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	assert.Equal(t, home+"/x", ExpandHome("~/x"))
	assert.Equal(t, "/abs", ExpandHome("/abs"))
}
