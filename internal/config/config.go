package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Duration accepts a Go duration string ("90s", "1h") or an integer number
// of seconds. It marshals back as a duration string.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "" {
		return nil
	}
	if s[0] == '"' || s[0] == '\'' {
		s = strings.Trim(s, `"'`)
	}
	v, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// ParseDuration parses "90s"-style strings, or bare integers as seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return v, nil
}

// Config is the root configuration for the talkgate server.
type Config struct {
	Env          string             `json:"env"` // "development" (default) or "production"
	Gateway      GatewayConfig      `json:"gateway"`
	Provider     ProviderConfig     `json:"provider"`
	RateLimit    RateLimitConfig    `json:"rate_limit"`
	Conversation ConversationConfig `json:"conversation"`
	Admin        AdminConfig        `json:"admin"`
	Channels     ChannelsConfig     `json:"channels"`
	Stores       StoresConfig       `json:"stores"`
	Database     DatabaseConfig     `json:"database,omitempty"`
	Telemetry    TelemetryConfig    `json:"telemetry,omitempty"`
	mu           sync.RWMutex
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// GatewayConfig controls the HTTP listener.
type GatewayConfig struct {
	Host           string              `json:"host"`
	Port           int                 `json:"port"`
	TrustProxy     bool                `json:"trust_proxy,omitempty"`     // take the client address from the right-most X-Forwarded-For entry
	AllowedOrigins FlexibleStringSlice `json:"allowed_origins,omitempty"` // CORS allow-list for the admin UI
	RequestTimeout Duration            `json:"request_timeout,omitempty"` // per-request deadline (default 30s)
	MaxBodyBytes   int64               `json:"max_body_bytes,omitempty"`  // default 10MB
}

// ProviderConfig configures the OpenAI-compatible chat API.
// APIKey is NEVER read from the config file, only from env TALKGATE_OPENAI_API_KEY.
type ProviderConfig struct {
	APIKey           string   `json:"-"`
	APIBase          string   `json:"api_base"`
	Model            string   `json:"model"`
	MaxTokens        int      `json:"max_tokens"`
	Temperature      float64  `json:"temperature"`
	PresencePenalty  float64  `json:"presence_penalty,omitempty"`
	FrequencyPenalty float64  `json:"frequency_penalty,omitempty"`
	Timeout          Duration `json:"timeout,omitempty"`
	// RequestsPerSecond paces outbound calls across all users (0 = unlimited).
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"`
	Burst             int     `json:"burst,omitempty"`
	MaxRetries        int     `json:"max_retries,omitempty"`
}

// TierConfig is one rate-limit tier.
type TierConfig struct {
	Points        int      `json:"points"`
	Duration      Duration `json:"duration"`
	BlockDuration Duration `json:"block_duration"`
}

// RateLimitConfig holds both tiers. BypassToken comes from env only.
type RateLimitConfig struct {
	General     TierConfig `json:"general"`
	User        TierConfig `json:"user"`
	BypassToken string     `json:"-"` // TALKGATE_RATE_LIMIT_BYPASS_TOKEN
}

// ConversationConfig bounds per-session history.
type ConversationConfig struct {
	MaxTurns        int      `json:"max_turns"` // even, >= 2
	TTL             Duration `json:"ttl"`       // inactivity lifetime from the last append
	MaxQuickReplies int      `json:"max_quick_replies,omitempty"`
}

// AdminConfig configures the admin surface.
// PasswordHash is a bcrypt hash and comes from env only.
type AdminConfig struct {
	Username              string   `json:"username"`
	PasswordHash          string   `json:"-"` // TALKGATE_ADMIN_PASSWORD_HASH
	SessionTTL            Duration `json:"session_ttl"`
	FailedLoginDelay      Duration `json:"failed_login_delay"`
	PurgeOnOriginMismatch bool     `json:"purge_on_origin_mismatch,omitempty"`
	// DisableAuth turns the admin gate off. Rejected in production.
	DisableAuth  bool `json:"disable_auth,omitempty"`
	SecureCookie bool `json:"secure_cookie,omitempty"`
}

// StoresConfig tunes the in-memory stores shared by all consumers.
type StoresConfig struct {
	Shards        int      `json:"shards,omitempty"`         // default 32
	MaxEntries    int      `json:"max_entries,omitempty"`    // per store, 0 = unbounded
	SweepInterval Duration `json:"sweep_interval,omitempty"` // default: shortest TTL / 10
}

// DatabaseConfig configures the optional exchange log.
// PostgresDSN is NEVER read from the config file, only from env TALKGATE_POSTGRES_DSN.
type DatabaseConfig struct {
	Driver      string `json:"driver,omitempty"`      // "", "sqlite" or "postgres"
	SQLitePath  string `json:"sqlite_path,omitempty"` // default ~/.talkgate/exchanges.db
	PostgresDSN string `json:"-"`
}

// ExchangeLogEnabled reports whether exchanges should be recorded.
func (c *Config) ExchangeLogEnabled() bool {
	switch c.Database.Driver {
	case "sqlite":
		return true
	case "postgres":
		return c.Database.PostgresDSN != ""
	}
	return false
}

// TelemetryConfig configures metrics and OpenTelemetry trace export.
type TelemetryConfig struct {
	Metrics     bool              `json:"metrics"`                // serve /metrics (default true)
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP trace export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext connection (local dev)
	ServiceName string            `json:"service_name,omitempty"` // default "talkgate"
	Headers     map[string]string `json:"headers,omitempty"`
}
