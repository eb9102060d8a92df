package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Env: "development",
		Gateway: GatewayConfig{
			Host:           "0.0.0.0",
			Port:           3000,
			AllowedOrigins: FlexibleStringSlice{"https://builder.kakao.com"},
			RequestTimeout: Duration(30 * time.Second),
			MaxBodyBytes:   10 << 20,
		},
		Provider: ProviderConfig{
			APIBase:           "https://api.openai.com/v1",
			Model:             "gpt-3.5-turbo",
			MaxTokens:         500,
			Temperature:       0.7,
			PresencePenalty:   0.1,
			FrequencyPenalty:  0.1,
			Timeout:           Duration(25 * time.Second),
			RequestsPerSecond: 10,
			Burst:             20,
			MaxRetries:        2,
		},
		RateLimit: RateLimitConfig{
			General: TierConfig{Points: 100, Duration: Duration(time.Minute), BlockDuration: Duration(time.Minute)},
			User:    TierConfig{Points: 30, Duration: Duration(time.Minute), BlockDuration: Duration(30 * time.Second)},
		},
		Conversation: ConversationConfig{
			MaxTurns:        20,
			TTL:             Duration(time.Hour),
			MaxQuickReplies: 3,
		},
		Admin: AdminConfig{
			Username:         "admin",
			SessionTTL:       Duration(24 * time.Hour),
			FailedLoginDelay: Duration(time.Second),
		},
		Channels: ChannelsConfig{
			Kakao: KakaoConfig{
				BotName:          "Business Support Agent",
				MaxMessageLength: 1000,
			},
			MessengerBot: MessengerBotConfig{
				Enabled:      true,
				SummaryLines: 3,
				MaxTokens:    200,
			},
		},
		Stores: StoresConfig{
			Shards: 32,
		},
		Database: DatabaseConfig{
			SQLitePath: "~/.talkgate/exchanges.db",
		},
		Telemetry: TelemetryConfig{
			Metrics:     true,
			Protocol:    "grpc",
			ServiceName: "talkgate",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; defaults plus env are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json5.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() error {
	var errs []string
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %q is not an integer", key, v))
				return
			}
			*dst = n
		}
	}
	envFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %q is not a number", key, v))
				return
			}
			*dst = f
		}
	}
	envDur := func(key string, dst *Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = Duration(d)
		}
	}

	envStr("TALKGATE_ENV", &c.Env)

	// Gateway
	envStr("TALKGATE_HOST", &c.Gateway.Host)
	envInt("TALKGATE_PORT", &c.Gateway.Port)
	envBool("TALKGATE_TRUST_PROXY", &c.Gateway.TrustProxy)
	if v := os.Getenv("TALKGATE_ALLOWED_ORIGINS"); v != "" {
		c.Gateway.AllowedOrigins = strings.Split(v, ",")
	}

	// Provider
	envStr("TALKGATE_OPENAI_API_KEY", &c.Provider.APIKey)
	envStr("TALKGATE_OPENAI_API_BASE", &c.Provider.APIBase)
	envStr("TALKGATE_MODEL", &c.Provider.Model)
	envInt("TALKGATE_MAX_TOKENS", &c.Provider.MaxTokens)
	envFloat("TALKGATE_TEMPERATURE", &c.Provider.Temperature)

	// Rate limiting
	envInt("TALKGATE_RATE_LIMIT_POINTS", &c.RateLimit.General.Points)
	envDur("TALKGATE_RATE_LIMIT_DURATION", &c.RateLimit.General.Duration)
	envDur("TALKGATE_RATE_LIMIT_BLOCK_DURATION", &c.RateLimit.General.BlockDuration)
	envInt("TALKGATE_USER_RATE_LIMIT_POINTS", &c.RateLimit.User.Points)
	envDur("TALKGATE_USER_RATE_LIMIT_DURATION", &c.RateLimit.User.Duration)
	envDur("TALKGATE_USER_RATE_LIMIT_BLOCK_DURATION", &c.RateLimit.User.BlockDuration)
	envStr("TALKGATE_RATE_LIMIT_BYPASS_TOKEN", &c.RateLimit.BypassToken)

	// Conversation
	envInt("TALKGATE_CONVERSATION_MAX_TURNS", &c.Conversation.MaxTurns)
	envDur("TALKGATE_CONVERSATION_TTL", &c.Conversation.TTL)

	// Admin
	envStr("TALKGATE_ADMIN_USERNAME", &c.Admin.Username)
	envStr("TALKGATE_ADMIN_PASSWORD_HASH", &c.Admin.PasswordHash)
	envDur("TALKGATE_ADMIN_SESSION_TTL", &c.Admin.SessionTTL)
	envBool("TALKGATE_DISABLE_ADMIN_AUTH", &c.Admin.DisableAuth)

	// Channels
	envStr("TALKGATE_KAKAO_BOT_ID", &c.Channels.Kakao.BotID)
	envStr("TALKGATE_KAKAO_BOT_NAME", &c.Channels.Kakao.BotName)
	envBool("TALKGATE_MESSENGER_BOT_ENABLED", &c.Channels.MessengerBot.Enabled)

	// Stores
	envDur("TALKGATE_SWEEP_INTERVAL", &c.Stores.SweepInterval)
	envInt("TALKGATE_STORE_MAX_ENTRIES", &c.Stores.MaxEntries)

	// Database
	envStr("TALKGATE_DATABASE_DRIVER", &c.Database.Driver)
	envStr("TALKGATE_SQLITE_PATH", &c.Database.SQLitePath)
	envStr("TALKGATE_POSTGRES_DSN", &c.Database.PostgresDSN)

	// Telemetry
	envBool("TALKGATE_METRICS_ENABLED", &c.Telemetry.Metrics)
	envBool("TALKGATE_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("TALKGATE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("TALKGATE_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("TALKGATE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("TALKGATE_TELEMETRY_INSECURE", &c.Telemetry.Insecure)

	if len(errs) > 0 {
		return fmt.Errorf("env overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Hash returns a short SHA-256 fingerprint of the (non-secret) config.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with all secret fields masked.
// Used by the admin config view.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Deep copy via JSON round-trip; secrets are json:"-" and copied by hand.
	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}
	cp.Provider.APIKey = c.Provider.APIKey
	cp.RateLimit.BypassToken = c.RateLimit.BypassToken
	cp.Admin.PasswordHash = c.Admin.PasswordHash
	cp.Database.PostgresDSN = c.Database.PostgresDSN

	maskNonEmpty(&cp.Provider.APIKey)
	maskNonEmpty(&cp.RateLimit.BypassToken)
	maskNonEmpty(&cp.Admin.PasswordHash)
	maskNonEmpty(&cp.Database.PostgresDSN)
	return cp
}

// MaskedView is the JSON shape of MaskedCopy with secrets visible as "***".
// Config itself never serializes secret fields.
func (c *Config) MaskedView() map[string]any {
	cp := c.MaskedCopy()
	var view map[string]any
	data, _ := json.Marshal(cp)
	_ = json.Unmarshal(data, &view)
	if view == nil {
		view = map[string]any{}
	}
	view["secrets"] = map[string]string{
		"openai_api_key":          cp.Provider.APIKey,
		"rate_limit_bypass_token": cp.RateLimit.BypassToken,
		"admin_password_hash":     cp.Admin.PasswordHash,
		"postgres_dsn":            cp.Database.PostgresDSN,
	}
	return view
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
