package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	minSweepInterval = 100 * time.Millisecond
	sweepDivisor     = 10
)

// Validate enforces the startup contract and fills derived values.
// Contract violations are returned here and never surface at request time.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch c.Env {
	case "development", "production", "test":
	default:
		add("env must be development, production or test, got %q", c.Env)
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		add("gateway.port out of range: %d", c.Gateway.Port)
	}

	checkTier := func(name string, t TierConfig) {
		if t.Points < 0 {
			add("rate_limit.%s.points must be >= 0", name)
		}
		if t.Duration <= 0 {
			add("rate_limit.%s.duration must be > 0", name)
		}
		if t.BlockDuration < 0 {
			add("rate_limit.%s.block_duration must be >= 0", name)
		}
	}
	checkTier("general", c.RateLimit.General)
	checkTier("user", c.RateLimit.User)

	if c.Conversation.MaxTurns < 2 || c.Conversation.MaxTurns%2 != 0 {
		add("conversation.max_turns must be an even number >= 2, got %d", c.Conversation.MaxTurns)
	}
	if c.Conversation.TTL <= 0 {
		add("conversation.ttl must be > 0")
	}
	if c.Admin.SessionTTL <= 0 {
		add("admin.session_ttl must be > 0")
	}
	if c.Admin.FailedLoginDelay < 0 {
		add("admin.failed_login_delay must be >= 0")
	}
	if c.Admin.DisableAuth && c.IsProduction() {
		add("admin.disable_auth is not allowed in production")
	}

	if c.Stores.Shards < 0 {
		add("stores.shards must be >= 0")
	}
	if c.Stores.MaxEntries < 0 {
		add("stores.max_entries must be >= 0")
	}

	switch c.Database.Driver {
	case "", "sqlite":
	case "postgres":
		if c.Database.PostgresDSN == "" {
			add("database.driver postgres requires TALKGATE_POSTGRES_DSN")
		}
	default:
		add("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}

	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		add("telemetry.protocol must be grpc or http, got %q", c.Telemetry.Protocol)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		add("telemetry.endpoint is required when telemetry is enabled")
	}

	if c.IsProduction() && c.Provider.APIKey == "" {
		add("TALKGATE_OPENAI_API_KEY is required in production")
	}

	if len(errs) == 0 {
		if err := c.resolveSweepInterval(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MinTTL returns the shortest lifetime used by any store.
func (c *Config) MinTTL() time.Duration {
	ttls := []time.Duration{
		c.RateLimit.General.Duration.D(),
		c.RateLimit.User.Duration.D(),
		c.Conversation.TTL.D(),
		c.Admin.SessionTTL.D(),
	}
	shortest := ttls[0]
	for _, d := range ttls[1:] {
		if d > 0 && d < shortest {
			shortest = d
		}
	}
	return shortest
}

// resolveSweepInterval derives the sweep interval when unset and rejects
// one coarser than a tenth of the shortest TTL.
func (c *Config) resolveSweepInterval() error {
	limit := c.MinTTL() / sweepDivisor
	if limit < minSweepInterval {
		limit = minSweepInterval
	}
	if c.Stores.SweepInterval == 0 {
		c.Stores.SweepInterval = Duration(limit)
		return nil
	}
	if c.Stores.SweepInterval < 0 {
		return errors.New("stores.sweep_interval must be > 0")
	}
	if c.Stores.SweepInterval.D() > limit {
		return fmt.Errorf("stores.sweep_interval %s is too coarse: must be <= %s (shortest ttl / %d)",
			c.Stores.SweepInterval, limit, sweepDivisor)
	}
	return nil
}
