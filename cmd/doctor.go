package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/talkgate/internal/config"
	"github.com/nextlevelbuilder/talkgate/internal/store/pg"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("talkgate doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults + env)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Println("  Validation:")
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Printf("    - %s\n", line)
		}
	} else {
		fmt.Printf("  %-9s OK (env %s, hash %s)\n", "Validate:", cfg.Env, cfg.Hash())
	}

	fmt.Println()
	fmt.Println("  Model:")
	fmt.Printf("    %-14s %s\n", "API base:", cfg.Provider.APIBase)
	fmt.Printf("    %-14s %s\n", "Model:", cfg.Provider.Model)
	checkSecret("API key:", cfg.Provider.APIKey)

	fmt.Println()
	fmt.Println("  Rate limits:")
	checkTier("General:", cfg.RateLimit.General)
	checkTier("User:", cfg.RateLimit.User)
	if cfg.RateLimit.BypassToken != "" {
		fmt.Printf("    %-14s ENABLED (X-Bypass-Rate-Limit)\n", "Bypass:")
	}

	fmt.Println()
	fmt.Println("  Admin:")
	fmt.Printf("    %-14s %s\n", "Username:", cfg.Admin.Username)
	checkSecret("Password hash:", cfg.Admin.PasswordHash)
	if cfg.Admin.DisableAuth {
		fmt.Printf("    %-14s DISABLED\n", "Auth:")
	}

	fmt.Println()
	fmt.Println("  Channels:")
	fmt.Printf("    %-14s enabled (max %d chars, spam filter %v)\n", "KakaoTalk:",
		cfg.Channels.Kakao.MaxMessageLength, cfg.Channels.Kakao.SpamFilterEnabled())
	status := "disabled"
	if cfg.Channels.MessengerBot.Enabled {
		status = "enabled"
	}
	fmt.Printf("    %-14s %s\n", "MessengerBot:", status)

	fmt.Println()
	fmt.Println("  Exchange log:")
	switch cfg.Database.Driver {
	case "sqlite":
		fmt.Printf("    %-14s sqlite (%s)\n", "Driver:", config.ExpandHome(cfg.Database.SQLitePath))
	case "postgres":
		fmt.Printf("    %-14s postgres\n", "Driver:")
		checkPostgres(cfg.Database.PostgresDSN)
	default:
		fmt.Printf("    %-14s off\n", "Driver:")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkSecret(label, v string) {
	if v == "" {
		fmt.Printf("    %-14s (not configured)\n", label)
		return
	}
	fmt.Printf("    %-14s %s\n", label, maskSecret(v))
}

// maskSecret keeps the first and last four characters of long values.
func maskSecret(v string) string {
	if len(v) <= 8 {
		return strings.Repeat("*", len(v))
	}
	return v[:4] + strings.Repeat("*", len(v)-8) + v[len(v)-4:]
}

func checkTier(label string, t config.TierConfig) {
	block := t.BlockDuration.String()
	if t.BlockDuration == 0 {
		block = "until window end"
	}
	fmt.Printf("    %-14s %d per %s, block %s\n", label, t.Points, t.Duration, block)
}

func checkPostgres(dsn string) {
	if dsn == "" {
		fmt.Printf("    %-14s TALKGATE_POSTGRES_DSN not set\n", "Status:")
		return
	}
	db, err := pg.OpenDB(dsn)
	if err != nil {
		fmt.Printf("    %-14s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		fmt.Printf("    %-14s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-14s connected\n", "Status:")

	m, err := pg.NewMigrator(dsn)
	if err != nil {
		fmt.Printf("    %-14s CHECK FAILED (%s)\n", "Schema:", err)
		return
	}
	defer m.Close()
	v, dirty, err := m.Version()
	switch {
	case err != nil:
		fmt.Printf("    %-14s not migrated (run: talkgate migrate up)\n", "Schema:")
	case dirty:
		fmt.Printf("    %-14s v%d (DIRTY, run: talkgate migrate force %d)\n", "Schema:", v, v-1)
	default:
		fmt.Printf("    %-14s v%d\n", "Schema:", v)
	}
}
