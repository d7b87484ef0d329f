package main

import (
	"os"
	"strconv"

	"github.com/rvald/twinctl/internal/config"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

// loadConfig reads --config when given, then lets explicitly set flags and
// TWINCTL_* variables override the file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		var err error
		if cfg, err = config.Load(cfgFile); err != nil {
			return nil, err
		}
	}

	set := func(flag, env string) bool {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			return true
		}
		return env != "" && os.Getenv(env) != ""
	}
	if set("port", "TWINCTL_PORT") {
		cfg.Server.Port = cfgPort
	}
	if set("bind", "TWINCTL_BIND") {
		cfg.Server.Bind = cfgBind
	}
	if set("rate-limit", "TWINCTL_RATE_LIMIT") {
		cfg.Server.RateLimit = cfgRateLimit
	}
	if set("tick", "") {
		cfg.Server.TickInterval = cfgTick
	}
	if set("page-url", "TWINCTL_PAGE_URL") {
		cfg.Puppet.Enabled = true
		cfg.Puppet.URL = cfgPageURL
	}
	if set("browser-url", "TWINCTL_BROWSER_URL") {
		cfg.Puppet.Enabled = true
		cfg.Puppet.ControlURL = cfgBrowserURL
	}
	if set("nats-url", "TWINCTL_NATS_URL") {
		cfg.Relay.NATSURL = cfgNATSURL
	}
	if set("discord-token", "DISCORD_BOT_TOKEN") {
		cfg.Discord.Token = cfgDiscordToken
	}
	if set("guild-id", "DISCORD_GUILD_ID") {
		cfg.Discord.GuildID = cfgGuildID
	}
	if set("mdns", "TWINCTL_MDNS") {
		cfg.Discovery.Enabled = cfgMDNS
	}
	if set("log-level", "TWINCTL_LOG_LEVEL") {
		cfg.Logging.Level = cfgLogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Env helpers
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
