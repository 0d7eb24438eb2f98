package config

import "time"

// Config holds runtime settings for the CareKeeper CLI.
//
// Units: intervals and backoff values are time.Duration; on the command
// line they are given in seconds.
type Config struct {
	ServerEndpointAddr  string
	DatabasePath        string
	LogFile             string
	OnlineCheckInterval time.Duration
	SyncInterval        time.Duration
	MaxAttempts         int
	BackoffBase         time.Duration
	BackoffCap          time.Duration
	BatchLimit          int
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "http://127.0.0.1:8080"
	c.DatabasePath = "carekeeper.db"
	c.LogFile = ""
	c.OnlineCheckInterval = 3 * time.Second
	c.SyncInterval = 30 * time.Second
	c.MaxAttempts = 5
	c.BackoffBase = 500 * time.Millisecond
	c.BackoffCap = 30 * time.Second
	c.BatchLimit = 50
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
