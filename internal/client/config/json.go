package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/carekeeper/internal/flagx"
	"github.com/dmitrijs2005/carekeeper/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "3s" or as integer nanoseconds. After parsing, values
// are copied into the runtime Config (which uses time.Duration).
type JsonConfig struct {
	ServerEndpointAddr  string         `json:"server_endpoint_addr"`
	DatabasePath        string         `json:"database_path"`
	LogFile             string         `json:"log_file"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	SyncInterval        timex.Duration `json:"sync_interval"`
	MaxAttempts         int            `json:"max_attempts"`
	BackoffBase         timex.Duration `json:"backoff_base"`
	BackoffCap          timex.Duration `json:"backoff_cap"`
	BatchLimit          int            `json:"batch_limit"`
}

// parseJson overlays Config with values loaded from a JSON file.
//
// The file path comes from the -c or -config flag via
// flagx.JsonConfigFlags(); when neither is given no JSON is loaded.
// Only fields present in the file override earlier values. Read or
// unmarshal errors panic, since a config file that exists but cannot be
// used is a deployment mistake.
func parseJson(cfg *Config) {
	path := flagx.JsonConfigFlags()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerEndpointAddr != "" {
		cfg.ServerEndpointAddr = jc.ServerEndpointAddr
	}
	if jc.DatabasePath != "" {
		cfg.DatabasePath = jc.DatabasePath
	}
	if jc.LogFile != "" {
		cfg.LogFile = jc.LogFile
	}
	if jc.OnlineCheckInterval.Duration > 0 {
		cfg.OnlineCheckInterval = jc.OnlineCheckInterval.Duration
	}
	if jc.SyncInterval.Duration > 0 {
		cfg.SyncInterval = jc.SyncInterval.Duration
	}
	if jc.MaxAttempts > 0 {
		cfg.MaxAttempts = jc.MaxAttempts
	}
	if jc.BackoffBase.Duration > 0 {
		cfg.BackoffBase = jc.BackoffBase.Duration
	}
	if jc.BackoffCap.Duration > 0 {
		cfg.BackoffCap = jc.BackoffCap.Duration
	}
	if jc.BatchLimit > 0 {
		cfg.BatchLimit = jc.BatchLimit
	}
}
