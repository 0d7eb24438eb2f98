// Package config loads runtime configuration for the CareKeeper CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   base URL of the backend server
//	-d string   path to the local database file
//	-l string   log file path (empty logs to stderr)
//	-i int      online status check interval (seconds)
//	-s int      periodic sync interval (seconds)
//
// # JSON schema
//
// The JSON loader uses timex.Duration for intervals, so values can be either
// strings like "3s" or integer nanoseconds:
//
//	{
//	  "server_endpoint_addr": "https://api.example.org",
//	  "database_path": "carekeeper.db",
//	  "online_check_interval": "3s",
//	  "sync_interval": "30s",
//	  "max_attempts": 5,
//	  "backoff_base": "500ms",
//	  "backoff_cap": "30s"
//	}
//
// Note: This package does not read environment variables directly; use the
// JSON file or flags to configure values.
package config
