// Package config handles configuration loading for coven-dm.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_DM_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/dm.yaml
//  3. ~/.config/coven/dm.yaml
//
// COVEN_DM_DB_PATH, when set, replaces database.path.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${COVEN_DM_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax and must be positive:
//
//	server:
//	  request_timeout: "30s"
//	auth:
//	  token_ttl: "720h"
//	messaging:
//	  idempotency_ttl: "10m"
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  request_timeout: "30s"
//
// Database:
//
//	database:
//	  path: "/var/lib/coven/dm.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${COVEN_DM_JWT_SECRET}"  # at least 32 bytes
//	  token_ttl: "720h"
//
// Messaging:
//
//	messaging:
//	  page_size: 20               # conversations and messages per page
//	  idempotency_ttl: "10m"      # how long an Idempotency-Key is remembered
//	  idempotency_max_keys: 10000
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "coven-dm"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Metrics:
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Usage
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    return fmt.Errorf("loading config: %w", err)
//	}
package config
