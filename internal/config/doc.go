// Package config handles configuration loading for otto.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files (chosen by extension) with
// environment variable expansion, duration parsing and defaults. The CLI
// loads .env files before calling Load so they can feed the expansion.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from OTTO_CONFIG environment variable
//  2. ./otto.yaml or ./otto.toml (current directory)
//  3. $XDG_CONFIG_HOME/otto/config.yaml
//
// # Environment Variable Expansion
//
//	auth:
//	  token: "${OTTO_TOKEN}"
//
// # Configuration Sections
//
//	server:
//	  url: "https://erp.example.com"   # required
//	  stream_path: "/api/otto/stream"
//	  dial_timeout: "10s"              # connection setup only
//
//	auth:
//	  token: "${OTTO_TOKEN}"
//	  token_file: "~/.config/otto/token"
//
//	storage:
//	  path: "~/.local/share/otto/otto.db"  # empty: no persistence
//
//	page:
//	  key: "products"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	tailscale:
//	  enabled: false
//	  hostname: "otto-cli"
//	  auth_key: "${TS_AUTHKEY}"
//	  state_dir: ""
//	  ephemeral: true
//
//	fake_backend:
//	  addr: "127.0.0.1:8765"
//	  token: "dev-token"
//	  jwt_secret: "${OTTO_JWT_SECRET}"  # verify HS256 tokens instead
//	  step_delay: "30ms"
//	  replay_window: "1m"
//
// The same sections are written as TOML tables in .toml files.
package config
