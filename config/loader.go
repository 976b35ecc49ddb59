package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the EVALD_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations accept Go
// syntax ("90s", "5m") or a bare number of seconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty,
// well-formed values override.  Call it BEFORE flag parsing so flags
// take precedence.
func LoadFromEnv(cfg *Config) {
	// Server
	if envBool("EVALD_LISTEN") {
		cfg.Listen = true
	}
	if v := envInt("EVALD_PORT"); v > 0 {
		cfg.LocalPort = v
		cfg.Port = v
	}
	if v := os.Getenv("EVALD_BIND"); v != "" {
		cfg.BindAddress = v
	}
	if v, ok := envDuration("EVALD_INPUT_TIMEOUT"); ok {
		cfg.InputTimeout = v
	}
	if v, ok := envDuration("EVALD_EXEC_TIMEOUT"); ok {
		cfg.ExecTimeout = v
	}
	if v := envInt("EVALD_MAX_OUTPUT"); v > 0 {
		cfg.MaxOutputBytes = v
	}
	if v := envInt("EVALD_MAX_CALL_DEPTH"); v > 0 {
		cfg.MaxCallDepth = v
	}
	if v, ok := envDuration("EVALD_ONESHOT_TIMEOUT"); ok {
		cfg.OneShotTimeout = v
	}
	if v := os.Getenv("EVALD_ONESHOT_COMMAND"); v != "" {
		cfg.OneShotCommand = strings.Fields(v)
	}
	if v := os.Getenv("EVALD_HISTORY_DB"); v != "" {
		cfg.HistoryDB = v
	}

	// Client
	if v := os.Getenv("EVALD_HOST"); v != "" {
		cfg.Host = v
	}
	if v, ok := envDuration("EVALD_TIMEOUT"); ok {
		cfg.Timeout = v
	}
	if v := os.Getenv("EVALD_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retries = n
		}
	}

	// SSH tunnel
	if v := os.Getenv("EVALD_TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := os.Getenv("EVALD_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("EVALD_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("EVALD_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("EVALD_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("EVALD_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}
	if v, ok := envDuration("EVALD_KEEP_ALIVE"); ok {
		cfg.KeepAlive = v
	}

	// Output
	if v := os.Getenv("EVALD_VERBOSE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Verbose = n
		}
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, true
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
