// Package config defines the runtime configuration for evald, both the
// server (-l) and the client that drives it.
package config

import (
	"os"
	"strings"
	"time"

	apperrors "evald/internal/errors"
	"evald/tunnel"
)

// Client actions a Config can ask for.
const (
	ActionRun     = "run"
	ActionCompile = "compile"
	ActionTest    = "test"
)

// Config holds every tuneable for one evald process.
type Config struct {
	// ── Server ───────────────────────────────────────────────────────
	Listen          bool
	LocalPort       int // -p: listen port
	BindAddress     string
	InputTimeout    time.Duration // 0 = wait forever
	ExecTimeout     time.Duration // 0 = unbounded
	MaxOutputBytes  int
	MaxMessageBytes int64
	MaxCallDepth    int // script call depth before a RangeError
	OneShotTimeout  time.Duration
	OneShotCommand  []string // empty = this binary with --eval-stdin
	HistoryDB       string   // empty = no history

	// ── Client ───────────────────────────────────────────────────────
	Host       string
	Port       int
	Path       string
	Timeout    time.Duration
	Retries    int // dial attempts; -1 = forever
	Action     string
	ScriptFile string // -f
	TestsFile  string
	Code       string // -c

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string // raw user@host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string
	KeepAlive      time.Duration

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
	DryRun  bool
}

// Resolve fills the fields derived from others: the tunnel parts from
// TunnelSpec and a default run action when code was supplied.
func (c *Config) Resolve() error {
	if c.TunnelSpec != "" {
		user, host, port, err := tunnel.ParseTarget(c.TunnelSpec)
		if err != nil {
			return &apperrors.ConfigError{
				Field:   "tunnel",
				Value:   c.TunnelSpec,
				Message: err.Error(),
				Hint:    "e.g. -T deploy@bastion.example.com:2222",
			}
		}
		c.TunnelEnabled = true
		c.TunnelUser, c.TunnelHost, c.TunnelPort = user, host, port
	}
	if c.Action == "" && (c.Code != "" || c.ScriptFile != "") {
		c.Action = ActionRun
	}
	return nil
}

// Interactive reports whether the client reads one run per stdin line
// rather than sending a single request.
func (c *Config) Interactive() bool { return !c.Listen && c.Action == "" }

// Source returns the code to send: -c wins, then the -f file.
func (c *Config) Source() (string, error) {
	if c.Code != "" || c.ScriptFile == "" {
		return c.Code, nil
	}
	data, err := os.ReadFile(c.ScriptFile)
	if err != nil {
		return "", &apperrors.ConfigError{Field: "file", Value: c.ScriptFile, Message: err.Error()}
	}
	return string(data), nil
}

// Tests returns the contents of --tests, or "" when unset.
func (c *Config) Tests() (string, error) {
	if c.TestsFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.TestsFile)
	if err != nil {
		return "", &apperrors.ConfigError{Field: "tests", Value: c.TestsFile, Message: err.Error()}
	}
	return string(data), nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	for _, d := range []struct {
		field string
		value time.Duration
	}{
		{"input-timeout", c.InputTimeout},
		{"exec-timeout", c.ExecTimeout},
		{"oneshot-timeout", c.OneShotTimeout},
		{"timeout", c.Timeout},
	} {
		if d.value < 0 {
			return &apperrors.ConfigError{
				Field: d.field, Value: d.value,
				Message: "must not be negative",
				Hint:    "use 0 to disable the limit",
			}
		}
	}
	if c.MaxOutputBytes < 0 {
		return &apperrors.ConfigError{Field: "max-output", Value: c.MaxOutputBytes, Message: "must not be negative"}
	}
	if c.MaxCallDepth < 1 {
		return &apperrors.ConfigError{Field: "max-call-depth", Value: c.MaxCallDepth, Message: "must be at least 1"}
	}

	if c.Listen {
		return c.validateServer()
	}
	return c.validateClient()
}

func (c *Config) validateServer() error {
	if c.LocalPort < 1 || c.LocalPort > 65535 {
		return &apperrors.ConfigError{
			Field: "port", Value: c.LocalPort,
			Message: "listen mode needs a port in 1-65535",
			Hint:    "evald -l -p 8000",
		}
	}
	if c.TunnelEnabled {
		return &apperrors.ConfigError{
			Field:   "tunnel",
			Message: "serving through an SSH tunnel is not supported",
			Hint:    "run the server on the bastion's side and connect with -T",
		}
	}
	if c.Action != "" {
		return &apperrors.ConfigError{
			Field: "action", Value: c.Action,
			Message: "client actions cannot be combined with -l",
		}
	}
	return nil
}

func (c *Config) validateClient() error {
	if c.Host == "" {
		return &apperrors.ConfigError{Field: "host", Message: "required", Hint: "evald [flags] host [port]"}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &apperrors.ConfigError{Field: "port", Value: c.Port, Message: "must be in 1-65535"}
	}
	if c.Retries < -1 {
		return &apperrors.ConfigError{Field: "retries", Value: c.Retries, Message: "must be -1 (forever) or more"}
	}
	if c.Code != "" && c.ScriptFile != "" {
		return &apperrors.ConfigError{Field: "code", Message: "-c and -f are mutually exclusive"}
	}
	if c.TunnelEnabled && c.TunnelHost == "" {
		return &apperrors.ConfigError{Field: "tunnel", Message: "tunnel host is required"}
	}

	switch c.Action {
	case "":
		if c.TestsFile != "" {
			return &apperrors.ConfigError{Field: "tests", Message: "needs --action test"}
		}
	case ActionRun, ActionCompile, ActionTest:
		if c.Code == "" && c.ScriptFile == "" {
			return &apperrors.ConfigError{
				Field: "action", Value: c.Action,
				Message: "needs code",
				Hint:    "pass -c '<code>' or -f script.js",
			}
		}
		if c.Action == ActionTest && c.TestsFile == "" {
			return &apperrors.ConfigError{
				Field: "tests", Message: "required with --action test",
				Hint: "--tests tests.js",
			}
		}
	default:
		return &apperrors.ConfigError{
			Field: "action", Value: c.Action,
			Message: "unknown action",
			Hint:    "one of " + strings.Join([]string{ActionRun, ActionCompile, ActionTest}, ", "),
		}
	}
	return nil
}
