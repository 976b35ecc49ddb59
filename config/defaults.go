package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so CLI flags, environment loading and
// tests agree on them.

const (
	// DefaultPort is where evald serves and where the client dials.
	DefaultPort = 8000

	// DefaultBindAddress is the server's listen address.
	DefaultBindAddress = "0.0.0.0"

	// DefaultPath is the WebSocket route.
	DefaultPath = "/ws"

	// DefaultInputTimeout bounds one wait for input().
	DefaultInputTimeout = 5 * time.Minute

	// DefaultMaxOutputBytes caps the captured output of one action.
	DefaultMaxOutputBytes = 1 << 20

	// DefaultMaxMessageBytes caps one inbound WebSocket frame.
	DefaultMaxMessageBytes = 4 << 20

	// DefaultMaxCallDepth bounds script recursion.
	DefaultMaxCallDepth = 10000

	// DefaultOneShotTimeout bounds a POST /run child process.
	DefaultOneShotTimeout = 5 * time.Second

	// DefaultConnTimeout is the TCP/SSH/handshake timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultRetries is how many times the client dials before giving up.
	DefaultRetries = 3

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultGracePeriod is how long shutdown waits for open requests.
	DefaultGracePeriod = 5 * time.Second
)

// New returns a Config holding every default.
func New() *Config {
	return &Config{
		LocalPort:       DefaultPort,
		BindAddress:     DefaultBindAddress,
		InputTimeout:    DefaultInputTimeout,
		MaxOutputBytes:  DefaultMaxOutputBytes,
		MaxMessageBytes: DefaultMaxMessageBytes,
		MaxCallDepth:    DefaultMaxCallDepth,
		OneShotTimeout:  DefaultOneShotTimeout,
		Host:            "127.0.0.1",
		Port:            DefaultPort,
		Path:            DefaultPath,
		Timeout:         DefaultConnTimeout,
		Retries:         DefaultRetries,
		Verbose:         1,
	}
}
