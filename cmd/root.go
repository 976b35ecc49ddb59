// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"

	"evald/config"
	"evald/internal/capability"
	"evald/internal/core"
	"evald/internal/eval"
	"evald/internal/oneshot"
	"evald/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X evald/cmd.version=2.0.0"
var version = "0.1.0" //nolint:gochecknoglobals

// ExitError asks main to exit with Code without printing anything;
// whatever explains the failure has already been written.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return "exit status " + strconv.Itoa(e.Code) }

// Streams are the process's standard files, replaceable in tests.
type Streams struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Execute parses args and runs the selected evald mode on the real
// standard streams.
func Execute(ctx context.Context, args []string) error {
	return Run(ctx, args, Streams{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr})
}

// Run is Execute with explicit streams.
func Run(ctx context.Context, args []string, std Streams) error {
	// Defaults < environment < flags.
	cfg := config.New()
	config.LoadFromEnv(cfg)

	fs := flag.NewFlagSet("evald", flag.ContinueOnError)
	fs.SetOutput(std.Stderr)

	// ── server ───────────────────────────────────────────────────
	fs.BoolVarP(&cfg.Listen, "listen", "l", cfg.Listen, "Serve sessions")
	fs.IntVarP(&cfg.LocalPort, "port", "p", cfg.LocalPort, "Listen port (with -l) or server port")
	fs.StringVar(&cfg.BindAddress, "bind", cfg.BindAddress, "Listen address")
	fs.DurationVar(&cfg.InputTimeout, "input-timeout", cfg.InputTimeout, "Longest wait for one input() answer (0 = forever)")
	fs.DurationVar(&cfg.ExecTimeout, "exec-timeout", cfg.ExecTimeout, "Longest run of one action (0 = unbounded)")
	fs.IntVar(&cfg.MaxOutputBytes, "max-output", cfg.MaxOutputBytes, "Captured output cap per action in bytes (0 = no cap)")
	fs.Int64Var(&cfg.MaxMessageBytes, "max-message", cfg.MaxMessageBytes, "Largest inbound message in bytes")
	fs.IntVar(&cfg.MaxCallDepth, "max-call-depth", cfg.MaxCallDepth, "Script call depth before a RangeError")
	fs.DurationVar(&cfg.OneShotTimeout, "oneshot-timeout", cfg.OneShotTimeout, "Time limit for POST /run")
	oneShotCmd := fs.String("oneshot-command", strings.Join(cfg.OneShotCommand, " "), "Command for POST /run (default: this binary)")
	fs.StringVar(&cfg.HistoryDB, "history", cfg.HistoryDB, "SQLite file recording every action")

	// ── client ───────────────────────────────────────────────────
	fs.StringVar(&cfg.Path, "path", cfg.Path, "WebSocket path")
	fs.DurationVarP(&cfg.Timeout, "timeout", "w", cfg.Timeout, "Connect and handshake timeout")
	fs.IntVarP(&cfg.Retries, "retries", "r", cfg.Retries, "Dial attempts (-1 = forever)")
	fs.StringVarP(&cfg.Action, "action", "a", cfg.Action, "Send one request: run, compile or test")
	fs.StringVarP(&cfg.ScriptFile, "file", "f", cfg.ScriptFile, "Script to send")
	fs.StringVar(&cfg.TestsFile, "tests", cfg.TestsFile, "Test file for --action test")
	fs.StringVarP(&cfg.Code, "code", "c", cfg.Code, "Inline code to send")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "Reach the server through user@bastion[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")
	fs.DurationVar(&cfg.KeepAlive, "keep-alive", cfg.KeepAlive, "SSH keepalive interval (0 = off)")

	// ── output ───────────────────────────────────────────────────
	var verbose int
	var quiet bool
	fs.CountVarP(&verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&quiet, "quiet", "q", false, "Only print errors")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Validate the configuration and exit")

	var showVersion, showHelp, evalStdin bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")
	fs.BoolVar(&evalStdin, strings.TrimPrefix(oneshot.EvalStdinFlag, "--"), false, "Evaluate a script from stdin and exit")
	fs.MarkHidden(strings.TrimPrefix(oneshot.EvalStdinFlag, "--")) //nolint:errcheck

	fs.Usage = func() { printUsage(std.Stderr, fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if evalStdin {
		if err := oneshot.EvalStdin(ctx, eval.NewJS(), std.Stdin, std.Stdout, std.Stderr); err != nil {
			return &ExitError{Code: 1}
		}
		return nil
	}
	if showHelp || len(args) == 0 {
		printUsage(std.Stderr, fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(std.Stdout, "evald %s\n", version)
		return nil
	}

	switch {
	case quiet:
		cfg.Verbose = 0
	case verbose > 0:
		cfg.Verbose = 1 + verbose
	}
	if fs.Changed("oneshot-command") {
		cfg.OneShotCommand = strings.Fields(*oneShotCmd)
	}

	// ── positional arguments ─────────────────────────────────────
	if err := parsePositional(cfg, fs); err != nil {
		return err
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Resolve(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := util.NewLogger(cfg.Verbose)
	logger.SetOutput(std.Stderr)

	if cfg.DryRun {
		logger.Info("configuration OK (%s)", describe(cfg))
		return nil
	}

	// ── build & run ──────────────────────────────────────────────
	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	if cm, ok := mode.(*core.ConnectMode); ok {
		if console, ok := cm.Capability.(*capability.Console); ok {
			console.Stdin, console.Stdout = std.Stdin, std.Stdout
		}
	}

	err = mode.Run(ctx)
	if errors.Is(err, capability.ErrRemoteFailure) {
		return &ExitError{Code: 1}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ── helpers ──────────────────────────────────────────────────────────

// parsePositional reads "host [port]" for the client.  The server takes
// no positional arguments.
func parsePositional(cfg *config.Config, fs *flag.FlagSet) error {
	rest := fs.Args()
	if cfg.Listen {
		if len(rest) > 0 {
			return fmt.Errorf("unexpected arguments with -l: %s", strings.Join(rest, " "))
		}
		return nil
	}

	if fs.Changed("port") {
		cfg.Port = cfg.LocalPort
	}
	switch len(rest) {
	case 0:
	case 2:
		port, err := strconv.Atoi(rest[1])
		if err != nil {
			return fmt.Errorf("port %q: not a number", rest[1])
		}
		cfg.Port = port
		fallthrough
	case 1:
		cfg.Host = rest[0]
	default:
		return fmt.Errorf("too many arguments: want host [port]")
	}
	return nil
}

func describe(cfg *config.Config) string {
	if cfg.Listen {
		return "serve on " + util.FormatAddr(cfg.BindAddress, cfg.LocalPort)
	}
	target := util.WebSocketURL(cfg.Host, cfg.Port, cfg.Path)
	if cfg.TunnelEnabled {
		target += " via " + cfg.TunnelUser + "@" + util.FormatAddr(cfg.TunnelHost, cfg.TunnelPort)
	}
	if cfg.Interactive() {
		return "interactive console to " + target
	}
	return cfg.Action + " against " + target
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `evald – interactive JavaScript evaluation sessions v%s

Usage:
  evald -l [-p port] [options]                 Serve sessions on /ws
  evald [options] <host> [port]                Interactive console
  evald -a run|compile|test [options] <host>   Send one request

Options:
`, version)
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Examples:
  evald -l -p 8000 --history evald.db          Serve with a transcript
  evald localhost 8000                         One run per typed line
  evald -c 'print(6 * 7)' localhost            Run inline code
  evald -a test -f lib.js --tests t.js host    Run a test file
  evald -T deploy@bastion -f job.js internal   Through an SSH bastion
`)
}
