package core

import (
	"fmt"

	"evald/config"
	"evald/internal/capability"
	"evald/internal/eval"
	"evald/internal/history"
	"evald/internal/metrics"
	"evald/internal/oneshot"
	"evald/internal/protocol"
	"evald/internal/retry"
	"evald/internal/session"
	"evald/internal/transport"
	"evald/tunnel"
	"evald/util"
)

// Build constructs the Mode the configuration asks for.  cfg must have
// been resolved and validated.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	if cfg.Listen {
		return buildServe(cfg, logger)
	}
	return buildConnect(cfg, logger)
}

// ── mode builders ────────────────────────────────────────────────────

func buildServe(cfg *config.Config, logger *util.Logger) (Mode, error) {
	m := metrics.New()
	opts := session.Options{
		Evaluator:    &eval.JS{MaxCallStackSize: cfg.MaxCallDepth},
		Logger:       logger,
		Metrics:      m,
		InputTimeout: cfg.InputTimeout,
		ExecTimeout:  cfg.ExecTimeout,
		MaxOutput:    cfg.MaxOutputBytes,
	}

	var store *history.Store
	if cfg.HistoryDB != "" {
		s, err := history.Open(cfg.HistoryDB)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		store = s
		opts.History = s
		logger.Verbose("recording history in %s", cfg.HistoryDB)
	}

	runner, err := oneshot.New(cfg.OneShotCommand, cfg.OneShotTimeout)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}
	runner.Metrics = m
	runner.Logger = logger.WithPrefix("oneshot")

	return &ServeMode{
		Address:     util.FormatAddr(cfg.BindAddress, cfg.LocalPort),
		Path:        cfg.Path,
		Capability:  &capability.Interactive{Options: opts},
		OneShot:     runner,
		History:     store,
		Metrics:     m,
		Logger:      logger,
		ReadLimit:   cfg.MaxMessageBytes,
		GracePeriod: config.DefaultGracePeriod,
	}, nil
}

func buildConnect(cfg *config.Config, logger *util.Logger) (Mode, error) {
	console := &capability.Console{Logger: logger}
	if !cfg.Interactive() {
		req, err := buildRequest(cfg)
		if err != nil {
			return nil, err
		}
		console.Requests = []*protocol.Request{req}
	}

	return &ConnectMode{
		Dialer:     buildDialer(cfg, logger),
		Capability: console,
		URL:        util.WebSocketURL(cfg.Host, cfg.Port, cfg.Path),
		Timeout:    cfg.Timeout,
		Policy:     retry.DialPolicy(cfg.Retries),
		Logger:     logger,
	}, nil
}

// ── shared helpers ───────────────────────────────────────────────────

func buildRequest(cfg *config.Config) (*protocol.Request, error) {
	code, err := cfg.Source()
	if err != nil {
		return nil, err
	}
	tests, err := cfg.Tests()
	if err != nil {
		return nil, err
	}
	return &protocol.Request{Action: cfg.Action, Code: code, Tests: tests}, nil
}

// buildDialer creates the right transport.Dialer for the given config.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if cfg.TunnelEnabled {
		return transport.NewSSHDialer(&tunnel.SSHConfig{
			User:          cfg.TunnelUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   cfg.Timeout,
			KeepAlive:     cfg.KeepAlive,
		}, logger)
	}
	return &transport.TCPDialer{Timeout: cfg.Timeout}
}
