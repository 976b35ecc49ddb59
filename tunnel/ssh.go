package tunnel

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	apperrors "evald/internal/errors"
	"evald/util"
)

// SSHConfig describes the bastion and how to authenticate to it.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration
	// KeepAlive sends keepalive@openssh.com at this interval and marks
	// the tunnel dead when one fails.  0 disables it.
	KeepAlive time.Duration

	// ReadSecret reads a password or passphrase.  nil reads from the
	// controlling terminal without echo.
	ReadSecret func(prompt string) ([]byte, error)
}

func (c *SSHConfig) addr() string { return util.FormatAddr(c.Host, c.Port) }

// SSHTunnel is a [Tunnel] over one ssh.Client.
type SSHTunnel struct {
	config *SSHConfig
	logger *util.Logger

	mu     sync.RWMutex
	client *ssh.Client
	alive  bool
	closed bool
	stop   chan struct{}
}

// NewSSHTunnel returns an unconnected tunnel.  Port defaults to 22 and
// ConnTimeout to 30s.
func NewSSHTunnel(cfg *SSHConfig, logger *util.Logger) *SSHTunnel {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &SSHTunnel{config: cfg, logger: logger.WithPrefix("ssh=" + cfg.Host)}
}

// Connect dials the bastion and authenticates.
func (t *SSHTunnel) Connect(ctx context.Context) error {
	cfg := t.config
	auth, err := BuildAuthMethods(cfg)
	if err != nil {
		return apperrors.WrapSSH("auth", cfg.Host, cfg.Port, err)
	}
	hostKeys, err := hostKeyCallback(cfg)
	if err != nil {
		return apperrors.WrapSSH("hostkey", cfg.Host, cfg.Port, err)
	}

	addr := cfg.addr()
	t.logger.Debug("dialing %s as %s", addr, cfg.User)

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnTimeout)
	defer cancel()
	var d net.Dialer
	raw, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return apperrors.Wrap("dial", addr, err)
	}

	// The handshake has no context; bound it with a deadline instead.
	raw.SetDeadline(time.Now().Add(cfg.ConnTimeout))
	conn, chans, reqs, err := ssh.NewClientConn(raw, addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         cfg.ConnTimeout,
	})
	if err != nil {
		raw.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			err = fmt.Errorf("%w: %v", apperrors.ErrAuthFailed, err)
		}
		return apperrors.WrapSSH("handshake", cfg.Host, cfg.Port, err)
	}
	raw.SetDeadline(time.Time{})

	client := ssh.NewClient(conn, chans, reqs)
	stop := make(chan struct{})

	t.mu.Lock()
	t.client, t.alive, t.closed, t.stop = client, true, false, stop
	t.mu.Unlock()

	go t.watch(client)
	if cfg.KeepAlive > 0 {
		go t.keepAlive(client, stop)
	}
	t.logger.Verbose("connected to %s", addr)
	return nil
}

// Dial opens address from the bastion's side.
func (t *SSHTunnel) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	t.mu.RLock()
	client, alive, closed := t.client, t.alive, t.closed
	t.mu.RUnlock()
	if closed {
		return nil, apperrors.ErrTunnelClosed
	}
	if !alive || client == nil {
		return nil, apperrors.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.logger.Debug("forwarding %s %s", network, address)
	conn, err := client.Dial(network, address)
	if err != nil {
		return nil, apperrors.WrapSSH("forward", t.config.Host, t.config.Port, fmt.Errorf("%s: %w", address, err))
	}
	return conn, nil
}

// Close disconnects.  Closing twice is harmless.
func (t *SSHTunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alive, t.closed = false, true
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

// Alive reports whether the connection to the bastion is up.
func (t *SSHTunnel) Alive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alive
}

func (t *SSHTunnel) markDead(client *ssh.Client) {
	t.mu.Lock()
	if t.client == client {
		t.alive = false
	}
	t.mu.Unlock()
}

// watch flips Alive when the server side goes away.
func (t *SSHTunnel) watch(client *ssh.Client) {
	err := client.Wait()
	t.markDead(client)
	if err != nil {
		t.logger.Debug("connection ended: %v", err)
	}
}

func (t *SSHTunnel) keepAlive(client *ssh.Client, stop <-chan struct{}) {
	tick := time.NewTicker(t.config.KeepAlive)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				t.logger.Warn("keepalive failed: %v", err)
				t.markDead(client)
				client.Close()
				return
			}
		}
	}
}
