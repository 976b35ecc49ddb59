package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"evald/tunnel"
	"evald/util"
)

// SSHDialer forwards dials through a bastion.  The SSH session is
// opened on first use and reopened if it has died since.
type SSHDialer struct {
	config *tunnel.SSHConfig
	logger *util.Logger

	mu     sync.Mutex
	tunnel *tunnel.SSHTunnel
}

// NewSSHDialer returns a dialer for the bastion in cfg.  Nothing is
// dialed until [SSHDialer.Dial].
func NewSSHDialer(cfg *tunnel.SSHConfig, logger *util.Logger) *SSHDialer {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &SSHDialer{config: cfg, logger: logger}
}

func (d *SSHDialer) ready(ctx context.Context) (*tunnel.SSHTunnel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tunnel != nil && d.tunnel.Alive() {
		return d.tunnel, nil
	}
	if d.tunnel != nil {
		d.logger.Verbose("ssh session to %s lost, reconnecting", d.config.Host)
		d.tunnel.Close()
	}

	t := tunnel.NewSSHTunnel(d.config, d.logger)
	if err := t.Connect(ctx); err != nil {
		return nil, fmt.Errorf("tunnel: %w", err)
	}
	d.tunnel = t
	return t, nil
}

// Dial opens address from the bastion.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	t, err := d.ready(ctx)
	if err != nil {
		return nil, err
	}
	return t.Dial(ctx, network, address)
}

// Close tears the SSH session down.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tunnel == nil {
		return nil
	}
	err := d.tunnel.Close()
	d.tunnel = nil
	return err
}
