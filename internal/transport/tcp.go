package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	apperrors "evald/internal/errors"
)

// TCPDialer dials directly, optionally from a fixed source port.
type TCPDialer struct {
	Timeout   time.Duration
	LocalPort int // 0 = ephemeral
}

// Dial connects to address.  Failures come back as NetworkError so the
// retry policy can tell a refused port from a bad address.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	if d.LocalPort > 0 {
		local, err := net.ResolveTCPAddr(network, fmt.Sprintf(":%d", d.LocalPort))
		if err != nil {
			return nil, fmt.Errorf("local port %d: %w", d.LocalPort, err)
		}
		nd.LocalAddr = local
	}

	conn, err := nd.DialContext(ctx, network, address)
	if err != nil {
		return nil, apperrors.Wrap("dial", address, err)
	}
	return conn, nil
}

// Close is a no-op.
func (d *TCPDialer) Close() error { return nil }
