package core

import (
	"context"
	"fmt"
	"time"

	"evald/internal/capability"
	"evald/internal/retry"
	"evald/internal/transport"
	"evald/util"
)

// ConnectMode dials an evald server and runs a capability on the
// session, normally a [capability.Console].
type ConnectMode struct {
	Dialer     transport.Dialer
	Capability capability.Capability
	URL        string
	Timeout    time.Duration // WebSocket handshake
	Policy     retry.Policy
	Logger     *util.Logger
}

// Run dials with retries, then hands the connection to the capability.
// The dialer and connection are closed when Run returns.
func (m *ConnectMode) Run(ctx context.Context) error {
	defer m.Dialer.Close()

	policy := m.Policy
	if policy.OnRetry == nil {
		policy.OnRetry = func(attempt int, err error, wait time.Duration) {
			m.Logger.Verbose("attempt %d: %v (retrying in %v)", attempt, err, wait.Round(time.Millisecond))
		}
	}

	m.Logger.Verbose("connecting to %s", m.URL)
	var conn *transport.Conn
	err := policy.Run(ctx, func(int) error {
		c, err := transport.DialWebSocket(ctx, m.Dialer, m.URL, m.Timeout)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return fmt.Errorf("connect to %s: %w", m.URL, err)
	}
	defer conn.Close()

	m.Logger.Verbose("connected to %s", conn.RemoteAddr())
	return m.Capability.Handle(ctx, conn)
}
