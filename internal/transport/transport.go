// Package transport carries session frames between an evald client and
// server.  A [Conn] is one WebSocket; a [Dialer] decides how the client
// reaches the server host, directly or through an SSH bastion.
package transport

import (
	"context"
	"net"
)

// Dialer opens the TCP connection a WebSocket handshake runs over.
type Dialer interface {
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases long-lived resources such as an SSH session.
	// Stateless dialers return nil.
	Close() error
}
