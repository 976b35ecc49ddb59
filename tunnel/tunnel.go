// Package tunnel lets the evald client reach a server that is only
// visible from behind an SSH bastion.  The client's WebSocket dial is
// forwarded through the bastion with ssh.Client.Dial.
package tunnel

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Tunnel forwards TCP connections through an encrypted gateway.
type Tunnel interface {
	Connect(ctx context.Context) error
	Dial(ctx context.Context, network, address string) (net.Conn, error)
	Close() error
	Alive() bool
}

// ParseTarget splits a "user@host[:port]" bastion spec.  A missing port
// is 22.
func ParseTarget(spec string) (user, host string, port int, err error) {
	at := strings.LastIndex(spec, "@")
	if at <= 0 || at == len(spec)-1 {
		return "", "", 0, fmt.Errorf("bastion %q: want user@host[:port]", spec)
	}
	user, rest := spec[:at], spec[at+1:]

	port = 22
	if h, p, splitErr := net.SplitHostPort(rest); splitErr == nil {
		n, convErr := strconv.Atoi(p)
		if convErr != nil || n < 1 || n > 65535 {
			return "", "", 0, fmt.Errorf("bastion %q: bad port %q", spec, p)
		}
		rest, port = h, n
	}
	if rest == "" {
		return "", "", 0, fmt.Errorf("bastion %q: empty host", spec)
	}
	return user, rest, port, nil
}
