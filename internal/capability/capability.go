// Package capability defines what happens over an established evald
// connection.  The server runs [Interactive] on every accepted socket;
// the client runs [Console], which drives a remote session from the
// local terminal.
package capability

import (
	"context"

	"evald/internal/session"
)

// Capability handles a single connection according to a specific
// behaviour.  It blocks until the connection is done or ctx is
// cancelled.
type Capability interface {
	Handle(ctx context.Context, conn session.Conn) error
}
