package capability

import (
	"context"

	"evald/internal/session"
)

// Interactive serves a session over the connection.  Every call gets a
// fresh session and so a fresh namespace.
type Interactive struct {
	Options session.Options

	// Started, when set, sees each session before it serves.
	Started func(*session.Session)
}

// Handle blocks until the client disconnects.
func (c *Interactive) Handle(ctx context.Context, conn session.Conn) error {
	sess := session.New(conn, c.Options)
	if c.Started != nil {
		c.Started(sess)
	}
	if err := sess.Serve(ctx); err != nil {
		sess.Logger().Warn("ended: %v", err)
		return err
	}
	return nil
}
