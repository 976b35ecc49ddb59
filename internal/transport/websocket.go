package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	apperrors "evald/internal/errors"
)

const closeGrace = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Sessions are not tied to a browser origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Conn is one WebSocket carrying text frames.  Reads must come from a
// single goroutine; writes may come from any.
type Conn struct {
	ws *websocket.Conn

	wmu  sync.Mutex
	once sync.Once
}

// Upgrade switches r to a WebSocket.  On failure the HTTP error has
// already been written to w.  readLimit caps one inbound frame; 0 means
// no cap.
func Upgrade(w http.ResponseWriter, r *http.Request, readLimit int64) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, apperrors.Wrap("upgrade", r.RemoteAddr, err)
	}
	if readLimit > 0 {
		ws.SetReadLimit(readLimit)
	}
	return &Conn{ws: ws}, nil
}

// DialWebSocket performs the client handshake against rawURL, with d
// providing the underlying TCP connection.
func DialWebSocket(ctx context.Context, d Dialer, rawURL string, timeout time.Duration) (*Conn, error) {
	wd := websocket.Dialer{
		NetDialContext:   d.Dial,
		HandshakeTimeout: timeout,
	}
	ws, resp, err := wd.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (HTTP %s)", err, resp.Status)
		}
		return nil, apperrors.Wrap("handshake", rawURL, err)
	}
	return &Conn{ws: ws}, nil
}

// ReadMessage returns the next frame's payload.  A close from the peer
// reads as io.EOF.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) || errors.Is(err, net.ErrClosed) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

// WriteMessage sends data as one text frame.
func (c *Conn) WriteMessage(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal close frame and drops the connection.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		err = c.ws.Close()
	})
	return err
}

// RemoteAddr is the peer's network address.
func (c *Conn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }
