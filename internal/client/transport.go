package client

import (
	"context"
	"fmt"

	"nhooyr.io/websocket"
)

// Conn is one live duplex connection.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, payload []byte) error
	Close() error
}

// Transport dials the daemon's channel endpoint. Injected so tests can run
// the whole protocol stack over an in-memory pipe.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketTransport is the production transport.
type WebSocketTransport struct{}

func (WebSocketTransport) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	conn.SetReadLimit(1 << 20)
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, payload []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "client closed")
}
