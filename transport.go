package netfield

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"nhooyr.io/websocket"
)

// StatusNormalClosure is the close code used for a client-initiated close
// when the caller does not supply one.
const StatusNormalClosure = int(websocket.StatusNormalClosure)

// StatusAbnormalClosure is reported for connections torn down without a close frame.
const StatusAbnormalClosure = int(websocket.StatusAbnormalClosure)

// Conn is one open full-duplex text connection.
type Conn interface {
	// Read blocks until the next frame arrives or the connection ends.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	// Close performs an orderly close with the given code and reason.
	Close(code int, reason string) error
	// CloseNow tears the connection down without a close handshake.
	CloseNow() error
}

// Dialer opens transport connections.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// CloseInfo extracts the peer's close code and reason from a read error.
// Code is -1 when err is not a close frame.
func CloseInfo(err error) (int, string) {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return int(ce.Code), ce.Reason
	}
	return -1, ""
}

// ============================================================================
// WebSocket dialer
// ============================================================================

// WebSocketDialer dials endpoints with nhooyr.io/websocket.
type WebSocketDialer struct {
	HTTPClient *http.Client
	HTTPHeader http.Header
	ReadLimit  int64
}

// Dial connects to endpoint. http(s) schemes are rewritten to ws(s).
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	wsURL := websocketURL(endpoint)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.HTTPHeader,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return &wsConn{conn: conn}, nil
}

func websocketURL(endpoint string) string {
	u := strings.Replace(endpoint, "https://", "wss://", 1)
	return strings.Replace(u, "http://", "ws://", 1)
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(code int, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}

func (c *wsConn) CloseNow() error {
	return c.conn.CloseNow()
}
