package channel

import (
	"context"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/c3founder/roampdf/internal/protocol"
)

// sendTimeout bounds one write; the channel is fire-and-forget, so a
// stalled peer must not stall the engine loop.
const sendTimeout = 5 * time.Second

// WebSocket adapts a websocket connection to a Sender.
type WebSocket struct {
	conn *websocket.Conn
}

// NewWebSocket wraps an accepted connection.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	return &WebSocket{conn: conn}
}

// Send writes one outbound message as JSON. A write to a closed peer
// returns the transport error; callers log and drop.
func (w *WebSocket) Send(ctx context.Context, msg protocol.Outbound) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return wsjson.Write(ctx, w.conn, msg)
}

// Read blocks for the next inbound message.
func (w *WebSocket) Read(ctx context.Context) (protocol.Inbound, error) {
	_, data, err := w.conn.Read(ctx)
	if err != nil {
		return protocol.Inbound{}, err
	}
	return protocol.Decode(data)
}

// Close closes the underlying connection.
func (w *WebSocket) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "")
}
