package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/coder/websocket"
)

// connTransport adapts one websocket connection to the chat delivery layer.
// Writes are serialized by the delivery layer; the connected flag flips off
// once the read loop exits so late replies go to the pending buffer instead
// of a dead socket.
type connTransport struct {
	conn      *websocket.Conn
	connected atomic.Bool
}

func newConnTransport(conn *websocket.Conn) *connTransport {
	t := &connTransport{conn: conn}
	t.connected.Store(true)
	return t
}

func (t *connTransport) Send(ctx context.Context, kind, payload string) error {
	frame, err := json.Marshal(OutboundFrame{Kind: kind, Text: payload})
	if err != nil {
		return fmt.Errorf("ws.connTransport.Send: marshal: %w", err)
	}

	if err := t.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("ws.connTransport.Send: %w", err)
	}
	return nil
}

func (t *connTransport) Connected() bool {
	return t.connected.Load()
}

func (t *connTransport) markClosed() {
	t.connected.Store(false)
}
