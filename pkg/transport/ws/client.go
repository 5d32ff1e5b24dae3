package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aretw0/tandem/pkg/wire"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long a silent peer stays connected. Pings go out at
	// pingPeriod so a healthy peer always answers in time.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 1 << 20

	sendBuffer = 32
)

// client is one websocket session bound to a single document and user.
type client struct {
	server *Server
	conn   *websocket.Conn
	docID  string
	userID string

	// send is owned by the hub: registered on connect, closed by
	// unregister. The write pump drains it until it closes.
	send chan serverMessage
}

// readPump consumes editor frames until the connection dies, then tears the
// session down. It runs on the HTTP handler's goroutine.
func (c *client) readPump(ctx context.Context) {
	defer c.server.disconnect(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.server.logger.Debug("websocket session ended",
					"document", c.docID,
					"user", c.userID,
					"error", err)
			}
			return
		}
		c.server.metrics.MessagesReceived.WithLabelValues(msg.Type).Inc()
		c.handleMessage(ctx, msg)
	}
}

func (c *client) handleMessage(ctx context.Context, msg clientMessage) {
	switch msg.Type {
	case MsgOperation:
		c.applyOperation(ctx, msg.Operation)

	case MsgUndo:
		op, err := c.server.engine.Undo(ctx, c.docID, c.userID)
		if err != nil {
			c.sendError(err)
			return
		}
		c.enqueue(serverMessage{Type: MsgAck, DocumentID: c.docID, Operation: op})

	case MsgRedo:
		op, err := c.server.engine.Redo(ctx, c.docID, c.userID)
		if err != nil {
			c.sendError(err)
			return
		}
		c.enqueue(serverMessage{Type: MsgAck, DocumentID: c.docID, Operation: op})

	case MsgPresence:
		if !c.server.presence.Heartbeat(c.docID, c.userID) {
			c.server.presence.Join(c.docID, c.userID, msg.Metadata)
		}
		c.server.broadcastPresence(c.docID)

	default:
		c.sendError(fmt.Errorf("unknown frame type %q", msg.Type))
	}
}

func (c *client) applyOperation(ctx context.Context, payload []byte) {
	if len(payload) == 0 {
		c.sendError(fmt.Errorf("operation frame carries no operation"))
		return
	}
	op, err := wire.DecodeOperation(payload)
	if err != nil {
		c.server.metrics.OperationsTotal.WithLabelValues("rejected").Inc()
		c.sendError(err)
		return
	}
	if op.UserID == "" {
		op.UserID = c.userID
	}

	start := time.Now()
	conflicts, err := c.server.engine.ApplyOperation(ctx, c.docID, op)
	c.server.metrics.ApplyDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.server.metrics.OperationsTotal.WithLabelValues("rejected").Inc()
		c.sendError(err)
		return
	}

	status := "applied"
	if len(conflicts) > 0 {
		status = "transformed"
	}
	c.server.metrics.OperationsTotal.WithLabelValues(status).Inc()
	c.enqueue(serverMessage{Type: MsgAck, DocumentID: c.docID, Conflicts: conflicts})
}

// enqueue hands a frame to the write pump without blocking.
func (c *client) enqueue(msg serverMessage) {
	select {
	case c.send <- msg:
	default:
		c.server.metrics.FramesDropped.Inc()
	}
}

func (c *client) sendError(err error) {
	c.enqueue(serverMessage{Type: MsgError, DocumentID: c.docID, Error: err.Error()})
}

// writePump pushes queued frames and keepalive pings until the send channel
// closes, then closes the connection so the read pump unblocks.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
