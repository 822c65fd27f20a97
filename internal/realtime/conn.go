package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20

	sendBufferSize = 32
)

// EventAck acknowledges a sender's own batch. The sender never receives its
// batch as a room broadcast, so the ack is its only confirmation signal.
const EventAck = "ack"

// AckPayload confirms a persisted batch back to the originating client.
type AckPayload struct {
	Op     string         `json:"op"`
	NoteID string         `json:"note_id"`
	Blocks []BlockPayload `json:"blocks,omitempty"`
	IDs    []string       `json:"ids,omitempty"`
}

// Client is one WebSocket connection bound to an authenticated user. The
// write pump owns the socket for writes; Send never blocks and drops frames
// for consumers that cannot keep up.
type Client struct {
	id     string
	userID string
	hub    *Hub
	conn   *websocket.Conn
	send   chan Event
	done   chan struct{}
	logger *zap.Logger

	closeOnce sync.Once
}

// NewClient wraps an upgraded connection for the authenticated user.
func NewClient(hub *Hub, conn *websocket.Conn, userID string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		id:     uuid.NewString(),
		userID: userID,
		hub:    hub,
		conn:   conn,
		send:   make(chan Event, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// ID returns the connection-scoped client identifier.
func (c *Client) ID() string {
	return c.id
}

// UserID returns the authenticated user behind the connection.
func (c *Client) UserID() string {
	return c.userID
}

// Send queues an outbound event without blocking.
func (c *Client) Send(event Event) {
	select {
	case c.send <- event:
	default:
		c.logger.Warn("dropping event for slow client",
			zap.String("client_id", c.id),
			zap.String("event", event.Name))
	}
}

// Run registers the client with the hub and services the connection until it
// drops. Blocks until the read side closes.
func (c *Client) Run(ctx context.Context) {
	c.hub.Connect(c)
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Disconnect(c)
		// The send channel is never closed: a broadcast may hold a reference
		// to this client past Disconnect and call Send concurrently. The done
		// channel stops the write pump instead.
		c.closeOnce.Do(func() { close(c.done) })
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		var envelope Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			c.Send(ErrorEvent(fmt.Errorf("%w: %v", ErrValidation, err)))
			continue
		}
		c.dispatch(ctx, envelope)
	}
}

func (c *Client) dispatch(ctx context.Context, envelope Envelope) {
	switch envelope.Event {
	case MessageJoinNote:
		var payload NotePayload
		if err := decodePayload(envelope.Data, &payload); err != nil {
			c.Send(ErrorEvent(err))
			return
		}
		list, err := c.hub.Join(ctx, c, payload.NoteID)
		if err != nil {
			c.Send(ErrorEvent(err))
			return
		}
		c.Send(Event{
			Name: EventJoinedNote,
			Data: JoinedPayload{NoteID: payload.NoteID, Blocks: PayloadsFromBlocks(list)},
		})

	case MessageLeaveNote:
		var payload NotePayload
		if err := decodePayload(envelope.Data, &payload); err != nil {
			c.Send(ErrorEvent(err))
			return
		}
		c.hub.Leave(ctx, c, payload.NoteID)

	case MessageCreateBlocks:
		var payload BlockBatchPayload
		if err := decodePayload(envelope.Data, &payload); err != nil {
			c.Send(ErrorEvent(err))
			return
		}
		persisted, err := c.hub.CreateBlocks(ctx, c, payload.NoteID, ModelsFromPayloads(payload.Blocks))
		if err != nil {
			c.Send(ErrorEvent(err))
			return
		}
		c.Send(Event{Name: EventAck, Data: AckPayload{
			Op:     MessageCreateBlocks,
			NoteID: payload.NoteID,
			Blocks: PayloadsFromBlocks(persisted),
		}})

	case MessageUpdateBlocks:
		var payload BlockBatchPayload
		if err := decodePayload(envelope.Data, &payload); err != nil {
			c.Send(ErrorEvent(err))
			return
		}
		persisted, err := c.hub.UpdateBlocks(ctx, c, payload.NoteID, ModelsFromPayloads(payload.Blocks))
		if err != nil {
			c.Send(ErrorEvent(err))
			return
		}
		c.Send(Event{Name: EventAck, Data: AckPayload{
			Op:     MessageUpdateBlocks,
			NoteID: payload.NoteID,
			Blocks: PayloadsFromBlocks(persisted),
		}})

	case MessageDeleteBlocks:
		var payload DeletePayload
		if err := decodePayload(envelope.Data, &payload); err != nil {
			c.Send(ErrorEvent(err))
			return
		}
		noteID, removed, err := c.hub.DeleteBlocks(ctx, c, payload.IDs)
		if err != nil {
			c.Send(ErrorEvent(err))
			return
		}
		c.Send(Event{Name: EventAck, Data: AckPayload{
			Op:     MessageDeleteBlocks,
			NoteID: noteID,
			IDs:    removed,
		}})

	case MessageReorderBlocks:
		var payload ReorderPayload
		if err := decodePayload(envelope.Data, &payload); err != nil {
			c.Send(ErrorEvent(err))
			return
		}
		noteID, err := c.hub.ReorderBlocks(ctx, c, payload.Blocks)
		if err != nil {
			c.Send(ErrorEvent(err))
			return
		}
		c.Send(Event{Name: EventAck, Data: AckPayload{
			Op:     MessageReorderBlocks,
			NoteID: noteID,
		}})

	default:
		c.Send(ErrorEvent(fmt.Errorf("%w: unknown event %q", ErrValidation, envelope.Event)))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case event := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			frame, err := event.Encode()
			if err != nil {
				c.logger.Error("failed to encode event", zap.String("event", event.Name), zap.Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
