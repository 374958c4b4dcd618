package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TygroTheProgrammer/Hububble/internal/domain"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

// Coordinator is the room engine surface the gateway dispatches into.
// Every method reports its outcome as an error that the dispatch layer
// logs; none of them is surfaced to the client.
type Coordinator interface {
	CreateRoom(connID string) error
	ValidateKey(connID, roomKey string) error
	JoinRoom(connID, roomKey, name string) error
	Move(connID, roomKey string, x, y float64) error
	Chat(connID, roomKey, message string, color *string) error
	FetchChatLog(connID, roomKey string) error
	Disconnect(connID string) error
}

// Client represents a single websocket connection. ID is the opaque
// connection identity handed to the coordinator.
type Client struct {
	ID    string
	conn  *websocket.Conn
	gw    *Gateway
	coord Coordinator
	log   *slog.Logger
	send  chan []byte

	// sendMu guards closed and the send channel's lifecycle: a frame
	// is never queued after the channel is closed.
	sendMu sync.Mutex
	closed bool

	readLimit int64
}

// enqueue queues a frame without blocking. Reports false when the
// client is already closed or its buffer is full.
func (c *Client) enqueue(frame []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel exactly once so WritePump exits
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// NewClient creates a client for an upgraded connection
func NewClient(id string, conn *websocket.Conn, gw *Gateway, coord Coordinator, log *slog.Logger, readLimit int64) *Client {
	return &Client{
		ID:        id,
		conn:      conn,
		gw:        gw,
		coord:     coord,
		log:       log,
		send:      make(chan []byte, 256),
		readLimit: readLimit,
	}
}

// ReadPump pumps frames from the websocket into the coordinator. On
// any read error the connection is torn down and the disconnect path
// runs exactly once.
func (c *Client) ReadPump() {
	defer func() {
		if err := c.coord.Disconnect(c.ID); err != nil {
			c.log.Error("disconnect cleanup failed", "connId", c.ID, "error", err)
		}
		c.gw.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("unexpected close", "connId", c.ID, "error", err)
			}
			break
		}

		var frame envelope
		if err := json.Unmarshal(message, &frame); err != nil {
			c.log.Warn("malformed frame", "connId", c.ID, "error", err)
			continue
		}

		c.handleEvent(frame.Event, frame.Data)
	}
}

// handleEvent dispatches one inbound event. Coordinator errors are
// recovered here: logged, nothing broadcast, the connection keeps
// being served. A fault in one handler never affects other
// connections.
func (c *Client) handleEvent(event string, data json.RawMessage) {
	var err error

	switch event {
	case domain.EventGetRoomCode:
		err = c.coord.CreateRoom(c.ID)

	case domain.EventIsKeyValid:
		var roomKey string
		if err = json.Unmarshal(data, &roomKey); err == nil {
			err = c.coord.ValidateKey(c.ID, roomKey)
		}

	case domain.EventJoinRoom:
		var p domain.JoinRoomPayload
		if err = json.Unmarshal(data, &p); err == nil {
			err = c.coord.JoinRoom(c.ID, p.RoomKey, p.Name)
		}

	case domain.EventPlayerMovement:
		var p domain.MovementPayload
		if err = json.Unmarshal(data, &p); err == nil {
			err = c.coord.Move(c.ID, p.RoomKey, p.X, p.Y)
		}

	case domain.EventChatMessage:
		var p domain.ChatPayload
		if err = json.Unmarshal(data, &p); err == nil {
			// The payload's playerId is untrusted; the connection's
			// own identity is authoritative.
			if p.PlayerID != "" && p.PlayerID != c.ID {
				c.log.Warn("chat payload playerId mismatch, ignoring it",
					"connId", c.ID, "claimed", p.PlayerID)
			}
			err = c.coord.Chat(c.ID, p.RoomKey, p.Message, p.Color)
		}

	case domain.EventFetchChatLog:
		var roomKey string
		if err = json.Unmarshal(data, &roomKey); err == nil {
			err = c.coord.FetchChatLog(c.ID, roomKey)
		}

	default:
		c.log.Debug("unknown event", "connId", c.ID, "event", event)
		return
	}

	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrRoomNotFound) || errors.Is(err, domain.ErrPlayerNotFound) ||
			errors.Is(err, domain.ErrInvalidMessage) {
			level = slog.LevelInfo
		}
		c.log.Log(context.Background(), level, "event rejected", "connId", c.ID, "event", event, "error", err)
	}
}

// WritePump pumps frames from the send queue to the websocket
// connection, one frame per message, pinging on an interval.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Gateway closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
