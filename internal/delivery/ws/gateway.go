// Package ws is the connection gateway: it owns websocket clients,
// per-room subscription groups, and unicast/multicast delivery. It
// holds no room state; that belongs to the coordinator and the store.
package ws

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// envelope is the wire frame: a named event plus its JSON payload
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Gateway maintains the set of active clients and their room
// subscriptions. Subscription bookkeeping is process-local and not
// persisted; a reconnecting client re-joins to re-subscribe.
type Gateway struct {
	mu      sync.RWMutex
	clients map[string]*Client
	groups  map[string]map[string]*Client // roomKey -> connID -> client
	log     *slog.Logger
}

func NewGateway(log *slog.Logger) *Gateway {
	return &Gateway{
		clients: make(map[string]*Client),
		groups:  make(map[string]map[string]*Client),
		log:     log,
	}
}

// Register adds a connected client to the gateway
func (g *Gateway) Register(c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clients[c.ID] = c
}

// Unregister removes a client and drops it from every group. The
// send channel is closed here so WritePump terminates.
func (g *Gateway) Unregister(c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.clients[c.ID]; !ok {
		return
	}
	delete(g.clients, c.ID)
	for roomKey, group := range g.groups {
		if _, ok := group[c.ID]; ok {
			delete(group, c.ID)
			if len(group) == 0 {
				delete(g.groups, roomKey)
			}
		}
	}
	// Concurrent fan-outs may still hold this client in a target
	// snapshot; closeSend and enqueue share a lock so no frame can be
	// queued after the close.
	c.closeSend()
}

// Subscribe adds the connection to a room's broadcast group
func (g *Gateway) Subscribe(connID, roomKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	client, ok := g.clients[connID]
	if !ok {
		return
	}
	group, ok := g.groups[roomKey]
	if !ok {
		group = make(map[string]*Client)
		g.groups[roomKey] = group
	}
	group[connID] = client
}

// Unsubscribe removes the connection from a room's broadcast group
func (g *Gateway) Unsubscribe(connID, roomKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	group, ok := g.groups[roomKey]
	if !ok {
		return
	}
	delete(group, connID)
	if len(group) == 0 {
		delete(g.groups, roomKey)
	}
}

// Unicast sends an event to one connection
func (g *Gateway) Unicast(connID, event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		g.log.Error("encoding frame failed", "event", event, "error", err)
		return
	}

	g.mu.RLock()
	client, ok := g.clients[connID]
	g.mu.RUnlock()
	if !ok {
		return
	}
	g.deliver(client, frame)
}

// Multicast sends an event to every subscriber of a room
func (g *Gateway) Multicast(roomKey, event string, payload any) {
	g.multicast(roomKey, "", event, payload)
}

// MulticastExcept sends an event to every subscriber of a room except
// one connection, typically the originator.
func (g *Gateway) MulticastExcept(roomKey, exceptConnID, event string, payload any) {
	g.multicast(roomKey, exceptConnID, event, payload)
}

func (g *Gateway) multicast(roomKey, exceptConnID, event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		g.log.Error("encoding frame failed", "event", event, "error", err)
		return
	}

	g.mu.RLock()
	targets := make([]*Client, 0, len(g.groups[roomKey]))
	for connID, client := range g.groups[roomKey] {
		if connID == exceptConnID {
			continue
		}
		targets = append(targets, client)
	}
	g.mu.RUnlock()

	for _, client := range targets {
		g.deliver(client, frame)
	}
}

// deliver queues a frame without blocking; a client whose buffer is
// full is dropped rather than stalling the fan-out.
func (g *Gateway) deliver(c *Client, frame []byte) {
	if !c.enqueue(frame) {
		g.log.Warn("client send buffer full or closed, dropping connection", "connId", c.ID)
		g.Unregister(c)
	}
}

// ClientCount returns the number of connected clients
func (g *Gateway) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// RoomCount returns the number of rooms with at least one subscriber
func (g *Gateway) RoomCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.groups)
}

// Members returns the sorted connection ids subscribed to a room
func (g *Gateway) Members(roomKey string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	members := lo.Keys(g.groups[roomKey])
	sort.Strings(members)
	return members
}

func encodeFrame(event string, payload any) ([]byte, error) {
	env := envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}
