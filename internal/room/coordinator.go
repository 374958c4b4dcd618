// Package room implements the coordination engine: room lifecycle,
// membership, movement and chat relay, and disconnect recovery. All
// durable state lives in the store; every operation re-reads the room
// document before mutating it and holds the room's lock for the whole
// read-modify-write.
package room

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/lo"

	"github.com/TygroTheProgrammer/Hububble/internal/domain"
	"github.com/TygroTheProgrammer/Hububble/internal/store"
)

// connIndexPrefix namespaces the connection→room secondary index so it
// never collides with room-record keys.
const connIndexPrefix = "conn:"

// chatKeyPrefix namespaces per-room chat history lists
const chatKeyPrefix = "chat:"

// Emitter is the gateway surface the coordinator needs: per-room
// subscription groups plus unicast and multicast delivery. Payloads are
// encoded by the gateway.
type Emitter interface {
	Unicast(connID, event string, payload any)
	Multicast(roomKey, event string, payload any)
	MulticastExcept(roomKey, exceptConnID, event string, payload any)
	Subscribe(connID, roomKey string)
	Unsubscribe(connID, roomKey string)
}

// Coordinator owns room lifecycle and fan-out semantics. It holds no
// durable room state of its own; the store is the sole authority.
type Coordinator struct {
	store        store.Store
	emitter      Emitter
	codes        *CodeGenerator
	locks        *keyedLocks
	log          *slog.Logger
	historyLimit int
}

// NewCoordinator wires the engine. historyLimit caps each room's chat
// history (0 means unbounded).
func NewCoordinator(st store.Store, em Emitter, log *slog.Logger, historyLimit int) *Coordinator {
	return &Coordinator{
		store:        st,
		emitter:      em,
		codes:        NewCodeGenerator(st),
		locks:        newKeyedLocks(),
		log:          log,
		historyLimit: historyLimit,
	}
}

// AllocateRoom creates a new empty room and returns its key
func (c *Coordinator) AllocateRoom() (string, error) {
	return c.codes.AllocateUniqueCode()
}

// RoomExists reports whether a room record is stored under roomKey.
// No side effects.
func (c *Coordinator) RoomExists(roomKey string) (bool, error) {
	return c.store.Exists(roomKey)
}

// CreateRoom allocates a fresh room and unicasts its key to the caller
func (c *Coordinator) CreateRoom(connID string) error {
	key, err := c.AllocateRoom()
	if err != nil {
		return err
	}
	c.log.Info("room created", "roomKey", key, "connId", connID)
	c.emitter.Unicast(connID, domain.EventRoomCreated, key)
	return nil
}

// ValidateKey answers a room-key existence probe
func (c *Coordinator) ValidateKey(connID, roomKey string) error {
	exists, err := c.RoomExists(roomKey)
	if err != nil {
		return err
	}
	if exists {
		c.emitter.Unicast(connID, domain.EventKeyIsValid, roomKey)
	} else {
		c.emitter.Unicast(connID, domain.EventKeyNotValid, nil)
	}
	return nil
}

// JoinRoom adds the connection to an existing room. A missing room key
// fails closed with ErrRoomNotFound and writes nothing; fabricating a
// room here would hide client and operator bugs.
func (c *Coordinator) JoinRoom(connID, roomKey, name string) error {
	// A connection is a member of at most one room. Joining while
	// still indexed elsewhere runs the full departure path for the old
	// room first, otherwise that room would keep a ghost player
	// forever and never empty out.
	if prev, err := c.store.Get(connIndexPrefix + connID); err == nil {
		if prevKey := string(prev); prevKey != roomKey {
			c.removeFromRoom(connID, prevKey)
		}
	} else if !errors.Is(err, store.ErrKeyNotFound) {
		c.log.Warn("connection index read failed", "connId", connID, "error", err)
	}

	release := c.locks.acquire(roomKey)
	defer release()

	record, err := c.getRoom(roomKey)
	if err != nil {
		return err
	}

	player := domain.NewPlayerState(connID, name)
	record.Players[connID] = player
	record.NumPlayers = len(record.Players)

	// Membership and the connection index land in one batch so the
	// disconnect path never sees one without the other.
	if err := c.writeRoom(record, store.Batch{
		Set: map[string][]byte{connIndexPrefix + connID: []byte(roomKey)},
	}); err != nil {
		return err
	}

	c.emitter.Subscribe(connID, roomKey)

	c.emitter.Unicast(connID, domain.EventSetState, record)
	c.emitter.Unicast(connID, domain.EventCurrentPlayers, domain.CurrentPlayersPayload{
		Players:    record.Players,
		NumPlayers: record.NumPlayers,
	})
	c.emitter.MulticastExcept(roomKey, connID, domain.EventNewPlayer, domain.NewPlayerPayload{
		PlayerInfo: player,
		NumPlayers: record.NumPlayers,
	})
	c.emitter.Multicast(roomKey, domain.EventChatMessage,
		domain.SystemChat(fmt.Sprintf("%s has joined the room", player.DisplayName())))

	c.log.Info("player joined", "roomKey", roomKey, "connId", connID, "numPlayers", record.NumPlayers)
	return nil
}

// Move updates a player's position and relays it to everyone else in
// the room. Unknown rooms or players are a logged no-op for the caller:
// no store write, no broadcast.
func (c *Coordinator) Move(connID, roomKey string, x, y float64) error {
	release := c.locks.acquire(roomKey)
	defer release()

	record, err := c.getRoom(roomKey)
	if err != nil {
		return err
	}
	player, ok := record.Players[connID]
	if !ok {
		return fmt.Errorf("move in %s: %w", roomKey, domain.ErrPlayerNotFound)
	}

	player.X = x
	player.Y = y
	record.Players[connID] = player

	if err := c.writeRoom(record, store.Batch{}); err != nil {
		return err
	}

	c.emitter.MulticastExcept(roomKey, connID, domain.EventPlayerMoved, player)
	return nil
}

// Chat validates, sanitizes, persists and fans out a chat message. The
// sender must be a recognized member of the room; the message must be
// non-empty after trimming.
func (c *Coordinator) Chat(connID, roomKey, rawMessage string, color *string) error {
	trimmed := strings.TrimSpace(rawMessage)
	if trimmed == "" {
		return fmt.Errorf("chat in %s: %w", roomKey, domain.ErrInvalidMessage)
	}

	release := c.locks.acquire(roomKey)
	defer release()

	record, err := c.getRoom(roomKey)
	if err != nil {
		return err
	}
	player, ok := record.Players[connID]
	if !ok {
		return fmt.Errorf("chat in %s: %w", roomKey, domain.ErrPlayerNotFound)
	}

	sanitized := EscapeMarkup(trimmed)

	entry, err := json.Marshal(domain.ChatLogEntry{PlayerID: connID, Message: sanitized})
	if err != nil {
		return fmt.Errorf("encode chat entry: %w", err)
	}
	if err := c.store.ListAppend(chatKeyPrefix+roomKey, entry, c.historyLimit); err != nil {
		return err
	}

	c.emitter.Multicast(roomKey, domain.EventChatMessage, domain.ChatBroadcastPayload{
		DisplayName: player.DisplayName(),
		Message:     sanitized,
		Color:       color,
	})
	return nil
}

// FetchChatLog unicasts the room's full history, oldest first. A room
// with no history yet yields an empty log, not an error.
func (c *Coordinator) FetchChatLog(connID, roomKey string) error {
	raws, err := c.store.ListRange(chatKeyPrefix + roomKey)
	if err != nil {
		return err
	}

	entries := make([]domain.ChatLogEntry, 0, len(raws))
	for _, raw := range raws {
		var entry domain.ChatLogEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			c.log.Warn("skipping malformed chat entry", "roomKey", roomKey, "error", err)
			continue
		}
		entries = append(entries, entry)
	}

	c.emitter.Unicast(connID, domain.EventChatLog, entries)
	return nil
}

// Disconnect removes the connection from whatever room holds it. The
// connection index is consulted first; when it is missing or stale
// (state written before the index existed, or by a crashed process)
// every room record in the store is scanned, skipping records that do
// not parse. A connection that never joined is a no-op.
func (c *Coordinator) Disconnect(connID string) error {
	indexKey := connIndexPrefix + connID

	indexed := ""
	if v, err := c.store.Get(indexKey); err == nil {
		indexed = string(v)
	} else if !errors.Is(err, store.ErrKeyNotFound) {
		c.log.Warn("connection index read failed", "connId", connID, "error", err)
	}

	if indexed != "" && c.removeFromRoom(connID, indexed) {
		return nil
	}

	// Index missing or stale: fall back to scanning every room.
	keys, err := c.roomKeys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if key == indexed {
			continue // already tried
		}
		if c.removeFromRoom(connID, key) {
			return nil
		}
	}

	if indexed != "" {
		// Stale index entry with no matching membership anywhere.
		if err := c.store.Delete(indexKey); err != nil {
			c.log.Warn("stale index cleanup failed", "connId", connID, "error", err)
		}
	}
	return nil
}

// removeFromRoom takes the connection out of roomKey if it is a member,
// emitting the departure notifications and either persisting the
// shrunk record or deleting the room when it empties. Reports whether
// the connection was found there.
func (c *Coordinator) removeFromRoom(connID, roomKey string) bool {
	release := c.locks.acquire(roomKey)
	defer release()

	record, err := c.getRoom(roomKey)
	if err != nil {
		if !errors.Is(err, domain.ErrRoomNotFound) {
			c.log.Warn("skipping unreadable room during disconnect", "roomKey", roomKey, "error", err)
		}
		return false
	}
	player, ok := record.Players[connID]
	if !ok {
		return false
	}

	indexKey := connIndexPrefix + connID

	// Drop the subscription before any fan-out: the departing
	// connection must not see its own departure, and the group entry
	// must go away even if the store write below fails.
	c.emitter.Unsubscribe(connID, roomKey)

	c.emitter.Multicast(roomKey, domain.EventChatMessage,
		domain.SystemChat(fmt.Sprintf("%s has left the room", player.DisplayName())))

	delete(record.Players, connID)
	record.NumPlayers = len(record.Players)

	if record.NumPlayers > 0 {
		if err := c.writeRoom(record, store.Batch{Delete: []string{indexKey}}); err != nil {
			c.log.Error("persisting room after disconnect failed", "roomKey", roomKey, "error", err)
			return true
		}
		c.emitter.Multicast(roomKey, domain.EventPlayerDisconnected, domain.PlayerDisconnectedPayload{
			PlayerID:   connID,
			NumPlayers: record.NumPlayers,
		})
	} else {
		// Last player out: notify, then delete the record outright.
		// An empty room is never persisted.
		c.emitter.Multicast(roomKey, domain.EventPlayerDisconnected, domain.PlayerDisconnectedPayload{
			PlayerID:   connID,
			NumPlayers: 0,
		})
		if err := c.store.Apply(store.Batch{Delete: []string{roomKey, indexKey}}); err != nil {
			c.log.Error("deleting empty room failed", "roomKey", roomKey, "error", err)
		}
		if err := c.store.ListDelete(chatKeyPrefix + roomKey); err != nil {
			c.log.Warn("deleting chat history failed", "roomKey", roomKey, "error", err)
		}
		c.log.Info("room deleted", "roomKey", roomKey)
	}

	c.log.Info("player disconnected", "roomKey", roomKey, "connId", connID, "numPlayers", record.NumPlayers)
	return true
}

// getRoom reads and validates the room document under roomKey
func (c *Coordinator) getRoom(roomKey string) (domain.RoomRecord, error) {
	raw, err := c.store.Get(roomKey)
	if errors.Is(err, store.ErrKeyNotFound) {
		return domain.RoomRecord{}, fmt.Errorf("room %s: %w", roomKey, domain.ErrRoomNotFound)
	}
	if err != nil {
		return domain.RoomRecord{}, err
	}

	var record domain.RoomRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return domain.RoomRecord{}, fmt.Errorf("room %s: %w: %v", roomKey, domain.ErrMalformedRecord, err)
	}
	if err := record.Validate(); err != nil {
		return domain.RoomRecord{}, fmt.Errorf("room %s: %w", roomKey, err)
	}
	return record, nil
}

// writeRoom persists the full room document plus any extra batch
// operations atomically.
func (c *Coordinator) writeRoom(record domain.RoomRecord, extra store.Batch) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", record.RoomKey, err)
	}
	if extra.Set == nil {
		extra.Set = make(map[string][]byte)
	}
	extra.Set[record.RoomKey] = data
	return c.store.Apply(extra)
}

// roomKeys lists every key that could hold a room record, excluding
// the index namespace.
func (c *Coordinator) roomKeys() ([]string, error) {
	keys, err := c.store.Keys("")
	if err != nil {
		return nil, err
	}
	return lo.Filter(keys, func(key string, _ int) bool {
		return !strings.HasPrefix(key, connIndexPrefix)
	}), nil
}
