package room

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/TygroTheProgrammer/Hububble/internal/domain"
	"github.com/TygroTheProgrammer/Hububble/internal/store"
)

// fakeEmitter records emits and subscriptions instead of delivering them
type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
	subs   map[string]string // connID -> roomKey
}

type emitted struct {
	kind    string // "unicast", "multicast", "multicastExcept"
	target  string // connID for unicast, roomKey otherwise
	except  string
	event   string
	payload any
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{subs: make(map[string]string)}
}

func (f *fakeEmitter) Unicast(connID, event string, payload any) {
	f.record(emitted{kind: "unicast", target: connID, event: event, payload: payload})
}

func (f *fakeEmitter) Multicast(roomKey, event string, payload any) {
	f.record(emitted{kind: "multicast", target: roomKey, event: event, payload: payload})
}

func (f *fakeEmitter) MulticastExcept(roomKey, exceptConnID, event string, payload any) {
	f.record(emitted{kind: "multicastExcept", target: roomKey, except: exceptConnID, event: event, payload: payload})
}

func (f *fakeEmitter) Subscribe(connID, roomKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[connID] = roomKey
	f.events = append(f.events, emitted{kind: "subscribe", target: connID})
}

func (f *fakeEmitter) Unsubscribe(connID, roomKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, connID)
	f.events = append(f.events, emitted{kind: "unsubscribe", target: connID})
}

// firstIndex returns the position of the first recorded event matching
// the predicate, or -1.
func (f *fakeEmitter) firstIndex(match func(emitted) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.events {
		if match(e) {
			return i
		}
	}
	return -1
}

func (f *fakeEmitter) record(e emitted) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeEmitter) byEvent(event string) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeEmitter) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

func (f *fakeEmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func newTestCoordinator(historyLimit int) (*Coordinator, *store.MemoryStore, *fakeEmitter) {
	st := store.NewMemoryStore()
	em := newFakeEmitter()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCoordinator(st, em, log, historyLimit), st, em
}

func storedRoom(t *testing.T, st store.Store, key string) domain.RoomRecord {
	t.Helper()
	raw, err := st.Get(key)
	if err != nil {
		t.Fatalf("reading room %s: %v", key, err)
	}
	var record domain.RoomRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		t.Fatalf("decoding room %s: %v", key, err)
	}
	return record
}

func TestAllocateRoom_CreatesEmptyRecord(t *testing.T) {
	c, st, _ := newTestCoordinator(0)

	key, err := c.AllocateRoom()
	if err != nil {
		t.Fatalf("AllocateRoom: %v", err)
	}
	if len(key) != 5 {
		t.Errorf("expected 5-character key, got %q", key)
	}
	for _, r := range key {
		if !strings.ContainsRune(codeAlphabet, r) {
			t.Errorf("key %q contains %q outside the alphabet", key, r)
		}
	}

	record := storedRoom(t, st, key)
	if record.RoomKey != key {
		t.Errorf("record key = %q, want %q", record.RoomKey, key)
	}
	if record.NumPlayers != 0 || len(record.Players) != 0 {
		t.Errorf("new room not empty: %+v", record)
	}
}

func TestAllocateRoom_NeverReusesLiveKey(t *testing.T) {
	c, _, _ := newTestCoordinator(0)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, err := c.AllocateRoom()
		if err != nil {
			t.Fatalf("AllocateRoom: %v", err)
		}
		if seen[key] {
			t.Fatalf("key %q allocated twice while still live", key)
		}
		seen[key] = true
	}
}

func TestValidateKey(t *testing.T) {
	c, _, em := newTestCoordinator(0)

	key, _ := c.AllocateRoom()

	if err := c.ValidateKey("c1", key); err != nil {
		t.Fatalf("ValidateKey: %v", err)
	}
	valid := em.byEvent(domain.EventKeyIsValid)
	if len(valid) != 1 || valid[0].target != "c1" || valid[0].payload != key {
		t.Errorf("expected keyIsValid unicast with the key, got %+v", valid)
	}

	if err := c.ValidateKey("c1", "ZZZZZ"); err != nil {
		t.Fatalf("ValidateKey missing: %v", err)
	}
	if len(em.byEvent(domain.EventKeyNotValid)) != 1 {
		t.Error("expected keyNotValid for unknown key")
	}
}

func TestJoinRoom_MissingRoomFailsClosed(t *testing.T) {
	c, st, em := newTestCoordinator(0)

	err := c.JoinRoom("c1", "NOSUC", "Ann")
	if !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}

	keys, _ := st.Keys("")
	if len(keys) != 0 {
		t.Errorf("join of missing room wrote to the store: %v", keys)
	}
	if em.count() != 0 {
		t.Errorf("join of missing room emitted events: %+v", em.events)
	}
}

func TestJoinRoom_FirstPlayer(t *testing.T) {
	c, st, em := newTestCoordinator(0)

	key, _ := c.AllocateRoom()
	if err := c.JoinRoom("c1", key, "Ann"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	record := storedRoom(t, st, key)
	if record.NumPlayers != 1 || len(record.Players) != 1 {
		t.Fatalf("expected one player, got %+v", record)
	}
	player := record.Players["c1"]
	if player.Name != "Ann" || player.X != domain.SpawnX || player.Y != domain.SpawnY || player.Rotation != 0 {
		t.Errorf("player not at spawn defaults: %+v", player)
	}

	if em.subs["c1"] != key {
		t.Errorf("expected c1 subscribed to %s, got %q", key, em.subs["c1"])
	}

	states := em.byEvent(domain.EventSetState)
	if len(states) != 1 || states[0].kind != "unicast" || states[0].target != "c1" {
		t.Fatalf("expected setState unicast to joiner, got %+v", states)
	}
	if state := states[0].payload.(domain.RoomRecord); state.NumPlayers != 1 {
		t.Errorf("setState numPlayers = %d, want 1", state.NumPlayers)
	}

	if got := em.byEvent(domain.EventCurrentPlayers); len(got) != 1 || got[0].target != "c1" {
		t.Errorf("expected currentPlayers unicast to joiner, got %+v", got)
	}

	chats := em.byEvent(domain.EventChatMessage)
	if len(chats) != 1 || chats[0].kind != "multicast" {
		t.Fatalf("expected one system chat multicast, got %+v", chats)
	}
	sys := chats[0].payload.(domain.ChatBroadcastPayload)
	if sys.Type != domain.SystemMessageType || sys.Message != "Ann has joined the room" {
		t.Errorf("unexpected system chat: %+v", sys)
	}
}

func TestJoinRoom_SecondPlayerBroadcasts(t *testing.T) {
	c, _, em := newTestCoordinator(0)

	key, _ := c.AllocateRoom()
	if err := c.JoinRoom("c1", key, "Ann"); err != nil {
		t.Fatal(err)
	}
	em.reset()

	if err := c.JoinRoom("c2", key, "Bo"); err != nil {
		t.Fatal(err)
	}

	roster := em.byEvent(domain.EventCurrentPlayers)
	if len(roster) != 1 || roster[0].target != "c2" {
		t.Fatalf("expected currentPlayers unicast to c2, got %+v", roster)
	}
	players := roster[0].payload.(domain.CurrentPlayersPayload)
	if players.NumPlayers != 2 || len(players.Players) != 2 {
		t.Errorf("roster should list both players: %+v", players)
	}

	news := em.byEvent(domain.EventNewPlayer)
	if len(news) != 1 || news[0].kind != "multicastExcept" || news[0].except != "c2" {
		t.Fatalf("expected newPlayer multicast excluding the joiner, got %+v", news)
	}
	np := news[0].payload.(domain.NewPlayerPayload)
	if np.PlayerInfo.Name != "Bo" || np.NumPlayers != 2 {
		t.Errorf("unexpected newPlayer payload: %+v", np)
	}

	chats := em.byEvent(domain.EventChatMessage)
	if len(chats) != 1 {
		t.Fatalf("expected one system chat, got %+v", chats)
	}
	if msg := chats[0].payload.(domain.ChatBroadcastPayload).Message; msg != "Bo has joined the room" {
		t.Errorf("system chat = %q", msg)
	}
}

func TestMove_UpdatesPositionAndExcludesMover(t *testing.T) {
	c, st, em := newTestCoordinator(0)

	key, _ := c.AllocateRoom()
	c.JoinRoom("c1", key, "Ann")
	em.reset()

	if err := c.Move("c1", key, 250, 320); err != nil {
		t.Fatalf("Move: %v", err)
	}

	player := storedRoom(t, st, key).Players["c1"]
	if player.X != 250 || player.Y != 320 {
		t.Errorf("position not persisted: %+v", player)
	}

	moved := em.byEvent(domain.EventPlayerMoved)
	if len(moved) != 1 || moved[0].kind != "multicastExcept" || moved[0].except != "c1" {
		t.Fatalf("expected playerMoved multicast excluding mover, got %+v", moved)
	}
	if p := moved[0].payload.(domain.PlayerState); p.X != 250 || p.Y != 320 {
		t.Errorf("unexpected playerMoved payload: %+v", p)
	}
}

func TestMove_UnknownRoomOrPlayerIsNoOp(t *testing.T) {
	c, st, em := newTestCoordinator(0)

	key, _ := c.AllocateRoom()
	c.JoinRoom("c1", key, "Ann")
	before := storedRoom(t, st, key)
	em.reset()

	if err := c.Move("c1", "NOSUC", 1, 2); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
	if err := c.Move("ghost", key, 1, 2); !errors.Is(err, domain.ErrPlayerNotFound) {
		t.Errorf("expected ErrPlayerNotFound, got %v", err)
	}

	if em.count() != 0 {
		t.Errorf("failed moves emitted events: %+v", em.events)
	}
	after := storedRoom(t, st, key)
	if after.Players["c1"] != before.Players["c1"] {
		t.Errorf("failed move changed stored state: %+v", after)
	}
}

func TestChat_SanitizesStoresAndBroadcasts(t *testing.T) {
	c, st, em := newTestCoordinator(0)

	key, _ := c.AllocateRoom()
	c.JoinRoom("c1", key, "Ann")
	em.reset()

	if err := c.Chat("c1", key, "  <script>  ", nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	raws, err := st.ListRange("chat:" + key)
	if err != nil {
		t.Fatal(err)
	}
	if len(raws) != 1 {
		t.Fatalf("expected one stored chat entry, got %d", len(raws))
	}
	var entry domain.ChatLogEntry
	if err := json.Unmarshal(raws[0], &entry); err != nil {
		t.Fatal(err)
	}
	if entry.Message != "&lt;script&gt;" || entry.PlayerID != "c1" {
		t.Errorf("unexpected stored entry: %+v", entry)
	}

	chats := em.byEvent(domain.EventChatMessage)
	if len(chats) != 1 || chats[0].kind != "multicast" {
		t.Fatalf("expected chat multicast to whole room, got %+v", chats)
	}
	msg := chats[0].payload.(domain.ChatBroadcastPayload)
	if msg.DisplayName != "Ann" || msg.Message != "&lt;script&gt;" || msg.Color != nil {
		t.Errorf("unexpected broadcast payload: %+v", msg)
	}
}

func TestChat_EchoesColor(t *testing.T) {
	c, _, em := newTestCoordinator(0)

	key, _ := c.AllocateRoom()
	c.JoinRoom("c1", key, "Ann")
	em.reset()

	color := "#ff00ff"
	if err := c.Chat("c1", key, "hi", &color); err != nil {
		t.Fatal(err)
	}

	msg := em.byEvent(domain.EventChatMessage)[0].payload.(domain.ChatBroadcastPayload)
	if msg.Color == nil || *msg.Color != color {
		t.Errorf("color not echoed: %+v", msg)
	}
}

func TestChat_Rejections(t *testing.T) {
	c, st, em := newTestCoordinator(0)

	key, _ := c.AllocateRoom()
	c.JoinRoom("c1", key, "Ann")
	em.reset()

	if err := c.Chat("c1", key, "   ", nil); !errors.Is(err, domain.ErrInvalidMessage) {
		t.Errorf("blank message: expected ErrInvalidMessage, got %v", err)
	}
	if err := c.Chat("ghost", key, "hello", nil); !errors.Is(err, domain.ErrPlayerNotFound) {
		t.Errorf("non-member: expected ErrPlayerNotFound, got %v", err)
	}
	if err := c.Chat("c1", "NOSUC", "hello", nil); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Errorf("missing room: expected ErrRoomNotFound, got %v", err)
	}

	if n, _ := st.ListLen("chat:" + key); n != 0 {
		t.Errorf("rejected chats were stored, len = %d", n)
	}
	if em.count() != 0 {
		t.Errorf("rejected chats were broadcast: %+v", em.events)
	}
}

func TestFetchChatLog_AppendOrder(t *testing.T) {
	c, _, em := newTestCoordinator(0)

	key, _ := c.AllocateRoom()
	c.JoinRoom("c1", key, "Ann")
	c.Chat("c1", key, "A", nil)
	c.Chat("c1", key, "B", nil)
	em.reset()

	if err := c.FetchChatLog("c1", key); err != nil {
		t.Fatalf("FetchChatLog: %v", err)
	}

	logs := em.byEvent(domain.EventChatLog)
	if len(logs) != 1 || logs[0].kind != "unicast" || logs[0].target != "c1" {
		t.Fatalf("expected chatLog unicast, got %+v", logs)
	}
	entries := logs[0].payload.([]domain.ChatLogEntry)
	if len(entries) != 2 || entries[0].Message != "A" || entries[1].Message != "B" {
		t.Errorf("log not in append order: %+v", entries)
	}
}

func TestFetchChatLog_EmptyRoomYieldsEmptyLog(t *testing.T) {
	c, _, em := newTestCoordinator(0)

	if err := c.FetchChatLog("c1", "QUIET"); err != nil {
		t.Fatalf("FetchChatLog: %v", err)
	}
	entries := em.byEvent(domain.EventChatLog)[0].payload.([]domain.ChatLogEntry)
	if entries == nil || len(entries) != 0 {
		t.Errorf("expected empty (non-nil) log, got %#v", entries)
	}
}

func TestChat_HistoryIsBounded(t *testing.T) {
	c, st, em := newTestCoordinator(3)

	key, _ := c.AllocateRoom()
	c.JoinRoom("c1", key, "Ann")
	for _, msg := range []string{"1", "2", "3", "4", "5"} {
		if err := c.Chat("c1", key, msg, nil); err != nil {
			t.Fatal(err)
		}
	}
	em.reset()

	if n, _ := st.ListLen("chat:" + key); n != 3 {
		t.Fatalf("history len = %d, want 3", n)
	}

	c.FetchChatLog("c1", key)
	entries := em.byEvent(domain.EventChatLog)[0].payload.([]domain.ChatLogEntry)
	if len(entries) != 3 || entries[0].Message != "3" || entries[2].Message != "5" {
		t.Errorf("expected newest three entries, got %+v", entries)
	}
}

func TestDisconnect_FullLifecycle(t *testing.T) {
	c, st, em := newTestCoordinator(0)

	key, _ := c.AllocateRoom()
	c.JoinRoom("c1", key, "Ann")
	c.JoinRoom("c2", key, "Bo")
	em.reset()

	// First departure: record shrinks but survives.
	if err := c.Disconnect("c1"); err != nil {
		t.Fatalf("Disconnect c1: %v", err)
	}

	record := storedRoom(t, st, key)
	if record.NumPlayers != 1 || len(record.Players) != 1 {
		t.Fatalf("expected one player left, got %+v", record)
	}
	if _, ok := record.Players["c1"]; ok {
		t.Error("c1 still present after disconnect")
	}

	chats := em.byEvent(domain.EventChatMessage)
	if len(chats) != 1 || chats[0].payload.(domain.ChatBroadcastPayload).Message != "Ann has left the room" {
		t.Errorf("expected leave announcement, got %+v", chats)
	}
	gone := em.byEvent(domain.EventPlayerDisconnected)
	if len(gone) != 1 {
		t.Fatalf("expected playerDisconnected, got %+v", gone)
	}
	if p := gone[0].payload.(domain.PlayerDisconnectedPayload); p.PlayerID != "c1" || p.NumPlayers != 1 {
		t.Errorf("unexpected playerDisconnected payload: %+v", p)
	}
	em.reset()

	// Last departure: room is deleted outright.
	if err := c.Disconnect("c2"); err != nil {
		t.Fatalf("Disconnect c2: %v", err)
	}

	if exists, _ := st.Exists(key); exists {
		t.Error("room record still in store after last player left")
	}
	if err := c.ValidateKey("probe", key); err != nil {
		t.Fatal(err)
	}
	if len(em.byEvent(domain.EventKeyNotValid)) != 1 {
		t.Error("deleted room still validates")
	}
	if p := em.byEvent(domain.EventPlayerDisconnected)[0].payload.(domain.PlayerDisconnectedPayload); p.NumPlayers != 0 {
		t.Errorf("final playerDisconnected numPlayers = %d, want 0", p.NumPlayers)
	}

	// Index entries are cleaned up with membership.
	if keys, _ := st.Keys("conn:"); len(keys) != 0 {
		t.Errorf("stale connection index entries: %v", keys)
	}
}

func TestDisconnect_NeverJoinedIsNoOp(t *testing.T) {
	c, _, em := newTestCoordinator(0)

	if err := c.Disconnect("ghost"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if em.count() != 0 {
		t.Errorf("no-op disconnect emitted events: %+v", em.events)
	}
}

func TestDisconnect_ScanFallbackSkipsMalformedRecords(t *testing.T) {
	c, st, em := newTestCoordinator(0)

	// A record that does not parse as a room must be skipped, not fatal.
	st.Set("BADXX", []byte("not json at all"))

	// Membership written without an index entry, as an older process
	// would have left it.
	record := domain.NewRoomRecord("ROOM1")
	record.Players["c9"] = domain.NewPlayerState("c9", "Zed")
	record.NumPlayers = 1
	raw, _ := json.Marshal(record)
	st.Set("ROOM1", raw)

	if err := c.Disconnect("c9"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	if exists, _ := st.Exists("ROOM1"); exists {
		t.Error("room should be deleted after its only player left")
	}
	if len(em.byEvent(domain.EventPlayerDisconnected)) != 1 {
		t.Error("expected playerDisconnected from scan fallback")
	}
	if exists, _ := st.Exists("BADXX"); !exists {
		t.Error("malformed record should be left untouched")
	}
}

func TestJoinRoom_LeavesPreviousRoomFirst(t *testing.T) {
	c, st, em := newTestCoordinator(0)

	keyA, _ := c.AllocateRoom()
	keyB, _ := c.AllocateRoom()
	c.JoinRoom("c1", keyA, "Ann")
	c.JoinRoom("c2", keyA, "Bo")
	em.reset()

	if err := c.JoinRoom("c1", keyB, "Ann"); err != nil {
		t.Fatalf("JoinRoom second room: %v", err)
	}

	// The old room must not keep a ghost member.
	recordA := storedRoom(t, st, keyA)
	if recordA.NumPlayers != 1 || len(recordA.Players) != 1 {
		t.Fatalf("old room should shrink to one player, got %+v", recordA)
	}
	if _, ok := recordA.Players["c1"]; ok {
		t.Error("c1 still a member of the old room")
	}

	recordB := storedRoom(t, st, keyB)
	if _, ok := recordB.Players["c1"]; !ok || recordB.NumPlayers != 1 {
		t.Errorf("c1 not a member of the new room: %+v", recordB)
	}

	// Departure fan-out went to the old room.
	gone := em.byEvent(domain.EventPlayerDisconnected)
	if len(gone) != 1 || gone[0].target != keyA {
		t.Fatalf("expected playerDisconnected in old room, got %+v", gone)
	}
	if p := gone[0].payload.(domain.PlayerDisconnectedPayload); p.PlayerID != "c1" || p.NumPlayers != 1 {
		t.Errorf("unexpected playerDisconnected payload: %+v", p)
	}

	// The connection follows to the new room, in index and groups.
	if em.subs["c1"] != keyB {
		t.Errorf("c1 subscribed to %q, want %q", em.subs["c1"], keyB)
	}
	if indexed, err := st.Get("conn:c1"); err != nil || string(indexed) != keyB {
		t.Errorf("index = %q (err %v), want %q", indexed, err, keyB)
	}
}

func TestJoinRoom_SoleMemberPreviousRoomIsDeleted(t *testing.T) {
	c, st, _ := newTestCoordinator(0)

	keyA, _ := c.AllocateRoom()
	keyB, _ := c.AllocateRoom()
	c.JoinRoom("c1", keyA, "Ann")

	if err := c.JoinRoom("c1", keyB, "Ann"); err != nil {
		t.Fatal(err)
	}

	if exists, _ := st.Exists(keyA); exists {
		t.Error("old room should be deleted once its only member moved on")
	}
}

func TestJoinRoom_SameRoomRejoinDoesNotDepart(t *testing.T) {
	c, st, em := newTestCoordinator(0)

	key, _ := c.AllocateRoom()
	c.JoinRoom("c1", key, "Ann")
	em.reset()

	if err := c.JoinRoom("c1", key, "Ann"); err != nil {
		t.Fatal(err)
	}

	if len(em.byEvent(domain.EventPlayerDisconnected)) != 0 {
		t.Error("rejoining the same room emitted a departure")
	}
	record := storedRoom(t, st, key)
	if record.NumPlayers != 1 {
		t.Errorf("rejoin changed membership: %+v", record)
	}
}

func TestDisconnect_UnsubscribesBeforeDepartureEvents(t *testing.T) {
	c, _, em := newTestCoordinator(0)

	key, _ := c.AllocateRoom()
	c.JoinRoom("c1", key, "Ann")
	c.JoinRoom("c2", key, "Bo")
	em.reset()

	if err := c.Disconnect("c1"); err != nil {
		t.Fatal(err)
	}

	unsub := em.firstIndex(func(e emitted) bool {
		return e.kind == "unsubscribe" && e.target == "c1"
	})
	leaveChat := em.firstIndex(func(e emitted) bool {
		return e.event == domain.EventChatMessage
	})
	gone := em.firstIndex(func(e emitted) bool {
		return e.event == domain.EventPlayerDisconnected
	})

	if unsub == -1 || leaveChat == -1 || gone == -1 {
		t.Fatalf("missing events: unsub=%d chat=%d disconnected=%d", unsub, leaveChat, gone)
	}
	// The departing connection must already be out of the group when
	// the room hears about it.
	if unsub > leaveChat || unsub > gone {
		t.Errorf("unsubscribe at %d ran after fan-out (chat=%d, disconnected=%d)", unsub, leaveChat, gone)
	}
}

// failingApplyStore simulates the store going away mid-operation
type failingApplyStore struct {
	*store.MemoryStore
	fail bool
}

func (s *failingApplyStore) Apply(b store.Batch) error {
	if s.fail {
		return errors.New("store offline")
	}
	return s.MemoryStore.Apply(b)
}

func TestDisconnect_PersistFailureStillUnsubscribes(t *testing.T) {
	st := &failingApplyStore{MemoryStore: store.NewMemoryStore()}
	em := newFakeEmitter()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewCoordinator(st, em, log, 0)

	key, _ := c.AllocateRoom()
	c.JoinRoom("c1", key, "Ann")
	c.JoinRoom("c2", key, "Bo")
	em.reset()

	st.fail = true
	if err := c.Disconnect("c1"); err != nil {
		t.Fatalf("Disconnect must recover store failures, got %v", err)
	}

	if _, ok := em.subs["c1"]; ok {
		t.Error("c1 still subscribed after disconnect despite store failure")
	}
	if em.firstIndex(func(e emitted) bool { return e.kind == "unsubscribe" && e.target == "c1" }) == -1 {
		t.Error("unsubscribe was skipped on persist failure")
	}
}

func TestJoin_NumPlayersAlwaysMatchesRoster(t *testing.T) {
	c, st, _ := newTestCoordinator(0)

	key, _ := c.AllocateRoom()
	conns := []string{"a", "b", "c", "d"}
	for i, id := range conns {
		if err := c.JoinRoom(id, key, "P"+id); err != nil {
			t.Fatal(err)
		}
		record := storedRoom(t, st, key)
		if record.NumPlayers != len(record.Players) || record.NumPlayers != i+1 {
			t.Fatalf("invariant broken after join %d: %+v", i+1, record)
		}
	}
	for i, id := range conns[:3] {
		if err := c.Disconnect(id); err != nil {
			t.Fatal(err)
		}
		record := storedRoom(t, st, key)
		if record.NumPlayers != len(record.Players) || record.NumPlayers != len(conns)-i-1 {
			t.Fatalf("invariant broken after disconnect %d: %+v", i+1, record)
		}
	}
}
