package domain

// Default spawn placement for a player entering a room
const (
	SpawnX        = 100.0
	SpawnY        = 50.0
	SpawnRotation = 0.0
)

// PlayerState is the per-connection state held inside a room record.
// PlayerID is the gateway-assigned connection identity, kept as a
// back-reference so broadcast payloads are self-describing.
type PlayerState struct {
	PlayerID string  `json:"playerId"`
	Name     string  `json:"name"`
	Rotation float64 `json:"rotation"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// NewPlayerState places a player at the spawn point
func NewPlayerState(connID, name string) PlayerState {
	return PlayerState{
		PlayerID: connID,
		Name:     name,
		Rotation: SpawnRotation,
		X:        SpawnX,
		Y:        SpawnY,
	}
}

// DisplayName resolves the name shown in chat, falling back to the
// connection id when the player joined without one
func (p PlayerState) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.PlayerID
}

// RoomRecord is the full room document persisted in the store under the
// room key. NumPlayers is derived and must always equal len(Players).
type RoomRecord struct {
	RoomKey    string                 `json:"roomKey"`
	Players    map[string]PlayerState `json:"players"`
	NumPlayers int                    `json:"numPlayers"`
}

// NewRoomRecord creates an empty room in the Created state
func NewRoomRecord(roomKey string) RoomRecord {
	return RoomRecord{
		RoomKey:    roomKey,
		Players:    make(map[string]PlayerState),
		NumPlayers: 0,
	}
}

// Validate rejects documents that don't hold the room invariants.
// Used on every store read so a corrupted or foreign record is skipped
// instead of crashing a handler.
func (r RoomRecord) Validate() error {
	if r.Players == nil {
		return ErrMalformedRecord
	}
	if r.NumPlayers != len(r.Players) {
		return ErrMalformedRecord
	}
	return nil
}

// ChatLogEntry is one element of a room's append-only chat history.
// Message holds the sanitized form; insertion order is authoritative.
type ChatLogEntry struct {
	PlayerID string `json:"playerId"`
	Message  string `json:"message"`
}
