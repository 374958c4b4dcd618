package domain

// Incoming event names. These are part of the wire contract and match
// the client verbatim.
const (
	EventGetRoomCode    = "getRoomCode"
	EventIsKeyValid     = "isKeyValid"
	EventJoinRoom       = "joinRoom"
	EventPlayerMovement = "playerMovement"
	EventChatMessage    = "chatMessage"
	EventFetchChatLog   = "fetchChatLog"
)

// Outgoing event names
const (
	EventRoomCreated        = "roomCreated"
	EventKeyIsValid         = "keyIsValid"
	EventKeyNotValid        = "keyNotValid"
	EventSetState           = "setState"
	EventCurrentPlayers     = "currentPlayers"
	EventNewPlayer          = "newPlayer"
	EventPlayerMoved        = "playerMoved"
	EventChatLog            = "chatLog"
	EventPlayerDisconnected = "playerDisconnected"
)

// JoinRoomPayload is the client request to enter a room
type JoinRoomPayload struct {
	RoomKey string `json:"roomKey"`
	Name    string `json:"name"`
}

// MovementPayload is a position update from a client
type MovementPayload struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	RoomKey string  `json:"roomKey"`
}

// ChatPayload is an incoming chat message. PlayerID is carried for
// protocol compatibility but the server trusts only the connection
// identity it assigned itself.
type ChatPayload struct {
	RoomKey  string  `json:"roomKey"`
	Message  string  `json:"message"`
	PlayerID string  `json:"playerId"`
	Color    *string `json:"color"`
}

// CurrentPlayersPayload is the roster unicast to a joining client
type CurrentPlayersPayload struct {
	Players    map[string]PlayerState `json:"players"`
	NumPlayers int                    `json:"numPlayers"`
}

// NewPlayerPayload announces a join to the rest of the room
type NewPlayerPayload struct {
	PlayerInfo PlayerState `json:"playerInfo"`
	NumPlayers int         `json:"numPlayers"`
}

// ChatBroadcastPayload is the chat message fanned out to a room.
// Type is "system" for server-authored announcements and empty for
// player chat. Color is echoed as given, null when absent.
type ChatBroadcastPayload struct {
	Type        string  `json:"type,omitempty"`
	DisplayName string  `json:"displayName"`
	Message     string  `json:"message"`
	Color       *string `json:"color"`
}

// System announcement styling, matching the client's expectations
const (
	SystemMessageType  = "system"
	SystemDisplayName  = "System"
	SystemMessageColor = "yellow"
)

// SystemChat builds a server-authored room announcement
func SystemChat(message string) ChatBroadcastPayload {
	color := SystemMessageColor
	return ChatBroadcastPayload{
		Type:        SystemMessageType,
		DisplayName: SystemDisplayName,
		Message:     message,
		Color:       &color,
	}
}

// PlayerDisconnectedPayload announces a departure to the remaining room
type PlayerDisconnectedPayload struct {
	PlayerID   string `json:"playerId"`
	NumPlayers int    `json:"numPlayers"`
}
