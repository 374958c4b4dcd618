package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/TygroTheProgrammer/Hububble/internal/config"
	"github.com/TygroTheProgrammer/Hububble/internal/delivery/ws"
)

// RoomService is the ask/answer surface the HTTP API needs from the
// room engine; the event-driven operations flow through the websocket.
type RoomService interface {
	AllocateRoom() (string, error)
	RoomExists(roomKey string) (bool, error)
}

type Handler struct {
	gateway  *ws.Gateway
	rooms    RoomService
	coord    ws.Coordinator
	cfg      *config.Config
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(gateway *ws.Gateway, rooms RoomService, coord ws.Coordinator, cfg *config.Config, log *slog.Logger) *Handler {
	return &Handler{
		gateway: gateway,
		rooms:   rooms,
		coord:   coord,
		cfg:     cfg,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return isOriginAllowed(r.Header.Get("Origin"), cfg.AllowedOrigins)
			},
		},
	}
}

// isOriginAllowed checks if the origin is in the allowed list.
// Empty origin is allowed (same-origin requests).
func isOriginAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || origin == a {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades the connection, assigns it an opaque
// identity and starts its pumps.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	connID := uuid.New().String()
	client := ws.NewClient(connID, conn, h.gateway, h.coord, h.log, h.cfg.MaxMessageSize)
	h.gateway.Register(client)

	h.log.Info("connection accepted", "connId", connID)

	go client.WritePump()
	go client.ReadPump()
}

// HandleCreateRoom allocates a room over plain HTTP and returns its key
func (h *Handler) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key, err := h.rooms.AllocateRoom()
	if err != nil {
		h.log.Error("room allocation failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"roomKey": key})
}

// HandleValidateRoom reports whether a room key resolves to a room
func (h *Handler) HandleValidateRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RoomKey string `json:"roomKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	exists, err := h.rooms.RoomExists(req.RoomKey)
	if err != nil {
		h.log.Error("room lookup failed", "roomKey", req.RoomKey, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"valid": exists})
}

// HandleHealth is a liveness probe with a couple of gauge values
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": h.gateway.ClientCount(),
		"rooms":       h.gateway.RoomCount(),
	})
}
