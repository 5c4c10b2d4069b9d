package gateway

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/triviarena/triviarena/go/internal/models"
)

// WebSocketHandler handles WebSocket upgrade requests for room connections.
type WebSocketHandler struct {
	registry *ConnectionRegistry
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(registry *ConnectionRegistry) *WebSocketHandler {
	return &WebSocketHandler{registry: registry}
}

// HandleRoomConnection handles WebSocket connections for a specific room.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}

	// In production the participant identity would come from a JWT or
	// session; query parameters keep local development simple.
	participantID := r.URL.Query().Get("participant_id")
	if participantID == "" {
		http.Error(w, "participant_id is required", http.StatusBadRequest)
		return
	}

	role, err := models.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		http.Error(w, "role must be host, contestant or spectator", http.StatusBadRequest)
		return
	}

	err = h.registry.UpgradeConnection(w, r, models.RoomID(roomID), participantID, role)
	if errors.Is(err, ErrRoomFull) {
		http.Error(w, "room is full", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		log.Error().
			Err(err).
			Str("room_id", roomID).
			Str("participant_id", participantID).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

// HandleConnectionStats returns statistics about active connections.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	stats := h.registry.GetConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	w.Write([]byte("{"))
	w.Write([]byte("\"total_connections\":" + strconv.Itoa(stats["total_connections"].(int)) + ","))
	w.Write([]byte("\"active_rooms\":" + strconv.Itoa(stats["active_rooms"].(int))))
	w.Write([]byte("}"))
}

// RegisterRoutes registers WebSocket routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/room", h.HandleRoomConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
