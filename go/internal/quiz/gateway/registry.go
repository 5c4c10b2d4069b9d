package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/triviarena/triviarena/go/internal/models"
	"github.com/triviarena/triviarena/go/internal/quiz/events"
)

// ErrRoomFull means the room already holds the maximum number of connections.
var ErrRoomFull = errors.New("room connection limit reached")

// EventSink receives inbound events decoded by the gateway. The match
// coordinator's manager implements it.
type EventSink interface {
	HandleInbound(participantID string, role models.Role, env events.Envelope) error
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(participantID string, role models.Role, env events.Envelope) error

func (f EventSinkFunc) HandleInbound(participantID string, role models.Role, env events.Envelope) error {
	return f(participantID, role, env)
}

// ConnectionRegistry manages WebSocket connections for match rooms. Every
// connection is tagged with the participant identity and role fixed at
// upgrade time; inbound frames never override them.
type ConnectionRegistry struct {
	roomConnections map[models.RoomID]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	sink     EventSink

	broadcastCh chan broadcastMessage
}

// Connection represents one WebSocket connection to a client. Send is never
// closed; teardown is signaled through done, so a sender racing the close can
// only drop a frame, never hit a closed channel.
type Connection struct {
	ID            string
	ParticipantID string
	Role          models.Role
	RoomID        models.RoomID
	Conn          *websocket.Conn
	Send          chan []byte
	Registry      *ConnectionRegistry

	ConnectedAt time.Time
	LastPing    time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// signalClose marks the connection torn down. Idempotent.
func (c *Connection) signalClose() {
	c.closeOnce.Do(func() { close(c.done) })
}

// closed reports whether teardown has been signaled.
func (c *Connection) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout          time.Duration
	ReadTimeout           time.Duration
	PingInterval          time.Duration
	MaxMessageSize        int64
	ReadBufferSize        int
	WriteBufferSize       int
	MaxConnectionsPerRoom int
	CheckOrigin           func(r *http.Request) bool
}

type broadcastMessage struct {
	RoomID models.RoomID
	Data   []byte

	// Role narrows delivery to one role; ParticipantID to one participant.
	// At most one of the two is set.
	Role          models.Role
	ParticipantID string
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:          10 * time.Second,
		ReadTimeout:           60 * time.Second,
		PingInterval:          30 * time.Second,
		MaxMessageSize:        4096,
		ReadBufferSize:        1024,
		WriteBufferSize:       1024,
		MaxConnectionsPerRoom: 256,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionRegistry creates a new WebSocket connection registry.
func NewConnectionRegistry(config ConnectionConfig, sink EventSink) *ConnectionRegistry {
	return &ConnectionRegistry{
		roomConnections: make(map[models.RoomID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		sink:        sink,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// Start begins processing broadcast messages.
func (cr *ConnectionRegistry) Start(ctx context.Context) {
	log.Info().Msg("connection registry started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection registry shutting down")
			return
		case message := <-cr.broadcastCh:
			cr.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to a WebSocket connection and
// joins the participant into the room. Returns ErrRoomFull before upgrading
// when the room is at capacity.
func (cr *ConnectionRegistry) UpgradeConnection(w http.ResponseWriter, r *http.Request, roomID models.RoomID, participantID string, role models.Role) error {
	cr.mu.RLock()
	full := len(cr.roomConnections[roomID]) >= cr.config.MaxConnectionsPerRoom
	cr.mu.RUnlock()
	if full {
		return ErrRoomFull
	}

	conn, err := cr.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:            uuid.New().String(),
		ParticipantID: participantID,
		Role:          role,
		RoomID:        roomID,
		Conn:          conn,
		Send:          make(chan []byte, 256),
		done:          make(chan struct{}),
		Registry:      cr,
		ConnectedAt:   time.Now(),
		LastPing:      time.Now(),
	}

	cr.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	// The connection itself is the join: the coordinator registers the
	// participant as soon as the socket is up.
	cr.forwardEnvelope(connection, events.Envelope{Type: events.TypeJoin, RoomID: string(roomID)})

	log.Info().
		Str("connection_id", connection.ID).
		Str("participant_id", participantID).
		Str("role", string(role)).
		Str("room_id", string(roomID)).
		Msg("WebSocket connection established")

	return nil
}

func (cr *ConnectionRegistry) registerConnection(conn *Connection) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	if cr.roomConnections[conn.RoomID] == nil {
		cr.roomConnections[conn.RoomID] = make(map[*Connection]bool)
	}
	cr.roomConnections[conn.RoomID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_id", string(conn.RoomID)).
		Int("total_connections", len(cr.roomConnections[conn.RoomID])).
		Msg("connection registered")
}

// unregisterConnection removes a connection. When it was the participant's
// last connection in the room, a leave event is forwarded to the coordinator
// so a reconnecting tab does not bounce the participant out.
func (cr *ConnectionRegistry) unregisterConnection(conn *Connection) {
	cr.mu.Lock()
	connections, exists := cr.roomConnections[conn.RoomID]
	if !exists || !connections[conn] {
		cr.mu.Unlock()
		return
	}
	delete(connections, conn)
	conn.signalClose()
	if len(connections) == 0 {
		delete(cr.roomConnections, conn.RoomID)
	}

	last := true
	for other := range connections {
		if other.ParticipantID == conn.ParticipantID {
			last = false
			break
		}
	}
	cr.mu.Unlock()

	log.Info().
		Str("connection_id", conn.ID).
		Str("participant_id", conn.ParticipantID).
		Str("room_id", string(conn.RoomID)).
		Bool("last_connection", last).
		Msg("connection unregistered")

	if last {
		cr.forwardEnvelope(conn, events.Envelope{Type: events.TypeLeave, RoomID: string(conn.RoomID)})
	}
}

// BroadcastAll sends data to every connection in the room.
func (cr *ConnectionRegistry) BroadcastAll(room models.RoomID, data []byte) {
	cr.enqueue(broadcastMessage{RoomID: room, Data: data})
}

// BroadcastRole sends data to every connection in the room holding the role.
func (cr *ConnectionRegistry) BroadcastRole(room models.RoomID, role models.Role, data []byte) {
	cr.enqueue(broadcastMessage{RoomID: room, Role: role, Data: data})
}

// SendTo sends data to every connection of one participant in the room.
func (cr *ConnectionRegistry) SendTo(room models.RoomID, participantID string, data []byte) {
	cr.enqueue(broadcastMessage{RoomID: room, ParticipantID: participantID, Data: data})
}

func (cr *ConnectionRegistry) enqueue(message broadcastMessage) {
	select {
	case cr.broadcastCh <- message:
	default:
		log.Warn().Str("room_id", string(message.RoomID)).Msg("broadcast channel full, dropping message")
	}
}

// handleBroadcast fans one message out to its target connections.
func (cr *ConnectionRegistry) handleBroadcast(message broadcastMessage) {
	cr.mu.RLock()
	connections, exists := cr.roomConnections[message.RoomID]
	if !exists {
		cr.mu.RUnlock()
		return
	}

	// Snapshot the recipients so the lock is not held during sends.
	var targets []*Connection
	for conn := range connections {
		if message.Role != "" && conn.Role != message.Role {
			continue
		}
		if message.ParticipantID != "" && conn.ParticipantID != message.ParticipantID {
			continue
		}
		targets = append(targets, conn)
	}
	cr.mu.RUnlock()

	for _, conn := range targets {
		if conn.closed() {
			continue
		}
		select {
		case conn.Send <- message.Data:
		default:
			// Connection is slow/dead, close it
			log.Warn().
				Str("connection_id", conn.ID).
				Str("participant_id", conn.ParticipantID).
				Msg("connection send buffer full, closing connection")
			cr.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}
}

// forwardEnvelope hands one inbound event to the coordinator with the
// connection's authenticated identity attached, reporting rejections back on
// the originating connection.
func (cr *ConnectionRegistry) forwardEnvelope(conn *Connection, env events.Envelope) {
	env.RoomID = string(conn.RoomID)
	if err := cr.sink.HandleInbound(conn.ParticipantID, conn.Role, env); err != nil {
		log.Debug().
			Err(err).
			Str("participant_id", conn.ParticipantID).
			Str("event_type", string(env.Type)).
			Msg("inbound event rejected")
		conn.sendError(env.Type, "rejected", err.Error())
	}
}

// sendError writes an error frame directly to this connection.
func (c *Connection) sendError(event events.Type, code, reason string) {
	payload, err := json.Marshal(events.ErrorPayload{Event: event, Code: code, Reason: reason})
	if err != nil {
		return
	}
	frame, err := json.Marshal(events.OutboundEvent{
		ID:        uuid.New().String(),
		RoomID:    string(c.RoomID),
		Type:      events.OutError,
		Timestamp: time.Now(),
		Data:      payload,
	})
	if err != nil {
		return
	}
	if c.closed() {
		return
	}
	select {
	case c.Send <- frame:
	default:
	}
}

// GetConnectionStats returns statistics about active connections.
func (cr *ConnectionRegistry) GetConnectionStats() map[string]interface{} {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	totalConnections := 0
	roomCounts := make(map[string]int)

	for roomID, connections := range cr.roomConnections {
		count := len(connections)
		totalConnections += count
		roomCounts[string(roomID)] = count
	}

	return map[string]interface{}{
		"total_connections": totalConnections,
		"active_rooms":      len(cr.roomConnections),
		"room_connections":  roomCounts,
	}
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Registry.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Registry.unregisterConnection(c)
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Registry.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Registry.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Registry.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump reads client frames, decodes them as event envelopes and forwards
// them to the coordinator.
func (c *Connection) readPump() {
	defer func() {
		c.Registry.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Registry.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Registry.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Registry.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Registry.config.ReadTimeout))
	}
}

// handleClientMessage decodes one client frame. Join and leave are owned by
// the connection lifecycle and are not accepted from the wire.
func (c *Connection) handleClientMessage(message []byte) {
	var env events.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Msg("discarding malformed client frame")
		c.sendError("", "malformed", "frame is not a valid event envelope")
		return
	}
	if env.Type == events.TypeJoin || env.Type == events.TypeLeave {
		c.sendError(env.Type, "rejected", "join and leave are managed by the connection")
		return
	}
	c.Registry.forwardEnvelope(c, env)
}
