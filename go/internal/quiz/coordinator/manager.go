package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/triviarena/triviarena/go/internal/models"
	"github.com/triviarena/triviarena/go/internal/quiz/content"
	"github.com/triviarena/triviarena/go/internal/quiz/events"
	"github.com/triviarena/triviarena/go/internal/quiz/relay"
)

// Manager routes inbound events to per-room coordinators, creating rooms on
// first join and retiring them when empty and idle.
type Manager struct {
	rules    Rules
	clock    clockwork.Clock
	registry Registry
	content  content.Store
	relay    relay.Publisher

	mu    sync.RWMutex
	rooms map[models.RoomID]*Room

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a room manager. A nil clock defaults to the real clock.
func NewManager(rules Rules, clock clockwork.Clock, reg Registry, store content.Store, pub relay.Publisher) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		rules:    rules,
		clock:    clock,
		registry: reg,
		content:  store,
		relay:    pub,
		rooms:    make(map[models.RoomID]*Room),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// HandleInbound classifies and routes one client event. Only a join may
// create a room; everything else addressed at a missing room is rejected.
func (m *Manager) HandleInbound(participantID string, role models.Role, env events.Envelope) error {
	roomID := models.RoomID(env.RoomID)
	if roomID == "" {
		return ErrUnknownRoom
	}

	m.mu.RLock()
	room := m.rooms[roomID]
	m.mu.RUnlock()

	if room == nil {
		if env.Type != events.TypeJoin {
			return ErrUnknownRoom
		}
		room = m.createRoom(roomID)
	}
	return room.Submit(Inbound{ParticipantID: participantID, Role: role, Event: env})
}

// Snapshot returns a point-in-time host-grade view of one room.
func (m *Manager) Snapshot(ctx context.Context, roomID models.RoomID) (*StateSnapshot, error) {
	m.mu.RLock()
	room := m.rooms[roomID]
	m.mu.RUnlock()
	if room == nil {
		return nil, ErrUnknownRoom
	}
	return room.Snapshot(ctx)
}

// PublicSnapshot returns the spectator-grade view of one room.
func (m *Manager) PublicSnapshot(ctx context.Context, roomID models.RoomID) (*StateSnapshot, error) {
	snap, err := m.Snapshot(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return snap.forRole(models.RoleSpectator, ""), nil
}

// RoomSummary is a listing entry for the state endpoints.
type RoomSummary struct {
	RoomID    string    `json:"room_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ActiveRooms lists the live rooms.
func (m *Manager) ActiveRooms() []RoomSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RoomSummary, 0, len(m.rooms))
	for _, room := range m.rooms {
		out = append(out, RoomSummary{RoomID: string(room.id), CreatedAt: room.createdAt})
	}
	return out
}

// Close stops every room event loop.
func (m *Manager) Close() {
	m.cancel()
}

func (m *Manager) createRoom(id models.RoomID) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok := m.rooms[id]; ok {
		return room
	}
	room := newRoom(id, m.rules, m.clock, m.registry, m.content, m.relay, m.removeRoom)
	m.rooms[id] = room
	go room.run(m.ctx)
	log.Info().Str("room_id", string(id)).Int("rooms", len(m.rooms)).Msg("room created")
	return room
}

// removeRoom is called from a room's own loop when it retires.
func (m *Manager) removeRoom(id models.RoomID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, id)
	log.Info().Str("room_id", string(id)).Int("rooms", len(m.rooms)).Msg("room retired")
}
