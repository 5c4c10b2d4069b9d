// Package gateway is the WebSocket edge of the match coordinator: it owns the
// per-room connection registry, decodes inbound client frames and fans
// coordinator broadcasts back out. Identity and role are fixed at upgrade
// time and attached to every forwarded event.
package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Service ties the connection registry, the WebSocket handler and the room
// state endpoints together.
type Service struct {
	registry     *ConnectionRegistry
	wsHandler    *WebSocketHandler
	stateHandler *StateHandler
}

// NewService wires handlers around an existing connection registry. The
// registry is created by the caller because the coordinator broadcasting
// through it is also the registry's event sink.
func NewService(registry *ConnectionRegistry, provider StateProvider) *Service {
	return &Service{
		registry:     registry,
		wsHandler:    NewWebSocketHandler(registry),
		stateHandler: NewStateHandler(provider),
	}
}

// Start begins the gateway service and blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting gateway service")

	go s.registry.Start(ctx)

	<-ctx.Done()

	log.Info().Msg("gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket and state HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("gateway routes registered")
}

// GetStats returns statistics about the gateway service.
func (s *Service) GetStats() map[string]interface{} {
	stats := s.registry.GetConnectionStats()
	stats["service"] = "quiz_gateway"
	stats["status"] = "running"
	return stats
}
