package ws

import (
	"github.com/aretw0/introspection"
)

// ServerState exposes internal state for observability.
type ServerState struct {
	Rooms    int `json:"rooms"`
	Sessions int `json:"sessions"`
}

// State implements introspection.Introspectable.
func (s *Server) State() any {
	rooms, sessions := s.hub.stats()
	return ServerState{Rooms: rooms, Sessions: sessions}
}

// ComponentType implements introspection.Component.
func (s *Server) ComponentType() string {
	return "ws-transport"
}

var _ introspection.Introspectable = (*Server)(nil)
var _ introspection.Component = (*Server)(nil)
