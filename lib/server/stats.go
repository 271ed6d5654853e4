package server

import "time"

// Stats is a point-in-time summary of the server.
type Stats struct {
	Running             bool
	StartedAt           time.Time
	Uptime              time.Duration
	ActiveConnections   int
	Sessions            int
	AuthenticatedUsers  int
	Rooms               int
	ConnectionsAccepted uint64
	ConnectionsRejected uint64
}

// Stats returns current counters.
func (s *Server) Stats() Stats {
	s.mu.RLock()
	running, startedAt := s.running, s.startedAt
	s.mu.RUnlock()

	st := Stats{
		Running:             running,
		StartedAt:           startedAt,
		ActiveConnections:   s.limiter.Active(),
		Sessions:            s.sessions.Count(),
		AuthenticatedUsers:  s.sessions.AuthenticatedCount(),
		Rooms:               s.rooms.Count(),
		ConnectionsAccepted: s.accepted.Load(),
		ConnectionsRejected: s.rejected.Load(),
	}
	if !startedAt.IsZero() {
		st.Uptime = time.Since(startedAt)
	}
	return st
}
