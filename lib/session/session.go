package session

import (
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/niss337/securechat/lib/protocol"
	"github.com/niss337/securechat/lib/util/logger"
	"github.com/samber/oops"
)

// SessionConfig holds per-session settings.
type SessionConfig struct {
	// WriteTimeout bounds a single frame write. Zero disables the deadline.
	WriteTimeout time.Duration
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		WriteTimeout: 10 * time.Second,
	}
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

type remoteAddresser interface {
	RemoteAddr() net.Addr
}

// Session is the server-side state of one client connection.
type Session struct {
	id        uuid.UUID
	conn      io.WriteCloser
	config    *SessionConfig
	createdAt time.Time
	remote    string

	writeMu sync.Mutex

	mu          sync.RWMutex
	username    string
	currentRoom string
	rooms       map[string]struct{}

	closed     atomic.Bool
	closeOnce  sync.Once
	closeErr   error
	framesSent atomic.Uint64
}

// NewSession wraps conn. A nil config uses DefaultSessionConfig.
func NewSession(conn io.WriteCloser, config *SessionConfig) *Session {
	if config == nil {
		config = DefaultSessionConfig()
	}
	s := &Session{
		id:        uuid.New(),
		conn:      conn,
		config:    config,
		createdAt: time.Now(),
		rooms:     make(map[string]struct{}),
	}
	if ra, ok := conn.(remoteAddresser); ok && ra.RemoteAddr() != nil {
		s.remote = ra.RemoteAddr().String()
	}
	return s
}

// ID returns the connection identity. It is unique for the life of the process.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// RemoteAddr returns the peer address, or "" if the connection has none.
func (s *Session) RemoteAddr() string {
	return s.remote
}

// CreatedAt returns when the session was created
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Username returns the bound username or "".
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// IsAuthenticated reports whether a username has been bound.
func (s *Session) IsAuthenticated() bool {
	return s.Username() != ""
}

// CurrentRoom returns the most recently joined room or "".
func (s *Session) CurrentRoom() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRoom
}

// Rooms returns the names of every room the session is in, sorted.
func (s *Session) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.rooms))
	for name := range s.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InRoom reports whether the session is a participant of room.
func (s *Session) InRoom(room string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[room]
	return ok
}

// JoinedRoom records membership of room and makes it the current room.
// It is called by the room registry while it holds the room's lock.
func (s *Session) JoinedRoom(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room] = struct{}{}
	s.currentRoom = room
}

// LeftRoom forgets membership of room, clearing the current room if it matches.
func (s *Session) LeftRoom(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, room)
	if s.currentRoom == room {
		s.currentRoom = ""
	}
}

// bindUsername sets the username once. Called with the registry lock held.
func (s *Session) bindUsername(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.username != "" {
		return oops.
			In("session").
			With("username", s.username).
			Wrapf(ErrAlreadyAuthenticated, "session already logged in as %s", s.username)
	}
	s.username = username
	return nil
}

// Send encodes m and writes it as a single frame.
func (s *Session) Send(m protocol.Message) error {
	frame, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return s.SendFrame(frame)
}

// SendFrame writes an already encoded frame. Writes are serialized so each
// frame reaches the wire whole. A failed write closes the session: its
// reader will then fail and the connection handler tears it down.
func (s *Session) SendFrame(frame []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.writeMu.Lock()
	err := s.writeLocked(frame)
	s.writeMu.Unlock()

	if err != nil {
		log.WithFields(logger.Fields{
			"at":         "session.Session.SendFrame",
			"session":    s.id.String(),
			"username":   s.Username(),
			"remoteAddr": s.remote,
			"frameSize":  len(frame),
		}).WithError(err).Debug("session_write_failed")
		s.Close()
		return err
	}
	s.framesSent.Add(1)
	return nil
}

func (s *Session) writeLocked(frame []byte) error {
	if s.config.WriteTimeout > 0 {
		if d, ok := s.conn.(writeDeadliner); ok {
			if err := d.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
				return oops.In("session").Wrapf(err, "set write deadline")
			}
			defer d.SetWriteDeadline(time.Time{})
		}
	}
	return protocol.WriteFrame(s.conn, frame)
}

// FramesSent returns how many frames have been written successfully.
func (s *Session) FramesSent() uint64 {
	return s.framesSent.Load()
}

// Close closes the underlying connection. Only the first call has an effect.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}
