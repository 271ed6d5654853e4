package room

import (
	"sort"
	"sync"
	"time"

	"github.com/niss337/securechat/lib/protocol"
	"github.com/niss337/securechat/lib/session"
	"github.com/niss337/securechat/lib/util/logger"
)

// Info is a point-in-time description of a room.
type Info struct {
	Name      string
	Members   int
	CreatedAt time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithPruneEmpty removes a room as soon as its last participant leaves.
// By default empty rooms stay resident for the life of the process.
func WithPruneEmpty(prune bool) Option {
	return func(r *Registry) {
		r.pruneEmpty = prune
	}
}

// Registry maps room names to rooms. Membership changes go through the
// registry so that creation and pruning never race with a join.
type Registry struct {
	mu         sync.RWMutex
	rooms      map[string]*Room
	pruneEmpty bool
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{rooms: make(map[string]*Room)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the room called name, creating it if needed.
// Concurrent calls for one name all receive the same room.
func (r *Registry) GetOrCreate(name string) (*Room, bool) {
	r.mu.RLock()
	room, ok := r.rooms[name]
	r.mu.RUnlock()
	if ok {
		return room, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(name)
}

func (r *Registry) getOrCreateLocked(name string) (*Room, bool) {
	if room, ok := r.rooms[name]; ok {
		return room, false
	}
	room := NewRoom(name)
	r.rooms[name] = room
	log.WithFields(logger.Fields{
		"at":   "room.Registry.getOrCreateLocked",
		"room": name,
	}).Debug("room_created")
	return room, true
}

// Get returns the room called name if it exists.
func (r *Registry) Get(name string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[name]
	return room, ok
}

// Join adds s to the room called name, creating it if needed, and makes it
// the session's current room. Joining twice is harmless.
func (r *Registry) Join(name string, s *session.Session) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, _ := r.getOrCreateLocked(name)
	room.Join(s)
	return room
}

// Leave removes s from the room called name. Unknown rooms and
// non-participants are ignored.
func (r *Registry) Leave(name string, s *session.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(name, s)
}

func (r *Registry) leaveLocked(name string, s *session.Session) bool {
	room, ok := r.rooms[name]
	if !ok {
		return false
	}
	left := room.Leave(s)
	if r.pruneEmpty && room.Size() == 0 {
		delete(r.rooms, name)
		log.WithFields(logger.Fields{
			"at":   "room.Registry.leaveLocked",
			"room": name,
		}).Debug("empty_room_pruned")
	}
	return left
}

// LeaveAll removes s from every room it is in and returns their names.
func (r *Registry) LeaveAll(s *session.Session) []string {
	names := s.Rooms()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		r.leaveLocked(name, s)
	}
	return names
}

// Broadcast delivers m to the participants of the room called name. A
// missing room is not an error and delivers nothing.
func (r *Registry) Broadcast(name string, m protocol.Message) (Delivery, error) {
	room, ok := r.Get(name)
	if !ok {
		return Delivery{}, nil
	}
	return room.Broadcast(m)
}

// Count returns the number of rooms.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Names returns every room name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot describes every room, sorted by name.
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	out := make([]Info, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, Info{Name: room.Name(), Members: room.Size(), CreatedAt: room.CreatedAt()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
