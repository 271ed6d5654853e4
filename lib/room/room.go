package room

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/niss337/securechat/lib/protocol"
	"github.com/niss337/securechat/lib/session"
	"github.com/niss337/securechat/lib/util/logger"
)

// Delivery summarises one fan-out.
type Delivery struct {
	Attempted int
	Delivered int
}

// Failed returns the number of recipients whose write failed.
func (d Delivery) Failed() int {
	return d.Attempted - d.Delivered
}

// Room is a named set of participating sessions.
type Room struct {
	name      string
	createdAt time.Time

	mu      sync.RWMutex
	members map[uuid.UUID]*session.Session
}

// NewRoom returns an empty room.
func NewRoom(name string) *Room {
	return &Room{
		name:      name,
		createdAt: time.Now(),
		members:   make(map[uuid.UUID]*session.Session),
	}
}

func (r *Room) Name() string {
	return r.name
}

func (r *Room) CreatedAt() time.Time {
	return r.createdAt
}

// Join adds s and records the membership on the session. It returns false
// if s was already a participant.
func (r *Room) Join(s *session.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, present := r.members[s.ID()]
	r.members[s.ID()] = s
	s.JoinedRoom(r.name)
	return !present
}

// Leave removes s. It returns false if s was not a participant.
func (r *Room) Leave(s *session.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, present := r.members[s.ID()]; !present {
		return false
	}
	delete(r.members, s.ID())
	s.LeftRoom(r.name)
	return true
}

// Has reports whether s is a participant.
func (r *Room) Has(s *session.Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[s.ID()]
	return ok
}

// Size returns the number of participants.
func (r *Room) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Participants returns a snapshot of the participant set.
func (r *Room) Participants() []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*session.Session, 0, len(r.members))
	for _, s := range r.members {
		out = append(out, s)
	}
	return out
}

// Usernames returns the sorted usernames of the participants.
func (r *Room) Usernames() []string {
	participants := r.Participants()
	names := make([]string, 0, len(participants))
	for _, s := range participants {
		names = append(names, s.Username())
	}
	sort.Strings(names)
	return names
}

// Broadcast encodes m once and delivers it to every current participant.
func (r *Room) Broadcast(m protocol.Message) (Delivery, error) {
	frame, err := protocol.Encode(m)
	if err != nil {
		return Delivery{}, err
	}
	return r.BroadcastFrame(frame), nil
}

// BroadcastFrame writes frame to a snapshot of the participants taken
// without holding the room lock during I/O. A failed write affects only
// that recipient; delivery to the rest continues.
func (r *Room) BroadcastFrame(frame []byte) Delivery {
	participants := r.Participants()
	d := Delivery{Attempted: len(participants)}
	for _, s := range participants {
		if err := s.SendFrame(frame); err != nil {
			log.WithFields(logger.Fields{
				"at":       "room.Room.BroadcastFrame",
				"room":     r.name,
				"username": s.Username(),
			}).WithError(err).Debug("broadcast_recipient_failed")
			continue
		}
		d.Delivered++
	}
	return d
}
