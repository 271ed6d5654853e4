// Package events publishes a feed of chat activity for external consumers.
//
// Events describe who did what and where; message content is never
// included. Publishing is best effort: a failed publish is logged by the
// caller and never affects message routing.
package events

import (
	"sync"

	"github.com/niss337/securechat/lib/util/logger"
)

var log = logger.GetChatLogger()

// Type names an activity.
type Type string

const (
	TypeLogin          Type = "login"
	TypeLogout         Type = "logout"
	TypeJoin           Type = "join"
	TypeRoomMessage    Type = "room_message"
	TypePrivateMessage Type = "private_message"
)

// Event is one activity record.
type Event struct {
	Type      Type   `json:"type"`
	Username  string `json:"username,omitempty"`
	Room      string `json:"room,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Publisher delivers events somewhere.
type Publisher interface {
	Publish(e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) error { return nil }
func (Nop) Close() error        { return nil }

// Recorder keeps events in memory. It is useful for tests and for
// inspecting activity in-process.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the type of each recorded event, in order.
func (r *Recorder) Types() []Type {
	events := r.Events()
	out := make([]Type, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}
