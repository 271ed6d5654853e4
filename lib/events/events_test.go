package events

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakeNATS struct {
	mu      sync.Mutex
	msgs    []published
	err     error
	drained bool
}

func (f *fakeNATS) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return nil
}

func (f *fakeNATS) Drain() error {
	f.mu.Lock()
	f.drained = true
	f.mu.Unlock()
	return nil
}

func TestNATSPublisherSubjectsAndPayload(t *testing.T) {
	conn := &fakeNATS{}
	p := newNATSPublisher(conn, "")

	require.NoError(t, p.Publish(Event{Type: TypeJoin, Username: "alice", Room: "lobby", Timestamp: 10}))
	require.NoError(t, p.Publish(Event{Type: TypeLogout, Username: "alice", Timestamp: 11}))

	require.Len(t, conn.msgs, 2)
	assert.Equal(t, "securechat.events.join", conn.msgs[0].subject)
	assert.Equal(t, "securechat.events.logout", conn.msgs[1].subject)

	var got Event
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &got))
	assert.Equal(t, Event{Type: TypeJoin, Username: "alice", Room: "lobby", Timestamp: 10}, got)
	assert.NotContains(t, string(conn.msgs[1].data), "room")

	require.NoError(t, p.Close())
	assert.True(t, conn.drained)
}

func TestNATSPublisherCustomPrefix(t *testing.T) {
	p := newNATSPublisher(&fakeNATS{}, "chat.prod")
	assert.Equal(t, "chat.prod.login", p.Subject(TypeLogin))
}

func TestNATSPublisherError(t *testing.T) {
	boom := errors.New("nats: connection closed")
	p := newNATSPublisher(&fakeNATS{err: boom}, "")
	assert.ErrorIs(t, p.Publish(Event{Type: TypeLogin}), boom)
}

func TestRecorderAndNop(t *testing.T) {
	var r Recorder
	require.NoError(t, r.Publish(Event{Type: TypeLogin, Username: "a"}))
	require.NoError(t, r.Publish(Event{Type: TypeJoin, Username: "a", Room: "r"}))
	assert.Equal(t, []Type{TypeLogin, TypeJoin}, r.Types())
	assert.NoError(t, r.Close())

	var n Nop
	assert.NoError(t, n.Publish(Event{}))
	assert.NoError(t, n.Close())
}
