package server

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/niss337/securechat/lib/events"
	"github.com/niss337/securechat/lib/protocol"
	"github.com/niss337/securechat/lib/router"
	"github.com/niss337/securechat/lib/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

// testClient speaks the wire protocol over conn and collects every
// message the server sends.
type testClient struct {
	t    *testing.T
	conn net.Conn
	msgs chan protocol.Message
}

func newTestClient(t *testing.T, conn net.Conn) *testClient {
	t.Helper()
	c := &testClient{t: t, conn: conn, msgs: make(chan protocol.Message, 64)}
	go func() {
		defer close(c.msgs)
		for {
			m, err := protocol.ReadMessage(conn)
			if err != nil {
				return
			}
			c.msgs <- m
		}
	}()
	t.Cleanup(func() { conn.Close() })
	return c
}

// pipeClient serves one end of an in-memory pipe and returns a client on
// the other. The returned channel closes when the handler has returned.
func pipeClient(t *testing.T, srv *Server) (*testClient, <-chan struct{}) {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.ServeConn(serverEnd)
	}()
	return newTestClient(t, clientEnd), done
}

func (c *testClient) send(m protocol.Message) {
	c.t.Helper()
	require.NoError(c.t, protocol.WriteMessage(c.conn, m))
}

func (c *testClient) expect() protocol.Message {
	c.t.Helper()
	select {
	case m, ok := <-c.msgs:
		require.True(c.t, ok, "connection closed while waiting for a message")
		return m
	case <-time.After(waitFor):
		c.t.Fatal("timed out waiting for a message")
		return protocol.Message{}
	}
}

func (c *testClient) expectNothing() {
	c.t.Helper()
	select {
	case m, ok := <-c.msgs:
		if ok {
			c.t.Fatalf("unexpected message %s", m)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case _, ok := <-c.msgs:
			if !ok {
				return
			}
		case <-deadline:
			c.t.Fatal("connection was not closed")
		}
	}
}

func (c *testClient) login(username string) {
	c.t.Helper()
	c.send(protocol.NewMessage(protocol.KindLoginRequest, username, "", "", "", 1))
	m := c.expect()
	require.Equal(c.t, protocol.KindLoginResponse, m.Kind, m.Content)
	require.Equal(c.t, router.LoginOK, m.Content)
}

func (c *testClient) join(roomID string) {
	c.t.Helper()
	c.send(protocol.NewMessage(protocol.KindJoinRoomRequest, "", "", roomID, "", 1))
}

func newTestServer(t *testing.T, mutate func(*ServerConfig), opts ...Option) *Server {
	t.Helper()
	cfg := DefaultServerConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	if mutate != nil {
		mutate(cfg)
	}
	srv, err := NewServer(cfg, opts...)
	require.NoError(t, err)
	return srv
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	assert.Eventually(t, cond, waitFor, 5*time.Millisecond)
}

func TestEndToEndOverTLS(t *testing.T) {
	cert, err := transport.GenerateSelfSigned()
	require.NoError(t, err)
	srv := newTestServer(t, func(c *ServerConfig) { c.TLS = transport.ServerTLS(cert) })
	require.NoError(t, srv.Start())
	defer srv.Stop()

	clientCfg, err := transport.TrustCertificate(cert, "localhost")
	require.NoError(t, err)
	dial := func() *testClient {
		conn, err := transport.Dial(context.Background(), srv.Addr().String(), clientCfg)
		require.NoError(t, err)
		return newTestClient(t, conn)
	}

	alice := dial()
	alice.login("alice")
	alice.join("room1")
	assert.Equal(t, "alice joined the room.", alice.expect().Content)

	bob := dial()
	bob.login("bob")
	bob.join("room1")
	assert.Equal(t, "bob joined the room.", alice.expect().Content)
	assert.Equal(t, "bob joined the room.", bob.expect().Content)

	alice.send(protocol.NewMessage(protocol.KindTextMessage, "alice", "", "room1", "hi", time.Now().UnixMilli()))
	for _, c := range []*testClient{alice, bob} {
		m := c.expect()
		assert.Equal(t, protocol.KindTextMessage, m.Kind)
		assert.Equal(t, "alice", m.Sender)
		assert.Equal(t, "room1", m.RoomID)
		assert.Equal(t, "hi", m.Content)
	}

	bob.send(protocol.NewMessage(protocol.KindPrivateMessage, "bob", "alice", "", "yo", time.Now().UnixMilli()))
	pm := alice.expect()
	assert.Equal(t, protocol.KindPrivateMessage, pm.Kind)
	assert.Equal(t, "bob", pm.Sender)
	assert.Equal(t, "alice", pm.Recipient)
	assert.Equal(t, "yo", pm.Content)
	bob.expectNothing()
}

func TestProtocolErrorKeepsConnectionOpen(t *testing.T) {
	srv := newTestServer(t, nil)
	c, _ := pipeClient(t, srv)

	c.join("lobby")
	m := c.expect()
	assert.Equal(t, protocol.KindErrorResponse, m.Kind)
	assert.Equal(t, "Must login before joining a room", m.Content)

	c.login("alice")
	c.send(protocol.NewMessage(protocol.KindLoginResponse, "", "", "", "", 1))
	assert.Equal(t, "Unsupported message type: LOGIN_RESPONSE", c.expect().Content)

	c.join("lobby")
	assert.Equal(t, "alice joined the room.", c.expect().Content)
}

func TestOrderlyCloseRunsCleanup(t *testing.T) {
	recorder := &events.Recorder{}
	srv := newTestServer(t, nil, WithEvents(recorder))
	alice, done := pipeClient(t, srv)
	alice.login("alice")
	alice.join("room1")
	alice.expect()

	alice.conn.Close()
	<-done

	_, ok := srv.Sessions().Lookup("alice")
	assert.False(t, ok)
	room1, ok := srv.Rooms().Get("room1")
	require.True(t, ok)
	assert.Zero(t, room1.Size())
	assert.Zero(t, srv.Sessions().Count())
	assert.Zero(t, srv.Stats().ActiveConnections)
	assert.Equal(t, []events.Type{events.TypeLogin, events.TypeJoin, events.TypeLogout}, recorder.Types())

	again, _ := pipeClient(t, srv)
	again.login("alice")
}

func TestFramingErrorsCloseConnection(t *testing.T) {
	tests := []struct {
		name  string
		bytes []byte
	}{
		{"negative length", []byte{0xff, 0xff, 0xff, 0xff}},
		{"length over cap", binary.BigEndian.AppendUint32(nil, protocol.MaxBodySize+1)},
		{"partial header", []byte{0, 0, 1}},
		{"partial body", append(binary.BigEndian.AppendUint32(nil, 10), []byte("abc")...)},
		{"malformed body", append(binary.BigEndian.AppendUint32(nil, 3), []byte("abc")...)},
		{"unknown type", append(binary.BigEndian.AppendUint32(nil, 15), []byte(`{"type":"NOPE"}`)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, nil)
			c, done := pipeClient(t, srv)
			c.login("mallory")

			go func() {
				c.conn.Write(tt.bytes)
				if tt.name == "partial header" || tt.name == "partial body" {
					// Half-close is not available on a pipe; a full close
					// ends the stream mid-frame.
					c.conn.Close()
				}
			}()

			select {
			case <-done:
			case <-time.After(waitFor):
				t.Fatal("handler did not exit")
			}
			_, ok := srv.Sessions().Lookup("mallory")
			assert.False(t, ok)
		})
	}
}

func TestConcurrentLoginOneWinner(t *testing.T) {
	srv := newTestServer(t, nil)
	const n = 8
	clients := make([]*testClient, n)
	for i := range clients {
		clients[i], _ = pipeClient(t, srv)
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *testClient) {
			defer wg.Done()
			protocol.WriteMessage(c.conn, protocol.NewMessage(protocol.KindLoginRequest, "bob", "", "", "", 1))
		}(c)
	}
	wg.Wait()

	var ok, taken int
	for _, c := range clients {
		m := c.expect()
		switch m.Kind {
		case protocol.KindLoginResponse:
			ok++
		case protocol.KindErrorResponse:
			assert.Equal(t, "Username already in use: bob", m.Content)
			taken++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, taken)
}

func TestRoomFanOut(t *testing.T) {
	srv := newTestServer(t, nil)
	const n = 5
	clients := make([]*testClient, n)
	for i := range clients {
		clients[i], _ = pipeClient(t, srv)
		clients[i].login(string(rune('a' + i)))
		clients[i].join("room1")
	}
	// Drain the join announcements: client i sees n-i of them.
	for i, c := range clients {
		for j := i; j < n; j++ {
			c.expect()
		}
	}
	outsider, _ := pipeClient(t, srv)
	outsider.login("z")

	clients[2].send(protocol.NewMessage(protocol.KindTextMessage, "c", "", "room1", "to everyone", 1))
	for _, c := range clients {
		m := c.expect()
		assert.Equal(t, "to everyone", m.Content)
		assert.Equal(t, "c", m.Sender)
	}
	outsider.expectNothing()
}

func TestRateLimitDropsMessages(t *testing.T) {
	srv := newTestServer(t, func(c *ServerConfig) {
		c.RateLimit = 0.001
		c.RateBurst = 2
	})
	c, _ := pipeClient(t, srv)
	c.login("alice")
	c.join("lobby")
	c.expect()

	c.send(protocol.NewMessage(protocol.KindTextMessage, "alice", "", "lobby", "dropped", 1))
	m := c.expect()
	assert.Equal(t, protocol.KindErrorResponse, m.Kind)
	assert.Equal(t, router.ErrRateLimited.Reason, m.Content)

	_, ok := srv.Sessions().Lookup("alice")
	assert.True(t, ok)
}

func TestRateLimitDelaysLoginInsteadOfDropping(t *testing.T) {
	srv := newTestServer(t, func(c *ServerConfig) {
		c.RateLimit = 2
		c.RateBurst = 1
	})
	c, _ := pipeClient(t, srv)

	c.send(protocol.NewMessage(protocol.KindTextMessage, "", "", "lobby", "first", 1))
	m := c.expect()
	assert.Equal(t, "Must login before sending messages", m.Content)

	c.send(protocol.NewMessage(protocol.KindTextMessage, "", "", "lobby", "second", 1))
	m = c.expect()
	assert.Equal(t, router.ErrRateLimited.Reason, m.Content)

	c.login("alice")
	_, ok := srv.Sessions().Lookup("alice")
	assert.True(t, ok)

	c.send(protocol.NewMessage(protocol.KindLoginRequest, "alice2", "", "", "", 1))
	m = c.expect()
	assert.Equal(t, router.ErrRateLimited.Reason, m.Content, "only the first login may wait")
}

func TestIdleTimeoutClosesConnection(t *testing.T) {
	srv := newTestServer(t, func(c *ServerConfig) { c.IdleTimeout = 50 * time.Millisecond })
	c, done := pipeClient(t, srv)
	c.login("sleepy")

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("idle connection was not closed")
	}
	c.expectClosed()
	_, ok := srv.Sessions().Lookup("sleepy")
	assert.False(t, ok)
}

func TestMaxSessionsRejects(t *testing.T) {
	srv := newTestServer(t, func(c *ServerConfig) { c.MaxSessions = 1 })
	first, _ := pipeClient(t, srv)
	first.login("first")

	second, done := pipeClient(t, srv)
	<-done
	second.expectClosed()
	assert.Equal(t, uint64(1), srv.Stats().ConnectionsRejected)
}

func TestStopOnlyStopsAccepting(t *testing.T) {
	srv := newTestServer(t, nil)
	require.NoError(t, srv.Start())
	addr := srv.Addr().String()
	assert.ErrorIs(t, srv.Start(), ErrAlreadyRunning)

	conn, err := transport.Dial(context.Background(), addr, nil)
	require.NoError(t, err)
	c := newTestClient(t, conn)
	c.login("alice")

	require.NoError(t, srv.Stop())
	assert.False(t, srv.IsRunning())
	require.NoError(t, srv.Stop())

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)

	c.join("lobby")
	assert.Equal(t, "alice joined the room.", c.expect().Content)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, srv.CloseSessions(ctx))
	c.expectClosed()
	assert.Zero(t, srv.Sessions().Count())
}

func TestHandshakeFailureReleasesSlot(t *testing.T) {
	cert, err := transport.GenerateSelfSigned()
	require.NoError(t, err)
	srv := newTestServer(t, func(c *ServerConfig) {
		c.TLS = transport.ServerTLS(cert)
		c.HandshakeTimeout = 100 * time.Millisecond
	})
	require.NoError(t, srv.Start())
	defer srv.Stop()

	raw, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer raw.Close()

	waitUntil(t, func() bool { return srv.Stats().ConnectionsAccepted == 1 })
	waitUntil(t, func() bool { return srv.Stats().ActiveConnections == 0 })
	assert.Zero(t, srv.Sessions().Count())

	conn, err := transport.Dial(context.Background(), srv.Addr().String(), &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	newTestClient(t, conn).login("after")
}

func TestNewServerValidatesRateLimit(t *testing.T) {
	_, err := NewServer(&ServerConfig{RateLimit: -1})
	assert.Error(t, err)
	_, err = NewServer(&ServerConfig{RateLimit: 5, RateBurst: 0})
	assert.Error(t, err)

	srv, err := NewServer(nil)
	require.NoError(t, err)
	assert.Nil(t, srv.Addr())
	assert.False(t, srv.Stats().Running)
}
