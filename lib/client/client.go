package client

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/niss337/securechat/lib/protocol"
	"github.com/niss337/securechat/lib/transport"
	"github.com/niss337/securechat/lib/util/logger"
	"github.com/niss337/securechat/lib/util/time/sntp"
	"github.com/samber/oops"
)

var (
	// ErrNoRoom is returned by Say when no room has been joined.
	ErrNoRoom error = UsageError("You must /join a room before sending room messages.")
	// ErrClosed is returned when sending on a closed client.
	ErrClosed = errors.New("client closed")
)

// DefaultBuffer is the number of received messages buffered before the
// read loop blocks.
const DefaultBuffer = 256

// Client is a connection to a chat server.
type Client struct {
	conn  net.Conn
	clock sntp.Clock
	msgs  chan protocol.Message

	writeMu sync.Mutex

	mu          sync.RWMutex
	username    string
	currentRoom string
	err         error

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to addr over TLS and returns a running client.
func Dial(ctx context.Context, addr string, config *tls.Config) (*Client, error) {
	conn, err := transport.Dial(ctx, addr, config)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// New wraps an established connection and starts reading from it.
func New(conn net.Conn) *Client {
	c := &Client{
		conn:  conn,
		clock: sntp.SystemClock{},
		msgs:  make(chan protocol.Message, DefaultBuffer),
		done:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer close(c.msgs)
	for {
		m, err := protocol.ReadMessage(c.conn)
		if err != nil {
			c.finish(err)
			return
		}
		select {
		case c.msgs <- m:
		case <-c.done:
			return
		}
	}
}

func (c *Client) finish(err error) {
	select {
	case <-c.done:
		// Closed locally; the read error is a consequence.
		return
	default:
	}
	if errors.Is(err, io.EOF) {
		log.WithField("at", "client.Client.readLoop").Debug("server_closed_connection")
		return
	}
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	log.WithField("at", "client.Client.readLoop").WithError(err).Warn("connection_lost")
}

// Messages delivers every message received from the server. It is closed
// when the connection ends.
func (c *Client) Messages() <-chan protocol.Message {
	return c.msgs
}

// Err returns the error that ended the connection, or nil if it ended
// cleanly or is still open.
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Username is the name last sent in a login request.
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// CurrentRoom is the room last joined.
func (c *Client) CurrentRoom() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentRoom
}

// Send writes m as one frame.
func (c *Client) Send(m protocol.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := protocol.WriteMessage(c.conn, m); err != nil {
		return oops.In("client").With("kind", m.Kind.String()).Wrapf(err, "send")
	}
	log.WithFields(logger.Fields{
		"at":      "client.Client.Send",
		"message": m.String(),
	}).Debug("message_sent")
	return nil
}

func (c *Client) now() int64 {
	return sntp.NowMillis(c.clock)
}

// Login requests username. The outcome arrives as a LOGIN_RESPONSE or
// ERROR_RESPONSE on Messages.
func (c *Client) Login(username string) error {
	c.mu.Lock()
	c.username = username
	c.mu.Unlock()
	return c.Send(protocol.NewMessage(protocol.KindLoginRequest, username, "", "", "", c.now()))
}

// Join requests membership of room and makes it the current room.
func (c *Client) Join(room string) error {
	c.mu.Lock()
	c.currentRoom = room
	username := c.username
	c.mu.Unlock()
	return c.Send(protocol.NewMessage(protocol.KindJoinRoomRequest, username, "", room, "", c.now()))
}

// Say sends text to room, or to the current room when room is empty.
func (c *Client) Say(room, text string) error {
	c.mu.RLock()
	if room == "" {
		room = c.currentRoom
	}
	username := c.username
	c.mu.RUnlock()
	if room == "" {
		return ErrNoRoom
	}
	return c.Send(protocol.NewMessage(protocol.KindTextMessage, username, "", room, text, c.now()))
}

// Whisper sends text privately to recipient.
func (c *Client) Whisper(recipient, text string) error {
	return c.Send(protocol.NewMessage(protocol.KindPrivateMessage, c.Username(), recipient, "", text, c.now()))
}

// Close closes the connection. Messages is closed once the read loop
// notices.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
