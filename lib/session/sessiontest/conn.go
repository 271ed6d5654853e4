// Package sessiontest provides an in-memory connection for exercising
// sessions, rooms and the router without a network.
package sessiontest

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/niss337/securechat/lib/protocol"
)

// Conn records every frame written to it.
type Conn struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	writeErr error
	closed   bool
	addr     net.Addr
}

// NewConn returns an open Conn reporting addr as its remote address.
func NewConn(addr string) *Conn {
	return &Conn{addr: pipeAddr(addr)}
}

type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }

func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return c.buf.Write(p)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// RemoteAddr implements the address lookup sessions use for logging.
func (c *Conn) RemoteAddr() net.Addr {
	return c.addr
}

// FailWrites makes every later Write return err.
func (c *Conn) FailWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Messages decodes every frame written so far. It panics on a corrupt
// stream, which in a test means frames were interleaved.
func (c *Conn) Messages() []protocol.Message {
	c.mu.Lock()
	data := append([]byte(nil), c.buf.Bytes()...)
	c.mu.Unlock()

	r := bytes.NewReader(data)
	var out []protocol.Message
	for {
		m, err := protocol.ReadMessage(r)
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			panic(err)
		}
		out = append(out, m)
	}
}

// Last returns the most recent message, or false if none was written.
func (c *Conn) Last() (protocol.Message, bool) {
	msgs := c.Messages()
	if len(msgs) == 0 {
		return protocol.Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// Reset discards everything written so far.
func (c *Conn) Reset() {
	c.mu.Lock()
	c.buf.Reset()
	c.mu.Unlock()
}
