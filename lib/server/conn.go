package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/niss337/securechat/lib/events"
	"github.com/niss337/securechat/lib/protocol"
	"github.com/niss337/securechat/lib/router"
	"github.com/niss337/securechat/lib/session"
	"github.com/niss337/securechat/lib/transport"
	"github.com/niss337/securechat/lib/util/logger"
	"golang.org/x/time/rate"
)

// loginWait bounds how long a login from an unauthenticated session waits
// for a rate limiter token. Other frames over the limit are dropped.
const loginWait = 5 * time.Second

// connection is the handler state for one accepted connection.
type connection struct {
	server  *Server
	conn    net.Conn
	session *session.Session
	limiter *rate.Limiter
	opened  time.Time

	cleanupOnce sync.Once
}

// handleConnection processes a single client connection. The caller has
// already reserved a connection slot, which is released during cleanup.
func (s *Server) handleConnection(conn net.Conn) {
	c := &connection{
		server: s,
		conn:   conn,
		opened: time.Now(),
	}
	if s.config.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(s.config.RateLimit), s.config.RateBurst)
	}
	defer c.cleanup()
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logger.Fields{
				"at":         "server.Server.handleConnection",
				"remoteAddr": conn.RemoteAddr().String(),
				"panic":      r,
			}).Error("panic_in_connection_handler")
		}
	}()

	s.accepted.Add(1)
	s.metrics.ConnectionAccepted()

	if err := transport.Handshake(s.ctx, conn, s.config.HandshakeTimeout); err != nil {
		log.WithFields(logger.Fields{
			"at":         "server.Server.handleConnection",
			"remoteAddr": conn.RemoteAddr().String(),
		}).WithError(err).Debug("handshake_failed")
		s.metrics.FramingError("handshake")
		return
	}

	c.session = session.NewSession(conn, &session.SessionConfig{WriteTimeout: s.config.WriteTimeout})
	s.sessions.Add(c.session)
	s.metrics.SetPopulation(s.sessions.AuthenticatedCount(), s.rooms.Count())

	log.WithFields(logger.Fields{
		"at":             "server.Server.handleConnection",
		"session":        c.session.ID().String(),
		"remoteAddr":     conn.RemoteAddr().String(),
		"activeSessions": s.sessions.Count(),
	}).Info("client_connected")

	c.run()
}

// run reads frames until the peer closes the connection or the stream
// breaks.
func (c *connection) run() {
	for {
		if !c.processOneMessage() {
			return
		}
	}
}

// processOneMessage handles a single frame from the client.
// Returns false if the connection should be closed, true to continue.
func (c *connection) processOneMessage() bool {
	if err := c.extendReadDeadline(); err != nil {
		return false
	}

	body, err := protocol.ReadFrame(c.conn)
	if err != nil {
		c.logReadError(err)
		return false
	}
	msg, err := protocol.DecodeBody(body)
	if err != nil {
		c.logReadError(err)
		return false
	}

	if c.limiter != nil && !c.allow(msg) {
		log.WithFields(logger.Fields{
			"at":       "server.connection.processOneMessage",
			"session":  c.session.ID().String(),
			"username": c.session.Username(),
			"kind":     msg.Kind.String(),
		}).Debug("message_rate_limited")
		c.server.router.ReportError(c.session, router.ErrRateLimited)
		return !c.session.IsClosed()
	}

	// Protocol errors are answered by the router and do not end the loop.
	c.server.router.Handle(c.session, msg)
	return !c.session.IsClosed()
}

// allow reports whether msg fits the connection's rate limit. A login from a
// session that has not logged in yet waits up to loginWait for a token, so a
// burst of earlier frames cannot cost the client its login.
func (c *connection) allow(msg protocol.Message) bool {
	if c.limiter.Allow() {
		return true
	}
	if msg.Kind != protocol.KindLoginRequest || c.session.IsAuthenticated() {
		return false
	}
	ctx, cancel := context.WithTimeout(c.server.ctx, loginWait)
	defer cancel()
	return c.limiter.Wait(ctx) == nil
}

func (c *connection) extendReadDeadline() error {
	timeout := c.server.config.IdleTimeout
	if timeout <= 0 {
		return nil
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		log.WithFields(logger.Fields{
			"at":      "server.connection.extendReadDeadline",
			"session": c.session.ID().String(),
		}).WithError(err).Debug("set_read_deadline_failed")
		return err
	}
	return nil
}

// logReadError classifies why the read side ended.
func (c *connection) logReadError(err error) {
	fields := logger.Fields{
		"at":         "server.connection.logReadError",
		"session":    c.session.ID().String(),
		"username":   c.session.Username(),
		"remoteAddr": c.conn.RemoteAddr().String(),
	}

	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		log.WithFields(fields).Debug("client_closed_connection")
	case errors.Is(err, net.ErrClosed) || c.session.IsClosed():
		log.WithFields(fields).Debug("connection_closed_locally")
	case errors.As(err, &netErr) && netErr.Timeout():
		c.server.metrics.FramingError("idle_timeout")
		log.WithFields(fields).Debug("connection_idle_timeout")
	case protocol.IsFramingError(err):
		c.server.metrics.FramingError(framingReason(err))
		log.WithFields(fields).WithError(err).Warn("framing_error_closing_connection")
	default:
		c.server.metrics.FramingError("io")
		log.WithFields(fields).WithError(err).Debug("read_failed")
	}
}

func framingReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrInvalidLength):
		return "invalid_length"
	case errors.Is(err, protocol.ErrIncompleteHeader):
		return "incomplete_header"
	case errors.Is(err, protocol.ErrIncompleteBody):
		return "incomplete_body"
	default:
		return "malformed_body"
	}
}

// cleanup tears the connection down. It runs exactly once per connection,
// on every exit path.
func (c *connection) cleanup() {
	c.cleanupOnce.Do(func() {
		s := c.server
		defer s.limiter.Release()

		if c.session == nil {
			c.conn.Close()
			s.metrics.ConnectionClosed(time.Since(c.opened))
			return
		}

		username := c.session.Username()
		c.session.Close()
		s.sessions.Remove(c.session.ID())
		left := s.rooms.LeaveAll(c.session)

		if username != "" {
			if err := s.events.Publish(events.Event{
				Type:      events.TypeLogout,
				Username:  username,
				Timestamp: s.clock.Now().UnixMilli(),
			}); err != nil {
				log.WithField("at", "server.connection.cleanup").WithError(err).Warn("event_publish_failed")
			}
		}

		s.metrics.ConnectionClosed(time.Since(c.opened))
		s.metrics.SetPopulation(s.sessions.AuthenticatedCount(), s.rooms.Count())

		log.WithFields(logger.Fields{
			"at":         "server.connection.cleanup",
			"session":    c.session.ID().String(),
			"username":   username,
			"rooms":      left,
			"framesSent": c.session.FramesSent(),
			"duration":   time.Since(c.opened).String(),
		}).Info("client_disconnected")
	})
}
