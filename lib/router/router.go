package router

import (
	"errors"

	"github.com/niss337/securechat/lib/events"
	"github.com/niss337/securechat/lib/metrics"
	"github.com/niss337/securechat/lib/protocol"
	"github.com/niss337/securechat/lib/room"
	"github.com/niss337/securechat/lib/session"
	"github.com/niss337/securechat/lib/util/logger"
	"github.com/niss337/securechat/lib/util/time/sntp"
)

// LoginOK is the content of a successful LOGIN_RESPONSE.
const LoginOK = "LOGIN_OK"

// Router dispatches messages against the shared registries. It holds no
// per-connection state and is safe for concurrent use.
type Router struct {
	sessions *session.Registry
	rooms    *room.Registry
	clock    sntp.Clock
	metrics  *metrics.Collector
	events   events.Publisher
}

// Option configures a Router.
type Option func(*Router)

// WithClock sets the source of server timestamps.
func WithClock(c sntp.Clock) Option {
	return func(r *Router) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithMetrics records routing activity on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Router) {
		r.metrics = c
	}
}

// WithEvents publishes activity to p.
func WithEvents(p events.Publisher) Option {
	return func(r *Router) {
		if p != nil {
			r.events = p
		}
	}
}

// New returns a Router over the given registries.
func New(sessions *session.Registry, rooms *room.Registry, opts ...Option) *Router {
	r := &Router{
		sessions: sessions,
		rooms:    rooms,
		clock:    sntp.SystemClock{},
		events:   events.Nop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) now() int64 {
	return sntp.NowMillis(r.clock)
}

// Handle processes one message from s. If the message is rejected, an
// ERROR_RESPONSE has already been sent to s and the rejection is returned.
func (r *Router) Handle(s *session.Session, m protocol.Message) error {
	r.metrics.FrameReceived(m.Kind.String())
	log.WithFields(logger.Fields{
		"at":       "router.Router.Handle",
		"session":  s.ID().String(),
		"username": s.Username(),
		"message":  m.String(),
	}).Debug("routing_message")

	var err error
	switch m.Kind {
	case protocol.KindLoginRequest:
		err = r.handleLogin(s, m)
	case protocol.KindJoinRoomRequest:
		err = r.handleJoinRoom(s, m)
	case protocol.KindTextMessage:
		err = r.handleTextMessage(s, m)
	case protocol.KindPrivateMessage:
		err = r.handlePrivateMessage(s, m)
	default:
		err = unsupportedType(m.Kind)
	}

	if err != nil {
		r.ReportError(s, err)
	}
	return err
}

// ReportError sends err to s as an ERROR_RESPONSE. Errors that are not
// ProtocolErrors are reported with a generic reason.
func (r *Router) ReportError(s *session.Session, err error) {
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		log.WithFields(logger.Fields{
			"at":      "router.Router.ReportError",
			"session": s.ID().String(),
		}).WithError(err).Error("unexpected_routing_error")
		pe = ErrInternal
	}
	r.metrics.ProtocolError(string(pe.Code))

	reply := protocol.NewMessage(protocol.KindErrorResponse, protocol.ServerSender, "", "", pe.Reason, r.now())
	if sendErr := s.Send(reply); sendErr != nil {
		log.WithFields(logger.Fields{
			"at":      "router.Router.ReportError",
			"session": s.ID().String(),
			"code":    string(pe.Code),
		}).WithError(sendErr).Debug("error_response_not_delivered")
		return
	}
	log.WithFields(logger.Fields{
		"at":       "router.Router.ReportError",
		"session":  s.ID().String(),
		"username": s.Username(),
		"code":     string(pe.Code),
		"reason":   pe.Reason,
	}).Debug("error_response_sent")
}

func (r *Router) handleLogin(s *session.Session, m protocol.Message) error {
	username := m.Sender
	if username == "" {
		return ErrMissingUsername
	}
	if current := s.Username(); current != "" {
		return alreadyAuthenticated(current)
	}

	if err := r.sessions.Register(username, s); err != nil {
		switch {
		case errors.Is(err, session.ErrDuplicateUsername):
			return usernameTaken(username)
		case errors.Is(err, session.ErrAlreadyAuthenticated):
			return alreadyAuthenticated(s.Username())
		default:
			return err
		}
	}

	log.WithFields(logger.Fields{
		"at":         "router.Router.handleLogin",
		"username":   username,
		"remoteAddr": s.RemoteAddr(),
	}).Info("user_logged_in")

	r.deliver(s, protocol.NewMessage(protocol.KindLoginResponse, protocol.ServerSender, username, "", LoginOK, r.now()))
	r.metrics.SetPopulation(r.sessions.AuthenticatedCount(), r.rooms.Count())
	r.publish(events.Event{Type: events.TypeLogin, Username: username})
	return nil
}

func (r *Router) handleJoinRoom(s *session.Session, m protocol.Message) error {
	username := s.Username()
	if username == "" {
		return notAuthenticated("joining a room")
	}
	if m.RoomID == "" {
		return missingRoomID(m.Kind)
	}

	joined := r.rooms.Join(m.RoomID, s)
	log.WithFields(logger.Fields{
		"at":       "router.Router.handleJoinRoom",
		"username": username,
		"room":     m.RoomID,
		"members":  joined.Size(),
	}).Info("user_joined_room")

	announce := protocol.NewMessage(protocol.KindTextMessage, protocol.ServerSender, "", m.RoomID, username+" joined the room.", r.now())
	d, err := joined.Broadcast(announce)
	if err != nil {
		return tooLargeOr(err)
	}
	r.recordDelivery(d)
	r.metrics.SetPopulation(r.sessions.AuthenticatedCount(), r.rooms.Count())
	r.publish(events.Event{Type: events.TypeJoin, Username: username, Room: m.RoomID})
	return nil
}

func (r *Router) handleTextMessage(s *session.Session, m protocol.Message) error {
	username := s.Username()
	if username == "" {
		return notAuthenticated("sending messages")
	}
	if m.RoomID == "" {
		return missingRoomID(m.Kind)
	}

	target, ok := r.rooms.Get(m.RoomID)
	if !ok {
		log.WithFields(logger.Fields{
			"at":       "router.Router.handleTextMessage",
			"username": username,
			"room":     m.RoomID,
		}).Debug("text_for_unknown_room_dropped")
		return nil
	}

	d, err := target.Broadcast(m)
	if err != nil {
		return tooLargeOr(err)
	}
	r.recordDelivery(d)
	r.publish(events.Event{Type: events.TypeRoomMessage, Username: username, Room: m.RoomID})
	return nil
}

func (r *Router) handlePrivateMessage(s *session.Session, m protocol.Message) error {
	username := s.Username()
	if username == "" {
		return notAuthenticated("sending private messages")
	}
	if m.Recipient == "" {
		return ErrMissingRecipient
	}
	target, ok := r.sessions.Lookup(m.Recipient)
	if !ok {
		return recipientNotFound(m.Recipient)
	}

	forward := protocol.NewMessage(protocol.KindPrivateMessage, username, m.Recipient, "", m.Content, r.now())
	if err := target.Send(forward); err != nil {
		if errors.Is(err, protocol.ErrInvalidLength) {
			return ErrMessageTooLarge
		}
		r.metrics.DeliveryFailed(1)
		return nil
	}
	r.publish(events.Event{Type: events.TypePrivateMessage, Username: username, Recipient: m.Recipient})
	return nil
}

// deliver sends m to s. A failed write has already closed s, so there is
// nobody left to report it to.
func (r *Router) deliver(s *session.Session, m protocol.Message) {
	if err := s.Send(m); err != nil {
		r.metrics.DeliveryFailed(1)
	}
}

func (r *Router) recordDelivery(d room.Delivery) {
	r.metrics.Broadcast(d.Attempted)
	r.metrics.DeliveryFailed(d.Failed())
}

func (r *Router) publish(e events.Event) {
	if e.Timestamp == 0 {
		e.Timestamp = r.now()
	}
	if err := r.events.Publish(e); err != nil {
		log.WithFields(logger.Fields{
			"at":   "router.Router.publish",
			"type": string(e.Type),
		}).WithError(err).Warn("event_publish_failed")
	}
}

// tooLargeOr maps re-encoding overflow to ErrMessageTooLarge.
func tooLargeOr(err error) error {
	if errors.Is(err, protocol.ErrInvalidLength) {
		return ErrMessageTooLarge
	}
	return err
}
