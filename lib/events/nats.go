package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/niss337/securechat/lib/util/logger"
	"github.com/samber/oops"
)

// DefaultSubjectPrefix is prepended to the event type to form the subject.
const DefaultSubjectPrefix = "securechat.events"

// natsConn is the subset of *nats.Conn the publisher needs.
type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes events as JSON to "<prefix>.<type>".
type NATSPublisher struct {
	conn   natsConn
	prefix string
}

// NATSConfig configures DialNATS.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	ClientName    string
}

// DialNATS connects to a NATS server. The connection reconnects on its own
// for the life of the publisher.
func DialNATS(config NATSConfig) (*NATSPublisher, error) {
	if config.URL == "" {
		config.URL = nats.DefaultURL
	}
	if config.ClientName == "" {
		config.ClientName = "securechat"
	}
	nc, err := nats.Connect(config.URL,
		nats.Name(config.ClientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.WithFields(logger.Fields{
				"at":  "events.DialNATS",
				"url": config.URL,
			}).WithError(err).Warn("nats_disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.WithFields(logger.Fields{
				"at":  "events.DialNATS",
				"url": c.ConnectedUrl(),
			}).Info("nats_reconnected")
		}),
	)
	if err != nil {
		return nil, oops.In("events").With("url", config.URL).Wrapf(err, "connect to NATS")
	}

	log.WithFields(logger.Fields{
		"at":     "events.DialNATS",
		"url":    config.URL,
		"prefix": config.SubjectPrefix,
	}).Info("nats_event_publisher_connected")
	return newNATSPublisher(nc, config.SubjectPrefix), nil
}

func newNATSPublisher(conn natsConn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Subject returns the subject an event of type t is published on.
func (p *NATSPublisher) Subject(t Type) string {
	return p.prefix + "." + string(t)
}

func (p *NATSPublisher) Publish(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return oops.In("events").Wrapf(err, "marshal %s event", e.Type)
	}
	if err := p.conn.Publish(p.Subject(e.Type), data); err != nil {
		return oops.In("events").With("subject", p.Subject(e.Type)).Wrapf(err, "publish %s event", e.Type)
	}
	return nil
}

// Close flushes pending events and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
