package protocol

import "fmt"

// DefaultVersion is stamped on messages built with NewMessage.
const DefaultVersion = 1

// ServerSender is the sender name used for messages originated by the server.
const ServerSender = "server"

// Message is one protocol message. It is a plain value: copies are
// independent and nothing in this package mutates a Message after it has
// been built or decoded.
type Message struct {
	Kind      Kind
	Version   int
	Timestamp int64 // milliseconds since the Unix epoch
	Sender    string
	Recipient string
	RoomID    string
	Content   string
}

// NewMessage builds a message with the current protocol version.
func NewMessage(kind Kind, sender, recipient, roomID, content string, timestamp int64) Message {
	return Message{
		Kind:      kind,
		Version:   DefaultVersion,
		Timestamp: timestamp,
		Sender:    sender,
		Recipient: recipient,
		RoomID:    roomID,
		Content:   content,
	}
}

// String is a compact form for logs. Content is summarised by length only.
func (m Message) String() string {
	return fmt.Sprintf("%s{from=%q to=%q room=%q len=%d ts=%d}",
		m.Kind, m.Sender, m.Recipient, m.RoomID, len(m.Content), m.Timestamp)
}
