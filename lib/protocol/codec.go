package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/samber/oops"
)

const (
	// HeaderSize is the size of the big-endian length prefix.
	HeaderSize = 4

	// MaxBodySize caps the declared body length of a single frame.
	MaxBodySize = 1_000_000
)

// record is the on-wire body. Field order here is the field order on the wire.
type record struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp int64  `json:"timestamp"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	RoomID    string `json:"roomId"`
	Content   string `json:"content"`
}

// inboundRecord tolerates absent fields; Version is a pointer so that an
// absent version can default to DefaultVersion instead of zero.
type inboundRecord struct {
	Type      string
	Version   *int
	Timestamp int64
	Sender    string
	Recipient string
	RoomID    string
	Content   string
}

// field returns the destination for the body key name. Keys match exactly;
// encoding/json alone would also accept case variants.
func (r *inboundRecord) field(name string) (interface{}, bool) {
	switch name {
	case "type":
		return &r.Type, true
	case "version":
		return &r.Version, true
	case "timestamp":
		return &r.Timestamp, true
	case "sender":
		return &r.Sender, true
	case "recipient":
		return &r.Recipient, true
	case "roomId":
		return &r.RoomID, true
	case "content":
		return &r.Content, true
	}
	return nil, false
}

// Encode serializes m into a complete frame.
func Encode(m Message) ([]byte, error) {
	body, err := EncodeBody(m)
	if err != nil {
		return nil, err
	}
	if len(body) > MaxBodySize {
		return nil, oops.
			In("protocol").
			Code("frame_too_large").
			With("length", len(body)).
			Wrapf(ErrInvalidLength, "encoded body is %d bytes, limit is %d", len(body), MaxBodySize)
	}
	frame := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint32(frame[:HeaderSize], uint32(len(body)))
	copy(frame[HeaderSize:], body)
	return frame, nil
}

// EncodeBody serializes m without the length prefix.
func EncodeBody(m Message) ([]byte, error) {
	if !m.Kind.Valid() {
		return nil, oops.
			In("protocol").
			Code("unknown_kind").
			Wrapf(ErrUnknownKind, "cannot encode %s", m.Kind)
	}
	for _, s := range []string{m.Sender, m.Recipient, m.RoomID, m.Content} {
		if !utf8.ValidString(s) {
			return nil, oops.
				In("protocol").
				Code("invalid_utf8").
				Wrapf(ErrMalformedBody, "%s field is not valid UTF-8", m.Kind)
		}
	}

	version := m.Version
	switch {
	case version == 0:
		version = DefaultVersion
	case version < 0:
		return nil, oops.
			In("protocol").
			Code("invalid_version").
			Wrapf(ErrMalformedBody, "%s version %d is below 1", m.Kind, version)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(record{
		Type:      m.Kind.String(),
		Version:   version,
		Timestamp: m.Timestamp,
		Sender:    m.Sender,
		Recipient: m.Recipient,
		RoomID:    m.RoomID,
		Content:   m.Content,
	})
	if err != nil {
		return nil, oops.In("protocol").Wrapf(err, "encode %s", m.Kind)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// Decode parses a complete frame. It never looks past len(frame); bytes
// after the declared body are ignored.
func Decode(frame []byte) (Message, error) {
	if len(frame) < HeaderSize {
		return Message{}, oops.
			In("protocol").
			Code("incomplete_header").
			With("available", len(frame)).
			Wrapf(ErrIncompleteHeader, "need %d header bytes, have %d", HeaderSize, len(frame))
	}
	n, err := bodyLength(frame[:HeaderSize])
	if err != nil {
		return Message{}, err
	}
	if available := len(frame) - HeaderSize; available < n {
		return Message{}, oops.
			In("protocol").
			Code("incomplete_body").
			With("declared", n).
			With("available", available).
			Wrapf(ErrIncompleteBody, "declared %d body bytes, have %d", n, available)
	}
	return DecodeBody(frame[HeaderSize : HeaderSize+n])
}

// DecodeBody parses a frame body. Missing string fields decode as "", a
// missing timestamp as 0 and a missing version as DefaultVersion. Field
// names must match exactly and may appear once; a version below 1 is
// rejected.
func DecodeBody(body []byte) (Message, error) {
	if !utf8.Valid(body) {
		return Message{}, malformed("body is not valid UTF-8", nil)
	}

	rec, err := decodeRecord(body)
	if err != nil {
		return Message{}, err
	}

	kind, err := ParseKind(rec.Type)
	if err != nil {
		return Message{}, malformed("bad type field", err)
	}

	version := DefaultVersion
	if rec.Version != nil {
		version = *rec.Version
		if version < 1 {
			return Message{}, malformed(fmt.Sprintf("version %d is below 1", version), nil)
		}
	}
	return Message{
		Kind:      kind,
		Version:   version,
		Timestamp: rec.Timestamp,
		Sender:    rec.Sender,
		Recipient: rec.Recipient,
		RoomID:    rec.RoomID,
		Content:   rec.Content,
	}, nil
}

// decodeRecord walks the body one key at a time so that unknown, case-variant
// and repeated keys are rejected instead of silently merged.
func decodeRecord(body []byte) (inboundRecord, error) {
	var rec inboundRecord
	dec := json.NewDecoder(bytes.NewReader(body))

	tok, err := dec.Token()
	if err != nil {
		return rec, malformed("cannot parse body", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		if tok == nil {
			// A bare null carries no type; report it as an unknown kind.
			if _, err := dec.Token(); !errors.Is(err, io.EOF) {
				return rec, malformed("trailing data after record", err)
			}
			return rec, nil
		}
		return rec, malformed("body is not a record", nil)
	}

	seen := make(map[string]bool, 7)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return rec, malformed("cannot parse body", err)
		}
		name, _ := tok.(string)
		dst, known := rec.field(name)
		if !known {
			return rec, malformed(fmt.Sprintf("unknown field %q", name), nil)
		}
		if seen[name] {
			return rec, malformed(fmt.Sprintf("duplicate field %q", name), nil)
		}
		seen[name] = true
		if err := dec.Decode(dst); err != nil {
			return rec, malformed(fmt.Sprintf("bad %s field", name), err)
		}
	}
	if _, err := dec.Token(); err != nil {
		return rec, malformed("cannot parse body", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return rec, malformed("trailing data after record", err)
	}
	return rec, nil
}

// malformed wraps ErrMalformedBody, keeping cause reachable through errors.Is.
func malformed(reason string, cause error) error {
	err := oops.In("protocol").Code("malformed_body").Wrapf(ErrMalformedBody, "%s", reason)
	if cause != nil {
		return errors.Join(err, cause)
	}
	return err
}

// bodyLength validates a length prefix. The prefix is read as a signed
// 32-bit integer, so lengths with the top bit set are negative.
func bodyLength(header []byte) (int, error) {
	raw := binary.BigEndian.Uint32(header)
	n := int32(raw)
	if n < 0 || n > MaxBodySize {
		return 0, oops.
			In("protocol").
			Code("invalid_length").
			With("declared", int64(n)).
			Wrapf(ErrInvalidLength, "declared body length %d outside [0, %d]", n, MaxBodySize)
	}
	return int(n), nil
}
