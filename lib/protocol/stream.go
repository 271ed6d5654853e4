package protocol

import (
	"errors"
	"io"

	"github.com/samber/oops"
)

// ReadFrame reads one frame from r and returns its body.
//
// It returns io.EOF, unwrapped, when r is exhausted before the first header
// byte: the peer closed the connection between frames. A stream that ends
// inside a frame yields ErrIncompleteHeader or ErrIncompleteBody. The body
// is allocated only after its length has been validated.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return nil, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, oops.In("protocol").Code("incomplete_header").Wrapf(ErrIncompleteHeader, "stream ended inside header")
		default:
			return nil, oops.In("protocol").Wrapf(err, "read header")
		}
	}

	n, err := bodyLength(header[:])
	if err != nil {
		return nil, err
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, oops.
				In("protocol").
				Code("incomplete_body").
				With("declared", n).
				Wrapf(ErrIncompleteBody, "stream ended inside %d byte body", n)
		}
		return nil, oops.In("protocol").Wrapf(err, "read body")
	}
	return body, nil
}

// ReadMessage reads and decodes one frame.
func ReadMessage(r io.Reader) (Message, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return Message{}, err
	}
	return DecodeBody(body)
}

// WriteFrame writes an encoded frame with a single Write call.
func WriteFrame(w io.Writer, frame []byte) error {
	n, err := w.Write(frame)
	if err != nil {
		return oops.In("protocol").With("written", n).Wrapf(err, "write frame")
	}
	if n != len(frame) {
		return oops.In("protocol").With("written", n).Wrapf(io.ErrShortWrite, "wrote %d of %d bytes", n, len(frame))
	}
	return nil
}

// WriteMessage encodes m and writes it as one frame.
func WriteMessage(w io.Writer, m Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	return WriteFrame(w, frame)
}
