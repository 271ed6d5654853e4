package protocol

import "errors"

// Framing and decoding errors. Returned errors wrap one of these and carry
// additional context; match them with errors.Is.
var (
	// ErrInvalidLength means the declared body length is negative or above MaxBodySize.
	ErrInvalidLength = errors.New("invalid frame length")
	// ErrIncompleteHeader means fewer than HeaderSize bytes were available.
	ErrIncompleteHeader = errors.New("incomplete frame header")
	// ErrIncompleteBody means the stream or buffer ended inside the body.
	ErrIncompleteBody = errors.New("incomplete frame body")
	// ErrMalformedBody means the body is not a valid message record.
	ErrMalformedBody = errors.New("malformed message body")
	// ErrUnknownKind means a kind name or value outside the known set.
	ErrUnknownKind = errors.New("unknown message kind")
)

// IsFramingError reports whether err is one of the errors that make a
// connection's byte stream unusable.
func IsFramingError(err error) bool {
	return errors.Is(err, ErrInvalidLength) ||
		errors.Is(err, ErrIncompleteHeader) ||
		errors.Is(err, ErrIncompleteBody) ||
		errors.Is(err, ErrMalformedBody)
}
