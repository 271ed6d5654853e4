package router

import (
	"github.com/niss337/securechat/lib/protocol"
)

// Code classifies a ProtocolError.
type Code string

const (
	CodeMissingUsername      Code = "missing_username"
	CodeUsernameTaken        Code = "username_taken"
	CodeAlreadyAuthenticated Code = "already_authenticated"
	CodeNotAuthenticated     Code = "not_authenticated"
	CodeMissingRoomID        Code = "missing_room_id"
	CodeMissingRecipient     Code = "missing_recipient"
	CodeRecipientNotFound    Code = "recipient_not_found"
	CodeUnsupportedType      Code = "unsupported_type"
	CodeMessageTooLarge      Code = "message_too_large"
	CodeRateLimited          Code = "rate_limited"
	CodeInternal             Code = "internal"
)

// ProtocolError is a client mistake reported back as an ERROR_RESPONSE.
// Reason is the human readable text sent to the client. Two
// ProtocolErrors match under errors.Is when their codes are equal.
type ProtocolError struct {
	Code   Code
	Reason string
}

func (e *ProtocolError) Error() string {
	return e.Reason
}

func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is. The Reason of errors built for a specific
// request may differ.
var (
	ErrMissingUsername      = &ProtocolError{Code: CodeMissingUsername, Reason: "Missing username in LOGIN_REQUEST"}
	ErrUsernameTaken        = &ProtocolError{Code: CodeUsernameTaken, Reason: "Username already in use"}
	ErrAlreadyAuthenticated = &ProtocolError{Code: CodeAlreadyAuthenticated, Reason: "Already logged in"}
	ErrNotAuthenticated     = &ProtocolError{Code: CodeNotAuthenticated, Reason: "Must login first"}
	ErrMissingRoomID        = &ProtocolError{Code: CodeMissingRoomID, Reason: "Missing roomId"}
	ErrMissingRecipient     = &ProtocolError{Code: CodeMissingRecipient, Reason: "Missing recipient in PRIVATE_MESSAGE"}
	ErrRecipientNotFound    = &ProtocolError{Code: CodeRecipientNotFound, Reason: "User not found"}
	ErrUnsupportedType      = &ProtocolError{Code: CodeUnsupportedType, Reason: "Unsupported message type"}
	ErrMessageTooLarge      = &ProtocolError{Code: CodeMessageTooLarge, Reason: "Message too large"}
	ErrRateLimited          = &ProtocolError{Code: CodeRateLimited, Reason: "Rate limit exceeded, message dropped"}
	ErrInternal             = &ProtocolError{Code: CodeInternal, Reason: "Internal server error"}
)

func usernameTaken(username string) error {
	return &ProtocolError{Code: CodeUsernameTaken, Reason: "Username already in use: " + username}
}

func alreadyAuthenticated(username string) error {
	return &ProtocolError{Code: CodeAlreadyAuthenticated, Reason: "Already logged in as " + username}
}

func notAuthenticated(action string) error {
	return &ProtocolError{Code: CodeNotAuthenticated, Reason: "Must login before " + action}
}

func missingRoomID(kind protocol.Kind) error {
	return &ProtocolError{Code: CodeMissingRoomID, Reason: "Missing roomId in " + kind.String()}
}

func recipientNotFound(username string) error {
	return &ProtocolError{Code: CodeRecipientNotFound, Reason: "User not found: " + username}
}

func unsupportedType(kind protocol.Kind) error {
	return &ProtocolError{Code: CodeUnsupportedType, Reason: "Unsupported message type: " + kind.String()}
}
