package protocol

import (
	"fmt"

	"github.com/samber/oops"
)

// Kind is the message type carried in the "type" field.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindLoginRequest
	KindLoginResponse
	KindJoinRoomRequest
	KindTextMessage
	KindPrivateMessage
	KindErrorResponse
)

var kindNames = map[Kind]string{
	KindLoginRequest:    "LOGIN_REQUEST",
	KindLoginResponse:   "LOGIN_RESPONSE",
	KindJoinRoomRequest: "JOIN_ROOM_REQUEST",
	KindTextMessage:     "TEXT_MESSAGE",
	KindPrivateMessage:  "PRIVATE_MESSAGE",
	KindErrorResponse:   "ERROR_RESPONSE",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

// String returns the wire name, or Kind(n) for values outside the known set.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Valid reports whether k has a wire name.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind maps a wire name to its Kind. Names are case sensitive.
func ParseKind(name string) (Kind, error) {
	if k, ok := kindsByName[name]; ok {
		return k, nil
	}
	return KindUnknown, oops.
		In("protocol").
		Code("unknown_kind").
		With("type", name).
		Wrapf(ErrUnknownKind, "unrecognized message type %q", name)
}

// Kinds returns every known kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindLoginRequest,
		KindLoginResponse,
		KindJoinRoomRequest,
		KindTextMessage,
		KindPrivateMessage,
		KindErrorResponse,
	}
}
