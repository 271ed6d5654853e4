package client

import (
	"github.com/niss337/securechat/lib/protocol"
)

// Format renders m as a single line for display.
func Format(m protocol.Message) string {
	switch m.Kind {
	case protocol.KindLoginResponse:
		return "[SERVER] Login response: " + m.Content
	case protocol.KindTextMessage:
		if m.RoomID != "" {
			return "[" + m.RoomID + "] " + m.Sender + ": " + m.Content
		}
		return m.Sender + ": " + m.Content
	case protocol.KindPrivateMessage:
		return "[PM from " + m.Sender + "] " + m.Content
	case protocol.KindErrorResponse:
		return "[ERROR] " + m.Content
	}
	return "[INFO] " + m.Kind.String() + " " + m.Content
}
