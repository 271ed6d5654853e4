// Package client connects to a chat server and exchanges messages with it.
//
// A Client owns one connection. A background goroutine decodes every frame
// the server sends and delivers it on Messages; the channel closes when
// the connection ends, after which Err reports why. Sends may be issued
// from any goroutine.
//
// ParseCommand and Format implement the line-oriented user interface
// shared by the interactive front ends: /login, /join, /msg, /quit and
// plain text for the current room.
package client
