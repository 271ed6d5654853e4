// Package router turns decoded client messages into registry changes and
// outbound messages.
//
// Every message kind except LOGIN_REQUEST requires a logged in session.
// Validation failures are reported to the originating session as an
// ERROR_RESPONSE from "server"; they never close the connection.
package router
