package session

import "errors"

var (
	// ErrDuplicateUsername is returned by Register when the name is bound to another session.
	ErrDuplicateUsername = errors.New("username already in use")
	// ErrAlreadyAuthenticated is returned by Register when the session already has a username.
	ErrAlreadyAuthenticated = errors.New("session already authenticated")
	// ErrEmptyUsername is returned by Register for the empty name.
	ErrEmptyUsername = errors.New("empty username")
	// ErrSessionClosed is returned by Send after the session has been closed.
	ErrSessionClosed = errors.New("session closed")
)
