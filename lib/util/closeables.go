package util

import (
	"errors"
	"io"
	"sync"
)

var (
	closeOnExit []io.Closer
	closeMutex  sync.Mutex
)

// RegisterCloser registers an io.Closer to be closed during shutdown.
// This function is thread-safe.
func RegisterCloser(c io.Closer) {
	if c == nil {
		return
	}
	closeMutex.Lock()
	defer closeMutex.Unlock()
	closeOnExit = append(closeOnExit, c)
	log.WithField("count", len(closeOnExit)).Debug("registered_closer")
}

// CloseAll closes all registered closers in reverse registration order and
// clears the list. Every closer is attempted; the failures are joined.
func CloseAll() error {
	closeMutex.Lock()
	closers := closeOnExit
	closeOnExit = nil
	closeMutex.Unlock()

	log.WithField("count", len(closers)).Debug("closing_registered_closers")

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			log.WithError(err).Warn("error_closing_resource")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
