// Package signals dispatches process signals to registered handlers.
//
// SIGHUP runs the reload handlers. SIGINT and SIGTERM run the pre-shutdown
// handlers (bounded by the graceful timeout) and then the interrupt handlers.
package signals

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/niss337/securechat/lib/util/logger"
)

var log = logger.GetChatLogger()

// sigChan is buffered to avoid missing signals delivered while no receiver is ready.
var sigChan = make(chan os.Signal, 1)

// Handler is a function called when a signal is received.
type Handler func()

// HandlerID identifies a registration so it can be removed again.
type HandlerID int64

const defaultGracefulTimeout = 10 * time.Second

type registeredHandler struct {
	id HandlerID
	fn Handler
}

// handlerList is an ordered, concurrency-safe set of handlers.
type handlerList struct {
	name    string
	mu      sync.RWMutex
	entries []registeredHandler
}

var (
	nextID       atomic.Int64
	reloaders    = &handlerList{name: "reload"}
	interrupters = &handlerList{name: "interrupt"}
	preShutdown  = &handlerList{name: "pre_shutdown"}

	timeoutMu       sync.RWMutex
	gracefulTimeout = defaultGracefulTimeout

	stopOnce sync.Once
)

func (l *handlerList) add(f Handler) HandlerID {
	if f == nil {
		return -1
	}
	id := HandlerID(nextID.Add(1))
	l.mu.Lock()
	l.entries = append(l.entries, registeredHandler{id: id, fn: f})
	l.mu.Unlock()
	return id
}

func (l *handlerList) remove(id HandlerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, h := range l.entries {
		if h.id == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

func (l *handlerList) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *handlerList) reset() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

// run calls every handler in registration order. A panicking handler is
// logged and does not prevent the rest from running.
func (l *handlerList) run() {
	l.mu.RLock()
	snapshot := make([]registeredHandler, len(l.entries))
	copy(snapshot, l.entries)
	l.mu.RUnlock()

	for _, h := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(logger.Fields{
						"at":      "signals.handlerList.run",
						"handler": l.name,
						"panic":   r,
					}).Error("panic_in_signal_handler")
				}
			}()
			h.fn()
		}()
	}
}

// RegisterReloadHandler registers a handler called on SIGHUP.
// Nil handlers are ignored and return -1.
func RegisterReloadHandler(f Handler) HandlerID { return reloaders.add(f) }

// DeregisterReloadHandler removes a reload handler by ID.
func DeregisterReloadHandler(id HandlerID) { reloaders.remove(id) }

// RegisterInterruptHandler registers a handler called on SIGINT/SIGTERM.
// Nil handlers are ignored and return -1.
func RegisterInterruptHandler(f Handler) HandlerID { return interrupters.add(f) }

// DeregisterInterruptHandler removes an interrupt handler by ID.
func DeregisterInterruptHandler(id HandlerID) { interrupters.remove(id) }

// RegisterPreShutdownHandler registers a handler that runs before the
// interrupt handlers, e.g. to stop accepting new connections.
func RegisterPreShutdownHandler(f Handler) HandlerID { return preShutdown.add(f) }

// DeregisterPreShutdownHandler removes a pre-shutdown handler by ID.
func DeregisterPreShutdownHandler(id HandlerID) { preShutdown.remove(id) }

// SetGracefulTimeout bounds how long pre-shutdown handlers may take.
// Zero or negative restores the default.
func SetGracefulTimeout(timeout time.Duration) {
	timeoutMu.Lock()
	defer timeoutMu.Unlock()
	if timeout <= 0 {
		timeout = defaultGracefulTimeout
	}
	gracefulTimeout = timeout
}

func handleReload() {
	log.WithField("handlers", reloaders.len()).Info("reload_signal_received")
	reloaders.run()
}

// handleInterrupted runs the pre-shutdown handlers, waiting at most the
// graceful timeout, then the interrupt handlers. It reports whether the
// pre-shutdown phase finished in time.
func handleInterrupted() bool {
	timeoutMu.RLock()
	timeout := gracefulTimeout
	timeoutMu.RUnlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		preShutdown.run()
	}()

	inTime := true
	select {
	case <-done:
	case <-time.After(timeout):
		inTime = false
		log.WithFields(logger.Fields{
			"at":      "signals.handleInterrupted",
			"timeout": timeout.String(),
		}).Warn("pre_shutdown_timed_out")
	}

	interrupters.run()
	return inTime
}

// StopHandle closes the signal channel, causing Handle() to return.
// Safe to call multiple times; only the first call takes effect.
func StopHandle() {
	stopOnce.Do(func() {
		signal.Stop(sigChan)
		close(sigChan)
	})
}
