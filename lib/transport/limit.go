package transport

import (
	"sync/atomic"

	"github.com/niss337/securechat/lib/util/logger"
)

// DefaultMaxConnections is the default maximum number of concurrent
// connections. This prevents resource exhaustion under heavy load.
const DefaultMaxConnections = 1024

// ConnectionLimiter counts open connections against a ceiling.
type ConnectionLimiter struct {
	// max is the maximum number of concurrent connections.
	// 0 means DefaultMaxConnections, negative means unlimited.
	max int32

	active int32 // atomic
}

// NewConnectionLimiter returns a limiter admitting max connections.
func NewConnectionLimiter(max int) *ConnectionLimiter {
	if max == 0 {
		max = DefaultMaxConnections
	}
	return &ConnectionLimiter{max: int32(max)}
}

// Acquire reserves a slot. It returns ErrConnectionLimit when none is free;
// otherwise the caller must call Release exactly once.
func (l *ConnectionLimiter) Acquire() error {
	for {
		current := atomic.LoadInt32(&l.active)
		if l.max > 0 && current >= l.max {
			log.WithFields(logger.Fields{
				"at":     "(ConnectionLimiter) Acquire",
				"active": current,
				"max":    l.max,
			}).Debug("connection_limit_reached")
			return ErrConnectionLimit
		}
		if atomic.CompareAndSwapInt32(&l.active, current, current+1) {
			return nil
		}
	}
}

// Release frees a slot taken by Acquire.
func (l *ConnectionLimiter) Release() {
	if atomic.AddInt32(&l.active, -1) < 0 {
		atomic.StoreInt32(&l.active, 0)
	}
}

// Active returns the number of reserved slots.
func (l *ConnectionLimiter) Active() int {
	return int(atomic.LoadInt32(&l.active))
}

// Max returns the ceiling, or a negative number when unlimited.
func (l *ConnectionLimiter) Max() int {
	return int(l.max)
}
