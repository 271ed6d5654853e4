// Package sntp provides the server's notion of "now".
//
// SystemClock reads the local clock. Timestamper periodically queries NTP
// servers and applies the median measured offset to the local clock, for
// hosts whose clocks cannot be trusted.
package sntp

import (
	"time"

	"github.com/niss337/securechat/lib/util/logger"
)

var log = logger.GetChatLogger()

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the local wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant. Intended for tests.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }

// NowMillis returns c's current time in milliseconds since the Unix epoch.
func NowMillis(c Clock) int64 {
	return c.Now().UnixMilli()
}
