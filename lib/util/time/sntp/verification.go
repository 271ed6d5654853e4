package sntp

import (
	"errors"
	"time"

	"github.com/beevik/ntp"
	"github.com/samber/oops"
)

const (
	maxRTT            = 2 * time.Second
	maxClockOffset    = 10 * time.Minute
	maxRootDispersion = 1 * time.Second
	maxRootDelay      = 1 * time.Second
)

// ErrInvalidResponse is wrapped by every validation failure.
var ErrInvalidResponse = errors.New("invalid ntp response")

// validateResponse rejects responses from unsynchronized or implausible servers.
func validateResponse(response *ntp.Response) error {
	if response == nil {
		return oops.In("sntp").Wrapf(ErrInvalidResponse, "nil response")
	}
	switch {
	case response.Leap == ntp.LeapNotInSync:
		return oops.In("sntp").Wrapf(ErrInvalidResponse, "server clock not synchronized")
	case response.Stratum == 0 || response.Stratum > 15:
		return oops.In("sntp").Wrapf(ErrInvalidResponse, "stratum %d out of range", response.Stratum)
	case response.RTT < 0 || response.RTT > maxRTT:
		return oops.In("sntp").Wrapf(ErrInvalidResponse, "round trip %s out of range", response.RTT)
	case absDuration(response.ClockOffset) > maxClockOffset:
		return oops.In("sntp").Wrapf(ErrInvalidResponse, "clock offset %s out of range", response.ClockOffset)
	case response.Time.IsZero():
		return oops.In("sntp").Wrapf(ErrInvalidResponse, "zero time")
	case response.RootDispersion > maxRootDispersion:
		return oops.In("sntp").Wrapf(ErrInvalidResponse, "root dispersion %s too high", response.RootDispersion)
	case response.RootDelay > maxRootDelay:
		return oops.In("sntp").Wrapf(ErrInvalidResponse, "root delay %s too high", response.RootDelay)
	}
	return nil
}
