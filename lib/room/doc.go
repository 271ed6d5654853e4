// Package room manages named chat rooms and fan-out delivery to their
// participants. Room names are case sensitive.
package room
