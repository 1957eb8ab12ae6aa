package tally

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRunning is returned by calling methods against Node when it has
	// yet to be started or after it was stopped.
	ErrNotRunning = errors.New("node not running")

	// ErrSourceUnavailable is returned when the size of a file could not be
	// determined during registration.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrInvalidPeer is returned when registering a malformed peer address.
	ErrInvalidPeer = errors.New("invalid peer address")

	// ErrSelfPeer is returned when a node is asked to register itself as a
	// peer.
	ErrSelfPeer = errors.New("cannot register self as peer")

	// ErrInvalidValue is returned when submitting a negative chunk value.
	ErrInvalidValue = errors.New("chunk value must not be negative")
)

// SubmitStatus is the outcome of submitting a chunk value.
type SubmitStatus uint8

const (
	// StatusAccepted is returned when the value was stored and propagated
	// to peers.
	StatusAccepted SubmitStatus = iota

	// StatusDuplicate is returned when the chunk already had a value. The
	// submitted value is discarded.
	StatusDuplicate
)

// String returns the string representation of s.
func (s SubmitStatus) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusDuplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("<unknown status %d>", s)
	}
}
