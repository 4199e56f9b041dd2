package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for a nil handle, an empty buffer, a
	// negative offset or a buffer larger than one chunk. No state is mutated.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrReadOnly is returned when writing with read-only access flags.
	ErrReadOnly = errors.New("write with read-only access flags")
	// ErrNoSlot signals that no slot could be obtained by allocation, eviction
	// or reuse. It indicates broken registry invariants.
	ErrNoSlot = errors.New("no cache slot obtainable")
)

// ShortTransferError reports a positioned read or write that still moved fewer
// bytes than requested after all retries.
//
// The last error returned by the handle (if any) can be accessed via errors.Unwrap.
type ShortTransferError struct {
	Op       string
	Name     string
	Offset   int64
	Want     int
	Got      int
	Attempts int
	cause    error
}

func (e *ShortTransferError) Error() string {
	msg := fmt.Sprintf("short %s on %s at offset %d: %d of %d bytes after %d attempts",
		e.Op, e.Name, e.Offset, e.Got, e.Want, e.Attempts)
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *ShortTransferError) Unwrap() error { return e.cause }

func invalidArgument(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, reason)
}
