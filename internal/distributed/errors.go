package distributed

import (
	"errors"
	"fmt"
)

var (
	errNilServer   = errors.New("distributed: nil ServerSender")
	errNilResolver = errors.New("distributed: nil AddressResolver")

	// ErrNoCandidates is returned by ElectParent when given an empty
	// candidate list.
	ErrNoCandidates = errors.New("distributed: no candidates")

	// ErrChildCapacityExhausted is returned (and diagnosed) when an
	// inbound child connection arrives with no free capacity.
	ErrChildCapacityExhausted = errors.New("distributed: child capacity exhausted")
)

// ElectionFailedError is returned when every candidate in a pool fails to
// qualify as a parent.
type ElectionFailedError struct {
	Cause error
}

func (e *ElectionFailedError) Error() string {
	return fmt.Sprintf("distributed: parent election failed: %v", e.Cause)
}

func (e *ElectionFailedError) Unwrap() error { return e.Cause }
