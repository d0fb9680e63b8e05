package peer

import (
	"errors"
	"fmt"
)

var (
	errNilServer   = errors.New("peer: nil ServerSender")
	errNilResolver = errors.New("peer: nil AddressResolver")
)

// ConnectFailedError is returned when both the direct and indirect
// acquisition sub-tasks fail. Cause is the last sub-task error observed,
// or the caller's context error if no sub-task error was recorded.
type ConnectFailedError struct {
	Cause error
}

func (e *ConnectFailedError) Error() string {
	return fmt.Sprintf("peer: connect failed: %v", e.Cause)
}

func (e *ConnectFailedError) Unwrap() error { return e.Cause }
