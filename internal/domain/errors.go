package domain

import (
	"errors"
	"fmt"
)

// ErrTimeout reports that a bounded wait expired with no matching event.
// It is a recoverable turn outcome, never fatal by itself.
var ErrTimeout = errors.New("wait timed out")

// ErrCallEnded reports that a hangup was observed during a blocking wait.
// It is a termination signal, not a failure.
var ErrCallEnded = errors.New("call ended")

// ConnectionError means the control channel is unreachable or was lost.
// Fatal to the run it belongs to.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("control channel %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// OriginationError means the platform explicitly rejected an outbound
// call setup. Distinct from an acknowledgement timeout.
type OriginationError struct {
	Response string
}

func (e *OriginationError) Error() string {
	return fmt.Sprintf("origination rejected: %s", e.Response)
}
