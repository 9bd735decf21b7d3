package subscriber

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to check for them; the typed errors below
// match their sentinel as well.
var (
	// ErrInit is matched by every *InitError
	ErrInit = errors.New("subscriber: transport initialization failed")

	// ErrConnect is matched by every *ConnectError
	ErrConnect = errors.New("subscriber: connect failed")

	// ErrInvalidState is matched by every *InvalidStateError
	ErrInvalidState = errors.New("subscriber: invalid state")

	// ErrInvalidTopic is returned for empty or malformed topic filters
	ErrInvalidTopic = errors.New("subscriber: invalid topic filter")

	// ErrInvalidQoS is returned when QoS is not 0, 1 or 2
	ErrInvalidQoS = errors.New("subscriber: invalid QoS level (must be 0, 1, or 2)")

	// ErrSubscribeFailed wraps transport subscribe failures
	ErrSubscribeFailed = errors.New("subscriber: subscribe failed")

	// ErrConnectionLost is the stop cause when the transport drops the connection
	ErrConnectionLost = errors.New("subscriber: connection lost")
)

// InitError reports that the transport could not be created
type InitError struct {
	ClientID string
	Err      error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("subscriber: cannot initialize transport for client %q: %v", e.ClientID, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

func (e *InitError) Is(target error) bool { return target == ErrInit }

// ConnectError reports a failed connect handshake
type ConnectError struct {
	Host string
	Port int
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("subscriber: cannot connect to %s:%d: %v", e.Host, e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

func (e *ConnectError) Is(target error) bool { return target == ErrConnect }

// InvalidStateError reports an operation attempted in a state that does not
// allow it, typically after Stop.
type InvalidStateError struct {
	Op    string
	State LifecycleState
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("subscriber: cannot %s in state %s", e.Op, e.State)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// DeliveryDecodeError reports a payload that does not match the configured
// format. It is logged by the delivery worker and never returned to callers.
type DeliveryDecodeError struct {
	Topic  string
	Format PayloadFormat
	Err    error
}

func (e *DeliveryDecodeError) Error() string {
	return fmt.Sprintf("subscriber: cannot decode %s payload on %s: %v", e.Format, e.Topic, e.Err)
}

func (e *DeliveryDecodeError) Unwrap() error { return e.Err }
