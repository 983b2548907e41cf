package mqttconn

import (
	"errors"
	"strconv"
)

// Sentinel errors for lifecycle and preconditions - check with errors.Is().
var (
	// ErrNotInitialized is returned when a Client or Connection failed
	// construction and is only usable for error inspection.
	ErrNotInitialized = errors.New("not initialized")

	// ErrClientClosed is returned when an operation is attempted on a
	// closed client.
	ErrClientClosed = errors.New("client closed")

	// ErrConnectionClosed is returned when an operation is attempted on a
	// closed connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrInvalidState is returned when an operation is called in a state
	// that does not permit it (e.g. SetWill after Connect).
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrNotConnected is returned when an operation requires an
	// established session.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnecting is returned by Connect while an attempt is
	// already in flight.
	ErrAlreadyConnecting = errors.New("connect already in progress")
)

// Sentinel errors for operations - check with errors.Is().
var (
	// ErrOperationAbandoned resolves completion handlers for operations
	// that were still pending when the connection went down. The handler
	// fires exactly once either way.
	ErrOperationAbandoned = errors.New("operation abandoned by disconnect")

	// ErrDuplicatePacketID is returned when the protocol engine assigns a
	// packet identifier that is already pending. This signals an engine
	// contract violation, not a caller error.
	ErrDuplicatePacketID = errors.New("duplicate packet identifier")

	// ErrPublishThrottled is returned when a publish exceeds the
	// configured outbound rate limit. The message is never queued.
	ErrPublishThrottled = errors.New("publish rate limit exceeded")

	// ErrInvalidQoS is returned when a QoS level outside 0..2 is requested.
	ErrInvalidQoS = errors.New("invalid QoS level")

	// ErrConnectionLost is the base error for unexpected session loss.
	ErrConnectionLost = errors.New("connection lost")

	// ErrConnectRefused is the base error for a CONNACK with a non-zero
	// return code.
	ErrConnectRefused = errors.New("connection refused")
)

// ConnectError reports a CONNACK carrying a non-zero return code.
// Extract with errors.As().
type ConnectError struct {
	ReturnCode ConnectReturnCode
}

func (e *ConnectError) Error() string {
	return "connect refused: " + e.ReturnCode.String()
}

func (e *ConnectError) Unwrap() error { return ErrConnectRefused }

// NewConnectError creates a ConnectError from a return code.
func NewConnectError(code ConnectReturnCode) *ConnectError {
	return &ConnectError{ReturnCode: code}
}

// ConnectionLostError reports an established session going down without a
// caller-initiated disconnect. Extract with errors.As().
type ConnectionLostError struct {
	Cause error
}

func (e *ConnectionLostError) Error() string {
	if e.Cause != nil {
		return "connection lost: " + e.Cause.Error()
	}
	return "connection lost"
}

func (e *ConnectionLostError) Unwrap() error { return ErrConnectionLost }

// NewConnectionLostError creates a ConnectionLostError with the underlying
// transport cause, which may be nil.
func NewConnectionLostError(cause error) *ConnectionLostError {
	return &ConnectionLostError{Cause: cause}
}

// StateError reports an operation attempted in a state that does not
// permit it. Extract with errors.As().
type StateError struct {
	Op    string
	State ConnectionState
}

func (e *StateError) Error() string {
	return e.Op + " not valid in state " + e.State.String()
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

func newStateError(op string, state ConnectionState) *StateError {
	return &StateError{Op: op, State: state}
}

// DuplicatePacketIDError identifies the colliding packet identifier.
// Extract with errors.As().
type DuplicatePacketIDError struct {
	PacketID uint16
}

func (e *DuplicatePacketIDError) Error() string {
	return "duplicate packet identifier " + strconv.Itoa(int(e.PacketID))
}

func (e *DuplicatePacketIDError) Unwrap() error { return ErrDuplicatePacketID }
