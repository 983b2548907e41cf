package mqttconn

// QOS is an MQTT quality-of-service level.
type QOS byte

const (
	// QOSAtMostOnce delivers messages at most once (fire and forget).
	QOSAtMostOnce QOS = 0

	// QOSAtLeastOnce delivers messages at least once (acknowledged delivery).
	QOSAtLeastOnce QOS = 1

	// QOSExactlyOnce delivers messages exactly once (assured delivery).
	QOSExactlyOnce QOS = 2
)

// String returns the string representation of the QoS level.
func (q QOS) String() string {
	switch q {
	case QOSAtMostOnce:
		return "at-most-once"
	case QOSAtLeastOnce:
		return "at-least-once"
	case QOSExactlyOnce:
		return "exactly-once"
	default:
		return "invalid"
	}
}

// Valid returns true if the QoS level is one of 0, 1, or 2.
func (q QOS) Valid() bool {
	return q <= QOSExactlyOnce
}

// ConnectReturnCode is the CONNACK return code sent by the broker in
// response to a connect attempt.
// MQTT v3.1.1 spec: Section 3.2.2.3
type ConnectReturnCode byte

const (
	// ConnectAccepted means the connection was accepted.
	ConnectAccepted ConnectReturnCode = 0

	// ConnectUnacceptableProtocol means the broker does not support the
	// requested protocol level.
	ConnectUnacceptableProtocol ConnectReturnCode = 1

	// ConnectIdentifierRejected means the client identifier is not allowed.
	ConnectIdentifierRejected ConnectReturnCode = 2

	// ConnectServerUnavailable means the network connection succeeded but
	// the MQTT service is unavailable.
	ConnectServerUnavailable ConnectReturnCode = 3

	// ConnectBadCredentials means the username or password is malformed.
	ConnectBadCredentials ConnectReturnCode = 4

	// ConnectNotAuthorized means the client is not authorized to connect.
	ConnectNotAuthorized ConnectReturnCode = 5
)

// String returns the string representation of the return code.
func (c ConnectReturnCode) String() string {
	switch c {
	case ConnectAccepted:
		return "connection accepted"
	case ConnectUnacceptableProtocol:
		return "unacceptable protocol version"
	case ConnectIdentifierRejected:
		return "identifier rejected"
	case ConnectServerUnavailable:
		return "server unavailable"
	case ConnectBadCredentials:
		return "bad user name or password"
	case ConnectNotAuthorized:
		return "not authorized"
	default:
		return "unknown return code"
	}
}

// IsAccepted returns true if the return code indicates a successful
// connection.
func (c ConnectReturnCode) IsAccepted() bool {
	return c == ConnectAccepted
}

// ConnectionState is the lifecycle state of a Connection.
type ConnectionState int32

const (
	// StateIdle is the initial state, before Connect and after a completed
	// Disconnect. A Connection in this state may be reused for reconnect.
	StateIdle ConnectionState = iota

	// StateConnecting means a connect attempt is in flight.
	StateConnecting

	// StateConnected means the session is established.
	StateConnected

	// StateDisconnecting means a graceful shutdown is in flight.
	StateDisconnecting
)

// String returns the string representation of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// ConnectionFailedHandler is invoked when a connect attempt fails at the
// transport or handshake level, or when an established session is lost
// unexpectedly. Invoked on the client's dispatch goroutine.
type ConnectionFailedHandler func(conn *Connection, err error)

// ConnAckHandler is invoked when a CONNACK is received, carrying the broker
// return code and the session-present flag. Invoked on the client's dispatch
// goroutine.
type ConnAckHandler func(conn *Connection, code ConnectReturnCode, sessionPresent bool)

// DisconnectHandler is invoked when a caller-initiated disconnect has
// completed. Invoked on the client's dispatch goroutine.
type DisconnectHandler func(conn *Connection)

// PublishReceivedHandler is invoked for every inbound publish matching the
// subscription's topic filter, until the filter is unsubscribed. The payload
// is only valid for the duration of the call; callers that need it longer
// must copy it. Invoked on the client's dispatch goroutine.
type PublishReceivedHandler func(conn *Connection, topic string, payload []byte)

// OperationCompleteHandler is invoked exactly once when a Subscribe,
// Unsubscribe, or Publish operation completes. err is nil on success and
// ErrOperationAbandoned when the connection went down with the operation
// still in flight. Invoked on the client's dispatch goroutine.
type OperationCompleteHandler func(conn *Connection, packetID uint16, err error)
