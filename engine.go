package mqttconn

import (
	"context"
	"net"
)

// ConnectRequest carries the session parameters for Engine.Connect.
type ConnectRequest struct {
	// ClientID is the MQTT client identifier.
	ClientID string

	// CleanSession requests a fresh session with no server-side state.
	CleanSession bool

	// KeepAlive is the keep-alive interval in seconds.
	KeepAlive uint16

	// Will is the optional Last Will specification. The payload backing
	// memory is borrowed and must stay valid for the connection lifetime.
	Will *Will

	// Username and Password are optional login credentials.
	Username string
	Password []byte
}

// Engine is the black-box protocol engine a Connection drives. It owns
// packet framing, the socket event loop, packet identifier allocation, and
// QoS retransmission. All methods are non-blocking: they enqueue work and
// report completion through the EngineEvents sink handed over at
// construction.
//
// Packet identifiers returned by Subscribe, Unsubscribe, and Publish must be
// unique among currently in-flight operations; the identifier may be reused
// once the matching completion event has been delivered.
type Engine interface {
	// Connect initiates the handshake. Completion is reported via
	// EngineEvents.OnConnAck or EngineEvents.OnConnectionFailed.
	Connect(req ConnectRequest) error

	// Disconnect initiates a graceful shutdown, reported via
	// EngineEvents.OnDisconnected.
	Disconnect() error

	// Subscribe submits a subscription request and returns the assigned
	// packet identifier. The suback is reported via
	// EngineEvents.OnOperationComplete.
	Subscribe(filter string, qos QOS) (uint16, error)

	// Unsubscribe submits an unsubscribe request and returns the assigned
	// packet identifier.
	Unsubscribe(filter string) (uint16, error)

	// Publish submits an outbound message and returns the assigned packet
	// identifier. For QoS 0 the engine may report completion immediately.
	// The payload is borrowed; it must stay valid until the completion
	// event for this identifier has been delivered.
	Publish(topic string, qos QOS, retain bool, payload []byte) (uint16, error)

	// Ping sends a keep-alive probe. No completion event is delivered.
	Ping() error

	// Close releases the engine state. No events are delivered afterwards.
	Close() error
}

// EngineEvents is the per-connection event sink the engine reports into.
// The sink pointer carries the connection context back on every invocation,
// so engines never need a process-wide callback registry. Implementations
// only enqueue onto the owning client's dispatch queue; it is safe to call
// these from any goroutine, including from within an Engine method.
type EngineEvents interface {
	// OnConnAck reports the CONNACK for the in-flight connect attempt.
	OnConnAck(code ConnectReturnCode, sessionPresent bool)

	// OnConnectionFailed reports a transport or handshake failure for the
	// in-flight connect attempt, or an unexpected loss of an established
	// session.
	OnConnectionFailed(err error)

	// OnDisconnected reports completion of a graceful shutdown. A non-nil
	// err means the transport went down before the shutdown finished.
	OnDisconnected(err error)

	// OnOperationComplete reports the suback, unsuback, or puback for an
	// in-flight operation.
	OnOperationComplete(packetID uint16)

	// OnPublishReceived reports an inbound publish. The payload is only
	// valid for the duration of the call.
	OnPublishReceived(topic string, payload []byte)
}

// DialFunc opens the transport connection for an engine. The returned
// net.Conn already honors the socket and TLS options the Connection was
// created with.
type DialFunc func(ctx context.Context) (net.Conn, error)

// EngineConfig is handed to an EngineFactory when a Connection is created.
type EngineConfig struct {
	// Host and Port identify the broker endpoint.
	Host string
	Port uint16

	// Dial opens the transport connection with the socket and TLS options
	// already applied. Engines must use it instead of dialing themselves.
	Dial DialFunc

	// Events is the per-connection sink the engine reports into.
	Events EngineEvents

	// Logger is never nil.
	Logger Logger
}

// EngineFactory creates the protocol engine for a new Connection. Returning
// an error leaves the Connection in a failed, inert state queryable via
// IsValid and LastError.
type EngineFactory func(cfg EngineConfig) (Engine, error)
