package mqttconn

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Connection manages one logical MQTT session against a single broker
// endpoint. It drives the protocol engine through its lifecycle (idle,
// connecting, connected, disconnecting) and correlates in-flight operations
// with their completion events.
//
// Connections are created with Client.NewConnection and may be reused: after
// a completed disconnect the connection returns to idle and Connect may be
// called again. All handlers run on the owning client's dispatch goroutine,
// strictly serialized; a handler never runs concurrently with another
// handler of the same client.
//
// All methods are safe for concurrent use.
type Connection struct {
	host   string
	port   uint16
	engine Engine

	dispatcher *dispatcher
	registry   *OperationRegistry
	logger     Logger
	metrics    *ConnectionMetrics
	limiter    *rate.Limiter

	// opMu serializes the connected check, engine submission, and registry
	// insertion against completion resolution and abandonment. An engine
	// that reports completion immediately (QoS 0 publish) still finds the
	// pending entry, and a submission can never land in a registry that
	// teardown already abandoned.
	opMu sync.Mutex

	mu           sync.Mutex
	valid        bool
	closed       bool
	state        ConnectionState
	lastErr      error
	sessionUp    bool
	connectStart time.Time

	will     *Will
	username string
	password []byte

	onConnectionFailed ConnectionFailedHandler
	onConnAck          ConnAckHandler
	onDisconnect       DisconnectHandler
}

// newFailedConnection returns an inert connection that only reports the
// construction error through IsValid and LastError.
func newFailedConnection(err error, logger Logger) *Connection {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &Connection{
		valid:   false,
		lastErr: err,
		logger:  logger,
		metrics: NewConnectionMetrics(nil),
	}
}

// IsValid reports whether the connection was constructed successfully. An
// invalid connection refuses every operation; inspect LastError for the
// construction failure.
func (c *Connection) IsValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valid && !c.closed
}

// LastError returns the most recent error recorded on the connection: the
// construction failure for an invalid connection, or the last connect or
// session failure otherwise. Nil when no error has occurred.
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetConnectionFailedHandler installs the handler invoked when a connect
// attempt fails or an established session is lost unexpectedly.
func (c *Connection) SetConnectionFailedHandler(handler ConnectionFailedHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectionFailed = handler
}

// SetConnAckHandler installs the handler invoked when the broker answers a
// connect attempt, whatever the return code.
func (c *Connection) SetConnAckHandler(handler ConnAckHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnAck = handler
}

// SetDisconnectHandler installs the handler invoked when a caller-initiated
// disconnect has completed. All pending operation handlers resolve before
// it fires.
func (c *Connection) SetDisconnectHandler(handler DisconnectHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = handler
}

// SetWill registers the Last Will message announced to the broker on the
// next connect. Only permitted while idle. The payload backing memory is
// borrowed and must stay valid for the connection lifetime.
func (c *Connection) SetWill(will *Will) error {
	if will != nil {
		if err := will.Validate(); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.valid || c.closed {
		return c.refusedLocked()
	}
	if c.state != StateIdle {
		return newStateError("SetWill", c.state)
	}

	c.will = will
	return nil
}

// SetLogin registers the credentials sent on the next connect. Only
// permitted while idle.
func (c *Connection) SetLogin(username string, password []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.valid || c.closed {
		return c.refusedLocked()
	}
	if c.state != StateIdle {
		return newStateError("SetLogin", c.state)
	}

	c.username = username
	c.password = password
	return nil
}

// Connect initiates the session handshake. keepAlive is the keep-alive
// interval in seconds; zero disables keep-alive probing. The outcome is
// reported through the ConnAck handler on success or refusal, or through
// the ConnectionFailed handler when the transport or handshake fails.
//
// Returns ErrAlreadyConnecting while an attempt is in flight and a state
// error when the session is already up or shutting down.
func (c *Connection) Connect(clientID string, cleanSession bool, keepAlive uint16) error {
	c.mu.Lock()

	if !c.valid || c.closed {
		err := c.refusedLocked()
		c.mu.Unlock()
		return err
	}

	switch c.state {
	case StateConnecting:
		c.mu.Unlock()
		return ErrAlreadyConnecting
	case StateConnected, StateDisconnecting:
		state := c.state
		c.mu.Unlock()
		return newStateError("Connect", state)
	}

	c.state = StateConnecting
	c.connectStart = time.Now()

	req := ConnectRequest{
		ClientID:     clientID,
		CleanSession: cleanSession,
		KeepAlive:    keepAlive,
		Will:         c.will,
		Username:     c.username,
		Password:     c.password,
	}
	c.mu.Unlock()

	c.metrics.ConnectStarted()
	c.logger.Info("connecting", LogFields{
		LogFieldClientID: clientID,
		LogFieldHost:     c.host,
		LogFieldPort:     c.port,
	})

	if err := c.engine.Connect(req); err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.lastErr = err
		c.mu.Unlock()
		c.metrics.ConnectFailed()
		return err
	}

	return nil
}

// Disconnect initiates a graceful shutdown of the session or aborts an
// in-flight connect attempt. Completion is reported through the Disconnect
// handler; every pending operation handler resolves with
// ErrOperationAbandoned before it fires.
//
// Calling Disconnect while idle is a no-op returning ErrNotConnected.
// Calling it again while a shutdown is already in flight is a silent no-op.
func (c *Connection) Disconnect() error {
	c.mu.Lock()

	if !c.valid || c.closed {
		err := c.refusedLocked()
		c.mu.Unlock()
		return err
	}

	switch c.state {
	case StateIdle:
		c.mu.Unlock()
		return ErrNotConnected
	case StateDisconnecting:
		c.mu.Unlock()
		return nil
	}

	c.state = StateDisconnecting
	c.mu.Unlock()

	c.logger.Info("disconnecting", LogFields{
		LogFieldHost: c.host,
		LogFieldPort: c.port,
	})

	return c.engine.Disconnect()
}

// Subscribe submits a subscription request and returns the packet
// identifier assigned to it. onPublish is invoked for every inbound message
// matching the filter until the filter is unsubscribed; onComplete fires
// exactly once when the suback arrives, or with ErrOperationAbandoned if
// the connection goes down first. Either handler may be nil.
func (c *Connection) Subscribe(filter string, qos QOS, onPublish PublishReceivedHandler, onComplete OperationCompleteHandler) (uint16, error) {
	if !qos.Valid() {
		return 0, ErrInvalidQoS
	}
	if err := ValidateTopicFilter(filter); err != nil {
		return 0, err
	}

	// The connected check must share the opMu critical section with the
	// engine submit and registry insert: abandonPending also runs under
	// opMu, so an operation can never slip in after the registry has been
	// abandoned for a teardown that already flipped the state.
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.requireConnected(); err != nil {
		return 0, err
	}

	packetID, err := c.engine.Subscribe(filter, qos)
	if err != nil {
		return 0, err
	}

	if err := c.registry.AddSubscription(filter, qos, onPublish); err != nil {
		return 0, err
	}
	if err := c.registry.Register(&PendingOperation{
		Kind:        OpSubscribe,
		PacketID:    packetID,
		TopicFilter: filter,
		OnComplete:  onComplete,
	}); err != nil {
		c.registry.RemoveSubscription(filter)
		return 0, err
	}

	c.metrics.OperationRegistered(OpSubscribe)
	c.logger.Debug("subscribe submitted", LogFields{
		LogFieldTopic:    filter,
		LogFieldQoS:      qos.String(),
		LogFieldPacketID: packetID,
	})

	return packetID, nil
}

// Unsubscribe submits an unsubscribe request and returns the packet
// identifier assigned to it. The publish handler for the filter is removed
// when the unsuback arrives. onComplete may be nil.
func (c *Connection) Unsubscribe(filter string, onComplete OperationCompleteHandler) (uint16, error) {
	if err := ValidateTopicFilter(filter); err != nil {
		return 0, err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.requireConnected(); err != nil {
		return 0, err
	}

	packetID, err := c.engine.Unsubscribe(filter)
	if err != nil {
		return 0, err
	}

	if err := c.registry.Register(&PendingOperation{
		Kind:        OpUnsubscribe,
		PacketID:    packetID,
		TopicFilter: filter,
		OnComplete:  onComplete,
	}); err != nil {
		return 0, err
	}

	c.metrics.OperationRegistered(OpUnsubscribe)
	c.logger.Debug("unsubscribe submitted", LogFields{
		LogFieldTopic:    filter,
		LogFieldPacketID: packetID,
	})

	return packetID, nil
}

// Publish submits an outbound message and returns the packet identifier
// assigned to it. onComplete fires exactly once: when the acknowledgment
// arrives for QoS 1 and 2, when the engine hands the message to the
// transport for QoS 0, or with ErrOperationAbandoned if the connection goes
// down first. The payload is borrowed and must stay valid until then.
//
// When an outbound rate limit is configured and exceeded, Publish fails
// fast with ErrPublishThrottled; the message is never queued.
func (c *Connection) Publish(topic string, qos QOS, retain bool, payload []byte, onComplete OperationCompleteHandler) (uint16, error) {
	if !qos.Valid() {
		return 0, ErrInvalidQoS
	}
	if err := ValidateTopicName(topic); err != nil {
		return 0, err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.requireConnected(); err != nil {
		return 0, err
	}

	if c.limiter != nil && !c.limiter.Allow() {
		c.logger.Warn("publish throttled", LogFields{
			LogFieldTopic: topic,
		})
		return 0, ErrPublishThrottled
	}

	packetID, err := c.engine.Publish(topic, qos, retain, payload)
	if err != nil {
		return 0, err
	}

	if err := c.registry.Register(&PendingOperation{
		Kind:       OpPublish,
		PacketID:   packetID,
		OnComplete: onComplete,
	}); err != nil {
		return 0, err
	}

	c.metrics.OperationRegistered(OpPublish)
	c.metrics.PublishSent(qos)
	c.logger.Debug("publish submitted", LogFields{
		LogFieldTopic:    topic,
		LogFieldQoS:      qos.String(),
		LogFieldPacketID: packetID,
	})

	return packetID, nil
}

// Ping sends a keep-alive probe outside the engine's own keep-alive
// schedule. No completion event is delivered.
func (c *Connection) Ping() error {
	if err := c.requireConnected(); err != nil {
		return err
	}

	if err := c.engine.Ping(); err != nil {
		return err
	}

	c.metrics.PingSent()
	return nil
}

// Close releases the connection. Pending operation handlers resolve with
// ErrOperationAbandoned on the dispatch goroutine, then the connection's
// reference on the dispatch context is dropped. Close is idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	wasValid := c.valid
	c.state = StateIdle
	c.mu.Unlock()

	if !wasValid {
		return nil
	}

	err := c.engine.Close()

	// The abandonment task runs before release, so the dispatcher is
	// still alive to execute it.
	c.dispatcher.enqueue(func() {
		c.abandonPending()
	})
	c.dispatcher.release()

	return err
}

func (c *Connection) refusedLocked() error {
	if !c.valid {
		if c.lastErr != nil {
			return c.lastErr
		}
		return ErrNotInitialized
	}
	return ErrConnectionClosed
}

func (c *Connection) requireConnected() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.valid || c.closed {
		return c.refusedLocked()
	}
	if c.state != StateConnected {
		return ErrNotConnected
	}
	return nil
}

// abandonPending resolves every in-flight operation with
// ErrOperationAbandoned and drops the subscription set. Runs on the
// dispatch goroutine.
func (c *Connection) abandonPending() {
	c.opMu.Lock()
	ops := c.registry.AbandonAll()
	c.registry.ClearSubscriptions()
	c.opMu.Unlock()

	for _, op := range ops {
		c.metrics.OperationAbandoned(op.Kind)
		if op.OnComplete != nil {
			op.OnComplete(c, op.PacketID, ErrOperationAbandoned)
		}
	}

	if len(ops) > 0 {
		c.logger.Info("abandoned pending operations", LogFields{
			"count": len(ops),
		})
	}
}

// handleConnAck processes the broker's answer to a connect attempt. Runs on
// the dispatch goroutine. Answers arriving outside the connecting state are
// stale (the caller already disconnected or closed) and dropped.
func (c *Connection) handleConnAck(code ConnectReturnCode, sessionPresent bool) {
	c.mu.Lock()

	if c.state != StateConnecting {
		state := c.state
		c.mu.Unlock()
		c.logger.Warn("dropping connack outside connecting state", LogFields{
			LogFieldState:      state.String(),
			LogFieldReturnCode: code.String(),
		})
		return
	}

	if code.IsAccepted() {
		c.state = StateConnected
		c.sessionUp = true
		elapsed := time.Since(c.connectStart)
		c.mu.Unlock()
		c.metrics.ConnectSucceeded(elapsed)
		c.logger.Info("connected", LogFields{
			LogFieldHost: c.host,
			LogFieldPort: c.port,
		})
	} else {
		c.state = StateIdle
		c.lastErr = NewConnectError(code)
		c.mu.Unlock()
		c.metrics.ConnectFailed()
		c.logger.Warn("connect refused", LogFields{
			LogFieldReturnCode: code.String(),
		})
	}

	c.mu.Lock()
	handler := c.onConnAck
	c.mu.Unlock()

	if handler != nil {
		handler(c, code, sessionPresent)
	}
}

// handleConnectionFailed processes a transport or handshake failure. Runs
// on the dispatch goroutine.
func (c *Connection) handleConnectionFailed(err error) {
	c.mu.Lock()

	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}

	wasUp := c.sessionUp
	if wasUp {
		err = NewConnectionLostError(err)
	}

	c.state = StateIdle
	c.sessionUp = false
	c.lastErr = err
	handler := c.onConnectionFailed
	c.mu.Unlock()

	c.metrics.ConnectFailed()
	if wasUp {
		c.metrics.Disconnected()
	}

	c.logger.Error("connection failed", LogFields{
		LogFieldHost:  c.host,
		LogFieldPort:  c.port,
		LogFieldError: err.Error(),
	})

	c.abandonPending()

	if handler != nil {
		handler(c, err)
	}
}

// handleDisconnected processes the completion of a shutdown. Runs on the
// dispatch goroutine. A disconnect event without a caller-initiated
// Disconnect means the engine observed the session going down and is
// reported as a connection failure instead.
func (c *Connection) handleDisconnected(err error) {
	c.mu.Lock()

	prev := c.state
	if prev == StateIdle {
		c.mu.Unlock()
		return
	}

	wasUp := c.sessionUp
	c.state = StateIdle
	c.sessionUp = false
	if err != nil {
		c.lastErr = err
	}
	onDisconnect := c.onDisconnect
	onFailed := c.onConnectionFailed
	c.mu.Unlock()

	if wasUp {
		c.metrics.Disconnected()
	}

	c.abandonPending()

	if prev == StateDisconnecting {
		c.logger.Info("disconnected", LogFields{
			LogFieldHost: c.host,
			LogFieldPort: c.port,
		})
		if onDisconnect != nil {
			onDisconnect(c)
		}
		return
	}

	lost := NewConnectionLostError(err)
	c.mu.Lock()
	c.lastErr = lost
	c.mu.Unlock()

	c.metrics.ConnectFailed()
	c.logger.Error("session lost", LogFields{
		LogFieldHost:  c.host,
		LogFieldPort:  c.port,
		LogFieldError: lost.Error(),
	})

	if onFailed != nil {
		onFailed(c, lost)
	}
}

// handleOperationComplete resolves an in-flight operation. Runs on the
// dispatch goroutine. Unknown identifiers are spurious or duplicate
// completions and are dropped.
func (c *Connection) handleOperationComplete(packetID uint16) {
	c.opMu.Lock()
	op, ok := c.registry.Resolve(packetID)
	c.opMu.Unlock()

	if !ok {
		c.logger.Debug("dropping completion for unknown packet identifier", LogFields{
			LogFieldPacketID: packetID,
		})
		return
	}

	c.metrics.OperationResolved(op.Kind)

	if op.Kind == OpUnsubscribe {
		c.registry.RemoveSubscription(op.TopicFilter)
	}

	if op.OnComplete != nil {
		op.OnComplete(c, packetID, nil)
	}
}

// handlePublishReceived delivers an inbound publish to every matching
// subscription handler. Runs on the dispatch goroutine.
func (c *Connection) handlePublishReceived(topic string, payload []byte) {
	for _, sub := range c.registry.Match(topic) {
		if sub.OnPublish == nil {
			continue
		}
		sub.OnPublish(c, topic, payload)
		c.metrics.MessageDelivered()
	}
}

// connectionEvents adapts a Connection to the EngineEvents sink. Every
// event only enqueues onto the owning client's dispatch queue, so engines
// may report from any goroutine.
type connectionEvents struct {
	conn *Connection
}

func (e *connectionEvents) OnConnAck(code ConnectReturnCode, sessionPresent bool) {
	c := e.conn
	c.dispatcher.enqueue(func() { c.handleConnAck(code, sessionPresent) })
}

func (e *connectionEvents) OnConnectionFailed(err error) {
	c := e.conn
	c.dispatcher.enqueue(func() { c.handleConnectionFailed(err) })
}

func (e *connectionEvents) OnDisconnected(err error) {
	c := e.conn
	c.dispatcher.enqueue(func() { c.handleDisconnected(err) })
}

func (e *connectionEvents) OnOperationComplete(packetID uint16) {
	c := e.conn
	c.dispatcher.enqueue(func() { c.handleOperationComplete(packetID) })
}

func (e *connectionEvents) OnPublishReceived(topic string, payload []byte) {
	c := e.conn
	// The engine only borrows the payload for the call; copy before
	// crossing onto the dispatch goroutine.
	buf := make([]byte, len(payload))
	copy(buf, payload)
	c.dispatcher.enqueue(func() { c.handlePublishReceived(topic, buf) })
}
