package mqttconn

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Client is the factory for Connections. It owns the dispatch goroutine on
// which every handler of every connection runs, and the shared bootstrap
// used to resolve socket and TLS options into transport dialers.
//
// Construction never returns an error: a client that could not be set up is
// returned in a failed, inert state queryable via IsValid and LastError,
// and every connection it creates inherits that failure. Callers that pass
// known-good configuration may skip the check.
//
// The dispatch context is reference-counted by the client and its live
// connections, so closing the client while connections are still open does
// not tear down handler delivery; the goroutine exits when the last
// connection closes.
type Client struct {
	bootstrap *Bootstrap
	options   *clientOptions

	dispatcher *dispatcher
	logger     Logger
	metrics    *ConnectionMetrics

	mu      sync.Mutex
	valid   bool
	closed  bool
	lastErr error
}

// NewClient creates a new client. The bootstrap and an engine factory
// (WithEngineFactory) are required; a client missing either is returned
// invalid.
func NewClient(bootstrap *Bootstrap, opts ...Option) *Client {
	options := applyOptions(opts...)

	c := &Client{
		bootstrap: bootstrap,
		options:   options,
		logger:    options.logger,
		metrics:   NewConnectionMetrics(options.metrics),
	}

	if bootstrap == nil {
		c.lastErr = fmt.Errorf("bootstrap is required: %w", ErrNotInitialized)
		return c
	}
	if options.engineFactory == nil {
		c.lastErr = fmt.Errorf("engine factory is required: %w", ErrNotInitialized)
		return c
	}

	c.valid = true
	c.dispatcher = newDispatcher(options.dispatchQueueSize, options.logger)
	return c
}

// IsValid reports whether the client was constructed successfully and has
// not been closed.
func (c *Client) IsValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valid && !c.closed
}

// LastError returns the construction failure of an invalid client, or nil.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// NewConnection creates a connection to the broker endpoint. For the unix
// scheme, host carries the socket file path and port is unused.
//
// Construction never returns nil: failures (invalid client, bad socket or
// TLS options, engine construction error) yield an inert connection whose
// IsValid is false and whose LastError holds the cause.
func (c *Client) NewConnection(host string, port uint16, sockOpts SocketOptions, tlsOpts *TLSOptions) *Connection {
	c.mu.Lock()
	if !c.valid {
		err := c.lastErr
		c.mu.Unlock()
		return newFailedConnection(err, c.logger)
	}
	if c.closed {
		c.mu.Unlock()
		return newFailedConnection(ErrClientClosed, c.logger)
	}
	c.mu.Unlock()

	dial, err := c.bootstrap.DialFunc(host, port, sockOpts, tlsOpts)
	if err != nil {
		c.logger.Error("failed to resolve transport options", LogFields{
			LogFieldHost:  host,
			LogFieldPort:  port,
			LogFieldError: err.Error(),
		})
		return newFailedConnection(err, c.logger)
	}

	var limiter *rate.Limiter
	if c.options.publishRate != rate.Inf {
		limiter = rate.NewLimiter(c.options.publishRate, c.options.publishBurst)
	}

	conn := &Connection{
		host:       host,
		port:       port,
		dispatcher: c.dispatcher,
		registry:   NewOperationRegistry(c.logger),
		logger:     c.logger,
		metrics:    c.metrics,
		limiter:    limiter,
		valid:      true,
		state:      StateIdle,
	}

	engine, err := c.options.engineFactory(EngineConfig{
		Host:   host,
		Port:   port,
		Dial:   dial,
		Events: &connectionEvents{conn: conn},
		Logger: c.logger,
	})
	if err != nil {
		c.logger.Error("engine construction failed", LogFields{
			LogFieldHost:  host,
			LogFieldPort:  port,
			LogFieldError: err.Error(),
		})
		return newFailedConnection(err, c.logger)
	}
	conn.engine = engine

	c.dispatcher.retain()

	c.logger.Debug("connection created", LogFields{
		LogFieldHost: host,
		LogFieldPort: port,
	})

	return conn
}

// Close drops the client's reference on the dispatch context. Connections
// already created stay usable; the dispatch goroutine exits once the last
// of them closes. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	wasValid := c.valid
	c.mu.Unlock()

	if wasValid {
		c.dispatcher.release()
	}
	return nil
}
