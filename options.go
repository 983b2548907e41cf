package mqttconn

import (
	"time"

	"golang.org/x/time/rate"
)

// Default socket option values.
const (
	DefaultConnectTimeout   = 30 * time.Second
	DefaultKeepAlivePeriod  = 30 * time.Second
	defaultPublishRateBurst = 1
)

// Transport schemes understood by the bootstrap.
const (
	SchemeTCP  = "tcp"
	SchemeTLS  = "tls"
	SchemeWS   = "ws"
	SchemeWSS  = "wss"
	SchemeUnix = "unix"
	SchemeQUIC = "quic"
)

// SocketOptions configures the transport socket for a connection. The
// options are passed through to the bootstrap unmodified; the protocol
// engine never sees them.
type SocketOptions struct {
	// Scheme selects the transport: tcp, tls, ws, wss, unix, or quic.
	// Empty defaults to tcp, or tls when TLS options are present.
	Scheme string

	// ConnectTimeout is the maximum time to establish the transport
	// connection. Zero uses DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// KeepAlivePeriod is the TCP keep-alive probe interval. Zero uses
	// DefaultKeepAlivePeriod; negative disables TCP keep-alive.
	KeepAlivePeriod time.Duration

	// NoDelay disables Nagle's algorithm on TCP sockets when true.
	NoDelay bool

	// Proxy routes the connection through an HTTP CONNECT or SOCKS5
	// proxy. Not supported for unix and quic schemes.
	Proxy *ProxyConfig
}

// DefaultSocketOptions returns socket options with the default timeouts
// and TCP no-delay enabled.
func DefaultSocketOptions() SocketOptions {
	return SocketOptions{
		ConnectTimeout:  DefaultConnectTimeout,
		KeepAlivePeriod: DefaultKeepAlivePeriod,
		NoDelay:         true,
	}
}

func (o SocketOptions) connectTimeout() time.Duration {
	if o.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}
	return o.ConnectTimeout
}

func (o SocketOptions) keepAlivePeriod() time.Duration {
	if o.KeepAlivePeriod == 0 {
		return DefaultKeepAlivePeriod
	}
	if o.KeepAlivePeriod < 0 {
		return -1
	}
	return o.KeepAlivePeriod
}

// scheme resolves the effective transport scheme.
func (o SocketOptions) scheme(tlsOpts *TLSOptions) string {
	if o.Scheme != "" {
		return o.Scheme
	}
	if tlsOpts != nil {
		return SchemeTLS
	}
	return SchemeTCP
}

// clientOptions holds configuration for a Client.
type clientOptions struct {
	engineFactory EngineFactory
	logger        Logger
	metrics       Metrics

	dispatchQueueSize int

	publishRate  rate.Limit
	publishBurst int
}

// Option configures a Client.
type Option func(*clientOptions)

func applyOptions(opts ...Option) *clientOptions {
	options := &clientOptions{
		logger:       NewNoOpLogger(),
		metrics:      &NoOpMetrics{},
		publishRate:  rate.Inf,
		publishBurst: defaultPublishRateBurst,
	}

	for _, opt := range opts {
		opt(options)
	}

	return options
}

// WithEngineFactory sets the protocol engine factory used for every
// connection the client creates. A client without an engine factory is not
// usable.
func WithEngineFactory(factory EngineFactory) Option {
	return func(o *clientOptions) {
		o.engineFactory = factory
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to no-op metrics.
func WithMetrics(metrics Metrics) Option {
	return func(o *clientOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithDispatchQueueSize bounds the client's handler dispatch queue. Events
// arriving while the queue is full are dropped and logged. Defaults to
// 1024.
func WithDispatchQueueSize(size int) Option {
	return func(o *clientOptions) {
		o.dispatchQueueSize = size
	}
}

// WithPublishRateLimit throttles outbound publishes across each of the
// client's connections. A publish over the limit fails fast with
// ErrPublishThrottled; it is never queued. Defaults to unlimited.
func WithPublishRateLimit(limit rate.Limit, burst int) Option {
	return func(o *clientOptions) {
		o.publishRate = limit
		if burst > 0 {
			o.publishBurst = burst
		}
	}
}
