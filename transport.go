package mqttconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Conn represents a network connection to an MQTT broker.
type Conn interface {
	net.Conn
}

// Dialer establishes transport connections for the protocol engine.
type Dialer interface {
	// Dial connects to the address with the given context.
	Dial(ctx context.Context, address string) (Conn, error)
}

// TCPDialer connects to MQTT brokers over TCP.
type TCPDialer struct {
	// Timeout is the maximum time to wait for a connection.
	// Zero means no timeout.
	Timeout time.Duration

	// KeepAlivePeriod is the TCP keep-alive probe interval. Negative
	// disables keep-alive.
	KeepAlivePeriod time.Duration

	// NoDelay disables Nagle's algorithm when true.
	NoDelay bool

	// Forward optionally routes the connection through a proxy.
	Forward *ProxyDialer
}

// Dial connects to the address.
func (d *TCPDialer) Dial(ctx context.Context, address string) (Conn, error) {
	var conn net.Conn
	var err error

	if d.Forward != nil {
		conn, err = d.Forward.DialContext(ctx, "tcp", address)
	} else {
		dialer := net.Dialer{
			Timeout:   d.Timeout,
			KeepAlive: d.KeepAlivePeriod,
		}
		conn, err = dialer.DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return nil, err
	}

	if tcp, ok := conn.(*net.TCPConn); ok && d.NoDelay {
		tcp.SetNoDelay(true)
	}

	return conn, nil
}

// TLSDialer connects to MQTT brokers over TLS.
type TLSDialer struct {
	// Config is the TLS configuration.
	Config *tls.Config

	// TCP carries the underlying socket options.
	TCP TCPDialer
}

// Dial connects to the address and completes the TLS handshake.
func (d *TLSDialer) Dial(ctx context.Context, address string) (Conn, error) {
	raw, err := d.TCP.Dial(ctx, address)
	if err != nil {
		return nil, err
	}

	config := d.Config
	if config == nil {
		config = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	tlsConn := tls.Client(raw, config)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}

	return tlsConn, nil
}

// Bootstrap resolves socket and TLS options into transport dialers. A
// single bootstrap is shared by every connection of a client; it holds no
// per-connection state.
type Bootstrap struct {
	// Logger is used for transport-level logging. Nil disables logging.
	Logger Logger
}

// NewBootstrap creates a new bootstrap.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{Logger: NewNoOpLogger()}
}

// DialFunc builds the dial function for a broker endpoint with the given
// socket and TLS options applied. The returned function is handed to the
// protocol engine through EngineConfig; option resolution errors (bad
// proxy URL, unparseable CA bundle, unknown scheme) surface here, at
// connection construction time.
func (b *Bootstrap) DialFunc(host string, port uint16, sockOpts SocketOptions, tlsOpts *TLSOptions) (DialFunc, error) {
	scheme := sockOpts.scheme(tlsOpts)
	address := net.JoinHostPort(host, strconv.Itoa(int(port)))

	var tlsConfig *tls.Config
	if tlsOpts != nil {
		cfg, err := tlsOpts.Config(host)
		if err != nil {
			return nil, err
		}
		tlsConfig = cfg
	}

	var forward *ProxyDialer
	if sockOpts.Proxy != nil {
		if scheme == SchemeUnix || scheme == SchemeQUIC {
			return nil, fmt.Errorf("proxy not supported for scheme %q", scheme)
		}
		dialer, err := NewProxyDialer(sockOpts.Proxy.URL, sockOpts.Proxy.Username, sockOpts.Proxy.Password)
		if err != nil {
			return nil, err
		}
		forward = dialer
	}

	tcp := TCPDialer{
		Timeout:         sockOpts.connectTimeout(),
		KeepAlivePeriod: sockOpts.keepAlivePeriod(),
		NoDelay:         sockOpts.NoDelay,
		Forward:         forward,
	}

	var dialer Dialer

	switch scheme {
	case SchemeTCP:
		dialer = &tcp

	case SchemeTLS:
		dialer = &TLSDialer{Config: tlsConfig, TCP: tcp}

	case SchemeWS, SchemeWSS:
		address = scheme + "://" + net.JoinHostPort(host, strconv.Itoa(int(port)))
		ws := NewWSDialer()
		if tlsConfig != nil && ws.Dialer != nil {
			ws.Dialer.TLSClientConfig = tlsConfig
		}
		dialer = ws

	case SchemeUnix:
		// The host carries the socket file path; the port is unused.
		address = host
		dialer = NewUnixDialer()

	case SchemeQUIC:
		dialer = NewQUICDialer(tlsConfig)

	default:
		return nil, fmt.Errorf("unsupported scheme: %s", scheme)
	}

	timeout := sockOpts.connectTimeout()

	return func(ctx context.Context) (net.Conn, error) {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		conn, err := dialer.Dial(dialCtx, address)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}, nil
}
