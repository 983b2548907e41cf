// Package mqttconn provides connection lifecycle management for MQTT v3.1.1
// clients built on a pluggable protocol engine.
//
// This package implements the MQTT Version 3.1.1 OASIS Standard:
// https://docs.oasis-open.org/mqtt/mqtt/v3.1.1/mqtt-v3.1.1.html
//
// # Features
//
//   - Client factory producing independently managed broker connections
//   - Connection state machine (idle, connecting, connected, disconnecting)
//   - Packet-identifier correlation of in-flight subscribe, unsubscribe,
//     and publish operations with exactly-once completion delivery
//   - Topic matching with wildcard support (+, #)
//   - Transport: TCP, TLS, WebSocket, WSS, Unix sockets, QUIC
//   - HTTP CONNECT and SOCKS5 proxy support
//   - Last Will and login configuration per connection
//   - Pluggable logging and metrics
//
// # Architecture
//
// The package does not frame packets itself. A Connection drives a protocol
// Engine supplied through an EngineFactory; the engine owns the socket
// loop, packet encoding, packet identifier allocation, and QoS
// retransmission, and reports completions through the EngineEvents sink.
// The connection manager layers lifecycle state, operation correlation, and
// serialized handler dispatch on top.
//
// # Usage
//
// Create a client with a bootstrap and an engine factory, then connections
// from the client:
//
//	client := mqttconn.NewClient(mqttconn.NewBootstrap(),
//	    mqttconn.WithEngineFactory(factory),
//	)
//	defer client.Close()
//
//	conn := client.NewConnection("broker.example.com", 8883,
//	    mqttconn.DefaultSocketOptions(),
//	    &mqttconn.TLSOptions{RootCAPEM: caBundle},
//	)
//	defer conn.Close()
//
//	conn.SetConnAckHandler(func(c *mqttconn.Connection, code mqttconn.ConnectReturnCode, sessionPresent bool) {
//	    // session established when code.IsAccepted()
//	})
//	conn.Connect("my-client", true, 60)
//
// All handlers of all connections created by one client run serialized on a
// single dispatch goroutine; no handler ever runs concurrently with another
// handler of the same client.
package mqttconn
