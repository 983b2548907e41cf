package mqttconn

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// fakeEngine is a scriptable protocol engine. Tests drive completions by
// calling into the EngineEvents sink captured at construction.
type fakeEngine struct {
	mu     sync.Mutex
	events EngineEvents

	nextID  uint16
	fixedID uint16

	connectReqs []ConnectRequest
	subscribes  []string
	publishes   []string
	disconnects int
	pings       int
	closes      int

	connectErr error
	publishErr error

	// completeOnPublish synthesizes the completion event before Publish
	// returns, the way an engine reports a QoS 0 publish.
	completeOnPublish bool

	// subscribeHook runs mid-submission, before Subscribe returns, to
	// inject events racing the submit.
	subscribeHook func()
}

func (e *fakeEngine) allocID() uint16 {
	if e.fixedID != 0 {
		return e.fixedID
	}
	e.nextID++
	return e.nextID
}

func (e *fakeEngine) Connect(req ConnectRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connectReqs = append(e.connectReqs, req)
	return e.connectErr
}

func (e *fakeEngine) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disconnects++
	return nil
}

func (e *fakeEngine) Subscribe(filter string, _ QOS) (uint16, error) {
	e.mu.Lock()
	e.subscribes = append(e.subscribes, filter)
	id := e.allocID()
	hook := e.subscribeHook
	e.mu.Unlock()

	if hook != nil {
		hook()
	}
	return id, nil
}

func (e *fakeEngine) Unsubscribe(_ string) (uint16, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.allocID(), nil
}

func (e *fakeEngine) Publish(topic string, _ QOS, _ bool, _ []byte) (uint16, error) {
	e.mu.Lock()
	if e.publishErr != nil {
		err := e.publishErr
		e.mu.Unlock()
		return 0, err
	}
	e.publishes = append(e.publishes, topic)
	id := e.allocID()
	e.mu.Unlock()

	if e.completeOnPublish {
		e.events.OnOperationComplete(id)
	}
	return id, nil
}

func (e *fakeEngine) Ping() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pings++
	return nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes++
	return nil
}

func (e *fakeEngine) lastConnectReq() ConnectRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connectReqs[len(e.connectReqs)-1]
}

func newTestConnection(t *testing.T, opts ...Option) (*Connection, *fakeEngine) {
	t.Helper()

	eng := &fakeEngine{}
	factory := func(cfg EngineConfig) (Engine, error) {
		eng.events = cfg.Events
		return eng, nil
	}

	client := NewClient(NewBootstrap(), append([]Option{WithEngineFactory(factory)}, opts...)...)
	require.True(t, client.IsValid())

	conn := client.NewConnection("broker.test", 1883, DefaultSocketOptions(), nil)
	require.True(t, conn.IsValid())

	t.Cleanup(func() {
		conn.Close()
		client.Close()
	})

	return conn, eng
}

func connectAccepted(t *testing.T, conn *Connection, eng *fakeEngine) {
	t.Helper()

	acked := make(chan ConnectReturnCode, 1)
	conn.SetConnAckHandler(func(_ *Connection, code ConnectReturnCode, _ bool) {
		acked <- code
	})

	require.NoError(t, conn.Connect("test-client", true, 60))
	require.Equal(t, StateConnecting, conn.State())

	eng.events.OnConnAck(ConnectAccepted, false)

	select {
	case code := <-acked:
		require.True(t, code.IsAccepted())
	case <-time.After(time.Second):
		t.Fatal("connack handler not invoked")
	}

	require.Equal(t, StateConnected, conn.State())
}

func TestConnectionConnect(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		conn, eng := newTestConnection(t)
		connectAccepted(t, conn, eng)

		req := eng.lastConnectReq()
		assert.Equal(t, "test-client", req.ClientID)
		assert.True(t, req.CleanSession)
		assert.Equal(t, uint16(60), req.KeepAlive)
	})

	t.Run("refused by broker", func(t *testing.T) {
		conn, eng := newTestConnection(t)

		acked := make(chan ConnectReturnCode, 1)
		conn.SetConnAckHandler(func(_ *Connection, code ConnectReturnCode, _ bool) {
			acked <- code
		})

		require.NoError(t, conn.Connect("test-client", true, 60))
		eng.events.OnConnAck(ConnectNotAuthorized, false)

		select {
		case code := <-acked:
			assert.Equal(t, ConnectNotAuthorized, code)
		case <-time.After(time.Second):
			t.Fatal("connack handler not invoked")
		}

		assert.Equal(t, StateIdle, conn.State())
		assert.ErrorIs(t, conn.LastError(), ErrConnectRefused)

		var connErr *ConnectError
		require.ErrorAs(t, conn.LastError(), &connErr)
		assert.Equal(t, ConnectNotAuthorized, connErr.ReturnCode)
	})

	t.Run("transport failure", func(t *testing.T) {
		conn, eng := newTestConnection(t)

		failed := make(chan error, 1)
		conn.SetConnectionFailedHandler(func(_ *Connection, err error) {
			failed <- err
		})

		require.NoError(t, conn.Connect("test-client", true, 60))

		cause := errors.New("dial tcp: connection refused")
		eng.events.OnConnectionFailed(cause)

		select {
		case err := <-failed:
			assert.Equal(t, cause, err)
		case <-time.After(time.Second):
			t.Fatal("connection failed handler not invoked")
		}

		assert.Equal(t, StateIdle, conn.State())
		assert.Equal(t, cause, conn.LastError())
	})

	t.Run("synchronous engine error", func(t *testing.T) {
		conn, eng := newTestConnection(t)
		eng.connectErr = errors.New("engine refused")

		err := conn.Connect("test-client", true, 60)
		require.Error(t, err)
		assert.Equal(t, StateIdle, conn.State())
		assert.Equal(t, err, conn.LastError())
	})

	t.Run("already connecting", func(t *testing.T) {
		conn, _ := newTestConnection(t)

		require.NoError(t, conn.Connect("test-client", true, 60))
		assert.ErrorIs(t, conn.Connect("test-client", true, 60), ErrAlreadyConnecting)
	})

	t.Run("already connected", func(t *testing.T) {
		conn, eng := newTestConnection(t)
		connectAccepted(t, conn, eng)

		err := conn.Connect("test-client", true, 60)
		assert.ErrorIs(t, err, ErrInvalidState)

		var stateErr *StateError
		require.ErrorAs(t, err, &stateErr)
		assert.Equal(t, StateConnected, stateErr.State)
	})

	t.Run("reconnect after disconnect", func(t *testing.T) {
		conn, eng := newTestConnection(t)
		connectAccepted(t, conn, eng)

		done := make(chan struct{})
		conn.SetDisconnectHandler(func(_ *Connection) { close(done) })

		require.NoError(t, conn.Disconnect())
		eng.events.OnDisconnected(nil)

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("disconnect handler not invoked")
		}

		connectAccepted(t, conn, eng)
	})
}

func TestConnectionDisconnect(t *testing.T) {
	t.Run("idle is a no-op", func(t *testing.T) {
		conn, eng := newTestConnection(t)

		assert.ErrorIs(t, conn.Disconnect(), ErrNotConnected)
		assert.Equal(t, 0, eng.disconnects)
	})

	t.Run("repeated disconnect is a no-op", func(t *testing.T) {
		conn, eng := newTestConnection(t)
		connectAccepted(t, conn, eng)

		require.NoError(t, conn.Disconnect())
		require.NoError(t, conn.Disconnect())
		assert.Equal(t, 1, eng.disconnects)
	})

	t.Run("abort in-flight connect", func(t *testing.T) {
		conn, eng := newTestConnection(t)

		acked := make(chan struct{}, 1)
		conn.SetConnAckHandler(func(_ *Connection, _ ConnectReturnCode, _ bool) {
			acked <- struct{}{}
		})
		done := make(chan struct{})
		conn.SetDisconnectHandler(func(_ *Connection) { close(done) })

		require.NoError(t, conn.Connect("test-client", true, 60))
		require.NoError(t, conn.Disconnect())

		// The connack raced with the disconnect; it must be dropped.
		eng.events.OnConnAck(ConnectAccepted, false)
		eng.events.OnDisconnected(nil)

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("disconnect handler not invoked")
		}

		select {
		case <-acked:
			t.Fatal("stale connack was delivered")
		default:
		}

		assert.Equal(t, StateIdle, conn.State())
	})

	t.Run("pending operations resolve before disconnect handler", func(t *testing.T) {
		conn, eng := newTestConnection(t)
		connectAccepted(t, conn, eng)

		var order []string
		done := make(chan struct{})

		complete := func(_ *Connection, _ uint16, err error) {
			require.ErrorIs(t, err, ErrOperationAbandoned)
			order = append(order, "complete")
		}

		_, err := conn.Publish("a/b", QOSAtLeastOnce, false, []byte("one"), complete)
		require.NoError(t, err)
		_, err = conn.Publish("a/b", QOSAtLeastOnce, false, []byte("two"), complete)
		require.NoError(t, err)

		conn.SetDisconnectHandler(func(_ *Connection) {
			order = append(order, "disconnect")
			close(done)
		})

		require.NoError(t, conn.Disconnect())
		eng.events.OnDisconnected(nil)

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("disconnect handler not invoked")
		}

		assert.Equal(t, []string{"complete", "complete", "disconnect"}, order)
		assert.Equal(t, 0, conn.registry.PendingCount())
	})
}

func TestConnectionSessionLoss(t *testing.T) {
	t.Run("transport failure while connected", func(t *testing.T) {
		conn, eng := newTestConnection(t)
		connectAccepted(t, conn, eng)

		var order []string
		failed := make(chan error, 1)
		conn.SetConnectionFailedHandler(func(_ *Connection, err error) {
			order = append(order, "failed")
			failed <- err
		})

		_, err := conn.Publish("a/b", QOSAtLeastOnce, false, []byte("x"),
			func(_ *Connection, _ uint16, err error) {
				require.ErrorIs(t, err, ErrOperationAbandoned)
				order = append(order, "complete")
			})
		require.NoError(t, err)

		eng.events.OnConnectionFailed(io.ErrUnexpectedEOF)

		select {
		case err := <-failed:
			assert.ErrorIs(t, err, ErrConnectionLost)
			var lost *ConnectionLostError
			require.ErrorAs(t, err, &lost)
			assert.Equal(t, io.ErrUnexpectedEOF, lost.Cause)
		case <-time.After(time.Second):
			t.Fatal("connection failed handler not invoked")
		}

		assert.Equal(t, []string{"complete", "failed"}, order)
		assert.Equal(t, StateIdle, conn.State())
		assert.ErrorIs(t, conn.LastError(), ErrConnectionLost)
	})

	t.Run("unsolicited disconnect reported as failure", func(t *testing.T) {
		conn, eng := newTestConnection(t)
		connectAccepted(t, conn, eng)

		failed := make(chan error, 1)
		conn.SetConnectionFailedHandler(func(_ *Connection, err error) {
			failed <- err
		})
		conn.SetDisconnectHandler(func(_ *Connection) {
			t.Error("disconnect handler must not fire without Disconnect")
		})

		eng.events.OnDisconnected(io.EOF)

		select {
		case err := <-failed:
			assert.ErrorIs(t, err, ErrConnectionLost)
		case <-time.After(time.Second):
			t.Fatal("connection failed handler not invoked")
		}

		assert.Equal(t, StateIdle, conn.State())
	})
}

func TestConnectionSubscribe(t *testing.T) {
	t.Run("suback and delivery", func(t *testing.T) {
		conn, eng := newTestConnection(t)
		connectAccepted(t, conn, eng)

		completed := make(chan uint16, 1)
		received := make(chan []byte, 1)

		packetID, err := conn.Subscribe("sensors/+/temp", QOSAtLeastOnce,
			func(_ *Connection, topic string, payload []byte) {
				assert.Equal(t, "sensors/room1/temp", topic)
				received <- payload
			},
			func(_ *Connection, id uint16, err error) {
				require.NoError(t, err)
				completed <- id
			})
		require.NoError(t, err)
		require.NotZero(t, packetID)

		eng.events.OnOperationComplete(packetID)

		select {
		case id := <-completed:
			assert.Equal(t, packetID, id)
		case <-time.After(time.Second):
			t.Fatal("completion handler not invoked")
		}

		eng.events.OnPublishReceived("sensors/room1/temp", []byte("21.5"))

		select {
		case payload := <-received:
			assert.Equal(t, []byte("21.5"), payload)
		case <-time.After(time.Second):
			t.Fatal("publish handler not invoked")
		}
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		conn, eng := newTestConnection(t)
		connectAccepted(t, conn, eng)

		received := make(chan string, 4)
		subID, err := conn.Subscribe("a/b", QOSAtMostOnce,
			func(_ *Connection, topic string, _ []byte) { received <- topic },
			nil)
		require.NoError(t, err)
		eng.events.OnOperationComplete(subID)

		eng.events.OnPublishReceived("a/b", []byte("first"))
		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatal("publish handler not invoked")
		}

		unsubbed := make(chan struct{})
		unsubID, err := conn.Unsubscribe("a/b", func(_ *Connection, _ uint16, err error) {
			require.NoError(t, err)
			close(unsubbed)
		})
		require.NoError(t, err)
		eng.events.OnOperationComplete(unsubID)

		select {
		case <-unsubbed:
		case <-time.After(time.Second):
			t.Fatal("unsubscribe completion not invoked")
		}

		eng.events.OnPublishReceived("a/b", []byte("second"))

		// Serialize behind any in-flight delivery before checking.
		flushed := make(chan struct{})
		conn.dispatcher.enqueue(func() { close(flushed) })
		<-flushed

		select {
		case topic := <-received:
			t.Fatalf("delivery after unsubscribe: %s", topic)
		default:
		}
	})

	t.Run("failed registration rolls back subscription", func(t *testing.T) {
		conn, eng := newTestConnection(t)
		eng.fixedID = 4
		connectAccepted(t, conn, eng)

		_, err := conn.Subscribe("a/b", QOSAtMostOnce, nil, nil)
		require.NoError(t, err)

		received := make(chan string, 1)
		_, err = conn.Subscribe("c/d", QOSAtMostOnce,
			func(_ *Connection, topic string, _ []byte) { received <- topic },
			nil)
		require.ErrorIs(t, err, ErrDuplicatePacketID)
		assert.Equal(t, 1, conn.registry.SubscriptionCount())

		eng.events.OnPublishReceived("c/d", []byte("x"))

		flushed := make(chan struct{})
		conn.dispatcher.enqueue(func() { close(flushed) })
		<-flushed

		select {
		case topic := <-received:
			t.Fatalf("delivery for rolled-back subscription: %s", topic)
		default:
		}
	})

	t.Run("precondition errors", func(t *testing.T) {
		conn, eng := newTestConnection(t)

		_, err := conn.Subscribe("a/b", QOSAtMostOnce, nil, nil)
		assert.ErrorIs(t, err, ErrNotConnected)

		connectAccepted(t, conn, eng)

		_, err = conn.Subscribe("bad#", QOSAtMostOnce, nil, nil)
		assert.ErrorIs(t, err, ErrInvalidTopicFilter)

		_, err = conn.Subscribe("a/b", QOS(3), nil, nil)
		assert.ErrorIs(t, err, ErrInvalidQoS)

		_, err = conn.Unsubscribe("", nil)
		assert.ErrorIs(t, err, ErrEmptyTopic)
	})
}

func TestConnectionSubmitDuringTeardown(t *testing.T) {
	t.Run("session drops mid-subscribe", func(t *testing.T) {
		conn, eng := newTestConnection(t)
		connectAccepted(t, conn, eng)

		// The session goes down while the subscribe is still inside the
		// engine; the operation registered by the submit must be swept by
		// the teardown, not orphaned.
		eng.subscribeHook = func() {
			eng.events.OnDisconnected(io.EOF)
		}

		failed := make(chan error, 1)
		conn.SetConnectionFailedHandler(func(_ *Connection, err error) { failed <- err })

		completed := make(chan error, 2)
		_, err := conn.Subscribe("a/b", QOSAtMostOnce, nil,
			func(_ *Connection, _ uint16, err error) { completed <- err })
		require.NoError(t, err)

		select {
		case err := <-completed:
			assert.ErrorIs(t, err, ErrOperationAbandoned)
		case <-time.After(time.Second):
			t.Fatal("completion handler not invoked")
		}

		select {
		case err := <-failed:
			assert.ErrorIs(t, err, ErrConnectionLost)
		case <-time.After(time.Second):
			t.Fatal("connection failed handler not invoked")
		}

		assert.Equal(t, 0, conn.registry.PendingCount())
		assert.Equal(t, 0, conn.registry.SubscriptionCount())

		flushed := make(chan struct{})
		conn.dispatcher.enqueue(func() { close(flushed) })
		<-flushed

		select {
		case <-completed:
			t.Fatal("completion handler invoked twice")
		default:
		}
	})

	t.Run("submit refused once teardown processed", func(t *testing.T) {
		conn, eng := newTestConnection(t)
		connectAccepted(t, conn, eng)

		done := make(chan struct{})
		conn.SetDisconnectHandler(func(_ *Connection) { close(done) })

		require.NoError(t, conn.Disconnect())
		eng.events.OnDisconnected(nil)

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("disconnect handler not invoked")
		}

		_, err := conn.Subscribe("a/b", QOSAtMostOnce, nil, nil)
		assert.ErrorIs(t, err, ErrNotConnected)
		_, err = conn.Publish("a/b", QOSAtMostOnce, false, nil, nil)
		assert.ErrorIs(t, err, ErrNotConnected)

		// Nothing reached the engine or repopulated the cleared registry.
		assert.Empty(t, eng.subscribes)
		assert.Empty(t, eng.publishes)
		assert.Equal(t, 0, conn.registry.PendingCount())
		assert.Equal(t, 0, conn.registry.SubscriptionCount())
	})
}

func TestConnectionPublish(t *testing.T) {
	t.Run("acknowledged completion", func(t *testing.T) {
		conn, eng := newTestConnection(t)
		connectAccepted(t, conn, eng)

		completed := make(chan error, 1)
		packetID, err := conn.Publish("a/b", QOSAtLeastOnce, false, []byte("x"),
			func(_ *Connection, _ uint16, err error) { completed <- err })
		require.NoError(t, err)

		eng.events.OnOperationComplete(packetID)

		select {
		case err := <-completed:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("completion handler not invoked")
		}

		assert.Equal(t, 0, conn.registry.PendingCount())
	})

	t.Run("immediate completion still delivered", func(t *testing.T) {
		conn, eng := newTestConnection(t)
		eng.completeOnPublish = true
		connectAccepted(t, conn, eng)

		completed := make(chan error, 1)
		_, err := conn.Publish("a/b", QOSAtMostOnce, false, []byte("x"),
			func(_ *Connection, _ uint16, err error) { completed <- err })
		require.NoError(t, err)

		select {
		case err := <-completed:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("completion handler not invoked")
		}
	})

	t.Run("duplicate packet identifier refused", func(t *testing.T) {
		conn, eng := newTestConnection(t)
		eng.fixedID = 9
		connectAccepted(t, conn, eng)

		_, err := conn.Publish("a/b", QOSAtLeastOnce, false, []byte("x"), nil)
		require.NoError(t, err)

		_, err = conn.Publish("a/b", QOSAtLeastOnce, false, []byte("y"), nil)
		assert.ErrorIs(t, err, ErrDuplicatePacketID)
	})

	t.Run("spurious completion dropped", func(t *testing.T) {
		conn, eng := newTestConnection(t)
		connectAccepted(t, conn, eng)

		eng.events.OnOperationComplete(999)

		flushed := make(chan struct{})
		conn.dispatcher.enqueue(func() { close(flushed) })
		select {
		case <-flushed:
		case <-time.After(time.Second):
			t.Fatal("dispatcher stalled")
		}
	})

	t.Run("precondition errors", func(t *testing.T) {
		conn, eng := newTestConnection(t)

		_, err := conn.Publish("a/b", QOSAtMostOnce, false, nil, nil)
		assert.ErrorIs(t, err, ErrNotConnected)

		connectAccepted(t, conn, eng)

		_, err = conn.Publish("bad/+/topic", QOSAtMostOnce, false, nil, nil)
		assert.ErrorIs(t, err, ErrInvalidTopicName)

		_, err = conn.Publish("a/b", QOS(7), false, nil, nil)
		assert.ErrorIs(t, err, ErrInvalidQoS)
	})

	t.Run("rate limited", func(t *testing.T) {
		conn, eng := newTestConnection(t, WithPublishRateLimit(rate.Limit(0.001), 1))
		connectAccepted(t, conn, eng)

		_, err := conn.Publish("a/b", QOSAtMostOnce, false, nil, nil)
		require.NoError(t, err)

		_, err = conn.Publish("a/b", QOSAtMostOnce, false, nil, nil)
		assert.ErrorIs(t, err, ErrPublishThrottled)

		// Throttled messages are never submitted to the engine.
		assert.Len(t, eng.publishes, 1)
	})
}

func TestConnectionPing(t *testing.T) {
	conn, eng := newTestConnection(t)

	assert.ErrorIs(t, conn.Ping(), ErrNotConnected)

	connectAccepted(t, conn, eng)

	require.NoError(t, conn.Ping())
	assert.Equal(t, 1, eng.pings)
}

func TestConnectionSetWillSetLogin(t *testing.T) {
	t.Run("carried into connect request", func(t *testing.T) {
		conn, eng := newTestConnection(t)

		will := &Will{Topic: "status/offline", QoS: QOSAtLeastOnce, Retain: true, Payload: []byte("gone")}
		require.NoError(t, conn.SetWill(will))
		require.NoError(t, conn.SetLogin("device-1", []byte("secret")))

		connectAccepted(t, conn, eng)

		req := eng.lastConnectReq()
		assert.Same(t, will, req.Will)
		assert.Equal(t, "device-1", req.Username)
		assert.Equal(t, []byte("secret"), req.Password)
	})

	t.Run("refused outside idle", func(t *testing.T) {
		conn, eng := newTestConnection(t)
		connectAccepted(t, conn, eng)

		assert.ErrorIs(t, conn.SetWill(&Will{Topic: "t"}), ErrInvalidState)
		assert.ErrorIs(t, conn.SetLogin("u", nil), ErrInvalidState)
	})

	t.Run("invalid will rejected", func(t *testing.T) {
		conn, _ := newTestConnection(t)

		assert.ErrorIs(t, conn.SetWill(&Will{Topic: "bad/#"}), ErrInvalidTopicName)
		assert.ErrorIs(t, conn.SetWill(&Will{Topic: "ok", QoS: QOS(5)}), ErrInvalidQoS)
	})
}

func TestConnectionClose(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		conn, eng := newTestConnection(t)

		require.NoError(t, conn.Close())
		require.NoError(t, conn.Close())
		assert.Equal(t, 1, eng.closes)
	})

	t.Run("abandons pending operations", func(t *testing.T) {
		conn, eng := newTestConnection(t)
		connectAccepted(t, conn, eng)

		completed := make(chan error, 1)
		_, err := conn.Publish("a/b", QOSAtLeastOnce, false, nil,
			func(_ *Connection, _ uint16, err error) { completed <- err })
		require.NoError(t, err)

		require.NoError(t, conn.Close())

		select {
		case err := <-completed:
			assert.ErrorIs(t, err, ErrOperationAbandoned)
		case <-time.After(time.Second):
			t.Fatal("completion handler not invoked")
		}
	})

	t.Run("operations refused after close", func(t *testing.T) {
		conn, _ := newTestConnection(t)
		require.NoError(t, conn.Close())

		assert.False(t, conn.IsValid())
		assert.ErrorIs(t, conn.Connect("c", true, 60), ErrConnectionClosed)
		_, err := conn.Publish("a/b", QOSAtMostOnce, false, nil, nil)
		assert.ErrorIs(t, err, ErrConnectionClosed)
		assert.ErrorIs(t, conn.SetWill(&Will{Topic: "t"}), ErrConnectionClosed)
	})
}

func TestConnectionMetricsRecorded(t *testing.T) {
	metrics := NewMemoryMetrics()

	eng := &fakeEngine{}
	factory := func(cfg EngineConfig) (Engine, error) {
		eng.events = cfg.Events
		return eng, nil
	}

	client := NewClient(NewBootstrap(), WithEngineFactory(factory), WithMetrics(metrics))
	conn := client.NewConnection("broker.test", 1883, DefaultSocketOptions(), nil)
	t.Cleanup(func() {
		conn.Close()
		client.Close()
	})

	connectAccepted(t, conn, eng)

	assert.Equal(t, float64(1), metrics.GetCounter(MetricConnectAttempts, nil).Value())
	assert.Equal(t, float64(1), metrics.GetGauge(MetricConnectionsActive, nil).Value())

	_, err := conn.Publish("a/b", QOSAtLeastOnce, false, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(1),
		metrics.GetCounter(MetricPublishesSent, MetricLabels{LabelQoS: "1"}).Value())

	done := make(chan struct{})
	conn.SetDisconnectHandler(func(_ *Connection) { close(done) })
	require.NoError(t, conn.Disconnect())
	eng.events.OnDisconnected(nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disconnect handler not invoked")
	}

	assert.Equal(t, float64(0), metrics.GetGauge(MetricConnectionsActive, nil).Value())
	assert.Equal(t, float64(1), metrics.GetCounter(MetricOperationsAbandoned, nil).Value())
}
