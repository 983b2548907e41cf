package mqttconn

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectError(t *testing.T) {
	err := NewConnectError(ConnectNotAuthorized)

	assert.ErrorIs(t, err, ErrConnectRefused)
	assert.Contains(t, err.Error(), "not authorized")

	var connErr *ConnectError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &connErr)
	assert.Equal(t, ConnectNotAuthorized, connErr.ReturnCode)
}

func TestConnectionLostError(t *testing.T) {
	t.Run("with cause", func(t *testing.T) {
		err := NewConnectionLostError(io.EOF)

		assert.ErrorIs(t, err, ErrConnectionLost)
		assert.Contains(t, err.Error(), "EOF")

		var lost *ConnectionLostError
		require.ErrorAs(t, err, &lost)
		assert.Equal(t, io.EOF, lost.Cause)
	})

	t.Run("without cause", func(t *testing.T) {
		err := NewConnectionLostError(nil)
		assert.ErrorIs(t, err, ErrConnectionLost)
		assert.Equal(t, "connection lost", err.Error())
	})
}

func TestStateError(t *testing.T) {
	err := newStateError("Connect", StateConnected)

	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, "Connect not valid in state connected", err.Error())
}

func TestDuplicatePacketIDError(t *testing.T) {
	err := &DuplicatePacketIDError{PacketID: 1234}

	assert.ErrorIs(t, err, ErrDuplicatePacketID)
	assert.Contains(t, err.Error(), "1234")
}

func TestSentinelsDistinct(t *testing.T) {
	sentinels := []error{
		ErrNotInitialized, ErrClientClosed, ErrConnectionClosed,
		ErrInvalidState, ErrNotConnected, ErrAlreadyConnecting,
		ErrOperationAbandoned, ErrDuplicatePacketID, ErrPublishThrottled,
		ErrInvalidQoS, ErrConnectionLost, ErrConnectRefused,
	}

	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j {
				assert.False(t, errors.Is(a, b), "%v matched %v", a, b)
			}
		}
	}
}
