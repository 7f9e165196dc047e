package registration

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMQTTDisabledWithoutBroker(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	c, err := InitMQTT(DefaultConfig(), nil)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestClientOptions(t *testing.T) {
	t.Setenv("MQTT_CLIENT_ID", "")
	t.Setenv("MQTT_USERNAME", "")
	t.Setenv("MQTT_PASSWORD", "")

	cfg := DefaultConfig()
	cfg.MQTT.Username = "scope"
	cfg.MQTT.Password = "secret"
	c := newMQTTClientWithMock(nil, nil)

	opts := c.clientOptions("tcp://broker:1883", cfg)
	assert.Equal(t, "multiview", opts.ClientID)
	assert.Equal(t, "scope", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker:1883", opts.Servers[0].Host)
	assert.True(t, opts.AutoReconnect)

	t.Setenv("MQTT_CLIENT_ID", "rig-2")
	t.Setenv("MQTT_USERNAME", "env-user")
	opts = c.clientOptions("tcp://broker:1883", cfg)
	assert.Equal(t, "rig-2", opts.ClientID)
	assert.Equal(t, "env-user", opts.Username)

	t.Setenv("MQTT_CLIENT_ID", "")
	t.Setenv("MQTT_USERNAME", "")
	opts = c.clientOptions("tcp://broker:1883", nil)
	assert.Equal(t, "multiview", opts.ClientID)
	assert.Empty(t, opts.Username)
}

func TestMQTTClientConnectionState(t *testing.T) {
	mock := newMockClient()
	c := newMQTTClientWithMock(mock, nil)
	assert.False(t, c.IsConnected())
	assert.Same(t, mock, c.GetClient())

	c.connectWithRetry()
	assert.True(t, c.IsConnected())
	assert.True(t, mock.IsConnected())

	c.onConnectionLost(mock, errors.New("broker went away"))
	assert.False(t, c.IsConnected())
	c.onConnect(mock)
	assert.True(t, c.IsConnected())

	c.Disconnect()
	assert.False(t, c.IsConnected())
	assert.False(t, mock.IsConnected())
}

func TestDisconnectStopsConnectionAttempts(t *testing.T) {
	mock := newMockClient()
	mock.SetConnectError(errors.New("connection refused"))
	c := newMQTTClientWithMock(mock, nil)

	done := make(chan struct{})
	go func() {
		c.connectWithRetry()
		close(done)
	}()

	c.Disconnect()
	assert.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, c.IsConnected())

	// a second Disconnect is harmless
	c.Disconnect()
}
