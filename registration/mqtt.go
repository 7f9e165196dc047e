package registration

import (
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTClient owns the broker connection used to stream run statistics.
type MQTTClient struct {
	client      mqtt.Client
	logger      *zap.SugaredLogger
	isConnected bool
	mu          sync.RWMutex
	stop        chan struct{}
	stopOnce    sync.Once
}

// InitMQTT connects to the broker named by MQTT_BROKER or cfg.MQTT.Broker.
// When neither is set, MQTT is disabled and InitMQTT returns nil, nil.
func InitMQTT(cfg *Config, logger *zap.SugaredLogger) (*MQTTClient, error) {
	logger = nopIfNil(logger)

	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && cfg != nil {
		broker = cfg.MQTT.Broker
	}
	if broker == "" {
		logger.Info("[MQTT] disabled: no broker configured")
		return nil, nil
	}

	c := &MQTTClient{logger: logger, stop: make(chan struct{})}
	c.client = mqtt.NewClient(c.clientOptions(broker, cfg))

	go c.connectWithRetry()
	return c, nil
}

func (c *MQTTClient) clientOptions(broker string, cfg *Config) *mqtt.ClientOptions {
	var settings MQTTConfig
	if cfg != nil {
		settings = cfg.MQTT
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" {
		clientID = settings.ClientID
	}
	if clientID == "" {
		clientID = "multiview"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" {
		username = settings.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" {
			password = settings.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)
	return opts
}

// connectWithRetry connects with exponential backoff capped at a minute,
// until it succeeds or Disconnect is called.
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		select {
		case <-c.stop:
			c.logger.Info("[MQTT] connection attempts stopped")
			return
		default:
		}
		c.logger.Info("[MQTT] connecting to broker")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				select {
				case <-c.stop:
					// Disconnect was called while connecting
					c.client.Disconnect(250)
					return
				default:
				}
				c.logger.Info("[MQTT] connected")
				c.setConnected(true)
				return
			}
			c.logger.Warnf("[MQTT] connection failed: %v", token.Error())
		} else {
			c.logger.Warn("[MQTT] connection timeout")
		}

		c.logger.Infof("[MQTT] retrying in %v", retryDelay)
		select {
		case <-c.stop:
			c.logger.Info("[MQTT] connection attempts stopped")
			return
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

func (c *MQTTClient) onConnect(mqtt.Client) {
	c.setConnected(true)
}

// Auto-reconnect is enabled, so a lost connection is usually transient.
func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warnf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(mqtt.Client, *mqtt.ClientOptions) {
	c.logger.Info("[MQTT] reconnecting")
}

// IsConnected reports whether the broker connection is up.
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect stops pending connection attempts and closes the connection
// after letting in-flight work finish.
func (c *MQTTClient) Disconnect() {
	if c.stop != nil {
		c.stopOnce.Do(func() { close(c.stop) })
	}
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
		c.logger.Info("[MQTT] disconnected")
	}
	c.setConnected(false)
}

// GetClient returns the underlying paho client.
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock wraps an already constructed client, used by tests.
func newMQTTClientWithMock(client mqtt.Client, logger *zap.SugaredLogger) *MQTTClient {
	return &MQTTClient{client: client, logger: nopIfNil(logger), stop: make(chan struct{})}
}
