package stream

import (
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const defaultPrefix = "steadyframe"

// CommandHandler is called for every valid command received on a stream's
// control topic
type CommandHandler func(streamID string, cmd Command)

// MQTTClient manages the broker connection and the control subscription
type MQTTClient struct {
	client         mqtt.Client
	config         *Config
	prefix         string
	commandHandler CommandHandler
	isConnected    bool
	mu             sync.RWMutex
	log            logrus.FieldLogger
}

// PublishPrefix resolves the topic prefix: MQTT_PUBLISH_PREFIX, then the
// config, then "steadyframe"
func PublishPrefix(config *Config) string {
	if prefix := os.Getenv("MQTT_PUBLISH_PREFIX"); prefix != "" {
		return prefix
	}
	if config != nil && config.MQTT.PublishPrefix != "" {
		return config.MQTT.PublishPrefix
	}
	return defaultPrefix
}

// envOr returns the environment variable if set, otherwise fallback
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// InitMQTT creates the MQTT client and starts connecting in the background.
// When neither MQTT_BROKER nor the config name a broker, MQTT is disabled
// and this returns nil.
func InitMQTT(config *Config, handler CommandHandler, log logrus.FieldLogger) (*MQTTClient, error) {
	var cfg MQTTConfig
	if config != nil {
		cfg = config.MQTT
	}

	broker := envOr("MQTT_BROKER", cfg.Broker)
	if broker == "" {
		log.Info("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	client := &MQTTClient{
		config:         config,
		prefix:         PublishPrefix(config),
		commandHandler: handler,
		log:            log.WithField("component", "mqtt"),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	clientID := envOr("MQTT_CLIENT_ID", cfg.ClientID)
	if clientID == "" {
		clientID = defaultPrefix
	}
	opts.SetClientID(clientID)

	if username := envOr("MQTT_USERNAME", cfg.Username); username != "" {
		opts.SetUsername(username)
		opts.SetPassword(envOr("MQTT_PASSWORD", cfg.Password))
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep the control subscription across reconnects
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

// connectWithRetry attempts to connect to the broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		c.log.Info("Connecting to MQTT broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				c.log.Info("Successfully connected to MQTT broker")
				c.setConnected(true)
				return
			}
			c.log.WithError(token.Error()).Warn("MQTT connection failed")
		} else {
			c.log.Warn("MQTT connection timeout")
		}

		c.log.Infof("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// ControlTopic is the wildcard subscription covering every stream
func (c *MQTTClient) ControlTopic() string {
	return c.prefix + "/+/control"
}

// onConnect is called when the MQTT connection is established
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	topic := c.ControlTopic()
	c.log.Infof("MQTT connected, subscribing to %s", topic)
	token := client.Subscribe(topic, 1, c.handleControl)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		c.log.WithError(token.Error()).Errorf("Error subscribing to %s", topic)
		return
	}
	c.log.Infof("Successfully subscribed to %s", topic)
}

// onConnectionLost is called when the MQTT connection is lost
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	c.log.WithError(err).Warn("MQTT connection interrupted, auto-reconnect will retry")
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	c.log.Info("MQTT reconnecting...")
}

// StreamFromTopic extracts the stream id from <prefix>/<id>/control
func (c *MQTTClient) StreamFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, c.prefix+"/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/control")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func (c *MQTTClient) handleControl(client mqtt.Client, msg mqtt.Message) {
	id, ok := c.StreamFromTopic(msg.Topic())
	if !ok {
		c.log.Warnf("Ignoring control message on unexpected topic %s", msg.Topic())
		return
	}

	cmd, err := ParseCommand(msg.Payload())
	if err != nil {
		c.log.WithError(err).WithField("stream", id).Warn("Ignoring invalid control command")
		return
	}

	c.log.WithFields(logrus.Fields{"stream": id, "command": cmd.String()}).Debug("Received control command")
	if c.commandHandler != nil {
		c.commandHandler(id, cmd)
	}
}

// IsConnected returns true if the MQTT client is connected
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

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.log.Info("Disconnecting from MQTT broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock creates an MQTTClient around a provided mqtt.Client
func newMQTTClientWithMock(client mqtt.Client, config *Config, handler CommandHandler, log logrus.FieldLogger) *MQTTClient {
	return &MQTTClient{
		client:         client,
		config:         config,
		prefix:         PublishPrefix(config),
		commandHandler: handler,
		log:            log,
	}
}
