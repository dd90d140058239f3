package match

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// FrameHandler is called for every star list received over MQTT.
// Parameters: frameID, decoded detections, decode error
type FrameHandler func(frameID string, dets []Detection, err error)

// MQTTClient manages the broker connection used for diagnostics publishing
// and, optionally, for receiving star lists on <prefix>/ingest/<frameID>.
type MQTTClient struct {
	client       mqtt.Client
	config       MQTTConfig
	frameHandler FrameHandler
	logger       *slog.Logger
	isConnected  bool
	mu           sync.RWMutex
}

// ConnectMQTT creates a client for cfg and starts connecting in the
// background until ctx is done. With no broker configured MQTT is disabled
// and ConnectMQTT returns nil, nil.
func ConnectMQTT(ctx context.Context, cfg MQTTConfig, handler FrameHandler, logger *slog.Logger) (*MQTTClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Broker == "" {
		logger.Info("MQTT disabled: no broker configured")
		return nil, nil
	}
	if cfg.PublishPrefix == "" {
		return nil, fmt.Errorf("mqtt.publishPrefix is required when a broker is set")
	}

	c := &MQTTClient{
		config:       cfg,
		frameHandler: handler,
		logger:       logger,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "starmesh"
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		c.logger.Info("MQTT reconnecting")
	})

	c.client = mqtt.NewClient(opts)
	go c.connectWithRetry(ctx)
	return c, nil
}

// newMQTTClientWithMock wraps an existing mqtt.Client, for tests.
func newMQTTClientWithMock(client mqtt.Client, cfg MQTTConfig, handler FrameHandler, logger *slog.Logger) *MQTTClient {
	return &MQTTClient{client: client, config: cfg, frameHandler: handler, logger: logger}
}

// connectWithRetry connects with exponential backoff until it succeeds or
// ctx is done.
func (c *MQTTClient) connectWithRetry(ctx context.Context) {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		c.logger.Info("connecting to MQTT broker", "broker", c.config.Broker)
		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				c.logger.Info("connected to MQTT broker")
				c.setConnected(true)
				return
			}
			c.logger.Warn("MQTT connection failed", "error", token.Error())
		} else {
			c.logger.Warn("MQTT connection timeout")
		}

		c.logger.Info("retrying MQTT connection", "delay", retryDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
		retryDelay = min(retryDelay*2, maxRetryDelay)
	}
}

func (c *MQTTClient) ingestTopic() string {
	return c.config.PublishPrefix + "/ingest/+"
}

// onConnect subscribes to the ingest topic when a frame handler is set.
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)
	if c.frameHandler == nil {
		return
	}

	topic := c.ingestTopic()
	token := client.Subscribe(topic, 0, c.handleFrame)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		c.logger.Error("subscribe failed", "topic", topic, "error", token.Error())
		return
	}
	c.logger.Info("subscribed", "topic", topic)
}

func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("MQTT connection interrupted, auto-reconnect will retry", "error", err)
	c.setConnected(false)
}

// handleFrame decodes a star list payload: a JSON array of {x, y, brightness}.
func (c *MQTTClient) handleFrame(_ mqtt.Client, msg mqtt.Message) {
	frameID := msg.Topic()[strings.LastIndex(msg.Topic(), "/")+1:]
	c.logger.Debug("received star list", "frame", frameID, "bytes", len(msg.Payload()))

	var raw []struct {
		X          float64 `json:"x"`
		Y          float64 `json:"y"`
		Brightness float64 `json:"brightness"`
	}
	if err := json.Unmarshal(msg.Payload(), &raw); err != nil {
		c.frameHandler(frameID, nil, fmt.Errorf("decoding star list for %s: %w", frameID, err))
		return
	}
	dets := make([]Detection, len(raw))
	for i, r := range raw {
		dets[i] = Detection{X: r.X, Y: r.Y, Brightness: r.Brightness}
	}
	c.frameHandler(frameID, dets, nil)
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

// Client returns the underlying MQTT client for publishing
func (c *MQTTClient) Client() mqtt.Client {
	return c.client
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.logger.Info("disconnecting from MQTT broker")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}
