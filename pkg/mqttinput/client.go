// Package mqttinput subscribes to a zigbee2mqtt broker and forwards
// temperature/humidity readings into the bridge's climate sensor
// clusters.
//
// Grounded on original_source/src/input/mqtt/client.rs and integration.rs
// (subscribe-then-route-by-topic shape, JSON state payload parsing) and
// on other_examples' HackerspaceKRK temp-at mqtt_adapter.go, which is
// the pack's concrete example of driving github.com/eclipse/paho.mqtt.golang
// against a zigbee2mqtt broker — used here instead of a hand-rolled MQTT
// client.
package mqttinput

import (
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// BrokerConfig configures the MQTT broker connection.
type BrokerConfig struct {
	Host     string
	Port     uint16
	ClientID string
	Username string
	Password string
}

func (c BrokerConfig) broker() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

// Client wraps a paho MQTT client, reconnecting automatically and
// dispatching incoming messages to whichever Device subscribed to their
// topic.
type Client struct {
	client mqtt.Client
	logger *log.Logger
}

// NewClient connects to the configured broker. The returned Client is
// already connected; call Subscribe for each topic of interest.
func NewClient(cfg BrokerConfig, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Default()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.broker()).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Printf("mqttinput: connection lost: %v", err)
	}
	opts.OnConnect = func(_ mqtt.Client) {
		logger.Printf("mqttinput: connected to %s", cfg.broker())
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqttinput: connect: %w", err)
	}

	return &Client{client: client, logger: logger}, nil
}

// Subscribe registers handler for topic at QoS 0, matching
// zigbee2mqtt's own publish QoS.
func (c *Client) Subscribe(topic string, handler mqtt.MessageHandler) error {
	token := c.client.Subscribe(topic, 0, handler)
	token.Wait()
	return token.Error()
}

// Publish sends payload to topic, used for zigbee2mqtt "set" commands
// (e.g. toggling a bridged relay back to a physical Zigbee device).
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, 0, false, payload)
	token.Wait()
	return token.Error()
}

// Close disconnects from the broker.
func (c *Client) Close() {
	c.client.Disconnect(250)
}
