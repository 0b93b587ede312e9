package mqttinput

import (
	"encoding/json"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nodebridge/matter-bridge/pkg/clusters/humiditymeasurement"
	"github.com/nodebridge/matter-bridge/pkg/clusters/tempmeasurement"
)

// climateStatePayload is the subset of a zigbee2mqtt device's state
// message this bridge cares about, mirroring
// original_source/src/input/mqtt/integration.rs's W100 state payload
// (temperature in Celsius, humidity as a percentage).
type climateStatePayload struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
}

// ClimateDevice subscribes to a single zigbee2mqtt friendly_name's state
// topic and pushes parsed readings into the corresponding bridged
// Temperature/Humidity Measurement clusters.
//
// Grounded on original_source/src/input/mqtt/integration.rs's
// W100Device/W100Config.
type ClimateDevice struct {
	FriendlyName string
	Temperature  *tempmeasurement.Cluster
	Humidity     *humiditymeasurement.Cluster

	logger *log.Logger
}

// NewClimateDevice creates a ClimateDevice for friendlyName, feeding
// readings into temp and humidity. Either cluster may be nil if this
// physical sensor doesn't report that measurement.
func NewClimateDevice(friendlyName string, temp *tempmeasurement.Cluster, humidity *humiditymeasurement.Cluster, logger *log.Logger) *ClimateDevice {
	if logger == nil {
		logger = log.Default()
	}
	return &ClimateDevice{FriendlyName: friendlyName, Temperature: temp, Humidity: humidity, logger: logger}
}

// StateTopic returns the zigbee2mqtt topic this device's raw state is
// published on.
func (d *ClimateDevice) StateTopic() string {
	return fmt.Sprintf("zigbee2mqtt/%s", d.FriendlyName)
}

// Subscribe registers this device's state topic on client.
func (d *ClimateDevice) Subscribe(client *Client) error {
	return client.Subscribe(d.StateTopic(), d.handleMessage)
}

func (d *ClimateDevice) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var payload climateStatePayload
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		d.logger.Printf("mqttinput: %s: malformed state payload: %v", d.FriendlyName, err)
		return
	}

	if payload.Temperature != nil && d.Temperature != nil {
		centidegrees := int16(*payload.Temperature * 100)
		d.Temperature.SetValue(&centidegrees)
	}
	if payload.Humidity != nil && d.Humidity != nil {
		hundredths := uint16(*payload.Humidity * 100)
		d.Humidity.SetValue(&hundredths)
	}
}
