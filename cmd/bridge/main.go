// Command bridge runs the virtual Matter bridge: a single Matter node
// exposing an RTSP/WebRTC video doorbell, MQTT-fed Zigbee climate
// sensors, simulated contact/occupancy sensors, and on/off
// switches/lights as bridged child endpoints.
package main

import (
	"context"
	"log"

	"github.com/nodebridge/matter-bridge/examples/common"
	"github.com/nodebridge/matter-bridge/internal/config"
	"github.com/nodebridge/matter-bridge/pkg/bridge"
	"github.com/nodebridge/matter-bridge/pkg/clusters/icdmgmt"
	"github.com/nodebridge/matter-bridge/pkg/media"
	"github.com/nodebridge/matter-bridge/pkg/mqttinput"
	filestorage "github.com/nodebridge/matter-bridge/pkg/storage/file"
)

func main() {
	cfg := config.FromEnv()

	opts := common.DefaultOptions()
	opts.DeviceName = cfg.Matter.DeviceName
	opts.Discriminator = cfg.Matter.Discriminator
	opts.Passcode = cfg.Matter.Passcode
	opts.VendorID = cfg.Matter.VendorID
	opts.ProductID = cfg.Matter.ProductID
	if cfg.Matter.Port != 0 {
		opts.Port = cfg.Matter.Port
	}
	opts.StoragePath = cfg.Matter.StoragePath

	node, err := common.CreateNode(opts)
	if err != nil {
		log.Fatalf("create node: %v", err)
	}

	mediaBridge, err := media.NewBridge(media.BridgeConfig{RTSPURL: cfg.RTSP.URL})
	if err != nil {
		log.Fatalf("create media bridge: %v", err)
	}
	if err := mediaBridge.Initialize(context.Background()); err != nil {
		log.Fatalf("initialize media bridge: %v", err)
	}
	defer mediaBridge.Shutdown(context.Background())

	var icdStore icdmgmt.Store
	var subStore *filestorage.SubscriptionStore
	if cfg.Matter.StoragePath != "" {
		store, err := filestorage.NewICDStore(cfg.Matter.StoragePath)
		if err != nil {
			log.Fatalf("create icd store: %v", err)
		}
		icdStore = store
		subStore = filestorage.NewSubscriptionStore(cfg.Matter.StoragePath)
	}

	devices, err := bridge.BuildAll(node, mediaBridge, icdStore, subStore)
	if err != nil {
		log.Fatalf("build devices: %v", err)
	}

	if cfg.MQTT.BrokerHost != "" {
		mqttClient, err := mqttinput.NewClient(mqttinput.BrokerConfig{
			Host:     cfg.MQTT.BrokerHost,
			Port:     cfg.MQTT.BrokerPort,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, nil)
		if err != nil {
			log.Printf("mqtt: %v (climate sensors will report no data)", err)
		} else {
			defer mqttClient.Close()

			livingRoom := mqttinput.NewClimateDevice(
				"living_room_sensor",
				devices.TempSensors["Living Room Climate"],
				devices.HumiditySensors["Living Room Climate"],
				nil,
			)
			if err := livingRoom.Subscribe(mqttClient); err != nil {
				log.Printf("mqtt: subscribe %s: %v", livingRoom.StateTopic(), err)
			}
		}
	}

	if err := common.RunDevice(node); err != nil {
		log.Fatalf("run device: %v", err)
	}
}
