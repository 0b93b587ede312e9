// Package bridge assembles the bridge's child endpoints — the video
// doorbell, climate sensors, simulated contact/occupancy sensors, and
// on/off switches/lights — onto a matter.Node, wiring each one's
// cluster handlers to the application-side state objects that back
// them.
//
// Grounded on original_source/src/matter/virtual_device.rs's
// EndpointConfig factories (contact_sensor/occupancy_sensor/switch/
// light_switch) and examples/light/device.go's endpoint-construction
// idiom (matter.NewEndpoint(id).WithDeviceType(...).AddCluster(...)).
package bridge

import (
	"context"
	"fmt"

	"github.com/nodebridge/matter-bridge/pkg/clusters/booleanstate"
	"github.com/nodebridge/matter-bridge/pkg/clusters/bridgedbasicinfo"
	"github.com/nodebridge/matter-bridge/pkg/clusters/cameraavstreammgmt"
	"github.com/nodebridge/matter-bridge/pkg/clusters/genericswitch"
	"github.com/nodebridge/matter-bridge/pkg/clusters/humiditymeasurement"
	"github.com/nodebridge/matter-bridge/pkg/clusters/occupancysensing"
	"github.com/nodebridge/matter-bridge/pkg/clusters/onoff"
	"github.com/nodebridge/matter-bridge/pkg/clusters/tempmeasurement"
	webrtctransport "github.com/nodebridge/matter-bridge/pkg/clusters/webrtc-transport"
	"github.com/nodebridge/matter-bridge/pkg/datamodel"
	"github.com/nodebridge/matter-bridge/pkg/matter"
	"github.com/nodebridge/matter-bridge/pkg/media"
)

// Matter device type identifiers used by the bridge's child endpoints.
// These are assigned by the Connectivity Standards Alliance and are not
// specific to this implementation.
const (
	deviceTypeContactSensor   uint32 = 0x0015
	deviceTypeOccupancySensor uint32 = 0x0107
	deviceTypeOnOffLight      uint32 = 0x0100
	deviceTypeOnOffPlugin     uint32 = 0x010A
	deviceTypeGenericSwitch   uint32 = 0x000F
	deviceTypeTempSensor      uint32 = 0x0302
	deviceTypeHumiditySensor  uint32 = 0x0307
	deviceTypeVideoDoorbell   uint32 = 0x0012
)

// Devices holds references to every application-facing state object
// constructed while building the bridge's endpoint tree, so the caller
// (MQTT input, simulated sensor drivers, CLI demo commands) can push
// state changes into them.
type Devices struct {
	Master *MasterSwitch

	ContactSensors   map[string]*booleanstate.Cluster
	OccupancySensors map[string]*occupancysensing.Cluster
	TempSensors      map[string]*tempmeasurement.Cluster
	HumiditySensors  map[string]*humiditymeasurement.Cluster
	Switches         map[string]*onoff.Cluster

	DoorbellButton *genericswitch.Cluster
	CameraAV       *cameraavstreammgmt.Cluster
	WebRTCProvider *webrtctransport.Provider
}

func newDevices() *Devices {
	return &Devices{
		Master:           NewMasterSwitch(),
		ContactSensors:   make(map[string]*booleanstate.Cluster),
		OccupancySensors: make(map[string]*occupancysensing.Cluster),
		TempSensors:      make(map[string]*tempmeasurement.Cluster),
		HumiditySensors:  make(map[string]*humiditymeasurement.Cluster),
		Switches:         make(map[string]*onoff.Cluster),
	}
}

// addBridgedChild adds an endpoint carrying the given device type plus a
// BridgedDeviceBasicInformation cluster (every bridged child carries
// one), and registers it with the master switch so the device-level
// cascade can mark it unreachable.
func addBridgedChild(node *matter.Node, id datamodel.EndpointID, deviceType uint32, rev uint8, label, uniqueID string, onoffCluster *onoff.Cluster, extra ...datamodel.Cluster) (*bridgedbasicinfo.Cluster, error) {
	basic := bridgedbasicinfo.New(bridgedbasicinfo.Config{
		EndpointID:       id,
		NodeLabel:        label,
		UniqueID:         uniqueID,
		InitialReachable: true,
	})

	ep := matter.NewEndpoint(id).WithDeviceType(deviceType, rev).AddCluster(basic)
	if onoffCluster != nil {
		ep.AddCluster(onoffCluster)
	}
	for _, c := range extra {
		ep.AddCluster(c)
	}
	if err := node.AddEndpoint(ep); err != nil {
		return nil, fmt.Errorf("bridge: add endpoint %d (%s): %w", id, label, err)
	}
	return basic, nil
}

// BuildContactSensor adds a simulated contact sensor endpoint.
func (d *Devices) BuildContactSensor(node *matter.Node, id datamodel.EndpointID, label string, initial bool) error {
	sensor := booleanstate.New(booleanstate.Config{EndpointID: id, InitialState: initial})
	basic, err := addBridgedChild(node, id, deviceTypeContactSensor, 1, label, label, nil, sensor)
	if err != nil {
		return err
	}
	d.ContactSensors[label] = sensor
	d.Master.AddChild(nil, basic)
	return nil
}

// BuildOccupancySensor adds a simulated occupancy sensor endpoint.
func (d *Devices) BuildOccupancySensor(node *matter.Node, id datamodel.EndpointID, label string, initial bool) error {
	sensor := occupancysensing.New(occupancysensing.Config{EndpointID: id, InitialOccupied: initial})
	basic, err := addBridgedChild(node, id, deviceTypeOccupancySensor, 2, label, label, nil, sensor)
	if err != nil {
		return err
	}
	d.OccupancySensors[label] = sensor
	d.Master.AddChild(nil, basic)
	return nil
}

// BuildClimateSensor adds a paired temperature+humidity sensor endpoint
// fed by MQTT, mirroring the original's W100Device (one physical Zigbee
// sensor surfaced as one bridged endpoint carrying both clusters).
func (d *Devices) BuildClimateSensor(node *matter.Node, id datamodel.EndpointID, label string) error {
	temp := tempmeasurement.New(tempmeasurement.Config{EndpointID: id})
	humidity := humiditymeasurement.New(humiditymeasurement.Config{EndpointID: id})
	basic, err := addBridgedChild(node, id, deviceTypeTempSensor, 1, label, label, nil, temp, humidity)
	if err != nil {
		return err
	}
	d.TempSensors[label] = temp
	d.HumiditySensors[label] = humidity
	d.Master.AddChild(nil, basic)
	return nil
}

// BuildSwitch adds an on/off light or plug-in unit endpoint.
func (d *Devices) BuildSwitch(node *matter.Node, id datamodel.EndpointID, label string, isLight bool, initial bool) error {
	sw := onoff.New(onoff.Config{EndpointID: id, InitialOnOff: initial})
	deviceType := deviceTypeOnOffPlugin
	if isLight {
		deviceType = deviceTypeOnOffLight
	}
	basic, err := addBridgedChild(node, id, deviceType, 1, label, label, sw)
	if err != nil {
		return err
	}
	d.Switches[label] = sw
	d.Master.AddChild(sw, basic)
	return nil
}

// DoorbellConfig configures the video doorbell endpoint.
type DoorbellConfig struct {
	Label        string
	Capabilities cameraavstreammgmt.Capabilities
	Bridge       *media.Bridge
}

// BuildDoorbell adds the video doorbell endpoint, wiring together the
// Camera AV Stream Management cluster, the WebRTC Transport Provider
// cluster (backed by cfg.Bridge), and a GenericSwitch cluster for the
// physical call button.
func (d *Devices) BuildDoorbell(node *matter.Node, id datamodel.EndpointID, cfg DoorbellConfig) error {
	cam := cameraavstreammgmt.New(cameraavstreammgmt.Config{
		EndpointID:   id,
		Capabilities: cfg.Capabilities,
	})

	provider := webrtctransport.NewProvider(webrtctransport.ProviderConfig{
		EndpointID: id,
		Delegate:   cfg.Bridge,
	})
	cfg.Bridge.SetICECandidatesCallback(func(sessionID uint16, candidates []webrtctransport.ICECandidateStruct) error {
		return provider.SendICECandidates(context.Background(), sessionID, candidates)
	})

	button := genericswitch.New(genericswitch.Config{EndpointID: id})

	basic, err := addBridgedChild(node, id, deviceTypeVideoDoorbell, 1, cfg.Label, cfg.Label, nil, cam, provider, button)
	if err != nil {
		return err
	}

	d.CameraAV = cam
	d.WebRTCProvider = provider
	d.DoorbellButton = button
	d.Master.AddChild(nil, basic)
	return nil
}

// BuildMasterSwitch adds the device-level master switch endpoint: an
// OnOff light switch whose OFF command cascades to every bridged child
// registered on d.Master so far.
func (d *Devices) BuildMasterSwitch(node *matter.Node, id datamodel.EndpointID, label string) error {
	sw := onoff.New(onoff.Config{
		EndpointID:    id,
		InitialOnOff:  true,
		OnStateChange: d.Master.OnMasterStateChange,
	})
	_, err := addBridgedChild(node, id, deviceTypeOnOffLight, 1, label, label, sw)
	if err != nil {
		return err
	}
	d.Switches[label] = sw
	return nil
}
