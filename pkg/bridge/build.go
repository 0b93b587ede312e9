package bridge

import (
	"fmt"

	"github.com/nodebridge/matter-bridge/pkg/clusters/cameraavstreammgmt"
	"github.com/nodebridge/matter-bridge/pkg/clusters/icdmgmt"
	"github.com/nodebridge/matter-bridge/pkg/datamodel"
	"github.com/nodebridge/matter-bridge/pkg/matter"
	"github.com/nodebridge/matter-bridge/pkg/media"
	filestorage "github.com/nodebridge/matter-bridge/pkg/storage/file"
)

// Layout fixes the endpoint numbering for the bridge's child devices.
// Endpoint 0 is always the root endpoint created by matter.NewNode.
const (
	EndpointMasterSwitch datamodel.EndpointID = 1
	EndpointDoorbell     datamodel.EndpointID = 2
	EndpointClimateLR    datamodel.EndpointID = 3
	EndpointFrontDoor    datamodel.EndpointID = 4
	EndpointEntryway     datamodel.EndpointID = 5
	EndpointPorchLight   datamodel.EndpointID = 6
)

// BuildAll constructs the bridge's full device catalog on node: the
// root endpoint's ICD Management and Time Synchronization clusters, a
// device-level master switch, the RTSP/WebRTC video doorbell, one
// MQTT-fed climate sensor, a simulated front-door contact sensor, a
// simulated entryway occupancy sensor, and a porch light switch.
//
// icdStore and subs may be nil, in which case the ICD Management
// cluster reports no registered clients and no subscription-recovery
// log line is printed (the in-memory-storage / no-persistence case).
//
// Grounded on original_source/src/matter/virtual_device.rs's device
// catalog and examples/light/device.go's construction idiom.
func BuildAll(node *matter.Node, mediaBridge *media.Bridge, icdStore icdmgmt.Store, subs *filestorage.SubscriptionStore) (*Devices, error) {
	if err := BuildRootClusters(node, icdStore, subs); err != nil {
		return nil, fmt.Errorf("bridge: build root clusters: %w", err)
	}

	d := newDevices()

	if err := d.BuildMasterSwitch(node, EndpointMasterSwitch, "Bridge Master Switch"); err != nil {
		return nil, err
	}

	if err := d.BuildDoorbell(node, EndpointDoorbell, DoorbellConfig{
		Label:        "Front Doorbell",
		Capabilities: cameraavstreammgmt.DefaultCapabilities(),
		Bridge:       mediaBridge,
	}); err != nil {
		return nil, fmt.Errorf("bridge: build doorbell: %w", err)
	}

	if err := d.BuildClimateSensor(node, EndpointClimateLR, "Living Room Climate"); err != nil {
		return nil, fmt.Errorf("bridge: build climate sensor: %w", err)
	}

	if err := d.BuildContactSensor(node, EndpointFrontDoor, "Front Door Contact", false); err != nil {
		return nil, fmt.Errorf("bridge: build contact sensor: %w", err)
	}

	if err := d.BuildOccupancySensor(node, EndpointEntryway, "Entryway Occupancy", false); err != nil {
		return nil, fmt.Errorf("bridge: build occupancy sensor: %w", err)
	}

	if err := d.BuildSwitch(node, EndpointPorchLight, "Porch Light", true, false); err != nil {
		return nil, fmt.Errorf("bridge: build porch light: %w", err)
	}

	return d, nil
}
