package bridge

import (
	"sync"

	"github.com/nodebridge/matter-bridge/pkg/clusters/bridgedbasicinfo"
	"github.com/nodebridge/matter-bridge/pkg/clusters/onoff"
	"github.com/nodebridge/matter-bridge/pkg/datamodel"
)

// MasterSwitch wraps an OnOff cluster that cascades its OFF command down
// to a list of child devices, marking them unreachable, and restores
// their reachability (without touching their individual on/off state)
// when turned back on.
//
// Grounded on original_source/src/matter/endpoints/controls/device_switch.rs's
// DeviceSwitch: set_with_cascade forces children off and unreachable;
// the ON path only calls set_from_master(true) equivalent logic, which
// restores reachability but never forces a child on.
type MasterSwitch struct {
	mu       sync.Mutex
	children []child
}

type child struct {
	onoff   *onoff.Cluster
	basic   *bridgedbasicinfo.Cluster
}

// NewMasterSwitch builds an OnOff cluster config whose OnStateChange
// cascades to the children registered via AddChild. Callers must pass
// the returned callback into onoff.Config.OnStateChange when
// constructing the master endpoint's cluster.
func NewMasterSwitch() *MasterSwitch {
	return &MasterSwitch{}
}

// AddChild registers a bridged child device that this master switch
// controls. onoffCluster may be nil for children with no independent
// on/off state (e.g. sensors) that should still be marked unreachable.
func (m *MasterSwitch) AddChild(onoffCluster *onoff.Cluster, basicInfo *bridgedbasicinfo.Cluster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.children = append(m.children, child{onoff: onoffCluster, basic: basicInfo})
}

// OnMasterStateChange is wired as the master device's onoff.StateChangeCallback.
func (m *MasterSwitch) OnMasterStateChange(_ datamodel.EndpointID, on bool) {
	m.Cascade(on)
}

// Cascade applies the master on/off transition to all registered
// children: off forces every child off and unreachable; on only
// restores reachability.
func (m *MasterSwitch) Cascade(on bool) {
	m.mu.Lock()
	children := make([]child, len(m.children))
	copy(children, m.children)
	m.mu.Unlock()

	for _, c := range children {
		if !on {
			if c.onoff != nil {
				c.onoff.SetOnOff(false)
			}
			if c.basic != nil {
				c.basic.SetReachable(false)
			}
			continue
		}
		if c.basic != nil {
			c.basic.SetReachable(true)
		}
	}
}
