package bridge

import (
	"fmt"

	"github.com/nodebridge/matter-bridge/pkg/clusters/icdmgmt"
	"github.com/nodebridge/matter-bridge/pkg/clusters/timesync"
	"github.com/nodebridge/matter-bridge/pkg/matter"
	filestorage "github.com/nodebridge/matter-bridge/pkg/storage/file"
)

// BuildRootClusters adds the ICD Management and Time Synchronization
// clusters to the node's root endpoint (endpoint 0), and logs any
// subscriptions recorded before the previous shutdown so an operator can
// see which controllers the bridge expects to reconnect.
//
// Grounded on original_source/src/matter/icd.rs (counter persistence)
// and original_source/src/matter/subscription_persistence.rs (the
// session recovery ledger).
func BuildRootClusters(node *matter.Node, icdStore icdmgmt.Store, subs *filestorage.SubscriptionStore) error {
	root := node.GetEndpoint(matter.RootEndpointID)
	if root == nil {
		return fmt.Errorf("bridge: root endpoint missing")
	}

	icd := icdmgmt.New(icdmgmt.Config{
		EndpointID:          matter.RootEndpointID,
		Store:               icdStore,
		OnStayActiveRequest: logStayActiveRequest,
	})
	root.AddCluster(icd)

	ts := timesync.New(timesync.Config{EndpointID: matter.RootEndpointID})
	root.AddCluster(ts)

	if subs != nil && subs.HasSubscriptions() {
		for _, s := range subs.All() {
			fmt.Printf("bridge: expecting reconnect from fabric %d node %d (subscription %d)\n",
				s.FabricIndex, s.PeerNodeID, s.SubscriptionID)
		}
	}
	return nil
}

func logStayActiveRequest(fabricIndex uint8, requestedMs, promisedMs uint32) {
	fmt.Printf("bridge: fabric %d requested %dms stay-active, promised %dms\n",
		fabricIndex, requestedMs, promisedMs)
}
