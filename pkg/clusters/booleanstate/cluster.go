// Package booleanstate implements the Boolean State Cluster (0x0045).
//
// The Boolean State cluster exposes a single boolean sensor reading, such
// as a door/window contact sensor. It has no writable attributes and no
// commands; state changes are pushed in from an application sensor object.
//
// Spec Reference: Section 1.11
package booleanstate

import (
	"context"
	"sync"

	"github.com/nodebridge/matter-bridge/pkg/datamodel"
	"github.com/nodebridge/matter-bridge/pkg/tlv"
)

// Cluster constants.
const (
	ClusterID       datamodel.ClusterID = 0x0045
	ClusterRevision uint16              = 1
)

// Attribute IDs (Spec 1.11.5).
const (
	AttrStateValue datamodel.AttributeID = 0x0000
)

// StateChangeCallback is invoked when the sensor's reading changes.
type StateChangeCallback func(endpoint datamodel.EndpointID, newState bool)

// Config provides dependencies for the Boolean State cluster.
type Config struct {
	EndpointID   datamodel.EndpointID
	InitialState bool
	OnStateChange StateChangeCallback
}

// Cluster implements the Boolean State cluster (0x0045).
type Cluster struct {
	*datamodel.ClusterBase
	config Config

	mu    sync.RWMutex
	state bool

	attrList []datamodel.AttributeEntry
}

// New creates a new Boolean State cluster.
func New(cfg Config) *Cluster {
	c := &Cluster{
		ClusterBase: datamodel.NewClusterBase(ClusterID, cfg.EndpointID, ClusterRevision),
		config:      cfg,
		state:       cfg.InitialState,
	}
	c.attrList = datamodel.MergeAttributeLists([]datamodel.AttributeEntry{
		datamodel.NewReadOnlyAttribute(AttrStateValue, 0, datamodel.PrivilegeView),
	})
	return c
}

// AttributeList implements datamodel.Cluster.
func (c *Cluster) AttributeList() []datamodel.AttributeEntry {
	return c.attrList
}

// AcceptedCommandList implements datamodel.Cluster.
func (c *Cluster) AcceptedCommandList() []datamodel.CommandEntry { return nil }

// GeneratedCommandList implements datamodel.Cluster.
func (c *Cluster) GeneratedCommandList() []datamodel.CommandID { return nil }

// ReadAttribute implements datamodel.Cluster.
func (c *Cluster) ReadAttribute(ctx context.Context, req datamodel.ReadAttributeRequest, w *tlv.Writer) error {
	handled, err := c.ReadGlobalAttribute(ctx, req.Path.Attribute, w, c.attrList, nil, nil)
	if handled || err != nil {
		return err
	}

	switch req.Path.Attribute {
	case AttrStateValue:
		c.mu.RLock()
		v := c.state
		c.mu.RUnlock()
		return w.PutBool(tlv.Anonymous(), v)
	default:
		return datamodel.ErrUnsupportedAttribute
	}
}

// WriteAttribute implements datamodel.Cluster.
func (c *Cluster) WriteAttribute(ctx context.Context, req datamodel.WriteAttributeRequest, r *tlv.Reader) error {
	return datamodel.ErrUnsupportedWrite
}

// InvokeCommand implements datamodel.Cluster.
func (c *Cluster) InvokeCommand(ctx context.Context, req datamodel.InvokeRequest, r *tlv.Reader) ([]byte, error) {
	return nil, datamodel.ErrUnsupportedCommand
}

// SetState updates the sensor reading and bumps the cluster's data version
// if the value actually changed.
func (c *Cluster) SetState(newState bool) {
	c.mu.Lock()
	old := c.state
	if old == newState {
		c.mu.Unlock()
		return
	}
	c.state = newState
	c.mu.Unlock()

	c.IncrementDataVersion()

	if c.config.OnStateChange != nil {
		c.config.OnStateChange(c.config.EndpointID, newState)
	}
}

// GetState returns the current sensor reading.
func (c *Cluster) GetState() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}
