// Package bridgedbasicinfo implements the Bridged Device Basic Information
// Cluster (0x0039).
//
// Every bridged endpoint exposing a virtual device carries exactly one of
// these, reporting the device's display label and whether the bridge
// still considers it reachable. Reachable is forced false by the OnOff
// master-switch cascade (see pkg/bridge) and restored when the parent
// device is turned back on.
//
// Spec Reference: Section 9.13
package bridgedbasicinfo

import (
	"context"
	"sync"

	"github.com/nodebridge/matter-bridge/pkg/datamodel"
	"github.com/nodebridge/matter-bridge/pkg/tlv"
)

// Cluster constants.
const (
	ClusterID       datamodel.ClusterID = 0x0039
	ClusterRevision uint16              = 4
)

// Attribute IDs (subset relevant to a bridged child).
const (
	AttrNodeLabel  datamodel.AttributeID = 0x0005
	AttrReachable  datamodel.AttributeID = 0x0011
	AttrUniqueID   datamodel.AttributeID = 0x0012
)

// Event IDs.
const (
	EventReachableChanged datamodel.EventID = 0x03
)

// ReachableChangeCallback is invoked when Reachable changes.
type ReachableChangeCallback func(endpoint datamodel.EndpointID, reachable bool)

// Config provides dependencies for the Bridged Device Basic Information
// cluster.
type Config struct {
	EndpointID        datamodel.EndpointID
	NodeLabel         string
	UniqueID          string
	InitialReachable  bool
	OnReachableChange ReachableChangeCallback

	// EventPublisher for ReachableChanged events.
	// Optional - if nil, events are not emitted.
	EventPublisher datamodel.EventPublisher
}

// Cluster implements the Bridged Device Basic Information cluster (0x0039).
type Cluster struct {
	*datamodel.ClusterBase
	*datamodel.EventSource
	config Config

	mu        sync.RWMutex
	reachable bool

	attrList []datamodel.AttributeEntry
}

// New creates a new Bridged Device Basic Information cluster.
func New(cfg Config) *Cluster {
	c := &Cluster{
		ClusterBase: datamodel.NewClusterBase(ClusterID, cfg.EndpointID, ClusterRevision),
		EventSource: datamodel.NewEventSource(),
		config:      cfg,
		reachable:   cfg.InitialReachable,
	}

	if cfg.EventPublisher != nil {
		c.EventSource.Bind(cfg.EndpointID, ClusterID, cfg.EventPublisher)
		c.EventSource.RegisterEvent(datamodel.NewEventEntry(
			EventReachableChanged,
			datamodel.EventPriorityInfo,
			datamodel.PrivilegeView,
			false,
		))
	}

	viewPriv := datamodel.PrivilegeView
	c.attrList = datamodel.MergeAttributeLists([]datamodel.AttributeEntry{
		datamodel.NewReadOnlyAttribute(AttrNodeLabel, datamodel.AttrQualityNonVolatile, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrReachable, 0, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrUniqueID, datamodel.AttrQualityFixed, viewPriv),
	})
	return c
}

// AttributeList implements datamodel.Cluster.
func (c *Cluster) AttributeList() []datamodel.AttributeEntry { return c.attrList }

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
	case AttrNodeLabel:
		return w.PutString(tlv.Anonymous(), c.config.NodeLabel)
	case AttrReachable:
		c.mu.RLock()
		r := c.reachable
		c.mu.RUnlock()
		return w.PutBool(tlv.Anonymous(), r)
	case AttrUniqueID:
		return w.PutString(tlv.Anonymous(), c.config.UniqueID)
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

// reachableChangedEvent mirrors ReachableChangedEvent (Spec 11.1.6.4),
// reused here as the Bridged Device Basic Information variant (Spec 9.13.7.1).
type reachableChangedEvent struct {
	ReachableNewValue bool
}

// MarshalTLV implements the TLVMarshaler interface.
func (e reachableChangedEvent) MarshalTLV(w *tlv.Writer) error {
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.PutBool(tlv.ContextTag(0), e.ReachableNewValue); err != nil {
		return err
	}
	return w.EndContainer()
}

// SetReachable updates the Reachable attribute, bumps the data version and
// emits ReachableChanged if the value actually changed.
func (c *Cluster) SetReachable(reachable bool) {
	c.mu.Lock()
	old := c.reachable
	if old == reachable {
		c.mu.Unlock()
		return
	}
	c.reachable = reachable
	c.mu.Unlock()

	c.IncrementDataVersion()

	if c.EventSource.IsBound() {
		_, _ = c.EventSource.Emit(EventReachableChanged, datamodel.EventPriorityInfo, reachableChangedEvent{ReachableNewValue: reachable})
	}

	if c.config.OnReachableChange != nil {
		c.config.OnReachableChange(c.config.EndpointID, reachable)
	}
}

// GetReachable returns the current Reachable value.
func (c *Cluster) GetReachable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reachable
}
