// Package humiditymeasurement implements the Relative Humidity Measurement
// Cluster (0x0405).
//
// MeasuredValue is reported in centi-percent (0..10000), nullable when no
// reading is available.
//
// Spec Reference: Section 2.6
package humiditymeasurement

import (
	"context"
	"sync"

	"github.com/nodebridge/matter-bridge/pkg/datamodel"
	"github.com/nodebridge/matter-bridge/pkg/tlv"
)

// Cluster constants.
const (
	ClusterID       datamodel.ClusterID = 0x0405
	ClusterRevision uint16              = 3
)

// Attribute IDs (Spec 2.6.4).
const (
	AttrMeasuredValue    datamodel.AttributeID = 0x0000
	AttrMinMeasuredValue datamodel.AttributeID = 0x0001
	AttrMaxMeasuredValue datamodel.AttributeID = 0x0002
)

// Range bounds advertised by this bridge: 0..100%, centi-percent.
const (
	MinMeasuredValue uint16 = 0
	MaxMeasuredValue uint16 = 10000
)

// ChangeCallback is invoked when the reading changes.
type ChangeCallback func(endpoint datamodel.EndpointID, value *uint16)

// Config provides dependencies for the Relative Humidity Measurement cluster.
type Config struct {
	EndpointID   datamodel.EndpointID
	InitialValue *uint16
	OnChange     ChangeCallback
}

// Cluster implements the Relative Humidity Measurement cluster (0x0405).
type Cluster struct {
	*datamodel.ClusterBase
	config Config

	mu    sync.RWMutex
	value *uint16

	attrList []datamodel.AttributeEntry
}

// New creates a new Relative Humidity Measurement cluster.
func New(cfg Config) *Cluster {
	c := &Cluster{
		ClusterBase: datamodel.NewClusterBase(ClusterID, cfg.EndpointID, ClusterRevision),
		config:      cfg,
		value:       cfg.InitialValue,
	}
	viewPriv := datamodel.PrivilegeView
	c.attrList = datamodel.MergeAttributeLists([]datamodel.AttributeEntry{
		datamodel.NewReadOnlyAttribute(AttrMeasuredValue, datamodel.AttrQualityNullable, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrMinMeasuredValue, datamodel.AttrQualityFixed|datamodel.AttrQualityNullable, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrMaxMeasuredValue, datamodel.AttrQualityFixed|datamodel.AttrQualityNullable, viewPriv),
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
	case AttrMeasuredValue:
		c.mu.RLock()
		v := c.value
		c.mu.RUnlock()
		if v == nil {
			return w.PutNull(tlv.Anonymous())
		}
		return w.PutUint(tlv.Anonymous(), uint64(*v))
	case AttrMinMeasuredValue:
		return w.PutUint(tlv.Anonymous(), uint64(MinMeasuredValue))
	case AttrMaxMeasuredValue:
		return w.PutUint(tlv.Anonymous(), uint64(MaxMeasuredValue))
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

// SetValue updates the measured value (clamped to 0..100%) and bumps the
// data version if it changed. Pass nil to mark the reading unavailable.
func (c *Cluster) SetValue(value *uint16) {
	clamped := value
	if clamped != nil {
		v := *clamped
		if v > MaxMeasuredValue {
			v = MaxMeasuredValue
		}
		clamped = &v
	}

	c.mu.Lock()
	changed := !equalPtr(c.value, clamped)
	c.value = clamped
	c.mu.Unlock()

	if !changed {
		return
	}

	c.IncrementDataVersion()
	if c.config.OnChange != nil {
		c.config.OnChange(c.config.EndpointID, clamped)
	}
}

// GetValue returns the current measured value, or nil if unavailable.
func (c *Cluster) GetValue() *uint16 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.value == nil {
		return nil
	}
	v := *c.value
	return &v
}

func equalPtr(a, b *uint16) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
