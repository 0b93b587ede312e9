// Package occupancysensing implements the Occupancy Sensing Cluster (0x0406).
//
// This bridge only models physical-contact occupancy sensing (e.g. a PIR
// motion sensor bridged from the simulated sensor input), so the sensor
// type attributes are fixed rather than configurable.
//
// Spec Reference: Section 2.7
package occupancysensing

import (
	"context"
	"sync"

	"github.com/nodebridge/matter-bridge/pkg/datamodel"
	"github.com/nodebridge/matter-bridge/pkg/tlv"
)

// Cluster constants.
const (
	ClusterID       datamodel.ClusterID = 0x0406
	ClusterRevision uint16              = 5
)

// Attribute IDs (Spec 2.7.6).
const (
	AttrOccupancy                  datamodel.AttributeID = 0x0000
	AttrOccupancySensorType        datamodel.AttributeID = 0x0001
	AttrOccupancySensorTypeBitmap  datamodel.AttributeID = 0x0002
)

// OccupancySensorType enumerates the sensing technology (Spec 2.7.5.2).
type OccupancySensorType uint8

const (
	OccupancySensorTypePIR            OccupancySensorType = 0
	OccupancySensorTypeUltrasonic      OccupancySensorType = 1
	OccupancySensorTypePIRAndUltrasonic OccupancySensorType = 2
	OccupancySensorTypePhysicalContact OccupancySensorType = 3
)

// Occupancy bitmap bit.
const occupancyBitSensed = 1 << 0

// OccupancySensorTypeBitmapPhysicalContact is the fixed bitmap value this
// bridge advertises (bit 3 = PhysicalContact per spec.md).
const OccupancySensorTypeBitmapPhysicalContact = 0x08

// StateChangeCallback is invoked when occupancy changes.
type StateChangeCallback func(endpoint datamodel.EndpointID, occupied bool)

// Config provides dependencies for the Occupancy Sensing cluster.
type Config struct {
	EndpointID      datamodel.EndpointID
	InitialOccupied bool
	OnStateChange   StateChangeCallback
}

// Cluster implements the Occupancy Sensing cluster (0x0406).
type Cluster struct {
	*datamodel.ClusterBase
	config Config

	mu       sync.RWMutex
	occupied bool

	attrList []datamodel.AttributeEntry
}

// New creates a new Occupancy Sensing cluster.
func New(cfg Config) *Cluster {
	c := &Cluster{
		ClusterBase: datamodel.NewClusterBase(ClusterID, cfg.EndpointID, ClusterRevision),
		config:      cfg,
		occupied:    cfg.InitialOccupied,
	}
	viewPriv := datamodel.PrivilegeView
	c.attrList = datamodel.MergeAttributeLists([]datamodel.AttributeEntry{
		datamodel.NewReadOnlyAttribute(AttrOccupancy, 0, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrOccupancySensorType, datamodel.AttrQualityFixed, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrOccupancySensorTypeBitmap, datamodel.AttrQualityFixed, viewPriv),
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
	case AttrOccupancy:
		c.mu.RLock()
		occupied := c.occupied
		c.mu.RUnlock()
		var bitmap uint64
		if occupied {
			bitmap = occupancyBitSensed
		}
		return w.PutUint(tlv.Anonymous(), bitmap)
	case AttrOccupancySensorType:
		return w.PutUint(tlv.Anonymous(), uint64(OccupancySensorTypePhysicalContact))
	case AttrOccupancySensorTypeBitmap:
		return w.PutUint(tlv.Anonymous(), OccupancySensorTypeBitmapPhysicalContact)
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

// SetOccupied updates the occupancy state and bumps the data version if changed.
func (c *Cluster) SetOccupied(occupied bool) {
	c.mu.Lock()
	old := c.occupied
	if old == occupied {
		c.mu.Unlock()
		return
	}
	c.occupied = occupied
	c.mu.Unlock()

	c.IncrementDataVersion()

	if c.config.OnStateChange != nil {
		c.config.OnStateChange(c.config.EndpointID, occupied)
	}
}

// GetOccupied returns the current occupancy state.
func (c *Cluster) GetOccupied() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.occupied
}
