// Package timesync implements a minimal, read-only Time Synchronization
// Cluster (0x0038).
//
// Some controllers (notably Home Assistant) probe this cluster on the
// root endpoint during commissioning. The original single-board project
// this bridge descends from mistakenly reused the ICD Management cluster
// ID (0x0046) for its Time Synchronization handler; here the two are
// kept on their own, correct cluster IDs (see pkg/clusters/icdmgmt).
//
// Spec Reference: Section 9.17
package timesync

import (
	"context"
	"time"

	"github.com/nodebridge/matter-bridge/pkg/datamodel"
	"github.com/nodebridge/matter-bridge/pkg/tlv"
)

// Cluster constants.
const (
	ClusterID       datamodel.ClusterID = 0x0038
	ClusterRevision uint16              = 2
)

// Attribute IDs (Spec 9.17.6, subset implemented).
const (
	AttrUTCTime      datamodel.AttributeID = 0x0000
	AttrGranularity  datamodel.AttributeID = 0x0001
	AttrTimeSource   datamodel.AttributeID = 0x0002
	AttrDSTOffset    datamodel.AttributeID = 0x0006
	AttrLocalTime    datamodel.AttributeID = 0x0007
)

// GranularityEnum values (Spec 9.17.7.9).
const (
	GranularityNoTimeGranularity uint8 = 0
	GranularityMinutesGranularity uint8 = 1
	GranularitySecondsGranularity uint8 = 2
)

// TimeSourceEnum values (Spec 9.17.7.12); 0 means unknown/unspecified.
const timeSourceUnknown uint8 = 0

// nowFunc is overridable in tests.
var nowFunc = time.Now

// Config provides dependencies for the Time Synchronization cluster.
type Config struct {
	EndpointID datamodel.EndpointID
}

// Cluster implements a read-only Time Synchronization cluster (0x0038).
type Cluster struct {
	*datamodel.ClusterBase
	config Config

	attrList []datamodel.AttributeEntry
}

// New creates a new Time Synchronization cluster.
func New(cfg Config) *Cluster {
	c := &Cluster{
		ClusterBase: datamodel.NewClusterBase(ClusterID, cfg.EndpointID, ClusterRevision),
		config:      cfg,
	}
	viewPriv := datamodel.PrivilegeView
	c.attrList = datamodel.MergeAttributeLists([]datamodel.AttributeEntry{
		datamodel.NewReadOnlyAttribute(AttrUTCTime, datamodel.AttrQualityNullable, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrGranularity, 0, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrTimeSource, 0, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrDSTOffset, datamodel.AttrQualityList, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrLocalTime, datamodel.AttrQualityNullable, viewPriv),
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
	case AttrUTCTime:
		return w.PutInt(tlv.Anonymous(), epochMicros())
	case AttrGranularity:
		return w.PutUint(tlv.Anonymous(), uint64(GranularitySecondsGranularity))
	case AttrTimeSource:
		return w.PutUint(tlv.Anonymous(), uint64(timeSourceUnknown))
	case AttrDSTOffset:
		if err := w.StartArray(tlv.Anonymous()); err != nil {
			return err
		}
		return w.EndContainer()
	case AttrLocalTime:
		return w.PutInt(tlv.Anonymous(), epochMicros())
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

func epochMicros() int64 {
	return nowFunc().UnixMicro()
}
