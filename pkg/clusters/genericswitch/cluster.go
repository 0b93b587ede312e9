// Package genericswitch implements the Generic Switch Cluster (0x003B).
//
// This bridge only models a momentary push-button (the doorbell's call
// button), so the cluster is fixed to the Momentary Switch (MS),
// Momentary Switch Release (MSR) and Momentary Switch Multi Press (MSM)
// feature combination and emits InitialPress, ShortRelease and
// MultiPressComplete events through the teacher's EventSource mixin.
// Latching-switch and long-press behavior are out of scope.
//
// Spec Reference: Section 3.2
package genericswitch

import (
	"context"
	"sync"

	"github.com/nodebridge/matter-bridge/pkg/datamodel"
	"github.com/nodebridge/matter-bridge/pkg/tlv"
)

// Cluster constants.
const (
	ClusterID       datamodel.ClusterID = 0x003B
	ClusterRevision uint16              = 2
)

// Feature flags (Spec 3.2.4).
const (
	FeatureLatchingSwitch          uint32 = 0x01
	FeatureMomentarySwitch         uint32 = 0x02
	FeatureMomentarySwitchRelease  uint32 = 0x04
	FeatureMomentarySwitchLongPress uint32 = 0x08
	FeatureMomentarySwitchMultiPress uint32 = 0x10
)

// featureMap is fixed: MS | MSR | MSM.
const featureMap = FeatureMomentarySwitch | FeatureMomentarySwitchRelease | FeatureMomentarySwitchMultiPress

// Attribute IDs (Spec 3.2.6).
const (
	AttrNumberOfPositions datamodel.AttributeID = 0x0000
	AttrCurrentPosition   datamodel.AttributeID = 0x0001
	AttrMultiPressMax     datamodel.AttributeID = 0x0002
)

// Fixed attribute values this bridge advertises.
const (
	NumberOfPositions uint8 = 2
	MultiPressMax     uint8 = 2
)

// Switch positions.
const (
	PositionReleased uint8 = 0
	PositionPressed  uint8 = 1
)

// Event IDs (Spec 3.2.7).
const (
	EventSwitchLatched        datamodel.EventID = 0x00
	EventInitialPress         datamodel.EventID = 0x01
	EventLongPress            datamodel.EventID = 0x02
	EventShortRelease         datamodel.EventID = 0x03
	EventLongRelease          datamodel.EventID = 0x04
	EventMultiPressOngoing    datamodel.EventID = 0x05
	EventMultiPressComplete   datamodel.EventID = 0x06
)

// Config provides dependencies for the Generic Switch cluster.
type Config struct {
	EndpointID datamodel.EndpointID

	// EventPublisher for InitialPress/ShortRelease/MultiPressComplete.
	// Optional - if nil, events are not emitted.
	EventPublisher datamodel.EventPublisher
}

// Cluster implements the Generic Switch cluster (0x003B).
type Cluster struct {
	*datamodel.ClusterBase
	*datamodel.EventSource
	config Config

	mu              sync.RWMutex
	currentPosition uint8

	attrList []datamodel.AttributeEntry
}

// New creates a new Generic Switch cluster.
func New(cfg Config) *Cluster {
	c := &Cluster{
		ClusterBase:     datamodel.NewClusterBase(ClusterID, cfg.EndpointID, ClusterRevision),
		EventSource:     datamodel.NewEventSource(),
		config:          cfg,
		currentPosition: PositionReleased,
	}
	c.ClusterBase.SetFeatureMap(featureMap)

	if cfg.EventPublisher != nil {
		c.EventSource.Bind(cfg.EndpointID, ClusterID, cfg.EventPublisher)
		c.registerEvents()
	}

	viewPriv := datamodel.PrivilegeView
	c.attrList = datamodel.MergeAttributeLists([]datamodel.AttributeEntry{
		datamodel.NewReadOnlyAttribute(AttrNumberOfPositions, datamodel.AttrQualityFixed, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrCurrentPosition, 0, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrMultiPressMax, datamodel.AttrQualityFixed, viewPriv),
	})
	return c
}

func (c *Cluster) registerEvents() {
	c.EventSource.RegisterEvent(datamodel.NewEventEntry(EventInitialPress, datamodel.EventPriorityInfo, datamodel.PrivilegeView, false))
	c.EventSource.RegisterEvent(datamodel.NewEventEntry(EventShortRelease, datamodel.EventPriorityInfo, datamodel.PrivilegeView, false))
	c.EventSource.RegisterEvent(datamodel.NewEventEntry(EventMultiPressComplete, datamodel.EventPriorityInfo, datamodel.PrivilegeView, false))
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
	case AttrNumberOfPositions:
		return w.PutUint(tlv.Anonymous(), uint64(NumberOfPositions))
	case AttrCurrentPosition:
		c.mu.RLock()
		p := c.currentPosition
		c.mu.RUnlock()
		return w.PutUint(tlv.Anonymous(), uint64(p))
	case AttrMultiPressMax:
		return w.PutUint(tlv.Anonymous(), uint64(MultiPressMax))
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

// initialPressEvent mirrors the InitialPress event (Spec 3.2.7.2).
type initialPressEvent struct {
	NewPosition uint8
}

func (e initialPressEvent) MarshalTLV(w *tlv.Writer) error {
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(0), uint64(e.NewPosition)); err != nil {
		return err
	}
	return w.EndContainer()
}

// shortReleaseEvent mirrors the ShortRelease event (Spec 3.2.7.4).
type shortReleaseEvent struct {
	PreviousPosition uint8
}

func (e shortReleaseEvent) MarshalTLV(w *tlv.Writer) error {
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(0), uint64(e.PreviousPosition)); err != nil {
		return err
	}
	return w.EndContainer()
}

// multiPressCompleteEvent mirrors the MultiPressComplete event (Spec 3.2.7.7).
type multiPressCompleteEvent struct {
	PreviousPosition  uint8
	TotalNumberOfPressesCounted uint8
}

func (e multiPressCompleteEvent) MarshalTLV(w *tlv.Writer) error {
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(0), uint64(e.PreviousPosition)); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(1), uint64(e.TotalNumberOfPressesCounted)); err != nil {
		return err
	}
	return w.EndContainer()
}

// Press records a button-down transition, bumps CurrentPosition to
// pressed and emits InitialPress.
func (c *Cluster) Press() {
	c.mu.Lock()
	c.currentPosition = PositionPressed
	c.mu.Unlock()

	c.IncrementDataVersion()

	if c.EventSource.IsBound() {
		_, _ = c.EventSource.Emit(EventInitialPress, datamodel.EventPriorityInfo, initialPressEvent{NewPosition: PositionPressed})
	}
}

// Release records a short button-up transition following Press, restores
// CurrentPosition to released and emits ShortRelease.
func (c *Cluster) Release() {
	c.mu.Lock()
	c.currentPosition = PositionReleased
	c.mu.Unlock()

	c.IncrementDataVersion()

	if c.EventSource.IsBound() {
		_, _ = c.EventSource.Emit(EventShortRelease, datamodel.EventPriorityInfo, shortReleaseEvent{PreviousPosition: PositionPressed})
	}
}

// MultiPress emits a MultiPressComplete event reporting count presses
// within the multi-press window, without altering CurrentPosition (the
// button has already returned to released between presses).
func (c *Cluster) MultiPress(count uint8) {
	if count == 0 {
		return
	}
	if c.EventSource.IsBound() {
		_, _ = c.EventSource.Emit(EventMultiPressComplete, datamodel.EventPriorityInfo, multiPressCompleteEvent{
			PreviousPosition:            PositionReleased,
			TotalNumberOfPressesCounted: count,
		})
	}
}

// CurrentPosition returns the current switch position.
func (c *Cluster) CurrentPosition() uint8 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentPosition
}
