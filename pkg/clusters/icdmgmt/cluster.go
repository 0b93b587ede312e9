// Package icdmgmt implements the ICD Management Cluster (0x0046) with
// Check-In Protocol support (feature bit 0x01).
//
// This bridge is always mains-powered and network-connected, so the
// reported idle/active durations describe an always-on device rather
// than a battery-backed sleepy end device. Check-In Protocol support is
// still advertised because some controllers (notably Home Assistant)
// require RegisterClient/UnregisterClient/StayActiveRequest to complete
// commissioning, and registering a client lets the bridge recover
// subscriptions after a restart without waiting for a fresh Read.
//
// Spec Reference: Section 9.16
package icdmgmt

import (
	"bytes"
	"context"

	"github.com/nodebridge/matter-bridge/pkg/datamodel"
	"github.com/nodebridge/matter-bridge/pkg/tlv"
)

// Cluster constants.
const (
	ClusterID       datamodel.ClusterID = 0x0046
	ClusterRevision uint16              = 3
)

// Feature flags (Spec 9.16.4).
const FeatureCheckInProtocolSupport uint32 = 0x01

// Attribute IDs (Spec 9.16.6).
const (
	AttrIdleModeDuration                datamodel.AttributeID = 0x0000
	AttrActiveModeDuration              datamodel.AttributeID = 0x0001
	AttrActiveModeThreshold             datamodel.AttributeID = 0x0002
	AttrRegisteredClients               datamodel.AttributeID = 0x0003
	AttrICDCounter                      datamodel.AttributeID = 0x0004
	AttrClientsSupportedPerFabric       datamodel.AttributeID = 0x0005
	AttrUserActiveModeTriggerHint       datamodel.AttributeID = 0x0006
	AttrUserActiveModeTriggerInstruction datamodel.AttributeID = 0x0007
)

// Command IDs (Spec 9.16.7).
const (
	CmdRegisterClient     datamodel.CommandID = 0x00
	CmdUnregisterClient   datamodel.CommandID = 0x02
	CmdStayActiveRequest  datamodel.CommandID = 0x03
)

// Response command IDs.
const (
	CmdRegisterClientResponse datamodel.CommandID = 0x01
	CmdStayActiveResponse     datamodel.CommandID = 0x04
)

// ClientType enumerates a registered ICD client's type (Spec 9.16.5.1).
type ClientType uint8

const (
	ClientTypePermanent ClientType = 0
	ClientTypeEphemeral ClientType = 1
)

// Always-on policy values reported by this bridge.
const (
	IdleModeDurationSeconds   uint32 = 1
	ActiveModeDurationMillis  uint32 = 10000
	ActiveModeThresholdMillis uint16 = 5000
	ClientsSupportedPerFabric uint16 = 4
	maxStayActiveDurationMs   uint32 = 30000
)

// RegisteredClient is a single registered check-in client (Spec 9.16.5.5).
type RegisteredClient struct {
	FabricIndex       uint8
	CheckInNodeID     uint64
	MonitoredSubject  uint64
	Key               [16]byte
	VerificationKey   *[16]byte
	ClientType        ClientType
}

// Store persists ICD Management state: the monotonic counter and the set
// of registered check-in clients, keyed by fabric.
type Store interface {
	// ICDCounter returns the current counter value.
	ICDCounter() uint32
	// NextCounter increments and returns the counter.
	NextCounter() uint32

	// RegisteredClients returns all clients registered for a fabric.
	RegisteredClients(fabricIndex uint8) []RegisteredClient
	// RegisterClient adds or replaces a registered client and returns the
	// current ICD counter.
	RegisterClient(client RegisteredClient) uint32
	// UnregisterClient removes a registered client. verificationKey, if
	// non-nil, must match the client's stored key for removal to occur.
	// Returns true if a client was removed.
	UnregisterClient(fabricIndex uint8, checkInNodeID uint64, verificationKey *[16]byte) bool
}

// StayActiveCallback is invoked when a controller requests the device stay
// active for a bounded duration. The bridge has no sleep state to defer,
// so this is informational only.
type StayActiveCallback func(fabricIndex uint8, requestedMs uint32, promisedMs uint32)

// Config provides dependencies for the ICD Management cluster.
type Config struct {
	EndpointID         datamodel.EndpointID
	Store              Store
	OnStayActiveRequest StayActiveCallback
}

// Cluster implements the ICD Management cluster (0x0046).
type Cluster struct {
	*datamodel.ClusterBase
	config Config

	attrList []datamodel.AttributeEntry
}

// New creates a new ICD Management cluster.
func New(cfg Config) *Cluster {
	c := &Cluster{
		ClusterBase: datamodel.NewClusterBase(ClusterID, cfg.EndpointID, ClusterRevision),
		config:      cfg,
	}
	c.ClusterBase.SetFeatureMap(FeatureCheckInProtocolSupport)

	viewPriv := datamodel.PrivilegeView
	adminPriv := datamodel.PrivilegeAdminister
	c.attrList = datamodel.MergeAttributeLists([]datamodel.AttributeEntry{
		datamodel.NewReadOnlyAttribute(AttrIdleModeDuration, datamodel.AttrQualityFixed, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrActiveModeDuration, datamodel.AttrQualityFixed, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrActiveModeThreshold, datamodel.AttrQualityFixed, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrRegisteredClients, datamodel.AttrQualityList|datamodel.AttrQualityFabricScoped, adminPriv),
		datamodel.NewReadOnlyAttribute(AttrICDCounter, 0, adminPriv),
		datamodel.NewReadOnlyAttribute(AttrClientsSupportedPerFabric, datamodel.AttrQualityFixed, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrUserActiveModeTriggerHint, datamodel.AttrQualityFixed, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrUserActiveModeTriggerInstruction, datamodel.AttrQualityFixed, viewPriv),
	})
	return c
}

// AttributeList implements datamodel.Cluster.
func (c *Cluster) AttributeList() []datamodel.AttributeEntry { return c.attrList }

// AcceptedCommandList implements datamodel.Cluster.
func (c *Cluster) AcceptedCommandList() []datamodel.CommandEntry {
	managePriv := datamodel.PrivilegeManage
	return []datamodel.CommandEntry{
		datamodel.NewCommandEntry(CmdRegisterClient, datamodel.CmdQualityFabricScoped, managePriv),
		datamodel.NewCommandEntry(CmdUnregisterClient, datamodel.CmdQualityFabricScoped, managePriv),
		datamodel.NewCommandEntry(CmdStayActiveRequest, 0, managePriv),
	}
}

// GeneratedCommandList implements datamodel.Cluster.
func (c *Cluster) GeneratedCommandList() []datamodel.CommandID {
	return []datamodel.CommandID{CmdRegisterClientResponse, CmdStayActiveResponse}
}

// ReadAttribute implements datamodel.Cluster.
func (c *Cluster) ReadAttribute(ctx context.Context, req datamodel.ReadAttributeRequest, w *tlv.Writer) error {
	handled, err := c.ReadGlobalAttribute(ctx, req.Path.Attribute, w,
		c.attrList, c.AcceptedCommandList(), c.GeneratedCommandList())
	if handled || err != nil {
		return err
	}

	switch req.Path.Attribute {
	case AttrIdleModeDuration:
		return w.PutUint(tlv.Anonymous(), uint64(IdleModeDurationSeconds))
	case AttrActiveModeDuration:
		return w.PutUint(tlv.Anonymous(), uint64(ActiveModeDurationMillis))
	case AttrActiveModeThreshold:
		return w.PutUint(tlv.Anonymous(), uint64(ActiveModeThresholdMillis))
	case AttrRegisteredClients:
		return c.encodeRegisteredClients(req, w)
	case AttrICDCounter:
		if c.config.Store == nil {
			return w.PutUint(tlv.Anonymous(), 0)
		}
		return w.PutUint(tlv.Anonymous(), uint64(c.config.Store.ICDCounter()))
	case AttrClientsSupportedPerFabric:
		return w.PutUint(tlv.Anonymous(), uint64(ClientsSupportedPerFabric))
	case AttrUserActiveModeTriggerHint:
		return w.PutUint(tlv.Anonymous(), 0)
	case AttrUserActiveModeTriggerInstruction:
		return w.PutString(tlv.Anonymous(), "")
	default:
		return datamodel.ErrUnsupportedAttribute
	}
}

func (c *Cluster) encodeRegisteredClients(req datamodel.ReadAttributeRequest, w *tlv.Writer) error {
	var clients []RegisteredClient
	if c.config.Store != nil {
		clients = c.config.Store.RegisteredClients(uint8(req.FabricIndex()))
	}

	if err := w.StartArray(tlv.Anonymous()); err != nil {
		return err
	}
	for _, client := range clients {
		if err := w.StartStructure(tlv.Anonymous()); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(1), client.CheckInNodeID); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(2), client.MonitoredSubject); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(4), uint64(client.ClientType)); err != nil {
			return err
		}
		if err := w.EndContainer(); err != nil {
			return err
		}
	}
	return w.EndContainer()
}

// WriteAttribute implements datamodel.Cluster.
func (c *Cluster) WriteAttribute(ctx context.Context, req datamodel.WriteAttributeRequest, r *tlv.Reader) error {
	return datamodel.ErrUnsupportedWrite
}

// InvokeCommand implements datamodel.Cluster.
func (c *Cluster) InvokeCommand(ctx context.Context, req datamodel.InvokeRequest, r *tlv.Reader) ([]byte, error) {
	switch req.Path.Command {
	case CmdRegisterClient:
		return c.handleRegisterClient(req, r)
	case CmdUnregisterClient:
		return c.handleUnregisterClient(req, r)
	case CmdStayActiveRequest:
		return c.handleStayActiveRequest(req, r)
	default:
		return nil, datamodel.ErrUnsupportedCommand
	}
}

func (c *Cluster) handleRegisterClient(req datamodel.InvokeRequest, r *tlv.Reader) ([]byte, error) {
	if c.config.Store == nil {
		return nil, datamodel.ErrUnsupportedCommand
	}

	if err := r.Next(); err != nil {
		return nil, err
	}
	if r.Type() != tlv.ElementTypeStruct {
		return nil, datamodel.ErrInvalidCommand
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}

	client := RegisteredClient{FabricIndex: uint8(req.FabricIndex())}
	var haveKey bool

	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.Type() == tlv.ElementTypeEnd {
			break
		}
		tag := r.Tag()
		if !tag.IsContext() {
			continue
		}
		switch tag.TagNumber() {
		case 0: // CheckInNodeID
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			client.CheckInNodeID = v
		case 1: // MonitoredSubject
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			client.MonitoredSubject = v
		case 2: // Key
			b, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			if len(b) != 16 {
				return nil, datamodel.ErrConstraintError
			}
			copy(client.Key[:], b)
			haveKey = true
		case 3: // VerificationKey (optional)
			b, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			if len(b) == 16 {
				var vk [16]byte
				copy(vk[:], b)
				client.VerificationKey = &vk
			}
		case 4: // ClientType
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			client.ClientType = ClientType(v)
		}
	}
	if err := r.ExitContainer(); err != nil {
		return nil, err
	}
	if !haveKey {
		return nil, datamodel.ErrConstraintError
	}

	counter := c.config.Store.RegisterClient(client)
	c.IncrementDataVersion()

	return encodeRegisterClientResponse(counter)
}

func (c *Cluster) handleUnregisterClient(req datamodel.InvokeRequest, r *tlv.Reader) ([]byte, error) {
	if c.config.Store == nil {
		return nil, datamodel.ErrUnsupportedCommand
	}

	if err := r.Next(); err != nil {
		return nil, err
	}
	if r.Type() != tlv.ElementTypeStruct {
		return nil, datamodel.ErrInvalidCommand
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}

	var checkInNodeID uint64
	var verificationKey *[16]byte

	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.Type() == tlv.ElementTypeEnd {
			break
		}
		tag := r.Tag()
		if !tag.IsContext() {
			continue
		}
		switch tag.TagNumber() {
		case 0:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			checkInNodeID = v
		case 1:
			b, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			if len(b) == 16 {
				var vk [16]byte
				copy(vk[:], b)
				verificationKey = &vk
			}
		}
	}
	if err := r.ExitContainer(); err != nil {
		return nil, err
	}

	if c.config.Store.UnregisterClient(uint8(req.FabricIndex()), checkInNodeID, verificationKey) {
		c.IncrementDataVersion()
	}

	return nil, nil
}

func (c *Cluster) handleStayActiveRequest(req datamodel.InvokeRequest, r *tlv.Reader) ([]byte, error) {
	if err := r.Next(); err != nil {
		return nil, err
	}
	if r.Type() != tlv.ElementTypeStruct {
		return nil, datamodel.ErrInvalidCommand
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}

	var requested uint32
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.Type() == tlv.ElementTypeEnd {
			break
		}
		tag := r.Tag()
		if tag.IsContext() && tag.TagNumber() == 0 {
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			requested = uint32(v)
		}
	}
	if err := r.ExitContainer(); err != nil {
		return nil, err
	}

	promised := requested
	if promised > maxStayActiveDurationMs {
		promised = maxStayActiveDurationMs
	}

	if c.config.OnStayActiveRequest != nil {
		c.config.OnStayActiveRequest(uint8(req.FabricIndex()), requested, promised)
	}

	return encodeStayActiveResponse(promised)
}

func encodeRegisterClientResponse(icdCounter uint32) ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(0), uint64(icdCounter)); err != nil {
		return nil, err
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeStayActiveResponse(promisedMs uint32) ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(0), uint64(promisedMs)); err != nil {
		return nil, err
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
