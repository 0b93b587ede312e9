// Package cameraavstreammgmt implements the Camera AV Stream Management
// Cluster (0x0551).
//
// This bridge fronts a single RTSP doorbell camera, so the capability
// attributes (sensor params, codec lists, bandwidth/encoder limits) are
// fixed at construction time. VideoStreamAllocate/AudioStreamAllocate
// hand out server-assigned stream IDs the way the teacher's
// webrtc-transport provider hands out session IDs; snapshot-stream
// commands are rejected with InvalidAction since this bridge has no
// still-image pipeline.
//
// Spec Reference: Section 9.18
package cameraavstreammgmt

import (
	"bytes"
	"context"
	"sync"

	"github.com/nodebridge/matter-bridge/pkg/datamodel"
	"github.com/nodebridge/matter-bridge/pkg/tlv"
)

// Cluster constants.
const (
	ClusterID       datamodel.ClusterID = 0x0551
	ClusterRevision uint16              = 1
)

// Feature flags (Spec 9.18.4).
const (
	FeatureAudio        uint32 = 0x0001
	FeatureVideo        uint32 = 0x0002
	FeatureSnapshot     uint32 = 0x0004
	FeaturePrivacy      uint32 = 0x0008
	FeatureSpeaker      uint32 = 0x0010
	FeatureImageControl uint32 = 0x0020
	FeatureWatermark    uint32 = 0x0040
	FeatureOSD          uint32 = 0x0080
	FeatureLocalStorage uint32 = 0x0100
	FeatureHDR          uint32 = 0x0200
	FeatureNightVision  uint32 = 0x0400
)

// featureMap advertised by this bridge: audio + video + image control,
// no snapshot pipeline, no local storage, no watermark/OSD overlays.
const featureMap = FeatureAudio | FeatureVideo | FeaturePrivacy | FeatureSpeaker | FeatureImageControl | FeatureNightVision

// Attribute IDs (Spec 9.18.6, subset this bridge implements).
const (
	AttrMaxConcurrentVideoEncoders        datamodel.AttributeID = 0x0000
	AttrMaxEncodedPixelRate               datamodel.AttributeID = 0x0001
	AttrVideoSensorParams                 datamodel.AttributeID = 0x0002
	AttrNightVisionCapable                datamodel.AttributeID = 0x0003
	AttrMinViewport                       datamodel.AttributeID = 0x0004
	AttrMaxContentBufferSize              datamodel.AttributeID = 0x0006
	AttrMicrophoneCapabilities            datamodel.AttributeID = 0x0007
	AttrSpeakerCapabilities               datamodel.AttributeID = 0x0008
	AttrTwoWayTalkSupport                 datamodel.AttributeID = 0x0009
	AttrMaxNetworkBandwidth               datamodel.AttributeID = 0x000B
	AttrCurrentFrameRate                  datamodel.AttributeID = 0x000C
	AttrHDRModeEnabled                    datamodel.AttributeID = 0x000D
	AttrCurrentVideoCodecs                datamodel.AttributeID = 0x000E
	AttrAllocatedVideoStreams             datamodel.AttributeID = 0x0011
	AttrAllocatedAudioStreams             datamodel.AttributeID = 0x0012
	AttrSoftRecordingPrivacyModeEnabled   datamodel.AttributeID = 0x0015
	AttrSoftLivestreamPrivacyModeEnabled  datamodel.AttributeID = 0x0016
	AttrNightVision                       datamodel.AttributeID = 0x0018
	AttrSpeakerMuted                      datamodel.AttributeID = 0x001E
	AttrSpeakerVolumeLevel                datamodel.AttributeID = 0x001F
	AttrMicrophoneMuted                   datamodel.AttributeID = 0x0022
	AttrMicrophoneVolumeLevel             datamodel.AttributeID = 0x0023
	AttrMicrophoneAGCEnabled              datamodel.AttributeID = 0x0026
	AttrImageRotation                     datamodel.AttributeID = 0x0027
	AttrImageFlipHorizontal               datamodel.AttributeID = 0x0028
	AttrImageFlipVertical                 datamodel.AttributeID = 0x0029
	AttrLocalVideoRecordingEnabled        datamodel.AttributeID = 0x002A
	AttrLocalSnapshotRecordingEnabled     datamodel.AttributeID = 0x002B
)

// Command IDs (Spec 9.18.7).
const (
	CmdAudioStreamAllocate     datamodel.CommandID = 0x00
	CmdAudioStreamDeallocate   datamodel.CommandID = 0x01
	CmdVideoStreamAllocate     datamodel.CommandID = 0x02
	CmdVideoStreamDeallocate   datamodel.CommandID = 0x03
	CmdSnapshotStreamAllocate  datamodel.CommandID = 0x04
	CmdSnapshotStreamDeallocate datamodel.CommandID = 0x05
	CmdSetStreamPriorities     datamodel.CommandID = 0x06
	CmdCaptureSnapshot         datamodel.CommandID = 0x07
	CmdSetViewport             datamodel.CommandID = 0x08
	CmdSetImageRotation        datamodel.CommandID = 0x09
)

// Response command IDs.
const (
	CmdAudioStreamAllocateResponse datamodel.CommandID = 0x00
	CmdVideoStreamAllocateResponse datamodel.CommandID = 0x02
)

// StreamUsage enumerates the intent of an allocated stream (Spec 9.18.5.1).
type StreamUsage uint8

const (
	StreamUsageInternal   StreamUsage = 0x00
	StreamUsageRecording  StreamUsage = 0x01
	StreamUsageAnalysis   StreamUsage = 0x02
	StreamUsageLiveView   StreamUsage = 0x03
)

// VideoCodec enumerates supported video codecs (Spec 9.18.5.3).
type VideoCodec uint8

const (
	VideoCodecH264 VideoCodec = 0x00
	VideoCodecHEVC VideoCodec = 0x01
	VideoCodecVVC  VideoCodec = 0x02
	VideoCodecAV1  VideoCodec = 0x03
)

// AudioCodec enumerates supported audio codecs (Spec 9.18.5.2).
type AudioCodec uint8

const (
	AudioCodecOpus  AudioCodec = 0x00
	AudioCodecAacLc AudioCodec = 0x01
)

// VideoResolution is a width/height pair.
type VideoResolution struct {
	Width  uint16
	Height uint16
}

// VideoStream is a server-allocated encoded video stream.
type VideoStream struct {
	ID              uint16
	StreamUsage     StreamUsage
	VideoCodec      VideoCodec
	MinFrameRate    uint16
	MaxFrameRate    uint16
	MinResolution   VideoResolution
	MaxResolution   VideoResolution
	MinBitRate      uint32
	MaxBitRate      uint32
	ReferenceCount  uint8
}

// AudioStream is a server-allocated encoded audio stream.
type AudioStream struct {
	ID             uint16
	StreamUsage    StreamUsage
	AudioCodec     AudioCodec
	ChannelCount   uint8
	SampleRate     uint32
	BitRate        uint32
	BitDepth       uint8
	ReferenceCount uint8
}

// Capabilities describes the fixed camera capability attributes this
// bridge advertises, derived from the bridged RTSP doorbell's sensor.
type Capabilities struct {
	MaxConcurrentVideoEncoders uint8
	MaxEncodedPixelRate        uint32
	SensorWidth                uint16
	SensorHeight               uint16
	MaxFPS                     uint16
	MaxContentBufferSize       uint32
	MaxNetworkBandwidthKbps    uint32
}

// DefaultCapabilities returns sensible capability values for a single
// 1080p30 H.264/Opus RTSP doorbell camera.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		MaxConcurrentVideoEncoders: 1,
		MaxEncodedPixelRate:        62208000, // 1920x1080@30fps
		SensorWidth:                1920,
		SensorHeight:               1080,
		MaxFPS:                     30,
		MaxContentBufferSize:       4 * 1024 * 1024,
		MaxNetworkBandwidthKbps:    8000,
	}
}

// Config provides dependencies for the Camera AV Stream Management cluster.
type Config struct {
	EndpointID   datamodel.EndpointID
	Capabilities Capabilities
}

// Cluster implements the Camera AV Stream Management cluster (0x0551).
type Cluster struct {
	*datamodel.ClusterBase
	config Config

	mu                sync.RWMutex
	videoStreams      map[uint16]*VideoStream
	audioStreams      map[uint16]*AudioStream
	nextStreamID      uint16

	hdrModeEnabled               bool
	softRecordingPrivacyEnabled  bool
	softLivestreamPrivacyEnabled bool
	nightVision                  uint8 // TriStateAuto
	speakerMuted                 bool
	speakerVolumeLevel           uint8
	microphoneMuted              bool
	microphoneVolumeLevel        uint8
	microphoneAGCEnabled         bool
	imageRotation                uint16
	imageFlipHorizontal          bool
	imageFlipVertical            bool
	localVideoRecordingEnabled   bool
	localSnapshotRecordingEnabled bool

	attrList []datamodel.AttributeEntry
}

// New creates a new Camera AV Stream Management cluster.
func New(cfg Config) *Cluster {
	if cfg.Capabilities == (Capabilities{}) {
		cfg.Capabilities = DefaultCapabilities()
	}
	c := &Cluster{
		ClusterBase:        datamodel.NewClusterBase(ClusterID, cfg.EndpointID, ClusterRevision),
		config:             cfg,
		videoStreams:       make(map[uint16]*VideoStream),
		audioStreams:       make(map[uint16]*AudioStream),
		nextStreamID:       1,
		microphoneAGCEnabled: true,
		speakerVolumeLevel: 128,
		microphoneVolumeLevel: 128,
	}
	c.ClusterBase.SetFeatureMap(featureMap)

	viewPriv := datamodel.PrivilegeView
	managePriv := datamodel.PrivilegeManage
	c.attrList = datamodel.MergeAttributeLists([]datamodel.AttributeEntry{
		datamodel.NewReadOnlyAttribute(AttrMaxConcurrentVideoEncoders, datamodel.AttrQualityFixed, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrMaxEncodedPixelRate, datamodel.AttrQualityFixed, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrVideoSensorParams, datamodel.AttrQualityFixed, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrNightVisionCapable, datamodel.AttrQualityFixed, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrMinViewport, datamodel.AttrQualityFixed, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrMaxContentBufferSize, datamodel.AttrQualityFixed, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrMicrophoneCapabilities, datamodel.AttrQualityFixed, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrSpeakerCapabilities, datamodel.AttrQualityFixed, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrTwoWayTalkSupport, datamodel.AttrQualityFixed, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrMaxNetworkBandwidth, datamodel.AttrQualityFixed, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrCurrentFrameRate, 0, viewPriv),
		datamodel.NewReadWriteAttribute(AttrHDRModeEnabled, 0, viewPriv, managePriv),
		datamodel.NewReadOnlyAttribute(AttrCurrentVideoCodecs, datamodel.AttrQualityFixed|datamodel.AttrQualityList, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrAllocatedVideoStreams, datamodel.AttrQualityList, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrAllocatedAudioStreams, datamodel.AttrQualityList, viewPriv),
		datamodel.NewReadWriteAttribute(AttrSoftRecordingPrivacyModeEnabled, 0, viewPriv, managePriv),
		datamodel.NewReadWriteAttribute(AttrSoftLivestreamPrivacyModeEnabled, 0, viewPriv, managePriv),
		datamodel.NewReadWriteAttribute(AttrNightVision, 0, viewPriv, managePriv),
		datamodel.NewReadWriteAttribute(AttrSpeakerMuted, 0, viewPriv, managePriv),
		datamodel.NewReadWriteAttribute(AttrSpeakerVolumeLevel, 0, viewPriv, managePriv),
		datamodel.NewReadWriteAttribute(AttrMicrophoneMuted, 0, viewPriv, managePriv),
		datamodel.NewReadWriteAttribute(AttrMicrophoneVolumeLevel, 0, viewPriv, managePriv),
		datamodel.NewReadWriteAttribute(AttrMicrophoneAGCEnabled, 0, viewPriv, managePriv),
		datamodel.NewReadWriteAttribute(AttrImageRotation, 0, viewPriv, managePriv),
		datamodel.NewReadWriteAttribute(AttrImageFlipHorizontal, 0, viewPriv, managePriv),
		datamodel.NewReadWriteAttribute(AttrImageFlipVertical, 0, viewPriv, managePriv),
		datamodel.NewReadWriteAttribute(AttrLocalVideoRecordingEnabled, 0, viewPriv, managePriv),
		datamodel.NewReadWriteAttribute(AttrLocalSnapshotRecordingEnabled, 0, viewPriv, managePriv),
	})
	return c
}

// AttributeList implements datamodel.Cluster.
func (c *Cluster) AttributeList() []datamodel.AttributeEntry { return c.attrList }

// AcceptedCommandList implements datamodel.Cluster.
func (c *Cluster) AcceptedCommandList() []datamodel.CommandEntry {
	managePriv := datamodel.PrivilegeManage
	return []datamodel.CommandEntry{
		datamodel.NewCommandEntry(CmdAudioStreamAllocate, 0, managePriv),
		datamodel.NewCommandEntry(CmdAudioStreamDeallocate, 0, managePriv),
		datamodel.NewCommandEntry(CmdVideoStreamAllocate, 0, managePriv),
		datamodel.NewCommandEntry(CmdVideoStreamDeallocate, 0, managePriv),
		datamodel.NewCommandEntry(CmdSnapshotStreamAllocate, 0, managePriv),
		datamodel.NewCommandEntry(CmdSnapshotStreamDeallocate, 0, managePriv),
		datamodel.NewCommandEntry(CmdSetStreamPriorities, 0, managePriv),
		datamodel.NewCommandEntry(CmdCaptureSnapshot, 0, managePriv),
		datamodel.NewCommandEntry(CmdSetViewport, 0, managePriv),
		datamodel.NewCommandEntry(CmdSetImageRotation, 0, managePriv),
	}
}

// GeneratedCommandList implements datamodel.Cluster.
func (c *Cluster) GeneratedCommandList() []datamodel.CommandID {
	return []datamodel.CommandID{CmdAudioStreamAllocateResponse, CmdVideoStreamAllocateResponse}
}

// ReadAttribute implements datamodel.Cluster.
func (c *Cluster) ReadAttribute(ctx context.Context, req datamodel.ReadAttributeRequest, w *tlv.Writer) error {
	handled, err := c.ReadGlobalAttribute(ctx, req.Path.Attribute, w,
		c.attrList, c.AcceptedCommandList(), c.GeneratedCommandList())
	if handled || err != nil {
		return err
	}

	caps := c.config.Capabilities

	switch req.Path.Attribute {
	case AttrMaxConcurrentVideoEncoders:
		return w.PutUint(tlv.Anonymous(), uint64(caps.MaxConcurrentVideoEncoders))
	case AttrMaxEncodedPixelRate:
		return w.PutUint(tlv.Anonymous(), uint64(caps.MaxEncodedPixelRate))
	case AttrVideoSensorParams:
		return c.encodeVideoSensorParams(w)
	case AttrNightVisionCapable:
		return w.PutBool(tlv.Anonymous(), true)
	case AttrMinViewport:
		return c.encodeViewport(w, 320, 180)
	case AttrMaxContentBufferSize:
		return w.PutUint(tlv.Anonymous(), uint64(caps.MaxContentBufferSize))
	case AttrMicrophoneCapabilities:
		return c.encodeMicrophoneCapabilities(w)
	case AttrSpeakerCapabilities:
		return c.encodeSpeakerCapabilities(w)
	case AttrTwoWayTalkSupport:
		return w.PutUint(tlv.Anonymous(), 1) // HalfDuplex
	case AttrMaxNetworkBandwidth:
		return w.PutUint(tlv.Anonymous(), uint64(caps.MaxNetworkBandwidthKbps))
	case AttrCurrentFrameRate:
		return w.PutUint(tlv.Anonymous(), uint64(caps.MaxFPS))
	case AttrHDRModeEnabled:
		c.mu.RLock()
		v := c.hdrModeEnabled
		c.mu.RUnlock()
		return w.PutBool(tlv.Anonymous(), v)
	case AttrCurrentVideoCodecs:
		return c.encodeCurrentVideoCodecs(w)
	case AttrAllocatedVideoStreams:
		return c.encodeAllocatedVideoStreams(w)
	case AttrAllocatedAudioStreams:
		return c.encodeAllocatedAudioStreams(w)
	case AttrSoftRecordingPrivacyModeEnabled:
		c.mu.RLock()
		v := c.softRecordingPrivacyEnabled
		c.mu.RUnlock()
		return w.PutBool(tlv.Anonymous(), v)
	case AttrSoftLivestreamPrivacyModeEnabled:
		c.mu.RLock()
		v := c.softLivestreamPrivacyEnabled
		c.mu.RUnlock()
		return w.PutBool(tlv.Anonymous(), v)
	case AttrNightVision:
		c.mu.RLock()
		v := c.nightVision
		c.mu.RUnlock()
		return w.PutUint(tlv.Anonymous(), uint64(v))
	case AttrSpeakerMuted:
		c.mu.RLock()
		v := c.speakerMuted
		c.mu.RUnlock()
		return w.PutBool(tlv.Anonymous(), v)
	case AttrSpeakerVolumeLevel:
		c.mu.RLock()
		v := c.speakerVolumeLevel
		c.mu.RUnlock()
		return w.PutUint(tlv.Anonymous(), uint64(v))
	case AttrMicrophoneMuted:
		c.mu.RLock()
		v := c.microphoneMuted
		c.mu.RUnlock()
		return w.PutBool(tlv.Anonymous(), v)
	case AttrMicrophoneVolumeLevel:
		c.mu.RLock()
		v := c.microphoneVolumeLevel
		c.mu.RUnlock()
		return w.PutUint(tlv.Anonymous(), uint64(v))
	case AttrMicrophoneAGCEnabled:
		c.mu.RLock()
		v := c.microphoneAGCEnabled
		c.mu.RUnlock()
		return w.PutBool(tlv.Anonymous(), v)
	case AttrImageRotation:
		c.mu.RLock()
		v := c.imageRotation
		c.mu.RUnlock()
		return w.PutUint(tlv.Anonymous(), uint64(v))
	case AttrImageFlipHorizontal:
		c.mu.RLock()
		v := c.imageFlipHorizontal
		c.mu.RUnlock()
		return w.PutBool(tlv.Anonymous(), v)
	case AttrImageFlipVertical:
		c.mu.RLock()
		v := c.imageFlipVertical
		c.mu.RUnlock()
		return w.PutBool(tlv.Anonymous(), v)
	case AttrLocalVideoRecordingEnabled:
		c.mu.RLock()
		v := c.localVideoRecordingEnabled
		c.mu.RUnlock()
		return w.PutBool(tlv.Anonymous(), v)
	case AttrLocalSnapshotRecordingEnabled:
		c.mu.RLock()
		v := c.localSnapshotRecordingEnabled
		c.mu.RUnlock()
		return w.PutBool(tlv.Anonymous(), v)
	default:
		return datamodel.ErrUnsupportedAttribute
	}
}

func (c *Cluster) encodeVideoSensorParams(w *tlv.Writer) error {
	caps := c.config.Capabilities
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(0), uint64(caps.SensorWidth)); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(1), uint64(caps.SensorHeight)); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(2), uint64(caps.MaxFPS)); err != nil {
		return err
	}
	return w.EndContainer()
}

func (c *Cluster) encodeViewport(w *tlv.Writer, width, height uint16) error {
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(0), 0); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(1), 0); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(2), uint64(width)); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(3), uint64(height)); err != nil {
		return err
	}
	return w.EndContainer()
}

func (c *Cluster) encodeMicrophoneCapabilities(w *tlv.Writer) error {
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(0), 1); err != nil { // MaxNumberOfChannels
		return err
	}
	if err := w.StartArray(tlv.ContextTag(1)); err != nil { // SupportedCodecs
		return err
	}
	if err := w.PutUint(tlv.Anonymous(), uint64(AudioCodecOpus)); err != nil {
		return err
	}
	if err := w.EndContainer(); err != nil {
		return err
	}
	return w.EndContainer()
}

func (c *Cluster) encodeSpeakerCapabilities(w *tlv.Writer) error {
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(0), 1); err != nil { // MaxNumberOfChannels
		return err
	}
	return w.EndContainer()
}

func (c *Cluster) encodeCurrentVideoCodecs(w *tlv.Writer) error {
	if err := w.StartArray(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.PutUint(tlv.Anonymous(), uint64(VideoCodecH264)); err != nil {
		return err
	}
	return w.EndContainer()
}

func (c *Cluster) encodeAllocatedVideoStreams(w *tlv.Writer) error {
	c.mu.RLock()
	streams := make([]*VideoStream, 0, len(c.videoStreams))
	for _, s := range c.videoStreams {
		streams = append(streams, s)
	}
	c.mu.RUnlock()

	if err := w.StartArray(tlv.Anonymous()); err != nil {
		return err
	}
	for _, s := range streams {
		if err := w.StartStructure(tlv.Anonymous()); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(0), uint64(s.ID)); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(1), uint64(s.StreamUsage)); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(2), uint64(s.VideoCodec)); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(3), uint64(s.MinFrameRate)); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(4), uint64(s.MaxFrameRate)); err != nil {
			return err
		}
		if err := encodeVideoResolution(w, tlv.ContextTag(5), s.MinResolution); err != nil {
			return err
		}
		if err := encodeVideoResolution(w, tlv.ContextTag(6), s.MaxResolution); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(7), uint64(s.MinBitRate)); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(8), uint64(s.MaxBitRate)); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(10), uint64(s.ReferenceCount)); err != nil {
			return err
		}
		if err := w.EndContainer(); err != nil {
			return err
		}
	}
	return w.EndContainer()
}

// encodeVideoResolution writes a VideoResolutionStruct (Width tag 0,
// Height tag 1) under the given tag.
func encodeVideoResolution(w *tlv.Writer, tag tlv.Tag, res VideoResolution) error {
	if err := w.StartStructure(tag); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(0), uint64(res.Width)); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(1), uint64(res.Height)); err != nil {
		return err
	}
	return w.EndContainer()
}

func (c *Cluster) encodeAllocatedAudioStreams(w *tlv.Writer) error {
	c.mu.RLock()
	streams := make([]*AudioStream, 0, len(c.audioStreams))
	for _, s := range c.audioStreams {
		streams = append(streams, s)
	}
	c.mu.RUnlock()

	if err := w.StartArray(tlv.Anonymous()); err != nil {
		return err
	}
	for _, s := range streams {
		if err := w.StartStructure(tlv.Anonymous()); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(0), uint64(s.ID)); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(1), uint64(s.StreamUsage)); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(2), uint64(s.AudioCodec)); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(7), uint64(s.ReferenceCount)); err != nil {
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
	switch req.Path.Attribute {
	case AttrHDRModeEnabled:
		return c.writeBool(r, &c.hdrModeEnabled)
	case AttrSoftRecordingPrivacyModeEnabled:
		return c.writeBool(r, &c.softRecordingPrivacyEnabled)
	case AttrSoftLivestreamPrivacyModeEnabled:
		return c.writeBool(r, &c.softLivestreamPrivacyEnabled)
	case AttrNightVision:
		return c.writeTriState(r, &c.nightVision)
	case AttrSpeakerMuted:
		return c.writeBool(r, &c.speakerMuted)
	case AttrSpeakerVolumeLevel:
		return c.writeUint8(r, &c.speakerVolumeLevel)
	case AttrMicrophoneMuted:
		return c.writeBool(r, &c.microphoneMuted)
	case AttrMicrophoneVolumeLevel:
		return c.writeUint8(r, &c.microphoneVolumeLevel)
	case AttrMicrophoneAGCEnabled:
		return c.writeBool(r, &c.microphoneAGCEnabled)
	case AttrImageRotation:
		return c.writeImageRotation(r)
	case AttrImageFlipHorizontal:
		return c.writeBool(r, &c.imageFlipHorizontal)
	case AttrImageFlipVertical:
		return c.writeBool(r, &c.imageFlipVertical)
	case AttrLocalVideoRecordingEnabled:
		return c.writeBool(r, &c.localVideoRecordingEnabled)
	case AttrLocalSnapshotRecordingEnabled:
		return c.writeBool(r, &c.localSnapshotRecordingEnabled)
	default:
		return datamodel.ErrUnsupportedWrite
	}
}

func (c *Cluster) writeBool(r *tlv.Reader, dst *bool) error {
	if err := r.Next(); err != nil {
		return err
	}
	v, err := r.Bool()
	if err != nil {
		return err
	}
	c.mu.Lock()
	*dst = v
	c.mu.Unlock()
	c.IncrementDataVersion()
	return nil
}

func (c *Cluster) writeUint8(r *tlv.Reader, dst *uint8) error {
	if err := r.Next(); err != nil {
		return err
	}
	v, err := r.Uint()
	if err != nil {
		return err
	}
	if v > 0xFF {
		return datamodel.ErrConstraintError
	}
	c.mu.Lock()
	*dst = uint8(v)
	c.mu.Unlock()
	c.IncrementDataVersion()
	return nil
}

func (c *Cluster) writeTriState(r *tlv.Reader, dst *uint8) error {
	if err := r.Next(); err != nil {
		return err
	}
	v, err := r.Uint()
	if err != nil {
		return err
	}
	if v > 2 {
		return datamodel.ErrConstraintError
	}
	c.mu.Lock()
	*dst = uint8(v)
	c.mu.Unlock()
	c.IncrementDataVersion()
	return nil
}

func (c *Cluster) writeImageRotation(r *tlv.Reader) error {
	if err := r.Next(); err != nil {
		return err
	}
	v, err := r.Uint()
	if err != nil {
		return err
	}
	if v >= 360 {
		return datamodel.ErrConstraintError
	}
	c.mu.Lock()
	c.imageRotation = uint16(v)
	c.mu.Unlock()
	c.IncrementDataVersion()
	return nil
}

// InvokeCommand implements datamodel.Cluster.
func (c *Cluster) InvokeCommand(ctx context.Context, req datamodel.InvokeRequest, r *tlv.Reader) ([]byte, error) {
	switch req.Path.Command {
	case CmdVideoStreamAllocate:
		return c.handleVideoStreamAllocate(r)
	case CmdVideoStreamDeallocate:
		return nil, c.handleVideoStreamDeallocate(r)
	case CmdAudioStreamAllocate:
		return c.handleAudioStreamAllocate(r)
	case CmdAudioStreamDeallocate:
		return nil, c.handleAudioStreamDeallocate(r)
	case CmdSnapshotStreamAllocate, CmdSnapshotStreamDeallocate:
		return nil, datamodel.ErrInvalidCommand
	case CmdSetImageRotation:
		return nil, c.writeImageRotation(r)
	case CmdSetStreamPriorities, CmdSetViewport, CmdCaptureSnapshot:
		return nil, datamodel.ErrInvalidCommand
	default:
		return nil, datamodel.ErrUnsupportedCommand
	}
}

func (c *Cluster) allocateStreamID() uint16 {
	id := c.nextStreamID
	c.nextStreamID++
	if c.nextStreamID == 0 {
		c.nextStreamID = 1
	}
	return id
}

// decodeVideoResolution reads a VideoResolutionStruct (Width tag 0,
// Height tag 1) at the reader's current position.
func decodeVideoResolution(r *tlv.Reader) (VideoResolution, error) {
	var res VideoResolution
	if err := r.EnterContainer(); err != nil {
		return res, err
	}
	for {
		if err := r.Next(); err != nil {
			return res, err
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
				return res, err
			}
			res.Width = uint16(v)
		case 1:
			v, err := r.Uint()
			if err != nil {
				return res, err
			}
			res.Height = uint16(v)
		}
	}
	if err := r.ExitContainer(); err != nil {
		return res, err
	}
	return res, nil
}

func (c *Cluster) handleVideoStreamAllocate(r *tlv.Reader) ([]byte, error) {
	stream := &VideoStream{ReferenceCount: 1}

	if err := r.Next(); err != nil {
		return nil, err
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
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
			stream.StreamUsage = StreamUsage(v)
		case 1:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			stream.VideoCodec = VideoCodec(v)
		case 2:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			stream.MinFrameRate = uint16(v)
		case 3:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			stream.MaxFrameRate = uint16(v)
		case 4:
			res, err := decodeVideoResolution(r)
			if err != nil {
				return nil, err
			}
			stream.MinResolution = res
		case 5:
			res, err := decodeVideoResolution(r)
			if err != nil {
				return nil, err
			}
			stream.MaxResolution = res
		case 6:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			stream.MinBitRate = uint32(v)
		case 7:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			stream.MaxBitRate = uint32(v)
		}
	}
	if err := r.ExitContainer(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if uint8(len(c.videoStreams)) >= c.config.Capabilities.MaxConcurrentVideoEncoders {
		c.mu.Unlock()
		return nil, datamodel.ErrResourceExhausted
	}
	stream.ID = c.allocateStreamID()
	c.videoStreams[stream.ID] = stream
	c.mu.Unlock()

	c.IncrementDataVersion()
	return encodeVideoStreamAllocateResponse(stream.ID)
}

func (c *Cluster) handleVideoStreamDeallocate(r *tlv.Reader) error {
	id, err := decodeStreamIDRequest(r)
	if err != nil {
		return err
	}

	c.mu.Lock()
	_, ok := c.videoStreams[id]
	delete(c.videoStreams, id)
	c.mu.Unlock()

	if !ok {
		return datamodel.ErrAttributeNotFound
	}
	c.IncrementDataVersion()
	return nil
}

func (c *Cluster) handleAudioStreamAllocate(r *tlv.Reader) ([]byte, error) {
	stream := &AudioStream{ReferenceCount: 1}

	if err := r.Next(); err != nil {
		return nil, err
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
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
			stream.StreamUsage = StreamUsage(v)
		case 1:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			stream.AudioCodec = AudioCodec(v)
		case 2:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			stream.ChannelCount = uint8(v)
		case 3:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			stream.SampleRate = uint32(v)
		case 4:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			stream.BitRate = uint32(v)
		case 5:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			stream.BitDepth = uint8(v)
		}
	}
	if err := r.ExitContainer(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	stream.ID = c.allocateStreamID()
	c.audioStreams[stream.ID] = stream
	c.mu.Unlock()

	c.IncrementDataVersion()
	return encodeAudioStreamAllocateResponse(stream.ID)
}

func (c *Cluster) handleAudioStreamDeallocate(r *tlv.Reader) error {
	id, err := decodeStreamIDRequest(r)
	if err != nil {
		return err
	}

	c.mu.Lock()
	_, ok := c.audioStreams[id]
	delete(c.audioStreams, id)
	c.mu.Unlock()

	if !ok {
		return datamodel.ErrAttributeNotFound
	}
	c.IncrementDataVersion()
	return nil
}

func decodeStreamIDRequest(r *tlv.Reader) (uint16, error) {
	if err := r.Next(); err != nil {
		return 0, err
	}
	if err := r.EnterContainer(); err != nil {
		return 0, err
	}
	var id uint16
	for {
		if err := r.Next(); err != nil {
			return 0, err
		}
		if r.Type() == tlv.ElementTypeEnd {
			break
		}
		tag := r.Tag()
		if tag.IsContext() && tag.TagNumber() == 0 {
			v, err := r.Uint()
			if err != nil {
				return 0, err
			}
			id = uint16(v)
		}
	}
	if err := r.ExitContainer(); err != nil {
		return 0, err
	}
	return id, nil
}

func encodeVideoStreamAllocateResponse(id uint16) ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(0), uint64(id)); err != nil {
		return nil, err
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeAudioStreamAllocateResponse(id uint16) ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(0), uint64(id)); err != nil {
		return nil, err
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
