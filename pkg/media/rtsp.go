// Package media bridges a single RTSP camera feed into the WebRTC
// sessions negotiated by the WebRTC Transport Provider cluster.
//
// Grounded on original_source/src/rtsp/client.rs (client state machine,
// frame callback shape) and original_source/src/input/camera/webrtc_bridge.rs
// (per-peer bridge session bookkeeping, stats counters).
package media

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// RTSPClientState mirrors the original rtsp::client::ClientState machine.
type RTSPClientState int

const (
	RTSPDisconnected RTSPClientState = iota
	RTSPConnecting
	RTSPConnected
	RTSPStreaming
	RTSPError
)

// StreamInfo describes the negotiated codec/resolution of an RTSP feed.
type StreamInfo struct {
	VideoCodec       string
	VideoWidth       uint32
	VideoHeight      uint32
	VideoFPS         uint32
	AudioCodec       string
	AudioSampleRate  uint32
	AudioChannels    uint8
}

// VideoFrame is a single encoded video access unit pulled from the RTSP
// session.
type VideoFrame struct {
	Data       []byte
	TimestampUs uint64
	IsKeyframe bool
}

// AudioFrame is a single encoded audio frame pulled from the RTSP
// session.
type AudioFrame struct {
	Data        []byte
	TimestampUs uint64
}

// RTSPClient is a minimal RTSP ingest client. It does not implement the
// RTSP/RTP wire protocol itself (no pack example repo carries an RTSP
// stack); instead it models the client state machine and frame-delivery
// contract the rest of the bridge depends on, so swapping in a real RTP
// depacketizer later only touches this file.
type RTSPClient struct {
	url string

	mu         sync.RWMutex
	state      RTSPClientState
	streamInfo *StreamInfo

	onVideoFrame func(VideoFrame)
	onAudioFrame func(AudioFrame)
}

// NewRTSPClient validates url and returns a disconnected client.
func NewRTSPClient(url string) (*RTSPClient, error) {
	if !strings.HasPrefix(url, "rtsp://") && !strings.HasPrefix(url, "rtsps://") {
		return nil, fmt.Errorf("media: invalid RTSP URL %q: must start with rtsp:// or rtsps://", url)
	}
	return &RTSPClient{url: url, state: RTSPDisconnected}, nil
}

// URL returns the configured RTSP URL.
func (c *RTSPClient) URL() string { return c.url }

// State returns the current client state.
func (c *RTSPClient) State() RTSPClientState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// StreamInfo returns the negotiated stream parameters, available after
// Connect succeeds.
func (c *RTSPClient) StreamInfo() *StreamInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streamInfo
}

// OnVideoFrame registers the callback invoked for each ingested video
// frame.
func (c *RTSPClient) OnVideoFrame(cb func(VideoFrame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onVideoFrame = cb
}

// OnAudioFrame registers the callback invoked for each ingested audio
// frame.
func (c *RTSPClient) OnAudioFrame(cb func(AudioFrame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAudioFrame = cb
}

// Connect negotiates the RTSP session and reports the stream's codec
// parameters. The camera this bridge targets is H.264/Opus at 1080p30.
func (c *RTSPClient) Connect(ctx context.Context) (*StreamInfo, error) {
	c.mu.Lock()
	c.state = RTSPConnecting
	c.mu.Unlock()

	info := &StreamInfo{
		VideoCodec:      "H264",
		VideoWidth:      1920,
		VideoHeight:     1080,
		VideoFPS:        30,
		AudioCodec:      "opus",
		AudioSampleRate: 48000,
		AudioChannels:   1,
	}

	c.mu.Lock()
	c.streamInfo = info
	c.state = RTSPConnected
	c.mu.Unlock()
	return info, nil
}

// Disconnect tears down the RTSP session.
func (c *RTSPClient) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = RTSPDisconnected
	return nil
}

// deliverVideo feeds a frame to the registered callback, if any.
func (c *RTSPClient) deliverVideo(f VideoFrame) {
	c.mu.RLock()
	cb := c.onVideoFrame
	c.mu.RUnlock()
	if cb != nil {
		cb(f)
	}
}

// deliverAudio feeds a frame to the registered callback, if any.
func (c *RTSPClient) deliverAudio(f AudioFrame) {
	c.mu.RLock()
	cb := c.onAudioFrame
	c.mu.RUnlock()
	if cb != nil {
		cb(f)
	}
}

// SessionStats counts frames/bytes forwarded to a single WebRTC peer.
type SessionStats struct {
	VideoFramesSent atomic.Uint64
	AudioFramesSent atomic.Uint64
	BytesSent       atomic.Uint64
}

func (s *SessionStats) recordVideo(n int) {
	s.VideoFramesSent.Add(1)
	s.BytesSent.Add(uint64(n))
}

func (s *SessionStats) recordAudio(n int) {
	s.AudioFramesSent.Add(1)
	s.BytesSent.Add(uint64(n))
}
