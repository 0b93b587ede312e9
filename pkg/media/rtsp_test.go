package media

import (
	"context"
	"testing"
)

func TestNewRTSPClientRejectsInvalidScheme(t *testing.T) {
	if _, err := NewRTSPClient("http://example.com/stream"); err == nil {
		t.Fatal("expected error for non-RTSP URL")
	}
}

func TestNewRTSPClientAcceptsRTSPAndRTSPS(t *testing.T) {
	if _, err := NewRTSPClient("rtsp://cam.local/stream"); err != nil {
		t.Errorf("rtsp:// should be accepted: %v", err)
	}
	if _, err := NewRTSPClient("rtsps://cam.local/stream"); err != nil {
		t.Errorf("rtsps:// should be accepted: %v", err)
	}
}

func TestRTSPClientConnectTransitionsState(t *testing.T) {
	c, err := NewRTSPClient("rtsp://cam.local/stream")
	if err != nil {
		t.Fatalf("NewRTSPClient: %v", err)
	}
	if c.State() != RTSPDisconnected {
		t.Fatalf("initial state = %v, want RTSPDisconnected", c.State())
	}

	info, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.State() != RTSPConnected {
		t.Errorf("state after Connect = %v, want RTSPConnected", c.State())
	}
	if info.VideoCodec != "H264" {
		t.Errorf("VideoCodec = %q, want H264", info.VideoCodec)
	}
	if c.StreamInfo() != info {
		t.Errorf("StreamInfo() should return the same info returned by Connect")
	}

	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if c.State() != RTSPDisconnected {
		t.Errorf("state after Disconnect = %v, want RTSPDisconnected", c.State())
	}
}

func TestRTSPClientFrameCallbacks(t *testing.T) {
	c, err := NewRTSPClient("rtsp://cam.local/stream")
	if err != nil {
		t.Fatalf("NewRTSPClient: %v", err)
	}

	var gotVideo VideoFrame
	var videoCalls int
	c.OnVideoFrame(func(f VideoFrame) {
		gotVideo = f
		videoCalls++
	})

	frame := VideoFrame{Data: []byte{1, 2, 3}, TimestampUs: 100, IsKeyframe: true}
	c.deliverVideo(frame)

	if videoCalls != 1 {
		t.Fatalf("expected 1 callback invocation, got %d", videoCalls)
	}
	if len(gotVideo.Data) != 3 || !gotVideo.IsKeyframe {
		t.Errorf("callback received unexpected frame: %+v", gotVideo)
	}
}
