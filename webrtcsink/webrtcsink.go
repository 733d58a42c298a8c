// Package webrtcsink mirrors the compressed video stream to a WebRTC peer.
// It is a plain packet sink on the video demuxer; a browser sends an SDP
// offer through the bridge and receives the live track.
package webrtcsink

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"mirrorcast/pipeline"
	"mirrorcast/protocol"
)

// Pion sends a PLI whenever the browser loses reference frames; asking the
// device for a keyframe more often than this just wastes bitrate.
const keyFrameRequestInterval = 2 * time.Second

// Sink writes video packets as media samples to a local track.
type Sink struct {
	onKeyFrameRequest func()

	mu        sync.Mutex
	track     *webrtc.TrackLocalStaticSample
	pc        *webrtc.PeerConnection
	connected bool
	lastPTS   time.Duration
	lastPLI   time.Time
}

// New creates the sink. onKeyFrameRequest fires (rate limited) when a viewer
// needs a fresh keyframe; wire it to a reset-video control message.
func New(onKeyFrameRequest func()) *Sink {
	return &Sink{onKeyFrameRequest: onKeyFrameRequest}
}

func (s *Sink) Open(f pipeline.StreamFormat) error {
	if f.Codec != protocol.CodecIDH264 {
		return fmt.Errorf("webrtc mirror needs h264, got %s", protocol.CodecName(f.Codec))
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		"video", "mirrorcast",
	)
	if err != nil {
		return fmt.Errorf("create video track: %w", err)
	}
	s.mu.Lock()
	s.track = track
	s.mu.Unlock()
	return nil
}

func (s *Sink) Push(p pipeline.Packet) error {
	s.mu.Lock()
	track := s.track
	connected := s.connected
	duration := p.PTS - s.lastPTS
	if !p.IsConfig {
		s.lastPTS = p.PTS
	}
	s.mu.Unlock()

	// No peer yet: mirroring is passive, never backpressure the pipeline.
	if track == nil || !connected {
		return nil
	}
	if duration <= 0 || duration > time.Second {
		duration = 33 * time.Millisecond
	}
	if err := track.WriteSample(media.Sample{Data: p.Data, Duration: duration}); err != nil {
		// A dropped viewer must not end the session.
		log.Printf("[webrtc] write sample: %v", err)
	}
	return nil
}

func (s *Sink) Close() {
	s.mu.Lock()
	pc := s.pc
	s.pc = nil
	s.track = nil
	s.connected = false
	s.mu.Unlock()
	if pc != nil {
		pc.Close()
	}
}

// HandleOffer answers a browser SDP offer with a complete (non-trickle)
// answer carrying the live video track. Installed as the bridge's offer
// handler.
func (s *Sink) HandleOffer(offer []byte) ([]byte, error) {
	s.mu.Lock()
	track := s.track
	old := s.pc
	s.mu.Unlock()
	if track == nil {
		return nil, fmt.Errorf("video track not ready")
	}
	if old != nil {
		old.Close()
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeH264,
			ClockRate:    90000,
			SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			RTCPFeedback: []webrtc.RTCPFeedback{{Type: "goog-remb"}, {Type: "ccm", Parameter: "fir"}, {Type: "nack", Parameter: "pli"}},
		},
		PayloadType: 102,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register h264: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	sender, err := pc.AddTrack(track)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("add track: %w", err)
	}
	go s.readRTCP(sender)

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("[webrtc] peer state: %s", state)
		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.mu.Lock()
			s.connected = true
			s.mu.Unlock()
			s.requestKeyFrame()
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			s.mu.Lock()
			if s.pc == pc {
				s.connected = false
			}
			s.mu.Unlock()
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  string(offer),
	}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}
	<-gathered

	s.mu.Lock()
	s.pc = pc
	s.mu.Unlock()
	return []byte(pc.LocalDescription().SDP), nil
}

func (s *Sink) readRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, p := range packets {
			if _, ok := p.(*rtcp.PictureLossIndication); ok {
				s.requestKeyFrame()
			}
		}
	}
}

func (s *Sink) requestKeyFrame() {
	s.mu.Lock()
	now := time.Now()
	if now.Sub(s.lastPLI) < keyFrameRequestInterval {
		s.mu.Unlock()
		return
	}
	s.lastPLI = now
	s.mu.Unlock()

	if s.onKeyFrameRequest != nil {
		s.onKeyFrameRequest()
	}
}
