// Package screen is the display side of a session: a frame sink feeding the
// latest-frame mailbox, connection state for the window, input forwarding to
// the selected processors and user-triggered screenshot capture.
package screen

import (
	"fmt"
	"log"
	"sync"

	"mirrorcast/bridge"
	"mirrorcast/event"
	"mirrorcast/input"
	"mirrorcast/pipeline"
)

// ConnectionState is what the window shows. Transitions are driven by the
// session orchestrator only, never from rendering code.
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateRunning
	StateDisconnected
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Renderer is the windowing toolkit boundary. Both methods are called on the
// main thread.
type Renderer interface {
	Render(frame pipeline.Frame)
	OnConnectionState(state ConnectionState)
}

// PNGEncoder turns a decoded video frame into PNG bytes for the bridge.
type PNGEncoder interface {
	Encode(frame pipeline.Frame) ([]byte, error)
}

// Screen wires decoded video frames to the renderer. Push runs on the
// decoder's goroutine; everything else runs on the main thread.
type Screen struct {
	events   *event.Queue
	renderer Renderer
	encoder  PNGEncoder
	bridge   *bridge.Bridge

	keys  input.KeyProcessor
	mouse input.MouseProcessor

	fb pipeline.FrameBuffer

	mu        sync.Mutex
	state     ConnectionState
	width     uint32
	height    uint32
	lastFrame pipeline.Frame
	hasFrame  bool
}

type Config struct {
	Events   *event.Queue
	Renderer Renderer
	Encoder  PNGEncoder
	Bridge   *bridge.Bridge
	Keys     input.KeyProcessor
	Mouse    input.MouseProcessor
}

func New(cfg Config) *Screen {
	return &Screen{
		events:   cfg.Events,
		renderer: cfg.Renderer,
		encoder:  cfg.Encoder,
		bridge:   cfg.Bridge,
		keys:     cfg.Keys,
		mouse:    cfg.Mouse,
		state:    StateConnecting,
	}
}

// Open implements pipeline.FrameSink.
func (s *Screen) Open(f pipeline.StreamFormat) error {
	s.mu.Lock()
	s.width = f.Width
	s.height = f.Height
	s.mu.Unlock()
	return nil
}

// Push stores the frame in the mailbox and wakes the main thread. When the
// previous frame was skipped a render event is already pending, so no second
// event is posted.
func (s *Screen) Push(frame pipeline.Frame) error {
	previousSkipped := s.fb.Push(frame)
	if !previousSkipped {
		s.events.Post(event.Event{Type: event.NewFrame})
	}
	return nil
}

// Close implements pipeline.FrameSink.
func (s *Screen) Close() {}

// Render consumes the latest frame and hands it to the renderer. Main thread
// only, in response to a NewFrame event.
func (s *Screen) Render() {
	frame, ok := s.fb.Consume()
	if !ok {
		return
	}
	s.mu.Lock()
	if frame.Width > 0 {
		s.width = frame.Width
		s.height = frame.Height
	}
	s.lastFrame = frame
	s.hasFrame = true
	s.mu.Unlock()

	if s.renderer != nil {
		s.renderer.Render(frame)
	}
}

// Skipped reports how many frames the mailbox dropped unrendered.
func (s *Screen) Skipped() uint64 {
	return s.fb.Skipped()
}

// SetVideoSize records a mid-stream resolution change (device rotation).
func (s *Screen) SetVideoSize(width, height uint32) {
	s.mu.Lock()
	s.width = width
	s.height = height
	s.mu.Unlock()
}

// SetState applies an orchestrator-driven connection state transition.
func (s *Screen) SetState(state ConnectionState) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()
	if changed {
		log.Printf("[screen] state: %s", state)
		if s.renderer != nil {
			s.renderer.OnConnectionState(state)
		}
	}
}

// State returns the current connection state.
func (s *Screen) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnKey forwards a key event to the selected keyboard processor.
func (s *Screen) OnKey(ev input.KeyEvent) {
	if s.keys != nil {
		s.keys.ProcessKey(ev)
	}
}

// OnTouch forwards a pointer event, stamping the current stream size so the
// device can scale coordinates.
func (s *Screen) OnTouch(ev input.TouchEvent) {
	if s.mouse == nil {
		return
	}
	s.mu.Lock()
	ev.Width = uint16(s.width)
	ev.Height = uint16(s.height)
	s.mu.Unlock()
	s.mouse.ProcessTouch(ev)
}

// OnScroll forwards a wheel event.
func (s *Screen) OnScroll(ev input.ScrollEvent) {
	if s.mouse == nil {
		return
	}
	s.mu.Lock()
	ev.Width = uint16(s.width)
	ev.Height = uint16(s.height)
	s.mu.Unlock()
	s.mouse.ProcessScroll(ev)
}

// CaptureScreenshot encodes the last rendered frame and publishes it to the
// bridge. A failed capture fails only this capture, never the session.
func (s *Screen) CaptureScreenshot() error {
	s.mu.Lock()
	frame := s.lastFrame
	ok := s.hasFrame
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no frame rendered yet")
	}
	if s.encoder == nil || s.bridge == nil {
		return fmt.Errorf("screenshot capture not configured")
	}

	png, err := s.encoder.Encode(frame)
	if err != nil {
		return fmt.Errorf("encode screenshot: %w", err)
	}
	s.bridge.PublishPNG(png, uint16(frame.Width), uint16(frame.Height))
	log.Printf("[screen] screenshot published: %dx%d, %d bytes", frame.Width, frame.Height, len(png))
	return nil
}
