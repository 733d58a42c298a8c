package screen

import (
	"bytes"
	"image/png"
	"testing"

	"mirrorcast/event"
	"mirrorcast/input"
	"mirrorcast/pipeline"
)

type fakeRenderer struct {
	frames []pipeline.Frame
	states []ConnectionState
}

func (r *fakeRenderer) Render(f pipeline.Frame)            { r.frames = append(r.frames, f) }
func (r *fakeRenderer) OnConnectionState(s ConnectionState) { r.states = append(r.states, s) }

type fakeMouse struct {
	touches []input.TouchEvent
	scrolls []input.ScrollEvent
}

func (m *fakeMouse) ProcessTouch(ev input.TouchEvent)   { m.touches = append(m.touches, ev) }
func (m *fakeMouse) ProcessScroll(ev input.ScrollEvent) { m.scrolls = append(m.scrolls, ev) }

func TestScreenRendersLatestFrame(t *testing.T) {
	q := event.NewQueue()
	r := &fakeRenderer{}
	s := New(Config{Events: q, Renderer: r})

	if err := s.Open(pipeline.StreamFormat{Width: 720, Height: 1280, Video: true}); err != nil {
		t.Fatal(err)
	}
	s.Push(pipeline.Frame{Data: []byte{1}, Width: 720, Height: 1280})
	s.Push(pipeline.Frame{Data: []byte{2}, Width: 720, Height: 1280})

	// Two pushes without a render post exactly one event.
	ev := q.Wait()
	if ev.Type != event.NewFrame {
		t.Fatalf("event %v", ev.Type)
	}
	s.Render()

	if len(r.frames) != 1 || r.frames[0].Data[0] != 2 {
		t.Fatalf("rendered %+v", r.frames)
	}
	if s.Skipped() != 1 {
		t.Fatalf("skipped = %d, want 1", s.Skipped())
	}
}

func TestScreenStateTransitions(t *testing.T) {
	r := &fakeRenderer{}
	s := New(Config{Events: event.NewQueue(), Renderer: r})

	s.SetState(StateRunning)
	s.SetState(StateRunning) // no duplicate notification
	s.SetState(StateDisconnected)

	if len(r.states) != 2 || r.states[0] != StateRunning || r.states[1] != StateDisconnected {
		t.Fatalf("states: %v", r.states)
	}
}

func TestScreenStampsStreamSizeOnInput(t *testing.T) {
	m := &fakeMouse{}
	s := New(Config{Events: event.NewQueue(), Mouse: m})
	s.Open(pipeline.StreamFormat{Width: 1080, Height: 2400, Video: true})

	s.OnTouch(input.TouchEvent{X: 5, Y: 6})
	s.OnScroll(input.ScrollEvent{VScroll: 1})

	if m.touches[0].Width != 1080 || m.touches[0].Height != 2400 {
		t.Fatalf("touch size: %+v", m.touches[0])
	}
	if m.scrolls[0].Width != 1080 {
		t.Fatalf("scroll size: %+v", m.scrolls[0])
	}

	s.SetVideoSize(2400, 1080) // rotation
	s.OnTouch(input.TouchEvent{X: 5, Y: 6})
	if m.touches[1].Width != 2400 {
		t.Fatalf("touch size after rotation: %+v", m.touches[1])
	}
}

func TestRGBAEncoderRoundTrip(t *testing.T) {
	frame := pipeline.Frame{Width: 2, Height: 2, Data: make([]byte, 16)}
	for i := range frame.Data {
		frame.Data[i] = 0xff
	}
	data, err := RGBAEncoder{}.Encode(frame)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 2 || img.Bounds().Dy() != 2 {
		t.Fatalf("bounds: %v", img.Bounds())
	}
}

func TestRGBAEncoderRejectsShortData(t *testing.T) {
	if _, err := (RGBAEncoder{}).Encode(pipeline.Frame{Width: 10, Height: 10, Data: []byte{1}}); err == nil {
		t.Fatal("short frame accepted")
	}
}

func TestCaptureWithoutFrame(t *testing.T) {
	s := New(Config{Events: event.NewQueue(), Encoder: RGBAEncoder{}})
	if err := s.CaptureScreenshot(); err == nil {
		t.Fatal("capture succeeded with no frame")
	}
}
