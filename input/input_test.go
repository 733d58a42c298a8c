package input

import (
	"sync"
	"testing"
	"time"

	"mirrorcast/control"
	"mirrorcast/protocol"
)

type fakePusher struct {
	mu   sync.Mutex
	msgs []protocol.ControlMsg
}

func (p *fakePusher) PushMsg(msg protocol.ControlMsg) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return true
}

func (p *fakePusher) snapshot() []protocol.ControlMsg {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.ControlMsg(nil), p.msgs...)
}

func TestSDKKeyboardInjectsKeycode(t *testing.T) {
	p := &fakePusher{}
	k := NewSDKKeyboard(p)
	k.ProcessKey(KeyEvent{Action: protocol.ActionDown, Keycode: 29, Meta: 1})

	msgs := p.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	ev, ok := msgs[0].(protocol.KeyEvent)
	if !ok || ev.Keycode != 29 || ev.Meta != 1 {
		t.Fatalf("got %+v", msgs[0])
	}
}

func TestSDKMouseInjectsTouchAndScroll(t *testing.T) {
	p := &fakePusher{}
	m := NewSDKMouse(p)
	m.ProcessTouch(TouchEvent{Action: protocol.ActionDown, PointerID: 1, X: 10, Y: 20, Width: 1080, Height: 2400})
	m.ProcessScroll(ScrollEvent{X: 10, Y: 20, VScroll: 1})

	msgs := p.snapshot()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if _, ok := msgs[0].(protocol.TouchEvent); !ok {
		t.Fatalf("first message %T", msgs[0])
	}
	if _, ok := msgs[1].(protocol.ScrollEvent); !ok {
		t.Fatalf("second message %T", msgs[1])
	}
}

func TestUHIDKeyboardRegistersDevice(t *testing.T) {
	p := &fakePusher{}
	NewUHIDKeyboard(p, control.NewAckSync())

	msgs := p.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	create, ok := msgs[0].(protocol.UHIDCreate)
	if !ok || create.ID != uhidKeyboardID || len(create.ReportDesc) == 0 {
		t.Fatalf("got %+v", msgs[0])
	}
}

func TestUHIDKeyboardReports(t *testing.T) {
	p := &fakePusher{}
	k := NewUHIDKeyboard(p, control.NewAckSync())

	k.ProcessKey(KeyEvent{Action: protocol.ActionDown, Keycode: 29}) // a
	k.ProcessKey(KeyEvent{Action: protocol.ActionUp, Keycode: 29})

	msgs := p.snapshot()[1:] // skip UHIDCreate
	if len(msgs) != 2 {
		t.Fatalf("got %d reports", len(msgs))
	}
	down := msgs[0].(protocol.UHIDInput)
	if len(down.Data) != 8 || down.Data[2] != 4 {
		t.Fatalf("down report % x", down.Data)
	}
	up := msgs[1].(protocol.UHIDInput)
	if up.Data[2] != 0 {
		t.Fatalf("up report % x", up.Data)
	}
}

func TestUHIDKeyboardModifiers(t *testing.T) {
	p := &fakePusher{}
	k := NewUHIDKeyboard(p, control.NewAckSync())

	k.ProcessKey(KeyEvent{Action: protocol.ActionDown, Keycode: 59}) // shift left
	k.ProcessKey(KeyEvent{Action: protocol.ActionDown, Keycode: 30}) // 1

	msgs := p.snapshot()[1:]
	report := msgs[1].(protocol.UHIDInput)
	if report.Data[0] != 0x02 {
		t.Fatalf("modifier byte %#x", report.Data[0])
	}
	if report.Data[2] != hidUsage[30] {
		t.Fatalf("usage byte %#x", report.Data[2])
	}
}

func TestUHIDKeyboardUnknownKeycodeDropped(t *testing.T) {
	p := &fakePusher{}
	k := NewUHIDKeyboard(p, control.NewAckSync())
	k.ProcessKey(KeyEvent{Action: protocol.ActionDown, Keycode: 99999})

	if msgs := p.snapshot()[1:]; len(msgs) != 0 {
		t.Fatalf("unknown keycode produced %d reports", len(msgs))
	}
}

func TestUHIDKeyboardPasteWaitsForAck(t *testing.T) {
	p := &fakePusher{}
	sync := control.NewAckSync()
	k := NewUHIDKeyboard(p, sync)

	done := make(chan struct{})
	go func() {
		k.PasteClipboard("hello")
		close(done)
	}()

	// The paste must not proceed before the acknowledgement.
	time.Sleep(30 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("paste completed before the ack")
	default:
	}

	sync.Acknowledge(1)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("paste never completed")
	}

	msgs := p.snapshot()
	// UHIDCreate, SetClipboard, ctrl+v down, release.
	if len(msgs) != 4 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if _, ok := msgs[1].(protocol.SetClipboard); !ok {
		t.Fatalf("second message %T", msgs[1])
	}
	downReport := msgs[2].(protocol.UHIDInput)
	if downReport.Data[0] != 0x01 || downReport.Data[2] != hidUsage[50] {
		t.Fatalf("ctrl+v report % x", downReport.Data)
	}
}
