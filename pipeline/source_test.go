package pipeline

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu      sync.Mutex
	opened  int
	closed  int
	pushed  []Packet
	openErr error
	pushErr error
}

func (s *recordingSink) Open(f StreamFormat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened++
	return s.openErr
}

func (s *recordingSink) Push(p Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pushErr != nil {
		return s.pushErr
	}
	s.pushed = append(s.pushed, p)
	return nil
}

func (s *recordingSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
}

func (s *recordingSink) snapshot() []Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Packet(nil), s.pushed...)
}

func TestSourceFanoutOrder(t *testing.T) {
	var src PacketSource
	a := &recordingSink{}
	b := &recordingSink{}
	src.AddSink(a)
	src.AddSink(b)

	if err := src.Open(StreamFormat{Codec: 0x68323634}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		p := Packet{PTS: time.Duration(i)}
		if err := src.Push(p); err != nil {
			t.Fatalf("Push %d failed: %v", i, err)
		}
	}
	src.Close()

	for name, s := range map[string]*recordingSink{"a": a, "b": b} {
		if len(s.pushed) != 3 {
			t.Fatalf("sink %s received %d packets, want 3", name, len(s.pushed))
		}
		for i, p := range s.pushed {
			if p.PTS != time.Duration(i) {
				t.Errorf("sink %s packet %d out of order: PTS=%d", name, i, p.PTS)
			}
		}
		if s.opened != 1 || s.closed != 1 {
			t.Errorf("sink %s lifecycle: opened=%d closed=%d", name, s.opened, s.closed)
		}
	}
}

func TestSourceOpenFailureStillClosesAll(t *testing.T) {
	var src PacketSource
	a := &recordingSink{}
	b := &recordingSink{openErr: errors.New("boom")}
	c := &recordingSink{}
	src.AddSink(a)
	src.AddSink(b)
	src.AddSink(c)

	if err := src.Open(StreamFormat{}); err == nil {
		t.Fatal("Open should have failed")
	}
	if c.opened != 0 {
		t.Errorf("sink after the failing one was opened")
	}

	// Close releases every sink exactly once, including the one that failed
	// to open and the one that was never opened.
	src.Close()
	for name, s := range map[string]*recordingSink{"a": a, "b": b, "c": c} {
		if s.closed != 1 {
			t.Errorf("sink %s closed %d times, want 1", name, s.closed)
		}
	}
	src.Close()
	if a.closed != 1 {
		t.Errorf("second Close double-closed: closed=%d", a.closed)
	}
}

// A stream can end before its header ever arrives (clean disconnect, or the
// device reporting the stream disabled). The sinks still get their Close.
func TestSourceCloseWithoutOpen(t *testing.T) {
	var src PacketSource
	a := &recordingSink{}
	b := &recordingSink{}
	src.AddSink(a)
	src.AddSink(b)

	src.Close()
	if a.opened != 0 || b.opened != 0 {
		t.Error("Close opened a sink")
	}
	if a.closed != 1 || b.closed != 1 {
		t.Errorf("sinks closed a=%d b=%d, want 1 each", a.closed, b.closed)
	}
}

func TestDelayBufferCloseWithoutOpenClosesDownstream(t *testing.T) {
	db := NewDelayBuffer[Frame](time.Hour, true)
	sink := &frameCounter{}
	db.AddSink(sink)

	done := make(chan struct{})
	go func() {
		db.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close without Open blocked")
	}
	if sink.closed != 1 {
		t.Errorf("downstream sink closed %d times, want 1", sink.closed)
	}
}

func TestSourcePushFailureStopsPipeline(t *testing.T) {
	var src PacketSource
	a := &recordingSink{}
	b := &recordingSink{pushErr: errors.New("sink dead")}
	src.AddSink(a)
	src.AddSink(b)

	if err := src.Open(StreamFormat{}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := src.Push(Packet{}); err == nil {
		t.Fatal("Push should propagate sink failure")
	}
	if err := src.Push(Packet{}); err == nil {
		t.Fatal("Push after failure should be rejected")
	}
	if len(a.pushed) != 1 {
		t.Errorf("first sink pushed %d times after pipeline failure, want 1", len(a.pushed))
	}
	src.Close()
	if a.closed != 1 || b.closed != 1 {
		t.Errorf("sinks not closed after push failure: a=%d b=%d", a.closed, b.closed)
	}
}

func TestDelayBufferEmitsInOrderAfterDelay(t *testing.T) {
	db := NewDelayBuffer[Packet](30*time.Millisecond, true)
	sink := &recordingSink{}
	db.AddSink(sink)

	if err := db.Open(StreamFormat{Codec: 0x68323634}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := db.Push(Packet{PTS: time.Duration(i)}); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		if len(sink.snapshot()) >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out, got %d units", len(sink.snapshot()))
		case <-time.After(5 * time.Millisecond):
		}
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("units emitted after %v, before the configured delay", elapsed)
	}
	for i, p := range sink.snapshot()[:3] {
		if p.PTS != time.Duration(i) {
			t.Errorf("unit %d out of order: PTS=%d", i, p.PTS)
		}
	}
	db.Close()
	if sink.closed != 1 {
		t.Errorf("downstream sink closed %d times, want 1", sink.closed)
	}
}

func TestDelayBufferCloseDiscardsPending(t *testing.T) {
	db := NewDelayBuffer[Frame](time.Hour, true)
	sink := &frameCounter{}
	db.AddSink(sink)
	if err := db.Open(StreamFormat{}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := db.Push(Frame{}); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}
	done := make(chan struct{})
	go func() {
		db.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on pending units")
	}
	if sink.pushes != 0 {
		t.Errorf("%d pending units were emitted on close, want 0", sink.pushes)
	}
}

type frameCounter struct {
	pushes int
	closed int
}

func (s *frameCounter) Open(f StreamFormat) error { return nil }
func (s *frameCounter) Push(fr Frame) error       { s.pushes++; return nil }
func (s *frameCounter) Close()                    { s.closed++ }
