package pipeline

import "fmt"

// Sink consumes units pushed by a Source. Open is called at most once before
// the first Push, Close exactly once at teardown. A sink must tolerate Close
// without a preceding Open: a source that ends before its stream header
// arrives still closes every sink so resources are released. A sink is never
// invoked concurrently; the owning source serializes all calls.
type Sink[T any] interface {
	Open(f StreamFormat) error
	Push(unit T) error
	Close()
}

// Source fans units out to an ordered list of sinks. All sinks must be
// registered before Open; the list is append-only and never mutated while
// the source is running.
type Source[T any] struct {
	sinks  []Sink[T]
	opened bool
	failed bool
	closed bool
}

type PacketSink = Sink[Packet]
type FrameSink = Sink[Frame]
type PacketSource = Source[Packet]
type FrameSource = Source[Frame]

// AddSink registers a sink. Registration after Open is a programming error.
func (s *Source[T]) AddSink(sink Sink[T]) {
	if s.opened {
		panic("pipeline: AddSink after Open")
	}
	s.sinks = append(s.sinks, sink)
}

// SinkCount reports how many sinks are registered.
func (s *Source[T]) SinkCount() int {
	return len(s.sinks)
}

// Open opens every sink in registration order. If any sink fails, the error
// is returned and the pipeline is marked failed; the sinks opened so far are
// released by Close, never here, so every sink sees exactly one Close.
func (s *Source[T]) Open(f StreamFormat) error {
	if s.opened {
		panic("pipeline: Open called twice")
	}
	s.opened = true
	for i, sink := range s.sinks {
		if err := sink.Open(f); err != nil {
			s.failed = true
			return fmt.Errorf("open sink %d: %w", i, err)
		}
	}
	return nil
}

// Push forwards the unit to every sink in order. The first sink error marks
// the whole pipeline as failed; further pushes are rejected without invoking
// any sink.
func (s *Source[T]) Push(unit T) error {
	if !s.opened {
		panic("pipeline: Push before Open")
	}
	if s.failed {
		return fmt.Errorf("pipeline already failed")
	}
	for i, sink := range s.sinks {
		if err := sink.Push(unit); err != nil {
			s.failed = true
			return fmt.Errorf("push to sink %d: %w", i, err)
		}
	}
	return nil
}

// Close closes every sink in order, unconditionally: after open or push
// failures, and even when Open never ran because the stream ended first.
// Anything less leaves sinks waiting for a closure that never comes.
func (s *Source[T]) Close() {
	if s.closed {
		return
	}
	s.closed = true
	for _, sink := range s.sinks {
		sink.Close()
	}
}
