package pipeline

import "sync"

// FrameBuffer is a single-slot mailbox between a producer (decoder) and a
// consumer (renderer). The producer overwrites, the consumer drains: the
// consumer always gets the most recently produced frame, never a backlog.
type FrameBuffer struct {
	mu      sync.Mutex
	pending Frame
	hasNew  bool
	skipped uint64
}

// Push stores the frame as the latest one. If an unconsumed frame was
// already pending, it is discarded and previousSkipped is true.
func (b *FrameBuffer) Push(f Frame) (previousSkipped bool) {
	b.mu.Lock()
	previousSkipped = b.hasNew
	if previousSkipped {
		b.skipped++
	}
	b.pending = f
	b.hasNew = true
	b.mu.Unlock()
	return previousSkipped
}

// Consume takes ownership of the pending frame, leaving the slot empty.
// The critical section is only the swap; rendering happens outside the lock.
func (b *FrameBuffer) Consume() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasNew {
		return Frame{}, false
	}
	f := b.pending
	b.pending = Frame{}
	b.hasNew = false
	return f, true
}

// Skipped reports how many frames were overwritten before being consumed.
func (b *FrameBuffer) Skipped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.skipped
}
