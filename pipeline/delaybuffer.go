package pipeline

import (
	"fmt"
	"sync"
	"time"
)

// Upper bound on buffered units; beyond this the oldest pending unit is
// dropped (when permitted) rather than growing without bound.
const delayBufferMaxPending = 64

// DelayBuffer accepts units as a sink and re-emits them to its own sinks
// after a fixed delay, in arrival order, from an internal timer goroutine.
type DelayBuffer[T any] struct {
	out       Source[T]
	delay     time.Duration
	allowDrop bool

	mu      sync.Mutex
	queue   []delayedUnit[T]
	err     error
	opened  bool
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

type delayedUnit[T any] struct {
	due  time.Time
	unit T
}

func NewDelayBuffer[T any](delay time.Duration, allowDrop bool) *DelayBuffer[T] {
	return &DelayBuffer[T]{
		delay:     delay,
		allowDrop: allowDrop,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// AddSink registers a downstream sink. Must be called before Open.
func (b *DelayBuffer[T]) AddSink(sink Sink[T]) {
	b.out.AddSink(sink)
}

func (b *DelayBuffer[T]) Open(f StreamFormat) error {
	if err := b.out.Open(f); err != nil {
		return err
	}
	b.mu.Lock()
	b.opened = true
	b.mu.Unlock()
	go b.run()
	return nil
}

func (b *DelayBuffer[T]) Push(unit T) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return fmt.Errorf("delay buffer stopped")
	}
	if b.err != nil {
		return b.err
	}
	if len(b.queue) >= delayBufferMaxPending {
		if !b.allowDrop {
			return fmt.Errorf("delay buffer full (%d pending)", len(b.queue))
		}
		b.queue = b.queue[1:]
	}
	b.queue = append(b.queue, delayedUnit[T]{due: time.Now().Add(b.delay), unit: unit})
	select {
	case b.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close cancels the timer goroutine; pending units are discarded without
// emission. Downstream sinks are closed afterwards, even when Open never
// ran, so closure always reaches the end of the pipeline.
func (b *DelayBuffer[T]) Close() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	opened := b.opened
	b.mu.Unlock()
	if opened {
		select {
		case b.wake <- struct{}{}:
		default:
		}
		<-b.done
	}
	b.out.Close()
}

func (b *DelayBuffer[T]) run() {
	defer close(b.done)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		b.mu.Lock()
		if b.stopped {
			b.queue = nil
			b.mu.Unlock()
			return
		}
		if len(b.queue) == 0 {
			b.mu.Unlock()
			<-b.wake
			continue
		}
		head := b.queue[0]
		wait := time.Until(head.due)
		b.mu.Unlock()

		if wait > 0 {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wait)
			select {
			case <-timer.C:
			case <-b.wake:
				continue
			}
		}

		b.mu.Lock()
		if b.stopped || len(b.queue) == 0 {
			b.mu.Unlock()
			continue
		}
		head = b.queue[0]
		if time.Now().Before(head.due) {
			b.mu.Unlock()
			continue
		}
		b.queue = b.queue[1:]
		b.mu.Unlock()

		if err := b.out.Push(head.unit); err != nil {
			b.mu.Lock()
			b.err = err
			b.mu.Unlock()
		}
	}
}
