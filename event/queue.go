// Package event provides the main-thread event queue. Background goroutines
// post events and never block; the session's main loop is the only consumer.
package event

import (
	"sync"
	"time"
)

type Type int

const (
	ServerConnected Type = iota
	ServerConnectionFailed
	DeviceDisconnected
	DemuxerError
	ControllerError
	RecorderError
	TimeLimitReached
	SecureContent
	NewFrame
	Quit
	runOnMain
)

type Event struct {
	Type Type

	// SecureContent payload
	Detected bool

	run func()
}

// Queue is an unbounded FIFO. Post never blocks the poster.
type Queue struct {
	mu              sync.Mutex
	cond            *sync.Cond
	events          []Event
	rejectRunnables bool
}

func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) Post(ev Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
	q.cond.Signal()
}

// PostRunnable marshals a closure to the main thread, preserving FIFO order
// with regular events. It reports false once runnables are rejected during
// shutdown.
func (q *Queue) PostRunnable(run func()) bool {
	q.mu.Lock()
	if q.rejectRunnables {
		q.mu.Unlock()
		return false
	}
	q.events = append(q.events, Event{Type: runOnMain, run: run})
	q.mu.Unlock()
	q.cond.Signal()
	return true
}

// Wait blocks until an event is available. Runnables are executed inline and
// never returned to the caller.
func (q *Queue) Wait() Event {
	for {
		q.mu.Lock()
		for len(q.events) == 0 {
			q.cond.Wait()
		}
		ev := q.events[0]
		q.events = q.events[1:]
		q.mu.Unlock()

		if ev.Type == runOnMain {
			ev.run()
			continue
		}
		return ev
	}
}

// WaitTimeout is like Wait but gives up after d. The second return value is
// false on timeout.
func (q *Queue) WaitTimeout(d time.Duration) (Event, bool) {
	deadline := time.Now().Add(d)
	timer := time.AfterFunc(d, q.cond.Broadcast)
	defer timer.Stop()
	for {
		q.mu.Lock()
		for len(q.events) == 0 {
			if !time.Now().Before(deadline) {
				q.mu.Unlock()
				return Event{}, false
			}
			q.cond.Wait()
		}
		ev := q.events[0]
		q.events = q.events[1:]
		q.mu.Unlock()

		if ev.Type == runOnMain {
			ev.run()
			continue
		}
		return ev, true
	}
}

// RejectRunnables makes further PostRunnable calls fail. Called at the start
// of teardown so no new work can sneak in behind the drain.
func (q *Queue) RejectRunnables() {
	q.mu.Lock()
	q.rejectRunnables = true
	q.mu.Unlock()
}

// Drain runs every posted runnable still in the queue and discards the rest.
// Runnables must run even during shutdown so their resources are released.
func (q *Queue) Drain() {
	q.mu.Lock()
	pending := q.events
	q.events = nil
	q.mu.Unlock()

	for _, ev := range pending {
		if ev.Type == runOnMain {
			ev.run()
		}
	}
}
