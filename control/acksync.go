package control

import "sync"

// AckSync gates on device acknowledgements. Setting the clipboard with a
// sequence number and then waiting for that sequence to come back guarantees
// the device has the new content before a synthetic paste is injected.
type AckSync struct {
	mu      sync.Mutex
	cond    *sync.Cond
	acked   uint64
	stopped bool
}

func NewAckSync() *AckSync {
	a := &AckSync{}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// Acknowledge records a sequence received from the device. Sequences are
// monotonic; stale acknowledgements are ignored.
func (a *AckSync) Acknowledge(sequence uint64) {
	a.mu.Lock()
	if sequence > a.acked {
		a.acked = sequence
	}
	a.mu.Unlock()
	a.cond.Broadcast()
}

// WaitFor blocks until sequence has been acknowledged or the sync is
// stopped. It reports false when interrupted by Stop.
func (a *AckSync) WaitFor(sequence uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for a.acked < sequence && !a.stopped {
		a.cond.Wait()
	}
	return a.acked >= sequence
}

// Stop wakes every waiter. Pending waits fail.
func (a *AckSync) Stop() {
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()
	a.cond.Broadcast()
}
