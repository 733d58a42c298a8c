// Package monitor polls the device lock screen state. Secure content (the
// keyguard bouncer asking for a credential) blanks mirroring-sensitive
// consumers, so the session wants to know when it appears or goes away.
package monitor

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"mirrorcast/adb"
)

const (
	pollInterval = 1200 * time.Millisecond
	// The interval sleep is sliced so Stop is honored promptly.
	sleepSlice = 100 * time.Millisecond
)

// QueryFunc reports whether secure content is currently showing. It must
// honor ctx cancellation so Stop can interrupt an in-flight query.
type QueryFunc func(ctx context.Context) (bool, error)

// ADBQuery asks the device window manager whether the keyguard or its
// bouncer is up.
func ADBQuery(client *adb.Client) QueryFunc {
	return func(ctx context.Context) (bool, error) {
		out, err := client.ShellOutput(ctx, "dumpsys window | grep -E 'isKeyguardShowing|mBouncerShowing'")
		if err != nil {
			return false, err
		}
		return strings.Contains(out, "isKeyguardShowing=true") ||
			strings.Contains(out, "mBouncerShowing=true"), nil
	}
}

// Monitor polls on its own goroutine and reports flips of the secure state.
type Monitor struct {
	query QueryFunc
	// onChange fires on the monitor goroutine, on the first successful read
	// and on every flip after that. It must only post events.
	onChange func(secure bool)

	stopped atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(query QueryFunc, onChange func(secure bool)) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		query:    query,
		onChange: onChange,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (m *Monitor) Start() {
	go m.run()
}

// Stop interrupts the in-flight query and the interval sleep. Non-blocking.
func (m *Monitor) Stop() {
	m.stopped.Store(true)
	m.cancel()
}

// Join waits for the poll goroutine to exit.
func (m *Monitor) Join() {
	<-m.done
}

func (m *Monitor) run() {
	defer close(m.done)

	var last bool
	first := true
	for !m.stopped.Load() {
		secure, err := m.query(m.ctx)
		if err == nil {
			// Only a flip (or the very first read) is worth an event.
			if first || secure != last {
				first = false
				last = secure
				m.onChange(secure)
			}
		}
		// Poll errors are retried next interval; a flaky adb must not end
		// the session.

		m.sleep()
	}
}

func (m *Monitor) sleep() {
	deadline := time.Now().Add(pollInterval)
	for time.Now().Before(deadline) {
		if m.stopped.Load() {
			return
		}
		time.Sleep(sleepSlice)
	}
}
