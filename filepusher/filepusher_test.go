package filepusher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeADB struct {
	mu     sync.Mutex
	pushed []string
	err    error
	block  chan struct{}
}

func (f *fakeADB) Push(ctx context.Context, local, remote string) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.pushed = append(f.pushed, remote)
	return nil
}

func (f *fakeADB) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pushed...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPushesQueuedFilesInOrder(t *testing.T) {
	adb := &fakeADB{}
	fp := New(adb, "")
	fp.Start()

	fp.Request("/tmp/a.png")
	fp.Request("/tmp/b.apk")
	waitFor(t, func() bool { return len(adb.snapshot()) == 2 })

	fp.Stop()
	fp.Join()
	fp.Destroy()

	pushed := adb.snapshot()
	if pushed[0] != "/sdcard/Download/a.png" || pushed[1] != "/sdcard/Download/b.apk" {
		t.Fatalf("pushed: %v", pushed)
	}
}

func TestPushFailureIsNotFatal(t *testing.T) {
	adb := &fakeADB{err: errors.New("device offline")}
	fp := New(adb, "")
	fp.Start()

	fp.Request("/tmp/a.png")
	time.Sleep(50 * time.Millisecond)

	adb.mu.Lock()
	adb.err = nil
	adb.mu.Unlock()
	fp.Request("/tmp/b.png")
	waitFor(t, func() bool { return len(adb.snapshot()) == 1 })

	fp.Stop()
	fp.Join()
}

func TestStopInterruptsTransfer(t *testing.T) {
	adb := &fakeADB{block: make(chan struct{})}
	fp := New(adb, "")
	fp.Start()
	fp.Request("/tmp/huge.iso")

	time.Sleep(20 * time.Millisecond)
	fp.Stop()

	done := make(chan struct{})
	go func() { fp.Join(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt the transfer")
	}
}
