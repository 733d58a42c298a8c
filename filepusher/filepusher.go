// Package filepusher uploads files dropped onto the window to the device,
// one at a time on a background goroutine.
package filepusher

import (
	"context"
	"log"
	"path"
	"path/filepath"
)

const defaultPushTarget = "/sdcard/Download/"

// Pusher is the adb surface the queue needs.
type Pusher interface {
	Push(ctx context.Context, localPath, remotePath string) error
}

// FilePusher drains a queue of local paths. Push failures are logged, never
// fatal.
type FilePusher struct {
	client Pusher
	target string

	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(client Pusher, target string) *FilePusher {
	if target == "" {
		target = defaultPushTarget
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &FilePusher{
		client: client,
		target: target,
		queue:  make(chan string, 16),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (f *FilePusher) Start() {
	go f.run()
}

// Request queues a file. It reports false when the queue is full; the
// caller just tells the user to retry.
func (f *FilePusher) Request(localPath string) bool {
	select {
	case f.queue <- localPath:
		return true
	default:
		log.Printf("[filepusher] queue full, rejecting %s", localPath)
		return false
	}
}

// Stop interrupts the current transfer and stops the goroutine.
func (f *FilePusher) Stop() {
	f.cancel()
}

// Join waits for the goroutine to exit.
func (f *FilePusher) Join() {
	<-f.done
}

// Destroy drops any queued requests.
func (f *FilePusher) Destroy() {
	for {
		select {
		case <-f.queue:
		default:
			return
		}
	}
}

func (f *FilePusher) run() {
	defer close(f.done)
	for {
		select {
		case <-f.ctx.Done():
			return
		case local := <-f.queue:
			remote := path.Join(f.target, filepath.Base(local))
			log.Printf("[filepusher] pushing %s -> %s", local, remote)
			if err := f.client.Push(f.ctx, local, remote); err != nil {
				if f.ctx.Err() != nil {
					return
				}
				log.Printf("[filepusher] push %s: %v", local, err)
			}
		}
	}
}
