// Package control drives the bidirectional control socket: a sender
// goroutine drains a bounded queue of outgoing messages, a receiver
// goroutine parses device messages (clipboard, acks, uhid output).
package control

import (
	"io"
	"log"
	"sync/atomic"

	"mirrorcast/protocol"
)

const queueCapacity = 64

// Callbacks fire from controller goroutines and must only post events or do
// other non-blocking work.
type Callbacks struct {
	// OnClipboard delivers device clipboard changes.
	OnClipboard func(text string)
	// OnUHIDOutput delivers output reports for a registered uhid device.
	OnUHIDOutput func(id uint16, data []byte)
	// OnEnded fires at most once, from whichever side detects termination
	// first. err is nil on a clean device close.
	OnEnded func(err error)
}

// Controller owns the control socket for one session attempt.
type Controller struct {
	conn    io.ReadWriteCloser
	cbs     Callbacks
	acksync *AckSync

	queue chan protocol.ControlMsg
	stop  chan struct{}
	ended atomic.Bool

	senderDone   chan struct{}
	receiverDone chan struct{}
}

func New(conn io.ReadWriteCloser, acksync *AckSync, cbs Callbacks) *Controller {
	return &Controller{
		conn:         conn,
		cbs:          cbs,
		acksync:      acksync,
		queue:        make(chan protocol.ControlMsg, queueCapacity),
		stop:         make(chan struct{}),
		senderDone:   make(chan struct{}),
		receiverDone: make(chan struct{}),
	}
}

func (c *Controller) Start() {
	go c.runSender()
	go c.runReceiver()
}

// PushMsg queues an outgoing message. Best effort: it reports false when the
// queue is full or the controller has ended, and the caller logs rather than
// fails the session.
func (c *Controller) PushMsg(msg protocol.ControlMsg) bool {
	if c.ended.Load() {
		return false
	}
	select {
	case c.queue <- msg:
		return true
	case <-c.stop:
		return false
	default:
		log.Printf("[control] queue full, dropping message type %d", msg.MsgType())
		return false
	}
}

// Stop signals both goroutines and unblocks the receiver's socket read.
func (c *Controller) Stop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	c.conn.Close()
	if c.acksync != nil {
		c.acksync.Stop()
	}
}

// Join waits for both goroutines. Call Stop first.
func (c *Controller) Join() {
	<-c.senderDone
	<-c.receiverDone
}

// Destroy releases the socket. Call after Join.
func (c *Controller) Destroy() {
	c.conn.Close()
}

// end fires the ended callback at most once, from whichever goroutine got
// here first. The second detection is a no-op.
func (c *Controller) end(err error) {
	if c.ended.CompareAndSwap(false, true) {
		c.cbs.OnEnded(err)
	}
}

func (c *Controller) runSender() {
	defer close(c.senderDone)
	for {
		select {
		case <-c.stop:
			return
		case msg := <-c.queue:
			if _, err := c.conn.Write(msg.Serialize()); err != nil {
				select {
				case <-c.stop:
				default:
					log.Printf("[control] send: %v", err)
					c.end(err)
				}
				return
			}
		}
	}
}

func (c *Controller) runReceiver() {
	defer close(c.receiverDone)
	for {
		msg, err := protocol.ReadDeviceMsg(c.conn)
		if err != nil {
			select {
			case <-c.stop:
			default:
				if err == io.EOF {
					err = nil
				} else {
					log.Printf("[control] receive: %v", err)
				}
				c.end(err)
			}
			return
		}

		switch msg.Type {
		case protocol.DeviceMsgClipboard:
			log.Printf("[control] device clipboard: %d bytes", len(msg.Text))
			if c.cbs.OnClipboard != nil {
				c.cbs.OnClipboard(msg.Text)
			}
		case protocol.DeviceMsgAckClipboard:
			if c.acksync != nil {
				c.acksync.Acknowledge(msg.Sequence)
			}
		case protocol.DeviceMsgUHIDOutput:
			if c.cbs.OnUHIDOutput != nil {
				c.cbs.OnUHIDOutput(msg.UHIDID, msg.UHIDData)
			}
		}
	}
}
