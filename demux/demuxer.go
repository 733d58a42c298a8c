// Package demux reads an elementary stream socket and fans parsed packets
// out to registered packet sinks.
package demux

import (
	"errors"
	"io"
	"log"
	"sync"

	"mirrorcast/pipeline"
	"mirrorcast/protocol"
)

// Status is the terminal condition reported through the ended callback.
type Status int

const (
	// StatusEOS means the device closed the stream cleanly.
	StatusEOS Status = iota
	// StatusError means a read, parse or sink failure ended the stream.
	StatusError
	// StatusDisabled means the device reported the stream as intentionally
	// absent (codec id 0).
	StatusDisabled
)

func (s Status) String() string {
	switch s {
	case StatusEOS:
		return "eos"
	case StatusError:
		return "error"
	case StatusDisabled:
		return "disabled"
	}
	return "unknown"
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateEnded
)

// Demuxer parses one media socket on its own goroutine. Sinks must be
// registered before Start.
type Demuxer struct {
	name    string
	conn    io.ReadCloser
	video   bool
	onEnded func(Status)

	// OnVideoSize fires when a config packet carries new coded dimensions
	// (device rotation restarts the encoder). Optional, video only.
	OnVideoSize func(width, height uint32)

	out pipeline.PacketSource

	mu    sync.Mutex
	state state
	done  chan struct{}
}

// New creates a demuxer over conn. The ended callback fires exactly once
// when the read loop exits; it runs on the demuxer goroutine and must only
// post events.
func New(name string, conn io.ReadCloser, video bool, onEnded func(Status)) *Demuxer {
	return &Demuxer{
		name:    name,
		conn:    conn,
		video:   video,
		onEnded: onEnded,
		done:    make(chan struct{}),
	}
}

// AddSink registers a packet sink. Must be called before Start.
func (d *Demuxer) AddSink(sink pipeline.PacketSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != stateIdle {
		panic("demux: AddSink after Start")
	}
	d.out.AddSink(sink)
}

// Start spawns the read loop.
func (d *Demuxer) Start() {
	d.mu.Lock()
	if d.state != stateIdle {
		d.mu.Unlock()
		panic("demux: Start called twice")
	}
	d.state = stateRunning
	d.mu.Unlock()

	go d.run()
}

// Stop unblocks a pending read by closing the socket. Non-blocking.
func (d *Demuxer) Stop() {
	d.conn.Close()
}

// Join waits for the read loop to finish. Only valid after Start.
func (d *Demuxer) Join() {
	<-d.done
}

// Destroy releases the socket. Call after Join.
func (d *Demuxer) Destroy() {
	d.conn.Close()
}

func (d *Demuxer) run() {
	status := d.demux()

	d.mu.Lock()
	d.state = stateEnded
	d.mu.Unlock()

	d.out.Close()
	log.Printf("[demux/%s] ended: %s", d.name, status)
	d.onEnded(status)
	close(d.done)
}

func (d *Demuxer) demux() Status {
	codecID, err := protocol.ReadCodecID(d.conn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return StatusEOS
		}
		log.Printf("[demux/%s] read codec id: %v", d.name, err)
		return StatusError
	}
	if codecID == protocol.CodecIDDisabled {
		return StatusDisabled
	}
	log.Printf("[demux/%s] codec: %s", d.name, protocol.CodecName(codecID))

	format := pipeline.StreamFormat{Codec: codecID, Video: d.video}
	if d.video {
		w, h, err := protocol.ReadVideoSize(d.conn)
		if err != nil {
			log.Printf("[demux/%s] read video size: %v", d.name, err)
			return StatusError
		}
		format.Width = w
		format.Height = h
	} else {
		// The device always resamples audio to 48 kHz stereo.
		format.SampleRate = 48000
		format.Channels = 2
	}

	if err := d.out.Open(format); err != nil {
		log.Printf("[demux/%s] open sinks: %v", d.name, err)
		return StatusError
	}

	for {
		packet, err := protocol.ReadPacket(d.conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return StatusEOS
			}
			log.Printf("[demux/%s] read packet: %v", d.name, err)
			return StatusError
		}

		if d.video && packet.IsConfig && codecID == protocol.CodecIDH264 {
			if info, err := protocol.ParseVideoSize(packet.Data); err == nil {
				if info.Width != format.Width || info.Height != format.Height {
					log.Printf("[demux/%s] video size changed: %dx%d", d.name, info.Width, info.Height)
					format.Width = info.Width
					format.Height = info.Height
					if d.OnVideoSize != nil {
						d.OnVideoSize(info.Width, info.Height)
					}
				}
			}
		}

		if err := d.out.Push(packet); err != nil {
			log.Printf("[demux/%s] sink push: %v", d.name, err)
			return StatusError
		}
	}
}
