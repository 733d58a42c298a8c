package pipeline

import "time"

// StreamFormat describes an elementary stream. It is handed to every sink's
// Open before the first unit is pushed.
type StreamFormat struct {
	Codec  uint32 // 4-byte wire codec id ("h264", "opus", ...)
	Video  bool
	Width  uint32
	Height uint32

	// Audio only. The device always sends 48 kHz stereo.
	SampleRate int
	Channels   int
}

// Packet is a compressed media unit as read from the device stream.
// The demuxer owns the backing buffer until Push returns; sinks that keep
// the data past Push must copy it.
type Packet struct {
	Data       []byte
	PTS        time.Duration
	IsConfig   bool
	IsKeyFrame bool
}

// Clone returns a packet with its own copy of the payload.
func (p Packet) Clone() Packet {
	data := make([]byte, len(p.Data))
	copy(data, p.Data)
	p.Data = data
	return p
}

// Frame is a decoded media unit (raw image or PCM samples).
type Frame struct {
	Data   []byte
	PTS    time.Duration
	Width  uint32
	Height uint32

	// Audio only
	Samples  int
	Channels int
}
