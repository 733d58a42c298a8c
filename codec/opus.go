// Package codec holds the decode contexts shipped with the client. Video
// contexts are provided by the embedding application; audio uses libopus.
package codec

import (
	"fmt"

	"github.com/hraban/opus"

	"mirrorcast/pipeline"
)

// Opus frames from the device are at most 120 ms of 48 kHz stereo.
const maxOpusFrameSamples = 5760

// OpusContext decodes Opus packets to interleaved S16LE PCM frames.
type OpusContext struct {
	decoder    *opus.Decoder
	channels   int
	sampleRate int
	pcm        []int16
}

// NewOpusContext is a decode.Factory.
func NewOpusContext(f pipeline.StreamFormat) (*OpusContext, error) {
	if f.SampleRate == 0 || f.Channels == 0 {
		return nil, fmt.Errorf("opus: incomplete stream format: %+v", f)
	}
	return &OpusContext{
		sampleRate: int(f.SampleRate),
		channels:   int(f.Channels),
	}, nil
}

func (c *OpusContext) Open(f pipeline.StreamFormat) error {
	dec, err := opus.NewDecoder(c.sampleRate, c.channels)
	if err != nil {
		return fmt.Errorf("opus decoder: %w", err)
	}
	c.decoder = dec
	c.pcm = make([]int16, maxOpusFrameSamples*c.channels)
	return nil
}

func (c *OpusContext) Decode(p pipeline.Packet) ([]pipeline.Frame, error) {
	// The first packet is the codec config (OpusHead); libopus does not
	// want to see it.
	if p.IsConfig {
		return nil, nil
	}
	n, err := c.decoder.Decode(p.Data, c.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}

	samples := c.pcm[:n*c.channels]
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return []pipeline.Frame{{
		Data:     data,
		PTS:      p.PTS,
		Samples:  n,
		Channels: c.channels,
	}}, nil
}

func (c *OpusContext) Flush() ([]pipeline.Frame, error) {
	// libopus keeps no frame queue; nothing buffered to drain.
	return nil, nil
}

func (c *OpusContext) Close() {
	c.decoder = nil
	c.pcm = nil
}
