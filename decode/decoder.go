// Package decode turns compressed packets into raw frames. A Decoder is a
// packet sink toward its demuxer and a frame source toward the display or
// audio sinks; it runs no goroutine of its own and is driven synchronously
// from the demuxer's push.
package decode

import (
	"fmt"
	"log"

	"mirrorcast/pipeline"
)

// Codec is a stateful decode context, created fresh per stream.
type Codec interface {
	Open(f pipeline.StreamFormat) error
	// Decode feeds one packet and returns zero or more output frames.
	Decode(p pipeline.Packet) ([]pipeline.Frame, error)
	// Flush drains frames still buffered inside the context.
	Flush() ([]pipeline.Frame, error)
	Close()
}

// Factory builds a codec context for a stream format. Returning an error
// fails the sink open, which ends the feeding demuxer.
type Factory func(f pipeline.StreamFormat) (Codec, error)

// Decoder adapts a Codec into the sink/source pipeline.
type Decoder struct {
	name    string
	factory Factory
	codec   Codec
	out     pipeline.FrameSource
}

func New(name string, factory Factory) *Decoder {
	return &Decoder{name: name, factory: factory}
}

// AddSink registers a downstream frame sink. Must be called before the
// demuxer opens the decoder.
func (d *Decoder) AddSink(sink pipeline.FrameSink) {
	d.out.AddSink(sink)
}

func (d *Decoder) Open(f pipeline.StreamFormat) error {
	codec, err := d.factory(f)
	if err != nil {
		return fmt.Errorf("create %s codec: %w", d.name, err)
	}
	if err := codec.Open(f); err != nil {
		codec.Close()
		return fmt.Errorf("open %s codec: %w", d.name, err)
	}
	if err := d.out.Open(f); err != nil {
		codec.Close()
		return err
	}
	d.codec = codec
	return nil
}

// Push decodes one packet and forwards every produced frame downstream.
// Decode errors propagate to the demuxer; they are never swallowed.
func (d *Decoder) Push(p pipeline.Packet) error {
	frames, err := d.codec.Decode(p)
	if err != nil {
		return fmt.Errorf("%s decode: %w", d.name, err)
	}
	for _, frame := range frames {
		if err := d.out.Push(frame); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder) Close() {
	if d.codec != nil {
		if frames, err := d.codec.Flush(); err == nil {
			for _, frame := range frames {
				if err := d.out.Push(frame); err != nil {
					break
				}
			}
		} else {
			log.Printf("[decode/%s] flush: %v", d.name, err)
		}
		d.codec.Close()
		d.codec = nil
	}
	d.out.Close()
}
