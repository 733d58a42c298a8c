// Package record muxes raw video/audio packets into an FLV file on a
// dedicated goroutine. It never decodes; it repackages the compressed
// packets exactly as received.
package record

import (
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/nareix/joy5/av"
	"github.com/nareix/joy5/format/flv"

	"mirrorcast/pipeline"
	"mirrorcast/protocol"
)

const queueCapacity = 256

type entry struct {
	video bool
	pkt   pipeline.Packet
}

// Recorder receives packets through its video/audio sink adapters and writes
// them to path. Exactly one of onEnded(true)/onEnded(false) fires, from the
// mux goroutine.
type Recorder struct {
	path     string
	hasVideo bool
	hasAudio bool
	onEnded  func(success bool)
	ended    atomic.Bool

	entries chan entry
	stop    chan struct{}
	done    chan struct{}

	mu         sync.Mutex
	openSinks  int
	closeCount int
	failed     bool
}

func New(path string, hasVideo, hasAudio bool, onEnded func(success bool)) *Recorder {
	sinks := 0
	if hasVideo {
		sinks++
	}
	if hasAudio {
		sinks++
	}
	return &Recorder{
		path:      path,
		hasVideo:  hasVideo,
		hasAudio:  hasAudio,
		onEnded:   onEnded,
		openSinks: sinks,
		entries:   make(chan entry, queueCapacity),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// VideoSink returns the packet sink to register on the video demuxer.
func (r *Recorder) VideoSink() pipeline.PacketSink { return &recorderSink{r: r, video: true} }

// AudioSink returns the packet sink to register on the audio demuxer.
func (r *Recorder) AudioSink() pipeline.PacketSink { return &recorderSink{r: r, video: false} }

// Start opens the output file and spawns the mux goroutine.
func (r *Recorder) Start() error {
	file, err := os.Create(r.path)
	if err != nil {
		return fmt.Errorf("create recording: %w", err)
	}
	go r.run(file)
	return nil
}

// Stop aborts muxing early. Normal termination is sink closure, not Stop.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.failed {
		r.failed = true
		close(r.stop)
	}
	r.mu.Unlock()
}

// Join waits for the mux goroutine to finish the file.
func (r *Recorder) Join() {
	<-r.done
}

// Destroy is a no-op placeholder kept for lifecycle symmetry; the file is
// closed by the mux goroutine.
func (r *Recorder) Destroy() {}

func (r *Recorder) enqueue(e entry) error {
	select {
	case <-r.stop:
		return fmt.Errorf("recorder stopped")
	default:
	}
	select {
	case r.entries <- e:
		return nil
	case <-r.stop:
		return fmt.Errorf("recorder stopped")
	}
}

// sinkClosed closes the entry channel once every feeding sink has closed, so
// the mux goroutine can drain and finalize.
func (r *Recorder) sinkClosed() {
	r.mu.Lock()
	r.closeCount++
	last := r.closeCount == r.openSinks
	r.mu.Unlock()
	if last {
		close(r.entries)
	}
}

func (r *Recorder) finish(success bool) {
	if r.ended.CompareAndSwap(false, true) {
		r.onEnded(success)
	}
}

func (r *Recorder) run(file *os.File) {
	defer close(r.done)
	defer file.Close()

	muxer := flv.NewMuxer(file)
	sawVideoPacket := false
	success := true

loop:
	for {
		select {
		case <-r.stop:
			success = false
			break loop
		case e, ok := <-r.entries:
			if !ok {
				break loop
			}
			var err error
			if e.video {
				if !sawVideoPacket {
					sawVideoPacket = true
					if !e.pkt.IsConfig {
						log.Printf("[record] first video packet is not a config packet")
						success = false
						break loop
					}
				}
				err = writeVideo(muxer, e.pkt)
			} else {
				err = writeAudio(muxer, e.pkt)
			}
			if err != nil {
				log.Printf("[record] mux: %v", err)
				success = false
				break loop
			}
		}
	}

	if err := file.Sync(); err != nil && success {
		log.Printf("[record] sync: %v", err)
		success = false
	}
	if success {
		log.Printf("[record] finished: %s", r.path)
	}
	r.finish(success)
}

func writeVideo(muxer *flv.Muxer, p pipeline.Packet) error {
	if p.IsConfig {
		record, err := buildAVCConfig(p.Data)
		if err != nil {
			return err
		}
		return muxer.WritePacket(av.Packet{
			Type: av.H264DecoderConfig,
			Data: record,
		})
	}
	return muxer.WritePacket(av.Packet{
		Type:       av.H264,
		Data:       annexBToAVCC(p.Data),
		Time:       p.PTS,
		IsKeyFrame: p.IsKeyFrame,
	})
}

func writeAudio(muxer *flv.Muxer, p pipeline.Packet) error {
	if p.IsConfig {
		// The device sends the AudioSpecificConfig as the audio config
		// packet when the codec is AAC.
		return muxer.WritePacket(av.Packet{
			Type: av.AACDecoderConfig,
			Data: p.Data,
		})
	}
	return muxer.WritePacket(av.Packet{
		Type: av.AAC,
		Data: p.Data,
		Time: p.PTS,
	})
}

type recorderSink struct {
	r     *Recorder
	video bool
}

func (s *recorderSink) Open(f pipeline.StreamFormat) error {
	if s.video && f.Codec != protocol.CodecIDH264 {
		return fmt.Errorf("record: container supports h264 video, got %s", protocol.CodecName(f.Codec))
	}
	if !s.video && f.Codec != protocol.CodecIDAAC {
		return fmt.Errorf("record: container supports aac audio, got %s", protocol.CodecName(f.Codec))
	}
	return nil
}

func (s *recorderSink) Push(p pipeline.Packet) error {
	return s.r.enqueue(entry{video: s.video, pkt: p.Clone()})
}

func (s *recorderSink) Close() {
	s.r.sinkClosed()
}
