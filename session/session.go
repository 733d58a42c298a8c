// Package session drives one mirroring process: it launches the device-side
// server, wires the pipeline per attempt, runs the main event loop and
// retries on disconnect.
package session

import (
	"fmt"
	"log"
	"sync"
	"time"

	"mirrorcast/adb"
	"mirrorcast/bridge"
	"mirrorcast/codec"
	"mirrorcast/control"
	"mirrorcast/decode"
	"mirrorcast/demux"
	"mirrorcast/event"
	"mirrorcast/filepusher"
	"mirrorcast/input"
	"mirrorcast/monitor"
	"mirrorcast/pipeline"
	"mirrorcast/protocol"
	"mirrorcast/record"
	"mirrorcast/screen"
	"mirrorcast/server"
	"mirrorcast/webrtcsink"
)

// ExitCode is the process exit status.
type ExitCode int

const (
	ExitSuccess      ExitCode = 0
	ExitFailure      ExitCode = 1
	ExitDisconnected ExitCode = 2
)

const retryDelay = 1000 * time.Millisecond

// KeyboardMode selects the key injection backend. The backends are mutually
// exclusive; exactly one is built per attempt.
type KeyboardMode int

const (
	KeyboardSDK KeyboardMode = iota
	KeyboardUHID
)

// Options is the validated configuration consumed by Run.
type Options struct {
	Serial  string
	JarPath string

	Audio        bool
	RequireAudio bool
	Control      bool

	VideoCodec   string
	AudioCodec   string
	MaxSize      int
	MaxFPS       int
	VideoBitRate int

	RecordPath string

	Keyboard KeyboardMode

	TimeLimit  time.Duration
	AudioDelay time.Duration

	BridgePort   int
	EnableWebRTC bool

	TurnScreenOff bool
	StartApp      string

	// Renderer is the windowing collaborator. Nil means headless: no frame
	// display and no retry-on-disconnect (there is no window to keep alive).
	Renderer screen.Renderer

	// VideoCodecFactory builds the injected video decode context. Nil skips
	// video decoding; packets still flow to the recorder and WebRTC mirror.
	VideoCodecFactory decode.Factory

	// AudioSink plays decoded audio frames. Nil discards them.
	AudioSink pipeline.FrameSink

	// newTransport overrides device server establishment in tests.
	newTransport func(scid uint32, cbs server.Callbacks) transport
}

type transport interface {
	Start()
	Stop()
	Join()
	Destroy()
}

// Session is one Run invocation. Quit may be called from any goroutine.
type Session struct {
	opts Options
	q    *event.Queue
	adb  *adb.Client
	br   *bridge.Bridge

	mu  sync.Mutex
	scr *screen.Screen
}

func New(opts Options) *Session {
	return &Session{opts: opts, q: event.NewQueue()}
}

// Quit requests a clean shutdown. Signal handlers call this.
func (s *Session) Quit() {
	s.q.Post(event.Event{Type: event.Quit})
}

// RequestScreenshot captures the current frame on the main thread and
// publishes it to the bridge. Best effort.
func (s *Session) RequestScreenshot() {
	s.q.PostRunnable(func() {
		s.mu.Lock()
		scr := s.scr
		s.mu.Unlock()
		if scr == nil {
			return
		}
		if err := scr.CaptureScreenshot(); err != nil {
			log.Printf("[session] screenshot: %v", err)
		}
	})
}

type attemptResult int

const (
	resultQuit attemptResult = iota
	resultDisconnected
	resultFailure
	resultConnectionFailed
	resultTimeLimit
)

// Run is the retry loop. It returns when the user quits, a fatal error ends
// the session, or a disconnect happens with no window to keep alive.
func (s *Session) Run() ExitCode {
	if s.opts.newTransport == nil {
		client, err := adb.NewClient(s.opts.Serial)
		if err != nil {
			log.Printf("[session] %v", err)
			return ExitFailure
		}
		s.adb = client
	}

	// The bridge outlives attempts; companion tools keep polling across
	// reconnects. A failed bind is fatal to startup.
	s.br = bridge.New()
	if err := s.br.Start(s.opts.BridgePort); err != nil {
		log.Printf("[session] %v", err)
		return ExitFailure
	}
	defer s.br.Stop()

	defer func() {
		s.q.RejectRunnables()
		s.q.Drain()
	}()

	for {
		switch s.runAttempt() {
		case resultQuit, resultTimeLimit:
			return ExitSuccess
		case resultFailure, resultConnectionFailed:
			return ExitFailure
		case resultDisconnected:
			if s.opts.Renderer == nil {
				return ExitDisconnected
			}
			log.Printf("[session] device disconnected, retrying in %v", retryDelay)
			if ev, ok := s.q.WaitTimeout(retryDelay); ok && ev.Type == event.Quit {
				return ExitSuccess
			}
		}
	}
}

// attempt holds everything constructed for one connection, with
// per-component flags so partial-failure unwind never touches a component
// that was not brought up.
type attempt struct {
	session *Session
	opts    *Options
	q       *event.Queue

	conn *server.Connection

	srv        transport
	mon        *monitor.Monitor
	pusher     *filepusher.FilePusher
	videoDemux *demux.Demuxer
	audioDemux *demux.Demuxer
	rec        *record.Recorder
	acks       *control.AckSync
	ctrl       *control.Controller
	uhid       *input.UHIDKeyboard
	scr        *screen.Screen
	webrtc     *webrtcsink.Sink
	timeLimit  *time.Timer

	monStarted        bool
	pusherStarted     bool
	videoDemuxStarted bool
	audioDemuxStarted bool
	recStarted        bool
	ctrlStarted       bool
}

func (s *Session) runAttempt() attemptResult {
	a := &attempt{session: s, opts: &s.opts, q: s.q}

	scid := protocol.GenerateSCID()
	log.Printf("[session] starting attempt, scid=%08x", scid)

	cbs := server.Callbacks{
		OnConnected: func(conn *server.Connection) {
			a.conn = conn // synchronized by the queue post below
			s.q.Post(event.Event{Type: event.ServerConnected})
		},
		OnConnectionFailed: func(err error) {
			s.q.Post(event.Event{Type: event.ServerConnectionFailed})
		},
	}
	if s.opts.newTransport != nil {
		a.srv = s.opts.newTransport(scid, cbs)
	} else {
		a.srv = server.New(server.Options{
			ADB:          s.adb,
			SCID:         scid,
			LocalJarPath: s.opts.JarPath,
			Video:        true,
			Audio:        s.opts.Audio,
			Control:      s.opts.Control,
			VideoCodec:   s.opts.VideoCodec,
			AudioCodec:   s.opts.AudioCodec,
			MaxSize:      s.opts.MaxSize,
			MaxFPS:       s.opts.MaxFPS,
			VideoBitRate: s.opts.VideoBitRate,
		}, cbs)
	}
	a.srv.Start()

	result, proceed := a.awaitConnection()
	if !proceed {
		a.teardown(result)
		return result
	}

	if err := a.build(); err != nil {
		log.Printf("[session] setup failed: %v", err)
		result = resultFailure
	} else {
		result = a.eventLoop()
	}

	a.teardown(result)
	return result
}

// awaitConnection blocks until the transport reports, or the user quits.
func (a *attempt) awaitConnection() (attemptResult, bool) {
	for {
		ev := a.q.Wait()
		switch ev.Type {
		case event.ServerConnected:
			return 0, true
		case event.ServerConnectionFailed:
			return resultConnectionFailed, false
		case event.Quit:
			return resultQuit, false
		default:
			// Stale event from a previous attempt; drop it.
		}
	}
}

// build constructs every enabled subsystem in dependency order, then starts
// the demuxers last so no sink is attached after a source started.
func (a *attempt) build() error {
	s := a.session
	opts := a.opts

	if s.adb != nil {
		a.mon = monitor.New(monitor.ADBQuery(s.adb), func(secure bool) {
			a.q.Post(event.Event{Type: event.SecureContent, Detected: secure})
		})
		a.mon.Start()
		a.monStarted = true

		if opts.Control {
			a.pusher = filepusher.New(s.adb, "")
			a.pusher.Start()
			a.pusherStarted = true
		}
	}

	a.videoDemux = demux.New("video", a.conn.VideoConn, true, func(st demux.Status) {
		switch st {
		case demux.StatusEOS:
			a.q.Post(event.Event{Type: event.DeviceDisconnected})
		case demux.StatusDisabled:
			log.Printf("[session] video disabled by device")
			a.q.Post(event.Event{Type: event.DemuxerError})
		default:
			a.q.Post(event.Event{Type: event.DemuxerError})
		}
	})

	if opts.Audio && a.conn.AudioConn != nil {
		a.audioDemux = demux.New("audio", a.conn.AudioConn, false, func(st demux.Status) {
			// Losing audio degrades gracefully; losing video never does.
			if opts.RequireAudio {
				a.q.Post(event.Event{Type: event.DemuxerError})
				return
			}
			log.Printf("[session] audio ended (%s), continuing without audio", st)
		})
	}

	if opts.RecordPath != "" {
		a.rec = record.New(opts.RecordPath, true, a.audioDemux != nil, func(success bool) {
			if !success {
				a.q.Post(event.Event{Type: event.RecorderError})
			}
		})
		if err := a.rec.Start(); err != nil {
			return err
		}
		a.recStarted = true
		a.videoDemux.AddSink(a.rec.VideoSink())
		if a.audioDemux != nil {
			a.audioDemux.AddSink(a.rec.AudioSink())
		}
	}

	var keys input.KeyProcessor
	var mouse input.MouseProcessor
	if opts.Control && a.conn.ControlConn != nil {
		a.acks = control.NewAckSync()
		a.ctrl = control.New(a.conn.ControlConn, a.acks, control.Callbacks{
			OnClipboard: func(text string) {
				// Host clipboard integration is a platform binding; the
				// content is surfaced for whoever embeds the session.
				log.Printf("[session] device clipboard updated (%d bytes)", len(text))
			},
			OnUHIDOutput: func(id uint16, data []byte) {
				if a.uhid != nil {
					a.uhid.OnOutput(data)
				}
			},
			OnEnded: func(err error) {
				if err != nil {
					a.q.Post(event.Event{Type: event.ControllerError})
				} else {
					a.q.Post(event.Event{Type: event.DeviceDisconnected})
				}
			},
		})

		switch opts.Keyboard {
		case KeyboardUHID:
			a.uhid = input.NewUHIDKeyboard(a.ctrl, a.acks)
			keys = a.uhid
		default:
			keys = input.NewSDKKeyboard(a.ctrl)
		}
		mouse = input.NewSDKMouse(a.ctrl)

		a.ctrl.Start()
		a.ctrlStarted = true
	}

	a.scr = screen.New(screen.Config{
		Events:   a.q,
		Renderer: opts.Renderer,
		Encoder:  screen.RGBAEncoder{},
		Bridge:   s.br,
		Keys:     keys,
		Mouse:    mouse,
	})
	a.videoDemux.OnVideoSize = func(w, h uint32) {
		scr := a.scr
		a.q.PostRunnable(func() { scr.SetVideoSize(w, h) })
	}
	s.mu.Lock()
	s.scr = a.scr
	s.mu.Unlock()

	if opts.VideoCodecFactory != nil {
		videoDecoder := decode.New("video", opts.VideoCodecFactory)
		videoDecoder.AddSink(a.scr)
		a.videoDemux.AddSink(videoDecoder)
	}

	if a.audioDemux != nil && opts.AudioSink != nil {
		audioDecoder := decode.New("audio", audioCodecFactory)
		if opts.AudioDelay > 0 {
			delay := pipeline.NewDelayBuffer[pipeline.Frame](opts.AudioDelay, true)
			delay.AddSink(opts.AudioSink)
			audioDecoder.AddSink(delay)
		} else {
			audioDecoder.AddSink(opts.AudioSink)
		}
		a.audioDemux.AddSink(audioDecoder)
	}

	if opts.EnableWebRTC {
		a.webrtc = webrtcsink.New(func() {
			if a.ctrl != nil {
				a.ctrl.PushMsg(protocol.ResetVideo{})
			}
		})
		a.videoDemux.AddSink(a.webrtc)
		s.br.SetOfferHandler(a.webrtc.HandleOffer)
	}

	a.videoDemux.Start()
	a.videoDemuxStarted = true
	if a.audioDemux != nil {
		a.audioDemux.Start()
		a.audioDemuxStarted = true
	}

	if opts.TimeLimit > 0 {
		a.timeLimit = time.AfterFunc(opts.TimeLimit, func() {
			a.q.Post(event.Event{Type: event.TimeLimitReached})
		})
	}

	if a.ctrl != nil {
		if opts.TurnScreenOff {
			a.ctrl.PushMsg(protocol.SetDisplayPower{On: false})
		}
		if opts.StartApp != "" {
			a.ctrl.PushMsg(protocol.StartApp{Name: opts.StartApp})
		}
	}

	a.scr.SetState(screen.StateRunning)
	return nil
}

// eventLoop blocks on the queue until a terminal event.
func (a *attempt) eventLoop() attemptResult {
	for {
		ev := a.q.Wait()
		switch ev.Type {
		case event.NewFrame:
			a.scr.Render()
		case event.SecureContent:
			if ev.Detected {
				log.Printf("[session] device lock screen is up")
			} else {
				log.Printf("[session] device lock screen dismissed")
			}
		case event.DeviceDisconnected:
			return resultDisconnected
		case event.DemuxerError, event.ControllerError, event.RecorderError:
			return resultFailure
		case event.TimeLimitReached:
			log.Printf("[session] time limit reached")
			return resultTimeLimit
		case event.Quit:
			return resultQuit
		}
	}
}

// teardown unwinds in strict reverse of construction. Every step is guarded
// by its component's started flag so a partial build never double-frees.
func (a *attempt) teardown(result attemptResult) {
	if a.timeLimit != nil {
		a.timeLimit.Stop()
	}

	// Demuxers first: their closure cascades through decoders, screen,
	// delay buffers, webrtc mirror and recorder sinks.
	if a.videoDemuxStarted {
		a.videoDemux.Stop()
	}
	if a.audioDemuxStarted {
		a.audioDemux.Stop()
	}
	if a.videoDemuxStarted {
		a.videoDemux.Join()
		a.videoDemux.Destroy()
	}
	if a.audioDemuxStarted {
		a.audioDemux.Join()
		a.audioDemux.Destroy()
	}

	// The recorder drains only after its feeding demuxers stopped.
	if a.recStarted {
		a.rec.Join()
		a.rec.Destroy()
	}

	if a.uhid != nil {
		a.uhid.Destroy()
	}
	if a.ctrlStarted {
		a.ctrl.Stop()
		a.ctrl.Join()
		a.ctrl.Destroy()
	}

	if a.pusherStarted {
		a.pusher.Stop()
		a.pusher.Join()
		a.pusher.Destroy()
	}
	if a.monStarted {
		a.mon.Stop()
		a.mon.Join()
	}

	a.srv.Stop()
	a.srv.Join()
	a.srv.Destroy()

	if a.scr != nil {
		if result == resultFailure {
			a.scr.SetState(screen.StateFailed)
		} else {
			a.scr.SetState(screen.StateDisconnected)
		}
		log.Printf("[session] frames skipped this attempt: %d", a.scr.Skipped())
	}

	a.session.mu.Lock()
	a.session.scr = nil
	a.session.mu.Unlock()

	// Pending runnables must still run so their resources are released;
	// stale events are discarded.
	a.q.Drain()
}

// audioCodecFactory builds the decode context for the negotiated audio
// codec. Only Opus is wired; an unexpected codec fails the stream open, and
// the audio ended policy decides whether that matters.
func audioCodecFactory(f pipeline.StreamFormat) (decode.Codec, error) {
	if f.Codec != protocol.CodecIDOpus {
		return nil, fmt.Errorf("no audio decoder for %s", protocol.CodecName(f.Codec))
	}
	return codec.NewOpusContext(f)
}
