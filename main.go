package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mirrorcast/adb"
	"mirrorcast/session"
)

func main() {
	opts, discover := parseFlags()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	if discover {
		devices := adb.Discover(3 * time.Second)
		if len(devices) == 0 {
			log.Printf("[main] no wireless debugging devices found")
			os.Exit(1)
		}
		for _, d := range devices {
			log.Printf("[main] %s at %s", d.Instance, d.Addr())
		}
		return
	}

	s := session.New(opts)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)
	go func() {
		for sig := range sigs {
			if sig == syscall.SIGUSR1 {
				s.RequestScreenshot()
				continue
			}
			log.Printf("[main] %v, shutting down", sig)
			s.Quit()
		}
	}()

	os.Exit(int(s.Run()))
}

func parseFlags() (session.Options, bool) {
	var opts session.Options
	var keyboard string
	var noAudio bool
	var discover bool

	flag.BoolVar(&discover, "discover", false, "list wireless debugging devices on the local network and exit")

	flag.StringVar(&opts.Serial, "serial", "", "device serial (default: the only connected device)")
	flag.StringVar(&opts.JarPath, "server-jar", "mirrorcast-server.jar", "local path of the device server jar")
	flag.BoolVar(&noAudio, "no-audio", false, "disable audio forwarding")
	flag.BoolVar(&opts.RequireAudio, "require-audio", false, "fail the session when the device cannot capture audio")
	flag.BoolVar(&opts.Control, "control", true, "enable input injection and the control channel")
	flag.StringVar(&opts.VideoCodec, "video-codec", "h264", "device video codec (h264, h265, av1)")
	flag.StringVar(&opts.AudioCodec, "audio-codec", "opus", "device audio codec (opus, aac, flac, raw)")
	flag.IntVar(&opts.MaxSize, "max-size", 0, "limit the larger video dimension (0 = device native)")
	flag.IntVar(&opts.MaxFPS, "max-fps", 0, "limit the capture frame rate (0 = unlimited)")
	flag.IntVar(&opts.VideoBitRate, "video-bit-rate", 0, "video bit rate in bits per second (0 = device default)")
	flag.StringVar(&opts.RecordPath, "record", "", "record the streams to this FLV file")
	flag.StringVar(&keyboard, "keyboard", "sdk", "key injection backend (sdk, uhid)")
	flag.DurationVar(&opts.TimeLimit, "time-limit", 0, "end the session after this duration (0 = no limit)")
	flag.DurationVar(&opts.AudioDelay, "audio-buffer", 50*time.Millisecond, "audio jitter buffer")
	flag.IntVar(&opts.BridgePort, "bridge-port", 8089, "local port for the companion HTTP bridge")
	flag.BoolVar(&opts.EnableWebRTC, "webrtc", false, "expose the video stream to WebRTC viewers via the bridge")
	flag.BoolVar(&opts.TurnScreenOff, "turn-screen-off", false, "turn the device screen off at start")
	flag.StringVar(&opts.StartApp, "start-app", "", "start this package on the device at session start")
	flag.Parse()

	opts.Audio = !noAudio
	switch keyboard {
	case "uhid":
		opts.Keyboard = session.KeyboardUHID
	case "sdk":
		opts.Keyboard = session.KeyboardSDK
	default:
		log.Printf("[main] unknown keyboard backend %q, using sdk", keyboard)
	}
	return opts, discover
}
