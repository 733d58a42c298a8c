// Package server manages one attempt's device-side companion process: push
// the jar, reverse-tunnel a local port, launch the server over adb shell and
// accept the video/audio/control sockets it dials back.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"mirrorcast/adb"
	"mirrorcast/comm"
	"mirrorcast/protocol"
)

const (
	serverRemotePath = "/data/local/tmp/mirrorcast-server.jar"
	serverVersion    = "3.3.3"
	acceptTimeout    = 10 * time.Second
)

// Options configures the device-side server launch.
type Options struct {
	ADB           *adb.Client
	SCID          uint32
	LocalJarPath  string
	Video         bool
	Audio         bool
	Control       bool
	VideoCodec    string
	AudioCodec    string
	MaxSize       int
	MaxFPS        int
	VideoBitRate  int
	LogLevel      string
}

// Connection is everything the device handed back on a successful start.
type Connection struct {
	DeviceName  string
	VideoConn   net.Conn
	AudioConn   net.Conn
	ControlConn net.Conn
}

// Callbacks fire from the server goroutine. Implementations must only post
// events, never block.
type Callbacks struct {
	OnConnected        func(conn *Connection)
	OnConnectionFailed func(err error)
}

// Server is the per-attempt handle. Start launches the background
// establishment; Stop interrupts it; Join waits; Destroy releases sockets
// and the reverse tunnel.
type Server struct {
	opts Options
	cbs  Callbacks

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	conn     *Connection
	tunnel   string

	done chan struct{}
}

func New(opts Options, cbs Callbacks) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:   opts,
		cbs:    cbs,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start begins establishment in the background. Exactly one of OnConnected
// or OnConnectionFailed will fire.
func (s *Server) Start() {
	go func() {
		defer close(s.done)
		conn, err := s.establish()
		if err != nil {
			log.Printf("[server] connection failed: %v", err)
			s.cbs.OnConnectionFailed(err)
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.cbs.OnConnected(conn)
	}()
}

// Stop interrupts a pending establishment. Safe to call at any point.
func (s *Server) Stop() {
	s.cancel()
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()
}

// Join waits for the establishment goroutine to finish.
func (s *Server) Join() {
	<-s.done
}

// Destroy closes any accepted sockets and removes the reverse tunnel.
func (s *Server) Destroy() {
	s.mu.Lock()
	conn := s.conn
	tunnel := s.tunnel
	s.mu.Unlock()

	if conn != nil {
		if conn.VideoConn != nil {
			conn.VideoConn.Close()
		}
		if conn.AudioConn != nil {
			conn.AudioConn.Close()
		}
		if conn.ControlConn != nil {
			conn.ControlConn.Close()
		}
	}
	if tunnel != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.opts.ADB.ReverseRemove(ctx, tunnel); err != nil {
			log.Printf("[server] reverse remove: %v", err)
		}
	}
}

func (s *Server) establish() (*Connection, error) {
	tunnel := fmt.Sprintf("localabstract:scrcpy_%08x", s.opts.SCID)

	// adb push and reverse occasionally fail right after a device
	// reconnects; retry briefly before giving up on the attempt.
	setup := func() error {
		if err := s.opts.ADB.Push(s.ctx, s.opts.LocalJarPath, serverRemotePath); err != nil {
			return err
		}
		return nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = 5 * time.Second
	if err := backoff.Retry(setup, backoff.WithContext(policy, s.ctx)); err != nil {
		return nil, fmt.Errorf("push server jar: %w", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	defer func() {
		listener.Close()
		s.mu.Lock()
		s.listener = nil
		s.mu.Unlock()
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	reverse := func() error {
		return s.opts.ADB.Reverse(s.ctx, tunnel, port)
	}
	policy.Reset()
	if err := backoff.Retry(reverse, backoff.WithContext(policy, s.ctx)); err != nil {
		return nil, fmt.Errorf("reverse tunnel: %w", err)
	}
	s.mu.Lock()
	s.tunnel = tunnel
	s.mu.Unlock()

	cmd := s.serverCommand()
	log.Printf("[server] launching: %s", cmd)
	go func() {
		if err := s.opts.ADB.Shell(s.ctx, cmd); err != nil && s.ctx.Err() == nil {
			log.Printf("[server] device process exited: %v", err)
		}
	}()

	conn, err := s.acceptAll(listener)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// acceptAll waits for the device to dial back. Socket order is fixed by the
// device side: video first, then audio when enabled, then control when
// enabled. The first socket carries the 64-byte device name block.
func (s *Server) acceptAll(listener net.Listener) (*Connection, error) {
	count := 0
	if s.opts.Video {
		count++
	}
	if s.opts.Audio {
		count++
	}
	if s.opts.Control {
		count++
	}
	if count == 0 {
		return nil, fmt.Errorf("nothing enabled, no sockets to accept")
	}

	if d, ok := listener.(*net.TCPListener); ok {
		d.SetDeadline(time.Now().Add(acceptTimeout))
	}

	conns := make([]net.Conn, 0, count)
	for i := 0; i < count; i++ {
		c, err := listener.Accept()
		if err != nil {
			for _, prev := range conns {
				prev.Close()
			}
			if s.ctx.Err() != nil {
				return nil, s.ctx.Err()
			}
			return nil, fmt.Errorf("accept socket %d/%d: %w", i+1, count, err)
		}
		if tc, ok := c.(*net.TCPConn); ok {
			tc.SetReadBuffer(1024 * 1024)
		}
		conns = append(conns, comm.NewBufferedConn(c, 128*1024))
	}

	conn := &Connection{}
	name, err := protocol.ReadDeviceName(conns[0])
	if err != nil {
		for _, c := range conns {
			c.Close()
		}
		return nil, fmt.Errorf("read device name: %w", err)
	}
	conn.DeviceName = name
	log.Printf("[server] connected device: %s", name)

	next := 0
	if s.opts.Video {
		conn.VideoConn = conns[next]
		next++
	}
	if s.opts.Audio {
		conn.AudioConn = conns[next]
		next++
	}
	if s.opts.Control {
		conn.ControlConn = conns[next]
	}
	return conn, nil
}

func (s *Server) serverCommand() string {
	args := []string{
		fmt.Sprintf("CLASSPATH=%s", serverRemotePath),
		"app_process", "/", "com.genymobile.scrcpy.Server", serverVersion,
		fmt.Sprintf("scid=%08x", s.opts.SCID),
		fmt.Sprintf("video=%t", s.opts.Video),
		fmt.Sprintf("audio=%t", s.opts.Audio),
		fmt.Sprintf("control=%t", s.opts.Control),
	}
	if s.opts.VideoCodec != "" {
		args = append(args, fmt.Sprintf("video_codec=%s", s.opts.VideoCodec))
	}
	if s.opts.AudioCodec != "" {
		args = append(args, fmt.Sprintf("audio_codec=%s", s.opts.AudioCodec))
	}
	if s.opts.MaxSize > 0 {
		args = append(args, fmt.Sprintf("max_size=%d", s.opts.MaxSize))
	}
	if s.opts.MaxFPS > 0 {
		args = append(args, fmt.Sprintf("max_fps=%d", s.opts.MaxFPS))
	}
	if s.opts.VideoBitRate > 0 {
		args = append(args, fmt.Sprintf("video_bit_rate=%d", s.opts.VideoBitRate))
	}
	if s.opts.LogLevel != "" {
		args = append(args, fmt.Sprintf("log_level=%s", s.opts.LogLevel))
	}
	return strings.Join(args, " ")
}
