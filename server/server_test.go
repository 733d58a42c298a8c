package server

import (
	"net"
	"strings"
	"testing"
)

func TestServerCommandLine(t *testing.T) {
	s := New(Options{
		SCID:         0x1a2b3c4d,
		Video:        true,
		Audio:        true,
		Control:      true,
		VideoCodec:   "h264",
		AudioCodec:   "opus",
		MaxSize:      1920,
		MaxFPS:       60,
		VideoBitRate: 8000000,
	}, Callbacks{})

	cmd := s.serverCommand()
	if !strings.HasPrefix(cmd, "CLASSPATH="+serverRemotePath+" app_process / com.genymobile.scrcpy.Server "+serverVersion) {
		t.Fatalf("launch prefix: %s", cmd)
	}
	for _, want := range []string{
		"scid=1a2b3c4d",
		"video=true",
		"audio=true",
		"control=true",
		"video_codec=h264",
		"audio_codec=opus",
		"max_size=1920",
		"max_fps=60",
		"video_bit_rate=8000000",
	} {
		if !strings.Contains(cmd, want) {
			t.Errorf("missing %q in %s", want, cmd)
		}
	}
}

func TestServerCommandOmitsUnsetValues(t *testing.T) {
	s := New(Options{SCID: 1, Video: true}, Callbacks{})
	cmd := s.serverCommand()
	for _, unwanted := range []string{"max_size", "max_fps", "video_bit_rate", "log_level"} {
		if strings.Contains(cmd, unwanted) {
			t.Errorf("unexpected %q in %s", unwanted, cmd)
		}
	}
}

func TestAcceptAllAssignsSocketsInOrder(t *testing.T) {
	s := New(Options{Video: true, Audio: true, Control: true}, Callbacks{})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	go func() {
		addr := listener.Addr().String()
		var device []net.Conn
		for i := 0; i < 3; i++ {
			c, err := net.Dial("tcp", addr)
			if err != nil {
				t.Errorf("dial %d: %v", i, err)
				return
			}
			device = append(device, c)
			if i == 0 {
				name := make([]byte, 64)
				copy(name, "Pixel 8")
				if _, err := c.Write(name); err != nil {
					t.Errorf("write device name: %v", err)
					return
				}
			}
		}
	}()

	conn, err := s.acceptAll(listener)
	if err != nil {
		t.Fatalf("acceptAll: %v", err)
	}
	defer func() {
		conn.VideoConn.Close()
		conn.AudioConn.Close()
		conn.ControlConn.Close()
	}()

	if conn.DeviceName != "Pixel 8" {
		t.Fatalf("device name: %q", conn.DeviceName)
	}
	if conn.VideoConn == nil || conn.AudioConn == nil || conn.ControlConn == nil {
		t.Fatal("missing socket assignment")
	}
}

func TestAcceptAllVideoOnly(t *testing.T) {
	s := New(Options{Video: true}, Callbacks{})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	go func() {
		c, err := net.Dial("tcp", listener.Addr().String())
		if err != nil {
			t.Errorf("dial: %v", err)
			return
		}
		name := make([]byte, 64)
		copy(name, "emulator-5554")
		c.Write(name)
	}()

	conn, err := s.acceptAll(listener)
	if err != nil {
		t.Fatalf("acceptAll: %v", err)
	}
	defer conn.VideoConn.Close()

	if conn.AudioConn != nil || conn.ControlConn != nil {
		t.Fatal("disabled sockets were assigned")
	}
}
