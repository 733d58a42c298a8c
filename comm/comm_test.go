package comm

import (
	"bytes"
	"io"
	"net"
	"testing"
)

func TestBufferedConnReadsAcrossWrites(t *testing.T) {
	client, device := net.Pipe()
	bc := NewBufferedConn(client, 64)

	go func() {
		device.Write([]byte{0x01, 0x02})
		device.Write([]byte{0x03, 0x04})
		device.Close()
	}()

	got, err := io.ReadAll(bc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Fatalf("read %v", got)
	}
}

func TestBufferedConnWriteBypassesBuffer(t *testing.T) {
	client, device := net.Pipe()
	bc := NewBufferedConn(client, 64)

	go bc.Write([]byte{0xaa})

	buf := make([]byte, 1)
	if _, err := io.ReadFull(device, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if buf[0] != 0xaa {
		t.Fatalf("read %#x", buf[0])
	}
	bc.Close()
	device.Close()
}
