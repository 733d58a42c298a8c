package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// Incoming device message types (device -> client).
const (
	DeviceMsgClipboard    uint8 = 0
	DeviceMsgAckClipboard uint8 = 1
	DeviceMsgUHIDOutput   uint8 = 2
)

// Clipboard text larger than this is rejected as malformed rather than
// allocated blindly.
const maxClipboardSize = 256 * 1024

// DeviceMsg is one message parsed off the control socket.
type DeviceMsg struct {
	Type uint8

	// DeviceMsgClipboard
	Text string

	// DeviceMsgAckClipboard
	Sequence uint64

	// DeviceMsgUHIDOutput
	UHIDID   uint16
	UHIDData []byte
}

// ReadDeviceMsg parses one device message.
func ReadDeviceMsg(r io.Reader) (DeviceMsg, error) {
	var t [1]byte
	if _, err := io.ReadFull(r, t[:]); err != nil {
		return DeviceMsg{}, err
	}
	msg := DeviceMsg{Type: t[0]}

	switch msg.Type {
	case DeviceMsgClipboard:
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return DeviceMsg{}, err
		}
		length := binary.BigEndian.Uint32(lenBuf[:])
		if length > maxClipboardSize {
			return DeviceMsg{}, fmt.Errorf("clipboard message too large: %d bytes", length)
		}
		text := make([]byte, length)
		if _, err := io.ReadFull(r, text); err != nil {
			return DeviceMsg{}, err
		}
		msg.Text = string(text)

	case DeviceMsgAckClipboard:
		var seqBuf [8]byte
		if _, err := io.ReadFull(r, seqBuf[:]); err != nil {
			return DeviceMsg{}, err
		}
		msg.Sequence = binary.BigEndian.Uint64(seqBuf[:])

	case DeviceMsgUHIDOutput:
		var head [4]byte
		if _, err := io.ReadFull(r, head[:]); err != nil {
			return DeviceMsg{}, err
		}
		msg.UHIDID = binary.BigEndian.Uint16(head[0:2])
		size := binary.BigEndian.Uint16(head[2:4])
		msg.UHIDData = make([]byte, size)
		if _, err := io.ReadFull(r, msg.UHIDData); err != nil {
			return DeviceMsg{}, err
		}

	default:
		return DeviceMsg{}, fmt.Errorf("unknown device message type %d", msg.Type)
	}

	return msg, nil
}

// GenerateSCID returns a 31-bit random session id. Only 31 bits so the
// Java-side parse never sees a negative value.
func GenerateSCID() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand only fails on a broken platform; fall back to a
		// constant rather than crashing session setup.
		return 0x5c1d
	}
	return binary.BigEndian.Uint32(buf[:]) & 0x7FFFFFFF
}
