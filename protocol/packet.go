// Package protocol implements the wire formats spoken with the on-device
// companion server: packet stream headers, codec identifiers, device
// metadata, outgoing control messages and incoming device messages.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"mirrorcast/pipeline"
)

const (
	PacketHeaderSize = 12
	DeviceNameSize   = 64
)

// Flags packed into the high bits of the 8-byte PTS field.
const (
	packetFlagConfig   = uint64(1) << 63
	packetFlagKeyFrame = uint64(1) << 62
	packetPTSMask      = packetFlagKeyFrame - 1
)

// Codec identifiers, 4 ASCII bytes on the wire. A zero id means the device
// intentionally disabled the stream.
const (
	CodecIDH264     = uint32(0x68323634) // "h264"
	CodecIDH265     = uint32(0x68323635) // "h265"
	CodecIDAV1      = uint32(0x00617631) // "av1"
	CodecIDOpus     = uint32(0x6f707573) // "opus"
	CodecIDAAC      = uint32(0x00616163) // "aac"
	CodecIDFLAC     = uint32(0x666c6163) // "flac"
	CodecIDRaw      = uint32(0x00726177) // "raw"
	CodecIDDisabled = uint32(0)
)

// CodecName maps a wire codec id to its short name.
func CodecName(id uint32) string {
	switch id {
	case CodecIDH264:
		return "h264"
	case CodecIDH265:
		return "h265"
	case CodecIDAV1:
		return "av1"
	case CodecIDOpus:
		return "opus"
	case CodecIDAAC:
		return "aac"
	case CodecIDFLAC:
		return "flac"
	case CodecIDRaw:
		return "raw"
	}
	return fmt.Sprintf("unknown(%#x)", id)
}

// ReadCodecID reads the 4-byte codec id sent at the head of a media socket.
func ReadCodecID(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// ReadVideoSize reads the 4+4 byte initial video dimensions that follow the
// codec id on the video socket.
func ReadVideoSize(r io.Reader) (width, height uint32, err error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, 0, err
	}
	return binary.BigEndian.Uint32(buf[0:4]), binary.BigEndian.Uint32(buf[4:8]), nil
}

// ReadDeviceName reads the 64-byte NUL-padded device name block.
func ReadDeviceName(r io.Reader) (string, error) {
	buf := make([]byte, DeviceNameSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), nil
		}
	}
	return string(buf), nil
}

// ReadPacket reads one framed media packet: an 8-byte PTS+flags word, a
// 4-byte payload size, then the payload.
func ReadPacket(r io.Reader) (pipeline.Packet, error) {
	var header [PacketHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return pipeline.Packet{}, err
	}
	ptsAndFlags := binary.BigEndian.Uint64(header[0:8])
	size := binary.BigEndian.Uint32(header[8:12])

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		// A short payload after a complete header is a protocol error,
		// not a clean end of stream.
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return pipeline.Packet{}, err
	}

	return pipeline.Packet{
		Data:       data,
		PTS:        time.Duration(ptsAndFlags&packetPTSMask) * time.Microsecond,
		IsConfig:   ptsAndFlags&packetFlagConfig != 0,
		IsKeyFrame: ptsAndFlags&packetFlagKeyFrame != 0,
	}, nil
}

// WritePacket frames a packet the way the device does. Used by tests and by
// the fake transports they build.
func WritePacket(w io.Writer, p pipeline.Packet) error {
	var header [PacketHeaderSize]byte
	ptsAndFlags := uint64(p.PTS/time.Microsecond) & packetPTSMask
	if p.IsConfig {
		ptsAndFlags |= packetFlagConfig
	}
	if p.IsKeyFrame {
		ptsAndFlags |= packetFlagKeyFrame
	}
	binary.BigEndian.PutUint64(header[0:8], ptsAndFlags)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(p.Data)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(p.Data)
	return err
}
