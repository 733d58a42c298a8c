package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// SPSInfo holds the dimensions decoded from an H.264 sequence parameter set.
type SPSInfo struct {
	Width  uint32
	Height uint32
}

var errNoSPS = errors.New("no SPS NAL unit found")

// ParseVideoSize scans a config packet payload for an SPS NAL unit and
// returns the coded dimensions. The device resends a config packet whenever
// the encoder restarts with a new size, so this is how mid-stream rotation
// is detected.
func ParseVideoSize(payload []byte) (SPSInfo, error) {
	sps := findSPS(payload)
	if sps == nil {
		return SPSInfo{}, errNoSPS
	}
	return parseSPS(removeEmulationPrevention(sps))
}

// findSPS locates the first NAL unit of type 7 behind an Annex B start code.
func findSPS(data []byte) []byte {
	for i := 0; i+4 < len(data); i++ {
		var start int
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			start = i + 3
		} else if i+5 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			start = i + 4
		} else {
			continue
		}
		if data[start]&0x1f != 7 {
			i = start - 1
			continue
		}
		// SPS runs until the next start code or end of payload.
		end := len(data)
		for j := start + 1; j+3 < len(data); j++ {
			if data[j] == 0 && data[j+1] == 0 && (data[j+2] == 1 || (j+4 < len(data) && data[j+2] == 0 && data[j+3] == 1)) {
				end = j
				break
			}
		}
		return data[start:end]
	}
	return nil
}

// removeEmulationPrevention strips the 0x03 bytes inserted after 00 00 in the
// raw bitstream.
func removeEmulationPrevention(data []byte) []byte {
	if !bytes.Contains(data, []byte{0, 0, 3}) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 {
			out = append(out, 0, 0)
			i += 3
		} else {
			out = append(out, data[i])
			i++
		}
	}
	return out
}

func parseSPS(sps []byte) (SPSInfo, error) {
	if len(sps) < 4 {
		return SPSInfo{}, fmt.Errorf("SPS too short: %d bytes", len(sps))
	}
	br := &bitReader{r: bytes.NewReader(sps[1:])} // skip the NAL header byte

	profileIDC, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	br.skipBits(8) // constraint flags
	br.skipBits(8) // level_idc
	if _, err := br.readExpGolomb(); err != nil {
		return SPSInfo{}, err // seq_parameter_set_id
	}

	switch profileIDC {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128:
		chroma, err := br.readExpGolomb()
		if err != nil {
			return SPSInfo{}, err
		}
		if chroma == 3 {
			br.skipBits(1) // separate_colour_plane_flag
		}
		br.readExpGolomb() // bit_depth_luma_minus8
		br.readExpGolomb() // bit_depth_chroma_minus8
		br.skipBits(1)     // qpprime_y_zero_transform_bypass_flag
		scaling, _ := br.readBits(1)
		if scaling == 1 {
			for i := 0; i < 8; i++ {
				present, _ := br.readBits(1)
				if present == 1 {
					skipScalingList(br, pick(i < 6, 16, 64))
				}
			}
		}
	}

	br.readExpGolomb() // log2_max_frame_num_minus4
	pocType, err := br.readExpGolomb()
	if err != nil {
		return SPSInfo{}, err
	}
	if pocType == 0 {
		br.readExpGolomb() // log2_max_pic_order_cnt_lsb_minus4
	} else if pocType == 1 {
		br.skipBits(1)           // delta_pic_order_always_zero_flag
		br.readSignedExpGolomb() // offset_for_non_ref_pic
		br.readSignedExpGolomb() // offset_for_top_to_bottom_field
		n, _ := br.readExpGolomb()
		for i := uint32(0); i < n; i++ {
			br.readSignedExpGolomb()
		}
	}

	br.readExpGolomb() // max_num_ref_frames
	br.skipBits(1)     // gaps_in_frame_num_value_allowed_flag

	widthMBs, err := br.readExpGolomb()
	if err != nil {
		return SPSInfo{}, err
	}
	heightMapUnits, err := br.readExpGolomb()
	if err != nil {
		return SPSInfo{}, err
	}
	info := SPSInfo{
		Width:  (widthMBs + 1) * 16,
		Height: (heightMapUnits + 1) * 16,
	}

	frameMbsOnly, err := br.readBits(1)
	if err != nil {
		return SPSInfo{}, err
	}
	if frameMbsOnly == 0 {
		info.Height *= 2
		br.skipBits(1) // mb_adaptive_frame_field_flag
	}
	br.skipBits(1) // direct_8x8_inference_flag

	cropping, err := br.readBits(1)
	if err != nil {
		return info, nil
	}
	if cropping == 1 {
		left, _ := br.readExpGolomb()
		right, _ := br.readExpGolomb()
		top, _ := br.readExpGolomb()
		bottom, _ := br.readExpGolomb()
		// Assume 4:2:0 chroma, the only format Android encoders emit.
		info.Width -= (left + right) * 2
		crop := (top + bottom) * 2
		if frameMbsOnly == 0 {
			crop *= 2
		}
		info.Height -= crop
	}

	return info, nil
}

func skipScalingList(br *bitReader, size int) {
	lastScale, nextScale := 8, 8
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			delta, err := br.readSignedExpGolomb()
			if err != nil {
				return
			}
			nextScale = (lastScale + int(delta) + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
}

func pick(cond bool, a, b int) int {
	if cond {
		return a
	}
	return b
}

type bitReader struct {
	r      *bytes.Reader
	buffer byte
	bits   uint
}

func (br *bitReader) readBit() (uint8, error) {
	if br.bits == 0 {
		b, err := br.r.ReadByte()
		if err != nil {
			return 0, io.ErrUnexpectedEOF
		}
		br.buffer = b
		br.bits = 8
	}
	bit := (br.buffer >> 7) & 1
	br.buffer <<= 1
	br.bits--
	return bit, nil
}

func (br *bitReader) skipBits(n int) {
	for i := 0; i < n; i++ {
		if _, err := br.readBit(); err != nil {
			return
		}
	}
}

func (br *bitReader) readBits(n uint) (uint32, error) {
	var v uint32
	for i := uint(0); i < n; i++ {
		bit, err := br.readBit()
		if err != nil {
			return 0, err
		}
		v = v<<1 | uint32(bit)
	}
	return v, nil
}

func (br *bitReader) readExpGolomb() (uint32, error) {
	zeros := 0
	for {
		bit, err := br.readBit()
		if err != nil {
			return 0, err
		}
		if bit == 1 {
			break
		}
		zeros++
		if zeros > 31 {
			return 0, fmt.Errorf("malformed exp-golomb code")
		}
	}
	v := uint32(1) << zeros
	for i := zeros - 1; i >= 0; i-- {
		bit, err := br.readBit()
		if err != nil {
			return 0, err
		}
		if bit == 1 {
			v |= 1 << uint(i)
		}
	}
	return v - 1, nil
}

func (br *bitReader) readSignedExpGolomb() (int32, error) {
	v, err := br.readExpGolomb()
	if err != nil {
		return 0, err
	}
	if v%2 == 0 {
		return -int32(v / 2), nil
	}
	return int32((v + 1) / 2), nil
}
