package record

import (
	"encoding/binary"
	"fmt"
)

// The device emits Annex B bitstreams; FLV wants length-prefixed NAL units
// and an AVCDecoderConfigurationRecord built from the SPS/PPS config packet.

func splitNALUs(data []byte) [][]byte {
	var nalus [][]byte
	start := -1
	i := 0
	for i+2 < len(data) {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			if start >= 0 {
				end := i
				if end > start && data[end-1] == 0 {
					end-- // 4-byte start code
				}
				nalus = append(nalus, data[start:end])
			}
			start = i + 3
			i += 3
			continue
		}
		i++
	}
	if start >= 0 && start < len(data) {
		nalus = append(nalus, data[start:])
	}
	return nalus
}

func buildAVCConfig(configPacket []byte) ([]byte, error) {
	var sps, pps []byte
	for _, nalu := range splitNALUs(configPacket) {
		if len(nalu) == 0 {
			continue
		}
		switch nalu[0] & 0x1f {
		case 7:
			sps = nalu
		case 8:
			pps = nalu
		}
	}
	if sps == nil || pps == nil {
		return nil, fmt.Errorf("config packet missing SPS or PPS")
	}
	if len(sps) < 4 {
		return nil, fmt.Errorf("SPS too short")
	}

	record := make([]byte, 0, 11+len(sps)+len(pps))
	record = append(record,
		1,      // configurationVersion
		sps[1], // AVCProfileIndication
		sps[2], // profile_compatibility
		sps[3], // AVCLevelIndication
		0xff,   // lengthSizeMinusOne = 3
		0xe1,   // one SPS
	)
	record = binary.BigEndian.AppendUint16(record, uint16(len(sps)))
	record = append(record, sps...)
	record = append(record, 1) // one PPS
	record = binary.BigEndian.AppendUint16(record, uint16(len(pps)))
	record = append(record, pps...)
	return record, nil
}

func annexBToAVCC(data []byte) []byte {
	nalus := splitNALUs(data)
	if len(nalus) == 0 {
		return data
	}
	size := 0
	for _, nalu := range nalus {
		size += 4 + len(nalu)
	}
	out := make([]byte, 0, size)
	for _, nalu := range nalus {
		out = binary.BigEndian.AppendUint32(out, uint32(len(nalu)))
		out = append(out, nalu...)
	}
	return out
}
