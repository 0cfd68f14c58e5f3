package mkv

import (
	"encoding/binary"
	"fmt"

	kvserrors "github.com/alxayo/kvs-producer/internal/errors"
	"github.com/alxayo/kvs-producer/internal/nalu"
)

// H264CodecPrivateHeaderSize is the fixed byte length of the AVCC
// decoder-configuration-record prefix before SPS/PPS length-prefixed
// payloads.
const H264CodecPrivateHeaderSize = 11

// GenerateH264CodecPrivateFromSpsPps builds the AVCC decoder
// configuration record from separate SPS and PPS buffers:
// 01 | SPS[1] | SPS[2] | SPS[3] | FF | E1 | SPS_len(BE16) | SPS | 01 | PPS_len(BE16) | PPS.
func GenerateH264CodecPrivateFromSpsPps(sps, pps []byte) ([]byte, error) {
	if len(sps) < 4 {
		return nil, kvserrors.NewArgumentError("mkv.generateH264CodecPrivate", fmt.Errorf("sps too short"))
	}
	if sps[0]&0x1F != nalu.NALTypeSPS {
		return nil, kvserrors.NewArgumentError("mkv.generateH264CodecPrivate", fmt.Errorf("not an SPS NAL unit"))
	}

	buf := make([]byte, H264CodecPrivateHeaderSize+len(sps)+len(pps))
	buf[0] = 0x01
	buf[1] = sps[1]
	buf[2] = sps[2]
	buf[3] = sps[3]
	buf[4] = 0xFF
	buf[5] = 0xE1
	binary.BigEndian.PutUint16(buf[6:8], uint16(len(sps)))
	off := 8
	off += copy(buf[off:], sps)
	buf[off] = 0x01
	off++
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(pps)))
	off += 2
	copy(buf[off:], pps)
	return buf, nil
}

// GenerateH264CodecPrivateFromAvcc extracts SPS and PPS from an AVCC
// frame whose first cluster of NAL units contains both.
func GenerateH264CodecPrivateFromAvcc(avcc []byte) ([]byte, error) {
	sps, err := nalu.FindNaluInAVCC(avcc, nalu.NALTypeSPS)
	if err != nil {
		return nil, err
	}
	pps, err := nalu.FindNaluInAVCC(avcc, nalu.NALTypePPS)
	if err != nil {
		return nil, err
	}
	return GenerateH264CodecPrivateFromSpsPps(sps, pps)
}

// GenerateH264CodecPrivateFromAnnexB extracts SPS and PPS from an
// Annex-B-framed input.
func GenerateH264CodecPrivateFromAnnexB(annexB []byte) ([]byte, error) {
	sps, err := nalu.FindNaluInAnnexB(annexB, nalu.NALTypeSPS)
	if err != nil {
		return nil, err
	}
	pps, err := nalu.FindNaluInAnnexB(annexB, nalu.NALTypePPS)
	if err != nil {
		return nil, err
	}
	return GenerateH264CodecPrivateFromSpsPps(sps, pps)
}

// mkvAACSamplingFrequencies is the fixed AAC sampling-frequency table;
// its index is the AudioSpecificConfig sampling_freq_index field.
var mkvAACSamplingFrequencies = [...]uint32{
	96000, 88200, 64000, 48000, 44100, 32000, 24000,
	22050, 16000, 12000, 11025, 8000, 7350,
}

// GenerateAACCodecPrivate builds a 2-byte AAC AudioSpecificConfig:
// (object_type<<11) | (sampling_freq_index<<7) | (channels<<3).
func GenerateAACCodecPrivate(objectType uint8, frequencyHz uint32, channels uint8) ([]byte, error) {
	idx := -1
	for i, f := range mkvAACSamplingFrequencies {
		if f == frequencyHz {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, kvserrors.NewParseError("mkv.generateAacCodecPrivate",
			fmt.Errorf("invalid audio frequency %d Hz: not in AAC sampling-frequency table", frequencyHz))
	}
	v := (uint16(objectType) << 11) | (uint16(idx) << 7) | (uint16(channels) << 3)
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, v)
	return buf, nil
}

// pcmMinSampleRate/pcmMaxSampleRate bound valid PCM sample rates.
const (
	pcmMinSampleRate = 8000
	pcmMaxSampleRate = 192000
)

// GeneratePCMCodecPrivate builds an 18-byte little-endian WAVEFORMATEX
// record for a raw PCM / G.711-class audio track.
func GeneratePCMCodecPrivate(formatCode uint16, channels uint16, sampleRate uint32) ([]byte, error) {
	if channels != 1 && channels != 2 {
		return nil, kvserrors.NewArgumentError("mkv.generatePcmCodecPrivate",
			fmt.Errorf("pcm channels must be 1 or 2, got %d", channels))
	}
	if sampleRate < pcmMinSampleRate || sampleRate > pcmMaxSampleRate {
		return nil, kvserrors.NewArgumentError("mkv.generatePcmCodecPrivate",
			fmt.Errorf("pcm sample rate %d Hz out of range [%d, %d]", sampleRate, pcmMinSampleRate, pcmMaxSampleRate))
	}

	bitsPerSample := channels * 8
	avgBytesPerSec := uint32(channels) * sampleRate

	buf := make([]byte, 18)
	binary.LittleEndian.PutUint16(buf[0:2], formatCode)
	binary.LittleEndian.PutUint16(buf[2:4], channels)
	binary.LittleEndian.PutUint32(buf[4:8], sampleRate)
	binary.LittleEndian.PutUint32(buf[8:12], avgBytesPerSec)
	binary.LittleEndian.PutUint16(buf[12:14], 0) // block_align
	binary.LittleEndian.PutUint16(buf[14:16], bitsPerSample)
	binary.LittleEndian.PutUint16(buf[16:18], 0) // extra_size
	return buf, nil
}
