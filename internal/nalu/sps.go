package nalu

import (
	"fmt"

	kvserrors "github.com/alxayo/kvs-producer/internal/errors"
)

// NAL unit type values (low 5 bits of the first payload byte) this
// producer cares about.
const (
	NALTypeIFrame = 5 // coded slice of an IDR picture
	NALTypeSPS    = 7
	NALTypePPS    = 8
)

// highProfileChromaIDCs lists profile_idc values whose SPS carries the
// additional chroma/bit-depth/scaling-matrix block before
// log2_max_frame_num_minus4 (H.264 §7.3.2.1.1).
var highProfileChromaIDCs = map[uint]bool{
	100: true, 110: true, 122: true, 244: true, 44: true,
	83: true, 86: true, 118: true, 128: true, 138: true,
	139: true, 134: true, 135: true,
}

// Resolution is the decoded picture width/height in pixels.
type Resolution struct {
	Width  uint16
	Height uint16
}

// H264ResolutionFromSPS decodes an SPS NAL unit (Annex-B/AVCC payload,
// start-code/length-prefix already stripped, emulation-prevention bytes
// still present) far enough to compute the picture dimensions, per H.264
// §7.4.2.1.1. Validity precondition: sps[0]&0x1F == NALTypeSPS.
func H264ResolutionFromSPS(sps []byte) (Resolution, error) {
	if len(sps) == 0 || sps[0]&0x1F != NALTypeSPS {
		return Resolution{}, kvserrors.NewParseError("nalu.h264ResolutionFromSPS",
			fmt.Errorf("not an SPS NAL unit"))
	}

	clean := removeEmulationPrevention(sps)
	r := newBitReader(clean)

	// nal_unit_header: forbidden_zero_bit(1) nal_ref_idc(2) nal_unit_type(5)
	if _, err := r.readBits(8); err != nil {
		return Resolution{}, wrapSPSErr(err)
	}

	profileIdc, err := r.readBits(8)
	if err != nil {
		return Resolution{}, wrapSPSErr(err)
	}
	// constraint_set0_flag .. constraint_set5_flag, reserved_zero_2bits
	if _, err := r.readBits(8); err != nil {
		return Resolution{}, wrapSPSErr(err)
	}
	// level_idc
	if _, err := r.readBits(8); err != nil {
		return Resolution{}, wrapSPSErr(err)
	}
	// seq_parameter_set_id
	if _, err := r.readUE(); err != nil {
		return Resolution{}, wrapSPSErr(err)
	}

	chromaFormatIdc := uint(1)
	if highProfileChromaIDCs[profileIdc] {
		chromaFormatIdc, err = r.readUE()
		if err != nil {
			return Resolution{}, wrapSPSErr(err)
		}
		if chromaFormatIdc == 3 {
			if _, err := r.readBit(); err != nil { // separate_colour_plane_flag
				return Resolution{}, wrapSPSErr(err)
			}
		}
		if _, err := r.readUE(); err != nil { // bit_depth_luma_minus8
			return Resolution{}, wrapSPSErr(err)
		}
		if _, err := r.readUE(); err != nil { // bit_depth_chroma_minus8
			return Resolution{}, wrapSPSErr(err)
		}
		if _, err := r.readBit(); err != nil { // qpprime_y_zero_transform_bypass_flag
			return Resolution{}, wrapSPSErr(err)
		}
		seqScalingMatrixPresent, err := r.readBit()
		if err != nil {
			return Resolution{}, wrapSPSErr(err)
		}
		if seqScalingMatrixPresent != 0 {
			count := 8
			if chromaFormatIdc == 3 {
				count = 12
			}
			if err := skipScalingLists(r, count); err != nil {
				return Resolution{}, wrapSPSErr(err)
			}
		}
	}

	// log2_max_frame_num_minus4
	if _, err := r.readUE(); err != nil {
		return Resolution{}, wrapSPSErr(err)
	}

	picOrderCntType, err := r.readUE()
	if err != nil {
		return Resolution{}, wrapSPSErr(err)
	}
	switch picOrderCntType {
	case 0:
		if _, err := r.readUE(); err != nil { // log2_max_pic_order_cnt_lsb_minus4
			return Resolution{}, wrapSPSErr(err)
		}
	case 1:
		if _, err := r.readBit(); err != nil { // delta_pic_order_always_zero_flag
			return Resolution{}, wrapSPSErr(err)
		}
		if _, err := r.readSE(); err != nil { // offset_for_non_ref_pic
			return Resolution{}, wrapSPSErr(err)
		}
		if _, err := r.readSE(); err != nil { // offset_for_top_to_bottom_field
			return Resolution{}, wrapSPSErr(err)
		}
		numRefFrames, err := r.readUE()
		if err != nil {
			return Resolution{}, wrapSPSErr(err)
		}
		for i := uint(0); i < numRefFrames; i++ {
			if _, err := r.readSE(); err != nil { // offset_for_ref_frame[i]
				return Resolution{}, wrapSPSErr(err)
			}
		}
	}

	if _, err := r.readUE(); err != nil { // max_num_ref_frames
		return Resolution{}, wrapSPSErr(err)
	}
	if _, err := r.readBit(); err != nil { // gaps_in_frame_num_value_allowed_flag
		return Resolution{}, wrapSPSErr(err)
	}

	picWidthInMbsMinus1, err := r.readUE()
	if err != nil {
		return Resolution{}, wrapSPSErr(err)
	}
	picHeightInMapUnitsMinus1, err := r.readUE()
	if err != nil {
		return Resolution{}, wrapSPSErr(err)
	}
	frameMbsOnlyFlag, err := r.readBit()
	if err != nil {
		return Resolution{}, wrapSPSErr(err)
	}
	if frameMbsOnlyFlag == 0 {
		if _, err := r.readBit(); err != nil { // mb_adaptive_frame_field_flag
			return Resolution{}, wrapSPSErr(err)
		}
	}
	if _, err := r.readBit(); err != nil { // direct_8x8_inference_flag
		return Resolution{}, wrapSPSErr(err)
	}

	var cropLeft, cropRight, cropTop, cropBottom uint
	frameCroppingFlag, err := r.readBit()
	if err != nil {
		return Resolution{}, wrapSPSErr(err)
	}
	if frameCroppingFlag != 0 {
		if cropLeft, err = r.readUE(); err != nil {
			return Resolution{}, wrapSPSErr(err)
		}
		if cropRight, err = r.readUE(); err != nil {
			return Resolution{}, wrapSPSErr(err)
		}
		if cropTop, err = r.readUE(); err != nil {
			return Resolution{}, wrapSPSErr(err)
		}
		if cropBottom, err = r.readUE(); err != nil {
			return Resolution{}, wrapSPSErr(err)
		}
	}

	width := (picWidthInMbsMinus1+1)*16 - cropLeft*2 - cropRight*2
	height := (2-frameMbsOnlyFlag)*(picHeightInMapUnitsMinus1+1)*16 - cropTop*2 - cropBottom*2

	return Resolution{Width: uint16(width), Height: uint16(height)}, nil
}

// skipScalingLists consumes count scaling lists without retaining them —
// H264ResolutionFromSPS only needs to reach frame_crop_*_offset.
func skipScalingLists(r *bitReader, count int) error {
	for i := 0; i < count; i++ {
		present, err := r.readBit()
		if err != nil {
			return err
		}
		if present == 0 {
			continue
		}
		size := 16
		if i >= 6 {
			size = 64
		}
		lastScale, nextScale := 8, 8
		for j := 0; j < size; j++ {
			if nextScale != 0 {
				delta, err := r.readSE()
				if err != nil {
					return err
				}
				nextScale = (lastScale + delta + 256) % 256
			}
			if nextScale != 0 {
				lastScale = nextScale
			}
		}
	}
	return nil
}

func wrapSPSErr(err error) error {
	return kvserrors.NewParseError("nalu.h264ResolutionFromSPS", err)
}
