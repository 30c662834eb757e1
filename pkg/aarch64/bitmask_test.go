package aarch64

import "testing"

// referenceDecodeBitMasks is an independent reimplementation of the ARMv8
// DecodeBitMasks pseudocode (original_source/src/aarch64/disasm.c's
// decode_bit_masks), built without sharing any of bitmask.go's ror/replicate
// helpers, so TestDecodeBitMasksMatchesReferenceExhaustively (spec §8.2)
// actually cross-checks the bit-twiddling rather than re-deriving it.
func referenceDecodeBitMasks(n, imms, immr uint8, width int) (uint64, bool) {
	combined := (uint16(n) << 6) | (uint16(imms) ^ 0x3f)
	length := -1
	for bit := 6; bit >= 0; bit-- {
		if combined&(1<<uint(bit)) != 0 {
			length = bit
			break
		}
	}
	if length < 1 {
		return 0, false
	}
	esize := 1 << uint(length)
	levels := uint8(esize - 1)
	s := imms & levels
	if s == levels {
		return 0, false
	}
	r := immr & levels

	// Build an esize-bit element with its low S+1 bits set, one bit at a
	// time rather than via a shift-and-subtract closed form.
	var welem uint64
	for i := uint8(0); i <= s; i++ {
		welem |= uint64(1) << uint(i)
	}

	// Rotate welem right by r within esize bits, one position at a time.
	rotated := welem
	for i := uint8(0); i < r; i++ {
		low := rotated & 1
		rotated >>= 1
		if low != 0 {
			rotated |= uint64(1) << uint(esize-1)
		}
	}

	// Tile the esize-bit rotated pattern up to width bits, one copy at a
	// time.
	var result uint64
	for filled := 0; filled < width; filled += esize {
		result |= rotated << uint(filled)
	}
	if width < 64 {
		result &= (uint64(1) << uint(width)) - 1
	}
	return result, true
}

// TestDecodeBitMasksMatchesReferenceExhaustively walks every (N, imms, immr)
// combination the AND/ORR/ANDS immediate family can encode, at both the
// 32-bit and 64-bit widths decodeLogicalImm actually uses, per spec §8.2.
func TestDecodeBitMasksMatchesReferenceExhaustively(t *testing.T) {
	widths := []struct {
		width int
		ns    []uint8
	}{
		{32, []uint8{0}},    // sf=0 requires N=0 (decodeLogicalImm rejects N=1 at width 32)
		{64, []uint8{0, 1}},
	}
	for _, w := range widths {
		for _, n := range w.ns {
			for imms := 0; imms <= 0x3f; imms++ {
				for immr := 0; immr <= 0x3f; immr++ {
					got, gotOK := decodeBitMasks(n, uint8(imms), uint8(immr), w.width)
					want, wantOK := referenceDecodeBitMasks(n, uint8(imms), uint8(immr), w.width)
					if gotOK != wantOK {
						t.Fatalf("width=%d n=%d imms=%#x immr=%#x: ok=%v want ok=%v",
							w.width, n, imms, immr, gotOK, wantOK)
					}
					if gotOK && got != want {
						t.Fatalf("width=%d n=%d imms=%#x immr=%#x: got=%#x want=%#x",
							w.width, n, imms, immr, got, want)
					}
				}
			}
		}
	}
}

func TestDecodeBitMasksRejectsAllOnesWelem(t *testing.T) {
	// N=1, imms=0x3f: esize=64, levels=63, so imms&levels==levels — the
	// reserved "all ones" element pattern.
	if _, ok := decodeBitMasks(1, 0x3f, 0, 64); ok {
		t.Fatalf("expected the all-ones welem encoding to be reserved")
	}
}

func TestDecodeBitMasksRejectsZeroLength(t *testing.T) {
	// N=0, imms=0x3f makes (N<<6)|^imms == 0, which has no set bit at all.
	if _, ok := decodeBitMasks(0, 0x3f, 0x3f, 64); ok {
		t.Fatalf("expected a zero-length encoding to be rejected")
	}
}
