package aarch64

import "math/bits"

// decodeBitMasks implements the ARMv8 DecodeBitMasks pseudocode used by the
// AND/ORR/EOR immediate family (see spec §4.A). N, imms, and immr are the
// raw encoded fields. The reserved all-ones element encoding is always
// rejected: that restriction applies to every logical immediate form we
// decode (MOV bitmask immediate is an alias of ORR immediate and shares it).
//
// Returns the replicated wmask (the value actually used in the instruction)
// and ok=false for the reserved encodings the ARM ARM calls out.
func decodeBitMasks(n, imms, immr uint8, width int) (wmask uint64, ok bool) {
	// len = highest set bit of (N:NOT(imms)), i.e. FindLast((N<<6)|~imms) - 1.
	combined := (uint16(n) << 6) | uint16(^imms&0x3f)
	length := bits.Len16(combined) - 1
	if length < 1 {
		return 0, false
	}
	esize := 1 << uint(length)
	levels := uint8(esize - 1)
	s := imms & levels
	r := immr & levels
	if s == levels {
		// Reserved: all-ones welem pattern.
		return 0, false
	}
	welem := (uint64(1) << (uint(s) + 1)) - 1
	// ROR welem right by r within esize bits, then replicate to width.
	rotated := ror(welem, uint(esize), uint(r))
	return replicate(rotated, esize, width), true
}

// ror rotates the low `size` bits of x right by `amount` bits.
func ror(x uint64, size uint, amount uint) uint64 {
	amount %= size
	mask := (uint64(1) << size) - 1
	x &= mask
	if amount == 0 {
		return x
	}
	return ((x >> amount) | (x << (size - amount))) & mask
}

// replicate tiles an esize-bit pattern across `width` bits.
func replicate(pattern uint64, esize int, width int) uint64 {
	result := pattern
	for filled := esize; filled < width; filled *= 2 {
		result |= result << uint(filled)
	}
	if width < 64 {
		result &= (uint64(1) << uint(width)) - 1
	}
	return result
}
