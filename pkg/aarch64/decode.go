package aarch64

// Each decode function below mirrors one family from
// original_source/include/memctl/aarch64/disasm.h: a (mask, bits) class
// check, followed by bitfield extraction and normalization (register
// widths, sign extension, PC-relative target computation). Family masks and
// bit patterns are taken directly from that header.

const (
	nopMask, nopBits = 0xffffffff, 0xd503201f

	adcMask, adcBits = 0x1fe0fc00, 0x1a000000

	addImMask, addImBits = 0x1f000000, 0x11000000
	subImBits             = 0x51000000

	addSRMask, addSRBits = 0x1f200000, 0x0b000000
	subSRBits              = 0x4b000000

	addXRMask, addXRBits = 0x1fe00000, 0x0b200000
	subXRBits              = 0x4b200000

	andImMask, andImBits = 0x5f800000, 0x12000000
	orrImBits              = 0x32000000 // clears N/A bit distinctly below

	andSRMask, andSRBits = 0x1f200000, 0x0a000000
	orrSRBits              = 0x2a000000

	adrMask, adrBits = 0x1f000000, 0x10000000

	bMask, bBits = 0x7c000000, 0x14000000

	brMask, brBits = 0xff9ffc1f, 0xd61f0000

	cbzMask, cbzBits = 0x7e000000, 0x34000000

	ldpMask, ldpBits = 0x3e000000, 0x28000000

	ldrIxMask, ldrIxBits = 0x3f200400, 0x38000400

	ldrUiMask, ldrUiBits = 0x3f000000, 0x39000000

	ldrLitMask, ldrLitBits = 0xbf000000, 0x18000000

	ldrRegMask, ldrRegBits = 0xbfa00c00, 0xb8200800

	movMask, movBits = 0x1f800000, 0x12800000
)

func decodeNop(word uint32, pc uint64) (Instruction, bool) {
	if !maskBits(word, nopMask, nopBits) {
		return Instruction{}, false
	}
	return Instruction{Kind: KindNop, Word: word, PC: pc}, true
}

func decodeAdc(word uint32, pc uint64) (Instruction, bool) {
	if !maskBits(word, adcMask, adcBits) {
		return Instruction{}, false
	}
	sf := word&(1<<31) != 0
	op := word&(1<<30) != 0  // 1 = SBC, 0 = ADC
	s := word&(1<<29) != 0
	rm := regAt(word, 16, !sf, false)
	rn := regAt(word, 5, !sf, false)
	rd := regAt(word, 0, !sf, false)
	ins := &AddSubCarry{Add: !op, SetFlags: s, Rd: rd, Rn: rn, Rm: rm}
	return Instruction{Kind: KindAdc, Word: word, PC: pc, Adc: ins}, true
}

func decodeAddSubImm(word uint32, pc uint64) (Instruction, bool) {
	if !maskBits(word, addImMask, addImBits) && !maskBits(word, addImMask, subImBits) &&
		!maskBits(word, addImMask, 0x31000000) && !maskBits(word, addImMask, 0x71000000) {
		return Instruction{}, false
	}
	sf := word&(1<<31) != 0
	op := word&(1<<30) != 0 // 1 = SUB family
	s := word&(1<<29) != 0
	shiftBit := (word >> 22) & 0x1
	imm := uint16((word >> 10) & 0xfff)
	// Matches decode_add_sub_im: Rn always uses SP, Rd uses ZR only when
	// SetFlags is set (the ADDS/SUBS forms, whose destination is frequently
	// discarded via CMN/CMP).
	rn := regAt(word, 5, !sf, false)
	rd := regAt(word, 0, !sf, s)
	shift := uint8(0)
	if shiftBit != 0 {
		shift = 12
	}
	ins := &AddSubImm{Add: !op, SetFlags: s, Rd: rd, Rn: rn, Imm: imm, Shift: shift}
	return Instruction{Kind: KindAddImm, Word: word, PC: pc, AddIm: ins}, true
}

func decodeAddSubShifted(word uint32, pc uint64) (Instruction, bool) {
	if !maskBits(word, addSRMask, addSRBits) && !maskBits(word, addSRMask, subSRBits) &&
		!maskBits(word, addSRMask, 0x2b000000) && !maskBits(word, addSRMask, 0x6b000000) {
		return Instruction{}, false
	}
	sf := word&(1<<31) != 0
	op := word&(1<<30) != 0
	s := word&(1<<29) != 0
	shiftField := Shift((word >> 22) & 0x3)
	if shiftField == ShiftROR {
		return Instruction{}, false // reserved for this family
	}
	amount := uint8((word >> 10) & 0x3f)
	if !sf && amount&0x20 != 0 {
		return Instruction{}, false
	}
	// Matches decode_add_sub_sr: Rd/Rn/Rm all use ZR (this family never
	// operates on SP).
	rm := regAt(word, 16, !sf, true)
	rn := regAt(word, 5, !sf, true)
	rd := regAt(word, 0, !sf, true)
	ins := &AddSubShifted{Add: !op, SetFlags: s, Rd: rd, Rn: rn, Rm: rm, Shift: shiftField, Amount: amount}
	return Instruction{Kind: KindAddShifted, Word: word, PC: pc, AddSR: ins}, true
}

func decodeAddSubExtended(word uint32, pc uint64) (Instruction, bool) {
	if !maskBits(word, addXRMask, addXRBits) && !maskBits(word, addXRMask, subXRBits) &&
		!maskBits(word, addXRMask, 0x2b200000) && !maskBits(word, addXRMask, 0x6b200000) {
		return Instruction{}, false
	}
	sf := word&(1<<31) != 0
	op := word&(1<<30) != 0
	s := word&(1<<29) != 0
	extendField := Extend((word >> 13) & 0x7)
	amount := uint8((word >> 10) & 0x7)
	if amount > 4 {
		return Instruction{}, false
	}
	// Matches decode_add_sub_xr: Rm uses ZR, Rn always uses SP, Rd uses ZR
	// only when SetFlags is set.
	rm := regAt(word, 16, extendTypeIs32(extendField), true)
	rn := regAt(word, 5, !sf, false)
	rd := regAt(word, 0, !sf, s)
	if extendFormatsAsLSL(extendField, sf) {
		extendField |= ExtendLSL
	}
	ins := &AddSubExtended{Add: !op, SetFlags: s, Rd: rd, Rn: rn, Rm: rm, Extend: extendField, Amount: amount}
	return Instruction{Kind: KindAddExtended, Word: word, PC: pc, AddXR: ins}, true
}

func extendTypeIs32(e Extend) bool {
	switch e.Type() {
	case ExtendUXTX, ExtendSXTX:
		return false
	default:
		return true
	}
}

// extendFormatsAsLSL matches the "preferred alias" rule: an extend whose
// width matches the operation (UXTX for 64-bit, UXTW for 32-bit) is printed
// LSL. The Rd/Rn == SP condition is not checked here.
func extendFormatsAsLSL(e Extend, sf bool) bool {
	t := e.Type()
	if sf {
		return t == ExtendUXTX
	}
	return t == ExtendUXTW
}

func decodeLogicalImm(word uint32, pc uint64) (Instruction, bool) {
	// AND/ORR/EOR/ANDS immediate class: opc in bits 30:29, N in bit 22.
	if word&0x1f800000 != 0x12000000 {
		return Instruction{}, false
	}
	sf := word&(1<<31) != 0
	opc := (word >> 29) & 0x3
	n := uint8((word >> 22) & 0x1)
	if !sf && n != 0 {
		return Instruction{}, false // N must be 0 when sf=0
	}
	imms := uint8((word >> 10) & 0x3f)
	immr := uint8((word >> 16) & 0x3f)
	width := 32
	if sf {
		width = 64
	}
	wmask, ok := decodeBitMasks(n, imms, immr, width)
	if !ok {
		return Instruction{}, false
	}
	var and bool
	switch opc {
	case 0b00: // AND
		and = true
	case 0b01: // ORR
		and = false
	case 0b11: // ANDS
		and = true
	default:
		return Instruction{}, false // 0b10 is EOR, not modeled
	}
	setFlags := opc == 0b11
	// Matches decode_and_orr_im: Rn always uses ZR, Rd uses ZR only when
	// SetFlags is set (ANDS, aliased to TST when Rd is discarded).
	rn := regAt(word, 5, !sf, true)
	rd := regAt(word, 0, !sf, setFlags)
	ins := &LogicalImm{And: and, SetFlags: setFlags, Rd: rd, Rn: rn, Imm: wmask}
	return Instruction{Kind: KindAndImm, Word: word, PC: pc, LogicalIm: ins}, true
}

func decodeLogicalShifted(word uint32, pc uint64) (Instruction, bool) {
	if !maskBits(word, andSRMask, andSRBits) && !maskBits(word, andSRMask, orrSRBits) &&
		!maskBits(word, andSRMask, 0x6a000000) {
		return Instruction{}, false
	}
	sf := word&(1<<31) != 0
	opc := (word >> 29) & 0x3
	n := word&(1<<21) != 0
	if n {
		return Instruction{}, false // BIC/ORN/EON/BICS family, not modeled
	}
	shiftField := Shift((word >> 22) & 0x3)
	amount := uint8((word >> 10) & 0x3f)
	if !sf && amount&0x20 != 0 {
		return Instruction{}, false
	}
	var and bool
	switch opc {
	case 0b00, 0b11:
		and = true
	case 0b01:
		and = false
	default:
		return Instruction{}, false
	}
	setFlags := opc == 0b11
	// Matches decode_and_orr_sr: Rd/Rn/Rm all use ZR.
	rm := regAt(word, 16, !sf, true)
	rn := regAt(word, 5, !sf, true)
	rd := regAt(word, 0, !sf, true)
	ins := &LogicalShifted{And: and, SetFlags: setFlags, Rd: rd, Rn: rn, Rm: rm, Shift: shiftField, Amount: amount}
	return Instruction{Kind: KindAndShifted, Word: word, PC: pc, LogicalSR: ins}, true
}

func decodeAdr(word uint32, pc uint64) (Instruction, bool) {
	if !maskBits(word, adrMask, adrBits) {
		return Instruction{}, false
	}
	op := word&(1<<31) != 0
	immlo := uint64((word >> 29) & 0x3)
	immhi := uint64((word >> 5) & 0x7ffff)
	imm := signExtend((immhi<<2)|immlo, 20)
	xd := regAt(word, 0, false, false)
	var label uint64
	if op { // ADRP
		label = (pc &^ 0xfff) + imm*0x1000
	} else { // ADR
		label = pc + imm
	}
	ins := &Adr{IsAdrp: op, Xd: xd, Label: label}
	return Instruction{Kind: KindAdr, Word: word, PC: pc, AdrI: ins}, true
}

func decodeB(word uint32, pc uint64) (Instruction, bool) {
	if !maskBits(word, bMask, bBits) {
		return Instruction{}, false
	}
	link := word&(1<<31) != 0
	imm := signExtend(uint64(word&0x3ffffff), 25)
	label := pc + imm*4
	ins := &B{Link: link, Label: label}
	return Instruction{Kind: KindB, Word: word, PC: pc, BI: ins}, true
}

func decodeBr(word uint32, pc uint64) (Instruction, bool) {
	if !maskBits(word, brMask, brBits) {
		return Instruction{}, false
	}
	opc := (word >> 21) & 0xf
	var ret, link bool
	switch opc {
	case 0: // BR
	case 1: // BLR
		link = true
	case 2: // RET
		ret = true
	default:
		return Instruction{}, false
	}
	xn := regAt(word, 5, false, true)
	ins := &Br{Ret: ret, Link: link, Xn: xn}
	return Instruction{Kind: KindBr, Word: word, PC: pc, BrI: ins}, true
}

func decodeCbz(word uint32, pc uint64) (Instruction, bool) {
	if !maskBits(word, cbzMask, cbzBits) {
		return Instruction{}, false
	}
	sf := word&(1<<31) != 0
	nonZero := word&(1<<24) != 0
	imm := signExtend(uint64((word>>5)&0x7ffff), 18)
	label := pc + imm*4
	rt := regAt(word, 0, !sf, false)
	ins := &Cbz{NonZero: nonZero, Rt: rt, Label: label}
	return Instruction{Kind: KindCbz, Word: word, PC: pc, CbzI: ins}, true
}

func decodeMov(word uint32, pc uint64) (Instruction, bool) {
	if !maskBits(word, movMask, movBits) {
		return Instruction{}, false
	}
	sf := word&(1<<31) != 0
	opc := (word >> 29) & 0x3
	hw := (word >> 21) & 0x3
	if !sf && hw&0x2 != 0 {
		return Instruction{}, false
	}
	var k, n bool
	switch opc {
	case 0b00:
		n = true // MOVN
	case 0b10:
		// MOVZ
	case 0b11:
		k = true // MOVK
	default:
		return Instruction{}, false // 0b01 reserved
	}
	imm := uint16((word >> 5) & 0xffff)
	rd := regAt(word, 0, !sf, false)
	ins := &Mov{K: k, N: n, Rd: rd, Imm: imm, Shift: uint8(hw) * 16}
	return Instruction{Kind: KindMov, Word: word, PC: pc, MovI: ins}, true
}

func decodeLdp(word uint32, pc uint64) (Instruction, bool) {
	if !maskBits(word, ldpMask, ldpBits) {
		return Instruction{}, false
	}
	opc := (word >> 30) & 0x3
	if opc == 0b11 {
		return Instruction{}, false
	}
	vBit := word & (1 << 26)
	if vBit != 0 {
		return Instruction{}, false // SIMD&FP variant, not modeled
	}
	class := (word >> 23) & 0x3 // 00 LDNP/STNP, 01 post-index, 10 signed offset, 11 pre-index
	load := word&(1<<22) != 0
	sign := opc == 0b01
	size := uint8(2)
	if opc == 0b00 {
		size = 0 // 32-bit LDP/STP/LDNP/STNP
	}
	wb := class == 0b01 || class == 0b11
	post := class == 0b01
	nt := class == 0b00
	imm7 := int16((word >> 15) & 0x7f)
	// sign-extend 7-bit immediate, scaled by element size (4 or 8 bytes)
	if imm7&0x40 != 0 {
		imm7 |= ^int16(0x7f)
	}
	scale := 4
	if opc == 0b10 {
		scale = 8
		size = 3
	}
	imm := imm7 * int16(scale)
	rt1 := regAt(word, 0, opc != 0b10, false)
	rt2 := regAt(word, 10, opc != 0b10, false)
	xn := regAt(word, 5, false, true)
	ins := &Ldp{Load: load, Size: size, Wb: wb, Post: post, Sign: sign, Nt: nt, Rt1: rt1, Rt2: rt2, Xn: xn, Imm: imm}
	return Instruction{Kind: KindLdp, Word: word, PC: pc, LdpI: ins}, true
}

func decodeLdrImm(word uint32, pc uint64) (Instruction, bool) {
	if maskBits(word, ldrUiMask, ldrUiBits) {
		size := uint8((word >> 30) & 0x3)
		opc := (word >> 22) & 0x3
		if opc > 1 {
			return Instruction{}, false // LDRSW/prefetch variants collapse differently; keep to load/store
		}
		load := opc == 1
		imm := int32((word >> 10) & 0xfff) << size
		rt := regAt(word, 0, size < 3, false)
		xn := regAt(word, 5, false, true)
		ins := &LdrImm{Load: load, Size: size, Rt: rt, Xn: xn, Imm: imm}
		return Instruction{Kind: KindLdrImm, Word: word, PC: pc, LdrImI: ins}, true
	}
	if maskBits(word, ldrIxMask, ldrIxBits) {
		size := uint8((word >> 30) & 0x3)
		opc := (word >> 22) & 0x3
		if opc > 1 {
			return Instruction{}, false
		}
		load := opc == 1
		post := word&(1<<11) == 0
		wb := true
		imm9 := int32((word >> 12) & 0x1ff)
		if imm9&0x100 != 0 {
			imm9 |= ^int32(0x1ff)
		}
		rt := regAt(word, 0, size < 3, false)
		xn := regAt(word, 5, false, true)
		ins := &LdrImm{Load: load, Size: size, Wb: wb, Post: post, Rt: rt, Xn: xn, Imm: imm9}
		return Instruction{Kind: KindLdrImm, Word: word, PC: pc, LdrImI: ins}, true
	}
	return Instruction{}, false
}

func decodeLdrLit(word uint32, pc uint64) (Instruction, bool) {
	if !maskBits(word, ldrLitMask, ldrLitBits) {
		return Instruction{}, false
	}
	opc := (word >> 30) & 0x3
	if opc == 0b11 {
		return Instruction{}, false // LDRSW literal / PRFM, not modeled
	}
	imm := signExtend(uint64((word>>5)&0x7ffff), 18)
	label := pc + imm*4
	rt := regAt(word, 0, opc == 0, false)
	ins := &LdrLit{Rt: rt, Label: label}
	return Instruction{Kind: KindLdrLit, Word: word, PC: pc, LdrLitI: ins}, true
}

func decodeLdrStrReg(word uint32, pc uint64) (Instruction, bool) {
	if !maskBits(word, ldrRegMask, ldrRegBits) {
		return Instruction{}, false
	}
	size := (word >> 30) & 0x3
	opc := (word >> 22) & 0x3
	load := opc == 1
	option := Extend((word >> 13) & 0x7)
	sBit := word & (1 << 12)
	amount := uint8(0)
	if sBit != 0 {
		amount = uint8(size)
	}
	if extendFormatsAsLSLOption(option) {
		option |= ExtendLSL
	}
	rt := regAt(word, 0, size < 3, false)
	xn := regAt(word, 5, false, true)
	rm := regAt(word, 16, option.Type() != ExtendUXTX && option.Type() != ExtendSXTX, false)
	ins := &LdrStrReg{Load: load, Rt: rt, Xn: xn, Rm: rm, Extend: option, Amount: amount}
	return Instruction{Kind: KindLdrStrReg, Word: word, PC: pc, LdrStrR: ins}, true
}

func extendFormatsAsLSLOption(e Extend) bool {
	t := e.Type()
	return t == ExtendUXTX
}
