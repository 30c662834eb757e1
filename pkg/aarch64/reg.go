// Package aarch64 decodes 32-bit AArch64 instruction words into typed,
// already-normalized records.
//
// This is the "newer libmemctl encoding" the spec's Open Question asks a
// reimplementer to choose: a register identifier is a single byte with the
// 5-bit register number in the low bits, a single width bit, and a
// ZR-vs-SP hint bit, rather than the older src/aarch64/disasm.* encoding
// (two width bits, ZR hint at a different bit position) that the kernel
// vtable finder does not consume. See DESIGN.md for the full rationale.
//
// Decoding is pure: no I/O, no global state. Each family is tried in a
// canonical order by Decode; alias predicates (IsTst, IsMovRegister, ...)
// let callers recognize the assembly-level alias a concrete encoding
// represents without the decoder needing to pick one itself.
package aarch64

import "fmt"

// Reg is a compact AArch64 general-purpose register identifier: bits [4:0]
// are the register number 0..31, bit 5 (RegW) marks a 32-bit (W) register
// rather than a 64-bit (X) one, and bit 6 (RegZR) marks that register 31 is
// the zero register rather than the stack pointer in this instruction's
// context.
type Reg uint8

const (
	// RegW marks a 32-bit register (unset means 64-bit).
	RegW Reg = 0x20
	// RegZR marks that register 31 means the zero register, not SP.
	RegZR Reg = 0x40

	regNumMask Reg = 0x1f
)

// General-purpose X registers.
const (
	X0 Reg = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29
	X30
	SP
)

// XZR is register 31 interpreted as the zero register in a 64-bit context.
const XZR = SP | RegZR

// General-purpose W registers (low 32 bits of the corresponding X register).
const (
	W0  = X0 | RegW
	W1  = X1 | RegW
	W2  = X2 | RegW
	W3  = X3 | RegW
	W4  = X4 | RegW
	W5  = X5 | RegW
	W6  = X6 | RegW
	W7  = X7 | RegW
	W8  = X8 | RegW
	W9  = X9 | RegW
	W10 = X10 | RegW
	W11 = X11 | RegW
	W12 = X12 | RegW
	W13 = X13 | RegW
	W14 = X14 | RegW
	W15 = X15 | RegW
	W16 = X16 | RegW
	W17 = X17 | RegW
	W18 = X18 | RegW
	W19 = X19 | RegW
	W20 = X20 | RegW
	W21 = X21 | RegW
	W22 = X22 | RegW
	W23 = X23 | RegW
	W24 = X24 | RegW
	W25 = X25 | RegW
	W26 = X26 | RegW
	W27 = X27 | RegW
	W28 = X28 | RegW
	W29 = X29 | RegW
	W30 = X30 | RegW
	WSP = SP | RegW
)

// WZR is register 31 interpreted as the zero register in a 32-bit context.
const WZR = WSP | RegZR

// ID returns the numeric register number, 0..31.
func (r Reg) ID() uint8 { return uint8(r & regNumMask) }

// Is32 reports whether r names a 32-bit (W) register.
func (r Reg) Is32() bool { return r&RegW != 0 }

// Size returns the register width in bits: 32 or 64.
func (r Reg) Size() int {
	if r.Is32() {
		return 32
	}
	return 64
}

// IsZR reports whether register 31 should be read as the zero register in
// this instruction's context (as opposed to the stack pointer).
func (r Reg) IsZR() bool { return r&RegZR != 0 }

// regAt extracts a register field at the given 5-bit position, producing a
// Reg with the width and zr flags supplied by the caller (decoders compute
// these once per instruction class and pass them down).
func regAt(word uint32, shift uint, w bool, zr bool) Reg {
	n := Reg((word >> shift) & 0x1f)
	if w {
		n |= RegW
	}
	if n.ID() == 31 && zr {
		n |= RegZR
	}
	return n
}

func (r Reg) String() string {
	id := r.ID()
	if id == 31 {
		switch {
		case r.Is32() && r.IsZR():
			return "wzr"
		case r.Is32():
			return "wsp"
		case r.IsZR():
			return "xzr"
		default:
			return "sp"
		}
	}
	if r.Is32() {
		return fmt.Sprintf("w%d", id)
	}
	return fmt.Sprintf("x%d", id)
}

// Shift is the kind of shift applied to a shifted-register operand.
type Shift uint8

const (
	ShiftLSL Shift = iota
	ShiftLSR
	ShiftASR
	ShiftROR
)

func (s Shift) String() string {
	switch s {
	case ShiftLSL:
		return "lsl"
	case ShiftLSR:
		return "lsr"
	case ShiftASR:
		return "asr"
	case ShiftROR:
		return "ror"
	default:
		return "?shift?"
	}
}

// Extend is the kind of extension applied to an extended-register operand,
// plus ExtendLSL, a flag (not a distinct type) meaning "format this as LSL
// in disassembly" — set when the extend width equals the operand width, the
// canonical case the ARM ARM calls out specially.
type Extend uint8

const (
	ExtendUXTB Extend = iota
	ExtendUXTH
	ExtendUXTW
	ExtendUXTX
	ExtendSXTB
	ExtendSXTH
	ExtendSXTW
	ExtendSXTX
	// ExtendLSL is OR'd into one of the above to request "format as LSL".
	ExtendLSL Extend = 0x8
)

// Type returns the extend kind without the format-as-LSL flag.
func (e Extend) Type() Extend { return e & 0x7 }

// IsLSL reports whether this extend should be formatted as LSL.
func (e Extend) IsLSL() bool { return e&ExtendLSL != 0 }

func (e Extend) String() string {
	switch e.Type() {
	case ExtendUXTB:
		return "uxtb"
	case ExtendUXTH:
		return "uxth"
	case ExtendUXTW:
		return "uxtw"
	case ExtendUXTX:
		return "uxtx"
	case ExtendSXTB:
		return "sxtb"
	case ExtendSXTH:
		return "sxth"
	case ExtendSXTW:
		return "sxtw"
	case ExtendSXTX:
		return "sxtx"
	default:
		return "?extend?"
	}
}
