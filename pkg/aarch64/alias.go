package aarch64

// The functions below recognize the assembly-level aliases the ARM ARM
// defines over the concrete encodings this package decodes (spec §4.A):
// TST/CMN/CMP/NEG/NEGS/MOV-to-SP/MOV-register/MOV-wide-immediate. Decode
// never picks an alias itself — it always returns the underlying family —
// so callers that care (the disassembler-style consumers, not ksim) ask
// these predicates instead.

// IsTst reports whether i is the TST alias of ANDS (immediate or shifted
// register), i.e. SetFlags is set and the destination is discarded (ZR).
func (i *LogicalImm) IsTst() bool    { return i.SetFlags && i.Rd.ID() == 31 && i.Rd.IsZR() }
func (i *LogicalShifted) IsTst() bool { return i.SetFlags && i.Rd.ID() == 31 && i.Rd.IsZR() }

// IsMovRegister reports whether i is the MOV (register) alias of
// ORR (shifted register) with Rn == ZR and a zero shift amount.
func (i *LogicalShifted) IsMovRegister() bool {
	return !i.And && !i.SetFlags && i.Amount == 0 && i.Rn.ID() == 31 && i.Rn.IsZR()
}

// IsCmn reports whether i is the CMN alias of ADDS with a discarded
// destination.
func (i *AddSubImm) IsCmn() bool     { return i.Add && i.SetFlags && i.Rd.ID() == 31 && i.Rd.IsZR() }
func (i *AddSubShifted) IsCmn() bool { return i.Add && i.SetFlags && i.Rd.ID() == 31 && i.Rd.IsZR() }
func (i *AddSubExtended) IsCmn() bool {
	return i.Add && i.SetFlags && i.Rd.ID() == 31 && i.Rd.IsZR()
}

// IsCmp reports whether i is the CMP alias of SUBS with a discarded
// destination.
func (i *AddSubImm) IsCmp() bool     { return !i.Add && i.SetFlags && i.Rd.ID() == 31 && i.Rd.IsZR() }
func (i *AddSubShifted) IsCmp() bool { return !i.Add && i.SetFlags && i.Rd.ID() == 31 && i.Rd.IsZR() }
func (i *AddSubExtended) IsCmp() bool {
	return !i.Add && i.SetFlags && i.Rd.ID() == 31 && i.Rd.IsZR()
}

// IsNeg reports whether i is the NEG alias of SUB (shifted register) with
// Rn == ZR.
func (i *AddSubShifted) IsNeg() bool {
	return !i.Add && !i.SetFlags && i.Rn.ID() == 31 && i.Rn.IsZR()
}

// IsNegs reports whether i is the NEGS alias of SUBS with Rn == ZR.
func (i *AddSubShifted) IsNegs() bool {
	return !i.Add && i.SetFlags && i.Rn.ID() == 31 && i.Rn.IsZR()
}

// IsMovToSp reports whether i is the MOV (to/from SP) alias of ADD
// immediate with a zero immediate.
func (i *AddSubImm) IsMovToSp() bool {
	return i.Add && !i.SetFlags && i.Imm == 0 && (i.Rd.ID() == 31 || i.Rn.ID() == 31)
}

// MovWideKind distinguishes the three assembly-level forms a Mov can
// represent.
type MovWideKind int

const (
	// MovWideZ is MOVZ: Rd = Imm << Shift.
	MovWideZ MovWideKind = iota
	// MovWideN is MOVN: Rd = ^(Imm << Shift), shown as plain MOV when
	// the result fits directly (libmemctl's mov_inverted_wide_immediate).
	MovWideN
	// MovWideK is MOVK: Rd's 16-bit slice at Shift is replaced with Imm.
	MovWideK
)

// Kind reports which of MOVZ/MOVN/MOVK this Mov encodes.
func (m *Mov) Kind() MovWideKind {
	switch {
	case m.K:
		return MovWideK
	case m.N:
		return MovWideN
	default:
		return MovWideZ
	}
}

// IsMovBitmask reports whether i is the MOV (bitmask immediate) alias of
// ORR immediate with Rn == ZR.
func (i *LogicalImm) IsMovBitmask() bool {
	return !i.And && !i.SetFlags && i.Rn.ID() == 31 && i.Rn.IsZR()
}
