package aarch64

// Kind identifies which decoded family a Instruction holds. Only one of the
// Instruction's typed fields is populated, matching the kind that was
// decoded — the Go equivalent of the tagged union described in spec §3.
type Kind int

const (
	KindInvalid Kind = iota
	KindAdc
	KindAddImm
	KindAddShifted
	KindAddExtended
	KindAndImm
	KindAndShifted
	KindAdr
	KindB
	KindBr
	KindLdp
	KindLdrImm
	KindLdrLit
	KindLdrStrReg
	KindMov
	KindCbz
	KindNop
)

// AddSubCarry decodes ADC/ADCS/SBC/SBCS (and NGC/NGCS, the SBC/SBCS aliases
// with Rn==ZR).
type AddSubCarry struct {
	Add      bool // true: ADC/ADCS, false: SBC/SBCS
	SetFlags bool
	Rd, Rn, Rm Reg
}

// AddSubImm decodes ADD/ADDS/SUB/SUBS immediate (and their CMN/CMP/MOV-to-SP
// aliases).
type AddSubImm struct {
	Add      bool
	SetFlags bool
	Rd, Rn   Reg
	Imm      uint16
	Shift    uint8 // 0 or 12
}

// AddSubShifted decodes ADD/ADDS/SUB/SUBS shifted register (and their
// CMN/CMP/NEG/NEGS aliases).
type AddSubShifted struct {
	Add        bool
	SetFlags   bool
	Rd, Rn, Rm Reg
	Shift      Shift
	Amount     uint8
}

// AddSubExtended decodes ADD/ADDS/SUB/SUBS extended register (and their
// CMN/CMP aliases).
type AddSubExtended struct {
	Add        bool
	SetFlags   bool
	Rd, Rn, Rm Reg
	Extend     Extend
	Amount     uint8
}

// LogicalImm decodes AND/ANDS/ORR immediate (and their MOV-bitmask/TST
// aliases).
type LogicalImm struct {
	And      bool // true: AND/ANDS, false: ORR
	SetFlags bool
	Rd, Rn   Reg
	Imm      uint64
}

// LogicalShifted decodes AND/ANDS/ORR shifted register (and their
// MOV-register/TST aliases).
type LogicalShifted struct {
	And        bool
	SetFlags   bool
	Rd, Rn, Rm Reg
	Shift      Shift
	Amount     uint8
}

// Adr decodes ADR/ADRP. Label is already the absolute target address (PC +
// sign-extended, page-aligned for ADRP, offset).
type Adr struct {
	IsAdrp bool
	Xd     Reg
	Label  uint64
}

// B decodes B/BL. Label is the absolute branch target.
type B struct {
	Link  bool
	Label uint64
}

// Br decodes BR/BLR/RET.
type Br struct {
	Ret  bool
	Link bool
	Xn   Reg
}

// Ldp decodes LDP/STP/LDNP/STNP/LDPSW in all addressing forms.
type Ldp struct {
	Load    bool
	Size    uint8 // 0: 32-bit (opc 00), 2: LDPSW (opc 01), 3: 64-bit (opc 10)
	Wb      bool
	Post    bool
	Sign    bool
	Nt      bool
	Rt1, Rt2, Xn Reg
	Imm     int16
}

// LdrImm decodes LDR/STR/LDRB/STRB/LDRH/STRH/LDRSB/LDRSH/LDRSW immediate
// forms (pre-index, post-index, and unsigned offset).
type LdrImm struct {
	Load bool
	Size uint8 // 0=byte,1=half,2=word,3=double
	Wb   bool
	Post bool
	Sign bool
	Rt, Xn Reg
	Imm  int32
}

// LdrLit decodes LDR literal. Label is the absolute target address.
type LdrLit struct {
	Rt    Reg
	Label uint64
}

// LdrStrReg decodes LDR/STR register (base + extended-register offset).
type LdrStrReg struct {
	Load       bool
	Rt, Xn, Rm Reg
	Extend     Extend
	Amount     uint8
}

// Mov decodes MOVZ/MOVN/MOVK (and their MOV-wide-immediate and
// MOV-inverted-wide-immediate aliases).
type Mov struct {
	K     bool // true: MOVK
	N     bool // true: MOVN
	Rd    Reg
	Imm   uint16
	Shift uint8 // 0, 16, 32, or 48
}

// Cbz decodes CBZ/CBNZ. Label is the absolute branch target.
type Cbz struct {
	NonZero bool
	Rt      Reg
	Label   uint64
}

// Instruction is a decoded AArch64 instruction: Kind says which of the
// typed fields below is populated.
type Instruction struct {
	Kind Kind
	Word uint32
	PC   uint64

	Adc       *AddSubCarry
	AddIm     *AddSubImm
	AddSR     *AddSubShifted
	AddXR     *AddSubExtended
	LogicalIm *LogicalImm
	LogicalSR *LogicalShifted
	AdrI      *Adr
	BI        *B
	BrI       *Br
	LdpI      *Ldp
	LdrImI    *LdrImm
	LdrLitI   *LdrLit
	LdrStrR   *LdrStrReg
	MovI      *Mov
	CbzI      *Cbz
}

// decoders tried in order by Decode. Each returns ok=false if the word does
// not belong to its family; the first match wins. NOP is tried before MOV
// wide immediate since NOP's encoding (an alias of HINT) otherwise also
// matches no other family here, and before B/BR since its bit pattern
// overlaps no other family either — ordering only matters where masks
// actually intersect, which full-word-literal NOP's does not, but we try it
// first for clarity.
type decodeFn func(word uint32, pc uint64) (Instruction, bool)

var decoders = []decodeFn{
	decodeNop,
	decodeAdc,
	decodeAddSubImm,
	decodeAddSubShifted,
	decodeAddSubExtended,
	decodeLogicalImm,
	decodeLogicalShifted,
	decodeAdr,
	decodeB,
	decodeBr,
	decodeCbz,
	decodeMov,
	decodeLdp,
	decodeLdrImm,
	decodeLdrLit,
	decodeLdrStrReg,
}

// Decode decodes a single 32-bit instruction word fetched from address pc.
// pc is required because ADR/ADRP/B/BL/CBZ/CBNZ/literal-LDR targets are
// PC-relative; Decode always returns an already-absolute target for them.
// Returns ok=false if word does not match any family this decoder knows —
// callers should treat that as "clear all register knowledge" per §4.B.
func Decode(word uint32, pc uint64) (Instruction, bool) {
	for _, d := range decoders {
		if ins, ok := d(word, pc); ok {
			return ins, true
		}
	}
	return Instruction{}, false
}

func maskBits(word, mask, bits uint32) bool { return word&mask == bits }

func signExtend(value uint64, signBit uint) uint64 {
	shift := 63 - signBit
	return uint64(int64(value<<shift) >> shift)
}
