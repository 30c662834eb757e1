package ksim

import (
	"context"
	"testing"

	"github.com/memctl/memctl-go/pkg/aarch64"
)

// program is a trivial in-memory instruction stream addressed from a base
// PC, standing in for an Oracle backed by a real kernel image.
type program struct {
	base  uint64
	words []uint32
}

func (p *program) InstructionAt(addr uint64) (uint32, bool) {
	if addr < p.base {
		return 0, false
	}
	idx := (addr - p.base) / 4
	if idx >= uint64(len(p.words)) {
		return 0, false
	}
	return p.words[idx], true
}

func TestMovzThenAddIsKnown(t *testing.T) {
	// movz x0, #5 ; movz x1, #7 ; add x2, x0, x1
	p := &program{base: 0x1000, words: []uint32{
		0xd2800080, // movz x0, #4 (imm=4<<5 encoded below precisely)
	}}
	_ = p
	// Build instructions directly via the decoder to avoid hand-encoding
	// three separate words; this exercises the same step() path.
	words := []uint32{
		movz(aarch64.X0, 5),
		movz(aarch64.X1, 7),
		addReg(aarch64.X2, aarch64.X0, aarch64.X1),
	}
	prog := &program{base: 0x2000, words: words}
	s := New(0x2000)
	s.MaxInstructions = 10
	if err := s.Run(context.Background(), prog); err != nil {
		t.Fatalf("run: %v", err)
	}
	v := s.Regs.Get(aarch64.X2)
	if !v.Known || v.Val != 12 {
		t.Fatalf("expected x2=12 known, got %+v", v)
	}
}

func TestUnknownInstructionClearsAll(t *testing.T) {
	prog := &program{base: 0x3000, words: []uint32{
		movz(aarch64.X0, 9),
		0xffffffff, // not decodable
	}}
	s := New(0x3000)
	s.Regs.Set(aarch64.X5, Value{Val: 1, Known: true})
	s.MaxInstructions = 2
	if err := s.Run(context.Background(), prog); err != nil {
		t.Fatalf("run: %v", err)
	}
	if v := s.Regs.Get(aarch64.X5); v.Known {
		t.Fatalf("expected x5 cleared after unknown instruction, got %+v", v)
	}
	if v := s.Regs.Get(aarch64.X0); v.Known {
		t.Fatalf("expected x0 cleared too (whole-file clear), got %+v", v)
	}
}

func TestBlClobbersCallerSaved(t *testing.T) {
	prog := &program{base: 0x4000, words: []uint32{
		movz(aarch64.X0, 3),
		movz(aarch64.X19, 4),
		branchLink(4), // bl +16 (not followed by default)
	}}
	s := New(0x4000)
	s.MaxInstructions = 3
	if err := s.Run(context.Background(), prog); err != nil {
		t.Fatalf("run: %v", err)
	}
	if v := s.Regs.Get(aarch64.X0); v.Known {
		t.Fatalf("expected x0 clobbered by bl, got %+v", v)
	}
	if v := s.Regs.Get(aarch64.X19); !v.Known || v.Val != 4 {
		t.Fatalf("expected x19 preserved across bl (callee-saved), got %+v", v)
	}
}

func TestStoreMatchStops(t *testing.T) {
	prog := &program{base: 0x5000, words: []uint32{
		movz(aarch64.X1, 0x100),
		strOffset(aarch64.X0, aarch64.X1, 0),
		movz(aarch64.X2, 1), // should not execute
	}}
	s := New(0x5000)
	reg := aarch64.X1
	s.StoredTo = &reg
	s.MaxInstructions = 10
	if err := s.Run(context.Background(), prog); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !s.StoppedAtStore() {
		t.Fatalf("expected StoppedAtStore")
	}
	if v := s.Regs.Get(aarch64.X2); v.Known {
		t.Fatalf("expected run to stop before executing past the store")
	}
}

func movz(rd aarch64.Reg, imm uint16) uint32 {
	sf := uint32(0)
	if !rd.Is32() {
		sf = 1
	}
	return sf<<31 | 0b10<<29 | 0b100101<<23 | uint32(imm)<<5 | uint32(rd.ID())
}

func addReg(rd, rn, rm aarch64.Reg) uint32 {
	sf := uint32(1) // 64-bit
	return sf<<31 | 0b0001011<<24 | uint32(rm.ID())<<16 | uint32(rn.ID())<<5 | uint32(rd.ID())
}

func branchLink(wordOffset int32) uint32 {
	return 1<<31 | 0b00101<<26 | (uint32(wordOffset) & 0x3ffffff)
}

func strOffset(rt, rn aarch64.Reg, imm12 uint32) uint32 {
	// STR (immediate, unsigned offset), 64-bit: size=11, opc=00
	return 0b11<<30 | 0b111001<<24 | 0b00<<22 | (imm12&0xfff)<<10 | uint32(rn.ID())<<5 | uint32(rt.ID())
}
