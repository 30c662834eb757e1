// Package ksim implements the AArch64 micro-simulator: a symbolic register
// file stepped one decoded instruction at a time, driven by client-supplied
// stop_before/stop_after/handle_branch callbacks (spec §4.B). Grounded on
// original_source/include/memctl/aarch64/ksim.h's struct ksim contract.
package ksim

import (
	"context"

	"github.com/memctl/memctl-go/pkg/aarch64"
	"github.com/memctl/memctl-go/pkg/merr"
)

// numRegs is the size of the AArch64 general-purpose register file,
// including the dedicated slot for SP (index 31).
const numRegs = 32

// Value is one register slot: a 64-bit value plus a know-or-not flag. An
// unknown Value's Val is meaningless and must not be read.
type Value struct {
	Val   uint64
	Known bool
}

// RegFile is the symbolic register file the simulator operates over.
type RegFile struct {
	regs [numRegs]Value
}

// Get returns the value currently held in r (only the low 32 bits are
// meaningful if r names a W register; the caller is expected to mask).
// Reading XZR/WZR always yields a known zero, regardless of what has been
// stored in SP's slot — the two share register number 31, but the zero
// register is architecturally always 0 and never aliases SP's value.
func (f *RegFile) Get(r aarch64.Reg) Value {
	if r.IsZR() {
		return Value{Val: 0, Known: true}
	}
	v := f.regs[r.ID()]
	if r.Is32() && v.Known {
		v.Val &= 0xffffffff
	}
	return v
}

// Set stores v into r. Writing a W register zero-extends into the full
// 64-bit slot, matching AArch64's "writes to Wn zero the upper 32 bits of
// Xn" rule. A write through XZR/WZR is discarded, matching the
// architecture's "writes to the zero register are ignored" rule, and never
// disturbs SP's stored value.
func (f *RegFile) Set(r aarch64.Reg, v Value) {
	if r.IsZR() {
		return
	}
	if r.Is32() && v.Known {
		v.Val &= 0xffffffff
	}
	f.regs[r.ID()] = v
}

// ClearAll marks every register unknown — the conservative fallback applied
// when an instruction outside the supported set is encountered (spec §4.B).
func (f *RegFile) ClearAll() {
	for i := range f.regs {
		f.regs[i] = Value{}
	}
}

// ClobberCallerSaved marks x0..x17 and x30 unknown, simulating the ABI-level
// register clobber a BL performs without the simulator needing to model the
// callee (spec §4.B's BL semantics).
func (f *RegFile) ClobberCallerSaved() {
	for id := 0; id <= 17; id++ {
		f.regs[id] = Value{}
	}
	f.regs[30] = Value{}
}

// BranchCondition is the three-valued outcome handle_branch is told about a
// conditional branch: definitely taken, definitely not taken, or the
// simulator could not determine it from known register state.
type BranchCondition int

const (
	BranchUnknown BranchCondition = iota
	BranchTrue
	BranchFalse
)

// StopBefore is evaluated before executing the instruction at its PC.
type StopBefore func(s *State, ins aarch64.Instruction) bool

// StopAfter is evaluated after executing the instruction.
type StopAfter func(s *State, ins aarch64.Instruction) bool

// HandleBranch is invoked for every branch family (B, BL, CBZ/CBNZ, BR,
// BLR). It returns whether to take the branch and whether to stop the
// simulation afterward. cond is BranchUnknown for unconditional forms.
type HandleBranch func(s *State, ins aarch64.Instruction, target uint64, cond BranchCondition) (take bool, stop bool)

// State is one simulation run: its PC, the register file, and the stop
// conditions driving it. Exported so callbacks can inspect/mutate
// registers (a store-matching callback reads Regs; a branch callback reads
// PC) the way ksim.h's struct ksim is passed around by pointer in C.
type State struct {
	Regs RegFile
	PC   uint64

	StopBefore   StopBefore
	StopAfter    StopAfter
	HandleBranch HandleBranch

	// MaxInstructions bounds the run; zero means "no bound" (callers
	// should always set one — spec §4.D's finder uses ~256 for
	// initializers and 8 for getMetaClass confirmation).
	MaxInstructions int

	// StoredTo, if non-nil, makes Run stop the instant a STR-family
	// instruction's base register equals this register — the
	// "stopped-at-store-to(reg)" primitive spec §4.B names.
	StoredTo *aarch64.Reg

	instructionCount int
	stoppedAtStore   bool
	interrupted      bool
}

// Oracle fetches instruction words from a runtime kernel address; ksim
// depends on it only through this narrow contract (spec §4.C).
type Oracle interface {
	InstructionAt(addr uint64) (uint32, bool)
}

// New returns a State with its register file cleared (all unknown) and PC
// set to start.
func New(start uint64) *State {
	return &State{PC: start}
}

// Interrupt sets the cooperative-cancellation flag (spec §5), which Run
// checks before each instruction. The flag is a plain field with no
// synchronization; to cancel a run from another goroutine, cancel the ctx
// passed to Run instead.
func (s *State) Interrupt() { s.interrupted = true }

// Interrupted reports whether Interrupt has been called.
func (s *State) Interrupted() bool { return s.interrupted }

// InstructionCount returns how many instructions Run has executed so far.
func (s *State) InstructionCount() int { return s.instructionCount }

// StoppedAtStore reports whether Run stopped because StoredTo's register
// was the base of a STR-family instruction.
func (s *State) StoppedAtStore() bool { return s.stoppedAtStore }

// Run steps the simulator starting at s.PC, fetching instruction words from
// oracle, until a stop condition fires, the instruction budget is
// exhausted, ctx is cancelled, or a RET is reached with no handle_branch
// override. Returns the reason via the State's flags (StoppedAtStore,
// Interrupted) — a plain nil return with neither flag set means the budget
// ran out, RET was reached, or a StopBefore/StopAfter/HandleBranch callback
// stopped the run.
func (s *State) Run(ctx context.Context, oracle Oracle) error {
	for {
		if ctx != nil {
			select {
			case <-ctx.Done():
				s.interrupted = true
			default:
			}
		}
		if s.interrupted {
			return merr.New(merr.KindInterrupted, "simulation interrupted at pc=0x%x", s.PC)
		}
		if s.MaxInstructions > 0 && s.instructionCount >= s.MaxInstructions {
			return nil
		}
		word, ok := oracle.InstructionAt(s.PC)
		if !ok {
			return merr.AtAddr(merr.KindNotFound, s.PC, "no instruction bytes at pc")
		}
		ins, decoded := aarch64.Decode(word, s.PC)
		if !decoded {
			ins = aarch64.Instruction{Kind: aarch64.KindInvalid, Word: word, PC: s.PC}
		}
		if s.StopBefore != nil && s.StopBefore(s, ins) {
			return nil
		}

		stop, ret, err := s.step(ins)
		s.instructionCount++
		if err != nil {
			return err
		}
		if stop {
			return nil
		}

		if s.StopAfter != nil && s.StopAfter(s, ins) {
			return nil
		}
		if ret {
			return nil
		}
	}
}
