package ksim

import "github.com/memctl/memctl-go/pkg/aarch64"

// step executes one decoded instruction against s.Regs, advancing s.PC.
// Returns stop=true if a client-visible stop condition fired inside this
// step (the store-match primitive, or handle_branch's stop out-param), and
// ret=true if a RET with no override was reached. Only the instruction
// families spec §4.B lists have real semantics; everything else clears the
// whole register file and falls through to PC+4.
func (s *State) step(ins aarch64.Instruction) (stop bool, ret bool, err error) {
	next := s.PC + 4

	switch ins.Kind {
	case aarch64.KindNop:
		// no effect

	case aarch64.KindAdr:
		a := ins.AdrI
		s.Regs.Set(a.Xd, Value{Val: a.Label, Known: true})

	case aarch64.KindMov:
		m := ins.MovI
		v := uint64(m.Imm) << m.Shift
		switch m.Kind() {
		case aarch64.MovWideN:
			v = ^v
			if m.Rd.Is32() {
				v &= 0xffffffff
			}
		case aarch64.MovWideK:
			cur := s.Regs.Get(m.Rd)
			if !cur.Known {
				s.Regs.Set(m.Rd, Value{})
				break
			}
			mask := uint64(0xffff) << m.Shift
			s.Regs.Set(m.Rd, Value{Val: (cur.Val &^ mask) | (v & mask), Known: true})
		default: // MovWideZ
		}
		if m.Kind() != aarch64.MovWideK {
			s.Regs.Set(m.Rd, Value{Val: v, Known: true})
		}

	case aarch64.KindAddImm:
		a := ins.AddIm
		rn := s.Regs.Get(a.Rn)
		imm := uint64(a.Imm) << a.Shift
		var v uint64
		if a.Add {
			v = rn.Val + imm
		} else {
			v = rn.Val - imm
		}
		s.Regs.Set(a.Rd, Value{Val: v, Known: rn.Known})

	case aarch64.KindAddShifted:
		a := ins.AddSR
		rn, rm := s.Regs.Get(a.Rn), s.Regs.Get(a.Rm)
		shifted := applyShift(rm.Val, a.Shift, a.Amount, a.Rd.Size())
		var v uint64
		if a.Add {
			v = rn.Val + shifted
		} else {
			v = rn.Val - shifted
		}
		s.Regs.Set(a.Rd, Value{Val: v, Known: rn.Known && rm.Known})

	case aarch64.KindAddExtended:
		a := ins.AddXR
		rn, rm := s.Regs.Get(a.Rn), s.Regs.Get(a.Rm)
		extended := applyExtend(rm.Val, a.Extend, a.Amount)
		var v uint64
		if a.Add {
			v = rn.Val + extended
		} else {
			v = rn.Val - extended
		}
		s.Regs.Set(a.Rd, Value{Val: v, Known: rn.Known && rm.Known})

	case aarch64.KindAndImm:
		l := ins.LogicalIm
		rn := s.Regs.Get(l.Rn)
		var v uint64
		if l.And {
			v = rn.Val & l.Imm
		} else {
			v = rn.Val | l.Imm
		}
		s.Regs.Set(l.Rd, Value{Val: v, Known: rn.Known})

	case aarch64.KindAndShifted:
		l := ins.LogicalSR
		rn, rm := s.Regs.Get(l.Rn), s.Regs.Get(l.Rm)
		shifted := applyShift(rm.Val, l.Shift, l.Amount, l.Rd.Size())
		var v uint64
		if l.IsMovRegister() {
			v = shifted
		} else if l.And {
			v = rn.Val & shifted
		} else {
			v = rn.Val | shifted
		}
		known := rm.Known
		if !l.IsMovRegister() {
			known = rn.Known && rm.Known
		}
		s.Regs.Set(l.Rd, Value{Val: v, Known: known})

	case aarch64.KindLdrImm, aarch64.KindLdrLit, aarch64.KindLdrStrReg:
		if isStore(ins) {
			if s.storeMatches(ins) {
				s.stoppedAtStore = true
				stop = true
			}
		} else {
			clearLoadDest(&s.Regs, ins)
		}

	case aarch64.KindLdp:
		l := ins.LdpI
		if l.Load {
			s.Regs.Set(l.Rt1, Value{})
			s.Regs.Set(l.Rt2, Value{})
		}
		// STP is a store; LDP/STP base-register writeback does not
		// change known-ness of other registers and is not modeled
		// (the finders never address through a post/pre-indexed LDP
		// base).

	case aarch64.KindB:
		b := ins.BI
		target := b.Label
		take, doStop := s.decideBranch(ins, target, BranchUnknown, !b.Link)
		if b.Link {
			s.Regs.ClobberCallerSaved()
		}
		if doStop {
			stop = true
			break
		}
		if take {
			next = target
		}

	case aarch64.KindCbz:
		c := ins.CbzI
		rt := s.Regs.Get(c.Rt)
		cond := BranchUnknown
		if rt.Known {
			isZero := rt.Val == 0
			if isZero == c.NonZero {
				cond = BranchFalse
			} else {
				cond = BranchTrue
			}
		}
		take, doStop := s.decideBranch(ins, c.Label, cond, false)
		if doStop {
			stop = true
			break
		}
		if take {
			next = c.Label
		}

	case aarch64.KindBr:
		br := ins.BrI
		target := s.Regs.Get(br.Xn)
		if br.Ret {
			take, doStop := s.decideBranch(ins, 0, BranchUnknown, false)
			if doStop || !take {
				ret = true
				break
			}
			if target.Known {
				next = target.Val
			} else {
				ret = true
			}
			break
		}
		if br.Link {
			s.Regs.ClobberCallerSaved()
		}
		take, doStop := s.decideBranch(ins, target.Val, BranchUnknown, false)
		if doStop {
			stop = true
			break
		}
		if take {
			if !target.Known {
				// cannot follow an unknown indirect branch; treat as
				// terminal rather than guessing.
				ret = true
				break
			}
			next = target.Val
		}

	case aarch64.KindAdc:
		// Carry-in is not modeled (no flags register); the result is
		// unknown's-safe: mark destination unknown rather than guess
		// at a carry value that was never computed.
		s.Regs.Set(ins.Adc.Rd, Value{})

	default:
		s.Regs.ClearAll()
	}

	s.PC = next
	return stop, ret, nil
}

// decideBranch consults HandleBranch if set, otherwise applies spec §4.B's
// default rule: take unconditional B, do not take BL or conditional
// branches, treat RET as terminal (callers pass unconditionalB=true only for
// a plain B, so RET gets take=false by default, which the RET case in step
// turns into ret=true).
func (s *State) decideBranch(ins aarch64.Instruction, target uint64, cond BranchCondition, unconditionalB bool) (take bool, stop bool) {
	if s.HandleBranch != nil {
		return s.HandleBranch(s, ins, target, cond)
	}
	return unconditionalB, false
}

func applyShift(v uint64, shift aarch64.Shift, amount uint8, width int) uint64 {
	if amount == 0 {
		return v
	}
	mask := uint64(1)<<uint(width) - 1
	v &= mask
	switch shift {
	case aarch64.ShiftLSL:
		return (v << amount) & mask
	case aarch64.ShiftLSR:
		return v >> amount
	case aarch64.ShiftASR:
		signBit := uint64(1) << uint(width-1)
		if v&signBit != 0 {
			v |= ^mask
		}
		return uint64(int64(v) >> amount)
	case aarch64.ShiftROR:
		amount := uint(amount) % uint(width)
		if amount == 0 {
			return v
		}
		return ((v >> amount) | (v << (uint(width) - amount))) & mask
	default:
		return v
	}
}

func applyExtend(v uint64, extend aarch64.Extend, amount uint8) uint64 {
	var extended uint64
	switch extend.Type() {
	case aarch64.ExtendUXTB:
		extended = v & 0xff
	case aarch64.ExtendUXTH:
		extended = v & 0xffff
	case aarch64.ExtendUXTW:
		extended = v & 0xffffffff
	case aarch64.ExtendUXTX:
		extended = v
	case aarch64.ExtendSXTB:
		extended = uint64(int64(int8(v)))
	case aarch64.ExtendSXTH:
		extended = uint64(int64(int16(v)))
	case aarch64.ExtendSXTW:
		extended = uint64(int64(int32(v)))
	case aarch64.ExtendSXTX:
		extended = v
	}
	return extended << amount
}

func isStore(ins aarch64.Instruction) bool {
	switch ins.Kind {
	case aarch64.KindLdrImm:
		return !ins.LdrImI.Load
	case aarch64.KindLdrStrReg:
		return !ins.LdrStrR.Load
	default:
		return false
	}
}

func clearLoadDest(f *RegFile, ins aarch64.Instruction) {
	switch ins.Kind {
	case aarch64.KindLdrImm:
		f.Set(ins.LdrImI.Rt, Value{})
	case aarch64.KindLdrLit:
		f.Set(ins.LdrLitI.Rt, Value{})
	case aarch64.KindLdrStrReg:
		f.Set(ins.LdrStrR.Rt, Value{})
	}
}

// storeMatches reports whether ins is a store whose base register is
// s.StoredTo, implementing the "stopped-at-store-to(reg)" primitive.
func (s *State) storeMatches(ins aarch64.Instruction) bool {
	if s.StoredTo == nil {
		return false
	}
	var base aarch64.Reg
	switch ins.Kind {
	case aarch64.KindLdrImm:
		base = ins.LdrImI.Xn
	case aarch64.KindLdrStrReg:
		base = ins.LdrStrR.Xn
	default:
		return false
	}
	return base.ID() == s.StoredTo.ID()
}
