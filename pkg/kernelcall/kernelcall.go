// Package kernelcall implements the top-level kernel-call façade of spec
// §4.H: it chooses between the seven-argument IOKit-trap path (pkg/traphook)
// and the eight-argument AArch64 JOP path (pkg/jop, pkg/gadget), installing
// and driving whichever one fits the requested call shape. Ported from
// kernel_call/kernel_call_7/kernel_call_x in
// original_source/src/libmemctl/kernel_call.c.
package kernelcall

import (
	"context"
	"encoding/binary"

	"github.com/memctl/memctl-go/pkg/gadget"
	"github.com/memctl/memctl-go/pkg/jop"
	"github.com/memctl/memctl-go/pkg/kernel"
	"github.com/memctl/memctl-go/pkg/merr"
)

const (
	maxTrapArgs   = 7
	maxJopArgs    = 8
	maxTrapResult = 4 // bytes; iokit_user_client_trap returns a 32-bit kern_return_t
	maxJopResult  = 8
	jopPageSize   = 0x4000
)

// Hook is the subset of *traphook.Hook this façade drives: whether it is
// installed, and the seven-argument bootstrap call both paths ultimately
// issue. Expressed as an interface so the façade's path-selection logic can
// be tested without standing up a real IOKit connection.
type Hook interface {
	Installed() bool
	Call(ctx context.Context, io kernel.IO, fn, a0, a1, a2, a3, a4, a5, a6 uint64) (uint32, error)
}

// Caller is the façade: it owns the installed trap hook and (lazily) the
// single JOP payload page the process holds at a time (spec §5's
// shared-resource policy: "It holds at most one JOP payload page").
type Caller struct {
	hook  Hook
	io    kernel.IO
	alloc kernel.Allocator
	found *gadget.Found

	jopPage uint64 // 0 until first JOP call allocates it
}

// New returns a Caller driving calls through hook (which must already be
// installed) and found (the gadget scan result used to pick a JOP
// strategy).
func New(hook Hook, io kernel.IO, alloc kernel.Allocator, found *gadget.Found) *Caller {
	return &Caller{hook: hook, io: io, alloc: alloc, found: found}
}

// Call performs kernel_call(result, result_size, func, argc, argv) (spec
// §4.H). func == 0 is a probe: Call returns true, without performing
// anything, iff a call with this shape (argument count, result size) could
// be performed right now. result is written (zero-extended, little-endian)
// only when a real call is actually made.
func (c *Caller) Call(ctx context.Context, result []byte, fn uint64, argv []uint64) (bool, error) {
	resultSize := len(result)
	if canUseTrapPath(resultSize, argv) && c.hook.Installed() {
		if fn == 0 {
			return true, nil
		}
		return true, c.callTrap(ctx, result, fn, argv)
	}
	if canUseJopPath(resultSize, argv) && jop.HaveStrategy(c.found) && c.hook.Installed() {
		if fn == 0 {
			return true, nil
		}
		return true, c.callJop(ctx, result, fn, argv)
	}
	if fn != 0 {
		return false, merr.New(merr.KindUnavailable,
			"kernel_call: no kernel_call implementation can perform the requested kernel function call")
	}
	return false, nil
}

func canUseTrapPath(resultSize int, argv []uint64) bool {
	return len(argv) <= maxTrapArgs && (len(argv) == 0 || argv[0] != 0) && resultSize <= maxTrapResult
}

func canUseJopPath(resultSize int, argv []uint64) bool {
	return len(argv) <= maxJopArgs && resultSize <= maxJopResult
}

// callTrap drives the direct seven-argument IOKit trap path.
func (c *Caller) callTrap(ctx context.Context, result []byte, fn uint64, argv []uint64) error {
	var args7 [maxTrapArgs]uint64
	args7[0] = 1 // default a0, overwritten below if the caller supplied one
	for i, v := range argv {
		args7[i] = v
	}
	value, err := c.hook.Call(ctx, c.io, fn, args7[0], args7[1], args7[2], args7[3], args7[4], args7[5], args7[6])
	if err != nil {
		return err
	}
	packUint(result, uint64(value))
	return nil
}

// callJop drives the AArch64 JOP path: (re)build the payload for this call,
// write it in one shot, trigger it through the trap hook's bootstrap call,
// and read the result back from the value stack.
func (c *Caller) callJop(ctx context.Context, result []byte, fn uint64, argv []uint64) error {
	page, err := c.ensureJopPage(ctx)
	if err != nil {
		return err
	}

	var args8 [maxJopArgs]uint64
	for i, v := range argv {
		args8[i] = v
	}

	payload := jop.Build(c.found, page, fn, args8)
	if err := c.io.Write(ctx, page, payload.Bytes); err != nil {
		return merr.Wrap(merr.KindKernelIO, err, "could not write JOP payload")
	}

	x := payload.Initial.X
	if _, err := c.hook.Call(ctx, c.io, payload.Initial.PC, x[0], x[1], x[2], x[3], x[4], x[5], x[6]); err != nil {
		return err
	}

	value, err := kernel.ReadUint64(ctx, c.io, payload.ResultAddress)
	if err != nil {
		return merr.Wrap(merr.KindKernelIO, err, "could not read JOP call result")
	}
	packUint(result, value)
	return nil
}

func (c *Caller) ensureJopPage(ctx context.Context) (uint64, error) {
	if c.jopPage != 0 {
		return c.jopPage, nil
	}
	page, err := c.alloc.Allocate(ctx, jopPageSize)
	if err != nil {
		return 0, merr.Wrap(merr.KindOutOfMemory, err, "could not allocate JOP payload page")
	}
	c.jopPage = page
	return page, nil
}

// packUint writes v's low len(buf) bytes into buf in little-endian order,
// mirroring pack_uint in the original CLI support code.
func packUint(buf []byte, v uint64) {
	var full [8]byte
	binary.LittleEndian.PutUint64(full[:], v)
	copy(buf, full[:len(buf)])
}
