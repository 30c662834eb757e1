// Package traphook installs and tears down the IOKit trap hook that lets
// the kernel-call façade invoke an arbitrary kernel function with up to
// seven arguments from user space (spec §4.G). Ported from
// original_source/src/libmemctl/kernel_call.c, whose header comment
// documents the technique: replace an IOUserClient subclass instance's
// vtable so that iokit_user_client_trap's getExternalTrapForIndex call
// returns an attacker-controlled IOExternalTrap object instead of the real
// one.
package traphook

import (
	"context"
	"encoding/binary"

	"github.com/memctl/memctl-go/pkg/kernel"
	"github.com/memctl/memctl-go/pkg/kheap"
	"github.com/memctl/memctl-go/pkg/kimage"
	"github.com/memctl/memctl-go/pkg/memctllog"
	"github.com/memctl/memctl-go/pkg/merr"
	"github.com/memctl/memctl-go/pkg/vtablefinder"
)

const (
	// victimService and victimClass name the IOKit service and user-client
	// subclass the original implementation hooks: most sandboxes can open
	// AppleKeyStore, making it a reliable choice on both macOS and iOS.
	victimService = "AppleKeyStore"
	victimClass   = "AppleKeyStoreUserClient"

	// These two mangled names are fixed Itanium ABI symbols on every
	// Darwin kernel that has IOKit; they are looked up directly rather
	// than synthesized by pkg/mangle because their argument encodings
	// ("Ej", "Ev") are outside what this module's synthetic symbol table
	// models.
	getExternalTrapForIndexSymbol = "__ZN12IOUserClient23getExternalTrapForIndexEj"
	getRegistryEntryIDSymbol      = "__ZN15IORegistryEntry18getRegistryEntryIDEv"

	// reservedOffset and fRegistryEntryIDOffset are IORegistryEntry's
	// private layout: the "reserved" ExpansionData pointer sits at word
	// offset 2, and fRegistryEntryID is the second word (offset 8) of
	// ExpansionData.
	reservedOffset         = 2 * 8
	fRegistryEntryIDOffset = 1 * 8

	// openRetryLimit bounds retrying connection-open when more than one
	// new child registry entry appears (spec §4.G step 2).
	openRetryLimit = 5

	trapObjectSize = 3 * 8 // IOExternalTrap{object,func,offset}
)

// Service is the external IOKit collaborator this package depends on but
// does not implement (spec §1: IOKit matching/open/trap are out of core
// scope, named only by interface).
type Service interface {
	// ChildRegistryIDs returns the registry entry IDs of the service's
	// current children.
	ChildRegistryIDs(ctx context.Context) ([]uint64, error)
	// Open opens a new connection to the service (IOServiceOpen).
	Open(ctx context.Context) (Connection, error)
}

// Connection is an open IOKit user-client connection.
type Connection interface {
	// Trap6 issues IOConnectTrap6(conn, selector, a1..a6) and returns the
	// 32-bit kern_return_t-typed result.
	Trap6(ctx context.Context, selector uint32, a1, a2, a3, a4, a5, a6 uint64) (uint32, error)
	// Close closes the connection (IOServiceClose).
	Close(ctx context.Context) error
}

// Hook is the installed (or not-yet-installed) trap hook state, matching
// spec §3's "Trap hook" record.
type Hook struct {
	conn Connection

	userClient       uint64
	userClientID     uint64
	userClientIDAddr uint64

	vtableAddr uint64
	vtableLen  int

	hookedVtableAddr uint64
	trapAddr         uint64

	installed bool
}

// Installed reports whether the hook is currently installed.
func (h *Hook) Installed() bool { return h != nil && h.installed }

// Install runs the six-step sequence of spec §4.G: locate the victim
// vtable, open a connection with a known instance address, find that
// instance on the kernel heap, build a hooked vtable, allocate the trap
// object, and patch the instance. On any failure it leaves nothing
// installed, but best-effort frees whatever it already allocated.
func Install(ctx context.Context, io kernel.IO, alloc kernel.Allocator, img kimage.Oracle,
	syms *vtablefinder.Symbols, service Service, log *memctllog.Logger) (*Hook, error) {

	h := &Hook{}

	vtableAddr, vtableLen, ok := syms.ClassVtable(victimClass)
	if !ok {
		return nil, merr.New(merr.KindNotFound, "could not locate vtable for class %s", victimClass)
	}
	h.vtableAddr, h.vtableLen = vtableAddr, vtableLen

	conn, id, err := openWithKnownID(ctx, service)
	if err != nil {
		return nil, err
	}
	h.conn, h.userClientID = conn, id

	userClient, idAddr, err := findRegistryEntryWithID(ctx, io, h.vtableAddr, id)
	if err != nil {
		h.conn.Close(ctx)
		return nil, err
	}
	h.userClient, h.userClientIDAddr = userClient, idAddr

	hookedVtable, err := buildHookedVtable(ctx, io, alloc, img, h.vtableAddr, h.vtableLen)
	if err != nil {
		h.conn.Close(ctx)
		return nil, err
	}
	h.hookedVtableAddr = hookedVtable

	trapAddr, err := alloc.Allocate(ctx, trapObjectSize)
	if err != nil {
		Uninstall(ctx, h, io, alloc)
		return nil, merr.Wrap(merr.KindOutOfMemory, err, "could not allocate trap object")
	}
	h.trapAddr = trapAddr

	if err := kernel.WriteUint64(ctx, io, h.userClientIDAddr, h.trapAddr); err != nil {
		Uninstall(ctx, h, io, alloc)
		return nil, merr.Wrap(merr.KindKernelIO, err, "could not set user client's registry entry ID")
	}
	if err := kernel.WriteUint64(ctx, io, h.userClient, h.hookedVtableAddr); err != nil {
		Uninstall(ctx, h, io, alloc)
		return nil, merr.Wrap(merr.KindKernelIO, err, "could not replace user client vtable")
	}
	h.installed = true

	if log != nil {
		log.Info("trap hook installed", "class", victimClass, "user_client", h.userClient)
	}
	return h, nil
}

// openWithKnownID opens a connection to the victim service and determines
// the connection's registry entry ID by diffing the service's children
// before and after opening (spec §4.G step 2): there is no official API to
// retrieve an io_connect_t's registry entry ID directly.
func openWithKnownID(ctx context.Context, service Service) (Connection, uint64, error) {
	var lastErr error
	for try := 0; try < openRetryLimit; try++ {
		before, err := service.ChildRegistryIDs(ctx)
		if err != nil {
			return nil, 0, merr.Wrap(merr.KindUnavailable, err, "could not enumerate children of %s", victimService)
		}
		conn, err := service.Open(ctx)
		if err != nil {
			return nil, 0, merr.Wrap(merr.KindUnavailable, err, "could not open service %s", victimService)
		}
		after, err := service.ChildRegistryIDs(ctx)
		if err != nil {
			conn.Close(ctx)
			return nil, 0, merr.Wrap(merr.KindUnavailable, err, "could not enumerate children of %s", victimService)
		}

		newIDs := setDifference(after, before)
		switch len(newIDs) {
		case 1:
			return conn, newIDs[0], nil
		case 0:
			conn.Close(ctx)
			lastErr = merr.New(merr.KindUnavailable, "no new child registry entry appeared after opening %s", victimService)
		default:
			conn.Close(ctx)
			lastErr = merr.New(merr.KindUnavailable, "more than one new child registry entry appeared after opening %s", victimService)
		}
	}
	if lastErr == nil {
		lastErr = merr.New(merr.KindUnavailable, "retry limit exceeded opening %s", victimService)
	}
	return nil, 0, lastErr
}

func setDifference(after, before []uint64) []uint64 {
	seen := make(map[uint64]bool, len(before))
	for _, id := range before {
		seen[id] = true
	}
	var out []uint64
	for _, id := range after {
		if !seen[id] {
			out = append(out, id)
		}
	}
	return out
}

// heapIO is kernel.IO restricted to its heap-only read, used so a single
// word read can be issued with the same "heap only" semantics the page
// scan itself uses, matching kernel_read_word(kernel_read_heap, ...) in
// the original.
type heapIO struct{ kernel.IO }

func (h heapIO) Read(ctx context.Context, addr uint64, buf []byte) (int, uint64, error) {
	return h.IO.ReadHeap(ctx, addr, buf)
}

// findRegistryEntryWithID scans the kernel heap page by page looking for an
// IORegistryEntry subclass instance whose first word matches vtable and
// whose fRegistryEntryID field equals id (spec §4.G step 3). It is an error
// for two distinct matches to exist.
func findRegistryEntryWithID(ctx context.Context, io kernel.IO, vtable, id uint64) (object, idAddr uint64, err error) {
	cursor := kheap.NewCursor(io, 0)
	for {
		page, ok, nerr := cursor.Next(ctx)
		if nerr != nil {
			return 0, 0, nerr
		}
		if !ok {
			break
		}

		buf, n := page.Bytes, len(page.Bytes)
		for off := 0; off+8 <= n; off += 8 {
			if binary.LittleEndian.Uint64(buf[off:off+8]) != vtable {
				continue
			}
			reserved, ok := wordAt(ctx, io, buf, n, page.Addr, off+reservedOffset)
			if !ok {
				continue
			}
			fidAddr := reserved + fRegistryEntryIDOffset
			fid, ferr := kernel.ReadUint64(ctx, heapIO{io}, fidAddr)
			if ferr != nil || fid != id {
				continue
			}
			if object != 0 {
				return 0, 0, merr.New(merr.KindUnavailable, "found two registry entries with ID %#x", id)
			}
			object = page.Addr + uint64(off)
			idAddr = fidAddr
		}
	}
	if object == 0 {
		return 0, 0, merr.New(merr.KindNotFound, "could not find address of registry entry")
	}
	return object, idAddr, nil
}

// wordAt reads a 64-bit word at base+off, preferring the already-fetched
// page buffer and falling back to a fresh heap read when off falls past
// what was read (mirrors the original's split read path for fields that
// straddle a page boundary).
func wordAt(ctx context.Context, io kernel.IO, buf []byte, n int, base uint64, off int) (uint64, bool) {
	if off >= 0 && off+8 <= n {
		return binary.LittleEndian.Uint64(buf[off : off+8]), true
	}
	v, err := kernel.ReadUint64(ctx, heapIO{io}, base+uint64(off))
	if err != nil {
		return 0, false
	}
	return v, true
}

// buildHookedVtable copies the victim vtable, replaces the
// getExternalTrapForIndex slot with getRegistryEntryID, and writes the
// result to freshly allocated kernel memory (spec §4.G step 4).
func buildHookedVtable(ctx context.Context, io kernel.IO, alloc kernel.Allocator, img kimage.Oracle,
	vtableAddr uint64, vtableLen int) (uint64, error) {

	getExternalTrap, ok := img.ResolveSymbol(getExternalTrapForIndexSymbol)
	if !ok {
		return 0, merr.New(merr.KindNotFound, "could not find symbol %s", getExternalTrapForIndexSymbol)
	}
	getRegistryEntryID, ok := img.ResolveSymbol(getRegistryEntryIDSymbol)
	if !ok {
		return 0, merr.New(merr.KindNotFound, "could not find symbol %s", getRegistryEntryIDSymbol)
	}

	buf := make([]byte, vtableLen*8)
	n, _, err := io.Read(ctx, vtableAddr, buf)
	if err != nil || n != len(buf) {
		return 0, merr.Wrap(merr.KindKernelIO, err, "could not read %s vtable", victimClass)
	}

	replaced := false
	for i := 0; i < vtableLen; i++ {
		word := binary.LittleEndian.Uint64(buf[i*8 : i*8+8])
		if word == getExternalTrap {
			binary.LittleEndian.PutUint64(buf[i*8:i*8+8], getRegistryEntryID)
			replaced = true
		}
	}
	if !replaced {
		return 0, merr.New(merr.KindNotFound, "%s vtable did not contain target method", victimClass)
	}

	hookedAddr, err := alloc.Allocate(ctx, uint64(len(buf)))
	if err != nil {
		return 0, merr.Wrap(merr.KindOutOfMemory, err, "could not allocate replacement vtable")
	}
	if err := io.Write(ctx, hookedAddr, buf); err != nil {
		alloc.Deallocate(ctx, hookedAddr, uint64(len(buf)))
		return 0, merr.Wrap(merr.KindKernelIO, err, "could not write new vtable into kernel memory")
	}
	return hookedAddr, nil
}

// Call invokes fn(a0..a6) through the installed hook: write the trap
// object, then issue IOConnectTrap6 (spec §4.G "Call path"). a0 must be
// non-zero (the trap->object pointer is nil-checked before invocation).
func (h *Hook) Call(ctx context.Context, io kernel.IO, fn, a0, a1, a2, a3, a4, a5, a6 uint64) (uint32, error) {
	if !h.installed {
		return 0, merr.New(merr.KindUnavailable, "trap hook is not installed")
	}
	if a0 == 0 {
		return 0, merr.New(merr.KindUnavailable, "trap hook call requires a non-zero first argument")
	}
	var trap [24]byte
	binary.LittleEndian.PutUint64(trap[0:8], a0)
	binary.LittleEndian.PutUint64(trap[8:16], fn)
	binary.LittleEndian.PutUint64(trap[16:24], 0)
	if err := io.Write(ctx, h.trapAddr, trap[:]); err != nil {
		return 0, merr.Wrap(merr.KindKernelIO, err, "could not write trap to kernel memory")
	}
	return h.conn.Trap6(ctx, 0, a1, a2, a3, a4, a5, a6)
}

// Uninstall restores the original vtable pointer, closes the connection,
// and frees the hooked vtable and trap object, in that order (spec §4.G:
// "restoring the vtable first ensures the class is safe even if subsequent
// steps fail"). It tolerates a partially-built Hook (as produced by a
// failed Install) and is always safe to call more than once.
func Uninstall(ctx context.Context, h *Hook, io kernel.IO, alloc kernel.Allocator) {
	if h == nil {
		return
	}
	if h.installed {
		kernel.WriteUint64(ctx, io, h.userClient, h.vtableAddr)
		h.installed = false
	}
	if h.conn != nil {
		h.conn.Close(ctx)
		h.conn = nil
	}
	if h.hookedVtableAddr != 0 {
		alloc.Deallocate(ctx, h.hookedVtableAddr, uint64(h.vtableLen)*8)
		h.hookedVtableAddr = 0
	}
	if h.trapAddr != 0 {
		alloc.Deallocate(ctx, h.trapAddr, trapObjectSize)
		h.trapAddr = 0
	}
}
