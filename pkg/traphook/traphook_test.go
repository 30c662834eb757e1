package traphook

import (
	"context"
	"testing"

	"github.com/memctl/memctl-go/pkg/kernel"
	"github.com/memctl/memctl-go/pkg/kimage"
	"github.com/memctl/memctl-go/pkg/vtablefinder"
)

// fakeSymbolOracle resolves only the two fixed method symbols the vtable
// swap needs.
type fakeSymbolOracle struct {
	symbols map[string]uint64
}

func (f *fakeSymbolOracle) InstructionAt(uint64) (uint32, bool)       { return 0, false }
func (f *fakeSymbolOracle) RegionNamed(string) (kimage.Region, bool)  { return kimage.Region{}, false }
func (f *fakeSymbolOracle) ExecutableRegions() []kimage.Region        { return nil }
func (f *fakeSymbolOracle) ResolveSymbol(name string) (uint64, bool) {
	v, ok := f.symbols[name]
	return v, ok
}

type fakeConnection struct {
	closed bool
	// calls, io and trap are not populated: Trap6 below only returns a
	// fixed result, and no test sets them.
	calls []uint64
	io    kernel.IO
	trap  *uint64
}

func (c *fakeConnection) Trap6(ctx context.Context, selector uint32, a1, a2, a3, a4, a5, a6 uint64) (uint32, error) {
	return 0x2a, nil
}

func (c *fakeConnection) Close(ctx context.Context) error {
	c.closed = true
	return nil
}

type fakeService struct {
	childIDs [][]uint64 // successive snapshots returned on each ChildRegistryIDs call
	call     int
	nextConn Connection
}

func (s *fakeService) ChildRegistryIDs(ctx context.Context) ([]uint64, error) {
	ids := s.childIDs[s.call]
	s.call++
	return ids, nil
}

func (s *fakeService) Open(ctx context.Context) (Connection, error) {
	return s.nextConn, nil
}

const (
	getExternalTrap    = uint64(0xfff0_1000)
	getRegistryEntryID = uint64(0xfff0_2000)
	otherVtableSlot    = uint64(0xfff0_3000)
)

func buildFixture(t *testing.T) (*kernel.Fake, kimage.Oracle, *vtablefinder.Symbols, *fakeService) {
	t.Helper()
	fake := kernel.NewFake()

	vtableAddr := uint64(0x9000_0000)
	vtableLen := 3
	vtableWords := []uint64{otherVtableSlot, getExternalTrap, otherVtableSlot}
	var vtableBytes []byte
	for _, w := range vtableWords {
		var b [8]byte
		putLE(&b, w)
		vtableBytes = append(vtableBytes, b[:]...)
	}
	fake.MapBytes(vtableAddr, vtableBytes)

	syms := vtablefinder.NewSymbols()
	syms.Bind(victimClass, vtableAddr, vtableLen, 0xdead)

	// Place a user-client instance on the heap: first word is the
	// vtable pointer, the "reserved" word (offset 0x10) points at an
	// ExpansionData block whose fRegistryEntryID (offset 0x8 within it)
	// holds the instance's registry entry ID.
	// Kept inside the heap's first page so the scan in
	// findRegistryEntryWithID finds them on its very first read.
	instanceAddr := uint64(0x1000)
	expansionAddr := uint64(0x2000)
	const instanceID = uint64(777)

	var instance [0x18]byte
	putLEAt(instance[:], 0, vtableAddr)
	putLEAt(instance[:], reservedOffset, expansionAddr)
	fake.MapBytes(instanceAddr, instance[:])
	fake.MarkHeap(instanceAddr)

	var expansion [0x10]byte
	putLEAt(expansion[:], fRegistryEntryIDOffset, instanceID)
	fake.MapBytes(expansionAddr, expansion[:])
	fake.MarkHeap(expansionAddr)

	service := &fakeService{
		childIDs: [][]uint64{{1, 2, 3}, {1, 2, 3, instanceID}},
		nextConn: &fakeConnection{},
	}

	oracle := &fakeSymbolOracle{symbols: map[string]uint64{
		getExternalTrapForIndexSymbol: getExternalTrap,
		getRegistryEntryIDSymbol:      getRegistryEntryID,
	}}

	return fake, oracle, syms, service
}

func putLE(b *[8]byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

func putLEAt(buf []byte, off int, v uint64) {
	for i := 0; i < 8; i++ {
		buf[off+i] = byte(v)
		v >>= 8
	}
}

func TestInstallThenUninstall(t *testing.T) {
	fake, oracle, syms, service := buildFixture(t)
	ctx := context.Background()

	h, err := Install(ctx, fake, fake, oracle, syms, service, nil)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !h.Installed() {
		t.Fatalf("expected hook to report installed")
	}

	result, err := h.Call(ctx, fake, 0xffff_4000, 0x41, 1, 2, 3, 4, 5, 6)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != 0x2a {
		t.Fatalf("unexpected trap result: %#x", result)
	}

	Uninstall(ctx, h, fake, fake)
	if h.Installed() {
		t.Fatalf("expected hook to report uninstalled after Uninstall")
	}

	restored, err := kernel.ReadUint64(ctx, fake, h.userClient)
	if err != nil {
		t.Fatalf("read back instance vtable pointer: %v", err)
	}
	if restored != h.vtableAddr {
		t.Fatalf("vtable pointer not restored: got %#x want %#x", restored, h.vtableAddr)
	}
}

func TestCallRejectsZeroFirstArgument(t *testing.T) {
	fake, oracle, syms, service := buildFixture(t)
	ctx := context.Background()

	h, err := Install(ctx, fake, fake, oracle, syms, service, nil)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if _, err := h.Call(ctx, fake, 0xffff_4000, 0, 1, 2, 3, 4, 5, 6); err == nil {
		t.Fatalf("expected an error calling with a0 == 0")
	}
}
