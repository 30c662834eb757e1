package vtablefinder

import (
	"context"
	"encoding/binary"
	"io"
	"testing"

	"github.com/memctl/memctl-go/pkg/kimage"
	"github.com/memctl/memctl-go/pkg/memctllog"
)

// fakeOracle is a synthetic corpus kernel image: a __mod_init_func entry
// whose constructor stashes a metaclass address, class-name pointer, and
// size into x0/x1/x3 before a bl, plus one candidate vtable in
// __DATA_CONST.__const whose getMetaClass slot (confirmed by simulation)
// reports back the same metaclass address. Mirrors pkg/gadget's
// fakeOracle/buildCorpus pattern.
type fakeOracle struct {
	regions map[string]kimage.Region
}

func (f *fakeOracle) InstructionAt(addr uint64) (uint32, bool) {
	for _, r := range f.regions {
		if addr < r.Base || addr >= r.Base+uint64(len(r.Bytes)) {
			continue
		}
		off := addr - r.Base
		if off+4 > uint64(len(r.Bytes)) {
			return 0, false
		}
		return binary.LittleEndian.Uint32(r.Bytes[off:]), true
	}
	return 0, false
}

func (f *fakeOracle) ResolveSymbol(string) (uint64, bool) { return 0, false }

func (f *fakeOracle) RegionNamed(name string) (kimage.Region, bool) {
	r, ok := f.regions[name]
	return r, ok
}

func (f *fakeOracle) ExecutableRegions() []kimage.Region { return nil }

func putWord(b []byte, off int, w uint32) {
	binary.LittleEndian.PutUint32(b[off:], w)
}

func putDword(b []byte, off int, w uint64) {
	binary.LittleEndian.PutUint64(b[off:], w)
}

// movz encodes "movz xRd, #imm" (imm <= 0xffff, shift 0).
func movz(rd uint8, imm uint16) uint32 {
	return 0xd2800000 | (uint32(imm) << 5) | uint32(rd)
}

const (
	textBase      = 0x1000
	dataBase      = 0x2000
	modInitBase   = 0x3000
	constBase     = 0x4000
	textExecBase  = 0x5000
	initEntry     = textBase + 0x100
	getMetaClass  = textExecBase
	className     = "FakeClass"
	vtableOff     = 0x20
	metaclassAddr = dataBase
)

func buildCorpus() *fakeOracle {
	text := make([]byte, 0x120)
	copy(text, className+"\x00")
	putWord(text, 0x100, movz(0, uint16(dataBase)))  // movz x0, #metaclass addr
	putWord(text, 0x104, movz(1, uint16(textBase)))  // movz x1, #class-name addr
	putWord(text, 0x108, movz(3, 0x40))              // movz x3, #0x40 (size)
	putWord(text, 0x10c, 0x94000000)                 // bl #0 (intercepted, never followed)

	data := make([]byte, 8)

	modInit := make([]byte, 8)
	putDword(modInit, 0, initEntry)

	constRegion := make([]byte, vtableOff+minVtableSlots*8)
	for i := 0; i < minVtableSlots; i++ {
		putDword(constRegion, vtableOff+i*8, 0x4141414141410000|uint64(i)) // filler, never zero
	}
	putDword(constRegion, vtableOff+getMetaClassIndex*8, getMetaClass)

	textExec := make([]byte, 8)
	putWord(textExec, 0, movz(0, uint16(metaclassAddr))) // movz x0, #metaclass addr
	putWord(textExec, 4, 0xd65f03c0)                      // ret

	return &fakeOracle{regions: map[string]kimage.Region{
		"__TEXT":                       {Base: textBase, Bytes: text},
		"__DATA":                       {Base: dataBase, Bytes: data},
		"__DATA_CONST.__mod_init_func": {Base: modInitBase, Bytes: modInit},
		"__DATA_CONST.__const":         {Base: constBase, Bytes: constRegion},
		"__TEXT_EXEC":                  {Base: textExecBase, Bytes: textExec},
	}}
}

func TestFindRecoversAClassFromSimulation(t *testing.T) {
	corpus := buildCorpus()
	log := memctllog.New(io.Discard, "error")

	syms, err := Find(context.Background(), corpus, log)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}

	addr, length, ok := syms.ClassVtable(className)
	if !ok {
		t.Fatalf("expected a vtable binding for %q", className)
	}
	if want := uint64(constBase + vtableOff); addr != want {
		t.Fatalf("vtable addr = %#x, want %#x", addr, want)
	}
	if length != minVtableSlots {
		t.Fatalf("vtable length = %d, want %d", length, minVtableSlots)
	}

	metaclass, ok := syms.ClassMetaclass(className)
	if !ok || metaclass != metaclassAddr {
		t.Fatalf("metaclass = %#x ok=%v, want %#x", metaclass, ok, uint64(metaclassAddr))
	}
}

func TestFindReturnsEmptySymbolsWithoutModInitFunc(t *testing.T) {
	corpus := buildCorpus()
	delete(corpus.regions, "__DATA_CONST.__mod_init_func")
	log := memctllog.New(io.Discard, "error")

	syms, err := Find(context.Background(), corpus, log)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(syms.Lookup()) != 0 {
		t.Fatalf("expected no bindings, got %v", syms.Lookup())
	}
}

func TestFindSkipsACandidateWhoseGetMetaClassDoesNotMatch(t *testing.T) {
	corpus := buildCorpus()
	// Point the vtable's getMetaClass slot at code reporting a metaclass
	// address nothing in __mod_init_func recovered.
	textExec := corpus.regions["__TEXT_EXEC"]
	putWord(textExec.Bytes, 0, movz(0, 0x7777))
	log := memctllog.New(io.Discard, "error")

	syms, err := Find(context.Background(), corpus, log)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if _, _, ok := syms.ClassVtable(className); ok {
		t.Fatalf("expected no vtable binding once getMetaClass reports an unrecovered address")
	}
}

func TestBindIgnoresConflictingVtableOwner(t *testing.T) {
	syms := NewSymbols()
	syms.Bind("First", 0x1000, 10, 0x2000)
	syms.Bind("Second", 0x1000, 10, 0x3000) // same vtable addr, different class

	if _, _, ok := syms.ClassVtable("Second"); ok {
		t.Fatalf("expected the second, conflicting binding to be ignored")
	}
	addr, _, ok := syms.ClassVtable("First")
	if !ok || addr != 0x1000 {
		t.Fatalf("expected the first binding to survive, got addr=%#x ok=%v", addr, ok)
	}
}
