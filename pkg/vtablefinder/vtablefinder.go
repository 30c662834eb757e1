// Package vtablefinder implements the metaclass/vtable discovery engine of
// spec §4.D: given a kernel image, populate a synthetic symbol table mapping
// each C++ class to its vtable and OSMetaClass instance, by simulating
// mod-init-func constructors and confirming candidates found in
// __DATA_CONST.__const against getMetaClass's body. Ported from
// original_source/src/libmemctl/aarch64/finder/vtables.c.
package vtablefinder

import (
	"context"
	"encoding/binary"

	"github.com/memctl/memctl-go/pkg/aarch64"
	"github.com/memctl/memctl-go/pkg/kimage"
	"github.com/memctl/memctl-go/pkg/ksim"
	"github.com/memctl/memctl-go/pkg/mangle"
	"github.com/memctl/memctl-go/pkg/memctllog"
)

const (
	// initializerBudget bounds how many instructions a single
	// mod-init-func is simulated for (spec §4.D step 1).
	initializerBudget = 256
	// getMetaClassBudget bounds the confirmation simulation of a
	// candidate vtable's seventh method (spec §4.D step 3).
	getMetaClassBudget = 8
	// vtablePrologueWords is the two zero words (offset-to-top,
	// type-info) every Itanium vtable is preceded by.
	vtablePrologueWords = 2
	// minVtableSlots is how many consecutive non-zero words must follow
	// a candidate's prologue to be considered.
	minVtableSlots = 12
	// getMetaClassIndex is the vtable slot (0-based) holding
	// getMetaClass, confirmed via simulation.
	getMetaClassIndex = 6
)

// Metaclass is one (address, class-name) pair recorded from a mod-init-func
// simulation, before it has been matched to a vtable.
type Metaclass struct {
	Addr      uint64
	ClassName string
}

// Binding is a confirmed (class-name, vtable, metaclass) triple, plus the
// vtable's scanned length in 8-byte slots.
type Binding struct {
	ClassName   string
	VtableAddr  uint64
	VtableLen   int
	MetaClass   uint64
}

// Symbols is the synthetic symbol table the finder populates: append-only
// for the lifetime of the kernel-image handle (spec §5's shared-resource
// policy).
type Symbols struct {
	byClass map[string]*Binding
	vtables map[uint64]string // vtable addr -> class name, first writer wins
}

// NewSymbols returns an empty synthetic symbol table.
func NewSymbols() *Symbols {
	return &Symbols{byClass: map[string]*Binding{}, vtables: map[uint64]string{}}
}

// ClassVtable returns the (addr, length) binding the spec's
// class_vtable(class_name) interface exposes.
func (s *Symbols) ClassVtable(className string) (addr uint64, length int, ok bool) {
	b, ok := s.byClass[className]
	if !ok {
		return 0, 0, false
	}
	return b.VtableAddr, b.VtableLen, true
}

// ClassMetaclass returns the class_metaclass(class_name) binding.
func (s *Symbols) ClassMetaclass(className string) (uint64, bool) {
	b, ok := s.byClass[className]
	if !ok {
		return 0, false
	}
	return b.MetaClass, true
}

// Lookup returns every binding found so far, for callers enumerating
// discovered classes (the CLI's classes command).
func (s *Symbols) Lookup() []Binding {
	out := make([]Binding, 0, len(s.byClass))
	for _, b := range s.byClass {
		out = append(out, *b)
	}
	return out
}

func (s *Symbols) bind(className string, vtableAddr uint64, vtableLen int, metaclass uint64) {
	s.Bind(className, vtableAddr, vtableLen, metaclass)
}

// Bind records a (class, vtable, metaclass) binding directly, ignoring
// conflicting or duplicate entries exactly as the scan-driven path does.
// Exported so callers that already know a class's layout (a cached run, a
// hand-supplied offset, a test fixture) can seed the table without running
// the finder.
func (s *Symbols) Bind(className string, vtableAddr uint64, vtableLen int, metaclass uint64) {
	if existing, ok := s.vtables[vtableAddr]; ok && existing != className {
		return // conflicting binding: keep the first, per spec §4.D
	}
	if _, ok := s.byClass[className]; ok {
		return // duplicate: ignore
	}
	s.vtables[vtableAddr] = className
	s.byClass[className] = &Binding{ClassName: className, VtableAddr: vtableAddr, VtableLen: vtableLen, MetaClass: metaclass}
}

// simOracle adapts kimage.Oracle to ksim.Oracle (the same narrow
// instruction-fetch contract, named differently per package boundary).
type simOracle struct{ img kimage.Oracle }

func (o simOracle) InstructionAt(addr uint64) (uint32, bool) { return o.img.InstructionAt(addr) }

// Find runs the full three-phase algorithm against img and returns the
// populated symbol table. It is best-effort: individual candidates that
// fail validation are silently skipped (spec §4.D's failure semantics), and
// Find itself only returns an error for cancellation.
func Find(ctx context.Context, img kimage.Oracle, log *memctllog.Logger) (*Symbols, error) {
	syms := NewSymbols()
	oracle := simOracle{img: img}

	metaclasses, err := collectMetaclasses(ctx, img, oracle, log)
	if err != nil {
		return nil, err
	}
	if len(metaclasses) == 0 {
		log.Debug("vtablefinder: no metaclasses recovered from mod-init-funcs")
		return syms, nil
	}

	byAddr := make(map[uint64]Metaclass, len(metaclasses))
	for _, m := range metaclasses {
		byAddr[m.Addr] = m
	}

	if err := scanForVtables(ctx, img, oracle, byAddr, syms, log); err != nil {
		return nil, err
	}
	return syms, nil
}

// collectMetaclasses implements spec §4.D step 1.
func collectMetaclasses(ctx context.Context, img kimage.Oracle, oracle ksim.Oracle, log *memctllog.Logger) ([]Metaclass, error) {
	modInit, ok := img.RegionNamed("__DATA_CONST.__mod_init_func")
	if !ok {
		return nil, nil
	}
	dataRegion, _ := img.RegionNamed("__DATA")
	textRegion, _ := img.RegionNamed("__TEXT")

	var found []Metaclass
	for off := 0; off+8 <= len(modInit.Bytes); off += 8 {
		if ctx.Err() != nil {
			return found, ctx.Err()
		}
		fn := binary.LittleEndian.Uint64(modInit.Bytes[off:])
		if fn == 0 {
			continue
		}
		found = append(found, simulateInitializer(fn, oracle, dataRegion, textRegion)...)
	}
	log.Info("vtablefinder: recovered metaclasses from mod-init-funcs", "count", len(found))
	return found, nil
}

func simulateInitializer(entry uint64, oracle ksim.Oracle, dataRegion, textRegion kimage.Region) []Metaclass {
	var found []Metaclass
	s := ksim.New(entry)
	s.MaxInstructions = initializerBudget
	s.HandleBranch = func(st *ksim.State, ins aarch64.Instruction, target uint64, cond ksim.BranchCondition) (bool, bool) {
		if ins.Kind == aarch64.KindB && ins.BI.Link {
			// This is the OSMetaClass::OSMetaClass(this, name, super,
			// size) call site: inspect x0/x1/x3 as spec §4.D step 1
			// describes, then continue simulating past it (the
			// clobber still happens via the caller's normal BL
			// handling — we just observe state first).
			if m, ok := metaclassFromCallSite(st, dataRegion, textRegion); ok {
				found = append(found, m)
			}
			return false, false // do not follow the call; keep scanning
		}
		return false, false
	}
	_ = s.Run(context.Background(), oracle)
	return found
}

func metaclassFromCallSite(s *ksim.State, dataRegion, textRegion kimage.Region) (Metaclass, bool) {
	x0 := s.Regs.Get(aarch64.X0)
	x1 := s.Regs.Get(aarch64.X1)
	x3 := s.Regs.Get(aarch64.X3)
	if !x0.Known || !regionContains(dataRegion, x0.Val) {
		return Metaclass{}, false
	}
	if !x1.Known || !regionContains(textRegion, x1.Val) {
		return Metaclass{}, false
	}
	if !x3.Known || x3.Val >= 1<<32 {
		return Metaclass{}, false
	}
	name, ok := readCString(textRegion, x1.Val)
	if !ok {
		return Metaclass{}, false
	}
	return Metaclass{Addr: x0.Val, ClassName: name}, true
}

func regionContains(r kimage.Region, addr uint64) bool {
	return addr >= r.Base && addr < r.Base+uint64(len(r.Bytes))
}

func readCString(r kimage.Region, addr uint64) (string, bool) {
	if !regionContains(r, addr) {
		return "", false
	}
	off := addr - r.Base
	end := off
	for end < uint64(len(r.Bytes)) && r.Bytes[end] != 0 {
		end++
	}
	if end == off {
		return "", false
	}
	return string(r.Bytes[off:end]), true
}

// scanForVtables implements spec §4.D steps 2 and 3.
func scanForVtables(ctx context.Context, img kimage.Oracle, oracle ksim.Oracle, byAddr map[uint64]Metaclass, syms *Symbols, log *memctllog.Logger) error {
	constRegion, ok := img.RegionNamed("__DATA_CONST.__const")
	if !ok {
		return nil
	}
	textExec, _ := img.RegionNamed("__TEXT_EXEC")

	confirmed := 0
	for off := 0; off+8 <= len(constRegion.Bytes); off += 8 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if off < vtablePrologueWords*8 {
			continue
		}
		v := constRegion.Base + uint64(off)
		if !isCandidateVtable(constRegion, off, textExec) {
			continue
		}
		slot6 := binary.LittleEndian.Uint64(constRegion.Bytes[off+getMetaClassIndex*8:])
		result, ok := simulateGetMetaClass(slot6, oracle)
		if !ok {
			continue
		}
		m, ok := byAddr[result]
		if !ok {
			continue
		}
		length := scanVtableLength(constRegion, off)
		syms.bind(m.ClassName, v, length, m.Addr)
		confirmed++
	}
	log.Info("vtablefinder: confirmed vtables", "count", confirmed)
	return nil
}

func isCandidateVtable(r kimage.Region, off int, textExec kimage.Region) bool {
	prologue1 := binary.LittleEndian.Uint64(r.Bytes[off-16:])
	prologue2 := binary.LittleEndian.Uint64(r.Bytes[off-8:])
	if prologue1 != 0 || prologue2 != 0 {
		return false
	}
	if off+minVtableSlots*8 > len(r.Bytes) {
		return false
	}
	for i := 0; i < minVtableSlots; i++ {
		if binary.LittleEndian.Uint64(r.Bytes[off+i*8:]) == 0 {
			return false
		}
	}
	slot6 := binary.LittleEndian.Uint64(r.Bytes[off+getMetaClassIndex*8:])
	return regionContains(textExec, slot6)
}

func scanVtableLength(r kimage.Region, off int) int {
	n := 0
	for off+n*8 < len(r.Bytes) && binary.LittleEndian.Uint64(r.Bytes[off+n*8:]) != 0 {
		n++
	}
	return n
}

func simulateGetMetaClass(entry uint64, oracle ksim.Oracle) (uint64, bool) {
	s := ksim.New(entry)
	s.MaxInstructions = getMetaClassBudget
	if err := s.Run(context.Background(), oracle); err != nil {
		return 0, false
	}
	x0 := s.Regs.Get(aarch64.X0)
	if !x0.Known {
		return 0, false
	}
	return x0.Val, true
}

// VtableSymbol returns the synthetic "vtable for K" name this binding
// would be published under.
func (b Binding) VtableSymbol() string { return mangle.Vtable(b.ClassName) }

// MetaClassSymbol returns the synthetic "K::gMetaClass" name.
func (b Binding) MetaClassSymbol() string { return mangle.MetaClass(b.ClassName) }
