// Package kimage wraps a Mach-O kernel image (or kernelcache) behind the
// narrow Oracle contract the finder and scanner packages depend on (spec
// §4.C): resolving a runtime kernel virtual address to instruction bytes,
// and resolving a symbol name to an address. The Mach-O load-command walk,
// symbol table lookup, and kernelcache decompression themselves are an
// out-of-scope external collaborator per spec §1 — here backed by the real
// github.com/blacktop/go-macho parser rather than stubbed out.
package kimage

import (
	"encoding/binary"
	"fmt"

	macho "github.com/blacktop/go-macho"

	"github.com/memctl/memctl-go/pkg/merr"
)

// Region is a loaded (or mapped) chunk of the image: its runtime base
// address (static address plus slide) and backing bytes, whose length is
// the region's length (spec §5's Region record).
type Region struct {
	Base  uint64
	Bytes []byte
}

func (r Region) contains(addr uint64) bool {
	return addr >= r.Base && addr < r.Base+uint64(len(r.Bytes))
}

// Oracle is the contract ksim, vtablefinder, and gadget depend on. Every
// address in and out is a runtime address (static address plus the current
// kernel slide) — callers are responsible for adding the slide before
// calling in, per spec §4.C.
type Oracle interface {
	InstructionAt(addr uint64) (uint32, bool)
	ResolveSymbol(name string) (uint64, bool)
	// RegionNamed returns the runtime (base, bytes) of the one segment or
	// segment.section with the given name, identified the way Mach-O
	// does: "__SEGMENT" or "__SEGMENT.__section".
	RegionNamed(name string) (Region, bool)
	// ExecutableRegions returns every segment whose protection allows
	// both read and execute, for the gadget scanner (spec §4.E).
	ExecutableRegions() []Region
}

// Image is the real Oracle, backed by a parsed Mach-O file and a kernel
// slide applied uniformly to every static address the file reports.
type Image struct {
	file  *macho.File
	slide uint64

	regions map[string]Region
	exec    []Region
}

// Load parses a kernel Mach-O (or a single architecture slice already
// extracted from a kernelcache) and applies slide to every address it
// subsequently reports. The caller is responsible for discovering slide
// (spec §9: an incorrect slide must be a fatal init error, never silently
// produced — Load does not compute it, callers pass the value they trust).
func Load(path string, slide uint64) (*Image, error) {
	f, err := macho.Open(path)
	if err != nil {
		return nil, merr.Wrap(merr.KindNotFound, err, "open kernel image %s", path)
	}
	img := &Image{file: f, slide: slide, regions: map[string]Region{}}
	if err := img.index(); err != nil {
		f.Close()
		return nil, err
	}
	return img, nil
}

// Close releases the backing file.
func (img *Image) Close() error { return img.file.Close() }

func (img *Image) index() error {
	for _, seg := range img.file.Segments() {
		data, err := seg.Data()
		if err != nil {
			continue
		}
		base := seg.Addr + img.slide
		img.regions[seg.Name] = Region{Base: base, Bytes: data}
		if seg.Prot&0x5 == 0x5 && seg.Maxprot&0x5 == 0x5 { // VM_PROT_READ|VM_PROT_EXECUTE
			img.exec = append(img.exec, Region{Base: base, Bytes: data})
		}
		for _, sec := range seg.Sections() {
			sdata, err := sec.Data()
			if err != nil {
				continue
			}
			key := fmt.Sprintf("%s.%s", seg.Name, sec.Name)
			img.regions[key] = Region{Base: sec.Addr + img.slide, Bytes: sdata}
		}
	}
	return nil
}

// InstructionAt resolves a runtime address to a little-endian 32-bit
// instruction word.
func (img *Image) InstructionAt(addr uint64) (uint32, bool) {
	for _, r := range img.regions {
		if r.contains(addr) {
			off := addr - r.Base
			if off+4 > uint64(len(r.Bytes)) {
				return 0, false
			}
			return binary.LittleEndian.Uint32(r.Bytes[off:]), true
		}
	}
	return 0, false
}

// ResolveSymbol delegates to the Mach-O symbol table, applying slide.
func (img *Image) ResolveSymbol(name string) (uint64, bool) {
	if img.file.Symtab == nil {
		return 0, false
	}
	for _, sym := range img.file.Symtab.Syms {
		if sym.Name == name {
			return sym.Value + img.slide, true
		}
	}
	return 0, false
}

// RegionNamed returns the runtime region for "__SEGMENT" or
// "__SEGMENT.__section".
func (img *Image) RegionNamed(name string) (Region, bool) {
	r, ok := img.regions[name]
	return r, ok
}

// ExecutableRegions returns every read+execute segment, for the gadget
// scanner.
func (img *Image) ExecutableRegions() []Region {
	return img.exec
}

// BytesAt returns up to n bytes starting at a runtime address, for callers
// (the vtable finder) that need to read multi-word structures rather than
// single instructions.
func (img *Image) BytesAt(addr uint64, n int) ([]byte, bool) {
	for _, r := range img.regions {
		if r.contains(addr) {
			off := int(addr - r.Base)
			if off+n > len(r.Bytes) {
				return nil, false
			}
			return r.Bytes[off : off+n], true
		}
	}
	return nil, false
}

// Uint64At reads one little-endian 64-bit word at a runtime address.
func (img *Image) Uint64At(addr uint64) (uint64, bool) {
	b, ok := img.BytesAt(addr, 8)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}
