package kernel

import (
	"context"
	"sort"

	"github.com/memctl/memctl-go/pkg/merr"
)

// page is one fixed-size block of the fake's sparse address space.
const pageSize = 0x4000

// Fake is an in-memory IO + Allocator used by tests that need a kernel
// address space without a real device: a sparse map of 16KiB pages, with
// reads into unmapped pages failing as spec §6 describes (kernel_read_unsafe
// returning the next viable address rather than a hard error).
type Fake struct {
	pages map[uint64][]byte // keyed by page-aligned base
	heap  map[uint64]bool   // set of page bases flagged as heap-tagged
	next  uint64            // bump allocator cursor for Allocate
}

// NewFake returns an empty Fake kernel address space.
func NewFake() *Fake {
	return &Fake{pages: map[uint64][]byte{}, heap: map[uint64]bool{}, next: 0x1_0000_0000}
}

func pageBase(addr uint64) uint64 { return addr &^ (pageSize - 1) }

func (f *Fake) page(base uint64, create bool) []byte {
	p, ok := f.pages[base]
	if !ok {
		if !create {
			return nil
		}
		p = make([]byte, pageSize)
		f.pages[base] = p
	}
	return p
}

// MapBytes installs data at addr, allocating backing pages as needed.
func (f *Fake) MapBytes(addr uint64, data []byte) {
	for i := 0; i < len(data); {
		base := pageBase(addr + uint64(i))
		p := f.page(base, true)
		off := int(addr+uint64(i)) - int(base)
		n := copy(p[off:], data[i:])
		i += n
	}
}

// MarkHeap flags the page containing addr as kernel-heap-tagged, so
// ReadHeap/WriteHeap will serve it.
func (f *Fake) MarkHeap(addr uint64) { f.heap[pageBase(addr)] = true }

func (f *Fake) read(addr uint64, buf []byte, heapOnly bool) (int, uint64, error) {
	total := 0
	for total < len(buf) {
		cur := addr + uint64(total)
		base := pageBase(cur)
		p := f.page(base, false)
		if p == nil || (heapOnly && !f.heap[base]) {
			if total > 0 {
				return total, base + pageSize, nil
			}
			next := base + pageSize
			if heapOnly {
				// Mirror mach_vm_region's behavior of naming the next
				// resident region rather than blindly stepping by one
				// page; once no further heap page exists, next is 0,
				// the scan's termination signal.
				next = f.nextHeapBaseAfter(base)
			}
			return 0, next, merr.AtAddr(merr.KindProtection, cur, "unmapped page")
		}
		off := int(cur) - int(base)
		n := copy(buf[total:], p[off:])
		total += n
	}
	return total, 0, nil
}

// nextHeapBaseAfter returns the lowest heap-tagged page base strictly
// greater than base, or 0 if none exists.
func (f *Fake) nextHeapBaseAfter(base uint64) uint64 {
	best := uint64(0)
	for b := range f.heap {
		if b <= base {
			continue
		}
		if best == 0 || b < best {
			best = b
		}
	}
	return best
}

func (f *Fake) write(addr uint64, buf []byte, heapOnly bool) error {
	for total := 0; total < len(buf); {
		cur := addr + uint64(total)
		base := pageBase(cur)
		p := f.page(base, !heapOnly)
		if p == nil || (heapOnly && !f.heap[base]) {
			return merr.AtAddr(merr.KindProtection, cur, "unmapped page")
		}
		off := int(cur) - int(base)
		n := copy(p[off:], buf[total:])
		total += n
	}
	return nil
}

func (f *Fake) Read(_ context.Context, addr uint64, buf []byte) (int, uint64, error) {
	return f.read(addr, buf, false)
}

func (f *Fake) Write(_ context.Context, addr uint64, buf []byte) error {
	return f.write(addr, buf, false)
}

func (f *Fake) ReadHeap(_ context.Context, addr uint64, buf []byte) (int, uint64, error) {
	return f.read(addr, buf, true)
}

func (f *Fake) WriteHeap(_ context.Context, addr uint64, buf []byte) error {
	return f.write(addr, buf, true)
}

// Allocate hands out the next page-aligned range and zero-fills it,
// matching mach_vm_allocate's guarantee.
func (f *Fake) Allocate(_ context.Context, size uint64) (uint64, error) {
	addr := f.next
	pages := (size + pageSize - 1) / pageSize
	f.next += pages * pageSize
	f.MapBytes(addr, make([]byte, pages*pageSize))
	return addr, nil
}

// Deallocate removes the backing pages in [kaddr, kaddr+size).
func (f *Fake) Deallocate(_ context.Context, kaddr uint64, size uint64) error {
	var bases []uint64
	for base := pageBase(kaddr); base < kaddr+size; base += pageSize {
		bases = append(bases, base)
	}
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })
	for _, b := range bases {
		delete(f.pages, b)
		delete(f.heap, b)
	}
	return nil
}
