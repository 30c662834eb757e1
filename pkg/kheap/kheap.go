// Package kheap implements the kernel heap scanner as an explicit cursor
// (spec §9's "Generator/iterator pattern"), grounded on
// original_source/src/kernel_memory.c's transfer_range_heap: a read that
// misses an unmapped or non-heap page reports the address of the next
// resident, heap-tagged region rather than a hard failure, so a scan can
// walk the whole heap as a sequence of pages without knowing its layout in
// advance.
package kheap

import (
	"context"

	"github.com/memctl/memctl-go/pkg/kernel"
	"github.com/memctl/memctl-go/pkg/merr"
)

// PageSize is the chunk size the cursor reads at a time.
const PageSize = 0x4000

// Page is one resident heap page returned by a Cursor.
type Page struct {
	Addr  uint64
	Bytes []byte
}

// Cursor lazily walks heap-tagged pages of a kernel address space starting
// at or after a given address. Each call to Next reads one more page,
// advancing only as far as the caller asks for: nothing is scanned ahead
// of time, matching the "request the next element" shape of an iterator
// rather than a bulk "scan everything up front" pass.
type Cursor struct {
	io   kernel.IO
	addr uint64
	done bool
}

// NewCursor returns a cursor that will yield heap pages at or after start.
func NewCursor(io kernel.IO, start uint64) *Cursor {
	return &Cursor{io: io, addr: start}
}

// Next returns the next resident heap page, or ok == false once the heap
// has been exhausted (the underlying read reports next == 0, matching
// transfer_range_heap's KERNEL_IO_UNMAPPED-with-no-next-viable-region
// signal at the top of the address space).
func (c *Cursor) Next(ctx context.Context) (Page, bool, error) {
	for !c.done {
		if ctx.Err() != nil {
			return Page{}, false, merr.New(merr.KindInterrupted, "heap scan interrupted")
		}
		buf := make([]byte, PageSize)
		n, next, err := c.io.ReadHeap(ctx, c.addr, buf)
		if err != nil {
			if next == 0 {
				c.done = true
				return Page{}, false, nil
			}
			c.addr = next
			continue
		}
		page := Page{Addr: c.addr, Bytes: buf[:n]}
		c.addr += PageSize
		return page, true, nil
	}
	return Page{}, false, nil
}

// Find walks pages from start looking for a match. match inspects a page
// and returns (result, true) to stop the scan with a result, or (_, false)
// to keep going. Find returns at the first true match, so a caller that
// must detect *two* matches (as spec §4.G step 3's registry entry search
// does) walks a Cursor directly instead; pkg/traphook does so.
func Find(ctx context.Context, io kernel.IO, start uint64, match func(Page) (uint64, bool)) (uint64, bool, error) {
	c := NewCursor(io, start)
	for {
		page, ok, err := c.Next(ctx)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return 0, false, nil
		}
		if result, found := match(page); found {
			return result, true, nil
		}
	}
}
