package gadget

import (
	"context"
	"encoding/binary"

	"github.com/memctl/memctl-go/pkg/kimage"
	"github.com/memctl/memctl-go/pkg/merr"
)

// Found is the result of a scan: a fresh copy of Catalog with Addr/Found
// populated for every entry the scan located.
type Found struct {
	gadgets [count]Gadget
}

// Get returns the catalog entry for id, with Addr/Found set if the scan
// located it.
func (f *Found) Get(id ID) Gadget { return f.gadgets[id] }

// Have reports whether id was located.
func (f *Found) Have(id ID) bool { return f.gadgets[id].Found }

// Missing returns the IDs that were not located, for diagnostics (spec
// §8.5: "missing entries must name themselves").
func (f *Found) Missing() []ID {
	var out []ID
	for i := range f.gadgets {
		if !f.gadgets[i].Found {
			out = append(out, ID(i))
		}
	}
	return out
}

// Scan sweeps every read+execute segment of img at four-byte-aligned
// offsets looking for every catalog entry not yet found, per spec §4.E. It
// is interruptible via ctx; partial results are still returned (the caller,
// jop.HaveStrategy, decides whether what was found is enough).
func Scan(ctx context.Context, img kimage.Oracle) (*Found, error) {
	found := &Found{}
	for i := range Catalog {
		found.gadgets[i] = Catalog[i]
	}

	remaining := len(Catalog)
	for _, region := range img.ExecutableRegions() {
		if remaining == 0 {
			break
		}
		for off := 0; off+4 <= len(region.Bytes); off += 4 {
			if ctx.Err() != nil {
				return found, merr.New(merr.KindInterrupted, "gadget scan interrupted")
			}
			for i := range found.gadgets {
				g := &found.gadgets[i]
				if g.Found {
					continue
				}
				byteLen := len(g.Words) * 4
				if off+byteLen > len(region.Bytes) {
					continue
				}
				if matches(region.Bytes[off:off+byteLen], g.Words) {
					g.Addr = region.Base + uint64(off)
					g.Found = true
					remaining--
				}
			}
			if remaining == 0 {
				break
			}
		}
	}
	return found, nil
}

func matches(data []byte, words []uint32) bool {
	for i, w := range words {
		if binary.LittleEndian.Uint32(data[i*4:]) != w {
			return false
		}
	}
	return true
}
