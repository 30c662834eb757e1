package gadget

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/memctl/memctl-go/pkg/kimage"
)

// fakeOracle is a synthetic corpus kernel: one executable region holding
// every catalog gadget back-to-back, interspersed with filler words so the
// scan has to actually search rather than match at offset zero every time.
type fakeOracle struct {
	regions []kimage.Region
}

func (f *fakeOracle) InstructionAt(addr uint64) (uint32, bool) { return 0, false }
func (f *fakeOracle) ResolveSymbol(string) (uint64, bool)      { return 0, false }
func (f *fakeOracle) RegionNamed(string) (kimage.Region, bool) { return kimage.Region{}, false }
func (f *fakeOracle) ExecutableRegions() []kimage.Region       { return f.regions }

func buildCorpus() *fakeOracle {
	var buf []byte
	filler := uint32(0xd503201f) // nop, never a gadget match by itself
	for _, g := range Catalog {
		appendWord(&buf, filler)
		for _, w := range g.Words {
			appendWord(&buf, w)
		}
	}
	appendWord(&buf, filler)
	return &fakeOracle{regions: []kimage.Region{{Base: 0x8000_0000, Bytes: buf}}}
}

func appendWord(buf *[]byte, w uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], w)
	*buf = append(*buf, b[:]...)
}

func TestScanFindsEveryCatalogEntry(t *testing.T) {
	corpus := buildCorpus()
	found, err := Scan(context.Background(), corpus)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if missing := found.Missing(); len(missing) != 0 {
		names := make([]string, len(missing))
		for i, id := range missing {
			names[i] = Catalog[id].Desc
		}
		t.Fatalf("missing gadgets: %v", names)
	}
	for _, g := range Catalog {
		got := found.Get(g.ID)
		if !got.Found {
			t.Fatalf("gadget %q not found", g.Desc)
		}
	}
}

func TestScanCancellation(t *testing.T) {
	corpus := buildCorpus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Scan(ctx, corpus); err == nil {
		t.Fatalf("expected interruption error")
	}
}
