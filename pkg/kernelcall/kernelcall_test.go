package kernelcall

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/memctl/memctl-go/pkg/gadget"
	"github.com/memctl/memctl-go/pkg/kernel"
	"github.com/memctl/memctl-go/pkg/kimage"
)

// resultOffsetForTest mirrors the fixed value-stack offset spec §4.F documents for
// the primary JOP strategy's result word; kept local to this test rather
// than imported, since it is jop's private layout detail, not a contract
// this façade depends on beyond "Build tells us where to read".
const resultOffsetForTest = 0x9c

type fakeHook struct {
	installed bool
	calls     int
	lastFn    uint64
	lastArgs  [7]uint64
	retval    uint32
	err       error
}

func (h *fakeHook) Installed() bool { return h.installed }

func (h *fakeHook) Call(ctx context.Context, io kernel.IO, fn, a0, a1, a2, a3, a4, a5, a6 uint64) (uint32, error) {
	h.calls++
	h.lastFn = fn
	h.lastArgs = [7]uint64{a0, a1, a2, a3, a4, a5, a6}
	return h.retval, h.err
}

func fullGadgetFound(t *testing.T) *gadget.Found {
	t.Helper()
	var buf []byte
	filler := uint32(0xd503201f)
	for _, g := range gadget.Catalog {
		appendWord(&buf, filler)
		for _, w := range g.Words {
			appendWord(&buf, w)
		}
	}
	appendWord(&buf, filler)
	oracle := &corpusOracle{region: kimage.Region{Base: 0x8000_0000, Bytes: buf}}
	found, err := gadget.Scan(context.Background(), oracle)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	return found
}

type corpusOracle struct{ region kimage.Region }

func (c *corpusOracle) InstructionAt(uint64) (uint32, bool)      { return 0, false }
func (c *corpusOracle) ResolveSymbol(string) (uint64, bool)      { return 0, false }
func (c *corpusOracle) RegionNamed(string) (kimage.Region, bool) { return kimage.Region{}, false }
func (c *corpusOracle) ExecutableRegions() []kimage.Region       { return []kimage.Region{c.region} }

func appendWord(buf *[]byte, w uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], w)
	*buf = append(*buf, b[:]...)
}

func TestCallUsesTrapPathWithinSevenArgs(t *testing.T) {
	hook := &fakeHook{installed: true, retval: 0x99}
	fake := kernel.NewFake()
	c := New(hook, fake, fake, fullGadgetFound(t))

	result := make([]byte, 4)
	ok, err := c.Call(context.Background(), result, 0xffff_1000, []uint64{1, 2, 3})
	if err != nil || !ok {
		t.Fatalf("Call: ok=%v err=%v", ok, err)
	}
	if hook.calls != 1 {
		t.Fatalf("expected exactly one trap call, got %d", hook.calls)
	}
	if binary.LittleEndian.Uint32(result) != 0x99 {
		t.Fatalf("unexpected result bytes: %x", result)
	}
	if c.jopPage != 0 {
		t.Fatalf("trap path should never allocate a JOP page")
	}
}

func TestCallFallsBackToJopForEightArgs(t *testing.T) {
	hook := &fakeHook{installed: true}
	fake := kernel.NewFake()
	c := New(hook, fake, fake, fullGadgetFound(t))

	result := make([]byte, 8)
	ok, err := c.Call(context.Background(), result, 0xffff_2000, []uint64{1, 2, 3, 4, 5, 6, 7, 8})
	if err != nil || !ok {
		t.Fatalf("Call: ok=%v err=%v", ok, err)
	}
	if c.jopPage == 0 {
		t.Fatalf("expected a JOP payload page to have been allocated")
	}
	expected, err := kernel.ReadUint64(context.Background(), fake, c.jopPage+resultOffsetForTest)
	if err != nil {
		t.Fatalf("read back result address: %v", err)
	}
	if binary.LittleEndian.Uint64(result) != expected {
		t.Fatalf("result bytes do not match the payload's result slot: got %x want %x", result, expected)
	}
}

func TestProbeDoesNotInvokeHook(t *testing.T) {
	hook := &fakeHook{installed: true}
	fake := kernel.NewFake()
	c := New(hook, fake, fake, fullGadgetFound(t))

	ok, err := c.Call(context.Background(), make([]byte, 4), 0, []uint64{1})
	if err != nil || !ok {
		t.Fatalf("probe: ok=%v err=%v", ok, err)
	}
	if hook.calls != 0 {
		t.Fatalf("expected probe to avoid calling the hook, got %d calls", hook.calls)
	}
}

func TestCallUnavailableWithoutInstalledHook(t *testing.T) {
	hook := &fakeHook{installed: false}
	fake := kernel.NewFake()
	c := New(hook, fake, fake, fullGadgetFound(t))

	ok, err := c.Call(context.Background(), make([]byte, 4), 0xffff_3000, []uint64{1})
	if ok || err == nil {
		t.Fatalf("expected an unavailable error, got ok=%v err=%v", ok, err)
	}
}

func TestCallRejectsZeroFirstArgOnTrapPathButFallsBackToJop(t *testing.T) {
	hook := &fakeHook{installed: true}
	fake := kernel.NewFake()
	c := New(hook, fake, fake, fullGadgetFound(t))

	// argv[0] == 0 disqualifies the trap path, but the shape still fits
	// the JOP path (argc <= 8). The 4-byte result would fit the trap path,
	// so only the zero first argument rules it out.
	result := make([]byte, 4)
	ok, err := c.Call(context.Background(), result, 0xffff_5000, []uint64{0, 2, 3})
	if err != nil || !ok {
		t.Fatalf("Call: ok=%v err=%v", ok, err)
	}
	if c.jopPage == 0 {
		t.Fatalf("expected the JOP path to have been used")
	}
}
