package kernel

import (
	"context"
	"testing"
)

func TestFakeReadWriteRoundTrip(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	if err := WriteUint64(ctx, f, 0x1000, 0xdeadbeef); err != nil {
		t.Fatalf("WriteUint64: %v", err)
	}
	got, err := ReadUint64(ctx, f, 0x1000)
	if err != nil {
		t.Fatalf("ReadUint64: %v", err)
	}
	if got != 0xdeadbeef {
		t.Fatalf("got %#x, want %#x", got, 0xdeadbeef)
	}
}

func TestFakeReadUnmappedReturnsProtectionError(t *testing.T) {
	f := NewFake()
	var buf [8]byte
	n, _, err := f.Read(context.Background(), 0x5000, buf[:])
	if err == nil || n != 0 {
		t.Fatalf("expected a protection error reading unmapped memory, got n=%d err=%v", n, err)
	}
}

func TestFakeHeapOnlyReadIgnoresNonHeapPages(t *testing.T) {
	f := NewFake()
	f.MapBytes(0x2000, []byte{1, 2, 3, 4})
	var buf [4]byte
	if _, _, err := f.ReadHeap(context.Background(), 0x2000, buf[:]); err == nil {
		t.Fatalf("expected ReadHeap to reject a page that was never marked heap")
	}
	f.MarkHeap(0x2000)
	n, _, err := f.ReadHeap(context.Background(), 0x2000, buf[:])
	if err != nil || n != 4 {
		t.Fatalf("ReadHeap after MarkHeap: n=%d err=%v", n, err)
	}
}

func TestFakeHeapScanTerminatesWithNoFurtherHeapPages(t *testing.T) {
	f := NewFake()
	f.MapBytes(0x1000, []byte{0xaa})
	f.MarkHeap(0x1000)

	var buf [pageSize]byte
	_, next, err := f.ReadHeap(context.Background(), pageBase(0x1000)+pageSize, buf[:])
	if err == nil {
		t.Fatalf("expected an error reading past the only mapped heap page")
	}
	if next != 0 {
		t.Fatalf("expected next == 0 once no further heap page exists, got %#x", next)
	}
}

func TestFakeAllocateDeallocate(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	addr, err := f.Allocate(ctx, pageSize)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := WriteUint64(ctx, f, addr, 42); err != nil {
		t.Fatalf("write into allocated page: %v", err)
	}
	if err := f.Deallocate(ctx, addr, pageSize); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}
	if _, _, err := f.Read(ctx, addr, make([]byte, 8)); err == nil {
		t.Fatalf("expected a deallocated page to read back as unmapped")
	}
}
