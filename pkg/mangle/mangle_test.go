package mangle

import "testing"

func TestVtableSingleName(t *testing.T) {
	if got := Vtable("OSString"); got != "__ZTV8OSString" {
		t.Fatalf("got %q", got)
	}
}

func TestMetaClassRoundTrip(t *testing.T) {
	m := MetaClass("OSString")
	if m != "__ZN8OSString10gMetaClassE" {
		t.Fatalf("got %q", m)
	}
	name, ok := Demangle(m)
	if !ok || name != "OSString::gMetaClass" {
		t.Fatalf("demangle got %q ok=%v", name, ok)
	}
}

func TestVtableRoundTrip(t *testing.T) {
	v := Vtable("IORegistryEntry")
	name, ok := Demangle(v)
	if !ok || name != "IORegistryEntry" {
		t.Fatalf("demangle got %q ok=%v", name, ok)
	}
}
