// Package classquery implements the three class-introspection operations
// spec §6 groups together: class_vtable and class_metaclass (thin
// pass-throughs onto the synthetic symbol table pkg/vtablefinder builds) and
// class_size, which actually issues a kernel call. Ported from
// original_source/src/libmemctl/class.c.
package classquery

import (
	"context"
	"encoding/binary"

	"github.com/memctl/memctl-go/pkg/kimage"
	"github.com/memctl/memctl-go/pkg/merr"
	"github.com/memctl/memctl-go/pkg/vtablefinder"
)

// getClassSizeSymbol is OSMetaClass::getClassSize() const, the single
// fixed kernel symbol class_size calls through.
const getClassSizeSymbol = "__ZNK11OSMetaClass12getClassSizeEv"

// Caller is the subset of kernelcall.Caller class_size needs: the generic
// kernel_call(result, func, argv) primitive. Expressed as a narrow
// interface so this package never imports pkg/kernelcall directly.
type Caller interface {
	Call(ctx context.Context, result []byte, fn uint64, argv []uint64) (bool, error)
}

// ClassVtable returns class_name's vtable address and length, as recorded
// in syms by the finder. Spec §6: class_vtable(class_name, [bundle_id]).
func ClassVtable(syms *vtablefinder.Symbols, className string) (addr uint64, length int, ok bool) {
	return syms.ClassVtable(className)
}

// ClassMetaclass returns class_name's OSMetaClass instance address, as
// recorded in syms by the finder. Spec §6: class_metaclass(class_name, [bundle_id]).
func ClassMetaclass(syms *vtablefinder.Symbols, className string) (uint64, bool) {
	return syms.ClassMetaclass(className)
}

// ClassSize returns class_name's instance size by resolving its metaclass
// and calling OSMetaClass::getClassSize() on it through caller. Spec §6:
// class_size(metaclass) -> size.
func ClassSize(ctx context.Context, caller Caller, img kimage.Oracle, syms *vtablefinder.Symbols, className string) (uint64, error) {
	metaclass, ok := syms.ClassMetaclass(className)
	if !ok {
		return 0, merr.New(merr.KindNotFound, "classquery: no metaclass known for "+className)
	}
	return classSizeOf(ctx, caller, img, metaclass)
}

// classSizeOf calls OSMetaClass::getClassSize() directly on a known
// metaclass instance address, without needing the class's name.
func classSizeOf(ctx context.Context, caller Caller, img kimage.Oracle, metaclass uint64) (uint64, error) {
	fn, ok := img.ResolveSymbol(getClassSizeSymbol)
	if !ok {
		return 0, merr.New(merr.KindNotFound, "classquery: "+getClassSizeSymbol+" not found in kernel image")
	}
	var result [8]byte
	ok2, err := caller.Call(ctx, result[:], fn, []uint64{metaclass})
	if err != nil {
		return 0, err
	}
	if !ok2 {
		return 0, merr.New(merr.KindUnavailable, "classquery: could not call "+getClassSizeSymbol)
	}
	return binary.LittleEndian.Uint64(result[:]), nil
}
