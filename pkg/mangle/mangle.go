// Package mangle builds the Itanium C++ ABI symbol names memctl-go
// synthesizes for classes it discovers by static analysis — "vtable for K"
// and "K::gMetaClass" — since no linker ever emitted real symbols for them.
// Grounded on original_source/src/libmemctl/mangle.c's write_nested_name /
// writefmt / writestr scheme.
package mangle

import (
	"fmt"
	"strconv"
	"strings"
)

// Vtable returns the Itanium mangling of the vtable for a (possibly
// namespaced) class name, e.g. Vtable("OSString") -> "__ZTV8OSString".
func Vtable(className string) string {
	return "__ZTV" + nestedName(className)
}

// MetaClass returns the mangling of K::gMetaClass.
func MetaClass(className string) string {
	return MemberOf(className, "gMetaClass")
}

// MemberOf returns the mangling of a member with the given name declared on
// className, e.g. MemberOf("OSString", "gMetaClass") ->
// "__ZN8OSString10gMetaClassE".
func MemberOf(className, member string) string {
	parts := splitScopes(className)
	parts = append(parts, member)
	return "__Z" + wrapNested(parts)
}

// Demangle extracts the original (possibly namespaced) name from a mangling
// produced by this package, inverting nestedName. It is intentionally
// narrow: only the subset this package itself emits needs to round-trip.
func Demangle(mangled string) (string, bool) {
	s := strings.TrimPrefix(mangled, "__Z")
	if strings.HasPrefix(s, "TV") {
		s = s[2:]
	}
	if strings.HasPrefix(s, "N") && strings.HasSuffix(s, "E") {
		s = s[1 : len(s)-1]
	}
	var parts []string
	for len(s) > 0 {
		n, rest, ok := readLength(s)
		if !ok || n > len(rest) {
			return "", false
		}
		parts = append(parts, rest[:n])
		s = rest[n:]
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "::"), true
}

// nestedName mangles a (possibly scoped) class name on its own, wrapped in
// N...E only when there is more than one scope component — matching
// mangle.c's write_nested_name, which omits the wrapper for a single
// top-level name.
func nestedName(className string) string {
	return wrapNested(splitScopes(className))
}

func wrapNested(parts []string) string {
	var b strings.Builder
	for _, p := range parts {
		writeLengthPrefixed(&b, p)
	}
	if len(parts) > 1 {
		return "N" + b.String() + "E"
	}
	return b.String()
}

func splitScopes(className string) []string {
	return strings.Split(className, "::")
}

func writeLengthPrefixed(b *strings.Builder, s string) {
	fmt.Fprintf(b, "%d%s", len(s), s)
}

func readLength(s string) (n int, rest string, ok bool) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, s, false
	}
	v, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, s, false
	}
	return v, s[i:], true
}
