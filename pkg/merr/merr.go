// Package merr implements the error taxonomy used throughout memctl-go.
//
// memctl's original C implementation keeps a single global, stoppable error
// stack (src/error.c): callers push typed errors as they unwind, and the CLI
// prints the top of the stack before exiting non-zero. We keep that shape —
// a push/pop Stack rather than a single wrapped error — because several
// components (the heap scanner, the vtable finder) need to push a recoverable
// error, keep going, and let the caller decide whether the run as a whole
// still succeeded.
package merr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies the taxonomy of error described in the specification:
// out-of-memory, kernel I/O, protection/unmapped/inaccessible, functionality
// unavailable, not found, and interrupted.
type Kind int

const (
	// KindUnknown is the zero value; never produced by this package's own
	// constructors.
	KindUnknown Kind = iota
	// KindOutOfMemory means user-space allocation failed. Not recoverable.
	KindOutOfMemory
	// KindKernelIO means a mach_vm_* call returned a non-success status.
	KindKernelIO
	// KindProtection means the target address is unmapped, or not
	// accessible with the requested protection.
	KindProtection
	// KindUnavailable means no strategy/victim class/implementation can
	// satisfy the request; callers are expected to degrade gracefully.
	KindUnavailable
	// KindNotFound means a requested symbol, class, or gadget sequence
	// could not be located. Not an error for best-effort callers (the
	// vtable finder); an error for callers that need a specific result
	// (the trap hook installer).
	KindNotFound
	// KindInterrupted means a long-running loop observed the cooperative
	// cancellation flag.
	KindInterrupted
)

func (k Kind) String() string {
	switch k {
	case KindOutOfMemory:
		return "out of memory"
	case KindKernelIO:
		return "kernel I/O error"
	case KindProtection:
		return "protection/unmapped error"
	case KindUnavailable:
		return "functionality unavailable"
	case KindNotFound:
		return "not found"
	case KindInterrupted:
		return "interrupted"
	default:
		return "unknown error"
	}
}

// Error is a single taxonomized error. Addr is the offending kernel address,
// if any kind that carries one (KindKernelIO, KindProtection) applies; it is
// zero otherwise.
type Error struct {
	Kind Kind
	Addr uint64
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.Addr != 0 {
		return fmt.Sprintf("%s: %s (address 0x%x)", e.Kind, e.msg, e.Addr)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// Unwrap lets errors.Is/As reach a wrapped cause, if any.
func (e *Error) Unwrap() error { return e.err }

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind, wrapping an underlying cause with
// github.com/pkg/errors so a stack trace survives into logs.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), err: errors.WithStack(err)}
}

// AtAddr is New with an offending address attached (kernel I/O / protection
// errors carry the address that triggered them, per the specification).
func AtAddr(kind Kind, addr uint64, format string, args ...interface{}) *Error {
	e := New(kind, format, args...)
	e.Addr = addr
	return e
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Stack is a push/pop error stack, grounded on the original C
// implementation's struct error_stack (src/error.c). Unlike a Go
// multi-error, Stack preserves push order (earliest error at index 0, as the
// original documents) and supports a stop/start pair so that a subsystem
// performing many speculative, expected-to-fail probes (the gadget scanner,
// the vtable finder) can silence pushes temporarily without losing state.
type Stack struct {
	errs      []*Error
	stopCount int
}

// Push appends err to the stack, unless pushing is currently stopped (see
// Stop). Returns true if the error was recorded.
func (s *Stack) Push(err *Error) bool {
	if s.stopCount > 0 {
		return false
	}
	s.errs = append(s.errs, err)
	return true
}

// Pop removes and discards the most recently pushed error, if any.
func (s *Stack) Pop() {
	if len(s.errs) == 0 {
		return
	}
	s.errs = s.errs[:len(s.errs)-1]
}

// Stop suspends Push until a matching call to Start.
func (s *Stack) Stop() { s.stopCount++ }

// Start resumes Push after a matching call to Stop.
func (s *Stack) Start() {
	if s.stopCount > 0 {
		s.stopCount--
	}
}

// Top returns the most recently pushed error, or nil if the stack is empty.
func (s *Stack) Top() *Error {
	if len(s.errs) == 0 {
		return nil
	}
	return s.errs[len(s.errs)-1]
}

// Len reports how many errors are currently on the stack.
func (s *Stack) Len() int { return len(s.errs) }

// Clear empties the stack.
func (s *Stack) Clear() { s.errs = s.errs[:0] }

// All returns the stack contents, earliest first.
func (s *Stack) All() []*Error {
	out := make([]*Error, len(s.errs))
	copy(out, s.errs)
	return out
}
