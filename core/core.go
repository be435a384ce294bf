// Package core defines the surface every concrete runtime in cores/
// implements (spec.md §4.1 "Every core exposes...") plus the generic
// typed Read/Write helpers and the Execute retry loop that drives them.
//
// Go has no nonlocal goto, so the checkpoint/longjmp re-entry spec.md's
// design notes (§9) call for is built the way the notes suggest: "the
// transaction body as a retry-loop whose body is a closure; the abort
// primitive returns an Err(Restart) that the loop catches and rebegins."
// Restart is raised with panic/recover rather than threaded through every
// call's return value — the same nonlocal-jump role longjmp plays in the
// original, and the idiom already used by encoding/json and text/template
// for deeply nested abandon-and-unwind control flow.
package core

import "unsafe"

// Descriptor is the common per-thread transaction surface. Concrete cores
// (cores/cgl, cores/oreceager, ...) each implement it.
type Descriptor interface {
	// Begin starts (or, if nested, re-enters) a transaction.
	Begin()
	// Commit runs the core's commit protocol. It reports whether the
	// transaction committed; false means it already aborted internally
	// (undo/lock release/clears done) and the caller must restart.
	Commit() bool
	// Abort unwinds an in-flight transaction: undo or discard redo,
	// release held locks, reclaim mallocs, clear logs, and reset nesting.
	// Idempotent.
	Abort()

	// ReadRaw performs a transactional read of width bytes at addr,
	// returned as the little-endian bytes of a uint64. It may call
	// Restart instead of returning if the core determines this attempt
	// cannot proceed.
	ReadRaw(addr unsafe.Pointer, width uintptr) uint64
	// WriteRaw performs a transactional write of the low width bytes of
	// val to addr. It may call Restart.
	WriteRaw(addr unsafe.Pointer, width uintptr, val uint64)

	Alloc(size uintptr) unsafe.Pointer
	AlignedAlloc(align, size uintptr) unsafe.Pointer
	Free(ptr unsafe.Pointer)

	// RegisterCommitHandler enqueues fn(arg) to run once, in registration
	// order, after this transaction durably commits; never if it aborts.
	RegisterCommitHandler(fn func(arg any), arg any)
	// SetStackFrame overrides the stack-frame filter's conservative
	// bottom (spec.md §4.13).
	SetStackFrame(addr unsafe.Pointer)
}

// restartSignal is the panic payload Restart raises; runBody recovers
// exactly this type and treats anything else as a genuine panic.
type restartSignal struct{}

// Restart aborts the current attempt and jumps back to Execute's retry
// loop. Cores call this from ReadRaw/WriteRaw on an unresolvable conflict
// (lock held by another descriptor, ring overflow, and so on) instead of
// returning an error, since load/store are meant to look like ordinary
// memory access to calling code.
func Restart() { panic(restartSignal{}) }

// Execute runs body repeatedly against d until it commits, exactly
// spec.md §6 execute(flags, body, arg) minus the AOT-transformation
// plumbing (flags, arg) that is out of this spec's scope.
func Execute(d Descriptor, body func()) {
	for {
		if runBody(d, body) {
			return
		}
	}
}

func runBody(d Descriptor, body func()) (committed bool) {
	d.Begin()
	defer func() {
		if r := recover(); r != nil {
			d.Abort()
			if _, ok := r.(restartSignal); ok {
				committed = false
				return
			}
			panic(r)
		}
	}()
	body()
	return d.Commit()
}

// maxScalarWidth is the widest scalar spec.md §6 names that fits a
// machine word: 1/2/4/8-byte ints, float32/float64, and pointers. x86's
// 80-bit long double has no Go equivalent and is intentionally not
// supported (see DESIGN.md) — Read and Write panic for any T wider than
// 8 bytes, and the module has no bulk-copy (memcpy-style) entry point.
const maxScalarWidth = unsafe.Sizeof(uint64(0))

// Read performs a transactional, width-typed read through d, the Go
// generalization of spec.md §6's family of load_<width> entry points.
func Read[T any](d Descriptor, addr *T) T {
	var zero T
	width := unsafe.Sizeof(zero)
	if width > maxScalarWidth {
		fatalWidth(width)
	}
	raw := d.ReadRaw(unsafe.Pointer(addr), width)
	return *(*T)(unsafe.Pointer(&raw))
}

// Write performs a transactional, width-typed write through d, the Go
// generalization of spec.md §6's family of store_<width> entry points.
func Write[T any](d Descriptor, addr *T, val T) {
	width := unsafe.Sizeof(val)
	if width > maxScalarWidth {
		fatalWidth(width)
	}
	var raw uint64
	*(*T)(unsafe.Pointer(&raw)) = val
	d.WriteRaw(unsafe.Pointer(addr), width, raw)
}

func fatalWidth(width uintptr) {
	panic("gotm: scalar access wider than 8 bytes is unsupported (spec.md §6 load/store_<width>)")
}
