// Package platform collects the small set of machine-level primitives every
// core is built from: atomic words, cache-line padding, and spin hints.
package platform

import (
	"runtime"
	"sync/atomic"
)

// CacheLinePad is embedded in hot shared structures (the version clock, the
// sequence lock, the cohorts counters) to keep independently-written fields from
// sharing a cache line with their neighbours. 64 bytes covers every
// mainstream target; there is no importable pad type in this corpus, so the
// layout is the same manual-byte-array trick used for wire-format structs
// elsewhere in the pack.
type CacheLinePad [64]byte

// Word is an atomically-accessed 64-bit machine word, the representation
// shared by orecs, the version clock, and sequence locks.
type Word struct {
	v atomic.Uint64
}

func (w *Word) Load() uint64                     { return w.v.Load() }
func (w *Word) Store(val uint64)                 { w.v.Store(val) }
func (w *Word) CAS(old, new uint64) bool         { return w.v.CompareAndSwap(old, new) }
func (w *Word) Add(delta uint64) uint64          { return w.v.Add(delta) }
func (w *Word) Swap(new uint64) uint64           { return w.v.Swap(new) }

// Spin is a bounded busy-wait hint: call in CAS-retry and quiescence loops.
// attempt is the 0-based retry count; callers should escalate to a blocking
// strategy (e.g. runtime.Gosched or contention-manager back-off) once a
// caller-chosen bound is exceeded.
func Spin(attempt int) {
	if attempt < 4 {
		for i := 0; i < (1 << attempt); i++ {
			procyield()
		}
		return
	}
	runtime.Gosched()
}

// procyield is a cheap spin-wait body. Go has no portable PAUSE intrinsic
// exposed to user code; runtime.Gosched beyond the inlined busy loop above
// is the grounded stand-in used once the retry count grows.
func procyield() {
	// A volatile-ish no-op loop body; the compiler cannot prove this has no
	// effect because of the atomic load below, so it is not elided.
	var x atomic.Uint32
	x.Load()
}
