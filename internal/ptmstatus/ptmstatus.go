// Package ptmstatus implements the per-thread persistent status word of
// spec.md §3/§4.15/§6: {INACTIVE, NEEDS_UNDO, NEEDS_REDO, <commit-time>},
// plus the pure recovery decision
// procedure of §4.15. Nothing here simulates an actual crash (spec.md §1
// Non-goal: "automatic recovery code... does not simulate crashes") —
// Decide is the decision table a real recovery pass would drive, callable
// directly for testing.
//
// Each core keeps its Word as a field of the transaction descriptor in
// ordinary process memory; the Word is not placed in a persist.Region and
// is not reachable from a recovery root (persist.Root records only the
// region's path and size).
package ptmstatus

import "github.com/mfs409/gotm/internal/persist"

// Sentinel states. Any value < NeedsRedo is a commit timestamp (the
// "<end_time>" state of spec.md §4.15), so these are pinned to the top of
// the uint64 range rather than to small integers that could collide with
// an early version-clock value.
const (
	Inactive  = ^uint64(0)
	NeedsUndo = ^uint64(0) - 1
	NeedsRedo = ^uint64(0) - 2
)

// Word is one thread's persistent status word: the state plus pointers to
// the structures it names, laid out together so one flush covers all of
// them (spec.md §6 "Persisted state layout": "a 64-bit status followed by
// three pointers to the thread's redo log, undo log, and allocation
// manager").
type Word struct {
	State   uint64
	RedoLog uintptr
	UndoLog uintptr
	Alloc   uintptr
}

// SetNeedsUndo transitions INACTIVE -> NEEDS_UNDO before the first
// in-place eager store becomes visible (spec.md §4.15).
func (w *Word) SetNeedsUndo(undoLog uintptr, d persist.Domain) {
	w.UndoLog = undoLog
	w.State = NeedsUndo
	flushSelf(w, d)
}

// SetNeedsRedo transitions INACTIVE -> NEEDS_REDO for a lazy commit whose
// writeback flushes each store as it happens.
func (w *Word) SetNeedsRedo(redoLog uintptr, d persist.Domain) {
	w.RedoLog = redoLog
	w.State = NeedsRedo
	flushSelf(w, d)
}

// SetTimestamp transitions INACTIVE -> <end_time> for a lazy commit whose
// writeback is deferred and must be replayed in timestamp order on
// recovery.
func (w *Word) SetTimestamp(redoLog uintptr, endTime uint64, d persist.Domain) {
	w.RedoLog = redoLog
	w.State = endTime
	flushSelf(w, d)
}

// Clear transitions back to INACTIVE, the terminal state of every commit
// and abort path (spec.md §4.15).
func (w *Word) Clear(d persist.Domain) {
	w.State = Inactive
	w.UndoLog = 0
	w.RedoLog = 0
	w.Alloc = 0
	flushSelf(w, d)
}

func flushSelf(w *Word, d persist.Domain) {
	if d == nil {
		return
	}
	d.Flush(wordAddr(w), wordSize)
	d.Fence()
}

// Disposition is the recovery action Decide assigns a thread's status
// word.
type Disposition int

const (
	// Committed: nothing to do, the transaction's writes are in place.
	Committed Disposition = iota
	// AbortedAndFreed: INACTIVE but the malloc list was non-empty — a
	// read-only-with-allocations transaction that may or may not have
	// committed; treated as aborted, its mallocs freed (spec.md §4.15).
	AbortedAndFreed
	// ReplayUndo: the thread crashed mid-eager-commit; replay its undo
	// log to restore the pre-transaction state.
	ReplayUndo
	// ReplayRedo: the thread crashed mid-lazy-commit (or durably
	// committed but the writeback itself was deferred); replay its redo
	// log to apply the transaction's writes.
	ReplayRedo
)

// Decide implements the recovery table of spec.md §4.15 for one thread's
// status word. hasMallocs reports whether that thread's malloc list was
// non-empty at crash time.
func Decide(state uint64, hasMallocs bool) Disposition {
	switch {
	case state == Inactive && !hasMallocs:
		return Committed
	case state == Inactive:
		return AbortedAndFreed
	case state == NeedsUndo:
		return ReplayUndo
	default: // NeedsRedo sentinel, or a commit timestamp
		return ReplayRedo
	}
}
