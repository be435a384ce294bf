// Package vlog is the value log used by value-based cores (NOrec and the
// cohorts core) for validation: a list of (address, width,
// observed-value) triples. Validation re-reads each address and compares
// to the saved value; any mismatch means the snapshot is stale.
package vlog

import (
	"unsafe"

	"github.com/mfs409/gotm/internal/minivector"
)

// Entry is one recorded read.
type Entry struct {
	Addr  unsafe.Pointer
	Width uintptr
	Value uint64 // raw little-endian bytes of the value, widths <= 8
}

// Log accumulates entries for one transaction attempt.
type Log struct {
	entries *minivector.Vector[Entry]
}

// New returns an empty value log.
func New() *Log {
	return &Log{entries: minivector.New[Entry](32)}
}

// Record appends an observed (addr, width, value) triple.
func (l *Log) Record(addr unsafe.Pointer, width uintptr, value uint64) {
	l.entries.Push(Entry{Addr: addr, Width: width, Value: value})
}

// Clear discards all recorded entries, reusing the backing array.
func (l *Log) Clear() { l.entries.Clear() }

// Len reports how many entries are recorded.
func (l *Log) Len() int { return l.entries.Len() }

// Validate re-reads every recorded address via read and reports whether
// every value is unchanged. It stops at the first mismatch.
func (l *Log) Validate(read func(addr unsafe.Pointer, width uintptr) uint64) bool {
	ok := true
	l.entries.Each(func(_ int, e Entry) bool {
		if read(e.Addr, e.Width) != e.Value {
			ok = false
			return false
		}
		return true
	})
	return ok
}
