// Package undolog is the per-descriptor record of prior values eager
// cores use to restore state on abort: generalizes the teacher's
// undoTx.go (a pooled, header-tracked log of (ptr, data, size) triples,
// replayed in reverse on abort) from its reflect-based "log any
// pointer/slice" API onto the spec's fixed-width scalar model, so a
// transactional write logs (addr, width, prior-value) the same way
// load/store_<width> do in spec.md §6.
package undolog

import "github.com/mfs409/gotm/internal/minivector"

// Entry is one undo record: the prior contents of width bytes at Addr.
type Entry struct {
	Addr  uintptr
	Width uintptr
	Prior uint64 // little-endian prior bytes, widths <= 8
}

// Log is a per-transaction undo log, a straightforward generalization of
// the teacher's entry slice + tail index onto fixed-width entries (the
// teacher tracked arbitrary Go values via reflect.Value and a persistent
// heap copy; scalar transactional stores don't need that, only the prior
// bytes).
type Log struct {
	entries *minivector.Vector[Entry]
}

// New returns an empty undo log, matching the teacher's _initUndoTx sizing
// knobs (small/large logs keep the same distinction at the pool layer —
// see Pool below).
func New(capacity int) *Log {
	return &Log{entries: minivector.New[Entry](capacity)}
}

// Record appends one undo entry, mirroring the teacher's Log(): "push the
// old value... into the undo log" (spec.md §4.2 Write).
func (l *Log) Record(addr uintptr, width uintptr, prior uint64) {
	l.entries.Push(Entry{Addr: addr, Width: width, Prior: prior})
}

// Len reports how many entries are recorded (the teacher's t.tail).
func (l *Log) Len() int { return l.entries.Len() }

// Clear discards all entries without releasing the backing array, the
// same reuse the teacher's releaseUndoTx achieves via updateLogTail(0).
func (l *Log) Clear() { l.entries.Clear() }

// ReverseReplay restores every entry in reverse order (spec.md §4.2
// Abort: "replay the undo log in reverse"), calling restore(addr, width,
// priorValue) for each. It mirrors the teacher's abort(): "for i :=
// t.tail-1; i >= 0; i--".
func (l *Log) ReverseReplay(restore func(addr uintptr, width uintptr, prior uint64)) {
	l.entries.ReverseEach(func(_ int, e Entry) bool {
		restore(e.Addr, e.Width, e.Prior)
		return true
	})
}

// Pool is the teacher's undoPool: a fixed set of pre-allocated logs handed
// out to descriptors on first use and returned on release, split into a
// small-log and a large-log class exactly like the teacher's
// sLogPtr/lLogPtr arrays, so a long-running transaction that would
// overflow a small log's capacity can be retried against a large one.
type Pool struct {
	small chan *Log
	large chan *Log
}

// Small/Large log sizing, matching the teacher's SENTRYSIZE/LENTRYSIZE
// entry counts (SLOGNUM/LLOGNUM logs of each class).
const (
	SmallLogCount    = 500
	LargeLogCount    = 12
	SmallLogCapacity = 128
	LargeLogCapacity = 16 * 1024
)

// NewPool pre-allocates the full small/large log pools, as the teacher's
// initUndoTx does at process start.
func NewPool() *Pool {
	p := &Pool{
		small: make(chan *Log, SmallLogCount),
		large: make(chan *Log, LargeLogCount),
	}
	for i := 0; i < SmallLogCount; i++ {
		p.small <- New(SmallLogCapacity)
	}
	for i := 0; i < LargeLogCount; i++ {
		p.large <- New(LargeLogCapacity)
	}
	return p
}

// Acquire hands out a small log, blocking if the pool is exhausted (the
// teacher instead fatal()s on an uninitialized pool; here exhaustion just
// means "more concurrent transactions than the pool was sized for",
// handled by blocking rather than crashing).
func (p *Pool) Acquire() *Log { return <-p.small }

// AcquireLarge hands out a large log.
func (p *Pool) AcquireLarge() *Log { return <-p.large }

// Release clears and returns a log to its originating pool (Pool cannot
// tell which pool log l belongs to, so callers track that — mirroring the
// teacher's releaseUndoTx, which dispatches on t.large).
func (p *Pool) Release(l *Log, large bool) {
	l.Clear()
	if large {
		p.large <- l
	} else {
		p.small <- l
	}
}

// ChunkSize is the granularity of CoarseLog's undo snapshots: the whole
// ChunkSize-byte neighbourhood of the first write to a chunk is captured
// once and deduplicated against further writes in the same chunk
// (spec.md §4.9 "coarse variant... hash index deduplicates addresses at
// chunk granularity").
const ChunkSize = 64

const chunkMask = ^uintptr(ChunkSize - 1)

type coarseChunk struct {
	base uintptr
	data [ChunkSize]byte
	gen  uint64
}

// CoarseLog is the coarse alternative to Log: cheaper to maintain under
// heavy write-same-chunk workloads (one snapshot per chunk instead of one
// entry per scalar write) at the cost of always restoring a full chunk on
// abort, even bytes the transaction never touched.
type CoarseLog struct {
	chunks  []coarseChunk
	index   map[uintptr]int
	touched []int
	gen     uint64
}

// NewCoarse returns an empty coarse undo log.
func NewCoarse() *CoarseLog {
	return &CoarseLog{index: make(map[uintptr]int), gen: 1}
}

// Clear invalidates all entries via the same generation-bump fast-clear
// the redo log uses.
func (l *CoarseLog) Clear() {
	l.gen++
	l.touched = l.touched[:0]
}

// RecordOnce snapshots the ChunkSize-byte neighbourhood of addr the first
// time this generation touches that chunk; read supplies the current
// memory contents of one byte at a time.
func (l *CoarseLog) RecordOnce(addr uintptr, read func(a uintptr) byte) {
	base := addr & chunkMask
	idx, ok := l.index[base]
	if ok && l.chunks[idx].gen == l.gen {
		return // already snapshotted this generation
	}
	if !ok {
		idx = len(l.chunks)
		l.chunks = append(l.chunks, coarseChunk{})
		l.index[base] = idx
	}
	c := &l.chunks[idx]
	c.base = base
	c.gen = l.gen
	for i := uintptr(0); i < ChunkSize; i++ {
		c.data[i] = read(base + i)
	}
	l.touched = append(l.touched, idx)
}

// ReverseReplay restores every snapshotted chunk, most-recently-touched
// first, via restore(addr, priorByte).
func (l *CoarseLog) ReverseReplay(restore func(addr uintptr, prior byte)) {
	for i := len(l.touched) - 1; i >= 0; i-- {
		idx := l.touched[i]
		c := &l.chunks[idx]
		if c.gen != l.gen {
			continue
		}
		for b := ChunkSize - 1; b >= 0; b-- {
			restore(c.base+uintptr(b), c.data[b])
		}
	}
}
