// Package norec is the value-based core of spec.md §4.4: no per-address
// ownership records at all, only a single global sequence lock and a
// value log that revalidates every prior read by re-reading memory and
// comparing. Reads buffer nothing; writes buffer into a redo log and are
// only applied at commit, under the sequence lock.
package norec

import (
	"unsafe"

	"github.com/mfs409/gotm/core"
	"github.com/mfs409/gotm/internal/alloc"
	"github.com/mfs409/gotm/internal/clock"
	"github.com/mfs409/gotm/internal/cm"
	"github.com/mfs409/gotm/internal/deferred"
	"github.com/mfs409/gotm/internal/frame"
	"github.com/mfs409/gotm/internal/memio"
	"github.com/mfs409/gotm/internal/persist"
	"github.com/mfs409/gotm/internal/platform"
	"github.com/mfs409/gotm/internal/ptmstatus"
	"github.com/mfs409/gotm/internal/redolog"
	"github.com/mfs409/gotm/internal/sysalloc"
	"github.com/mfs409/gotm/internal/vlog"
)

// Runtime is the process-wide NOrec substrate: one shared sequence lock
// (spec.md §4.4: "a single global version-lock, even when free, odd while
// a committer holds it").
type Runtime struct {
	Seq    clock.Clock
	Shared *core.Shared
	domain persist.Domain
	sys    allocator
}

type allocator interface {
	Alloc(size uintptr) unsafe.Pointer
	AlignedAlloc(align, size uintptr) unsafe.Pointer
	Free(unsafe.Pointer)
}

// NewRuntime returns a plain STM NOrec runtime.
func NewRuntime(maxThreads int, cmCfg cm.Config) *Runtime {
	return &Runtime{Shared: core.NewShared(maxThreads, cmCfg), sys: sysalloc.Heap{}}
}

// NewPTMRuntime returns a NOrec runtime driving the lazy PTM protocol of
// spec.md §4.15: writes stay in the redo log, invisible to persistence,
// until commit's writeback.
func NewPTMRuntime(domain persist.Domain, arena *sysalloc.Arena, maxThreads int, cmCfg cm.Config) *Runtime {
	return &Runtime{Shared: core.NewShared(maxThreads, cmCfg), domain: domain, sys: arena}
}

// Tx is a NOrec transaction descriptor.
type Tx struct {
	rt    *Runtime
	slot  int
	cmMgr *cm.Manager

	level        int
	startVersion uint64
	irrevocable  bool
	redo         *redolog.Log
	reads        *vlog.Log
	frame        frame.Filter
	allocMgr     *alloc.Manager
	deferredActs deferred.Queue
	status       ptmstatus.Word
}

// NewTx returns a fresh descriptor bound to rt.
func (rt *Runtime) NewTx() *Tx {
	slot := rt.Shared.AcquireSlot()
	t := &Tx{
		rt:    rt,
		slot:  slot,
		cmMgr: rt.Shared.NewContentionManager(slot),
		redo:  redolog.New(),
		reads: vlog.New(),
	}
	t.allocMgr = alloc.New(alloc.Enhanced, rt.sys.Alloc, rt.sys.Free).WithAlignedAlloc(rt.sys.AlignedAlloc)
	return t
}

// Release returns t's slot to the runtime's free pool.
func (t *Tx) Release() { t.rt.Shared.ReleaseSlot(t.slot) }

// Begin waits for the sequence lock to be free (even) and samples it as
// the snapshot version (spec.md §4.4).
func (t *Tx) Begin() {
	t.level++
	if t.level > 1 {
		return
	}
	if t.cmMgr.BeforeBegin() {
		if t.rt.Shared.Epoch.TryIrrevoc(t.slot) {
			t.irrevocable = true
		}
	}
	attempt := 0
	for {
		v := t.rt.Seq.Load()
		if v&1 == 0 {
			t.startVersion = v
			break
		}
		backoff(attempt)
		attempt++
	}
	t.rt.Shared.Epoch.OnBegin(t.slot, t.startVersion)
	t.allocMgr.OnBegin()
	var mark byte
	t.frame.SetBottom(uintptr(unsafe.Pointer(&mark)))
}

// ReadRaw implements spec.md §4.4 Read: a transaction's own buffered
// writes are visible immediately; everything else is validated by
// re-reading memory under a stable, even sequence number and comparing
// the whole value log, the single check NOrec substitutes for per-orec
// validation.
func (t *Tx) ReadRaw(addr unsafe.Pointer, width uintptr) uint64 {
	a := uintptr(addr)
	if t.irrevocable || t.allocMgr.IsCaptured(a) || t.frame.IsPrivate(a) {
		return memio.Read(addr, width)
	}
	memVal := memio.Read(addr, width)
	if v, _, full := t.redo.Lookup(addr, width, memVal); full {
		return v
	}
	for {
		s1 := t.rt.Seq.Load()
		if s1&1 != 0 {
			backoff(0)
			continue
		}
		memVal = memio.Read(addr, width)
		val := memVal
		if v, _, full := t.redo.Lookup(addr, width, memVal); full {
			val = v
		}
		s2 := t.rt.Seq.Load()
		if s1 != s2 {
			continue
		}
		if s1 != t.startVersion {
			if !t.revalidate(s1) {
				core.Restart()
			}
		}
		t.reads.Record(addr, width, memVal)
		return val
	}
}

// revalidate re-reads every entry in the value log and reports whether
// memory still matches; on success it adopts candidate as the new
// snapshot version (spec.md §4.4 "extend the read set's validity").
func (t *Tx) revalidate(candidate uint64) bool {
	ok := t.reads.Validate(memio.Read)
	if !ok {
		return false
	}
	t.startVersion = candidate
	t.rt.Shared.Epoch.SetEpoch(t.slot, candidate)
	return true
}

// WriteRaw implements spec.md §4.4 Write: buffer into the redo log;
// nothing is validated or locked until commit.
func (t *Tx) WriteRaw(addr unsafe.Pointer, width uintptr, val uint64) {
	a := uintptr(addr)
	if t.irrevocable || t.allocMgr.IsCaptured(a) || t.frame.IsPrivate(a) {
		memio.Write(addr, width, val)
		t.allocMgr.OnCapturedWrite(t.rt.domain, a, width)
		return
	}
	t.redo.Insert(addr, width, val)
}

// Commit implements spec.md §4.4 Commit: read-only transactions need
// nothing further once their last read validated; writers CAS the
// sequence lock odd, validate once more, write back, and release it to
// start+2.
func (t *Tx) Commit() bool {
	if t.level == 0 {
		core.Fatal("norec: commit without a matching begin")
	}
	t.level--
	if t.level > 0 {
		return true
	}

	if t.irrevocable {
		t.rt.Shared.Epoch.ReleaseIrrevoc(t.slot)
		t.finishCommit()
		return true
	}

	hasWrites := false
	t.redo.Chunks(func(uintptr) { hasWrites = true })
	if !hasWrites {
		t.rt.Shared.Epoch.Quiesce(t.slot, t.startVersion)
		t.finishCommit()
		return true
	}

	attempt := 0
	for !t.rt.Seq.CAS(t.startVersion, t.startVersion+1) {
		if !t.revalidate(t.rt.Seq.Load() &^ 1) {
			t.doAbort()
			return false
		}
		backoff(attempt)
		attempt++
	}
	// Holds the odd (locked) sequence number now; re-validate reads made
	// since the version we CASed from, then write back.
	if !t.reads.Validate(memio.Read) {
		t.rt.Seq.Bump(t.startVersion + 2)
		t.doAbort()
		return false
	}

	if t.rt.domain != nil {
		t.status.SetNeedsRedo(uintptr(unsafe.Pointer(t.redo)), t.rt.domain)
	}
	t.redo.Writeback(
		func(addr uintptr, b byte) { memio.WriteByte(addr, b) },
		func(addr uintptr, n uintptr) {
			if t.rt.domain != nil {
				t.rt.domain.Flush(addr, n)
			}
		},
	)
	if t.rt.domain != nil {
		t.rt.domain.Fence()
	}
	endTime := t.startVersion + 2
	t.allocMgr.CommitMallocs()
	t.rt.Seq.Bump(endTime)
	if t.rt.domain != nil {
		t.status.Clear(t.rt.domain)
	}
	t.rt.Shared.Epoch.Quiesce(t.slot, endTime)
	t.finishCommit()
	return true
}

func (t *Tx) finishCommit() {
	t.allocMgr.CommitFrees()
	t.rt.Shared.Epoch.Clear(t.slot)
	t.deferredActs.OnCommit()
	t.cmMgr.AfterCommit()
	t.clearLogs()
}

// Abort implements spec.md §4.4 Abort: writes live only in the redo log,
// so unwinding is just discarding it.
func (t *Tx) Abort() {
	if t.level == 0 {
		return
	}
	t.level = 0
	t.doAbort()
}

func (t *Tx) doAbort() {
	t.level = 0
	if t.rt.domain != nil {
		t.status.Clear(t.rt.domain)
	}
	t.allocMgr.OnAbort()
	t.rt.Shared.Epoch.Clear(t.slot)
	t.deferredActs.OnAbort()
	t.cmMgr.AfterAbort()
	t.clearLogs()
}

func (t *Tx) clearLogs() {
	t.redo.Clear()
	t.reads.Clear()
	t.irrevocable = false
}

func (t *Tx) Alloc(size uintptr) unsafe.Pointer { return t.allocMgr.Alloc(size) }

func (t *Tx) AlignedAlloc(alignment, size uintptr) unsafe.Pointer {
	return t.allocMgr.AlignedAlloc(alignment, size)
}

func (t *Tx) Free(ptr unsafe.Pointer) { t.allocMgr.Free(ptr) }

func (t *Tx) RegisterCommitHandler(fn func(arg any), arg any) {
	t.deferredActs.Register(fn, arg)
}

func (t *Tx) SetStackFrame(addr unsafe.Pointer) { t.frame.Override(uintptr(addr)) }

func backoff(attempt int) { platform.Spin(attempt) }

var _ core.Descriptor = (*Tx)(nil)
