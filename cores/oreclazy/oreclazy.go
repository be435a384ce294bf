// Package oreclazy is the lazy-versioned orec core family of spec.md
// §4.3: OrecLazy/TL2 (buffer writes in a redo log, acquire orecs and
// write back only at commit) and OrecMixed (the same validation and
// commit protocol, but orecs are acquired at encounter time instead of
// commit time). LockTiming selects between the two; the rest of the
// algorithm — redo-buffered writes, read-set validation against a global
// clock, writeback-then-release commit — is shared.
package oreclazy

import (
	"unsafe"

	"github.com/mfs409/gotm/core"
	"github.com/mfs409/gotm/internal/alloc"
	"github.com/mfs409/gotm/internal/clock"
	"github.com/mfs409/gotm/internal/cm"
	"github.com/mfs409/gotm/internal/deferred"
	"github.com/mfs409/gotm/internal/frame"
	"github.com/mfs409/gotm/internal/memio"
	"github.com/mfs409/gotm/internal/minivector"
	"github.com/mfs409/gotm/internal/orec"
	"github.com/mfs409/gotm/internal/persist"
	"github.com/mfs409/gotm/internal/ptmstatus"
	"github.com/mfs409/gotm/internal/redolog"
	"github.com/mfs409/gotm/internal/sysalloc"
)

// LockTiming selects when a write's orec is acquired.
type LockTiming int

const (
	// CommitTime acquires every write-set orec during Commit — classic
	// OrecLazy/TL2 (spec.md §4.3).
	CommitTime LockTiming = iota
	// EncounterTime acquires an orec the first time one of its addresses
	// is written, same as OrecEager, while still buffering the actual
	// bytes in the redo log and writing back at commit — OrecMixed, the
	// spec's named hybrid of the eager locking discipline with the lazy
	// writeback discipline.
	EncounterTime
)

// Runtime is the process-wide lazy-orec substrate.
type Runtime struct {
	Orecs       *orec.Table
	Clock       clock.Clock
	Shared      *core.Shared
	timing      LockTiming
	singleFence bool
	domain      persist.Domain
	sys         allocator
}

type allocator interface {
	Alloc(size uintptr) unsafe.Pointer
	AlignedAlloc(align, size uintptr) unsafe.Pointer
	Free(unsafe.Pointer)
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLockTiming selects CommitTime (OrecLazy/TL2) or EncounterTime
// (OrecMixed). Default CommitTime.
func WithLockTiming(t LockTiming) Option { return func(r *Runtime) { r.timing = t } }

// WithSingleFence enables TL2's single-fence optimization: when the
// commit timestamp is exactly start_time+1 (no writer committed between
// this transaction's begin and its own commit increment), the read set
// is known valid without a second pass, matching the original TL2 paper's
// fast path. Off by default, since it only pays off for read-heavy
// workloads under low contention.
func WithSingleFence(enabled bool) Option {
	return func(r *Runtime) { r.singleFence = enabled }
}

// WithOrecCount overrides the orec table size.
func WithOrecCount(n int) Option {
	return func(r *Runtime) { r.Orecs = orec.NewTable(n) }
}

// NewRuntime returns a plain STM lazy-orec runtime.
func NewRuntime(maxThreads int, cmCfg cm.Config, opts ...Option) *Runtime {
	rt := &Runtime{
		Orecs:  orec.NewTable(1 << 20),
		Shared: core.NewShared(maxThreads, cmCfg),
		sys:    sysalloc.Heap{},
	}
	for _, o := range opts {
		o(rt)
	}
	return rt
}

// NewPTMRuntime returns a lazy-orec runtime driving the lazy PTM
// persist-ordering protocol of spec.md §4.15: writes accumulate in the
// redo log untouched by persistence until Commit's writeback phase.
func NewPTMRuntime(domain persist.Domain, arena *sysalloc.Arena, maxThreads int, cmCfg cm.Config, opts ...Option) *Runtime {
	rt := NewRuntime(maxThreads, cmCfg, opts...)
	rt.domain = domain
	rt.sys = arena
	return rt
}

// Tx is a lazy-orec transaction descriptor.
type Tx struct {
	rt    *Runtime
	slot  int
	cmMgr *cm.Manager

	level        int
	startTime    uint64
	irrevocable  bool
	redo         *redolog.Log
	readSet      *minivector.Vector[*orec.Orec]
	lockSet      *minivector.Vector[*orec.Orec]
	frame        frame.Filter
	allocMgr     *alloc.Manager
	deferredActs deferred.Queue
	status       ptmstatus.Word
}

// NewTx returns a fresh descriptor bound to rt.
func (rt *Runtime) NewTx() *Tx {
	slot := rt.Shared.AcquireSlot()
	t := &Tx{
		rt:      rt,
		slot:    slot,
		cmMgr:   rt.Shared.NewContentionManager(slot),
		redo:    redolog.New(),
		readSet: minivector.New[*orec.Orec](64),
		lockSet: minivector.New[*orec.Orec](16),
	}
	t.allocMgr = alloc.New(alloc.Enhanced, rt.sys.Alloc, rt.sys.Free).WithAlignedAlloc(rt.sys.AlignedAlloc)
	return t
}

// Release returns t's slot to the runtime's free pool.
func (t *Tx) Release() { t.rt.Shared.ReleaseSlot(t.slot) }

// Begin samples the clock and announces the epoch (spec.md §4.1, §4.3).
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
	t.startTime = t.rt.Clock.Load()
	t.rt.Shared.Epoch.OnBegin(t.slot, t.startTime)
	t.allocMgr.OnBegin()
	var mark byte
	t.frame.SetBottom(uintptr(unsafe.Pointer(&mark)))
}

// ReadRaw implements spec.md §4.3 Read: check the redo log first (a
// transaction must see its own writes), then the orec/memory pair with
// the lock-and-version validation every orec core shares.
func (t *Tx) ReadRaw(addr unsafe.Pointer, width uintptr) uint64 {
	a := uintptr(addr)
	if t.irrevocable || t.allocMgr.IsCaptured(a) || t.frame.IsPrivate(a) {
		return memio.Read(addr, width)
	}
	o := t.rt.Orecs.For(a)
	for {
		pre := o.Load()
		if orec.IsLocked(pre) && orec.Owner(pre) != t.slot {
			core.Restart()
		}
		memVal := memio.Read(addr, width)
		if v, hit, full := t.redo.Lookup(addr, width, memVal); hit {
			if full {
				return v
			}
			memVal = v
		}
		post := o.Load()
		if pre != post {
			t.extendSnapshot()
			continue
		}
		if orec.IsLocked(pre) {
			// Owned by self (EncounterTime write already in flight).
			return memVal
		}
		if pre > t.startTime {
			t.extendSnapshot()
			continue
		}
		t.readSet.Push(o)
		return memVal
	}
}

// WriteRaw implements spec.md §4.3 Write: buffer the bytes in the redo
// log; under EncounterTime also acquire the orec immediately.
func (t *Tx) WriteRaw(addr unsafe.Pointer, width uintptr, val uint64) {
	a := uintptr(addr)
	if t.irrevocable || t.allocMgr.IsCaptured(a) || t.frame.IsPrivate(a) {
		memio.Write(addr, width, val)
		t.allocMgr.OnCapturedWrite(t.rt.domain, a, width)
		return
	}
	if t.rt.timing == EncounterTime {
		o := t.rt.Orecs.For(a)
		for {
			pre := o.Load()
			if orec.IsLocked(pre) {
				if orec.Owner(pre) == t.slot {
					break
				}
				core.Restart()
			}
			if pre > t.startTime {
				t.extendSnapshot()
				continue
			}
			acquired, _ := o.TryLock(t.slot, t.startTime)
			if !acquired {
				core.Restart()
			}
			t.lockSet.Push(o)
			break
		}
	}
	t.redo.Insert(addr, width, val)
}

func (t *Tx) extendSnapshot() {
	fresh := t.rt.Clock.Load()
	if !t.validateReadSet() {
		core.Restart()
	}
	t.startTime = fresh
	t.rt.Shared.Epoch.SetEpoch(t.slot, fresh)
}

func (t *Tx) validateReadSet() bool {
	ok := true
	t.readSet.Each(func(_ int, o *orec.Orec) bool {
		v := o.Load()
		if orec.IsLocked(v) {
			if orec.Owner(v) != t.slot {
				ok = false
				return false
			}
			return true
		}
		if v > t.startTime {
			ok = false
			return false
		}
		return true
	})
	return ok
}

// Commit implements spec.md §4.3 Commit: acquire any orecs not already
// held (CommitTime), validate the read set, write back the redo log, and
// release every held orec at the fresh end time.
func (t *Tx) Commit() bool {
	if t.level == 0 {
		core.Fatal("oreclazy: commit without a matching begin")
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
	t.redo.Chunks(func(base uintptr) { hasWrites = true })
	if !hasWrites {
		t.rt.Shared.Epoch.Quiesce(t.slot, t.startTime)
		t.finishCommit()
		return true
	}

	if t.rt.timing == CommitTime {
		ok := true
		t.redo.Chunks(func(base uintptr) {
			if !ok {
				return
			}
			o := t.rt.Orecs.For(base)
			for {
				pre := o.Load()
				if orec.IsLocked(pre) {
					if orec.Owner(pre) == t.slot {
						return
					}
					ok = false
					return
				}
				if pre > t.startTime {
					ok = false
					return
				}
				acquired, _ := o.TryLock(t.slot, t.startTime)
				if acquired {
					t.lockSet.Push(o)
					return
				}
			}
		})
		if !ok {
			t.doAbort()
			return false
		}
	}

	endTime := t.rt.Clock.FetchAdd(1) + 1
	skipValidate := t.rt.singleFence && endTime == t.startTime+1
	if !skipValidate && !t.validateReadSet() {
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
	t.allocMgr.CommitMallocs()
	t.lockSet.Each(func(_ int, o *orec.Orec) bool {
		o.Release(endTime)
		return true
	})
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

// Abort implements spec.md §4.3 Abort: since writes never left the redo
// log, unwinding is just releasing any orecs taken (at encounter time, or
// partially at commit time) and discarding the log — no memory restore
// needed, unlike an eager core.
func (t *Tx) Abort() {
	if t.level == 0 {
		return
	}
	t.level = 0
	t.doAbort()
}

func (t *Tx) doAbort() {
	t.level = 0
	var maxVersion uint64
	t.lockSet.Each(func(_ int, o *orec.Orec) bool {
		if v := o.ReleaseToPriorPlusOne(); v > maxVersion {
			maxVersion = v
		}
		return true
	})
	if maxVersion > 0 {
		t.rt.Clock.Bump(maxVersion)
	}
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
	t.readSet.Clear()
	t.lockSet.Clear()
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

var _ core.Descriptor = (*Tx)(nil)
