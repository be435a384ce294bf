package core_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfs409/gotm/core"
)

// fakeDescriptor is the simplest possible core.Descriptor: a single
// mutex-free counter of how many times each lifecycle method ran, and a
// switch that forces Commit to fail restartBudget times before it
// succeeds, so Execute's retry loop can be exercised without a real
// concurrent core.
type fakeDescriptor struct {
	begins, commits, aborts int
	restartBudget           int
	mem                     [8]byte
}

func (f *fakeDescriptor) Begin() { f.begins++ }

func (f *fakeDescriptor) Commit() bool {
	f.commits++
	if f.restartBudget > 0 {
		f.restartBudget--
		return false
	}
	return true
}

func (f *fakeDescriptor) Abort() { f.aborts++ }

func (f *fakeDescriptor) ReadRaw(addr unsafe.Pointer, width uintptr) uint64 {
	var v uint64
	for i := uintptr(0); i < width; i++ {
		v |= uint64(*(*byte)(unsafe.Add(addr, i))) << (8 * i)
	}
	return v
}

func (f *fakeDescriptor) WriteRaw(addr unsafe.Pointer, width uintptr, val uint64) {
	for i := uintptr(0); i < width; i++ {
		*(*byte)(unsafe.Add(addr, i)) = byte(val >> (8 * i))
	}
}

func (f *fakeDescriptor) Alloc(size uintptr) unsafe.Pointer             { return nil }
func (f *fakeDescriptor) AlignedAlloc(align, size uintptr) unsafe.Pointer { return nil }
func (f *fakeDescriptor) Free(ptr unsafe.Pointer)                        {}
func (f *fakeDescriptor) RegisterCommitHandler(fn func(arg any), arg any) {}
func (f *fakeDescriptor) SetStackFrame(addr unsafe.Pointer)               {}

var _ core.Descriptor = (*fakeDescriptor)(nil)

func TestExecute_CommitsOnFirstSuccess(t *testing.T) {
	t.Parallel()
	d := &fakeDescriptor{}
	ran := 0
	core.Execute(d, func() { ran++ })
	assert.Equal(t, 1, ran)
	assert.Equal(t, 1, d.begins)
	assert.Equal(t, 1, d.commits)
	assert.Equal(t, 0, d.aborts)
}

func TestExecute_RetriesUntilCommit(t *testing.T) {
	t.Parallel()
	d := &fakeDescriptor{restartBudget: 3}
	ran := 0
	core.Execute(d, func() { ran++ })
	assert.Equal(t, 4, ran)
	assert.Equal(t, 4, d.begins)
	assert.Equal(t, 4, d.commits)
}

func TestExecute_RestartAbortsAndRetries(t *testing.T) {
	t.Parallel()
	d := &fakeDescriptor{}
	attempts := 0
	core.Execute(d, func() {
		attempts++
		if attempts < 3 {
			core.Restart()
		}
	})
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, d.begins)
	assert.Equal(t, 2, d.aborts, "every restarted attempt aborts; the final, committing one does not")
	assert.Equal(t, 1, d.commits)
}

func TestExecute_GenuinePanicAbortsThenPropagates(t *testing.T) {
	t.Parallel()
	d := &fakeDescriptor{}
	require.Panics(t, func() {
		core.Execute(d, func() { panic("boom") })
	})
	assert.Equal(t, 1, d.aborts, "a non-restart panic must still release whatever the body acquired")
	assert.Equal(t, 0, d.commits)
}

func TestReadWrite_RoundTrip(t *testing.T) {
	t.Parallel()
	d := &fakeDescriptor{}
	var x int32 = 42
	core.Execute(d, func() {
		got := core.Read(d, &x)
		assert.Equal(t, int32(42), got)
		core.Write(d, &x, got+1)
	})
	assert.Equal(t, int32(43), x)
}
