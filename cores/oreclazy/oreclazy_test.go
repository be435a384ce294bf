package oreclazy_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mfs409/gotm/core"
	"github.com/mfs409/gotm/cores/oreclazy"
	"github.com/mfs409/gotm/internal/cm"
)

func counterAndSwap(t *testing.T, rt *oreclazy.Runtime) {
	var x int64
	const threads, iterations = 4, 100
	var wg sync.WaitGroup
	wg.Add(threads)
	for i := 0; i < threads; i++ {
		go func() {
			defer wg.Done()
			d := rt.NewTx()
			defer d.Release()
			for j := 0; j < iterations; j++ {
				core.Execute(d, func() {
					v := core.Read(d, &x)
					core.Write(d, &x, v+1)
				})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(threads*iterations), x)

	var a, b int64 = 3, 5
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			d := rt.NewTx()
			defer d.Release()
			core.Execute(d, func() {
				tmp := core.Read(d, &a)
				core.Write(d, &a, core.Read(d, &b))
				core.Write(d, &b, tmp)
			})
		}()
	}
	wg.Wait()
	assert.ElementsMatch(t, []int64{3, 5}, []int64{a, b})
}

// TestCommitTime exercises the classic OrecLazy/TL2 timing (spec.md §8
// scenarios 1-2).
func TestCommitTime(t *testing.T) {
	t.Parallel()
	rt := oreclazy.NewRuntime(64, cm.DefaultConfig())
	counterAndSwap(t, rt)
}

// TestEncounterTime exercises the OrecMixed timing, same scenarios.
func TestEncounterTime(t *testing.T) {
	t.Parallel()
	rt := oreclazy.NewRuntime(64, cm.DefaultConfig(), oreclazy.WithLockTiming(oreclazy.EncounterTime))
	counterAndSwap(t, rt)
}

// TestWritesInvisibleUntilCommit confirms writes stay in the redo log and
// never touch memory before Commit — the defining property that
// distinguishes a lazy core from OrecEager.
func TestWritesInvisibleUntilCommit(t *testing.T) {
	t.Parallel()
	rt := oreclazy.NewRuntime(16, cm.DefaultConfig())
	var x int64 = 1
	d := rt.NewTx()
	defer d.Release()

	d.Begin()
	core.Write(d, &x, 2)
	assert.Equal(t, int64(1), x, "a lazy core must not write through to memory before commit")
	d.Commit()
	assert.Equal(t, int64(2), x)
}
