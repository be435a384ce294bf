package tlrw_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mfs409/gotm/core"
	"github.com/mfs409/gotm/cores/tlrw"
	"github.com/mfs409/gotm/internal/cm"
)

func TestCounter(t *testing.T) {
	t.Parallel()
	rt := tlrw.NewRuntime(1<<10, 64, cm.DefaultConfig())
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
}

func TestSwap(t *testing.T) {
	t.Parallel()
	rt := tlrw.NewRuntime(1<<10, 64, cm.DefaultConfig())
	var x, y int64 = 3, 5
	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			d := rt.NewTx()
			defer d.Release()
			core.Execute(d, func() {
				tmp := core.Read(d, &x)
				core.Write(d, &x, core.Read(d, &y))
				core.Write(d, &y, tmp)
			})
		}()
	}
	wg.Wait()
	assert.ElementsMatch(t, []int64{3, 5}, []int64{x, y})
}

// TestConcurrentReadersAllowed checks that multiple readers of the same
// address can hold their byte-lock announcements simultaneously without
// either one restarting, the defining property of a reader-writer lock
// over a plain mutex.
func TestConcurrentReadersAllowed(t *testing.T) {
	t.Parallel()
	rt := tlrw.NewRuntime(16, 8, cm.DefaultConfig())
	var x int64 = 5
	var wg sync.WaitGroup
	results := make([]int64, 4)
	wg.Add(4)
	for i := 0; i < 4; i++ {
		i := i
		go func() {
			defer wg.Done()
			d := rt.NewTx()
			defer d.Release()
			core.Execute(d, func() {
				results[i] = core.Read(d, &x)
			})
		}()
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, int64(5), r)
	}
}
