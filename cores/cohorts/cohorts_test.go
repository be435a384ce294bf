package cohorts_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mfs409/gotm/core"
	"github.com/mfs409/gotm/cores/cohorts"
)

func TestCounter(t *testing.T) {
	t.Parallel()
	rt := cohorts.NewRuntime()
	var x int64
	const threads, iterations = 4, 100
	var wg sync.WaitGroup
	wg.Add(threads)
	for i := 0; i < threads; i++ {
		go func() {
			defer wg.Done()
			d := rt.NewTx()
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
	rt := cohorts.NewRuntime()
	var x, y int64 = 3, 5
	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			d := rt.NewTx()
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

// TestReadOnlyFastPathSkipsCohort checks that a transaction with no
// writes never joins the sealed/finished ordering machinery — it just
// decrements STARTED and returns, per the original's read-only fast path.
func TestReadOnlyFastPathSkipsCohort(t *testing.T) {
	t.Parallel()
	rt := cohorts.NewRuntime()
	var x int64 = 9
	d := rt.NewTx()
	var got int64
	core.Execute(d, func() {
		got = core.Read(d, &x)
	})
	assert.Equal(t, int64(9), got)

	// The runtime must still be usable afterwards for a writer.
	committed := false
	core.Execute(d, func() {
		core.Write(d, &x, 10)
		committed = true
	})
	assert.True(t, committed)
	assert.Equal(t, int64(10), x)
}

// TestFirstCommitterInCohortSkipsValidation exercises the original's
// optimization: the first transaction to join an otherwise-empty cohort
// commits without needing to validate its reads against anyone.
func TestFirstCommitterInCohortSkipsValidation(t *testing.T) {
	t.Parallel()
	rt := cohorts.NewRuntime()
	var x int64 = 1
	d := rt.NewTx()
	committed := false
	core.Execute(d, func() {
		v := core.Read(d, &x)
		core.Write(d, &x, v+1)
		committed = true
	})
	assert.True(t, committed)
	assert.Equal(t, int64(2), x)
}
