package orec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mfs409/gotm/internal/orec"
)

func TestTryLockAndRelease(t *testing.T) {
	t.Parallel()
	var o orec.Orec

	ok, old := o.TryLock(3, 100)
	assert.True(t, ok)
	assert.Equal(t, uint64(0), old)
	assert.True(t, orec.IsLocked(o.Load()))
	assert.Equal(t, 3, orec.Owner(o.Load()))

	// A second owner must not be able to acquire an already-locked orec.
	ok2, _ := o.TryLock(4, 100)
	assert.False(t, ok2)

	o.Release(101)
	assert.False(t, orec.IsLocked(o.Load()))
	assert.Equal(t, uint64(101), o.Load())
}

func TestTryLockRejectsVersionAboveBound(t *testing.T) {
	t.Parallel()
	var o orec.Orec
	o.Release(50)

	ok, _ := o.TryLock(1, 49)
	assert.False(t, ok, "a version newer than the snapshot bound must not be lockable")

	ok2, old := o.TryLock(1, 50)
	assert.True(t, ok2)
	assert.Equal(t, uint64(50), old)
}

func TestReleaseToPriorPlusOneRestoresVersion(t *testing.T) {
	t.Parallel()
	var o orec.Orec
	o.Release(7)
	_, _ = o.TryLock(2, 100)

	restored := o.ReleaseToPriorPlusOne()
	assert.Equal(t, uint64(8), restored)
	assert.Equal(t, uint64(8), o.Load())
	assert.False(t, orec.IsLocked(o.Load()))
}

func TestTableStripesByGrain(t *testing.T) {
	t.Parallel()
	tbl := orec.NewTable(1024)
	a := tbl.For(0x1000)
	b := tbl.For(0x1001) // same GRAIN-aligned chunk as 0x1000
	assert.Same(t, a, b)

	c := tbl.For(0x2F40) // a different chunk, and a different bucket mod 1024
	assert.NotSame(t, a, c)
}
