package ring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mfs409/gotm/internal/ring"
)

func TestFilterIntersects(t *testing.T) {
	t.Parallel()
	var a, b ring.Filter
	a.Add(0x1000)
	b.Add(0x2000)
	assert.False(t, a.Intersects(&b))

	b.Add(0x1000)
	assert.True(t, a.Intersects(&b))
}

func TestFilterUnionAndClear(t *testing.T) {
	t.Parallel()
	var a, b ring.Filter
	a.Add(0x1000)
	b.Add(0x2000)
	a.Union(&b)
	assert.True(t, a.Intersects(&b))

	a.Clear()
	assert.False(t, a.Intersects(&b))
}

func TestRingPublishAndComplete(t *testing.T) {
	t.Parallel()
	r := ring.NewRing(4)
	var f ring.Filter
	f.Add(0x1000)

	r.Publish(1, &f)
	assert.Equal(t, uint64(1), r.LastInit())
	assert.Equal(t, uint64(0), r.LastComplete())

	r.MarkComplete(1)
	assert.Equal(t, uint64(1), r.LastComplete())
	assert.True(t, r.At(1).Intersects(&f))
}

// TestOverflowed is spec.md §3's overflow rule: a snapshot RING_ELEMENTS
// or more commits old can no longer be trusted against the ring.
func TestOverflowed(t *testing.T) {
	t.Parallel()
	r := ring.NewRing(4)
	assert.False(t, r.Overflowed(10, 13))
	assert.True(t, r.Overflowed(10, 14))
	assert.True(t, r.Overflowed(10, 20))
}
