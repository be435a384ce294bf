package clock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mfs409/gotm/internal/clock"
)

func TestFetchAddReturnsPriorValue(t *testing.T) {
	t.Parallel()
	var c clock.Clock

	prior := c.FetchAdd(2)
	assert.Equal(t, uint64(0), prior)
	assert.Equal(t, uint64(2), c.Load())

	prior = c.FetchAdd(3)
	assert.Equal(t, uint64(2), prior)
	assert.Equal(t, uint64(5), c.Load())
}

func TestCAS(t *testing.T) {
	t.Parallel()
	var c clock.Clock
	c.FetchAdd(10)

	assert.False(t, c.CAS(9, 20), "CAS must fail against a stale expected value")
	assert.Equal(t, uint64(10), c.Load())

	assert.True(t, c.CAS(10, 20))
	assert.Equal(t, uint64(20), c.Load())
}

func TestBumpOnlyEverIncreases(t *testing.T) {
	t.Parallel()
	var c clock.Clock
	c.FetchAdd(5)

	c.Bump(3)
	assert.Equal(t, uint64(5), c.Load(), "Bump must not lower the clock")

	c.Bump(9)
	assert.Equal(t, uint64(9), c.Load())
}
