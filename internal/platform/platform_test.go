package platform_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mfs409/gotm/internal/platform"
)

func TestWordLoadStore(t *testing.T) {
	t.Parallel()
	var w platform.Word
	assert.Equal(t, uint64(0), w.Load())

	w.Store(7)
	assert.Equal(t, uint64(7), w.Load())
}

func TestWordCAS(t *testing.T) {
	t.Parallel()
	var w platform.Word
	w.Store(1)

	assert.False(t, w.CAS(0, 2))
	assert.True(t, w.CAS(1, 2))
	assert.Equal(t, uint64(2), w.Load())
}

func TestWordAddAndSwap(t *testing.T) {
	t.Parallel()
	var w platform.Word
	w.Store(5)

	assert.Equal(t, uint64(8), w.Add(3))
	old := w.Swap(100)
	assert.Equal(t, uint64(8), old)
	assert.Equal(t, uint64(100), w.Load())
}

func TestSpinDoesNotPanicAcrossEscalationBoundary(t *testing.T) {
	t.Parallel()
	for attempt := 0; attempt < 6; attempt++ {
		platform.Spin(attempt)
	}
}
