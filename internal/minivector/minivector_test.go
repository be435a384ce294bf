package minivector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mfs409/gotm/internal/minivector"
)

func TestPushAtLen(t *testing.T) {
	t.Parallel()
	v := minivector.New[int](2)
	v.Push(1)
	v.Push(2)
	v.Push(3) // forces the backing array to grow past its initial capacity

	assert.Equal(t, 3, v.Len())
	assert.Equal(t, 1, v.At(0))
	assert.Equal(t, 2, v.At(1))
	assert.Equal(t, 3, v.At(2))
}

func TestSet(t *testing.T) {
	t.Parallel()
	v := minivector.New[string](4)
	v.Push("a")
	v.Set(0, "b")
	assert.Equal(t, "b", v.At(0))
}

func TestClearIsReusable(t *testing.T) {
	t.Parallel()
	v := minivector.New[int](4)
	v.Push(1)
	v.Push(2)
	v.Clear()
	assert.Equal(t, 0, v.Len())

	v.Push(9)
	assert.Equal(t, 1, v.Len())
	assert.Equal(t, 9, v.At(0))
}

func TestEachStopsOnFalse(t *testing.T) {
	t.Parallel()
	v := minivector.New[int](4)
	v.Push(1)
	v.Push(2)
	v.Push(3)

	var seen []int
	v.Each(func(_ int, item int) bool {
		seen = append(seen, item)
		return item != 2
	})
	assert.Equal(t, []int{1, 2}, seen)
}

func TestReverseEachOrder(t *testing.T) {
	t.Parallel()
	v := minivector.New[int](4)
	v.Push(1)
	v.Push(2)
	v.Push(3)

	var seen []int
	v.ReverseEach(func(_ int, item int) bool {
		seen = append(seen, item)
		return true
	})
	assert.Equal(t, []int{3, 2, 1}, seen)
}

func TestSlice(t *testing.T) {
	t.Parallel()
	v := minivector.New[int](4)
	v.Push(1)
	v.Push(2)
	assert.Equal(t, []int{1, 2}, v.Slice())
}
