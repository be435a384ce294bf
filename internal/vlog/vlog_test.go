package vlog_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"

	"github.com/mfs409/gotm/internal/vlog"
)

func TestValidatePassesWhenMemoryUnchanged(t *testing.T) {
	t.Parallel()
	var x, y int64 = 10, 20
	l := vlog.New()
	l.Record(unsafe.Pointer(&x), 8, 10)
	l.Record(unsafe.Pointer(&y), 8, 20)

	ok := l.Validate(func(addr unsafe.Pointer, width uintptr) uint64 {
		return uint64(*(*int64)(addr))
	})
	assert.True(t, ok)
}

func TestValidateFailsOnMismatch(t *testing.T) {
	t.Parallel()
	var x int64 = 10
	l := vlog.New()
	l.Record(unsafe.Pointer(&x), 8, 10)

	x = 11 // a concurrent writer mutated the observed address
	ok := l.Validate(func(addr unsafe.Pointer, width uintptr) uint64 {
		return uint64(*(*int64)(addr))
	})
	assert.False(t, ok)
}

func TestValidateStopsAtFirstMismatch(t *testing.T) {
	t.Parallel()
	var x, y int64 = 10, 20
	l := vlog.New()
	l.Record(unsafe.Pointer(&x), 8, 999) // already wrong
	l.Record(unsafe.Pointer(&y), 8, 20)

	reads := 0
	l.Validate(func(addr unsafe.Pointer, width uintptr) uint64 {
		reads++
		return uint64(*(*int64)(addr))
	})
	assert.Equal(t, 1, reads, "Validate must stop at the first mismatch")
}

func TestClearAndLen(t *testing.T) {
	t.Parallel()
	var x int64
	l := vlog.New()
	l.Record(unsafe.Pointer(&x), 8, 0)
	assert.Equal(t, 1, l.Len())

	l.Clear()
	assert.Equal(t, 0, l.Len())
}
