package redolog_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"

	"github.com/mfs409/gotm/internal/redolog"
)

// TestPartialHitReconstruction is spec.md §8 scenario 4: a 1-byte write at
// address a, followed by a 4-byte read starting at a-3, must reconstruct
// the 3 bytes below a from memory and the byte at a from the log.
func TestPartialHitReconstruction(t *testing.T) {
	t.Parallel()
	var buf [4]byte // addresses base+0..base+3; a is base+3
	base := uintptr(unsafe.Pointer(&buf[0]))
	a := base + 3

	buf[0], buf[1], buf[2] = 0xAA, 0xBB, 0xCC
	memVal := uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(0xFF)<<24

	l := redolog.New()
	l.Insert(unsafe.Pointer(a), 1, 0xDD)

	value, hit, full := l.Lookup(unsafe.Pointer(base), 4, memVal)
	assert.True(t, hit)
	assert.False(t, full, "only one of the four bytes came from the log")
	assert.Equal(t, uint64(0xDDCCBBAA), value)
}

func TestLookupMissReturnsMemVal(t *testing.T) {
	t.Parallel()
	l := redolog.New()
	var x uint32 = 7
	value, hit, full := l.Lookup(unsafe.Pointer(&x), 4, uint64(x))
	assert.False(t, hit)
	assert.False(t, full)
	assert.Equal(t, uint64(7), value)
}

func TestWritebackAppliesRuns(t *testing.T) {
	t.Parallel()
	var buf [8]byte
	base := uintptr(unsafe.Pointer(&buf[0]))

	l := redolog.New()
	l.Insert(unsafe.Pointer(base), 2, 0x1122)
	l.Insert(unsafe.Pointer(base+4), 2, 0x3344)

	var flushed []uintptr
	l.Writeback(
		func(addr uintptr, b byte) { *(*byte)(unsafe.Pointer(addr)) = b },
		func(addr uintptr, n uintptr) { flushed = append(flushed, addr) },
	)

	assert.Equal(t, byte(0x22), buf[0])
	assert.Equal(t, byte(0x11), buf[1])
	assert.Equal(t, byte(0x44), buf[4])
	assert.Equal(t, byte(0x33), buf[5])
	assert.Len(t, flushed, 2, "the two disjoint runs must flush separately")
}

func TestClearIsReusableAcrossGenerations(t *testing.T) {
	t.Parallel()
	var x uint32
	l := redolog.New()
	l.Insert(unsafe.Pointer(&x), 4, 99)
	l.Clear()

	_, hit, _ := l.Lookup(unsafe.Pointer(&x), 4, 0)
	assert.False(t, hit, "Clear must invalidate prior entries even though the chunk slot is reused")

	l.Insert(unsafe.Pointer(&x), 4, 5)
	value, hit, full := l.Lookup(unsafe.Pointer(&x), 4, 0)
	assert.True(t, hit)
	assert.True(t, full)
	assert.Equal(t, uint64(5), value)
}
