// Package memio is the shared raw-memory-access helper every core's
// ReadRaw/WriteRaw bottoms out on: widths 1/2/4/8 bytes read or written
// through an unsafe.Pointer, represented uniformly as the low width bytes
// of a uint64 (little-endian), matching how internal/redolog and
// internal/undolog store values.
package memio

import "unsafe"

// Read loads width bytes at addr into the low bytes of a uint64.
func Read(addr unsafe.Pointer, width uintptr) uint64 {
	switch width {
	case 1:
		return uint64(*(*uint8)(addr))
	case 2:
		return uint64(*(*uint16)(addr))
	case 4:
		return uint64(*(*uint32)(addr))
	case 8:
		return *(*uint64)(addr)
	default:
		panic("gotm/memio: unsupported width")
	}
}

// Write stores the low width bytes of val at addr.
func Write(addr unsafe.Pointer, width uintptr, val uint64) {
	switch width {
	case 1:
		*(*uint8)(addr) = uint8(val)
	case 2:
		*(*uint16)(addr) = uint16(val)
	case 4:
		*(*uint32)(addr) = uint32(val)
	case 8:
		*(*uint64)(addr) = val
	default:
		panic("gotm/memio: unsupported width")
	}
}

// ReadByte loads a single byte at addr, used by the chunked redo/undo
// logs for reconstruction and snapshotting.
func ReadByte(addr uintptr) byte { return *(*byte)(unsafe.Pointer(addr)) }

// WriteByte stores a single byte at addr.
func WriteByte(addr uintptr, b byte) { *(*byte)(unsafe.Pointer(addr)) = b }
