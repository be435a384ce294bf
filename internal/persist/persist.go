// Package persist abstracts the two persistence domains spec.md §4.15
// names: ADR, where cache-line flushes are explicit instructions, and
// eADR, where the memory controller itself is battery-backed and flushes
// compile to nothing. Every PTM core is generic over a Domain so the same
// commit-protocol code drives both.
package persist

import (
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Domain is the persistence-domain trait of spec.md design note §9:
// "abstract behind a persistence-domain trait with an ADR and eADR
// implementation; the eADR variant compiles flushes to no-ops."
type Domain interface {
	// Flush makes writes to [addr, addr+n) durable. It does not order
	// them with respect to other addresses; call Fence for that.
	Flush(addr uintptr, n uintptr)
	// Fence is a store-fence: all flushes issued before it are ordered
	// before any store issued after it.
	Fence()
}

// EADR is the persistence domain of battery-backed / NVDIMM-N style memory
// controllers: every store is already durable once it reaches the memory
// controller, so Flush is a no-op and Fence only needs a compiler/CPU
// store barrier.
type EADR struct{}

func (EADR) Flush(uintptr, uintptr) {}
func (EADR) Fence()                 { atomic.StoreUint32(new(uint32), 0) }

// ADR is the persistence domain that requires explicit cache-line
// writeback. This implementation backs "NVM" with an mmap'd, page-cache
// backed file (grounded on ehrlich-b-go-ublk's use of golang.org/x/sys for
// raw syscalls): Flush syncs the containing pages with msync(MS_SYNC),
// which is the closest portable stand-in for a cache-line-writeback
// instruction over file-backed memory. A real ADR implementation would
// use CLWB/CLFLUSHOPT directly; this spec's non-goal of "a general-purpose
// persistent heap manager" extends to not hand-rolling architecture
// intrinsics, so msync on the owning Region is the grounded boundary.
type ADR struct {
	region *Region
}

// NewADR binds an ADR domain to the NVM-simulating region it flushes
// against.
func NewADR(region *Region) *ADR { return &ADR{region: region} }

func (d *ADR) Flush(addr uintptr, n uintptr) {
	if d.region == nil {
		return
	}
	d.region.sync(addr, n)
}

func (d *ADR) Fence() { atomic.StoreUint32(new(uint32), 0) }

// Region is a file-backed mmap'd range standing in for a slab of
// non-volatile memory. It is sized once at creation and is not a general
// allocator — internal/sysalloc's Arena layers a bump allocator over it.
type Region struct {
	f    *os.File
	data []byte
	path string
}

// OpenRegion creates (or reopens, preserving contents) a Region backed by
// path, sized size bytes. Reopening an existing file is how a recovering
// process gets back its pre-crash NVM contents.
func OpenRegion(path string, size int) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if info, err := f.Stat(); err != nil {
		f.Close()
		return nil, err
	} else if info.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, err
		}
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Region{f: f, data: data, path: path}, nil
}

// Bytes exposes the mapped range. Callers build typed views over it with
// unsafe.Pointer, same as the teacher's undo log does over pmem.
func (r *Region) Bytes() []byte { return r.data }

// Base is the address of byte 0 of the mapped range.
func (r *Region) Base() uintptr { return addrOf(r.data) }

func (r *Region) sync(addr uintptr, n uintptr) {
	base := r.Base()
	if addr < base || addr+n > base+uintptr(len(r.data)) {
		return
	}
	off := int64(addr - base)
	pageSize := int64(unix.Getpagesize())
	start := (off / pageSize) * pageSize
	end := off + int64(n)
	_ = unix.Msync(r.data[start:end], unix.MS_SYNC)
}

// Close unmaps the region and closes the backing file. The file itself is
// left on disk so a subsequent OpenRegion on the same path recovers it.
func (r *Region) Close() error {
	if err := unix.Munmap(r.data); err != nil {
		r.f.Close()
		return err
	}
	return r.f.Close()
}
