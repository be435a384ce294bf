package core

import (
	"sync"

	"github.com/mfs409/gotm/internal/cm"
	"github.com/mfs409/gotm/internal/epoch"
)

// Shared is the process-wide substrate every core composes: the epoch
// table, the hourglass contention token, and descriptor-slot allocation
// (spec.md §3: "a stable small integer slot acquired at first use"). Each
// concrete core embeds a Shared alongside whatever metadata table (orec,
// bytelock, ring) its algorithm needs.
type Shared struct {
	Epoch     *epoch.Table
	Hourglass *cm.Hourglass
	CMConfig  cm.Config

	mu      sync.Mutex
	free    []int
	next    int
	maxSlot int
}

// NewShared allocates the epoch table and hourglass for up to maxThreads
// concurrent descriptors.
func NewShared(maxThreads int, cmCfg cm.Config) *Shared {
	return &Shared{
		Epoch:     epoch.NewTable(maxThreads),
		Hourglass: cm.NewHourglass(),
		CMConfig:  cmCfg,
		maxSlot:   maxThreads,
	}
}

// AcquireSlot hands out a stable small integer slot, reusing a released
// one if available.
func (s *Shared) AcquireSlot() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.free); n > 0 {
		slot := s.free[n-1]
		s.free = s.free[:n-1]
		return slot
	}
	if s.next >= s.maxSlot {
		Fatal("gotm: descriptor slot table exhausted (raise maxThreads)")
	}
	slot := s.next
	s.next++
	return slot
}

// ReleaseSlot returns slot to the free pool.
func (s *Shared) ReleaseSlot(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.free = append(s.free, slot)
}

// NewContentionManager builds a per-descriptor contention manager sharing
// this runtime's hourglass token.
func (s *Shared) NewContentionManager(slot int) *cm.Manager {
	return cm.New(s.CMConfig, s.Hourglass, slot)
}
