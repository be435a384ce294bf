// Package clock is the single monotonic version-clock counter shared by
// every core that stamps writer commits (spec.md §3).
package clock

import "github.com/mfs409/gotm/internal/platform"

// Clock is padded to one cache line so its own increments don't false-
// share with neighbouring fields (spec.md §3: "padded to one cache
// line").
type Clock struct {
	word platform.Word
	_    platform.CacheLinePad
}

// Load returns the current value.
func (c *Clock) Load() uint64 { return c.word.Load() }

// FetchAdd atomically adds delta and returns the value it held before the
// add (matches the C++ fetch_add semantics spec.md §4.2/§4.3 rely on).
func (c *Clock) FetchAdd(delta uint64) uint64 { return c.word.Add(delta) - delta }

// CAS attempts to move the clock from old to new, reporting success.
func (c *Clock) CAS(old, new uint64) bool { return c.word.CAS(old, new) }

// Bump advances the clock to at least v, used by OrecEager's abort path
// to restore the "clock >= every unlocked orec version" invariant after
// releasing orecs to a version that might exceed the current clock
// (spec.md §4.2 Abort).
func (c *Clock) Bump(v uint64) {
	for {
		cur := c.word.Load()
		if cur >= v {
			return
		}
		if c.word.CAS(cur, v) {
			return
		}
	}
}
