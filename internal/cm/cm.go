// Package cm is the contention manager: the back-off/hourglass/
// irrevocability-escalation policy of spec.md §4.11.
package cm

import (
	"math/rand"
	"sync/atomic"
	"time"
)

// Config holds the policy's tunable knobs (spec.md §4.11: "abort
// threshold before escalation; min/max exponential back-off bounds;
// hourglass semantics").
type Config struct {
	HourglassThreshold   int // consecutive aborts before taking the sticky hourglass token
	IrrevocableThreshold int // consecutive aborts before requesting irrevocability
	MinBackoff           time.Duration
	MaxBackoff           time.Duration
}

// DefaultConfig is a conservative default matching common STM benchmark
// configurations: back off a little after every abort, escalate to
// hourglass after repeated contention, and only ask for irrevocability
// after sustained livelock.
func DefaultConfig() Config {
	return Config{
		HourglassThreshold:   8,
		IrrevocableThreshold: 32,
		MinBackoff:           1 * time.Microsecond,
		MaxBackoff:           1 * time.Millisecond,
	}
}

// Hourglass is the process-wide sticky token: a thread that keeps
// aborting acquires it, and every other thread's before_begin backs off
// while it is held by someone else (spec.md §4.11).
type Hourglass struct {
	holder atomic.Int32
}

// NewHourglass returns a free hourglass token.
func NewHourglass() *Hourglass {
	h := &Hourglass{}
	h.holder.Store(-1)
	return h
}

// TryAcquire attempts to take the token for slot.
func (h *Hourglass) TryAcquire(slot int) bool {
	return h.holder.CompareAndSwap(-1, int32(slot))
}

// Release gives up the token if slot holds it.
func (h *Hourglass) Release(slot int) { h.holder.CompareAndSwap(int32(slot), -1) }

// HeldByOther reports whether some slot other than slot holds the token.
func (h *Hourglass) HeldByOther(slot int) bool {
	v := h.holder.Load()
	return v != -1 && v != int32(slot)
}

// Manager is a per-descriptor contention manager instance sharing a
// process-wide Hourglass.
type Manager struct {
	cfg       Config
	hourglass *Hourglass
	slot      int
	aborts    int
	backoff   time.Duration
}

// New returns a manager for the given descriptor slot, sharing hourglass
// with every other descriptor in the runtime.
func New(cfg Config, hourglass *Hourglass, slot int) *Manager {
	return &Manager{cfg: cfg, hourglass: hourglass, slot: slot, backoff: cfg.MinBackoff}
}

// BeforeBegin is consulted at the start of every outer begin (spec.md
// §4.1 step 5). It reports whether the core should take the
// irrevocability path, and blocks briefly if another thread holds the
// hourglass.
func (m *Manager) BeforeBegin() (becomeIrrevocable bool) {
	if m.hourglass.HeldByOther(m.slot) {
		time.Sleep(m.backoff)
	}
	return m.aborts >= m.cfg.IrrevocableThreshold
}

// AfterAbort increments the local abort counter, applies exponential
// back-off, and — once contention is sustained — takes the hourglass
// token (spec.md §4.11 after_abort).
func (m *Manager) AfterAbort() {
	m.aborts++
	if m.aborts >= m.cfg.HourglassThreshold {
		m.hourglass.TryAcquire(m.slot)
	}
	jittered := time.Duration(float64(m.backoff) * (0.5 + rand.Float64()))
	time.Sleep(jittered)
	m.backoff *= 2
	if m.backoff > m.cfg.MaxBackoff {
		m.backoff = m.cfg.MaxBackoff
	}
}

// AfterCommit resets the abort counter and back-off, and releases the
// hourglass token if held (spec.md §4.11 after_commit).
func (m *Manager) AfterCommit() {
	m.aborts = 0
	m.backoff = m.cfg.MinBackoff
	m.hourglass.Release(m.slot)
}
