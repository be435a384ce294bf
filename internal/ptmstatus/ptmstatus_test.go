package ptmstatus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mfs409/gotm/internal/ptmstatus"
)

type fakeDomain struct {
	flushes int
	fences  int
}

func (d *fakeDomain) Flush(uintptr, uintptr) { d.flushes++ }
func (d *fakeDomain) Fence()                 { d.fences++ }

func TestSetNeedsUndoFlushesAndFences(t *testing.T) {
	t.Parallel()
	var w ptmstatus.Word
	d := &fakeDomain{}

	w.SetNeedsUndo(0xABC, d)
	assert.Equal(t, ptmstatus.NeedsUndo, w.State)
	assert.Equal(t, uintptr(0xABC), w.UndoLog)
	assert.Equal(t, 1, d.flushes)
	assert.Equal(t, 1, d.fences)
}

func TestSetNeedsRedoAndSetTimestamp(t *testing.T) {
	t.Parallel()
	var w ptmstatus.Word
	d := &fakeDomain{}

	w.SetNeedsRedo(0x1, d)
	assert.Equal(t, ptmstatus.NeedsRedo, w.State)

	w.SetTimestamp(0x2, 42, d)
	assert.Equal(t, uint64(42), w.State)
	assert.Equal(t, uintptr(0x2), w.RedoLog)
}

func TestClearResetsToInactive(t *testing.T) {
	t.Parallel()
	var w ptmstatus.Word
	d := &fakeDomain{}
	w.SetNeedsUndo(0xABC, d)

	w.Clear(d)
	assert.Equal(t, ptmstatus.Inactive, w.State)
	assert.Equal(t, uintptr(0), w.UndoLog)
}

func TestClearToleratesNilDomain(t *testing.T) {
	t.Parallel()
	var w ptmstatus.Word
	w.SetNeedsUndo(0x1, nil)
	w.Clear(nil)
	assert.Equal(t, ptmstatus.Inactive, w.State)
}

func TestDecide(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ptmstatus.Committed, ptmstatus.Decide(ptmstatus.Inactive, false))
	assert.Equal(t, ptmstatus.AbortedAndFreed, ptmstatus.Decide(ptmstatus.Inactive, true))
	assert.Equal(t, ptmstatus.ReplayUndo, ptmstatus.Decide(ptmstatus.NeedsUndo, false))
	assert.Equal(t, ptmstatus.ReplayRedo, ptmstatus.Decide(ptmstatus.NeedsRedo, false))
	assert.Equal(t, ptmstatus.ReplayRedo, ptmstatus.Decide(42, false), "a commit timestamp state must replay redo")
}
