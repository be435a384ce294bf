package oreceager_test

import (
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfs409/gotm/core"
	"github.com/mfs409/gotm/cores/oreceager"
	"github.com/mfs409/gotm/internal/persist"
	"github.com/mfs409/gotm/internal/sysalloc"
)

// TestPTMCommitPersistsThroughTheDomain exercises spec.md §4.15's eager
// PTM protocol end to end: a committed write must be visible in the
// backing NVM region even after the region is closed and reopened (the
// stand-in here for surviving a crash), since OrecEager's writeback lands
// in place behind the undo log rather than in a separate redo buffer.
func TestPTMCommitPersistsThroughTheDomain(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	regionPath := filepath.Join(dir, "region.nvm")

	region, err := persist.OpenRegion(regionPath, 4096)
	require.NoError(t, err)
	domain := persist.NewADR(region)
	arena := sysalloc.NewArena(region)

	rt := oreceager.NewPTMRuntime(domain, arena)
	d := rt.NewTx()
	defer d.Release()

	ptr := (*int64)(arena.Alloc(8))
	core.Execute(d, func() {
		core.Write(d, ptr, 42)
	})
	assert.Equal(t, int64(42), *ptr)
	require.NoError(t, region.Close())

	reopened, err := persist.OpenRegion(regionPath, 4096)
	require.NoError(t, err)
	defer reopened.Close()
	offset := uintptr(unsafe.Pointer(ptr)) - region.Base()
	recovered := *(*int64)(unsafe.Pointer(reopened.Base() + offset))
	assert.Equal(t, int64(42), recovered, "a committed write must survive region close/reopen")
}
