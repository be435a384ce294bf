package persist_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfs409/gotm/internal/persist"
)

func TestWriteReadRootRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	rootPath := filepath.Join(dir, "root")
	want := persist.Root{RegionPath: filepath.Join(dir, "region.nvm"), RegionSize: 4096}

	require.NoError(t, persist.WriteRoot(rootPath, want))
	got, err := persist.ReadRoot(rootPath)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestOpenRecoveredReopensExistingRegion(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	regionPath := filepath.Join(dir, "region.nvm")
	rootPath := filepath.Join(dir, "root")

	region, err := persist.OpenRegion(regionPath, 4096)
	require.NoError(t, err)
	region.Bytes()[0] = 0x42
	require.NoError(t, persist.WriteRoot(rootPath, persist.Root{RegionPath: regionPath, RegionSize: 4096}))
	require.NoError(t, region.Close())

	recovered, err := persist.OpenRecovered(rootPath)
	require.NoError(t, err)
	defer recovered.Close()
	assert.Equal(t, byte(0x42), recovered.Bytes()[0], "recovery must see the pre-crash contents")
}

func TestReadRootMissingFile(t *testing.T) {
	t.Parallel()
	_, err := persist.ReadRoot(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}
