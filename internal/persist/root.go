package persist

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"
)

// Root is the small piece of metadata a recovering process needs before
// it can even open the NVM region itself: the region's size. It is kept
// in its own file, separate from the region, and rewritten with an
// atomic replace (write-to-temp, then rename) so a crash mid-write can
// never leave a corrupt, partially-written root behind for the next
// recovery to trip over — the same durability property
// calvinalkan-agent-task's ticket store leans on atomic.WriteFile for.
type Root struct {
	RegionPath string
	RegionSize int
}

// WriteRoot atomically (re)writes path with root's contents.
func WriteRoot(path string, root Root) error {
	content := fmt.Sprintf("%s\n%d\n", root.RegionPath, root.RegionSize)
	return atomic.WriteFile(path, strings.NewReader(content))
}

// ReadRoot reads back a Root previously written by WriteRoot.
func ReadRoot(path string) (Root, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Root{}, err
	}
	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	if len(lines) != 2 {
		return Root{}, fmt.Errorf("persist: malformed root file %q", path)
	}
	size, err := strconv.Atoi(strings.TrimSpace(lines[1]))
	if err != nil {
		return Root{}, fmt.Errorf("persist: malformed root file %q: %w", path, err)
	}
	return Root{RegionPath: lines[0], RegionSize: size}, nil
}

// OpenRecovered reopens the region a Root file describes, the recovery
// entry point a process restarting after a crash uses instead of
// OpenRegion with a hand-carried size.
func OpenRecovered(rootPath string) (*Region, error) {
	root, err := ReadRoot(rootPath)
	if err != nil {
		return nil, err
	}
	return OpenRegion(root.RegionPath, root.RegionSize)
}
