package logging_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mfs409/gotm/internal/logging"
)

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := logging.New(logging.Config{Level: logging.LevelWarn, Output: &buf})

	l.Debugf("should not appear")
	l.Infof("should not appear either")
	assert.Empty(t, buf.String())

	l.Warnf("contention on %s", "ring overflow")
	assert.Contains(t, buf.String(), "[warn]")
	assert.Contains(t, buf.String(), "contention on ring overflow")
}

func TestErrorfAlwaysPassesAnyLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := logging.New(logging.Config{Level: logging.LevelError, Output: &buf})

	l.Errorf("invariant violated")
	assert.True(t, strings.Contains(buf.String(), "[error]"))
}

func TestDefaultLoggerIsLazyAndReplaceable(t *testing.T) {
	var buf bytes.Buffer
	custom := logging.New(logging.Config{Level: logging.LevelDebug, Output: &buf})
	logging.SetDefault(custom)
	defer logging.SetDefault(logging.New(logging.DefaultConfig()))

	logging.Default().Debugf("hello")
	assert.Contains(t, buf.String(), "hello")
}
