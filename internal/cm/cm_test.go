package cm_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mfs409/gotm/internal/cm"
)

func TestHourglassSingleHolder(t *testing.T) {
	t.Parallel()
	h := cm.NewHourglass()
	assert.False(t, h.HeldByOther(0))

	assert.True(t, h.TryAcquire(0))
	assert.False(t, h.TryAcquire(1), "a second slot must not take an already-held token")
	assert.True(t, h.HeldByOther(1))
	assert.False(t, h.HeldByOther(0))

	h.Release(0)
	assert.False(t, h.HeldByOther(1))
	assert.True(t, h.TryAcquire(1))
}

func TestManagerEscalatesToIrrevocableAfterThreshold(t *testing.T) {
	t.Parallel()
	cfg := cm.Config{
		HourglassThreshold:   2,
		IrrevocableThreshold: 3,
		MinBackoff:           time.Microsecond,
		MaxBackoff:           10 * time.Microsecond,
	}
	h := cm.NewHourglass()
	m := cm.New(cfg, h, 0)

	for i := 0; i < 2; i++ {
		becomeIrrevocable := m.BeforeBegin()
		assert.False(t, becomeIrrevocable)
		m.AfterAbort()
	}
	assert.True(t, h.HeldByOther(99), "the manager must have taken the hourglass after HourglassThreshold aborts")

	m.AfterAbort()
	assert.True(t, m.BeforeBegin(), "IrrevocableThreshold aborts must request irrevocability")
}

func TestManagerAfterCommitResetsStateAndReleasesHourglass(t *testing.T) {
	t.Parallel()
	cfg := cm.DefaultConfig()
	cfg.HourglassThreshold = 1
	h := cm.NewHourglass()
	m := cm.New(cfg, h, 0)

	m.AfterAbort()
	assert.True(t, h.HeldByOther(1), "the manager should hold the hourglass after one abort at threshold 1")

	m.AfterCommit()
	assert.False(t, h.HeldByOther(1), "AfterCommit must release the hourglass")
	assert.False(t, m.BeforeBegin(), "AfterCommit must reset the abort counter below IrrevocableThreshold")
}
