package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_AcquireMarksOwned(t *testing.T) {
	reg := NewRegistry()
	assert.False(t, reg.IsOwned("r1"))

	reg.Acquire("r1")
	assert.True(t, reg.IsOwned("r1"))

	reg.Release("r1")
	assert.False(t, reg.IsOwned("r1"))
}

func TestRunController_PauseThenResume(t *testing.T) {
	c := &RunController{}
	cancelled, isPause := c.Cancelled()
	assert.False(t, cancelled)
	assert.False(t, isPause)

	c.Pause()
	cancelled, isPause = c.Cancelled()
	assert.True(t, cancelled)
	assert.True(t, isPause)

	c.Resume()
	cancelled, _ = c.Cancelled()
	assert.False(t, cancelled)
}

func TestRunController_Cancel(t *testing.T) {
	c := &RunController{}
	c.Cancel()
	cancelled, isPause := c.Cancelled()
	assert.True(t, cancelled)
	assert.False(t, isPause)
}
