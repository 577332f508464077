package gpumem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamEnqueueRunsInOrder(t *testing.T) {
	s := NewStream()
	defer s.Close()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		s.Enqueue(func() { order = append(order, i) })
	}
	s.Synchronize()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestStreamSynchronizeBlocksUntilDrained(t *testing.T) {
	s := NewStream()
	defer s.Close()

	done := false
	s.Enqueue(func() {
		time.Sleep(10 * time.Millisecond)
		done = true
	})
	s.Synchronize()
	assert.True(t, done)
}

func TestEventWaitObservesOrderedPoint(t *testing.T) {
	s := NewStream()
	defer s.Close()

	var flag bool
	s.Enqueue(func() { flag = true })
	ev := s.RecordEvent()
	s.Enqueue(func() {}) // work after the event, should not affect Wait

	ev.Wait()
	assert.True(t, flag)
}

func TestEventReadyBeforeWait(t *testing.T) {
	s := NewStream()
	defer s.Close()

	gate := make(chan struct{})
	s.Enqueue(func() { <-gate })
	ev := s.RecordEvent()

	assert.False(t, ev.Ready())
	close(gate)
	ev.Wait()
	assert.True(t, ev.Ready())
}

func TestEnqueueAfterCloseGoesPanic(t *testing.T) {
	s := NewStream()
	s.Close()
	require.Panics(t, func() { s.Enqueue(func() {}) })
}

func TestMemoryKindString(t *testing.T) {
	assert.Equal(t, "Device", Device.String())
	assert.Equal(t, "HostPinned", HostPinned.String())
	assert.Equal(t, "HostPageable", HostPageable.String())
}
