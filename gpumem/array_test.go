package gpumem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArrayResizeGrowsAndPreserves(t *testing.T) {
	s := NewStream()
	defer s.Close()

	a := NewArray[int](s, HostPageable)
	a.Resize(4, false, true)
	s.Synchronize()
	assert.Equal(t, 4, a.GetCount())
	assert.Equal(t, []int{0, 0, 0, 0}, a.ReadPtr())

	a.Fill(7)
	a.Resize(8, true, false)
	s.Synchronize()
	got := a.ReadPtr()
	assert.Equal(t, []int{7, 7, 7, 7}, got[:4])
	assert.Equal(t, 8, a.GetCount())
}

func TestArrayResizeShrinkThenGrowReusesCapacity(t *testing.T) {
	s := NewStream()
	defer s.Close()

	a := NewArray[int](s, Device)
	a.Resize(100, false, false)
	s.Synchronize()
	grown := cap(a.data)
	a.Resize(10, false, false)
	s.Synchronize()
	assert.Equal(t, 10, a.GetCount())

	a.Resize(50, false, false)
	s.Synchronize()
	assert.Equal(t, 50, a.GetCount())
	assert.Equal(t, grown, cap(a.data))
}

func TestArrayCopyFromAcrossStreams(t *testing.T) {
	srcStream := NewStream()
	dstStream := NewStream()
	defer srcStream.Close()
	defer dstStream.Close()

	src := NewArray[int](srcStream, HostPageable)
	src.Resize(3, false, false)
	src.Fill(9)
	ev := srcStream.RecordEvent()

	dst := NewArray[int](dstStream, HostPageable)
	ev.Wait()
	dst.CopyFrom(src, dstStream)
	dstStream.Synchronize()

	assert.Equal(t, []int{9, 9, 9}, dst.ReadPtr())
}

func TestArrayGetMemoryKind(t *testing.T) {
	s := NewStream()
	defer s.Close()
	a := NewArray[float32](s, Device)
	assert.Equal(t, Device, a.GetMemoryKind())
}

func TestArrayResizeNegativePanics(t *testing.T) {
	s := NewStream()
	defer s.Close()
	a := NewArray[int](s, Device)

	done := make(chan struct{})
	var r any
	s.Enqueue(func() {
		defer close(done)
		defer func() { r = recover() }()
		a.resizeLocked(-1, false, false)
	})
	<-done
	assert.NotNil(t, r)
}
