// Package gpumem provides the typed, owning, stream-ordered buffer
// abstraction every node reads from and writes to. There is one Stream
// per graph run; work enqueued on a Stream runs in FIFO order and is
// asynchronous with respect to the host — Enqueue never blocks on
// completion.
//
// This module has no bound GPU backend of its own — the actual ray-trace
// kernel is supplied by a raytrace.Tracer implementation. Stream
// therefore models ordering and host/device synchronization semantics by
// running jobs on a single worker goroutine per stream, which reproduces
// the same enqueue-order and suspension-point guarantees a device stream
// gives without requiring a bound accelerator.
package gpumem

import (
	"sync"
	"sync/atomic"
)

// MemoryKind identifies which memory domain an Array lives in.
type MemoryKind int

const (
	Device MemoryKind = iota
	HostPinned
	HostPageable
)

func (k MemoryKind) String() string {
	switch k {
	case Device:
		return "Device"
	case HostPinned:
		return "HostPinned"
	case HostPageable:
		return "HostPageable"
	default:
		return "Unknown"
	}
}

// Stream serializes a sequence of async jobs (resize, copy, kernel
// launch) exactly like a CUDA stream: jobs run in enqueue order on a
// single background goroutine, and Enqueue returns immediately.
type Stream struct {
	jobs   chan func()
	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewStream starts a stream's worker goroutine. Callers must call Close
// once no more work will be enqueued.
func NewStream() *Stream {
	s := &Stream{jobs: make(chan func(), 256)}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Stream) run() {
	defer s.wg.Done()
	for job := range s.jobs {
		job()
	}
}

// Enqueue submits a job to run after every previously enqueued job on
// this stream. It never blocks on the job's completion.
func (s *Stream) Enqueue(job func()) {
	if s.closed.Load() {
		panic("gpumem: Enqueue on closed Stream")
	}
	s.jobs <- job
}

// Synchronize blocks until every job enqueued before this call has run,
// by enqueueing a barrier job and waiting for it. On a
// stream that has already been closed the queue is known drained, so
// Synchronize returns once the worker has exited.
func (s *Stream) Synchronize() {
	if s.closed.Load() {
		s.wg.Wait()
		return
	}
	done := make(chan struct{})
	s.Enqueue(func() { close(done) })
	<-done
}

// RecordEvent returns an Event that becomes ready once every job enqueued
// on s before this call has completed. Events let a later stream wait on
// a point in this stream's timeline without synchronizing on the whole
// stream.
func (s *Stream) RecordEvent() *Event {
	e := &Event{done: make(chan struct{})}
	s.Enqueue(func() { close(e.done) })
	return e
}

// Close stops accepting new work and waits for the worker goroutine to
// drain the queue and exit. Safe to call more than once; later calls only
// wait for the worker to exit.
func (s *Stream) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.jobs)
	}
	s.wg.Wait()
}

// Event marks a point in a Stream's timeline. Waiting on an Event from a
// different stream is the only supported cross-stream synchronization
// primitive; there is no implicit device-wide ordering.
type Event struct {
	done chan struct{}
}

// Wait blocks until the stream position the event was recorded at has
// been reached.
func (e *Event) Wait() { <-e.done }

// Ready reports whether the event has already fired, without blocking.
func (e *Event) Ready() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}
