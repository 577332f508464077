// Package telemetry streams graph run lifecycle events over gRPC so a
// caller's own dashboards can watch a simulator without linking against
// it: a fan-out publisher with per-subscriber buffered channels that
// drop rather than block when a client falls behind.
//
// Events travel as structpb.Struct messages, which keeps the wire format
// protobuf without requiring a generated stub package for a service this
// small.
package telemetry

import (
	"sync"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/raysim/engine/graph"
	"github.com/raysim/engine/rlog"
)

// Event kinds emitted by the publisher.
const (
	KindRunStarted    = "run_started"
	KindNodeCompleted = "node_completed"
	KindRunFinished   = "run_finished"
)

// subscriberBuffer bounds how far a slow client may lag before events
// are dropped for it.
const subscriberBuffer = 64

// Publisher fans graph lifecycle events out to every subscribed stream.
// It implements graph.RunObserver, so attaching it is one AddObserver
// call.
type Publisher struct {
	mu   sync.Mutex
	subs map[chan *structpb.Struct]struct{}
}

var _ graph.RunObserver = (*Publisher)(nil)

// NewPublisher creates a publisher with no subscribers.
func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[chan *structpb.Struct]struct{})}
}

func (p *Publisher) subscribe() chan *structpb.Struct {
	ch := make(chan *structpb.Struct, subscriberBuffer)
	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()
	return ch
}

func (p *Publisher) unsubscribe(ch chan *structpb.Struct) {
	p.mu.Lock()
	delete(p.subs, ch)
	p.mu.Unlock()
}

// SubscriberCount reports attached clients, for tests and diagnostics.
func (p *Publisher) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (p *Publisher) publish(fields map[string]any) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		rlog.Opsf("telemetry: dropping unencodable event: %v", err)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for ch := range p.subs {
		select {
		case ch <- msg:
		default:
			// Slow client; drop rather than stall the scheduler.
		}
	}
}

// RunStarted implements graph.RunObserver.
func (p *Publisher) RunStarted(runID string, nodeCount int) {
	p.publish(map[string]any{
		"kind":       KindRunStarted,
		"run_id":     runID,
		"node_count": nodeCount,
		"unix_nanos": time.Now().UnixNano(),
	})
}

// NodeCompleted implements graph.RunObserver.
func (p *Publisher) NodeCompleted(runID, nodeName string) {
	p.publish(map[string]any{
		"kind":       KindNodeCompleted,
		"run_id":     runID,
		"node":       nodeName,
		"unix_nanos": time.Now().UnixNano(),
	})
}

// RunFinished implements graph.RunObserver.
func (p *Publisher) RunFinished(runID string, err error) {
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	p.publish(map[string]any{
		"kind":       KindRunFinished,
		"run_id":     runID,
		"error":      errText,
		"unix_nanos": time.Now().UnixNano(),
	})
}
