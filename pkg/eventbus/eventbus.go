// Package eventbus implements the in-process Event Bus (C1): typed pub/sub
// fan-out from every workflow/TDD/scheduler/coordinator transition to
// whichever components subscribed to that event kind, plus the Broadcaster
// (pkg/broadcaster). Control-plane events (state changes) are delivered
// synchronously, inside the publisher's call stack, so a subscriber sees the
// transition before the publisher's own call returns. Data-plane events
// (metrics samples, quota pressure ticks) are enqueued and drained by a
// separate dispatcher goroutine so a slow subscriber never stalls a state
// machine. Grounded on the teacher's dispatcher split between synchronous
// ChannelReceiver delivery and a buffered worker channel for status updates.
package eventbus

import (
	"sync"

	"conductor/pkg/logx"
	"conductor/pkg/proto"
)

// Handler receives one event. Handlers must not block for long: control-plane
// handlers run in the publisher's goroutine, and a data-plane handler that
// blocks only holds up the dispatcher, not the publisher, but will still
// eventually cause the buffered channel below to fill and drop events.
type Handler func(proto.Event)

type subscription struct {
	id      int64
	kinds   map[proto.EventKind]bool
	handler Handler
}

func (s *subscription) wants(kind proto.EventKind) bool {
	if len(s.kinds) == 0 {
		return true // no filter: subscribe to everything
	}
	return s.kinds[kind]
}

// dataPlaneQueueDepth bounds the buffered channel data-plane events are
// enqueued on; once full, further publishes drop the event rather than
// block the caller (mirrors fsmkit's non-blocking notification discipline).
const dataPlaneQueueDepth = 1024

// Bus is the process-wide event bus. One Bus instance is shared by every
// pkg/orchestrator.Project, pkg/scheduler.Scheduler and pkg/crosscoord
// instance in the process.
type Bus struct {
	mu          sync.RWMutex
	subs        []*subscription
	nextSubID   int64
	seq         int64
	dataPlaneCh chan proto.Event
	stopCh      chan struct{}
	wg          sync.WaitGroup
	log         *logx.Logger
}

// New constructs a Bus and starts its data-plane dispatcher goroutine.
func New(log *logx.Logger) *Bus {
	b := &Bus{
		dataPlaneCh: make(chan proto.Event, dataPlaneQueueDepth),
		stopCh:      make(chan struct{}),
		log:         log,
	}
	b.wg.Add(1)
	go b.runDataPlaneDispatcher()
	return b
}

// Subscribe registers handler for the given event kinds (all kinds, if none
// supplied). It returns an unsubscribe function.
func (b *Bus) Subscribe(handler Handler, kinds ...proto.EventKind) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	id := b.nextSubID
	set := make(map[proto.EventKind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	sub := &subscription{id: id, kinds: set, handler: handler}
	b.subs = append(b.subs, sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// PublishControl assigns the next sequence id and delivers evt synchronously
// to every matching subscriber before returning. Use for state-changed,
// quota-changed, conflict-detected, health-changed and error events —
// anything a subscriber (in particular pkg/broadcaster) must observe in
// the exact order the emitting component produced it.
func (b *Bus) PublishControl(evt proto.Event) proto.Event {
	evt.Seq = b.nextSeq()

	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(evt.Payload.Kind) {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(evt)
	}
	return evt
}

// PublishData assigns the next sequence id and enqueues evt for asynchronous
// delivery. If the data-plane queue is full the event is dropped and logged
// — data-plane events are samples, not commitments, so a drop is acceptable
// where a control-plane drop would not be.
func (b *Bus) PublishData(evt proto.Event) proto.Event {
	evt.Seq = b.nextSeq()
	select {
	case b.dataPlaneCh <- evt:
	default:
		if b.log != nil {
			b.log.Warn("eventbus: data-plane queue full, dropping %s event", evt.Payload.Kind)
		}
	}
	return evt
}

func (b *Bus) nextSeq() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	return b.seq
}

func (b *Bus) runDataPlaneDispatcher() {
	defer b.wg.Done()
	for {
		select {
		case evt := <-b.dataPlaneCh:
			b.mu.RLock()
			subs := make([]*subscription, 0, len(b.subs))
			for _, s := range b.subs {
				if s.wants(evt.Payload.Kind) {
					subs = append(subs, s)
				}
			}
			b.mu.RUnlock()
			for _, s := range subs {
				s.handler(evt)
			}
		case <-b.stopCh:
			return
		}
	}
}

// Stop drains no further events and terminates the dispatcher goroutine.
func (b *Bus) Stop() {
	close(b.stopCh)
	b.wg.Wait()
}
