// Package crosscoord implements the Cross-Project Coordinator (C8): FIFO
// acquire/release of pkg/registry.SharedResource records, a wait-for graph
// run incrementally on every Acquire to break deadlocks before they can form,
// and preemption for resource kinds the registry marks preemptible. There is
// no single teacher file that implements cross-project locking — this is a
// new composition grounded on the locking-discipline comments scattered
// through the teacher's pkg/kernel/pkg/persistence call sites ("no lock held
// across an agent invocation") plus internal/state/compose.go's registry
// shape, generalized to holders that wait rather than merely being counted.
package crosscoord

import (
	"context"
	"sort"
	"sync"
	"time"

	"conductor/pkg/orcherr"
	"conductor/pkg/proto"
	"conductor/pkg/registry"
)

type waiter struct {
	holderID  string
	priority  registry.Priority
	arrivedAt time.Time
	grant     chan error
}

type heldResource struct {
	kind           registry.SharedResourceKind
	holder         string
	holderPriority registry.Priority
	queue          []*waiter
}

// EventSink receives resource-acquired/released/deadlock-avoided events.
// pkg/orchestrator wires this to the shared pkg/eventbus.Bus.
type EventSink func(proto.Event)

// Coordinator serialises access to every registered SharedResource.
type Coordinator struct {
	mu        sync.Mutex
	resources map[string]*heldResource
	waitFor   map[string]string // holderID -> resourceID it is currently blocked on
	emit      EventSink
}

// New constructs a Coordinator. emit may be nil (events are simply dropped).
func New(emit EventSink) *Coordinator {
	if emit == nil {
		emit = func(proto.Event) {}
	}
	return &Coordinator{
		resources: make(map[string]*heldResource),
		waitFor:   make(map[string]string),
		emit:      emit,
	}
}

// Register declares a resource the coordinator will serialise access to.
func (c *Coordinator) Register(id string, kind registry.SharedResourceKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.resources[id]; exists {
		return
	}
	c.resources[id] = &heldResource{kind: kind}
}

// Acquire blocks until holderID is granted resourceID, the deadline passes
// (KindAcquireTimeout), or a wait-for cycle is detected (KindDeadlock for
// whichever cycle participant has the lowest priority; ties broken by the
// lexicographically smaller holder id).
func (c *Coordinator) Acquire(ctx context.Context, resourceID, holderID string, priority registry.Priority, deadline time.Time) error {
	c.mu.Lock()
	res, ok := c.resources[resourceID]
	if !ok {
		c.mu.Unlock()
		return orcherr.New(orcherr.KindNotFound, "crosscoord.Acquire", "resource "+resourceID+" not registered")
	}

	if res.holder == "" {
		res.holder = holderID
		res.holderPriority = priority
		c.mu.Unlock()
		c.emit(proto.NewResourceEvent(proto.EventKindResourceAcquired, "", proto.ResourceEventPayload{ResourceID: resourceID, HolderID: holderID}))
		return nil
	}
	if res.holder == holderID {
		c.mu.Unlock()
		return nil
	}

	if res.kind.Preemptible() && priority.Weight() > res.holderPriority.Weight() {
		evicted := res.holder
		res.holder = holderID
		res.holderPriority = priority
		c.mu.Unlock()
		c.emit(proto.NewResourceEvent(proto.EventKindResourceReleased, "", proto.ResourceEventPayload{ResourceID: resourceID, HolderID: evicted, Detail: "preempted"}))
		c.emit(proto.NewResourceEvent(proto.EventKindResourceAcquired, "", proto.ResourceEventPayload{ResourceID: resourceID, HolderID: holderID}))
		return nil
	}

	w := &waiter{holderID: holderID, priority: priority, arrivedAt: time.Now().UTC(), grant: make(chan error, 1)}
	c.enqueue(res, w)
	c.waitFor[holderID] = resourceID

	if cycle := c.detectCycle(holderID); len(cycle) > 0 {
		victim := c.lowestPriority(cycle)
		c.failParticipant(victim, resourceID)
		c.mu.Unlock()
		if victim == holderID {
			c.emit(proto.NewResourceEvent(proto.EventKindDeadlockAvoided, "", proto.ResourceEventPayload{ResourceID: resourceID, HolderID: holderID}))
			return orcherr.New(orcherr.KindDeadlock, "crosscoord.Acquire", "wait-for cycle detected, "+holderID+" refused")
		}
		c.emit(proto.NewResourceEvent(proto.EventKindDeadlockAvoided, "", proto.ResourceEventPayload{ResourceID: resourceID, HolderID: victim}))
		// The caller itself survives the cycle break; fall through to wait normally.
	}
	c.mu.Unlock()

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if !deadline.IsZero() {
		timer = time.NewTimer(time.Until(deadline))
		timeoutCh = timer.C
		defer timer.Stop()
	}

	select {
	case err := <-w.grant:
		return err
	case <-timeoutCh:
		c.removeWaiter(resourceID, holderID)
		return orcherr.New(orcherr.KindAcquireTimeout, "crosscoord.Acquire", "acquire of "+resourceID+" by "+holderID+" timed out")
	case <-ctx.Done():
		c.removeWaiter(resourceID, holderID)
		return orcherr.Wrap(orcherr.KindAcquireTimeout, "crosscoord.Acquire", "context cancelled while waiting", ctx.Err())
	}
}

func (c *Coordinator) enqueue(res *heldResource, w *waiter) {
	res.queue = append(res.queue, w)
	sort.SliceStable(res.queue, func(i, j int) bool {
		wi, wj := res.queue[i], res.queue[j]
		if wi.priority.Weight() != wj.priority.Weight() {
			return wi.priority.Weight() > wj.priority.Weight()
		}
		return wi.arrivedAt.Before(wj.arrivedAt)
	})
}

func (c *Coordinator) removeWaiter(resourceID, holderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.resources[resourceID]
	if !ok {
		return
	}
	for i, w := range res.queue {
		if w.holderID == holderID {
			res.queue = append(res.queue[:i], res.queue[i+1:]...)
			break
		}
	}
	delete(c.waitFor, holderID)
}

// detectCycle walks the wait-for graph starting at holderID (must already be
// recorded in c.waitFor) and returns the participant ids forming a cycle, or
// nil if none exists. Caller holds c.mu.
func (c *Coordinator) detectCycle(holderID string) []string {
	path := []string{holderID}
	seen := map[string]bool{holderID: true}
	current := holderID

	for {
		resID, blocked := c.waitFor[current]
		if !blocked {
			return nil
		}
		res, ok := c.resources[resID]
		if !ok || res.holder == "" {
			return nil
		}
		holder := res.holder
		if holder == holderID {
			return path
		}
		if seen[holder] {
			return nil // cycle exists but doesn't loop back to the new edge; not our concern here
		}
		seen[holder] = true
		path = append(path, holder)
		current = holder
	}
}

// lowestPriority picks the cycle participant whose pending wait has the
// lowest priority weight; ties go to the lexicographically smaller holder id.
// Caller holds c.mu.
func (c *Coordinator) lowestPriority(participants []string) string {
	weight := func(p string) int {
		if res, ok := c.resources[c.waitFor[p]]; ok {
			for _, w := range res.queue {
				if w.holderID == p {
					return w.priority.Weight()
				}
			}
		}
		return 0
	}
	victim := participants[0]
	for _, p := range participants[1:] {
		if wp, wv := weight(p), weight(victim); wp < wv || (wp == wv && p < victim) {
			victim = p
		}
	}
	return victim
}

// failParticipant removes victim's pending wait (if any) on resourceID or
// whatever resource it is blocked on, and notifies it. Caller holds c.mu.
func (c *Coordinator) failParticipant(victim, fallbackResourceID string) {
	resID, ok := c.waitFor[victim]
	if !ok {
		resID = fallbackResourceID
	}
	res, ok := c.resources[resID]
	if !ok {
		return
	}
	for i, w := range res.queue {
		if w.holderID == victim {
			res.queue = append(res.queue[:i], res.queue[i+1:]...)
			w.grant <- orcherr.New(orcherr.KindDeadlock, "crosscoord.Acquire", "wait-for cycle detected, "+victim+" refused")
			break
		}
	}
	delete(c.waitFor, victim)
}

// Release gives up holderID's hold on resourceID and admits the next waiter,
// if any.
func (c *Coordinator) Release(resourceID, holderID string) error {
	c.mu.Lock()
	res, ok := c.resources[resourceID]
	if !ok {
		c.mu.Unlock()
		return orcherr.New(orcherr.KindNotFound, "crosscoord.Release", "resource "+resourceID+" not registered")
	}
	if res.holder != holderID {
		c.mu.Unlock()
		return orcherr.New(orcherr.KindValidation, "crosscoord.Release", holderID+" does not hold "+resourceID)
	}

	if len(res.queue) > 0 {
		next := res.queue[0]
		res.queue = res.queue[1:]
		res.holder = next.holderID
		res.holderPriority = next.priority
		delete(c.waitFor, next.holderID)
		c.mu.Unlock()
		next.grant <- nil
		c.emit(proto.NewResourceEvent(proto.EventKindResourceReleased, "", proto.ResourceEventPayload{ResourceID: resourceID, HolderID: holderID}))
		c.emit(proto.NewResourceEvent(proto.EventKindResourceAcquired, "", proto.ResourceEventPayload{ResourceID: resourceID, HolderID: next.holderID}))
		return nil
	}

	res.holder = ""
	c.mu.Unlock()
	c.emit(proto.NewResourceEvent(proto.EventKindResourceReleased, "", proto.ResourceEventPayload{ResourceID: resourceID, HolderID: holderID}))
	return nil
}

// ResourceSnapshot is Inspect()'s per-resource report.
type ResourceSnapshot struct {
	ResourceID string
	Holder     string
	Waiters    []string
}

// Inspect returns the current holder and waiter order (highest priority
// first, FIFO within a priority) for every registered resource.
func (c *Coordinator) Inspect() []ResourceSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ResourceSnapshot, 0, len(c.resources))
	for id, res := range c.resources {
		waiters := make([]string, len(res.queue))
		for i, w := range res.queue {
			waiters[i] = w.holderID
		}
		out = append(out, ResourceSnapshot{ResourceID: id, Holder: res.holder, Waiters: waiters})
	}
	return out
}
