// Package coordinator implements the per-project Multi-Cycle Coordinator
// (C5): it owns the bounded set of live pkg/tdd.Machine cycles for one
// project (size <= the project's max_parallel_cycles quota), a FIFO waiting
// list for stories admitted past the cap, and the deadlock-break response
// when pkg/crosscoord reports a cycle's shared-resource acquisition would
// deadlock. Grounded on internal/kernel/kernel.go's per-process service
// consolidation, narrowed from "one Kernel per process" to "one Coordinator
// per project" and from "persistence channel + compose registry" to "a
// bounded, admission-gated set of live TDD cycles".
package coordinator

import (
	"context"
	"sync"

	"conductor/pkg/orcherr"
	"conductor/pkg/proto"
	"conductor/pkg/tdd"
)

// EventSink receives cycle-admission/termination events. Wired to the shared
// pkg/eventbus.Bus by pkg/orchestrator.
type EventSink func(proto.Event)

// Builder constructs the *tdd.Machine for a newly admitted story. The
// project orchestrator supplies this so the coordinator never needs to know
// about test runners or quality gates directly.
type Builder func(storyID string) *tdd.Machine

type pendingAdmission struct {
	storyID string
	build   Builder
}

// Coordinator owns one project's live TDD cycles.
type Coordinator struct {
	mu           sync.Mutex
	projectID    string
	maxParallel  int
	live         map[string]*tdd.Machine // cycle id -> machine
	storyToCycle map[string]string
	waiting      []pendingAdmission
	emit         EventSink
}

// New constructs a Coordinator capped at maxParallel concurrently live
// cycles.
func New(projectID string, maxParallel int, emit EventSink) *Coordinator {
	if emit == nil {
		emit = func(proto.Event) {}
	}
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &Coordinator{
		projectID:    projectID,
		maxParallel:  maxParallel,
		live:         make(map[string]*tdd.Machine),
		storyToCycle: make(map[string]string),
		emit:         emit,
	}
}

// SetMaxParallel hot-updates the concurrency cap (pkg/scheduler's
// ApplyQuota path). Lowering it never evicts already-live cycles; it only
// slows future admission until the live count falls back under the cap.
func (c *Coordinator) SetMaxParallel(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > 0 {
		c.maxParallel = n
	}
}

// Admit requests a cycle slot for storyID. If a slot is free, build is
// invoked immediately and the new Machine is returned with admitted=true. If
// the project is at its parallelism cap, storyID is enqueued in FIFO order
// and admitted is false; Terminate of a live cycle will later call build for
// the next waiter.
func (c *Coordinator) Admit(storyID string, cycleID string, build Builder) (machine *tdd.Machine, admitted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.live) >= c.maxParallel {
		c.waiting = append(c.waiting, pendingAdmission{storyID: storyID, build: build})
		return nil, false
	}

	m := build(storyID)
	c.live[cycleID] = m
	c.storyToCycle[storyID] = cycleID
	c.emit(proto.NewStateChangedEvent(proto.EventKindCycleStateChanged, c.projectID, proto.StateChangedPayload{
		OwnerID: cycleID, ToState: string(tdd.PhaseDesign), Metadata: map[string]any{"admitted": true},
	}))
	return m, true
}

// Terminate removes cycleID from the live set (on Commit or Abort) and, if a
// story is waiting and the live count is under the cap, admits the next one
// in FIFO order using the waiter's own builder. It returns the newly admitted
// cycle id and machine, if any.
func (c *Coordinator) Terminate(cycleID string, nextCycleID func(storyID string) string) (admittedCycleID string, admittedMachine *tdd.Machine) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.live[cycleID]; ok {
		delete(c.live, cycleID)
		delete(c.storyToCycle, m.Cycle().StoryID)
	}

	if len(c.waiting) == 0 || len(c.live) >= c.maxParallel {
		return "", nil
	}
	next := c.waiting[0]
	c.waiting = c.waiting[1:]

	newCycleID := nextCycleID(next.storyID)
	m := next.build(next.storyID)
	c.live[newCycleID] = m
	c.storyToCycle[next.storyID] = newCycleID
	c.emit(proto.NewStateChangedEvent(proto.EventKindCycleStateChanged, c.projectID, proto.StateChangedPayload{
		OwnerID: newCycleID, ToState: string(tdd.PhaseDesign), Metadata: map[string]any{"admitted_from_waitlist": true},
	}))
	return newCycleID, m
}

// Get returns the live Machine for cycleID.
func (c *Coordinator) Get(cycleID string) (*tdd.Machine, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.live[cycleID]
	return m, ok
}

// ActiveCount reports the number of live cycles.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

// WaitingCount reports the number of stories queued for admission.
func (c *Coordinator) WaitingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiting)
}

// CycleRef identifies one live cycle for snapshot/restore purposes: just
// enough to rebuild its tdd.Machine and let the machine restore its own
// phase, attempt counters and cycle record from the shared Store.
type CycleRef struct {
	CycleID string
	StoryID string
}

// LiveRefs returns a CycleRef for every currently live cycle, for
// pkg/orchestrator's Snapshot to record which cycles a restart must rebuild.
func (c *Coordinator) LiveRefs() []CycleRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	refs := make([]CycleRef, 0, len(c.live))
	for cycleID, m := range c.live {
		refs = append(refs, CycleRef{CycleID: cycleID, StoryID: m.Cycle().StoryID})
	}
	return refs
}

// Restore rebuilds a live *tdd.Machine for every ref using build, then
// restores each from the Store so it resumes at the phase, attempt counts
// and cycle record it held before the restart. A ref whose machine fails to
// restore is dropped rather than aborting the rest of the project's
// recovery.
func (c *Coordinator) Restore(ctx context.Context, refs []CycleRef, build Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ref := range refs {
		m := build(ref.StoryID)
		if err := m.Restore(ctx); err != nil {
			continue
		}
		c.live[ref.CycleID] = m
		c.storyToCycle[ref.StoryID] = ref.CycleID
	}
}

// HandleAcquireResult is the deadlock-break response named in spec.md §4.3:
// when a live cycle's shared-resource Acquire (via pkg/crosscoord) fails
// with KindDeadlock, the coordinator pauses that cycle rather than letting
// the error propagate as a hard failure. Any other error passes through
// unchanged.
func (c *Coordinator) HandleAcquireResult(ctx context.Context, cycleID string, acquireErr error) error {
	if acquireErr == nil {
		return nil
	}
	if !orcherr.Is(acquireErr, orcherr.KindDeadlock) {
		return acquireErr
	}

	m, ok := c.Get(cycleID)
	if !ok {
		return acquireErr
	}
	if _, err := m.Pause(ctx, "DeadlockAvoided"); err != nil {
		return err
	}
	return nil
}
