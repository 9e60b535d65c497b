// Package orchestrator implements the Project Orchestrator (C6): one
// instance per active project, hosting that project's Workflow State Machine,
// its Multi-Cycle Coordinator, a single-consumer inbound command queue, and
// the outbound event emitter onto the shared event bus. Grounded on
// internal/kernel.Kernel's service-consolidation pattern (dispatcher +
// database + persistence worker, all constructed once and injected, with a
// careful Start/Stop ordering), narrowed from one Kernel per process to one
// Project per project.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"conductor/pkg/coordinator"
	"conductor/pkg/crosscoord"
	"conductor/pkg/eventbus"
	"conductor/pkg/fsmkit"
	"conductor/pkg/logx"
	"conductor/pkg/orcherr"
	"conductor/pkg/proto"
	"conductor/pkg/registry"
	"conductor/pkg/scheduler"
	"conductor/pkg/tdd"
	"conductor/pkg/workflow"
)

// CurrentSnapshotSchemaVersion tags every Snapshot this build writes. Start
// refuses to restore a snapshot carrying a different non-zero version rather
// than silently misinterpreting its LiveCycleRefs/WorkflowState shape; a
// snapshot with version 0 is accepted.
const CurrentSnapshotSchemaVersion = 1

// commandQueueDepth bounds the per-project inbound command queue. Submit
// returns KindUnavailable rather than blocking once it is full.
const commandQueueDepth = 256

// CycleBuilder constructs a fresh *tdd.Machine for a story newly admitted
// into a TDD cycle. Supplied by cmd/conductor at wiring time so this package
// never depends on the concrete test-runner/quality-checker implementations.
type CycleBuilder func(projectID, storyID, cycleID, selectorSet string) *tdd.Machine

// Status is the orchestrator-observed lifecycle of a Project instance
// (distinct from registry.Status, which is the operator-facing project
// status; a Project can be registry.StatusActive while briefly Paused here
// during a PauseProject command).
type Status string

const (
	StatusStarting Status = "STARTING"
	StatusReady    Status = "READY"
	StatusPaused   Status = "PAUSED"
	StatusFailed   Status = "FAILED"
	StatusStopped  Status = "STOPPED"
)

// Project is C6: the per-project supervisor.
type Project struct {
	id  string
	log *logx.Logger
	bus *eventbus.Bus

	wsm   *workflow.Machine
	coord *coordinator.Coordinator
	build CycleBuilder

	store fsmkit.Store

	crossCoord     *crosscoord.Coordinator
	resourceID     string
	priority       registry.Priority
	acquireTimeout time.Duration

	mu       sync.Mutex
	status   Status
	cmdQueue chan *proto.Command
	paused   atomic.Bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Config bundles the dependencies needed to start a Project.
type Config struct {
	ProjectID     string
	MaxParallel   int
	Store         fsmkit.Store
	Bus           *eventbus.Bus
	Log           *logx.Logger
	Build         CycleBuilder
	CycleStatusOf func(storyID string) (committedOrSkipped bool)

	// CrossCoord, ResourceID and Priority wire this project's cycle execution
	// into C8's cross-project SharedResource acquisition. ResourceID is
	// empty for projects that don't declare a DependsOn relationship to any
	// other project, in which case no acquisition is attempted and cycles
	// run at full intra-project parallelism.
	CrossCoord     *crosscoord.Coordinator
	ResourceID     string
	Priority       registry.Priority
	AcquireTimeout time.Duration
}

// New constructs a Project. Start must be called before Submit.
func New(cfg Config) *Project {
	acquireTimeout := cfg.AcquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = 30 * time.Second
	}
	p := &Project{
		id:             cfg.ProjectID,
		log:            cfg.Log,
		bus:            cfg.Bus,
		build:          cfg.Build,
		store:          cfg.Store,
		crossCoord:     cfg.CrossCoord,
		resourceID:     cfg.ResourceID,
		priority:       cfg.Priority,
		acquireTimeout: acquireTimeout,
		cmdQueue:       make(chan *proto.Command, commandQueueDepth),
		stopCh:         make(chan struct{}),
		status:         StatusStarting,
	}
	p.wsm = workflow.New(cfg.ProjectID, cfg.Store, cfg.CycleStatusOf)
	p.coord = coordinator.New(cfg.ProjectID, cfg.MaxParallel, p.publish)
	if p.bus != nil {
		p.wsm.SetNotificationChannel(p.workflowNotifyChannel())
	}
	return p
}

// workflowNotifyChannel bridges fsmkit's typed ChangeNotification channel
// into a control-plane event on the bus, so external subscribers observe WSM
// transitions even when they did not originate from this Project's own
// Dispatch return value (e.g. a transition driven by a restored snapshot).
func (p *Project) workflowNotifyChannel() chan<- fsmkit.ChangeNotification[workflow.State] {
	ch := make(chan fsmkit.ChangeNotification[workflow.State], 64)
	go func() {
		for n := range ch {
			p.publish(proto.NewStateChangedEvent(proto.EventKindCycleStateChanged, p.id, proto.StateChangedPayload{
				OwnerID: n.OwnerID, FromState: string(n.From), ToState: string(n.To), Metadata: n.Metadata,
			}))
		}
	}()
	return ch
}

func (p *Project) publish(evt proto.Event) {
	if p.bus == nil {
		return
	}
	p.bus.PublishControl(evt)
}

// Start initialises the project from its persisted snapshot (if any) or cold,
// rebuilds any live TDD cycles the snapshot recorded, and launches the
// single-consumer command loop.
func (p *Project) Start(ctx context.Context) error {
	var prevSnap Snapshot
	if p.store != nil {
		switch err := p.store.Load(p.id+":snapshot", &prevSnap); err {
		case nil:
			if prevSnap.SchemaVersion != 0 && prevSnap.SchemaVersion != CurrentSnapshotSchemaVersion {
				p.mu.Lock()
				p.status = StatusFailed
				p.mu.Unlock()
				return orcherr.New(orcherr.KindSchemaIncompatible, "orchestrator.Start",
					fmt.Sprintf("project %s snapshot schema v%d is incompatible with this build's v%d",
						p.id, prevSnap.SchemaVersion, CurrentSnapshotSchemaVersion))
			}
		case fsmkit.ErrNotFound:
			// First run: nothing to restore.
		default:
			p.mu.Lock()
			p.status = StatusFailed
			p.mu.Unlock()
			return orcherr.Wrap(orcherr.KindSnapshotCorrupt, "orchestrator.Start", "failed to load project snapshot "+p.id, err)
		}
	}

	if err := p.wsm.Restore(ctx); err != nil {
		p.mu.Lock()
		p.status = StatusFailed
		p.mu.Unlock()
		return orcherr.Wrap(orcherr.KindSnapshotCorrupt, "orchestrator.Start", "failed to restore project "+p.id, err)
	}

	if len(prevSnap.LiveCycleRefs) > 0 && p.build != nil {
		rebuild := func(storyID string) *tdd.Machine {
			cycleID := fmt.Sprintf("cycle_%s_%s", p.id, storyID)
			return p.build(p.id, storyID, cycleID, "")
		}
		p.coord.Restore(ctx, prevSnap.LiveCycleRefs, coordinator.Builder(rebuild))
	}

	p.mu.Lock()
	p.status = StatusReady
	p.mu.Unlock()

	p.wg.Add(1)
	go p.consume()
	return nil
}

func (p *Project) consume() {
	defer p.wg.Done()
	for {
		select {
		case cmd := <-p.cmdQueue:
			if p.paused.Load() {
				// A paused project puts the command back at the tail of the
				// queue (which can change the order queued commands later run
				// in; requeue drops it if the queue is full) and backs off.
				p.requeue(cmd)
				time.Sleep(10 * time.Millisecond)
				continue
			}
			p.handle(cmd)
		case <-p.stopCh:
			return
		}
	}
}

func (p *Project) requeue(cmd *proto.Command) {
	select {
	case p.cmdQueue <- cmd:
	default:
		p.log.Warn("orchestrator: dropped command %s while paused and queue full", cmd.ID)
	}
}

// Submit enqueues cmd for processing and returns immediately; cmd's effect is
// observable only via events on the bus.
func (p *Project) Submit(cmd *proto.Command) error {
	if err := cmd.Validate(); err != nil {
		return orcherr.Wrap(orcherr.KindValidation, "orchestrator.Submit", "invalid command", err)
	}
	select {
	case p.cmdQueue <- cmd:
		return nil
	default:
		return orcherr.New(orcherr.KindUnavailable, "orchestrator.Submit", "project "+p.id+" command queue is full")
	}
}

func (p *Project) handle(cmd *proto.Command) {
	var evt proto.Event
	var err error

	switch {
	case isCycleVerb(cmd.Verb):
		evt, err = p.handleCycleCommand(cmd)
	default:
		evt, err = p.wsm.Dispatch(context.Background(), cmd)
	}

	if err != nil {
		kind, _ := orcherr.KindOf(err)
		p.publish(proto.NewErrorEvent(p.id, proto.ErrorPayload{Kind: string(kind), OwnerID: cmd.ID, Detail: err.Error()}))
		return
	}
	p.publish(evt)
}

func isCycleVerb(v proto.Verb) bool {
	switch v {
	case proto.VerbSubmitStory, proto.VerbSkipPhase, proto.VerbRunSelected,
		proto.VerbAbortStory, proto.VerbCommitStory, proto.VerbPauseCycle,
		proto.VerbResumeCycle, proto.VerbReviewCycle, proto.VerbTDDOverview:
		return true
	default:
		return false
	}
}

// ApplyQuota hot-updates the project's concurrency cap. In-flight cycles
// started under the old limit are left running; only future admissions
// observe the new cap (spec.md §4.4).
func (p *Project) ApplyQuota(quota scheduler.Quota, caps registry.ResourceCaps) error {
	capacity := quota.AllocatedAgents
	if caps.MaxParallelCycles > 0 && capacity > caps.MaxParallelCycles {
		capacity = caps.MaxParallelCycles
	}
	p.coord.SetMaxParallel(capacity)
	return nil
}

// Pause halts command consumption without tearing down state.
func (p *Project) Pause() {
	p.paused.Store(true)
	p.mu.Lock()
	p.status = StatusPaused
	p.mu.Unlock()
}

// Resume resumes command consumption.
func (p *Project) Resume() {
	p.paused.Store(false)
	p.mu.Lock()
	p.status = StatusReady
	p.mu.Unlock()
}

// Status returns the orchestrator-observed status.
func (p *Project) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// MarkFailed records a fatal internal-invariant violation; pkg/global's
// heartbeat monitor observes this via Status() and decides whether to
// restart.
func (p *Project) MarkFailed() {
	p.mu.Lock()
	p.status = StatusFailed
	p.mu.Unlock()
}

// ID returns the project id this instance supervises.
func (p *Project) ID() string {
	return p.id
}

// WorkflowState exposes the WSM's current state for Inspect/health endpoints.
func (p *Project) WorkflowState() workflow.State {
	return p.wsm.State()
}

// ActiveCycles exposes the coordinator's live/waiting counts for Inspect.
func (p *Project) ActiveCycles() (live, waiting int) {
	return p.coord.ActiveCount(), p.coord.WaitingCount()
}

// Snapshot captures just enough to satisfy spec.md §6's
// <project>/.orch-state/snapshot.bin: the WSM's persisted state (already
// durable via its own Store-backed TransitionTo calls) plus the coordinator's
// live-cycle count as of the snapshot instant. Individual tdd.Machine
// snapshots persist themselves the same way the WSM does.
type Snapshot struct {
	ProjectID     string
	SchemaVersion int
	WorkflowState workflow.State
	LiveCycles    int
	WaitingCycles int
	LiveCycleRefs []coordinator.CycleRef
	TakenAt       time.Time
}

// Snapshot produces a durable snapshot record and, if a Store is configured,
// persists it.
func (p *Project) Snapshot() (Snapshot, error) {
	live, waiting := p.ActiveCycles()
	snap := Snapshot{
		ProjectID:     p.id,
		SchemaVersion: CurrentSnapshotSchemaVersion,
		WorkflowState: p.WorkflowState(),
		LiveCycles:    live,
		WaitingCycles: waiting,
		LiveCycleRefs: p.coord.LiveRefs(),
		TakenAt:       time.Now().UTC(),
	}
	if p.store != nil {
		if err := p.store.Save(p.id+":snapshot", snap); err != nil {
			return snap, orcherr.Wrap(orcherr.KindInternal, "orchestrator.Snapshot", "failed to persist snapshot", err)
		}
	}
	p.publish(proto.NewGenericEvent(p.id, map[string]any{"kind": "snapshot_taken", "live_cycles": live}))
	return snap, nil
}

// Shutdown stops command consumption. If graceful, it drains whatever is
// already queued before returning (bounded by the caller's context deadline);
// otherwise it stops immediately and every command still queued fails with
// KindInterrupted.
func (p *Project) Shutdown(ctx context.Context, graceful bool) error {
	if graceful {
	drain:
		for {
			select {
			case cmd := <-p.cmdQueue:
				p.handle(cmd)
				if len(p.cmdQueue) == 0 {
					break drain
				}
			case <-ctx.Done():
				break drain
			default:
				// Nothing (left) queued.
				break drain
			}
		}
	} else {
	discard:
		for {
			select {
			case cmd := <-p.cmdQueue:
				p.publish(proto.NewErrorEvent(p.id, proto.ErrorPayload{
					Kind: string(orcherr.KindInterrupted), OwnerID: cmd.ID, Detail: "shutdown discarded in-flight command",
				}))
			default:
				break discard
			}
		}
	}

	close(p.stopCh)
	p.wg.Wait()
	p.mu.Lock()
	p.status = StatusStopped
	p.mu.Unlock()
	return nil
}
