package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"conductor/pkg/fsmkit"
	"conductor/pkg/orcherr"
	"conductor/pkg/proto"
)

const backlogDataKey = "backlog"
const sprintsDataKey = "sprints"

// CycleStatusLookup reports whether a story's TDD cycle reached a terminal,
// sprint-complete-eligible state (Commit, or Aborted with ReasonSkipped).
// pkg/coordinator supplies the concrete implementation; the machine only
// needs the yes/no answer to enforce the sprint.complete guard.
type CycleStatusLookup func(storyID string) (committedOrSkipped bool)

// Machine is one project's Workflow State Machine: backlog, sprints, and
// the WSM state that gates which commands are currently legal.
type Machine struct {
	mu sync.Mutex

	fsm         *fsmkit.Machine[State]
	blockedFrom State

	backlog map[string]*Story
	sprints map[string]*Sprint

	cycleStatus CycleStatusLookup
}

// New constructs a Workflow Machine for one project, starting Idle.
func New(projectID string, store fsmkit.Store, cycleStatus CycleStatusLookup) *Machine {
	return &Machine{
		fsm:         fsmkit.New(projectID, StateIdle, transitionTable, store),
		backlog:     make(map[string]*Story),
		sprints:     make(map[string]*Sprint),
		cycleStatus: cycleStatus,
	}
}

// State returns the machine's current WSM state.
func (m *Machine) State() State {
	return m.fsm.Current()
}

// SetNotificationChannel wires a channel for state-change notifications; see
// fsmkit.Machine.SetNotificationChannel for delivery semantics.
func (m *Machine) SetNotificationChannel(ch chan<- fsmkit.ChangeNotification[State]) {
	m.fsm.SetNotificationChannel(ch)
}

// Restore reloads the machine's persisted snapshot, if any, including the
// backlog and sprint maps saved by saveDomainState so a recovered project
// keeps every story and sprint it had before the restart.
func (m *Machine) Restore(ctx context.Context) error {
	if err := m.fsm.Restore(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if backlog, ok := fsmkit.GetTyped[State, map[string]*Story](m.fsm, backlogDataKey); ok {
		m.backlog = backlog
	}
	if sprints, ok := fsmkit.GetTyped[State, map[string]*Sprint](m.fsm, sprintsDataKey); ok {
		m.sprints = sprints
	}
	return nil
}

// saveDomainState stashes the backlog and sprint maps in the fsm's data bag.
// Callers that also transition state get a durable write for free via
// TransitionTo; callers that don't must follow up with an explicit Persist.
func (m *Machine) saveDomainState() {
	fsmkit.SetTyped(m.fsm, backlogDataKey, m.backlog)
	fsmkit.SetTyped(m.fsm, sprintsDataKey, m.sprints)
}

// verbRule describes one command verb: the WSM states it's legal from and
// an optional guard that runs before the (possible) transition.
type verbRule struct {
	allowed   []State
	guard     func(m *Machine, cmd *proto.Command) error
	target    State // empty means "no WSM state change"
	eventKind proto.EventKind
}

// stateIndex is the reverse of verbRules: which verbs are legal from a
// given state, used to populate InvalidTransition{allowedVerbs}. Built by
// init() once verbRules is populated.
var stateIndex map[State][]proto.Verb

var verbRules map[proto.Verb]verbRule

func init() {
	verbRules = map[proto.Verb]verbRule{
		proto.VerbDefineEpic:      {allowed: []State{StateIdle, StateBacklogReady}},
		proto.VerbAddStory:        {allowed: []State{StateIdle, StateBacklogReady}},
		proto.VerbPrioritiseStory: {allowed: []State{StateIdle, StateBacklogReady}},
		proto.VerbApproveStory:    {allowed: []State{StateIdle, StateBacklogReady}},
		proto.VerbPlanSprint: {
			allowed:   []State{StateBacklogReady},
			guard:     guardPlanSprint,
			target:    StateSprintPlanned,
			eventKind: proto.EventKindSprintPlanned,
		},
		proto.VerbStartSprint: {
			allowed:   []State{StateSprintPlanned},
			guard:     guardStartSprint,
			target:    StateSprintActive,
			eventKind: proto.EventKindSprintStarted,
		},
		proto.VerbPauseSprint:  {allowed: []State{StateSprintActive}},
		proto.VerbResumeSprint: {allowed: []State{StateSprintActive}},
		proto.VerbCompleteSprint: {
			allowed:   []State{StateSprintActive},
			guard:     guardCompleteSprint,
			target:    StateSprintReview,
			eventKind: proto.EventKindSprintCompleted,
		},
		proto.VerbApproveReview: {
			allowed:   []State{StateSprintReview},
			target:    StateSprintRetrospective,
			eventKind: proto.EventKindSprintReviewed,
		},
		proto.VerbCompleteRetro: {
			allowed:   []State{StateSprintRetrospective},
			target:    StateIdle,
			eventKind: proto.EventKindSprintCompleted,
		},
		proto.VerbAbortSprint: {
			allowed:   []State{StateSprintPlanned, StateSprintActive, StateSprintReview, StateSprintRetrospective},
			guard:     guardAbortSprint,
			target:    StateIdle,
			eventKind: proto.EventKindSprintAborted,
		},
	}

	stateIndex = make(map[State][]proto.Verb)
	for verb, rule := range verbRules {
		for _, s := range rule.allowed {
			stateIndex[s] = append(stateIndex[s], verb)
		}
	}
	for s := range stateIndex {
		sort.Slice(stateIndex[s], func(i, j int) bool { return stateIndex[s][i] < stateIndex[s][j] })
	}
}

// Dispatch validates cmd against the current WSM state and allowed-verbs
// set, runs the verb's guard (if any), applies any resulting transition,
// and returns the event the caller should publish on the bus.
func (m *Machine) Dispatch(ctx context.Context, cmd *proto.Command) (proto.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule, ok := verbRules[cmd.Verb]
	if !ok {
		return proto.Event{}, orcherr.New(orcherr.KindInvalidTransition, "workflow.Dispatch",
			fmt.Sprintf("verb %s is not a workflow command", cmd.Verb))
	}

	current := m.fsm.Current()
	if !allowedIn(rule.allowed, current) {
		return proto.Event{}, orcherr.New(orcherr.KindInvalidTransition, "workflow.Dispatch",
			fmt.Sprintf("cannot apply %s in state %s; allowed verbs: %v", cmd.Verb, current, stateIndex[current]))
	}

	if rule.guard != nil {
		if err := rule.guard(m, cmd); err != nil {
			return proto.Event{}, err
		}
	}

	if err := m.applyDomainEffect(cmd); err != nil {
		return proto.Event{}, err
	}
	m.saveDomainState()

	// Admitting the first backlog item moves an otherwise-idle project into
	// BacklogReady without requiring a dedicated command.
	if current == StateIdle && len(m.backlog) > 0 && isBacklogVerb(cmd.Verb) {
		if err := m.fsm.TransitionTo(ctx, StateBacklogReady, map[string]any{"verb": string(cmd.Verb)}); err != nil {
			return proto.Event{}, err
		}
		return proto.NewStateChangedEvent(proto.EventKindEpicDefined, cmd.ProjectID, proto.StateChangedPayload{
			OwnerID:   cmd.ProjectID,
			FromState: string(current),
			ToState:   string(StateBacklogReady),
		}), nil
	}

	if rule.target == "" || rule.target == current {
		_ = m.fsm.Persist()
		return proto.NewGenericEvent(cmd.ProjectID, map[string]any{"verb": string(cmd.Verb), "state": string(current)}), nil
	}

	if err := m.fsm.TransitionTo(ctx, rule.target, map[string]any{"verb": string(cmd.Verb)}); err != nil {
		return proto.Event{}, err
	}

	kind := rule.eventKind
	if kind == "" {
		kind = proto.EventKindSprintStarted
	}
	return proto.NewStateChangedEvent(kind, cmd.ProjectID, proto.StateChangedPayload{
		OwnerID:   cmd.ProjectID,
		FromState: string(current),
		ToState:   string(rule.target),
	}), nil
}

// Block moves the machine into the Blocked side-branch, remembering the
// state it came from so Unblock can return to it.
func (m *Machine) Block(ctx context.Context, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := m.fsm.Current()
	if from == StateBlocked {
		return nil
	}
	if err := m.fsm.TransitionTo(ctx, StateBlocked, map[string]any{"reason": reason}); err != nil {
		return err
	}
	m.blockedFrom = from
	return nil
}

// Unblock returns the machine to the state it was in before Block.
func (m *Machine) Unblock(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fsm.Current() != StateBlocked {
		return orcherr.New(orcherr.KindInvalidTransition, "workflow.Unblock", "machine is not blocked")
	}
	target := m.blockedFrom
	if target == "" {
		target = StateIdle
	}
	return m.fsm.TransitionTo(ctx, target, nil)
}

// Abort forces the machine back to Idle; reserved for the admin principal.
func (m *Machine) Abort(ctx context.Context, principal, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if principal != "admin" {
		return orcherr.New(orcherr.KindValidation, "workflow.Abort", "abort requires the admin principal")
	}
	return m.fsm.TransitionTo(ctx, StateIdle, map[string]any{"reason": reason})
}

func allowedIn(states []State, s State) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}

func isBacklogVerb(v proto.Verb) bool {
	switch v {
	case proto.VerbDefineEpic, proto.VerbAddStory, proto.VerbApproveStory:
		return true
	default:
		return false
	}
}
