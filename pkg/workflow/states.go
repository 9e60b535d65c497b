// Package workflow implements the per-project Workflow State Machine (WSM):
// the backlog/sprint lifecycle that moves stories from intake through a
// sprint to retrospective. One Machine exists per project, owned by that
// project's orchestrator (pkg/orchestrator).
package workflow

import "conductor/pkg/fsmkit"

// State is the WSM's state enum, derived directly from the lifecycle
// diagram this package implements; any change here must stay in sync with
// the transition table below.
type State string

const (
	StateIdle                State = "IDLE"
	StateBacklogReady        State = "BACKLOG_READY"
	StateSprintPlanned       State = "SPRINT_PLANNED"
	StateSprintActive        State = "SPRINT_ACTIVE"
	StateSprintReview        State = "SPRINT_REVIEW"
	StateSprintRetrospective State = "SPRINT_RETROSPECTIVE"

	// StateBlocked is the side-branch any non-terminal state can fall into
	// on a fatal command failure; Resume returns to the state that was
	// recorded at entry (see Machine.blockedFrom).
	StateBlocked State = "BLOCKED"
)

// transitionTable is the single source of truth for which WSM state changes
// are legal. Guard predicates (assignee approval, non-empty sprint, …) are
// enforced separately in machine.go before a transition is attempted.
var transitionTable = fsmkit.Table[State]{
	StateIdle:                {StateBacklogReady, StateBlocked},
	StateBacklogReady:        {StateSprintPlanned, StateBlocked, StateIdle},
	StateSprintPlanned:       {StateSprintActive, StateBlocked, StateIdle},
	StateSprintActive:        {StateSprintReview, StateBlocked, StateIdle},
	StateSprintReview:        {StateSprintRetrospective, StateBlocked, StateIdle},
	StateSprintRetrospective: {StateIdle, StateBlocked},
	StateBlocked:             {StateIdle, StateBacklogReady, StateSprintPlanned, StateSprintActive, StateSprintReview, StateSprintRetrospective},
}

// AllStates returns every WSM state in definition order.
func AllStates() []State {
	return []State{
		StateIdle, StateBacklogReady, StateSprintPlanned, StateSprintActive,
		StateSprintReview, StateSprintRetrospective, StateBlocked,
	}
}
