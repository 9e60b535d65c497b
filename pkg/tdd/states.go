// Package tdd implements the per-story TDD State Machine (TSM): the
// Design->RedTests->GreenCode->Refactor->Commit cycle an admitted story
// runs through, plus the Paused/Aborted side branches. One Machine exists
// per live cycle, owned by pkg/coordinator.
package tdd

import "conductor/pkg/fsmkit"

// Phase is the TSM's state enum.
type Phase string

const (
	PhaseDesign    Phase = "DESIGN"
	PhaseRedTests  Phase = "RED_TESTS"
	PhaseGreenCode Phase = "GREEN_CODE"
	PhaseRefactor  Phase = "REFACTOR"
	PhaseCommit    Phase = "COMMIT"  // terminal
	PhasePaused    Phase = "PAUSED"  // re-entrant; records the phase paused from
	PhaseAborted   Phase = "ABORTED" // terminal, distinct from Commit
)

// transitionTable is the single source of truth for legal phase changes.
// Guard predicates (design artifact present, selector set red/green,
// quality gates) are enforced in machine.go before a transition is
// attempted.
var transitionTable = fsmkit.Table[Phase]{
	PhaseDesign:    {PhaseRedTests, PhasePaused, PhaseAborted},
	PhaseRedTests:  {PhaseGreenCode, PhasePaused, PhaseAborted},
	PhaseGreenCode: {PhaseRefactor, PhaseRedTests, PhasePaused, PhaseAborted},
	PhaseRefactor:  {PhaseCommit, PhaseGreenCode, PhasePaused, PhaseAborted},
	PhasePaused:    {PhaseDesign, PhaseRedTests, PhaseGreenCode, PhaseRefactor, PhaseAborted},
	PhaseCommit:    {},
	PhaseAborted:   {},
}

// AllPhases returns every TSM phase in definition order.
func AllPhases() []Phase {
	return []Phase{
		PhaseDesign, PhaseRedTests, PhaseGreenCode, PhaseRefactor,
		PhaseCommit, PhasePaused, PhaseAborted,
	}
}

// IsTerminal reports whether a phase has no outgoing transitions.
func IsTerminal(p Phase) bool {
	return p == PhaseCommit || p == PhaseAborted
}
