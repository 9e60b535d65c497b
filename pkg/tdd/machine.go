package tdd

import (
	"context"
	"fmt"
	"sync"

	"conductor/pkg/fsmkit"
	"conductor/pkg/orcherr"
	"conductor/pkg/proto"
)

// DefaultMaxAttemptsPerPhase is the retry ceiling before a phase parks the
// cycle in Paused with reason MaxAttemptsExceeded.
const DefaultMaxAttemptsPerPhase = 3

const attemptsDataKey = "phase_attempts"
const cycleDataKey = "cycle_record"

// Machine drives one story's TDD cycle through Design->RedTests->
// GreenCode->Refactor->Commit, enforcing the phase guards and per-phase
// retry ceiling spec.md §4.2 describes.
type Machine struct {
	mu sync.Mutex

	fsm    *fsmkit.Machine[Phase]
	cycle  Cycle
	runner TestRunner
	gates  QualityGates
	qc     QualityChecker

	maxAttempts int
	pausedFrom  Phase
}

// New constructs a Machine for one cycle, starting at Design.
func New(cycle Cycle, store fsmkit.Store, runner TestRunner, qc QualityChecker, gates QualityGates) *Machine {
	m := &Machine{
		fsm:         fsmkit.New(cycle.ID, PhaseDesign, transitionTable, store),
		cycle:       cycle,
		runner:      runner,
		qc:          qc,
		gates:       gates,
		maxAttempts: DefaultMaxAttemptsPerPhase,
	}
	fsmkit.SetTyped(m.fsm, attemptsDataKey, map[Phase]int{})
	return m
}

// SetMaxAttempts overrides the retry ceiling (default DefaultMaxAttemptsPerPhase).
func (m *Machine) SetMaxAttempts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxAttempts = n
}

// Phase returns the cycle's current TSM phase.
func (m *Machine) Phase() Phase {
	return m.fsm.Current()
}

// Cycle returns a copy of the cycle record this machine tracks.
func (m *Machine) Cycle() Cycle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycle
}

// Restore reloads the machine's persisted snapshot, if any, including the
// cycle record (design artifact, file refs, selector set, last failure
// detail) captured by saveCycle, so a recovered cycle resumes with the same
// phase, attempt counters and domain state it had before the restart.
func (m *Machine) Restore(ctx context.Context) error {
	if err := m.fsm.Restore(ctx); err != nil {
		return err
	}
	if cyc, ok := fsmkit.GetTyped[Phase, Cycle](m.fsm, cycleDataKey); ok {
		m.mu.Lock()
		m.cycle = cyc
		m.mu.Unlock()
	}
	return nil
}

// persistCycle stashes the current cycle record in the fsm's data bag and
// forces a durable write, for call sites that mutate cycle fields (a new
// LastFailureDetail, an incremented attempt count) without also
// transitioning phase, where TransitionTo would otherwise persist for free.
func (m *Machine) persistCycle() {
	fsmkit.SetTyped(m.fsm, cycleDataKey, m.cycle)
	_ = m.fsm.Persist()
}

// SetNotificationChannel wires a channel for state-change notifications.
func (m *Machine) SetNotificationChannel(ch chan<- fsmkit.ChangeNotification[Phase]) {
	m.fsm.SetNotificationChannel(ch)
}

func (m *Machine) attempts() map[Phase]int {
	counts, _ := fsmkit.GetTyped[Phase, map[Phase]int](m.fsm, attemptsDataKey)
	if counts == nil {
		counts = map[Phase]int{}
	}
	return counts
}

func (m *Machine) saveAttempts(counts map[Phase]int) {
	fsmkit.SetTyped(m.fsm, attemptsDataKey, counts)
}

// recordAttempt increments phase's attempt counter and reports whether the
// ceiling was exceeded.
func (m *Machine) recordAttempt(phase Phase) (exceeded bool) {
	counts := m.attempts()
	counts[phase]++
	exceeded = counts[phase] > m.maxAttempts
	m.saveAttempts(counts)
	return exceeded
}

// resetAttempt zeroes phase's attempt counter, used when re-entering a
// phase resets the counter of the phase being left (e.g. Refactor's
// counter resets on GreenCode<-Refactor regression, not GreenCode's own).
func (m *Machine) resetAttempt(phase Phase) {
	counts := m.attempts()
	counts[phase] = 0
	m.saveAttempts(counts)
}

// AttemptCount returns the recorded attempt count for phase, for tests and
// crash-recovery inspection.
func (m *Machine) AttemptCount(phase Phase) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts()[phase]
}

// AdvanceDesign moves Design->RedTests once a non-empty design artifact is
// recorded.
func (m *Machine) AdvanceDesign(ctx context.Context, designArtifact, selectorSet string) (proto.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fsm.Current() != PhaseDesign {
		return m.invalidPhase("AdvanceDesign", PhaseDesign)
	}
	if designArtifact == "" {
		return proto.Event{}, orcherr.New(orcherr.KindValidation, "tdd.AdvanceDesign", "design artifact must be non-empty")
	}

	m.cycle.DesignArtifact = designArtifact
	m.cycle.SelectorSet = selectorSet
	return m.transition(ctx, PhaseRedTests, nil)
}

// RunRedTests invokes the test runner against the selector set captured at
// Design exit and, on a red result, advances to GreenCode.
func (m *Machine) RunRedTests(ctx context.Context) (proto.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fsm.Current() != PhaseRedTests {
		return m.invalidPhase("RunRedTests", PhaseRedTests)
	}

	result, err := m.runner.Run(ctx, m.cycle.SelectorSet)
	if err != nil {
		return m.handleAgentFailure(ctx, PhaseRedTests, err)
	}
	if !result.Red() {
		m.cycle.LastFailureDetail = fmt.Sprintf("expected selector set to fail red, got %d failures/%d passes", result.Failures, result.Passes)
		if exceeded := m.recordAttempt(PhaseRedTests); exceeded {
			return m.pauseForExhaustion(ctx, PhaseRedTests)
		}
		m.persistCycle()
		return proto.Event{}, orcherr.New(orcherr.KindValidation, "tdd.RunRedTests", m.cycle.LastFailureDetail)
	}

	return m.transition(ctx, PhaseGreenCode, nil)
}

// RunGreenCode invokes the test runner and, on an all-green result,
// advances to Refactor.
func (m *Machine) RunGreenCode(ctx context.Context) (proto.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fsm.Current() != PhaseGreenCode {
		return m.invalidPhase("RunGreenCode", PhaseGreenCode)
	}

	result, err := m.runner.Run(ctx, m.cycle.SelectorSet)
	if err != nil {
		return m.handleAgentFailure(ctx, PhaseGreenCode, err)
	}
	if !result.Green() {
		m.cycle.LastFailureDetail = fmt.Sprintf("selector set still has %d failures", result.Failures)
		if exceeded := m.recordAttempt(PhaseGreenCode); exceeded {
			return m.pauseForExhaustion(ctx, PhaseGreenCode)
		}
		m.persistCycle()
		return proto.Event{}, orcherr.New(orcherr.KindValidation, "tdd.RunGreenCode", m.cycle.LastFailureDetail)
	}

	return m.transition(ctx, PhaseRefactor, nil)
}

// ReenterRedTests is the explicit re-entry path for adding new tests after
// GreenCode was reached; implicit additions are rejected by construction
// since this is the only path back to RedTests from GreenCode.
func (m *Machine) ReenterRedTests(ctx context.Context, selectorSet string) (proto.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fsm.Current() != PhaseGreenCode {
		return m.invalidPhase("ReenterRedTests", PhaseGreenCode)
	}
	m.cycle.SelectorSet = selectorSet
	return m.transition(ctx, PhaseRedTests, nil)
}

// RunRefactor invokes the test runner and quality checker and, if both
// pass, commits the cycle. A regression sends the cycle back to GreenCode
// and resets Refactor's own attempt counter (not GreenCode's).
func (m *Machine) RunRefactor(ctx context.Context) (proto.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fsm.Current() != PhaseRefactor {
		return m.invalidPhase("RunRefactor", PhaseRefactor)
	}

	result, err := m.runner.Run(ctx, m.cycle.SelectorSet)
	if err != nil {
		return m.handleAgentFailure(ctx, PhaseRefactor, err)
	}
	if !result.Green() {
		m.cycle.LastFailureDetail = fmt.Sprintf("refactor regressed tests: %d failures", result.Failures)
		m.resetAttempt(PhaseRefactor)
		return m.transition(ctx, PhaseGreenCode, nil)
	}

	report, err := m.qc.Check(ctx, m.cycle.ID)
	if err != nil {
		return m.handleAgentFailure(ctx, PhaseRefactor, err)
	}
	if !m.gates.Passes(report) {
		m.cycle.LastFailureDetail = fmt.Sprintf("quality gates not met: coverage=%.1f complexity=%d", report.CoveragePercent, report.Complexity)
		if exceeded := m.recordAttempt(PhaseRefactor); exceeded {
			return m.pauseForExhaustion(ctx, PhaseRefactor)
		}
		m.persistCycle()
		return proto.Event{}, orcherr.New(orcherr.KindValidation, "tdd.RunRefactor", m.cycle.LastFailureDetail)
	}

	return m.transition(ctx, PhaseCommit, nil)
}

// Pause parks the cycle in Paused for an operator-initiated reason (not a
// retry-ceiling exhaustion, which pauseForExhaustion handles internally).
func (m *Machine) Pause(ctx context.Context, reason string) (proto.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fsm.Current() == PhasePaused || IsTerminal(m.fsm.Current()) {
		return proto.Event{}, orcherr.New(orcherr.KindInvalidTransition, "tdd.Pause",
			fmt.Sprintf("cannot pause from %s", m.fsm.Current()))
	}
	m.pausedFrom = m.fsm.Current()
	return m.transition(ctx, PhasePaused, map[string]any{"reason": reason})
}

// Resume returns the cycle to the phase it was paused from.
func (m *Machine) Resume(ctx context.Context) (proto.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fsm.Current() != PhasePaused {
		return proto.Event{}, orcherr.New(orcherr.KindInvalidTransition, "tdd.Resume", "cycle is not paused")
	}
	target := m.pausedFrom
	if target == "" {
		target = PhaseDesign
	}
	return m.transition(ctx, target, nil)
}

// Skip aborts the cycle with ReasonSkipped, the resolution recorded in
// DESIGN.md for the skip_phase open question: a single terminal-state exit
// path, distinguishable in the audit trail from a failure abort.
func (m *Machine) Skip(ctx context.Context, reason string) (proto.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if IsTerminal(m.fsm.Current()) {
		return proto.Event{}, orcherr.New(orcherr.KindInvalidTransition, "tdd.Skip",
			fmt.Sprintf("cannot skip from terminal phase %s", m.fsm.Current()))
	}
	m.cycle.AbortReason = ReasonSkipped
	return m.transition(ctx, PhaseAborted, map[string]any{"reason": reason, "abort_reason": ReasonSkipped})
}

// Abort aborts the cycle for reason, distinct from Skip only in the
// AbortReason recorded (callers pass a concrete reason string, e.g.
// "AgentFailure" or operator free text).
func (m *Machine) Abort(ctx context.Context, reason string) (proto.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if IsTerminal(m.fsm.Current()) {
		return proto.Event{}, orcherr.New(orcherr.KindInvalidTransition, "tdd.Abort",
			fmt.Sprintf("cannot abort from terminal phase %s", m.fsm.Current()))
	}
	m.cycle.AbortReason = reason
	return m.transition(ctx, PhaseAborted, map[string]any{"reason": reason})
}

// ReasonSkipped marks a cycle aborted by an explicit skip_phase command
// rather than a failure.
const ReasonSkipped = "Skipped"

// ReasonMaxAttemptsExceeded marks a Paused cycle parked there by the retry
// ceiling rather than an operator Pause.
const ReasonMaxAttemptsExceeded = "MaxAttemptsExceeded"

func (m *Machine) pauseForExhaustion(ctx context.Context, from Phase) (proto.Event, error) {
	m.pausedFrom = from
	if _, err := m.transition(ctx, PhasePaused, map[string]any{"reason": ReasonMaxAttemptsExceeded}); err != nil {
		return proto.Event{}, err
	}
	return proto.NewErrorEvent(m.cycle.ProjectID, proto.ErrorPayload{
		Kind:    string(orcherr.KindNeedsHumanAttention),
		OwnerID: m.cycle.ID,
		Detail:  fmt.Sprintf("phase %s exceeded %d attempts: %s", from, m.maxAttempts, m.cycle.LastFailureDetail),
	}), nil
}

func (m *Machine) handleAgentFailure(ctx context.Context, phase Phase, cause error) (proto.Event, error) {
	m.cycle.LastFailureDetail = cause.Error()
	if exceeded := m.recordAttempt(phase); exceeded {
		return m.pauseForExhaustion(ctx, phase)
	}
	m.persistCycle()
	return proto.Event{}, orcherr.Wrap(orcherr.KindAgentFailure, "tdd.handleAgentFailure", "agent call failed", cause)
}

func (m *Machine) transition(ctx context.Context, to Phase, metadata map[string]any) (proto.Event, error) {
	from := m.fsm.Current()
	fsmkit.SetTyped(m.fsm, cycleDataKey, m.cycle)
	if err := m.fsm.TransitionTo(ctx, to, metadata); err != nil {
		return proto.Event{}, err
	}
	kind := proto.EventKindCycleStateChanged
	if to == PhaseCommit {
		kind = proto.EventKindCycleCommitted
	} else if to == PhaseAborted {
		kind = proto.EventKindCycleAborted
	}
	return proto.NewStateChangedEvent(kind, m.cycle.ProjectID, proto.StateChangedPayload{
		OwnerID:   m.cycle.ID,
		FromState: string(from),
		ToState:   string(to),
		Metadata:  metadata,
	}), nil
}

func (m *Machine) invalidPhase(op string, want Phase) (proto.Event, error) {
	return proto.Event{}, orcherr.New(orcherr.KindInvalidTransition, "tdd."+op,
		fmt.Sprintf("cannot apply %s from phase %s; expected %s", op, m.fsm.Current(), want))
}
