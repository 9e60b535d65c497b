package orchestrator

import (
	"context"
	"fmt"
	"time"

	"conductor/pkg/coordinator"
	"conductor/pkg/orcherr"
	"conductor/pkg/proto"
	"conductor/pkg/tdd"
)

// handleCycleCommand routes a cycle verb (submit_story, run_selected,
// skip_phase, tdd.abort, commit_story, tdd.pause, tdd.resume,
// tdd.reviewCycle, tdd.overview) to the Coordinator and the affected
// tdd.Machine. Unlike workflow.Machine.Dispatch, there is no single verb
// table here: each verb needs its own argument shape and targets either
// admission (submit_story) or an already-live cycle (everything else).
func (p *Project) handleCycleCommand(cmd *proto.Command) (proto.Event, error) {
	switch cmd.Verb {
	case proto.VerbSubmitStory:
		return p.submitStory(cmd)
	case proto.VerbRunSelected, proto.VerbCommitStory:
		return p.runSelected(cmd)
	case proto.VerbSkipPhase:
		return p.withCycle(cmd, func(m *tdd.Machine, args proto.TargetArgs) (proto.Event, error) {
			return m.Skip(context.Background(), args.Reason)
		})
	case proto.VerbAbortStory:
		return p.withCycle(cmd, func(m *tdd.Machine, args proto.TargetArgs) (proto.Event, error) {
			return m.Abort(context.Background(), args.Reason)
		})
	case proto.VerbPauseCycle:
		return p.withCycle(cmd, func(m *tdd.Machine, args proto.TargetArgs) (proto.Event, error) {
			return m.Pause(context.Background(), args.Reason)
		})
	case proto.VerbResumeCycle:
		return p.withCycle(cmd, func(m *tdd.Machine, _ proto.TargetArgs) (proto.Event, error) {
			return m.Resume(context.Background())
		})
	case proto.VerbReviewCycle, proto.VerbTDDOverview:
		return p.withCycle(cmd, func(m *tdd.Machine, _ proto.TargetArgs) (proto.Event, error) {
			return proto.NewGenericEvent(p.id, map[string]any{"cycle_id": m.Cycle().ID, "phase": string(m.Phase())}), nil
		})
	default:
		return proto.Event{}, orcherr.New(orcherr.KindInvalidTransition, "orchestrator.handleCycleCommand",
			fmt.Sprintf("verb %s is not a cycle command", cmd.Verb))
	}
}

// submitStory admits a new story into a TDD cycle, building the Machine via
// the orchestrator's injected CycleBuilder. If the project is already at
// its concurrency cap, the story is enqueued by the Coordinator and this
// still returns a (queued) event rather than an error.
func (p *Project) submitStory(cmd *proto.Command) (proto.Event, error) {
	var args proto.SubmitStoryArgs
	if err := cmd.DecodeArgs(&args); err != nil {
		return proto.Event{}, orcherr.Wrap(orcherr.KindValidation, "orchestrator.submitStory", "bad args", err)
	}
	if args.StoryID == "" {
		return proto.Event{}, orcherr.New(orcherr.KindValidation, "orchestrator.submitStory", "story_id is required")
	}

	cycleID := fmt.Sprintf("cycle_%s_%s", p.id, args.StoryID)
	build := func(storyID string) *tdd.Machine {
		return p.build(p.id, storyID, cycleID, args.SelectorSet)
	}

	m, admitted := p.coord.Admit(args.StoryID, cycleID, coordinator.Builder(build))
	if !admitted {
		return proto.NewGenericEvent(p.id, map[string]any{
			"verb": string(cmd.Verb), "story_id": args.StoryID, "queued": true,
		}), nil
	}
	return proto.NewStateChangedEvent(proto.EventKindCycleStateChanged, p.id, proto.StateChangedPayload{
		OwnerID: cycleID, ToState: string(m.Phase()),
	}), nil
}

// runSelected drives whichever phase method applies to the cycle's current
// phase: RunRedTests from RedTests, RunGreenCode from GreenCode, RunRefactor
// from Refactor. commit_story is an alias: Refactor already commits on a
// passing run, so there is nothing additional for it to do beyond the same
// dispatch.
func (p *Project) runSelected(cmd *proto.Command) (proto.Event, error) {
	var args proto.TargetArgs
	if err := cmd.DecodeArgs(&args); err != nil {
		return proto.Event{}, orcherr.Wrap(orcherr.KindValidation, "orchestrator.runSelected", "bad args", err)
	}
	m, ok := p.coord.Get(args.TargetID)
	if !ok {
		return proto.Event{}, orcherr.New(orcherr.KindNotFound, "orchestrator.runSelected", "no live cycle "+args.TargetID)
	}

	ctx := context.Background()

	// Projects that declare a cross-project resource dependency serialise
	// phase execution on that shared resource before touching it; a
	// KindDeadlock response pauses the cycle instead of failing it outright.
	if p.crossCoord != nil && p.resourceID != "" {
		deadline := time.Now().Add(p.acquireTimeout)
		if acquireErr := p.crossCoord.Acquire(ctx, p.resourceID, args.TargetID, p.priority, deadline); acquireErr != nil {
			if handled := p.coord.HandleAcquireResult(ctx, args.TargetID, acquireErr); handled != nil {
				return proto.Event{}, handled
			}
			return proto.NewGenericEvent(p.id, map[string]any{
				"cycle_id": args.TargetID, "paused": true, "reason": "deadlock_avoided",
			}), nil
		}
		defer func() {
			_ = p.crossCoord.Release(p.resourceID, args.TargetID)
		}()
	}

	var evt proto.Event
	var err error
	switch m.Phase() {
	case tdd.PhaseRedTests:
		evt, err = m.RunRedTests(ctx)
	case tdd.PhaseGreenCode:
		evt, err = m.RunGreenCode(ctx)
	case tdd.PhaseRefactor:
		evt, err = m.RunRefactor(ctx)
	default:
		return proto.Event{}, orcherr.New(orcherr.KindInvalidTransition, "orchestrator.runSelected",
			fmt.Sprintf("phase %s does not accept run_selected", m.Phase()))
	}
	if err != nil {
		return proto.Event{}, err
	}

	if tdd.IsTerminal(m.Phase()) {
		nextID, next := p.coord.Terminate(args.TargetID, func(storyID string) string {
			return fmt.Sprintf("cycle_%s_%s", p.id, storyID)
		})
		if next != nil {
			p.publish(proto.NewStateChangedEvent(proto.EventKindCycleStateChanged, p.id, proto.StateChangedPayload{
				OwnerID: nextID, ToState: string(next.Phase()), Metadata: map[string]any{"admitted_from_waitlist": true},
			}))
		}
	}
	return evt, nil
}

func (p *Project) withCycle(cmd *proto.Command, fn func(*tdd.Machine, proto.TargetArgs) (proto.Event, error)) (proto.Event, error) {
	var args proto.TargetArgs
	if err := cmd.DecodeArgs(&args); err != nil {
		return proto.Event{}, orcherr.Wrap(orcherr.KindValidation, "orchestrator.withCycle", "bad args", err)
	}
	m, ok := p.coord.Get(args.TargetID)
	if !ok {
		return proto.Event{}, orcherr.New(orcherr.KindNotFound, "orchestrator.withCycle", "no live cycle "+args.TargetID)
	}
	return fn(m, args)
}
