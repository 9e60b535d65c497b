package workflow

import (
	"context"
	"testing"

	"conductor/pkg/orcherr"
	"conductor/pkg/proto"
)

func mustCommand(t *testing.T, verb proto.Verb, projectID string, args any) *proto.Command {
	t.Helper()
	cmd, err := proto.NewCommand(verb, projectID, "operator", args)
	if err != nil {
		t.Fatalf("NewCommand(%s): %v", verb, err)
	}
	return cmd
}

// TestHappyPathSprintSingleProject walks the exact sequence from the
// happy-path end-to-end scenario: addStory, approve, plan, start.
func TestHappyPathSprintSingleProject(t *testing.T) {
	ctx := context.Background()
	m := New("alpha", nil, func(storyID string) bool { return true })

	if _, err := m.Dispatch(ctx, mustCommand(t, proto.VerbAddStory, "alpha", proto.AddStoryArgs{
		StoryID: "S1", Description: "first story",
	})); err != nil {
		t.Fatalf("addStory: %v", err)
	}
	if got := m.State(); got != StateBacklogReady {
		t.Fatalf("after addStory: want BacklogReady, got %s", got)
	}

	if _, err := m.Dispatch(ctx, mustCommand(t, proto.VerbApproveStory, "alpha", proto.TargetArgs{
		TargetID: "S1",
	})); err != nil {
		t.Fatalf("approveStory: %v", err)
	}

	evt, err := m.Dispatch(ctx, mustCommand(t, proto.VerbPlanSprint, "alpha", proto.PlanSprintArgs{
		SprintID: "sprint-1", StoryIDs: []string{"S1"},
	}))
	if err != nil {
		t.Fatalf("planSprint: %v", err)
	}
	if evt.Payload.Kind != proto.EventKindSprintPlanned {
		t.Errorf("planSprint event kind = %s, want %s", evt.Payload.Kind, proto.EventKindSprintPlanned)
	}
	if got := m.State(); got != StateSprintPlanned {
		t.Fatalf("after planSprint: want SprintPlanned, got %s", got)
	}

	evt, err = m.Dispatch(ctx, mustCommand(t, proto.VerbStartSprint, "alpha", proto.TargetArgs{
		TargetID: "sprint-1",
	}))
	if err != nil {
		t.Fatalf("startSprint: %v", err)
	}
	if evt.Payload.Kind != proto.EventKindSprintStarted {
		t.Errorf("startSprint event kind = %s, want %s", evt.Payload.Kind, proto.EventKindSprintStarted)
	}
	if got := m.State(); got != StateSprintActive {
		t.Fatalf("after startSprint: want SprintActive, got %s", got)
	}
}

// TestInvalidTransition reproduces the invalid-transition scenario: in
// state Idle, sprint.start must fail fast and report the allowed verbs.
func TestInvalidTransition(t *testing.T) {
	m := New("alpha", nil, nil)

	_, err := m.Dispatch(context.Background(), mustCommand(t, proto.VerbStartSprint, "alpha", proto.TargetArgs{
		TargetID: "sprint-1",
	}))
	if err == nil {
		t.Fatal("expected an error dispatching sprint.start from Idle")
	}
	if kind, ok := orcherr.KindOf(err); !ok || kind != orcherr.KindInvalidTransition {
		t.Fatalf("expected KindInvalidTransition, got %v (ok=%v)", kind, ok)
	}
	if m.State() != StateIdle {
		t.Fatalf("state must not change on a rejected command, got %s", m.State())
	}
}

// TestPlanSprintGuardRejectsUnapprovedStory exercises the PreconditionFailed
// path: a story that hasn't been approved blocks sprint.plan.
func TestPlanSprintGuardRejectsUnapprovedStory(t *testing.T) {
	ctx := context.Background()
	m := New("alpha", nil, nil)

	if _, err := m.Dispatch(ctx, mustCommand(t, proto.VerbAddStory, "alpha", proto.AddStoryArgs{
		StoryID: "S1", Description: "unapproved story",
	})); err != nil {
		t.Fatalf("addStory: %v", err)
	}

	_, err := m.Dispatch(ctx, mustCommand(t, proto.VerbPlanSprint, "alpha", proto.PlanSprintArgs{
		SprintID: "sprint-1", StoryIDs: []string{"S1"},
	}))
	if err == nil {
		t.Fatal("expected planSprint to fail for an unapproved story")
	}
	if kind, ok := orcherr.KindOf(err); !ok || kind != orcherr.KindValidation {
		t.Fatalf("expected KindValidation, got %v (ok=%v)", kind, ok)
	}
	if m.State() != StateBacklogReady {
		t.Fatalf("rejected guard must not change state, got %s", m.State())
	}
}

// TestCompleteSprintGuardRequiresTerminalCycles enforces the stricter
// sprint.complete rule recorded in DESIGN.md: every story must be
// committed (or explicitly skipped) before the sprint can close out.
func TestCompleteSprintGuardRequiresTerminalCycles(t *testing.T) {
	ctx := context.Background()
	pending := map[string]bool{"S1": false}
	m := New("alpha", nil, func(storyID string) bool { return pending[storyID] })

	for _, step := range []struct {
		verb proto.Verb
		args any
	}{
		{proto.VerbAddStory, proto.AddStoryArgs{StoryID: "S1", Description: "s1"}},
		{proto.VerbApproveStory, proto.TargetArgs{TargetID: "S1"}},
		{proto.VerbPlanSprint, proto.PlanSprintArgs{SprintID: "sprint-1", StoryIDs: []string{"S1"}}},
		{proto.VerbStartSprint, proto.TargetArgs{TargetID: "sprint-1"}},
	} {
		if _, err := m.Dispatch(ctx, mustCommand(t, step.verb, "alpha", step.args)); err != nil {
			t.Fatalf("%s: %v", step.verb, err)
		}
	}

	if _, err := m.Dispatch(ctx, mustCommand(t, proto.VerbCompleteSprint, "alpha", proto.TargetArgs{
		TargetID: "sprint-1",
	})); err == nil {
		t.Fatal("expected completeSprint to fail while S1's cycle is still open")
	}

	pending["S1"] = true
	if _, err := m.Dispatch(ctx, mustCommand(t, proto.VerbCompleteSprint, "alpha", proto.TargetArgs{
		TargetID: "sprint-1",
	})); err != nil {
		t.Fatalf("completeSprint: %v", err)
	}
	if got := m.State(); got != StateSprintReview {
		t.Fatalf("after completeSprint: want SprintReview, got %s", got)
	}
}

// TestBlockAndUnblock covers the Blocked side-branch: any non-terminal
// state can fall into Blocked and Resume must return to where it was.
func TestBlockAndUnblock(t *testing.T) {
	ctx := context.Background()
	m := New("alpha", nil, nil)

	if _, err := m.Dispatch(ctx, mustCommand(t, proto.VerbAddStory, "alpha", proto.AddStoryArgs{
		StoryID: "S1", Description: "s1",
	})); err != nil {
		t.Fatalf("addStory: %v", err)
	}
	if got := m.State(); got != StateBacklogReady {
		t.Fatalf("want BacklogReady, got %s", got)
	}

	if err := m.Block(ctx, "downstream dependency unavailable"); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if got := m.State(); got != StateBlocked {
		t.Fatalf("want Blocked, got %s", got)
	}

	if err := m.Unblock(ctx); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	if got := m.State(); got != StateBacklogReady {
		t.Fatalf("Unblock should restore BacklogReady, got %s", got)
	}
}
