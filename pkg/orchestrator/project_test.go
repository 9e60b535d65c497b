package orchestrator

import (
	"context"
	"testing"
	"time"

	"conductor/pkg/logx"
	"conductor/pkg/proto"
	"conductor/pkg/registry"
	"conductor/pkg/scheduler"
	"conductor/pkg/tdd"
)

type stubRunner struct{}

func (stubRunner) Run(context.Context, string) (tdd.TestResult, error) {
	return tdd.TestResult{Passes: 1}, nil
}

type stubChecker struct{}

func (stubChecker) Check(context.Context, string) (tdd.QualityReport, error) {
	return tdd.QualityReport{CoveragePercent: 100}, nil
}

func newTestProject(t *testing.T) *Project {
	t.Helper()
	build := func(projectID, storyID, cycleID, selectorSet string) *tdd.Machine {
		return tdd.New(tdd.Cycle{ID: cycleID, StoryID: storyID, ProjectID: projectID, SelectorSet: selectorSet}, nil, stubRunner{}, stubChecker{}, tdd.QualityGates{})
	}
	p := New(Config{
		ProjectID:   "proj-1",
		MaxParallel: 1,
		Log:         logx.NewLogger("test"),
		Build:       build,
	})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return p
}

func mustCommand(t *testing.T, verb proto.Verb, projectID string, args any) *proto.Command {
	t.Helper()
	cmd, err := proto.NewCommand(verb, projectID, "test-principal", args)
	if err != nil {
		t.Fatalf("NewCommand failed: %v", err)
	}
	return cmd
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSubmitStoryAdmitsImmediatelyUnderCap(t *testing.T) {
	p := newTestProject(t)
	defer p.Shutdown(context.Background(), false)

	cmd := mustCommand(t, proto.VerbSubmitStory, "proj-1", proto.SubmitStoryArgs{StoryID: "story-1"})
	if err := p.Submit(cmd); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	waitForCondition(t, time.Second, func() bool {
		live, _ := p.ActiveCycles()
		return live == 1
	})
}

func TestSubmitStoryAtCapQueuesSecond(t *testing.T) {
	p := newTestProject(t)
	defer p.Shutdown(context.Background(), false)

	p.Submit(mustCommand(t, proto.VerbSubmitStory, "proj-1", proto.SubmitStoryArgs{StoryID: "story-1"}))
	waitForCondition(t, time.Second, func() bool {
		live, _ := p.ActiveCycles()
		return live == 1
	})

	p.Submit(mustCommand(t, proto.VerbSubmitStory, "proj-1", proto.SubmitStoryArgs{StoryID: "story-2"}))
	waitForCondition(t, time.Second, func() bool {
		_, waiting := p.ActiveCycles()
		return waiting == 1
	})
}

func TestApplyQuotaUpdatesCoordinatorCap(t *testing.T) {
	p := newTestProject(t)
	defer p.Shutdown(context.Background(), false)

	if err := p.ApplyQuota(scheduler.Quota{AllocatedAgents: 5}, registry.ResourceCaps{MaxParallelCycles: 2}); err != nil {
		t.Fatalf("ApplyQuota failed: %v", err)
	}
	if p.coord == nil {
		t.Fatal("expected coordinator to exist")
	}

	// The new cap is min(5, 2) = 2, so two stories are admitted, where the
	// starting cap of 1 would admit one and queue the other.
	p.Submit(mustCommand(t, proto.VerbSubmitStory, "proj-1", proto.SubmitStoryArgs{StoryID: "story-1"}))
	p.Submit(mustCommand(t, proto.VerbSubmitStory, "proj-1", proto.SubmitStoryArgs{StoryID: "story-2"}))
	waitForCondition(t, time.Second, func() bool {
		live, _ := p.ActiveCycles()
		return live == 2
	})
}

func TestPauseStopsCommandProcessing(t *testing.T) {
	p := newTestProject(t)
	defer p.Shutdown(context.Background(), false)

	p.Pause()
	if p.Status() != StatusPaused {
		t.Fatalf("expected Paused status, got %s", p.Status())
	}

	p.Submit(mustCommand(t, proto.VerbSubmitStory, "proj-1", proto.SubmitStoryArgs{StoryID: "story-1"}))
	time.Sleep(20 * time.Millisecond)
	live, _ := p.ActiveCycles()
	if live != 0 {
		t.Fatalf("expected no admission while paused, got %d live", live)
	}

	p.Resume()
	waitForCondition(t, time.Second, func() bool {
		live, _ := p.ActiveCycles()
		return live == 1
	})
}

func TestSnapshotReportsCurrentState(t *testing.T) {
	p := newTestProject(t)
	defer p.Shutdown(context.Background(), false)

	snap, err := p.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.ProjectID != "proj-1" {
		t.Fatalf("expected proj-1, got %s", snap.ProjectID)
	}
}

func TestShutdownGracefulDrainsQueue(t *testing.T) {
	p := newTestProject(t)
	p.Submit(mustCommand(t, proto.VerbSubmitStory, "proj-1", proto.SubmitStoryArgs{StoryID: "story-1"}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Shutdown(ctx, true); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if p.Status() != StatusStopped {
		t.Fatalf("expected Stopped status, got %s", p.Status())
	}
}
