package global

import (
	"context"
	"testing"
	"time"

	"conductor/pkg/logx"
	"conductor/pkg/orchestrator"
	"conductor/pkg/proto"
	"conductor/pkg/registry"
	"conductor/pkg/scheduler"
	"conductor/pkg/tdd"
)

type stubRunner struct{}

func (stubRunner) Run(context.Context, string) (tdd.TestResult, error) { return tdd.TestResult{}, nil }

type stubChecker struct{}

func (stubChecker) Check(context.Context, string) (tdd.QualityReport, error) {
	return tdd.QualityReport{}, nil
}

func testConfig() orchestrator.Config {
	return orchestrator.Config{
		MaxParallel: 2,
		Log:         logx.NewLogger("test"),
		Build: func(projectID, storyID, cycleID, selectorSet string) *tdd.Machine {
			return tdd.New(tdd.Cycle{ID: cycleID, StoryID: storyID, ProjectID: projectID}, nil, stubRunner{}, stubChecker{}, tdd.QualityGates{})
		},
	}
}

func TestRegisterAndStartTracksProject(t *testing.T) {
	reg := registry.New()
	sup := New(reg, nil, logx.NewLogger("test"))

	proj, err := sup.RegisterAndStart(context.Background(), "alpha", "/tmp/alpha", registry.PriorityHigh, registry.ResourceCaps{MaxAgents: 4}, nil, testConfig())
	if err != nil {
		t.Fatalf("RegisterAndStart failed: %v", err)
	}
	defer proj.Shutdown(context.Background(), false)

	if proj.Status() != orchestrator.StatusReady {
		t.Fatalf("expected Ready, got %s", proj.Status())
	}
}

func TestApplyQuotasUpdatesCoordinatorCap(t *testing.T) {
	reg := registry.New()
	sup := New(reg, nil, logx.NewLogger("test"))

	proj, err := sup.RegisterAndStart(context.Background(), "alpha", "/tmp/alpha", registry.PriorityHigh, registry.ResourceCaps{MaxAgents: 4}, nil, testConfig())
	if err != nil {
		t.Fatalf("RegisterAndStart failed: %v", err)
	}
	defer proj.Shutdown(context.Background(), false)

	var id string
	for pid := range sup.projects {
		id = pid
	}
	if err := sup.ApplyQuotas(map[string]scheduler.Quota{id: {AllocatedAgents: 3}}); err != nil {
		t.Fatalf("ApplyQuotas failed: %v", err)
	}

	// The starting cap is 2; under the new cap of 3 all three stories go live.
	for _, story := range []string{"s1", "s2", "s3"} {
		cmd, err := proto.NewCommand(proto.VerbSubmitStory, id, "test-principal", proto.SubmitStoryArgs{StoryID: story})
		if err != nil {
			t.Fatalf("NewCommand failed: %v", err)
		}
		if err := proj.Submit(cmd); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	deadline := time.Now().Add(time.Second)
	for live, _ := proj.ActiveCycles(); live != 3; live, _ = proj.ActiveCycles() {
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 live cycles under the new cap, got %d", live)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRecoverResetsRestartCounter(t *testing.T) {
	reg := registry.New()
	sup := New(reg, nil, logx.NewLogger("test"))

	proj, err := sup.RegisterAndStart(context.Background(), "alpha", "/tmp/alpha", registry.PriorityHigh, registry.ResourceCaps{MaxAgents: 4}, nil, testConfig())
	if err != nil {
		t.Fatalf("RegisterAndStart failed: %v", err)
	}
	defer proj.Shutdown(context.Background(), false)

	var id string
	for pid := range sup.projects {
		id = pid
	}

	sup.mu.Lock()
	sup.projects[id].restartCount = MaxRestartAttempts
	sup.mu.Unlock()

	if err := sup.Recover(context.Background(), id); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}

	sup.mu.Lock()
	count := sup.projects[id].restartCount
	sup.mu.Unlock()
	if count != 1 {
		t.Fatalf("expected restart counter reset to 0 then incremented to 1 by the restart attempt, got %d", count)
	}
}

func TestShutdownStopsHeartbeatLoop(t *testing.T) {
	reg := registry.New()
	sup := New(reg, nil, logx.NewLogger("test"))
	sup.SetHeartbeatInterval(10 * time.Millisecond)
	sup.Start()

	proj, err := sup.RegisterAndStart(context.Background(), "alpha", "/tmp/alpha", registry.PriorityHigh, registry.ResourceCaps{MaxAgents: 4}, nil, testConfig())
	if err != nil {
		t.Fatalf("RegisterAndStart failed: %v", err)
	}
	_ = proj

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sup.Shutdown(ctx, false); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}
