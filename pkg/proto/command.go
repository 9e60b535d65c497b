// Package proto defines the wire-level envelopes exchanged between an
// operator (or cmd/conductorctl) and the orchestration engine: commands going
// in, events coming out. It keeps the teacher's discriminated-union payload
// discipline — a Kind discriminator plus json.RawMessage data with typed
// New*/Extract* pairs — so a payload mismatch is a compile-time-checked,
// explicit error rather than a silent map[string]any type assertion failure.
package proto

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Verb identifies the operation a Command requests.
type Verb string

// Command verbs. Epic/sprint/story verbs drive pkg/workflow; cycle verbs
// drive pkg/tdd; project/quota verbs drive pkg/global and pkg/scheduler.
const (
	// Backlog/sprint verbs (pkg/workflow).
	VerbDefineEpic      Verb = "define_epic"
	VerbAddStory        Verb = "backlog.addStory"
	VerbPrioritiseStory Verb = "backlog.prioritise"
	VerbApproveStory    Verb = "backlog.approve"
	VerbPlanSprint      Verb = "sprint.plan"
	VerbStartSprint     Verb = "sprint.start"
	VerbPauseSprint     Verb = "sprint.pause"
	VerbResumeSprint    Verb = "sprint.resume"
	VerbCompleteSprint  Verb = "sprint.complete"
	VerbApproveReview   Verb = "sprint.review"
	VerbCompleteRetro   Verb = "sprint.retro"
	VerbAbortSprint     Verb = "abort_sprint"

	// Cycle verbs (pkg/tdd), dispatched through pkg/coordinator.
	VerbSubmitStory Verb = "submit_story"
	VerbSkipPhase   Verb = "skip_phase"
	VerbRunSelected Verb = "run_selected"
	VerbAbortStory  Verb = "tdd.abort"
	VerbCommitStory Verb = "commit_story"
	VerbPauseCycle  Verb = "tdd.pause"
	VerbResumeCycle Verb = "tdd.resume"
	VerbReviewCycle Verb = "tdd.reviewCycle"
	VerbTDDOverview Verb = "tdd.overview"

	// Project lifecycle verbs (pkg/global).
	VerbRegisterProject  Verb = "project.register"
	VerbSetProjectStatus Verb = "project.setStatus"
	VerbPauseProject     Verb = "pause_project"
	VerbResumeProject    Verb = "resume_project"
	VerbRecoverProject   Verb = "recover_project"

	// Shared-resource verbs (pkg/crosscoord).
	VerbAcquireResource Verb = "acquire_resource"
	VerbReleaseResource Verb = "release_resource"

	// Scheduler verbs (pkg/scheduler).
	VerbRebalanceQuota   Verb = "scheduler.rebalanceNow"
	VerbSetQuotaStrategy Verb = "scheduler.setStrategy"
)

// Command is the envelope used to request an operation against the engine.
// ProjectID is empty for commands that operate at the global scope
// (RegisterProject, RebalanceQuota).
type Command struct {
	ID            string          `json:"id"`
	Verb          Verb            `json:"verb"`
	ProjectID     string          `json:"project_id,omitempty"`
	Principal     string          `json:"principal"`
	CorrelationID string          `json:"correlation_id"`
	IssuedAt      time.Time       `json:"issued_at"`
	Args          json.RawMessage `json:"args,omitempty"`
}

// NewCommand builds a Command with a fresh ID/correlation ID and the
// supplied args JSON-encoded.
func NewCommand(verb Verb, projectID, principal string, args any) (*Command, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal command args: %w", err)
	}
	return &Command{
		ID:            uuid.NewString(),
		Verb:          verb,
		ProjectID:     projectID,
		Principal:     principal,
		CorrelationID: uuid.NewString(),
		IssuedAt:      time.Now().UTC(),
		Args:          raw,
	}, nil
}

// DecodeArgs unmarshals the command's Args into dest.
func (c *Command) DecodeArgs(dest any) error {
	if len(c.Args) == 0 {
		return fmt.Errorf("command %s (%s) carries no args", c.ID, c.Verb)
	}
	if err := json.Unmarshal(c.Args, dest); err != nil {
		return fmt.Errorf("decode args for command %s (%s): %w", c.ID, c.Verb, err)
	}
	return nil
}

// Validate checks the envelope's required fields; it does not validate Args,
// which is the receiving component's job once it knows the concrete type.
func (c *Command) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("command id is required")
	}
	if c.Verb == "" {
		return fmt.Errorf("command verb is required")
	}
	if c.Principal == "" {
		return fmt.Errorf("command principal is required")
	}
	return nil
}

// Command argument payloads. Each verb that needs structured arguments gets
// one of these; verbs that only need an ID (PauseProject, ResumeSprint)
// reuse TargetArgs.

// TargetArgs is the argument shape for verbs that act on a single named
// entity with an optional reason.
type TargetArgs struct {
	TargetID string `json:"target_id"`
	Reason   string `json:"reason,omitempty"`
}

// DefineEpicArgs carries the fields needed to admit a new epic.
type DefineEpicArgs struct {
	EpicID      string   `json:"epic_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    int      `json:"priority"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

// SubmitStoryArgs carries the fields needed to admit a new story into a
// sprint's backlog.
type SubmitStoryArgs struct {
	StoryID     string   `json:"story_id"`
	SprintID    string   `json:"sprint_id"`
	Title       string   `json:"title"`
	FilePaths   []string `json:"file_paths,omitempty"`
	SelectorSet string   `json:"selector_set,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Points      int      `json:"estimated_points,omitempty"`
}

// AddStoryArgs carries the fields needed to admit a new backlog story.
type AddStoryArgs struct {
	StoryID     string   `json:"story_id"`
	Description string   `json:"description"`
	Criteria    string   `json:"criteria"`
	Points      int      `json:"points"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

// PrioritiseStoryArgs reorders a backlog story relative to its peers.
type PrioritiseStoryArgs struct {
	StoryID  string `json:"story_id"`
	Priority int    `json:"priority"`
}

// PlanSprintArgs names the stories admitted into a new sprint.
type PlanSprintArgs struct {
	SprintID string   `json:"sprint_id"`
	StoryIDs []string `json:"story_ids"`
}

// SetProjectStatusArgs requests a project lifecycle transition.
type SetProjectStatusArgs struct {
	Status string `json:"status"`
}

// SetQuotaStrategyArgs selects the scheduler's active allocation strategy.
type SetQuotaStrategyArgs struct {
	Strategy string `json:"strategy"`
}

// AcquireResourceArgs requests exclusive or shared access to a
// cross-project SharedResource.
type AcquireResourceArgs struct {
	ResourceID string `json:"resource_id"`
	Exclusive  bool   `json:"exclusive"`
	HolderID   string `json:"holder_id"` // the cycle/story id requesting access
}

// ReleaseResourceArgs gives up a previously acquired cross-project
// SharedResource, mirroring AcquireResourceArgs.
type ReleaseResourceArgs struct {
	ResourceID string `json:"resource_id"`
	HolderID   string `json:"holder_id"`
}

// RegisterProjectArgs admits a new project into the engine at runtime, the
// dynamic counterpart to a projects-manifest entry loaded at startup.
type RegisterProjectArgs struct {
	Name       string   `json:"name"`
	Path       string   `json:"path"`
	Priority   string   `json:"priority"`
	DependsOn  []string `json:"depends_on,omitempty"`
	MaxAgents  int      `json:"max_agents,omitempty"`
	MaxCycles  int      `json:"max_parallel_cycles,omitempty"`
	MemoryMB   int64    `json:"memory_cap_mb,omitempty"`
	DiskMB     int64    `json:"disk_cap_mb,omitempty"`
	CPUWeight  float64  `json:"cpu_weight,omitempty"`
}

// RebalanceQuotaArgs forces an out-of-band rebalance under the named
// strategy; an empty Strategy reuses whatever strategy is already active.
type RebalanceQuotaArgs struct {
	Strategy string `json:"strategy,omitempty"`
}

// IDGenerator is kept for components that need monotonically increasing,
// human-inspectable ids distinct from uuid.NewString() (e.g. event sequence
// numbers in pkg/broadcaster).
type IDGenerator struct {
	mu      sync.Mutex
	counter int64
}

// Next returns the next id in the sequence, prefixed for readability.
func (g *IDGenerator) Next(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), g.counter)
}

// NextSeq returns the next bare counter value, used for broadcaster
// sequence numbers where a compact int64 is required.
func (g *IDGenerator) NextSeq() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return g.counter
}
