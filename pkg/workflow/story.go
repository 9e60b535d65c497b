package workflow

import "time"

// StorySubstate tracks a Story's position independent of the owning
// project's WSM state — many stories share one WSM instance.
type StorySubstate string

const (
	SubstateBacklog  StorySubstate = "BACKLOG"
	SubstateReady    StorySubstate = "SPRINT_READY"
	SubstateInSprint StorySubstate = "IN_SPRINT"
	SubstateInReview StorySubstate = "IN_REVIEW"
	SubstateDone     StorySubstate = "DONE"
	SubstateBlocked  StorySubstate = "BLOCKED"
)

// Story is one unit of backlog work.
type Story struct {
	ID          string
	ProjectID   string
	Description string
	Criteria    string
	Points      int
	SprintID    string
	Substate    StorySubstate
	Approved    bool
	DependsOn   []string
}

// Unblocked reports whether every dependency of the story is itself Done.
func (s *Story) Unblocked(backlog map[string]*Story) bool {
	for _, dep := range s.DependsOn {
		depStory, ok := backlog[dep]
		if !ok || depStory.Substate != SubstateDone {
			return false
		}
	}
	return true
}

// SprintLifecycle is a Sprint's own status, independent of the project WSM
// state (a project's WSM is SprintActive while its one live Sprint is
// SprintLifecyclePlanned→Active→Review→Retrospective→Complete).
type SprintLifecycle string

const (
	SprintPlanned       SprintLifecycle = "PLANNED"
	SprintActive        SprintLifecycle = "ACTIVE"
	SprintActivePaused  SprintLifecycle = "ACTIVE_PAUSED"
	SprintReview        SprintLifecycle = "REVIEW"
	SprintRetrospective SprintLifecycle = "RETROSPECTIVE"
	SprintComplete      SprintLifecycle = "COMPLETE"
	SprintAborted       SprintLifecycle = "ABORTED"
)

// Sprint groups an ordered set of stories for one iteration.
type Sprint struct {
	ID        string
	ProjectID string
	StoryIDs  []string
	Lifecycle SprintLifecycle
	StartedAt time.Time
	EndedAt   time.Time
}
