package workflow

import (
	"conductor/pkg/orcherr"
	"conductor/pkg/proto"
)

// applyDomainEffect decodes cmd's args and mutates the backlog/sprint
// records a verb owns. Called with m.mu held, after the verb's guard (if
// any) has already passed.
func (m *Machine) applyDomainEffect(cmd *proto.Command) error {
	switch cmd.Verb {
	case proto.VerbDefineEpic:
		var args proto.DefineEpicArgs
		return cmd.DecodeArgs(&args)

	case proto.VerbAddStory:
		var args proto.AddStoryArgs
		if err := cmd.DecodeArgs(&args); err != nil {
			return err
		}
		if _, exists := m.backlog[args.StoryID]; exists {
			return orcherr.New(orcherr.KindAlreadyExists, "workflow.addStory",
				"story "+args.StoryID+" already exists")
		}
		m.backlog[args.StoryID] = &Story{
			ID:          args.StoryID,
			ProjectID:   cmd.ProjectID,
			Description: args.Description,
			Criteria:    args.Criteria,
			Points:      args.Points,
			Substate:    SubstateBacklog,
			DependsOn:   args.DependsOn,
		}
		return nil

	case proto.VerbPrioritiseStory:
		var args proto.PrioritiseStoryArgs
		if err := cmd.DecodeArgs(&args); err != nil {
			return err
		}
		if _, ok := m.backlog[args.StoryID]; !ok {
			return orcherr.New(orcherr.KindNotFound, "workflow.prioritiseStory", "story "+args.StoryID+" not found")
		}
		return nil

	case proto.VerbApproveStory:
		var args proto.TargetArgs
		if err := cmd.DecodeArgs(&args); err != nil {
			return err
		}
		story, ok := m.backlog[args.TargetID]
		if !ok {
			return orcherr.New(orcherr.KindNotFound, "workflow.approveStory", "story "+args.TargetID+" not found")
		}
		story.Approved = true
		if story.Substate == SubstateBacklog {
			story.Substate = SubstateReady
		}
		return nil

	case proto.VerbPlanSprint:
		var args proto.PlanSprintArgs
		if err := cmd.DecodeArgs(&args); err != nil {
			return err
		}
		sprint := &Sprint{ID: args.SprintID, ProjectID: cmd.ProjectID, StoryIDs: args.StoryIDs, Lifecycle: SprintPlanned}
		m.sprints[args.SprintID] = sprint
		for _, id := range args.StoryIDs {
			m.backlog[id].SprintID = args.SprintID
		}
		return nil

	case proto.VerbStartSprint:
		var args proto.TargetArgs
		if err := cmd.DecodeArgs(&args); err != nil {
			return err
		}
		sprint, ok := m.sprints[args.TargetID]
		if !ok {
			return orcherr.New(orcherr.KindNotFound, "workflow.startSprint", "sprint "+args.TargetID+" not found")
		}
		sprint.Lifecycle = SprintActive
		for _, id := range sprint.StoryIDs {
			m.backlog[id].Substate = SubstateInSprint
		}
		return nil

	case proto.VerbPauseSprint:
		var args proto.TargetArgs
		if err := cmd.DecodeArgs(&args); err != nil {
			return err
		}
		sprint, ok := m.sprints[args.TargetID]
		if !ok {
			return orcherr.New(orcherr.KindNotFound, "workflow.pauseSprint", "sprint "+args.TargetID+" not found")
		}
		sprint.Lifecycle = SprintActivePaused
		return nil

	case proto.VerbResumeSprint:
		var args proto.TargetArgs
		if err := cmd.DecodeArgs(&args); err != nil {
			return err
		}
		sprint, ok := m.sprints[args.TargetID]
		if !ok {
			return orcherr.New(orcherr.KindNotFound, "workflow.resumeSprint", "sprint "+args.TargetID+" not found")
		}
		sprint.Lifecycle = SprintActive
		return nil

	case proto.VerbCompleteSprint:
		var args proto.TargetArgs
		if err := cmd.DecodeArgs(&args); err != nil {
			return err
		}
		sprint, ok := m.sprints[args.TargetID]
		if !ok {
			return orcherr.New(orcherr.KindNotFound, "workflow.completeSprint", "sprint "+args.TargetID+" not found")
		}
		sprint.Lifecycle = SprintReview
		for _, id := range sprint.StoryIDs {
			m.backlog[id].Substate = SubstateInReview
		}
		return nil

	case proto.VerbApproveReview:
		var args proto.TargetArgs
		if err := cmd.DecodeArgs(&args); err != nil {
			return err
		}
		sprint, ok := m.sprints[args.TargetID]
		if !ok {
			return orcherr.New(orcherr.KindNotFound, "workflow.approveReview", "sprint "+args.TargetID+" not found")
		}
		sprint.Lifecycle = SprintRetrospective
		return nil

	case proto.VerbCompleteRetro:
		var args proto.TargetArgs
		if err := cmd.DecodeArgs(&args); err != nil {
			return err
		}
		sprint, ok := m.sprints[args.TargetID]
		if !ok {
			return orcherr.New(orcherr.KindNotFound, "workflow.completeRetro", "sprint "+args.TargetID+" not found")
		}
		sprint.Lifecycle = SprintComplete
		for _, id := range sprint.StoryIDs {
			m.backlog[id].Substate = SubstateDone
		}
		return nil

	case proto.VerbAbortSprint:
		var args proto.TargetArgs
		if err := cmd.DecodeArgs(&args); err != nil {
			return err
		}
		sprint, ok := m.sprints[args.TargetID]
		if !ok {
			return orcherr.New(orcherr.KindNotFound, "workflow.abortSprint", "sprint "+args.TargetID+" not found")
		}
		sprint.Lifecycle = SprintAborted
		for _, id := range sprint.StoryIDs {
			if story, ok := m.backlog[id]; ok {
				story.Substate = SubstateBlocked
			}
		}
		return nil

	default:
		return orcherr.New(orcherr.KindInternal, "workflow.applyDomainEffect", "no domain effect registered for verb "+string(cmd.Verb))
	}
}

// guardAbortSprint enforces the sprint named by the command actually exists;
// any non-terminal sprint may be abandoned, no further restriction applies.
func guardAbortSprint(m *Machine, cmd *proto.Command) error {
	var args proto.TargetArgs
	if err := cmd.DecodeArgs(&args); err != nil {
		return err
	}
	if _, ok := m.sprints[args.TargetID]; !ok {
		return orcherr.New(orcherr.KindNotFound, "workflow.guardAbortSprint", "sprint "+args.TargetID+" not found")
	}
	return nil
}

// guardPlanSprint enforces that every named story is approved and unblocked.
func guardPlanSprint(m *Machine, cmd *proto.Command) error {
	var args proto.PlanSprintArgs
	if err := cmd.DecodeArgs(&args); err != nil {
		return err
	}
	if len(args.StoryIDs) == 0 {
		return orcherr.New(orcherr.KindValidation, "workflow.guardPlanSprint", "sprint must name at least one story")
	}
	for _, id := range args.StoryIDs {
		story, ok := m.backlog[id]
		if !ok {
			return orcherr.New(orcherr.KindNotFound, "workflow.guardPlanSprint", "story "+id+" not found")
		}
		if !story.Approved {
			return orcherr.New(orcherr.KindValidation, "workflow.guardPlanSprint", "story "+id+" is not approved")
		}
		if !story.Unblocked(m.backlog) {
			return orcherr.New(orcherr.KindValidation, "workflow.guardPlanSprint", "story "+id+" has unresolved dependencies")
		}
	}
	return nil
}

// guardStartSprint enforces the planned sprint names at least one story.
func guardStartSprint(m *Machine, cmd *proto.Command) error {
	var args proto.TargetArgs
	if err := cmd.DecodeArgs(&args); err != nil {
		return err
	}
	sprint, ok := m.sprints[args.TargetID]
	if !ok {
		return orcherr.New(orcherr.KindNotFound, "workflow.guardStartSprint", "sprint "+args.TargetID+" not found")
	}
	if len(sprint.StoryIDs) == 0 {
		return orcherr.New(orcherr.KindValidation, "workflow.guardStartSprint", "sprint "+sprint.ID+" has no stories")
	}
	return nil
}

// guardCompleteSprint enforces every story in the sprint reached a
// terminal, sprint-complete-eligible TDD cycle outcome (Commit, or Aborted
// with a recorded justification). See DESIGN.md "sprint.complete strictness".
func guardCompleteSprint(m *Machine, cmd *proto.Command) error {
	var args proto.TargetArgs
	if err := cmd.DecodeArgs(&args); err != nil {
		return err
	}
	sprint, ok := m.sprints[args.TargetID]
	if !ok {
		return orcherr.New(orcherr.KindNotFound, "workflow.guardCompleteSprint", "sprint "+args.TargetID+" not found")
	}
	if m.cycleStatus == nil {
		return nil
	}
	for _, id := range sprint.StoryIDs {
		if !m.cycleStatus(id) {
			return orcherr.New(orcherr.KindValidation, "workflow.guardCompleteSprint",
				"story "+id+" has not reached a terminal TDD outcome")
		}
	}
	return nil
}
