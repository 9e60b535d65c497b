package agentexec

import "fmt"

// Role identifies which phase of a TDD cycle (pkg/tdd) is invoking the
// executor, so the factory can pick the model and token-accounting
// parameters configured for that phase.
type Role string

const (
	// RolePlanner drives the Plan phase: turning a story's requirements
	// into a concrete implementation plan.
	RolePlanner Role = "planner"

	// RoleImplementer drives the Code phase: writing the change described
	// by the plan.
	RoleImplementer Role = "implementer"

	// RoleReviewer drives the Review phase: judging whether a completed
	// Code/Test pass satisfies the story and should advance to Commit.
	RoleReviewer Role = "reviewer"
)

// IsValid reports whether the role is one of the known phase roles.
func (r Role) IsValid() bool {
	return r == RolePlanner || r == RoleImplementer || r == RoleReviewer
}

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// ParseRole parses a string into a Role, validating it against the known
// set.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", fmt.Errorf("invalid executor role: %s (must be planner, implementer, or reviewer)", s)
	}
	return r, nil
}
