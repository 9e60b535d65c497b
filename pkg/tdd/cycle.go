package tdd

import "context"

// TestResult is the outcome of running a selector set against the test
// runner the cycle was wired to at construction. The concrete runner lives
// outside this package (spec.md places test-runner integration internals
// out of scope); this package only ever reads the failure/pass counts.
type TestResult struct {
	Failures int
	Passes   int
}

// Red reports whether the result matches RedTests->GreenCode's guard: at
// least one failure and zero passes of the selector set's own tests.
func (r TestResult) Red() bool {
	return r.Failures >= 1 && r.Passes == 0
}

// Green reports whether the result matches GreenCode/Refactor's guard:
// zero failures.
func (r TestResult) Green() bool {
	return r.Failures == 0
}

// TestRunner executes a cycle's selector set and reports the outcome.
type TestRunner interface {
	Run(ctx context.Context, selectorSet string) (TestResult, error)
}

// QualityReport is the post-refactor measurement checked against
// QualityGates before Refactor->Commit is allowed.
type QualityReport struct {
	CoveragePercent float64
	Complexity      int
}

// QualityGates are the thresholds a cycle's artifacts must clear to reach
// Commit.
type QualityGates struct {
	MinCoveragePercent float64
	MaxComplexity      int
}

// Passes reports whether report clears every configured gate. A zero-value
// QualityGates (no threshold configured) always passes.
func (g QualityGates) Passes(report QualityReport) bool {
	if g.MinCoveragePercent > 0 && report.CoveragePercent < g.MinCoveragePercent {
		return false
	}
	if g.MaxComplexity > 0 && report.Complexity > g.MaxComplexity {
		return false
	}
	return true
}

// QualityChecker measures a cycle's artifacts after Refactor.
type QualityChecker interface {
	Check(ctx context.Context, cycleID string) (QualityReport, error)
}

// Cycle is the record a Machine wraps: the story it belongs to, its
// artifacts, and the selector set captured at entry to RedTests.
type Cycle struct {
	ID                string
	StoryID           string
	ProjectID         string
	DesignArtifact    string
	TestFileRefs      []string
	SourceFileRefs    []string
	SelectorSet       string
	LastFailureDetail string
	AbortReason       string
}
