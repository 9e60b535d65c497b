package main

import (
	"context"
	"testing"

	"conductor/pkg/build"
)

// Both adapters are exercised against an empty project root, which the build
// service resolves to NullBackend (see pkg/build/null_backend.go): no real
// toolchain is required for the build/test/lint operations to succeed.

func TestBuildTestRunnerRun(t *testing.T) {
	runner := &buildTestRunner{svc: build.NewBuildService(), projectRoot: t.TempDir()}

	result, err := runner.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Passes != 1 || result.Failures != 0 {
		t.Errorf("expected a clean pass against an empty project root, got %+v", result)
	}
}

func TestBuildTestRunnerRunWithSelector(t *testing.T) {
	runner := &buildTestRunner{svc: build.NewBuildService(), projectRoot: t.TempDir()}

	result, err := runner.Run(context.Background(), "TestFoo TestBar")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Passes != 1 {
		t.Errorf("expected selector-filtered run to still pass against empty project, got %+v", result)
	}
}

func TestBuildQualityCheckerCheck(t *testing.T) {
	checker := &buildQualityChecker{svc: build.NewBuildService(), projectRoot: t.TempDir()}

	report, err := checker.Check(context.Background(), "cycle-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.CoveragePercent != 100 || report.Complexity != 0 {
		t.Errorf("expected clearing gates against empty project root, got %+v", report)
	}
}
