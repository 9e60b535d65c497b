package controlapi

import (
	"encoding/json"
	"testing"

	"conductor/pkg/registry"
)

func TestCommandRequestRoundTrip(t *testing.T) {
	req := CommandRequest{
		Verb:      "scheduler.setStrategy",
		ProjectID: "alpha",
		Principal: "operator",
		Args:      SetStrategyArgs{Strategy: "UsageDriven"},
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var got CommandRequest
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got.Verb != req.Verb || got.ProjectID != req.ProjectID || got.Principal != req.Principal {
		t.Errorf("round-tripped request = %+v, want %+v", got, req)
	}
}

func TestCommandRequestOmitsEmptyProjectID(t *testing.T) {
	req := CommandRequest{Verb: "scheduler.rebalanceNow", Principal: "operator"}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, present := raw["project_id"]; present {
		t.Error("expected project_id to be omitted when empty")
	}
	if _, present := raw["args"]; present {
		t.Error("expected args to be omitted when nil")
	}
}

func TestCommandResponseRoundTrip(t *testing.T) {
	resp := CommandResponse{OK: false, Error: "project not found"}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var got CommandResponse
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got.OK != resp.OK || got.Error != resp.Error {
		t.Errorf("round-tripped response = %+v, want %+v", got, resp)
	}
}

func TestProjectViewRoundTrip(t *testing.T) {
	pv := ProjectView{
		ID:       "alpha",
		Name:     "Alpha Project",
		Path:     "/work/alpha",
		Priority: registry.PriorityHigh,
		Status:   registry.StatusActive,
		Caps:     registry.ResourceCaps{MaxAgents: 4, MaxParallelCycles: 2},
	}

	data, err := json.Marshal(pv)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var got ProjectView
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got != pv {
		t.Errorf("round-tripped view = %+v, want %+v", got, pv)
	}
}
