// Package controlapi defines the JSON wire shapes cmd/conductor's control
// HTTP endpoints and cmd/conductorctl exchange. It keeps the request/response
// structs in one place so the server and the operator CLI can never drift,
// the way pkg/proto keeps Command/Event shared between the engine and its
// callers.
package controlapi

import (
	"time"

	"conductor/pkg/crosscoord"
	"conductor/pkg/orchestrator"
	"conductor/pkg/registry"
)

// InspectResponse is the /control/inspect payload: a point-in-time view of
// every supervised project, plus the shared-resource wait graph.
type InspectResponse struct {
	Projects  []ProjectView              `json:"projects"`
	Resources []crosscoord.ResourceSnapshot `json:"resources"`
	Snapshots []orchestrator.Snapshot    `json:"snapshots"`
	AsOf      time.Time                  `json:"as_of"`
}

// ProjectView is the registry-level summary of one project, independent of
// whether the conductor process currently supervises it.
type ProjectView struct {
	ID       string               `json:"id"`
	Name     string               `json:"name"`
	Path     string               `json:"path"`
	Priority registry.Priority    `json:"priority"`
	Status   registry.Status      `json:"status"`
	Caps     registry.ResourceCaps `json:"caps"`
}

// CommandRequest wraps a proto.Command verb and its JSON args for
// /control/command. Verb is one of the project/scheduler verbs; workflow and
// cycle verbs are expected to go through a project's own command queue
// instead (Submit), not this operator endpoint.
type CommandRequest struct {
	Verb      string `json:"verb"`
	ProjectID string `json:"project_id,omitempty"`
	Principal string `json:"principal"`
	Args      any    `json:"args,omitempty"`
}

// CommandResponse reports the outcome of a CommandRequest.
type CommandResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

// SetStrategyArgs is the Args payload for the scheduler.setStrategy verb.
type SetStrategyArgs struct {
	Strategy string `json:"strategy"`
}
