package proto

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind identifies the type of payload carried by an Event. This is the
// discriminator of the Event/EventPayload union: the same design the
// teacher's MessagePayload used for agent messages, applied here to the
// engine's outward-facing broadcast stream (pkg/broadcaster) instead.
type EventKind string

const (
	// Workflow (C3) events.
	EventKindEpicDefined      EventKind = "epic_defined"
	EventKindSprintPlanned    EventKind = "sprint_planned"
	EventKindSprintStarted    EventKind = "sprint_started"
	EventKindSprintPaused     EventKind = "sprint_paused"
	EventKindSprintReviewed   EventKind = "sprint_reviewed"
	EventKindSprintCompleted  EventKind = "sprint_completed"
	EventKindSprintAborted    EventKind = "sprint_aborted"

	// TDD cycle (C4) events.
	EventKindCycleStateChanged EventKind = "cycle_state_changed"
	EventKindCycleCommitted    EventKind = "cycle_committed"
	EventKindCycleAborted      EventKind = "cycle_aborted"

	// Resource scheduler (C7) events.
	EventKindQuotaRebalanced EventKind = "quota_rebalanced"
	EventKindQuotaExceeded   EventKind = "quota_exceeded"

	// Cross-project coordination (C8) events.
	EventKindResourceAcquired EventKind = "resource_acquired"
	EventKindResourceReleased EventKind = "resource_released"
	EventKindDeadlockAvoided  EventKind = "deadlock_avoided"

	// Global orchestrator (C9) events.
	EventKindProjectStarted   EventKind = "project_started"
	EventKindProjectUnhealthy EventKind = "project_unhealthy"
	EventKindProjectFailed    EventKind = "project_failed"
	EventKindProjectRecovered EventKind = "project_recovered"

	// EventKindError reports a state-machine-internal error alongside the
	// command-ack failure, per spec.md's "surfaced and also emitted"
	// propagation policy.
	EventKindError EventKind = "error"

	// Generic catch-all for ad hoc diagnostics.
	EventKindGeneric EventKind = "generic"
)

// EventPayload is the discriminated-union payload of an Event. As with the
// command side, a Kind mismatch at Extract time is a loud error, never a
// silently-wrong map lookup.
type EventPayload struct {
	Kind EventKind       `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Event is one entry in the durable, replayable stream C10's Broadcaster
// serves to subscribers. Seq is assigned by the broadcaster on publish and
// is what replay-from-last-seen-sequence-id keys off of.
type Event struct {
	Seq       int64        `json:"seq"`
	ProjectID string       `json:"project_id,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   EventPayload `json:"payload"`
}

func newPayload(kind EventKind, data any) EventPayload {
	raw, _ := json.Marshal(data) // struct marshaling of our own types never fails
	return EventPayload{Kind: kind, Data: raw}
}

// Extract unmarshals p.Data into dest, failing loudly if dest's expected
// kind (supplied by the caller) does not match p.Kind.
func (p EventPayload) Extract(want EventKind, dest any) error {
	if p.Kind != want {
		return fmt.Errorf("expected %s payload, got %s", want, p.Kind)
	}
	if err := json.Unmarshal(p.Data, dest); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", p.Kind, err)
	}
	return nil
}

// StateChangedPayload reports a workflow or TDD state machine transition.
type StateChangedPayload struct {
	OwnerID   string         `json:"owner_id"` // story id, sprint id, epic id
	FromState string         `json:"from_state"`
	ToState   string         `json:"to_state"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewStateChangedEvent builds an Event for a workflow/TDD transition.
func NewStateChangedEvent(kind EventKind, projectID string, p StateChangedPayload) Event {
	return Event{ProjectID: projectID, Timestamp: time.Now().UTC(), Payload: newPayload(kind, p)}
}

// QuotaRebalancedPayload reports the outcome of a scheduler rebalance pass.
type QuotaRebalancedPayload struct {
	Strategy string         `json:"strategy"`
	Quotas   map[string]int `json:"quotas"` // project id -> granted concurrent-cycle slots
}

// NewQuotaRebalancedEvent builds a global-scope (ProjectID empty) rebalance
// event.
func NewQuotaRebalancedEvent(p QuotaRebalancedPayload) Event {
	return Event{Timestamp: time.Now().UTC(), Payload: newPayload(EventKindQuotaRebalanced, p)}
}

// ResourceEventPayload reports a cross-project shared-resource
// acquire/release/deadlock-avoidance outcome.
type ResourceEventPayload struct {
	ResourceID string `json:"resource_id"`
	HolderID   string `json:"holder_id"`
	Exclusive  bool   `json:"exclusive"`
	Detail     string `json:"detail,omitempty"`
}

// NewResourceEvent builds a resource coordination event.
func NewResourceEvent(kind EventKind, projectID string, p ResourceEventPayload) Event {
	return Event{ProjectID: projectID, Timestamp: time.Now().UTC(), Payload: newPayload(kind, p)}
}

// ProjectHealthPayload reports a project orchestrator's liveness transition,
// as observed by the global orchestrator's heartbeat monitor.
type ProjectHealthPayload struct {
	ProjectID string `json:"project_id"`
	Detail    string `json:"detail,omitempty"`
}

// NewProjectHealthEvent builds a project-health event.
func NewProjectHealthEvent(kind EventKind, p ProjectHealthPayload) Event {
	return Event{ProjectID: p.ProjectID, Timestamp: time.Now().UTC(), Payload: newPayload(kind, p)}
}

// ErrorPayload reports an orcherr.Kind surfaced on the bus alongside a
// command-ack failure, scoped to the cycle/sprint/resource it happened to.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	OwnerID string `json:"owner_id,omitempty"` // cycle id, sprint id, resource id
	Detail  string `json:"detail"`
}

// NewErrorEvent builds an error-kind event.
func NewErrorEvent(projectID string, p ErrorPayload) Event {
	return Event{ProjectID: projectID, Timestamp: time.Now().UTC(), Payload: newPayload(EventKindError, p)}
}

// NewGenericEvent wraps an arbitrary value for diagnostics that don't
// warrant a dedicated payload type.
func NewGenericEvent(projectID string, data map[string]any) Event {
	return Event{ProjectID: projectID, Timestamp: time.Now().UTC(), Payload: newPayload(EventKindGeneric, data)}
}

// ResyncRequired is returned by the broadcaster's replay path when a
// subscriber's last-seen sequence number has fallen off the back of the
// ring buffer: the subscriber must discard its local state and refetch a
// fresh snapshot before resuming the stream.
type ResyncRequired struct {
	OldestAvailableSeq int64
	RequestedSeq       int64
}

func (e *ResyncRequired) Error() string {
	return fmt.Sprintf("requested replay from seq %d but oldest retained is %d: client must resync",
		e.RequestedSeq, e.OldestAvailableSeq)
}
