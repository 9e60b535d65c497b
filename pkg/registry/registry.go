// Package registry is the Project Registry (C2): the source of truth for
// project identity, path, priority, status and declared resource caps, plus
// the global SharedResource catalogue C8 serialises access to. It never
// drives a state machine itself — pkg/workflow and pkg/tdd do that — it only
// owns the records other components look up by id.
package registry

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"conductor/pkg/orcherr"
)

// Priority is a project's scheduling priority class.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityNormal   Priority = "NORMAL"
	PriorityLow      Priority = "LOW"
)

// Weight returns the WeightedByPriority strategy's fixed weight for p.
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 8
	case PriorityHigh:
		return 4
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 1
	default:
		return 2
	}
}

// Status is a project's lifecycle status.
type Status string

const (
	StatusInitializing Status = "INITIALIZING"
	StatusActive       Status = "ACTIVE"
	StatusPaused       Status = "PAUSED"
	StatusMaintenance  Status = "MAINTENANCE"
	StatusArchived     Status = "ARCHIVED"
)

// ResourceCaps are the declared per-project ceilings the scheduler (C7) may
// never allocate above.
type ResourceCaps struct {
	MaxAgents         int
	MaxParallelCycles int
	MemoryCapBytes    int64
	DiskCapBytes      int64
	CPUWeight         float64 // in [0.1, 2.0]
}

// WorkWindow is the timezone-scoped weekly schedule a project may run in.
// Left unenforced here (no scheduler exists to gate on it in this engine's
// scope beyond recording it) but carried since spec.md names it as part of
// Project's data model.
type WorkWindow struct {
	Timezone string
	Weekly   string // opaque schedule expression, owned by an external scheduler UI
}

// Project is C2's central record.
type Project struct {
	ID            string
	Name          string
	Path          string
	Priority      Priority
	Status        Status
	Caps          ResourceCaps
	Window        WorkWindow
	DependsOn     map[string]bool
	SchemaVersion int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SharedResourceKind names the class of a cross-project shared resource.
type SharedResourceKind string

const (
	ResourceKindPath       SharedResourceKind = "PATH"
	ResourceKindService    SharedResourceKind = "SERVICE"
	ResourceKindCredential SharedResourceKind = "CREDENTIAL"
	ResourceKindPort       SharedResourceKind = "PORT"
)

// Preemptible reports whether a holder of this resource kind may be
// preempted by a higher-priority waiter (spec.md §4.6: advisory locks are
// preemptible, paths and credentials are not).
func (k SharedResourceKind) Preemptible() bool {
	return k == ResourceKindService
}

// SharedResource is a cross-project contended resource. pkg/crosscoord owns
// the acquire/release/wait-for-graph logic over these records; this package
// only owns the record shape and registration-time invariants.
type SharedResource struct {
	ID      string
	Kind    SharedResourceKind
	Holder  string // holder id (cycle/story), empty if free
	Waiters []string
}

// Registry is the in-memory, mutex-guarded project+resource catalogue.
// Persistence is layered on top by pkg/persistence; Registry itself holds no
// file handles.
type Registry struct {
	mu        sync.RWMutex
	projects  map[string]*Project
	resources map[string]*SharedResource
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		projects:  make(map[string]*Project),
		resources: make(map[string]*SharedResource),
	}
}

// Register admits a new project. Paths must not overlap an existing
// project's path unless the two declare each other (or a common ancestor
// chain) as a dependency, per spec.md §3's invariant.
func (r *Registry) Register(name, path string, priority Priority, caps ResourceCaps, dependsOn []string) (*Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	clean := filepath.Clean(path)
	for _, p := range r.projects {
		if pathsOverlap(clean, p.Path) && !r.declaresDependency(dependsOn, p.ID) && !p.DependsOn[clean] {
			return nil, orcherr.New(orcherr.KindConflict, "registry.Register",
				"project path overlaps "+p.ID+" with no declared dependency edge")
		}
	}

	deps := make(map[string]bool, len(dependsOn))
	for _, d := range dependsOn {
		if _, ok := r.projects[d]; !ok {
			return nil, orcherr.New(orcherr.KindNotFound, "registry.Register", "dependency project "+d+" not registered")
		}
		deps[d] = true
	}

	if caps.CPUWeight <= 0 {
		caps.CPUWeight = 1.0
	}

	now := time.Now().UTC()
	proj := &Project{
		ID:            uuid.NewString(),
		Name:          name,
		Path:          clean,
		Priority:      priority,
		Status:        StatusInitializing,
		Caps:          caps,
		DependsOn:     deps,
		SchemaVersion: 1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.projects[proj.ID] = proj
	return proj, nil
}

func (r *Registry) declaresDependency(dependsOn []string, id string) bool {
	for _, d := range dependsOn {
		if d == id {
			return true
		}
	}
	return false
}

func pathsOverlap(a, b string) bool {
	relA, errA := filepath.Rel(b, a)
	relB, errB := filepath.Rel(a, b)
	notOutsideA := errA == nil && !strings.HasPrefix(relA, "..")
	notOutsideB := errB == nil && !strings.HasPrefix(relB, "..")
	return notOutsideA || notOutsideB
}

// Get returns the project by id.
func (r *Registry) Get(id string) (*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, orcherr.New(orcherr.KindNotFound, "registry.Get", "no project "+id)
	}
	return p, nil
}

// SetStatus transitions a project's lifecycle status. Status transitions are
// deliberately permissive here (the operator-facing validity is enforced by
// pkg/global, which is the component that actually starts/stops work in
// response); this method only records the value and bumps UpdatedAt.
func (r *Registry) SetStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return orcherr.New(orcherr.KindNotFound, "registry.SetStatus", "no project "+id)
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// ListActive returns every project currently Active, in registration order
// by id (map iteration is randomized, so callers that need determinism sort
// by ID themselves; this returns a copy either way).
func (r *Registry) ListActive() []*Project {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Project, 0, len(r.projects))
	for _, p := range r.projects {
		if p.Status == StatusActive {
			out = append(out, p)
		}
	}
	return out
}

// All returns every registered project.
func (r *Registry) All() []*Project {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p)
	}
	return out
}

// DeclareResource registers a new SharedResource, free of any holder.
func (r *Registry) DeclareResource(id string, kind SharedResourceKind) (*SharedResource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resources[id]; exists {
		return nil, orcherr.New(orcherr.KindAlreadyExists, "registry.DeclareResource", "resource "+id+" already declared")
	}
	res := &SharedResource{ID: id, Kind: kind}
	r.resources[id] = res
	return res, nil
}

// Resource returns the SharedResource by id.
func (r *Registry) Resource(id string) (*SharedResource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[id]
	if !ok {
		return nil, orcherr.New(orcherr.KindNotFound, "registry.Resource", "no resource "+id)
	}
	return res, nil
}

// Resources returns every declared SharedResource, for pkg/crosscoord's
// Inspect() operation.
func (r *Registry) Resources() []*SharedResource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*SharedResource, 0, len(r.resources))
	for _, res := range r.resources {
		out = append(out, res)
	}
	return out
}
