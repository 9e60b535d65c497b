// Package global implements the Global Orchestrator (C9): the top-level
// supervisor that registers projects into pkg/registry, starts and owns one
// pkg/orchestrator.Project per active project, runs a heartbeat loop that
// detects a failed project and restarts it from its last snapshot, and
// drives pkg/scheduler's periodic rebalance results down into each
// project's live concurrency cap. Grounded on two teacher-adjacent shapes:
// internal/orch/startup.go's "validate then report a clear error, never
// half-start" discipline, and the reference corpus's process-supervision
// pattern (a manager holding a map[id]*managedEntity behind a mutex, with a
// monitor goroutine per entity that restarts on unexpected exit) adapted
// from OS processes to in-process goroutines.
package global

import (
	"context"
	"sync"
	"time"

	"conductor/pkg/eventbus"
	"conductor/pkg/logx"
	"conductor/pkg/orcherr"
	"conductor/pkg/orchestrator"
	"conductor/pkg/proto"
	"conductor/pkg/registry"
	"conductor/pkg/scheduler"
)

// DefaultHeartbeatInterval is how often the supervisor polls each managed
// project's orchestrator-observed status.
const DefaultHeartbeatInterval = 5 * time.Second

// MaxRestartAttempts bounds automatic restart-from-snapshot attempts before
// a project is left Failed for an operator to recover manually via
// project.recover_project.
const MaxRestartAttempts = 3

type managedProject struct {
	cfg          orchestrator.Config
	caps         registry.ResourceCaps
	proj         *orchestrator.Project
	restartCount int
	lastStatus   orchestrator.Status
}

// Supervisor is C9: the process-wide owner of every active project.
type Supervisor struct {
	mu       sync.Mutex
	reg      *registry.Registry
	projects map[string]*managedProject

	bus               *eventbus.Bus
	log               *logx.Logger
	heartbeatInterval time.Duration
	stopCh            chan struct{}
	wg                sync.WaitGroup
}

// New constructs a Supervisor over reg, publishing project-health events to
// bus.
func New(reg *registry.Registry, bus *eventbus.Bus, log *logx.Logger) *Supervisor {
	return &Supervisor{
		reg:               reg,
		projects:          make(map[string]*managedProject),
		bus:               bus,
		log:               log,
		heartbeatInterval: DefaultHeartbeatInterval,
		stopCh:            make(chan struct{}),
	}
}

// SetHeartbeatInterval overrides DefaultHeartbeatInterval; call before Start.
func (s *Supervisor) SetHeartbeatInterval(d time.Duration) {
	if d > 0 {
		s.heartbeatInterval = d
	}
}

// RegisterAndStart registers name/path in the backing registry, constructs
// its Project via cfg, starts it, and begins supervising it. cfg.ProjectID
// is overwritten with the registry id this call produces.
func (s *Supervisor) RegisterAndStart(ctx context.Context, name, path string, priority registry.Priority, caps registry.ResourceCaps, dependsOn []string, cfg orchestrator.Config) (*orchestrator.Project, error) {
	rp, err := s.reg.Register(name, path, priority, caps, dependsOn)
	if err != nil {
		return nil, err
	}
	cfg.ProjectID = rp.ID

	proj := orchestrator.New(cfg)
	if err := proj.Start(ctx); err != nil {
		s.reg.SetStatus(rp.ID, registry.StatusMaintenance)
		return nil, err
	}
	if err := s.reg.SetStatus(rp.ID, registry.StatusActive); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.projects[rp.ID] = &managedProject{cfg: cfg, caps: caps, proj: proj, lastStatus: orchestrator.StatusReady}
	s.mu.Unlock()

	s.publish(proto.NewProjectHealthEvent(proto.EventKindProjectStarted, proto.ProjectHealthPayload{ProjectID: rp.ID}))
	return proj, nil
}

func (s *Supervisor) publish(evt proto.Event) {
	if s.bus == nil {
		return
	}
	s.bus.PublishControl(evt)
}

// Project returns the live Project for id, if supervised.
func (s *Supervisor) Project(id string) (*orchestrator.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.projects[id]
	if !ok {
		return nil, false
	}
	return m.proj, true
}

// Start launches the heartbeat loop.
func (s *Supervisor) Start() {
	s.wg.Add(1)
	go s.heartbeatLoop()
}

func (s *Supervisor) heartbeatLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.checkHeartbeats()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Supervisor) checkHeartbeats() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.projects))
	for id := range s.projects {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.mu.Lock()
		m, ok := s.projects[id]
		s.mu.Unlock()
		if !ok {
			continue
		}

		status := m.proj.Status()
		if status == orchestrator.StatusFailed && m.lastStatus != orchestrator.StatusFailed {
			s.publish(proto.NewProjectHealthEvent(proto.EventKindProjectUnhealthy, proto.ProjectHealthPayload{
				ProjectID: id, Detail: "project orchestrator reported Failed",
			}))
			s.restart(id)
		}

		s.mu.Lock()
		if cur, ok := s.projects[id]; ok {
			cur.lastStatus = cur.proj.Status()
		}
		s.mu.Unlock()
	}
}

// restart attempts restart-from-snapshot for a failed project, up to
// MaxRestartAttempts. Giving up leaves the project Failed for an operator
// to drive through project.recover_project.
func (s *Supervisor) restart(id string) {
	s.mu.Lock()
	m, ok := s.projects[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	if m.restartCount >= MaxRestartAttempts {
		s.publish(proto.NewProjectHealthEvent(proto.EventKindProjectFailed, proto.ProjectHealthPayload{
			ProjectID: id, Detail: "exceeded max automatic restart attempts; awaiting recover_project",
		}))
		s.reg.SetStatus(id, registry.StatusMaintenance)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = m.proj.Shutdown(ctx, false)

	fresh := orchestrator.New(m.cfg)
	if err := fresh.Start(ctx); err != nil {
		s.log.Warn("global: restart of project %s failed: %v", id, err)
		s.mu.Lock()
		m.restartCount++
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	m.proj = fresh
	m.restartCount++
	m.lastStatus = orchestrator.StatusReady
	s.mu.Unlock()

	s.reg.SetStatus(id, registry.StatusActive)
	s.publish(proto.NewProjectHealthEvent(proto.EventKindProjectRecovered, proto.ProjectHealthPayload{ProjectID: id}))
}

// Recover is the explicit, operator-driven counterpart to automatic
// restart: it resets the restart counter and retries regardless of
// MaxRestartAttempts, for project.recover_project.
func (s *Supervisor) Recover(ctx context.Context, id string) error {
	s.mu.Lock()
	m, ok := s.projects[id]
	s.mu.Unlock()
	if !ok {
		return orcherr.New(orcherr.KindNotFound, "global.Recover", "no supervised project "+id)
	}
	s.mu.Lock()
	m.restartCount = 0
	s.mu.Unlock()
	s.restart(id)
	return nil
}

// ApplyQuotas pushes a scheduler rebalance result down to each managed
// project's Coordinator concurrency cap.
func (s *Supervisor) ApplyQuotas(quotas map[string]scheduler.Quota) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, q := range quotas {
		m, ok := s.projects[id]
		if !ok {
			continue
		}
		if err := m.proj.ApplyQuota(q, m.caps); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops the heartbeat loop, snapshots every supervised project so
// a future restart can resume from it, and shuts each one down.
func (s *Supervisor) Shutdown(ctx context.Context, graceful bool) error {
	close(s.stopCh)
	s.wg.Wait()

	s.snapshotAll()

	s.mu.Lock()
	projects := make([]*orchestrator.Project, 0, len(s.projects))
	for _, m := range s.projects {
		projects = append(projects, m.proj)
	}
	s.mu.Unlock()

	var first error
	for _, p := range projects {
		if err := p.Shutdown(ctx, graceful); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// snapshotAll is used by Shutdown and SnapshotAll; it is a thin fan-out over
// each project's own Snapshot.
func (s *Supervisor) snapshotAll() []orchestrator.Snapshot {
	s.mu.Lock()
	projects := make([]*orchestrator.Project, 0, len(s.projects))
	for _, m := range s.projects {
		projects = append(projects, m.proj)
	}
	s.mu.Unlock()

	snaps := make([]orchestrator.Snapshot, 0, len(projects))
	for _, p := range projects {
		if snap, err := p.Snapshot(); err == nil {
			snaps = append(snaps, snap)
		}
	}
	return snaps
}

// SnapshotAll is the exported form of snapshotAll, used by cmd/conductor's
// /control/inspect endpoint.
func (s *Supervisor) SnapshotAll() []orchestrator.Snapshot {
	return s.snapshotAll()
}
