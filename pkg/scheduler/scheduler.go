// Package scheduler implements the Resource Scheduler (C7): it computes and
// periodically rebalances each active project's ResourceQuota under a
// pluggable allocation Strategy, applying the result to every Project
// Orchestrator via ApplyQuota. Quota accounting (compute-then-clamp,
// scheduled periodic tick) is a direct generalization of the teacher's
// pkg/limiter.Limiter/ModelLimiter token-bucket shape from "per-model budget"
// to "per-project resource share"; UsageDriven's pressure sampling reuses
// pkg/metrics' Prometheus query client shape to read back the same usage
// gauges pkg/metrics exposes.
package scheduler

import (
	"sort"
	"sync"
	"time"

	"conductor/pkg/eventbus"
	"conductor/pkg/logx"
	"conductor/pkg/orcherr"
	"conductor/pkg/proto"
	"conductor/pkg/registry"
)

// Quota is the allocation granted to one project for the current epoch.
type Quota struct {
	AllocatedAgents   int
	AllocatedMemory   int64
	AllocatedCPUShare float64
	AllocatedDisk     int64
	Expiration        time.Time
}

// GlobalCaps bounds the sum of every project's Quota.
type GlobalCaps struct {
	MaxAgents int
	MaxMemory int64
	MaxDisk   int64
	// MinShareFraction is the floor (of each resource) every active project
	// is guaranteed, configurable per spec.md §4.5's "no project starved"
	// property.
	MinShareFraction float64
}

// ProjectInput is one project's current standing as of a rebalance tick.
type ProjectInput struct {
	ID            string
	Priority      registry.Priority
	Caps          registry.ResourceCaps
	LiveCycles    int
	UsageMemory   int64
	UsageCPUShare float64
}

// Strategy computes a fresh allocation from scratch (Equal/WeightedByPriority)
// or incrementally from the previous one (UsageDriven). Implementations must
// never exceed caps even transiently: compute the whole map before returning.
type Strategy interface {
	Name() string
	Allocate(projects []ProjectInput, caps GlobalCaps, previous map[string]Quota) map[string]Quota
}

// StrategyName selects one of the three built-in strategies at runtime via
// scheduler.setStrategy.
type StrategyName string

const (
	StrategyEqual              StrategyName = "Equal"
	StrategyWeightedByPriority StrategyName = "WeightedByPriority"
	StrategyUsageDriven        StrategyName = "UsageDriven"
)

// ApplyFunc pushes a computed Quota to the owning Project Orchestrator. It
// returns an error if the orchestrator rejects the hot-update (e.g. it is
// shutting down); the scheduler retains the project's previous quota on
// failure rather than rolling back any other project.
type ApplyFunc func(projectID string, quota Quota) error

// Scheduler owns the active strategy, the last computed allocation, and the
// periodic rebalance timer.
type Scheduler struct {
	mu        sync.Mutex
	strategy  Strategy
	last      map[string]Quota
	caps      GlobalCaps
	apply     ApplyFunc
	providers func() []ProjectInput
	interval  time.Duration
	bus       *eventbus.Bus
	log       *logx.Logger
	ticker    *time.Ticker
	stopCh    chan struct{}
}

// New constructs a Scheduler defaulting to the Equal strategy and a 300s
// rebalance cadence (spec.md §4.5's default T).
func New(caps GlobalCaps, apply ApplyFunc, providers func() []ProjectInput, bus *eventbus.Bus, log *logx.Logger) *Scheduler {
	return &Scheduler{
		strategy:  EqualStrategy{},
		last:      make(map[string]Quota),
		caps:      caps,
		apply:     apply,
		providers: providers,
		interval:  300 * time.Second,
		bus:       bus,
		log:       log,
		stopCh:    make(chan struct{}),
	}
}

// SetInterval overrides the default rebalance cadence.
func (s *Scheduler) SetInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
}

// SetStrategy switches the active allocation strategy by name.
func (s *Scheduler) SetStrategy(name StrategyName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case StrategyEqual:
		s.strategy = EqualStrategy{}
	case StrategyWeightedByPriority:
		s.strategy = WeightedByPriorityStrategy{}
	case StrategyUsageDriven:
		s.strategy = &UsageDrivenStrategy{}
	default:
		return orcherr.New(orcherr.KindValidation, "scheduler.SetStrategy", "unknown strategy "+string(name))
	}
	return nil
}

// Start launches the periodic rebalance loop. Event-driven triggers (project
// Start/Shutdown/Pause/Resume) call RebalanceNow directly instead of waiting
// for the next tick.
func (s *Scheduler) Start() {
	s.mu.Lock()
	interval := s.interval
	s.mu.Unlock()
	s.ticker = time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.RebalanceNow()
			case <-s.stopCh:
				s.ticker.Stop()
				return
			}
		}
	}()
}

// Stop terminates the periodic rebalance loop.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// RebalanceNow computes a fresh allocation and fan-out-applies it. Apply
// failures for individual projects retain that project's previous quota and
// are reported as KindQuotaApplyFailed without aborting the rest.
func (s *Scheduler) RebalanceNow() map[string]Quota {
	s.mu.Lock()
	strategy := s.strategy
	caps := s.caps
	previous := s.last
	s.mu.Unlock()

	projects := s.providers()
	computed := strategy.Allocate(projects, caps, previous)

	applied := make(map[string]Quota, len(computed))
	for id, quota := range computed {
		if err := s.apply(id, quota); err != nil {
			if s.log != nil {
				s.log.Warn("scheduler: ApplyQuota failed for %s: %v", id, err)
			}
			if old, ok := previous[id]; ok {
				applied[id] = old
			}
			if s.bus != nil {
				s.bus.PublishControl(proto.NewErrorEvent(id, proto.ErrorPayload{
					Kind: string(orcherr.KindQuotaApplyFailed), Detail: err.Error(),
				}))
			}
			continue
		}
		applied[id] = quota
	}

	s.mu.Lock()
	s.last = applied
	s.mu.Unlock()

	if s.bus != nil {
		slots := make(map[string]int, len(applied))
		for id, q := range applied {
			slots[id] = q.AllocatedAgents
		}
		s.bus.PublishControl(proto.NewQuotaRebalancedEvent(proto.QuotaRebalancedPayload{
			Strategy: string(strategyName(strategy)), Quotas: slots,
		}))
	}

	return applied
}

func strategyName(s Strategy) StrategyName {
	return StrategyName(s.Name())
}

// sortedIDs returns project ids in deterministic order so allocation runs are
// reproducible across ticks given the same inputs.
func sortedIDs(projects []ProjectInput) []string {
	ids := make([]string, len(projects))
	for i, p := range projects {
		ids[i] = p.ID
	}
	sort.Strings(ids)
	return ids
}

func clampQuota(q Quota, caps registry.ResourceCaps) Quota {
	if caps.MaxAgents > 0 && q.AllocatedAgents > caps.MaxAgents {
		q.AllocatedAgents = caps.MaxAgents
	}
	if caps.MemoryCapBytes > 0 && q.AllocatedMemory > caps.MemoryCapBytes {
		q.AllocatedMemory = caps.MemoryCapBytes
	}
	if caps.DiskCapBytes > 0 && q.AllocatedDisk > caps.DiskCapBytes {
		q.AllocatedDisk = caps.DiskCapBytes
	}
	return q
}
