// Command conductor is the multi-project orchestration engine's entrypoint.
// It loads a registry of projects, starts one supervised pkg/orchestrator.Project
// per entry, runs pkg/scheduler's periodic rebalance against pkg/global's
// Supervisor, and serves pkg/broadcaster's event stream over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	_ "modernc.org/sqlite" // SQLite driver, registers as "sqlite" for persistence.Initialize

	"conductor/pkg/broadcaster"
	"conductor/pkg/build"
	"conductor/pkg/chat"
	"conductor/pkg/config"
	"conductor/pkg/controlapi"
	"conductor/pkg/crosscoord"
	"conductor/pkg/eventbus"
	"conductor/pkg/fsmkit"
	"conductor/pkg/global"
	"conductor/pkg/logx"
	"conductor/pkg/metrics"
	"conductor/pkg/orcherr"
	"conductor/pkg/orchestrator"
	"conductor/pkg/persistence"
	"conductor/pkg/proto"
	"conductor/pkg/registry"
	"conductor/pkg/scheduler"
	"conductor/pkg/tdd"
)

const broadcasterCapacity = 1024

const defaultShutdownTimeout = 30 * time.Second

// projectsManifest is the conductor-level analogue of .maestro/config.json:
// where that file describes one project, this one lists every project the
// engine supervises. Grounded on config.go's plain-JSON-unmarshal loading
// style.
type projectsManifest struct {
	GlobalCaps struct {
		MaxAgents        int     `json:"max_agents"`
		MaxMemoryMB      int64   `json:"max_memory_mb"`
		MaxDiskMB        int64   `json:"max_disk_mb"`
		MinShareFraction float64 `json:"min_share_fraction"`
	} `json:"global_caps"`
	Projects []struct {
		Name       string   `json:"name"`
		Path       string   `json:"path"`
		Priority   string   `json:"priority"`
		DependsOn  []string `json:"depends_on"`
		MaxAgents  int      `json:"max_agents"`
		MaxCycles  int      `json:"max_parallel_cycles"`
		MemoryMB   int64    `json:"memory_cap_mb"`
		DiskMB     int64    `json:"disk_cap_mb"`
		CPUWeight  float64  `json:"cpu_weight"`
	} `json:"projects"`
}

func loadProjectsManifest(path string) (*projectsManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read projects manifest: %w", err)
	}
	var m projectsManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse projects manifest: %w", err)
	}
	return &m, nil
}

// checkDependencies validates the external binaries every project's build
// backend and git workflow assume are on PATH. Adapted from cmd/maestro's
// same-named check: Docker is no longer unconditionally required since a
// project's build backend may run on the host.
func checkDependencies() error {
	var missing []string
	for _, bin := range []string{"git", "gh"} {
		if _, err := exec.LookPath(bin); err != nil {
			missing = append(missing, bin+" is not installed or not in PATH")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("dependency check failed:\n  - %s", strings.Join(missing, "\n  - "))
	}
	return nil
}

// buildTestRunner adapts pkg/build.Service to pkg/tdd.TestRunner: a cycle's
// selector set becomes the build backend's "test" operation, filtered down
// to the named tests via Args.
type buildTestRunner struct {
	svc         *build.Service
	projectRoot string
}

func (r *buildTestRunner) Run(ctx context.Context, selectorSet string) (tdd.TestResult, error) {
	req := &build.Request{
		ProjectRoot: r.projectRoot,
		Operation:   "test",
		Timeout:     300,
	}
	if selectorSet != "" {
		req.Args = strings.Fields(selectorSet)
	}
	resp, err := r.svc.ExecuteBuild(ctx, req)
	if err != nil {
		return tdd.TestResult{}, err
	}
	if !resp.Success {
		return tdd.TestResult{Failures: 1}, nil
	}
	return tdd.TestResult{Passes: 1}, nil
}

// buildQualityChecker adapts pkg/build.Service's lint operation to
// pkg/tdd.QualityChecker. A lint pass is treated as clearing every gate;
// coverage/complexity measurement is left to the build backend's own output
// parsing, out of scope here.
type buildQualityChecker struct {
	svc         *build.Service
	projectRoot string
}

func (c *buildQualityChecker) Check(ctx context.Context, _ string) (tdd.QualityReport, error) {
	resp, err := c.svc.ExecuteBuild(ctx, &build.Request{
		ProjectRoot: c.projectRoot,
		Operation:   "lint",
		Timeout:     120,
	})
	if err != nil {
		return tdd.QualityReport{}, err
	}
	if !resp.Success {
		return tdd.QualityReport{CoveragePercent: 0, Complexity: 999}, nil
	}
	return tdd.QualityReport{CoveragePercent: 100, Complexity: 0}, nil
}

func priorityFromString(s string) registry.Priority {
	switch strings.ToUpper(s) {
	case "CRITICAL":
		return registry.PriorityCritical
	case "HIGH":
		return registry.PriorityHigh
	case "LOW":
		return registry.PriorityLow
	default:
		return registry.PriorityNormal
	}
}

// newCycleBuilder adapts pkg/build.Service into an orchestrator.CycleBuilder
// rooted at projPath, the construction every project's TDD cycles share
// whether admitted at startup from the manifest or later via
// project.register.
func newCycleBuilder(store fsmkit.Store, buildSvc *build.Service, projPath string) orchestrator.CycleBuilder {
	return func(projectID, storyID, cycleID, selectorSet string) *tdd.Machine {
		cyc := tdd.Cycle{ID: cycleID, StoryID: storyID, ProjectID: projectID, SelectorSet: selectorSet}
		runner := &buildTestRunner{svc: buildSvc, projectRoot: projPath}
		checker := &buildQualityChecker{svc: buildSvc, projectRoot: projPath}
		return tdd.New(cyc, store, runner, checker, tdd.QualityGates{MinCoveragePercent: 0, MaxComplexity: 0})
	}
}

// buildProjectConfig assembles an orchestrator.Config for a project, wiring
// it into the cross-project coordinator when it names dependencies on other
// projects: a project with no DependsOn never pays the acquire/release cost
// around its own cycle execution, keeping full intra-project parallelism.
func buildProjectConfig(store fsmkit.Store, bus *eventbus.Bus, log *logx.Logger, buildSvc *build.Service, coord *crosscoord.Coordinator, reg *registry.Registry, name, projPath string, priority registry.Priority, maxParallel int, dependsOn []string) orchestrator.Config {
	var resourceID string
	if len(dependsOn) > 0 {
		resourceID = projPath
		if _, err := reg.DeclareResource(resourceID, registry.ResourceKindPath); err != nil && !orcherr.Is(err, orcherr.KindAlreadyExists) {
			resourceID = ""
		}
		if resourceID != "" {
			coord.Register(resourceID, registry.ResourceKindPath)
		}
	}
	return orchestrator.Config{
		MaxParallel: maxParallel,
		Store:       store,
		Bus:         bus,
		Log:         log,
		Build:       newCycleBuilder(store, buildSvc, projPath),
		CrossCoord:  coord,
		ResourceID:  resourceID,
		Priority:    priority,
	}
}

func main() {
	var projectDir, manifestPath, listenAddr, prometheusURL string
	var rebalanceInterval time.Duration
	flag.StringVar(&projectDir, "projectdir", "", "Directory holding .maestro/config.json and the sqlite database")
	flag.StringVar(&manifestPath, "projects", "", "Path to the projects manifest JSON (list of supervised projects)")
	flag.StringVar(&listenAddr, "listen", ":8080", "Address to serve the event stream and health endpoint on")
	flag.DurationVar(&rebalanceInterval, "rebalance-interval", 30*time.Second, "How often the scheduler rebalances quotas")
	flag.StringVar(&prometheusURL, "prometheus-url", "", "Prometheus base URL for per-story token/cost queries (disables /control/story-metrics if empty)")
	flag.Parse()

	if projectDir == "" {
		log.Fatalf("-projectdir is required")
	}
	if manifestPath == "" {
		manifestPath = filepath.Join(projectDir, config.ProjectConfigDir, "projects.json")
	}

	if err := config.LoadConfig(projectDir); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg, err := config.GetConfig()
	if err != nil {
		log.Fatalf("failed to read config: %v", err)
	}
	if err := checkDependencies(); err != nil {
		log.Fatalf("missing required dependencies: %v", err)
	}

	manifest, err := loadProjectsManifest(manifestPath)
	if err != nil {
		log.Fatalf("failed to load projects manifest: %v", err)
	}

	dbPath := filepath.Join(projectDir, config.ProjectConfigDir, config.DatabaseFilename)
	sessionID := fmt.Sprintf("conductor-%d", os.Getpid())
	if err := persistence.Initialize(dbPath, sessionID); err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	if _, err := persistence.MarkStaleSessions(persistence.GetDB()); err != nil {
		log.Printf("warning: failed to mark stale sessions: %v", err)
	}
	manifestJSON, _ := persistence.ConfigSnapshotToJSON(manifest)
	if err := persistence.CreateSession(persistence.GetDB(), sessionID, manifestJSON); err != nil {
		log.Printf("warning: failed to create session record: %v", err)
	}

	rootLog := logx.NewLogger("conductor")
	store := persistence.NewStore()
	bus := eventbus.New(rootLog)
	broadcast, err := broadcaster.New(broadcasterCapacity, filepath.Join(projectDir, config.ProjectConfigDir, "events"), rootLog)
	if err != nil {
		log.Fatalf("failed to start event broadcaster: %v", err)
	}
	defer broadcast.Close()

	unsubscribe := broadcaster.Subscribe(bus, broadcast)
	defer unsubscribe()

	rec := metrics.NewRecorder()
	unsubscribeMetrics := bus.Subscribe(func(evt proto.Event) {
		rec.IncEvent(string(evt.Payload.Kind))
	})
	defer unsubscribeMetrics()

	reg := registry.New()
	coord := crosscoord.New(func(evt proto.Event) { bus.PublishControl(evt) })
	sup := global.New(reg, bus, rootLog)

	buildSvc := build.NewBuildService()

	var queryService *metrics.QueryService
	if prometheusURL != "" {
		qs, err := metrics.NewQueryService(prometheusURL)
		if err != nil {
			rootLog.Warn("conductor: failed to build prometheus query service: %v", err)
		} else {
			queryService = qs
		}
	}

	for _, p := range manifest.Projects {
		caps := registry.ResourceCaps{
			MaxAgents:         p.MaxAgents,
			MaxParallelCycles: p.MaxCycles,
			MemoryCapBytes:    p.MemoryMB * 1024 * 1024,
			DiskCapBytes:      p.DiskMB * 1024 * 1024,
			CPUWeight:         p.CPUWeight,
		}
		if caps.MaxAgents == 0 {
			caps.MaxAgents = 1
		}
		if caps.MaxParallelCycles == 0 {
			caps.MaxParallelCycles = 1
		}

		projPath := p.Path
		priority := priorityFromString(p.Priority)
		cfg := buildProjectConfig(store, bus, rootLog.WithAgentID(p.Name), buildSvc, coord, reg, p.Name, projPath, priority, caps.MaxParallelCycles, p.DependsOn)

		ctx := context.Background()
		if _, err := sup.RegisterAndStart(ctx, p.Name, projPath, priority, caps, p.DependsOn, cfg); err != nil {
			log.Fatalf("failed to register project %s: %v", p.Name, err)
		}
		rootLog.Info("conductor: registered and started project %s at %s", p.Name, projPath)
	}

	sup.Start()

	sched := scheduler.New(scheduler.GlobalCaps{
		MaxAgents:        manifest.GlobalCaps.MaxAgents,
		MaxMemory:        manifest.GlobalCaps.MaxMemoryMB * 1024 * 1024,
		MaxDisk:          manifest.GlobalCaps.MaxDiskMB * 1024 * 1024,
		MinShareFraction: manifest.GlobalCaps.MinShareFraction,
	}, func(projectID string, quota scheduler.Quota) error {
		rec.RecordQuota(projectID, quota.AllocatedCPUShare, quota.AllocatedMemory)
		return sup.ApplyQuotas(map[string]scheduler.Quota{projectID: quota})
	}, func() []scheduler.ProjectInput {
		inputs := projectInputsFromRegistry(reg, sup)
		for _, in := range inputs {
			rec.SetActiveCycles(in.ID, in.LiveCycles)
		}
		return inputs
	}, bus, rootLog)
	sched.SetInterval(rebalanceInterval)
	sched.Start()
	defer sched.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/events", broadcast.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/control/inspect", handleInspect(reg, coord, sup))
	cmdCtx := &commandContext{
		reg: reg, coord: coord, sup: sup, sched: sched,
		store: store, bus: bus, log: rootLog, buildSvc: buildSvc,
	}
	mux.HandleFunc("/control/command", handleCommand(cmdCtx))
	mux.HandleFunc("/control/story-metrics", handleStoryMetrics(queryService))
	chatSvc := chat.NewService(persistence.NewDatabaseOperations(persistence.GetDB(), sessionID), cfg.Chat)
	mux.HandleFunc("/chat/post", handleChatPost(chatSvc))
	mux.HandleFunc("/chat/messages", handleChatMessages(chatSvc))
	srv := &http.Server{Addr: listenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rootLog.Error("conductor: event stream server stopped: %v", err)
		}
	}()
	rootLog.Info("conductor: serving event stream on %s", listenAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	rootLog.Info("conductor: received signal %v, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	if err := sup.Shutdown(shutdownCtx, true); err != nil {
		log.Printf("error during project shutdown: %v", err)
	}
	if err := persistence.UpdateSessionStatus(persistence.GetDB(), sessionID, persistence.SessionStatusShutdown); err != nil {
		rootLog.Warn("conductor: failed to mark session shutdown: %v", err)
	}
	rootLog.Info("conductor: shutdown complete")
}

func handleInspect(reg *registry.Registry, coord *crosscoord.Coordinator, sup *global.Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		all := reg.All()
		views := make([]controlapi.ProjectView, 0, len(all))
		for _, p := range all {
			views = append(views, controlapi.ProjectView{
				ID: p.ID, Name: p.Name, Path: p.Path,
				Priority: p.Priority, Status: p.Status, Caps: p.Caps,
			})
		}
		resp := controlapi.InspectResponse{
			Projects:  views,
			Resources: coord.Inspect(),
			Snapshots: sup.SnapshotAll(),
			AsOf:      time.Now().UTC(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// commandContext bundles the dependencies handleCommand's verb handlers
// need, so adding a verb doesn't mean widening handleCommand's own
// parameter list again.
type commandContext struct {
	reg      *registry.Registry
	coord    *crosscoord.Coordinator
	sup      *global.Supervisor
	sched    *scheduler.Scheduler
	store    fsmkit.Store
	bus      *eventbus.Bus
	log      *logx.Logger
	buildSvc *build.Service
}

// decodeArgs round-trips req.Args (an untyped any decoded from JSON) through
// dest's concrete shape, the same technique pkg/proto.Command.DecodeArgs
// uses for the typed json.RawMessage case.
func decodeArgs(raw any, dest any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return fmt.Errorf("decode args: %w", err)
	}
	return nil
}

func handleCommand(cc *commandContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req controlapi.CommandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeCommandError(w, fmt.Errorf("decode request: %w", err))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		switch proto.Verb(req.Verb) {
		case proto.VerbRecoverProject:
			if err := cc.sup.Recover(ctx, req.ProjectID); err != nil {
				writeCommandError(w, err)
				return
			}
			writeCommandOK(w, nil)
		case proto.VerbRebalanceQuota:
			writeCommandOK(w, cc.sched.RebalanceNow())
		case proto.VerbSetQuotaStrategy:
			var args controlapi.SetStrategyArgs
			if raw, ok := req.Args.(string); ok {
				args.Strategy = raw
			} else if m, ok := req.Args.(map[string]any); ok {
				if s, ok := m["strategy"].(string); ok {
					args.Strategy = s
				}
			}
			if err := cc.sched.SetStrategy(scheduler.StrategyName(args.Strategy)); err != nil {
				writeCommandError(w, err)
				return
			}
			writeCommandOK(w, nil)
		case proto.VerbRegisterProject:
			result, err := handleRegisterProject(ctx, cc, req)
			if err != nil {
				writeCommandError(w, err)
				return
			}
			writeCommandOK(w, result)
		case proto.VerbSetProjectStatus:
			var args proto.SetProjectStatusArgs
			if err := decodeArgs(req.Args, &args); err != nil {
				writeCommandError(w, err)
				return
			}
			if err := cc.reg.SetStatus(req.ProjectID, registry.Status(strings.ToUpper(args.Status))); err != nil {
				writeCommandError(w, err)
				return
			}
			writeCommandOK(w, nil)
		case proto.VerbPauseProject:
			proj, ok := cc.sup.Project(req.ProjectID)
			if !ok {
				writeCommandError(w, fmt.Errorf("no supervised project %s", req.ProjectID))
				return
			}
			proj.Pause()
			writeCommandOK(w, nil)
		case proto.VerbResumeProject:
			proj, ok := cc.sup.Project(req.ProjectID)
			if !ok {
				writeCommandError(w, fmt.Errorf("no supervised project %s", req.ProjectID))
				return
			}
			proj.Resume()
			writeCommandOK(w, nil)
		case proto.VerbAcquireResource:
			var args proto.AcquireResourceArgs
			if err := decodeArgs(req.Args, &args); err != nil {
				writeCommandError(w, err)
				return
			}
			priority := registry.PriorityNormal
			if p, err := cc.reg.Get(req.ProjectID); err == nil {
				priority = p.Priority
			}
			if err := cc.coord.Acquire(ctx, args.ResourceID, args.HolderID, priority, time.Now().Add(30*time.Second)); err != nil {
				writeCommandError(w, err)
				return
			}
			writeCommandOK(w, nil)
		case proto.VerbReleaseResource:
			var args proto.ReleaseResourceArgs
			if err := decodeArgs(req.Args, &args); err != nil {
				writeCommandError(w, err)
				return
			}
			if err := cc.coord.Release(args.ResourceID, args.HolderID); err != nil {
				writeCommandError(w, err)
				return
			}
			writeCommandOK(w, nil)
		default:
			writeCommandError(w, fmt.Errorf("unsupported control verb %q", req.Verb))
		}
	}
}

// handleRegisterProject admits a new project at runtime, the dynamic
// counterpart to a projects-manifest entry loaded at startup: it builds the
// same kind of orchestrator.Config the startup loop does, including the
// cross-project resource declaration for projects that name dependencies.
func handleRegisterProject(ctx context.Context, cc *commandContext, req controlapi.CommandRequest) (*registry.Project, error) {
	var args proto.RegisterProjectArgs
	if err := decodeArgs(req.Args, &args); err != nil {
		return nil, err
	}
	if args.Name == "" || args.Path == "" {
		return nil, fmt.Errorf("name and path are required")
	}

	caps := registry.ResourceCaps{
		MaxAgents:         args.MaxAgents,
		MaxParallelCycles: args.MaxCycles,
		MemoryCapBytes:    args.MemoryMB * 1024 * 1024,
		DiskCapBytes:      args.DiskMB * 1024 * 1024,
		CPUWeight:         args.CPUWeight,
	}
	if caps.MaxAgents == 0 {
		caps.MaxAgents = 1
	}
	if caps.MaxParallelCycles == 0 {
		caps.MaxParallelCycles = 1
	}

	priority := priorityFromString(args.Priority)
	cfg := buildProjectConfig(cc.store, cc.bus, cc.log.WithAgentID(args.Name), cc.buildSvc, cc.coord, cc.reg, args.Name, args.Path, priority, caps.MaxParallelCycles, args.DependsOn)

	proj, err := cc.sup.RegisterAndStart(ctx, args.Name, args.Path, priority, caps, args.DependsOn, cfg)
	if err != nil {
		return nil, err
	}
	rp, err := cc.reg.Get(proj.ID())
	if err != nil {
		// RegisterAndStart already succeeded; this is only for returning the
		// full registry record, so fall back to a minimal one on lookup failure.
		return &registry.Project{Name: args.Name, Path: args.Path, Priority: priority, Caps: caps}, nil
	}
	return rp, nil
}

// handleStoryMetrics serves per-story Prometheus token/cost totals, when a
// -prometheus-url was configured at startup.
func handleStoryMetrics(qs *metrics.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if qs == nil {
			http.Error(w, "prometheus query service not configured", http.StatusServiceUnavailable)
			return
		}
		storyID := r.URL.Query().Get("story_id")
		if storyID == "" {
			http.Error(w, "story_id is required", http.StatusBadRequest)
			return
		}
		m, err := qs.GetStoryMetrics(r.Context(), storyID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m)
	}
}

func writeCommandOK(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(controlapi.CommandResponse{OK: true, Result: result})
}

func writeCommandError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(controlapi.CommandResponse{OK: false, Error: err.Error()})
}

func handleChatPost(svc *chat.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chat.PostRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := svc.Post(r.Context(), &req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func handleChatMessages(svc *chat.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := r.URL.Query().Get("agent_id")
		resp, err := svc.GetNew(r.Context(), &chat.GetNewRequest{AgentID: agentID})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// projectInputsFromRegistry builds the scheduler's per-tick view of every
// active project. LiveCycles comes from each project's own Snapshot, a real
// signal; UsageMemory/UsageCPUShare are left at zero since no host-level
// cgroup/container sampler is wired in (pkg/exec's container stats, the
// natural source, were dropped as redundant with pkg/build/executor.go — see
// DESIGN.md). StrategyUsageDriven degrades to LiveCycles-only pressure until
// such a sampler exists.
func projectInputsFromRegistry(reg *registry.Registry, sup *global.Supervisor) []scheduler.ProjectInput {
	projects := reg.ListActive()
	inputs := make([]scheduler.ProjectInput, 0, len(projects))
	for _, p := range projects {
		input := scheduler.ProjectInput{
			ID:       p.ID,
			Priority: p.Priority,
			Caps:     p.Caps,
		}
		if proj, ok := sup.Project(p.ID); ok {
			if snap, err := proj.Snapshot(); err == nil {
				input.LiveCycles = snap.LiveCycles
			}
		}
		inputs = append(inputs, input)
	}
	return inputs
}
