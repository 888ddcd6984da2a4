package runtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coreactors/runtime/internal/bytecode"
	"github.com/coreactors/runtime/internal/jit"
	"github.com/coreactors/runtime/internal/process"
	"github.com/coreactors/runtime/internal/scheduler"
	"github.com/coreactors/runtime/internal/supervisor"
	"github.com/coreactors/runtime/internal/value"
)

// procEntry is the process table's value: the live process plus the
// bookkeeping the facade needs that internal/process itself does not own.
type procEntry struct {
	proc      *process.Process
	spawnedAt time.Time
}

// ownerInfo links a supervised process's PID back to the supervisor and
// declared child id that owns it, resolved by name rather than by pointer
// so the Starter closure below can record it before supervisor.New has
// returned the *supervisor.Supervisor it belongs to.
type ownerInfo struct {
	supervisorName string
	childID        string
}

// Runtime is the facade of spec.md §4.9: it owns the process table, drives
// the scheduler, routes messages and spawns on behalf of running processes
// (it implements process.Router), reclaims terminated processes' resources,
// and collects statistics.
type Runtime struct {
	cfg Config
	log *logrus.Entry

	registry *bytecode.Registry
	sched    *scheduler.Scheduler
	jitTier  *jit.Tier
	stats    *Stats
	gc       *gcCycle

	mu          sync.RWMutex
	procs       map[value.PID]*procEntry
	owners      map[value.PID]ownerInfo
	supervisors map[string]*supervisor.Supervisor
	monitors    map[uint64]monitorEntry
	nextMonitor uint64

	started bool
}

type monitorEntry struct {
	watcher value.PID
	subject value.PID
}

// New constructs a Runtime. Call Start before spawning anything.
func New(opts ...Option) *Runtime {
	cfg := buildConfig(opts...)
	log := logrus.New().WithField("component", "runtime")

	rt := &Runtime{
		cfg:         cfg,
		log:         log,
		registry:    bytecode.NewRegistry(),
		stats:       newStats(),
		procs:       make(map[value.PID]*procEntry),
		owners:      make(map[value.PID]ownerInfo),
		supervisors: make(map[string]*supervisor.Supervisor),
		monitors:    make(map[uint64]monitorEntry),
	}
	if cfg.EnableJIT {
		rt.jitTier = jit.New(jit.Config{}, jit.ThreadedCompiler{}, logrus.New().WithField("component", "jit"))
	}
	rt.gc = newGCCycle(rt, cfg.GCConcurrency, cfg.GCInterval)

	rt.sched = scheduler.New(scheduler.Config{
		Workers:             cfg.Workers,
		QuantumInstructions: cfg.QuantumInstructions,
		DivergenceSweep:     cfg.DivergenceSweep,
	}, rt, logrus.New().WithField("component", "scheduler"))
	rt.sched.OnTerminated(rt.handleTerminated)

	return rt
}

// Registry exposes the shared bytecode registry so callers can Load
// programs before spawning processes from them.
func (rt *Runtime) Registry() *bytecode.Registry { return rt.registry }

// Start launches the scheduler's worker pool, the divergence sweep, and the
// GC cycle.
func (rt *Runtime) Start() {
	rt.mu.Lock()
	if rt.started {
		rt.mu.Unlock()
		return
	}
	rt.started = true
	rt.mu.Unlock()

	rt.sched.Start()
	rt.gc.start()
}

// Shutdown implements spec.md §7's clean-shutdown guarantee: every
// supervisor's tree is torn down top-down, every remaining standalone
// process is terminated, the scheduler drains and stops, and the GC cycle
// is stopped (no final sweep is run).
func (rt *Runtime) Shutdown() {
	rt.mu.Lock()
	if !rt.started {
		rt.mu.Unlock()
		return
	}
	rt.started = false
	supervisors := make([]*supervisor.Supervisor, 0, len(rt.supervisors))
	for _, sv := range rt.supervisors {
		supervisors = append(supervisors, sv)
	}
	remaining := make([]*process.Process, 0, len(rt.procs))
	for _, e := range rt.procs {
		remaining = append(remaining, e.proc)
	}
	rt.mu.Unlock()

	for _, sv := range supervisors {
		sv.Shutdown()
	}
	for _, p := range remaining {
		p.Kill("shutdown")
	}

	rt.sched.Stop()
	rt.gc.stop()
	rt.log.Info("runtime shut down cleanly")
}

func (rt *Runtime) newProcessSpec(spec process.Spec) process.Spec {
	if spec.Limits.InstructionLimit == 0 && spec.Limits.MemoryLimit == 0 && spec.Limits.MessageLimit == 0 && spec.Limits.Timeout == 0 {
		spec.Limits = rt.cfg.DefaultLimits
	}
	if spec.ArenaSize == 0 {
		spec.ArenaSize = rt.cfg.DefaultArenaSize
	}
	if spec.MailboxSize == 0 {
		spec.MailboxSize = rt.cfg.DefaultMailboxCapacity
	}
	if spec.FuelPerQuantum == 0 {
		spec.FuelPerQuantum = rt.cfg.FuelPerQuantum
	}
	if spec.EntryFunction == "" {
		spec.EntryFunction = "main"
	}
	return spec
}

// newProcess constructs and registers a process.Process in the table but
// does not submit it to the scheduler (callers decide ordering: a
// supervisor's Starter submits immediately, Spawn does too, but a future
// caller wanting a "spawned but held" process could defer it).
func (rt *Runtime) newProcess(spec process.Spec, handler process.FaultHandler) (value.PID, *process.Process, error) {
	if spec.Program == nil {
		return value.PID{}, nil, fmt.Errorf("runtime: spec has no program")
	}
	spec = rt.newProcessSpec(spec)
	if err := rt.registry.ResolveImports(spec.Program); err != nil {
		return value.PID{}, nil, fmt.Errorf("runtime: resolving imports: %w", err)
	}

	pid := value.NewPID()
	log := rt.log.WithField("pid", pid.String())
	proc := process.New(pid, spec.Program, rt.registry, spec, log)
	if handler != nil {
		proc.WithFaultHandler(handler)
	}
	if rt.jitTier != nil {
		proc.WithJIT(rt.jitTier)
	}

	rt.mu.Lock()
	rt.procs[pid] = &procEntry{proc: proc, spawnedAt: time.Now()}
	rt.mu.Unlock()

	rt.stats.processSpawned()
	return pid, proc, nil
}

func (rt *Runtime) submit(proc *process.Process) {
	rt.sched.Submit(proc, schedulerPriority(proc))
}

// schedulerPriority is every process's submission priority today; spec.md
// §4.6's priority classes are a per-process property this facade does not
// yet expose a way to set at spawn time (Open Question left for a future
// Spec field), so everything enters at Normal. internal/scheduler has no
// aging rule: Config.AgingThreshold is not read, and no process is ever
// promoted to a higher priority class.
func schedulerPriority(_ *process.Process) scheduler.Priority {
	return scheduler.PriorityNormal
}

// Spawn implements spec.md §4.9's spawn(behavior) -> pid for a standalone
// process (no supervisor): faults are handled by process.DefaultFaultHandler
// directly, since there is no supervisor strategy to defer to.
func (rt *Runtime) Spawn(spec process.Spec) (value.PID, error) {
	pid, proc, err := rt.newProcess(spec, process.DefaultFaultHandler)
	if err != nil {
		return value.PID{}, err
	}
	rt.submit(proc)
	rt.log.WithField("pid", pid.String()).Info("spawned process")
	return pid, nil
}

// lookup returns the live process for pid, or ok=false if it is unknown
// (already terminated and reclaimed, or never existed).
func (rt *Runtime) lookup(pid value.PID) (*process.Process, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	e, ok := rt.procs[pid]
	if !ok {
		return nil, false
	}
	return e.proc, true
}
