// Package process implements the isolated process of spec.md §4.5: it
// binds a bytecode-backed behavior to an arena, a mailbox, bounded-execution
// counters, and a fault handler, and converts any execution error into a
// supervised lifecycle event instead of letting it escape to another
// process or the scheduler.
//
// Grounded directly on ergonode's Process (process.go): Self/Context/Kill/
// Exit survive as the isolated process's public lifecycle surface, and
// Send/Cast/Link/MonitorProcess survive as its message-passing API,
// generalized from routing through a registrar's etf.Term messages to
// routing typed value.Value messages through internal/mailbox, and from
// invoking a user-supplied Go closure to dispatching into internal/vm.
package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coreactors/runtime/internal/bounds"
	"github.com/coreactors/runtime/internal/bytecode"
	"github.com/coreactors/runtime/internal/mailbox"
	"github.com/coreactors/runtime/internal/memory"
	"github.com/coreactors/runtime/internal/value"
	"github.com/coreactors/runtime/internal/vm"
)

// nativeTier mirrors vm.NativeTier so this package can hold an optional JIT
// tier without importing internal/jit at the package-variable level
// (internal/jit.Tier satisfies it structurally).
type nativeTier = vm.NativeTier

// State is the process lifecycle state of spec.md §3 ("Running | Suspended |
// Waiting | Terminated"). Suspended means externally requested pause;
// Waiting means blocked on its own mailbox — the Open Question decision
// recorded in DESIGN.md.
type State uint8

const (
	StateRunning State = iota
	StateSuspended
	StateWaiting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateWaiting:
		return "waiting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// FaultKind enumerates the process fault taxonomy of spec.md §7.
type FaultKind uint8

const (
	FaultPanic FaultKind = iota
	FaultInfiniteLoop
	FaultOutOfMemory
	FaultMessageOverflow
	FaultSegmentationFault
	FaultInstructionLimit
	FaultTimeout
)

func (k FaultKind) String() string {
	switch k {
	case FaultPanic:
		return "Panic"
	case FaultInfiniteLoop:
		return "InfiniteLoop"
	case FaultOutOfMemory:
		return "OutOfMemory"
	case FaultMessageOverflow:
		return "MessageOverflow"
	case FaultSegmentationFault:
		return "SegmentationFault"
	case FaultInstructionLimit:
		return "InstructionLimit"
	case FaultTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Fault is the isolated-process view of an execution error (spec.md §7).
type Fault struct {
	Kind    FaultKind
	Message string
}

func (f *Fault) Error() string { return fmt.Sprintf("process: %s: %s", f.Kind, f.Message) }

// Action is the outcome of a fault handler (spec.md §4.5).
type Action uint8

const (
	ActionRestart Action = iota
	ActionKill
	ActionSuspend
	ActionEscalate
	ActionReplace
)

func (a Action) String() string {
	switch a {
	case ActionRestart:
		return "restart"
	case ActionKill:
		return "kill"
	case ActionSuspend:
		return "suspend"
	case ActionEscalate:
		return "escalate"
	case ActionReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// FaultHandler maps a fault to a recovery action. DefaultFaultHandler
// implements spec.md §4.5's default table; a supervisor may install a
// custom handler via WithFaultHandler.
type FaultHandler func(*Fault) Action

// DefaultFaultHandler implements spec.md §4.5's fault-to-action mapping.
func DefaultFaultHandler(f *Fault) Action {
	switch f.Kind {
	case FaultPanic:
		return ActionRestart
	case FaultInfiniteLoop:
		return ActionKill
	case FaultOutOfMemory:
		return ActionRestart
	case FaultMessageOverflow:
		return ActionSuspend
	case FaultSegmentationFault:
		return ActionKill
	case FaultInstructionLimit:
		return ActionRestart
	case FaultTimeout:
		return ActionRestart
	default:
		return ActionEscalate
	}
}

// Spec describes how to (re-)construct a process: its entry point and the
// resource bounds it runs under (spec.md §3's "Child spec", the bounds
// portion). Program is the module the process runs; a SpawnProcess opcode
// defaults it to the spawning process's own program (actors in this model
// are single-module), but the top-level facade Spawn may supply any
// registered program.
type Spec struct {
	Program       *bytecode.Program
	EntryFunction string
	Args          []value.Value
	Limits        bounds.Limits
	ArenaSize     uint32
	MailboxSize   int
	FuelPerQuantum int64
}

// Process is one isolated actor: a VM bound to its own arena, mailbox, and
// counters, plus the supervision plumbing (links/monitors) spec.md §4.6
// describes as installed via the Link/Monitor opcodes.
type Process struct {
	mu sync.Mutex

	pid   value.PID
	prog  *bytecode.Program
	registry *bytecode.Registry
	spec  Spec

	arena    *memory.Arena
	mailbox  *mailbox.Mailbox
	counters *bounds.Counters
	diverge  *bounds.Divergence
	machine  *vm.VM

	// nextRead is this process's own reader cursor into its mailbox (spec.md
	// §4.3's reader contract: "a reader never observes a message at version
	// v unless all versions <v it previously observed are still present").
	// Mailbox versions start at 1, so nextRead begins there; it advances
	// past the version most recently delivered to process_message/Receive so
	// the same message is never redelivered.
	nextRead uint64

	state State

	ctx    context.Context
	cancel context.CancelFunc

	faultHandler FaultHandler
	links        map[value.PID]struct{}
	monitors     map[value.PID]struct{}

	lastFault *Fault
	log       *logrus.Entry
	jitTier   nativeTier
}

// WithJIT installs the optional native tier (SPEC_FULL §C9) this process's
// VM consults before falling back to bytecode interpretation. If the VM
// already exists the tier is installed on it at once; otherwise it is
// installed when ensureMachine builds the VM (including after restart()).
func (p *Process) WithJIT(tier nativeTier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jitTier = tier
	if p.machine != nil {
		p.machine.SetJIT(tier)
	}
}

// Router is the minimal facade the process needs from internal/runtime to
// deliver messages and spawn children — kept narrow so this package does
// not import internal/runtime (spec.md §4.10 owns the full facade).
type Router interface {
	DeliverTo(to value.PID, msg value.Value) error
	SpawnChild(spec Spec) (value.PID, error)
	NotifyDown(watcher, subject value.PID, reason string)
}

// New constructs a Process in StateRunning, ready for its first
// process_message() dispatch.
func New(pid value.PID, prog *bytecode.Program, registry *bytecode.Registry, spec Spec, log *logrus.Entry) *Process {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Process{
		pid:      pid,
		prog:     prog,
		registry: registry,
		spec:     spec,
		arena:    memory.New(spec.ArenaSize),
		mailbox:  mailbox.New(pid, spec.MailboxSize),
		counters: bounds.NewCounters(spec.Limits, spec.FuelPerQuantum),
		diverge:  bounds.NewDivergence(spec.Limits.Timeout),
		nextRead: 1,
		state:    StateRunning,
		ctx:      ctx,
		cancel:   cancel,
		faultHandler: DefaultFaultHandler,
		links:    make(map[value.PID]struct{}),
		monitors: make(map[value.PID]struct{}),
		log:      log,
	}
	p.counters.RefuelQuantum()
	return p
}

// Self returns the process's own PID.
func (p *Process) Self() value.PID { return p.pid }

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// WithFaultHandler installs a custom fault handler (spec.md §4.5, "Custom
// handlers may override").
func (p *Process) WithFaultHandler(h FaultHandler) {
	p.mu.Lock()
	p.faultHandler = h
	p.mu.Unlock()
}

// Mailbox exposes the process's mailbox for delivery by the router.
func (p *Process) Mailbox() *mailbox.Mailbox { return p.mailbox }

// Kill cancels the process's context and transitions it to Terminated.
func (p *Process) Kill(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateTerminated
	p.cancel()
	if p.log != nil {
		p.log.WithField("reason", reason).Info("process killed")
	}
}

// Suspend pauses the process without tearing it down (externally requested,
// spec.md §3's Suspended state).
func (p *Process) Suspend() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateTerminated {
		p.state = StateSuspended
	}
}

// Resume moves a Suspended process back to Running.
func (p *Process) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateSuspended {
		p.state = StateRunning
	}
}

// Link installs a bidirectional link with other (spec.md §4.6).
func (p *Process) Link(other value.PID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.links[other] = struct{}{}
}

// Unlink removes a previously installed link.
func (p *Process) Unlink(other value.PID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.links, other)
}

// Monitor installs a one-way monitor of other.
func (p *Process) Monitor(other value.PID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.monitors[other] = struct{}{}
}

// Links returns a snapshot of linked PIDs, for ProcessInfo and supervisor
// fan-out of exit signals.
func (p *Process) Links() []value.PID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]value.PID, 0, len(p.links))
	for pid := range p.links {
		out = append(out, pid)
	}
	return out
}

// LastFault returns the most recent fault observed, or nil.
func (p *Process) LastFault() *Fault {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastFault
}

// Info is the diagnostic snapshot returned by process_info (spec.md §4.10).
type Info struct {
	PID             value.PID
	State           State
	MailboxLen      int
	Links           []value.PID
	Counters        bounds.Snapshot
	CurrentFunction string
	LastFault       *Fault
}

// Info returns a point-in-time diagnostic snapshot.
func (p *Process) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	links := make([]value.PID, 0, len(p.links))
	for pid := range p.links {
		links = append(links, pid)
	}
	return Info{
		PID:             p.pid,
		State:           p.state,
		MailboxLen:      p.mailbox.Len(),
		Links:           links,
		Counters:        p.counters.Snapshot(),
		CurrentFunction: p.spec.EntryFunction,
		LastFault:       p.lastFault,
	}
}

// ensureMachine lazily constructs the bound VM the first time it is needed
// (restart() rebuilds it from scratch against a fresh arena).
func (p *Process) ensureMachine(router Router) {
	if p.machine == nil {
		host := &processHost{process: p, router: router}
		p.machine = vm.New(p.prog, p.registry, host, p.counters, p.arena)
		if p.jitTier != nil {
			p.machine.SetJIT(p.jitTier)
		}
	}
}

// nextMessage dequeues the oldest still-unconsumed message using this
// process's own read cursor (spec.md §4.3) and advances the cursor past the
// version returned, so the same message is never redelivered and a message
// at a later version is never skipped.
func (p *Process) nextMessage() (mailbox.Message, bool) {
	p.mu.Lock()
	from := p.nextRead
	p.mu.Unlock()

	msgs := p.mailbox.Receive(from)
	if len(msgs) == 0 {
		return mailbox.Message{}, false
	}
	msg := msgs[0]

	p.mu.Lock()
	if msg.Version >= p.nextRead {
		p.nextRead = msg.Version + 1
	}
	p.mu.Unlock()
	return msg, true
}

// ProcessMessage implements spec.md §4.5's process_message() contract: it
// dequeues at most one message, runs the behavior's entry function against
// it inside the VM, and on error invokes the fault handler. handleFault has
// already enacted Restart, Suspend or Kill by the time the action is
// returned; the caller (the scheduler worker) only observes it. A Go panic
// raised while dispatching is recovered and handled as a FaultPanic.
func (p *Process) ProcessMessage(router Router, quantumInstrs uint64) (acted bool, action Action, fault *Fault) {
	defer func() {
		if r := recover(); r != nil {
			acted, action, fault = p.handleFault(&Fault{Kind: FaultPanic, Message: fmt.Sprint(r)})
		}
	}()

	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return false, 0, nil
	}
	p.mu.Unlock()

	p.ensureMachine(router)

	msg, ok := p.nextMessage()
	if !ok {
		p.mu.Lock()
		p.state = StateWaiting
		p.mu.Unlock()
		return false, 0, nil
	}

	if err := p.counters.AddMessage(); err != nil {
		return p.handleFault(faultFromError(err))
	}

	p.counters.RefuelQuantum()
	entry := p.spec.EntryFunction
	if entry == "" {
		entry = "main"
	}
	result := p.machine.Call(entry, []value.Value{msg.Payload.Value}, quantumInstrs)
	p.diverge.RecordProgress(time.Now())

	switch result.Status {
	case vm.StatusHalted:
		p.mu.Lock()
		p.state = StateRunning
		p.mu.Unlock()
		return false, 0, nil
	case vm.StatusYielded:
		p.mu.Lock()
		p.state = StateRunning
		p.mu.Unlock()
		return false, 0, nil
	case vm.StatusWaiting:
		p.mu.Lock()
		p.state = StateWaiting
		p.mu.Unlock()
		return false, 0, nil
	case vm.StatusFaulted:
		return p.handleFault(faultFromError(result.Err))
	default:
		return false, 0, nil
	}
}

func (p *Process) handleFault(f *Fault) (bool, Action, *Fault) {
	p.mu.Lock()
	p.lastFault = f
	handler := p.faultHandler
	p.mu.Unlock()

	action := handler(f)
	if p.log != nil {
		p.log.WithFields(logrus.Fields{"fault": f.Kind.String(), "action": action.String()}).Warn("process fault")
	}

	switch action {
	case ActionRestart:
		p.restart()
	case ActionSuspend:
		p.Suspend()
	case ActionKill:
		p.Kill(f.Error())
	}
	return true, action, f
}

// CheckDivergence is called by the scheduler's background watchdog sweep
// (spec.md §4.4(3)); a stalled Running process is converted to an
// InfiniteLoop fault and handled like any other.
func (p *Process) CheckDivergence(now time.Time) {
	p.mu.Lock()
	running := p.state == StateRunning
	p.mu.Unlock()
	if !running {
		return
	}
	if err := p.diverge.Check(now); err != nil {
		p.handleFault(faultFromError(err))
	}
}

// ForceRestart restarts the process outside of fault handling, for the
// management-surface Restart command (spec.md §4.10).
func (p *Process) ForceRestart() {
	p.restart()
}

// restart implements spec.md §4.5's restart(): reset counters, drop and
// re-create the arena with the same layout, clear the mailbox, transition
// to Running. "Re-initializes the actor to its declared start state" is
// satisfied by dropping the VM so ensureMachine rebuilds a fresh one on the
// next ProcessMessage call.
func (p *Process) restart() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.arena.Release(); err != nil && p.log != nil {
		p.log.WithField("error", err).Warn("guard region corrupted on arena release")
	}
	p.arena = memory.New(p.spec.ArenaSize)
	p.counters.Reset()
	p.counters.RefuelQuantum()
	p.mailbox.Clear()
	p.nextRead = 1
	p.machine = nil
	p.state = StateRunning
}

func faultFromError(err error) *Fault {
	if err == nil {
		return &Fault{Kind: FaultPanic, Message: "unknown fault"}
	}
	var boundsErr *bounds.Exceeded
	if errors.As(err, &boundsErr) {
		switch boundsErr.Kind {
		case bounds.KindInstructionLimit:
			return &Fault{Kind: FaultInstructionLimit, Message: err.Error()}
		case bounds.KindOutOfMemory:
			return &Fault{Kind: FaultOutOfMemory, Message: err.Error()}
		case bounds.KindMessageOverflow:
			return &Fault{Kind: FaultMessageOverflow, Message: err.Error()}
		case bounds.KindFuelExhaustion:
			return &Fault{Kind: FaultInstructionLimit, Message: err.Error()}
		case bounds.KindDivergence:
			return &Fault{Kind: FaultInfiniteLoop, Message: err.Error()}
		}
	}
	if errors.Is(err, memory.ErrSegmentationFault) {
		return &Fault{Kind: FaultSegmentationFault, Message: err.Error()}
	}
	return &Fault{Kind: FaultPanic, Message: err.Error()}
}
