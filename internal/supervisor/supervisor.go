// Package supervisor implements the supervision trees of spec.md §4.7:
// ordered children, the OneForOne/OneForAll/RestForOne restart strategies,
// restart-intensity windows, and escalation when a supervisor's own
// intensity is exhausted.
//
// Grounded directly on ergonode's supervisor.go: Strategy/ChildRestart
// constants and names survive verbatim (OneForOne/OneForAll/RestForOne,
// Permanent/Transient/Temporary), haveToDisableChild survives as
// shouldRestart, and the EXIT-message switch in Supervisor.loop becomes
// HandleTermination's strategy switch — replacing ergonode's untyped
// etf.Tuple message loop with a typed call the runtime's termination hook
// makes directly, since this runtime does not route supervision events through
// the actor mailbox the way ergonode's EXIT signal does.
package supervisor

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coreactors/runtime/internal/process"
	"github.com/coreactors/runtime/internal/value"
)

// Strategy is the restart-strategy family of spec.md §4.7.
type Strategy uint8

const (
	OneForOne Strategy = iota
	OneForAll
	RestForOne
)

func (s Strategy) String() string {
	switch s {
	case OneForOne:
		return "one_for_one"
	case OneForAll:
		return "one_for_all"
	case RestForOne:
		return "rest_for_one"
	default:
		return "unknown"
	}
}

// ChildRestart is the restart eligibility policy of a child spec.
type ChildRestart uint8

const (
	Permanent ChildRestart = iota
	Transient
	Temporary
)

func (r ChildRestart) String() string {
	switch r {
	case Permanent:
		return "permanent"
	case Transient:
		return "transient"
	case Temporary:
		return "temporary"
	default:
		return "unknown"
	}
}

// ChildType distinguishes a plain worker from a nested supervisor, per
// spec.md §3's Child spec.
type ChildType uint8

const (
	ChildWorker ChildType = iota
	ChildSupervisor
)

// ChildSpec describes one supervised child in declaration order (spec.md
// §3's "Child spec").
type ChildSpec struct {
	ID              string
	Restart         ChildRestart
	ShutdownTimeout time.Duration
	Type            ChildType
	ProcessSpec     process.Spec
}

// Spec configures a Supervisor: its strategy and restart-intensity window,
// plus its ordered children (spec.md §3's "Supervisor spec").
type Spec struct {
	Name         string
	Strategy     Strategy
	MaxRestarts  uint16
	RestartWindow time.Duration
	Children     []ChildSpec
}

// Starter constructs and starts one child process from a spec, returning
// the live *process.Process the supervisor then owns. Supplied by
// internal/runtime so this package does not depend on the process table.
type Starter func(id string, spec process.Spec) (*process.Process, error)

// child pairs a spec with its currently running process (nil if removed by
// TerminateChild or disabled by restart policy).
type child struct {
	spec ChildSpec
	proc *process.Process
}

// Supervisor owns one ordered set of children and enacts spec.md §4.7's
// restart decisions as their processes fault.
type Supervisor struct {
	mu      sync.Mutex
	spec    Spec
	starter Starter
	log     *logrus.Entry

	children []*child

	restartCount int
	windowStart  time.Time
	shuttingDown bool

	onEscalate func(reason string)
}

// New constructs a Supervisor and starts every declared child in order.
func New(spec Spec, starter Starter, log *logrus.Entry) (*Supervisor, error) {
	sv := &Supervisor{
		spec:        spec,
		starter:     starter,
		log:         log,
		windowStart: time.Now(),
	}
	for _, cs := range spec.Children {
		proc, err := starter(cs.ID, cs.ProcessSpec)
		if err != nil {
			return nil, fmt.Errorf("supervisor: starting child %q: %w", cs.ID, err)
		}
		sv.children = append(sv.children, &child{spec: cs, proc: proc})
	}
	return sv, nil
}

// OnEscalate registers a hook invoked when this supervisor's own restart
// intensity is exhausted and it must terminate abnormally (spec.md §4.7's
// escalation mechanism): its parent handles that exactly like any other
// child termination.
func (sv *Supervisor) OnEscalate(f func(reason string)) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.onEscalate = f
}

// Children returns a snapshot of the currently running child PIDs, keyed by
// declared id, for ProcessInfo/diagnostics.
func (sv *Supervisor) Children() map[string]value.PID {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	out := make(map[string]value.PID, len(sv.children))
	for _, c := range sv.children {
		if c.proc != nil {
			out[c.spec.ID] = c.proc.Self()
		}
	}
	return out
}

// HandleTermination is invoked once a child has terminated (by
// internal/runtime's handleTerminated, the scheduler's OnTerminated hook,
// with the kind of the child's last fault as reason) with the terminated
// child's id and its
// termination reason ("normal" for a clean exit, any other string for an
// abnormal one). It enacts spec.md §4.7's strategy and intensity rules.
func (sv *Supervisor) HandleTermination(id string, reason string) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.shuttingDown {
		return
	}

	idx := sv.indexOf(id)
	if idx < 0 {
		return
	}

	var toRestart []int
	switch sv.spec.Strategy {
	case OneForOne:
		toRestart = []int{idx}
	case OneForAll:
		toRestart = sv.allIndices()
	case RestForOne:
		toRestart = sv.indicesFrom(idx)
	}

	if !sv.canRestart(time.Now()) {
		sv.shuttingDown = true
		escReason := fmt.Sprintf("restart intensity exhausted: %d restarts within %s", sv.spec.MaxRestarts, sv.spec.RestartWindow)
		if sv.log != nil {
			sv.log.WithField("supervisor", sv.spec.Name).Warn(escReason)
		}
		if sv.onEscalate != nil {
			sv.onEscalate(escReason)
		}
		return
	}

	for _, i := range toRestart {
		sv.restartChild(i, reason)
	}
}

// canRestart implements spec.md §4.7's can_restart(max_restarts, window):
// true (and resets the window) if the window has rolled over, otherwise
// true iff the running count is still under the limit.
func (sv *Supervisor) canRestart(now time.Time) bool {
	if sv.spec.RestartWindow > 0 && now.Sub(sv.windowStart) > sv.spec.RestartWindow {
		sv.restartCount = 0
		sv.windowStart = now
	}
	return sv.restartCount < int(sv.spec.MaxRestarts)
}

func (sv *Supervisor) restartChild(i int, reason string) {
	c := sv.children[i]
	if !sv.shouldRestart(c.spec.Restart, reason) {
		c.proc = nil
		return
	}
	proc, err := sv.starter(c.spec.ID, c.spec.ProcessSpec)
	if err != nil {
		if sv.log != nil {
			sv.log.WithField("child", c.spec.ID).WithField("error", err).Error("failed to restart child")
		}
		return
	}
	c.proc = proc
	sv.restartCount++
	if sv.log != nil {
		sv.log.WithFields(logrus.Fields{"supervisor": sv.spec.Name, "child": c.spec.ID, "strategy": sv.spec.Strategy.String()}).Info("restarted child")
	}
}

// shouldRestart implements spec.md §4.7's restart_policy rules, grounded on
// ergonode's haveToDisableChild (inverted: ergonode asks "should this
// child be left disabled", this asks "is it eligible to restart").
func (sv *Supervisor) shouldRestart(restart ChildRestart, reason string) bool {
	switch restart {
	case Permanent:
		return true
	case Transient:
		return reason != "normal" && reason != "shutdown"
	case Temporary:
		return false
	default:
		return false
	}
}

// StartChild adds a new child at runtime (SPEC_FULL §C8's dynamic-children
// supplement), appending it to the declaration order so RestForOne treats
// it as the last sibling.
func (sv *Supervisor) StartChild(spec ChildSpec) (value.PID, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	proc, err := sv.starter(spec.ID, spec.ProcessSpec)
	if err != nil {
		return value.PID{}, fmt.Errorf("supervisor: starting dynamic child %q: %w", spec.ID, err)
	}
	sv.children = append(sv.children, &child{spec: spec, proc: proc})
	return proc.Self(), nil
}

// TerminateChild removes a child by id without affecting its siblings,
// regardless of strategy — a targeted removal is not a strategy-triggering
// failure (SPEC_FULL §C8's supplement).
func (sv *Supervisor) TerminateChild(id string) error {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	idx := sv.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("supervisor: no such child %q", id)
	}
	c := sv.children[idx]
	if c.proc != nil {
		c.proc.Kill("terminated by supervisor")
	}
	sv.children = append(sv.children[:idx], sv.children[idx+1:]...)
	return nil
}

// Shutdown propagates termination top-down in reverse declaration order
// (spec.md §4.7's Shutdown rule): each child is sent Kill("shutdown") at
// once, then Shutdown waits up to its ShutdownTimeout (default 5s) for it to
// report StateTerminated before moving on. There is no graceful-stop phase
// before the kill.
func (sv *Supervisor) Shutdown() {
	sv.mu.Lock()
	sv.shuttingDown = true
	children := append([]*child(nil), sv.children...)
	sv.mu.Unlock()

	for i := len(children) - 1; i >= 0; i-- {
		c := children[i]
		if c.proc == nil {
			continue
		}
		timeout := c.spec.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		deadline := time.Now().Add(timeout)
		c.proc.Kill("shutdown")
		for time.Now().Before(deadline) && c.proc.State() != process.StateTerminated {
			time.Sleep(time.Millisecond)
		}
	}
}

func (sv *Supervisor) indexOf(id string) int {
	for i, c := range sv.children {
		if c.spec.ID == id {
			return i
		}
	}
	return -1
}

func (sv *Supervisor) allIndices() []int {
	out := make([]int, len(sv.children))
	for i := range sv.children {
		out[i] = i
	}
	return out
}

func (sv *Supervisor) indicesFrom(start int) []int {
	out := make([]int, 0, len(sv.children)-start)
	for i := start; i < len(sv.children); i++ {
		out = append(out, i)
	}
	return out
}
