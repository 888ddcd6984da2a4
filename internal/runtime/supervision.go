package runtime

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/coreactors/runtime/internal/process"
	"github.com/coreactors/runtime/internal/supervisor"
	"github.com/coreactors/runtime/internal/value"
)

// supervisedFaultHandler always escalates (maps every fault to Kill) so the
// process never self-heals via process.DefaultFaultHandler's per-fault
// table; instead it terminates and the facade's OnTerminated hook hands the
// decision to the owning supervisor, which is the only place spec.md §2/§4.7
// say the restart/kill/escalate decision belongs once a process is under
// supervision. This is the Open Question decision recorded in DESIGN.md:
// standalone processes spawned directly via Spawn/SpawnChild keep
// process.DefaultFaultHandler's self-healing behavior; supervised children
// always defer to their supervisor.
func supervisedFaultHandler(*process.Fault) process.Action {
	return process.ActionKill
}

// StartSupervisor constructs and starts a supervisor tree rooted at spec,
// registering it under spec.Name so faults in its children are routed back
// to it (spec.md §4.7). Every child in spec.Children is started
// immediately, in declared order, exactly as supervisor.New does.
func (rt *Runtime) StartSupervisor(spec supervisor.Spec) (*supervisor.Supervisor, error) {
	rt.mu.Lock()
	if _, exists := rt.supervisors[spec.Name]; exists {
		rt.mu.Unlock()
		return nil, fmt.Errorf("runtime: supervisor %q already started", spec.Name)
	}
	rt.mu.Unlock()

	starter := rt.supervisorStarter(spec.Name)
	sv, err := supervisor.New(spec, starter, rt.log.WithField("supervisor", spec.Name))
	if err != nil {
		return nil, err
	}
	sv.OnEscalate(func(reason string) {
		rt.log.WithFields(logrus.Fields{"supervisor": spec.Name, "reason": reason}).
			Error("supervisor restart intensity exhausted, tree terminated")
	})

	rt.mu.Lock()
	rt.supervisors[spec.Name] = sv
	rt.mu.Unlock()

	rt.log.WithField("supervisor", spec.Name).Info("supervisor started")
	return sv, nil
}

// supervisorStarter builds the supervisor.Starter closure for a supervisor
// named name: it constructs a process under the always-escalate fault
// handler, records its owner for the OnTerminated hook, and submits it to
// the scheduler.
func (rt *Runtime) supervisorStarter(name string) supervisor.Starter {
	return func(id string, spec process.Spec) (*process.Process, error) {
		pid, proc, err := rt.newProcess(spec, supervisedFaultHandler)
		if err != nil {
			return nil, err
		}
		rt.mu.Lock()
		rt.owners[pid] = ownerInfo{supervisorName: name, childID: id}
		rt.mu.Unlock()
		rt.submit(proc)
		return proc, nil
	}
}

// StopSupervisor shuts down a named supervisor tree and forgets it.
func (rt *Runtime) StopSupervisor(name string) error {
	rt.mu.Lock()
	sv, ok := rt.supervisors[name]
	if ok {
		delete(rt.supervisors, name)
	}
	rt.mu.Unlock()
	if !ok {
		return fmt.Errorf("runtime: no such supervisor %q", name)
	}
	sv.Shutdown()
	return nil
}

// Supervisor returns the named supervisor, for callers that want to call
// StartChild/TerminateChild directly (SPEC_FULL §C8's dynamic-children
// supplement).
func (rt *Runtime) Supervisor(name string) (*supervisor.Supervisor, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	sv, ok := rt.supervisors[name]
	return sv, ok
}

// handleTerminated is the scheduler's OnTerminated hook (spec.md §2's
// "fault handler... visible to users as a lifecycle event"). It fires the
// down notification for every pending monitor of pid, hands the
// termination reason to pid's owning supervisor if it has one, and enqueues
// the process for GC reclamation (spec.md §4.9).
func (rt *Runtime) handleTerminated(pid value.PID) {
	rt.mu.RLock()
	entry, ok := rt.procs[pid]
	owner, owned := rt.owners[pid]
	rt.mu.RUnlock()
	if !ok {
		return
	}

	reason := "normal"
	if f := entry.proc.LastFault(); f != nil {
		reason = f.Kind.String()
	}

	rt.fireMonitors(pid, reason)

	if owned {
		rt.mu.RLock()
		sv, svOK := rt.supervisors[owner.supervisorName]
		rt.mu.RUnlock()
		if svOK {
			sv.HandleTermination(owner.childID, reason)
		}
		rt.mu.Lock()
		delete(rt.owners, pid)
		rt.mu.Unlock()
	}

	rt.stats.processTerminated()
	rt.gc.enqueue(pid)
}

func (rt *Runtime) fireMonitors(subject value.PID, reason string) {
	rt.mu.Lock()
	var fired []monitorEntry
	for ref, m := range rt.monitors {
		if m.subject == subject {
			fired = append(fired, m)
			delete(rt.monitors, ref)
		}
	}
	rt.mu.Unlock()

	for _, m := range fired {
		rt.NotifyDown(m.watcher, subject, reason)
	}
}
