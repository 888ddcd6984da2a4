package runtime

import (
	"fmt"

	"github.com/coreactors/runtime/internal/mailbox"
	"github.com/coreactors/runtime/internal/process"
	"github.com/coreactors/runtime/internal/value"
)

// Send implements spec.md §4.9's send(pid, payload): it delivers payload to
// pid's mailbox as an externally-originated message (sender is the nil PID,
// since the caller is not itself a supervised process).
func (rt *Runtime) Send(pid value.PID, payload value.Value) error {
	return rt.deliverFrom(value.NilPID, pid, payload)
}

func (rt *Runtime) deliverFrom(from, to value.PID, payload value.Value) error {
	proc, ok := rt.lookup(to)
	if !ok {
		return fmt.Errorf("runtime: unknown pid %s", to)
	}
	if _, err := proc.Mailbox().Send(from, mailbox.Payload{Value: payload}); err != nil {
		rt.stats.messageDropped()
		return err
	}
	rt.stats.messageDelivered()
	return nil
}

// DeliverTo implements process.Router for messages originated by a running
// process's SendMessage instruction (spec.md §4.1). The VM/Host contract
// does not thread a sender PID through to Router, so these deliveries
// record the nil PID as sender — the mailbox's version ordering guarantee
// still holds (spec.md §4.3), only the Sender field is unavailable for
// messages sent this way; facade-level Send has the same limitation for the
// same reason.
func (rt *Runtime) DeliverTo(to value.PID, msg value.Value) error {
	return rt.deliverFrom(value.NilPID, to, msg)
}

// SpawnChild implements process.Router: a running process's SpawnProcess
// instruction spawns a new, unsupervised standalone process (spec.md §9:
// "dispatch is a table lookup, not virtual-method resolution" — there is no
// supervisor strategy attached to a VM-initiated spawn).
func (rt *Runtime) SpawnChild(spec process.Spec) (value.PID, error) {
	pid, proc, err := rt.newProcess(spec, process.DefaultFaultHandler)
	if err != nil {
		return value.PID{}, err
	}
	rt.submit(proc)
	return pid, nil
}

// NotifyDown implements process.Router: deliver a typed Down system message
// to watcher's mailbox reporting subject's termination reason (spec.md §3's
// "down" system message kind).
func (rt *Runtime) NotifyDown(watcher, subject value.PID, reason string) {
	proc, ok := rt.lookup(watcher)
	if !ok {
		return
	}
	_, _ = proc.Mailbox().Send(subject, mailbox.Payload{System: &mailbox.SystemMessage{
		Kind:   mailbox.SysDown,
		From:   subject,
		Reason: reason,
	}})
}

// Monitor implements spec.md §4.9's monitor(pid) -> ref: watcher receives a
// one-shot Down notification when subject terminates. The returned ref is
// used by Demonitor to cancel the subscription before it fires.
func (rt *Runtime) Monitor(watcher, subject value.PID) (uint64, error) {
	if _, ok := rt.lookup(subject); !ok {
		return 0, fmt.Errorf("runtime: unknown pid %s", subject)
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.nextMonitor++
	ref := rt.nextMonitor
	rt.monitors[ref] = monitorEntry{watcher: watcher, subject: subject}
	return ref, nil
}

// Demonitor implements spec.md §4.9's demonitor(ref): cancels a pending
// monitor subscription.
func (rt *Runtime) Demonitor(ref uint64) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.monitors, ref)
}

// Link implements spec.md §4.9's link(pid)/unlink(pid): installs a
// bidirectional link between a and b.
func (rt *Runtime) Link(a, b value.PID) error {
	pa, ok := rt.lookup(a)
	if !ok {
		return fmt.Errorf("runtime: unknown pid %s", a)
	}
	pb, ok := rt.lookup(b)
	if !ok {
		return fmt.Errorf("runtime: unknown pid %s", b)
	}
	pa.Link(b)
	pb.Link(a)
	return nil
}

// Unlink removes a previously installed bidirectional link.
func (rt *Runtime) Unlink(a, b value.PID) error {
	pa, ok := rt.lookup(a)
	if !ok {
		return fmt.Errorf("runtime: unknown pid %s", a)
	}
	pb, ok := rt.lookup(b)
	if !ok {
		return fmt.Errorf("runtime: unknown pid %s", b)
	}
	pa.Unlink(b)
	pb.Unlink(a)
	return nil
}

// Terminate implements spec.md §4.9's terminate(pid): an explicit,
// non-fault kill. Links fire a "down" notification to every linked peer,
// matching ergonode's Link/EXIT propagation (process.go).
func (rt *Runtime) Terminate(pid value.PID, reason string) error {
	proc, ok := rt.lookup(pid)
	if !ok {
		return fmt.Errorf("runtime: unknown pid %s", pid)
	}
	links := proc.Links()
	proc.Kill(reason)
	for _, l := range links {
		rt.NotifyDown(l, pid, reason)
	}
	return nil
}

// Suspend implements the management-surface Suspend command (spec.md
// §4.10): externally pause a process without tearing it down. A suspended
// process is dropped from every scheduler queue; Resume must be called to
// make it runnable again.
func (rt *Runtime) Suspend(pid value.PID) error {
	proc, ok := rt.lookup(pid)
	if !ok {
		return fmt.Errorf("runtime: unknown pid %s", pid)
	}
	proc.Suspend()
	rt.sched.Forget(pid)
	return nil
}

// Resume implements the management-surface Resume command: moves a
// Suspended process back to Running and resubmits it to the scheduler.
func (rt *Runtime) Resume(pid value.PID) error {
	proc, ok := rt.lookup(pid)
	if !ok {
		return fmt.Errorf("runtime: unknown pid %s", pid)
	}
	proc.Resume()
	rt.submit(proc)
	return nil
}

// Restart implements the management-surface Restart command: forces the
// same restart() path a fault-driven Restart action takes, without waiting
// for a fault.
func (rt *Runtime) Restart(pid value.PID) error {
	proc, ok := rt.lookup(pid)
	if !ok {
		return fmt.Errorf("runtime: unknown pid %s", pid)
	}
	proc.ForceRestart()
	rt.submit(proc)
	return nil
}

// InjectMessage implements the management-surface Send command: identical
// to Send, named separately because the control-channel protocol (C11)
// exposes it as its own command (spec.md §4.10).
func (rt *Runtime) InjectMessage(pid value.PID, payload value.Value) error {
	return rt.Send(pid, payload)
}

// ListProcesses implements spec.md §4.9's list_processes() -> [pid].
func (rt *Runtime) ListProcesses() []value.PID {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]value.PID, 0, len(rt.procs))
	for pid := range rt.procs {
		out = append(out, pid)
	}
	return out
}

// ProcessInfo implements spec.md §4.9's process_info(pid) -> ProcessInfo.
func (rt *Runtime) ProcessInfo(pid value.PID) (process.Info, error) {
	proc, ok := rt.lookup(pid)
	if !ok {
		return process.Info{}, fmt.Errorf("runtime: unknown pid %s", pid)
	}
	return proc.Info(), nil
}
