package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreactors/runtime/internal/bounds"
	"github.com/coreactors/runtime/internal/bytecode"
	"github.com/coreactors/runtime/internal/process"
	"github.com/coreactors/runtime/internal/supervisor"
	"github.com/coreactors/runtime/internal/value"
)

func echoProgram(name string) *bytecode.Program {
	instrs := []bytecode.Instruction{
		{Op: bytecode.OpLoad, A: 0},
		{Op: bytecode.OpRet},
	}
	return &bytecode.Program{
		Metadata: bytecode.Metadata{Name: name},
		Instrs:   instrs,
		Functions: []bytecode.Function{
			{ID: 0, Name: "main", ParamCount: 1, LocalCount: 1, StartPC: 0, InstrCount: uint32(len(instrs)), Grade: value.Read},
		},
		Exports: map[string]uint32{"main": 0},
		Globals: bytecode.NewGlobals(0),
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func newTestRuntime(t *testing.T) *Runtime {
	rt := New(WithWorkers(2), WithGCInterval(5*time.Millisecond), WithDivergenceSweep(5*time.Millisecond))
	rt.Start()
	t.Cleanup(rt.Shutdown)
	return rt
}

func TestSpawnAndSend(t *testing.T) {
	rt := newTestRuntime(t)
	prog := echoProgram("echo")
	require.NoError(t, rt.Registry().Load(prog))

	pid, err := rt.Spawn(process.Spec{Program: prog, EntryFunction: "main"})
	require.NoError(t, err)
	require.NoError(t, rt.Send(pid, value.Int(7)))

	waitFor(t, time.Second, func() bool {
		info, err := rt.ProcessInfo(pid)
		return err == nil && info.Counters.Messages >= 1
	})
}

func TestMonitorFiresDownOnTerminate(t *testing.T) {
	rt := newTestRuntime(t)
	prog := echoProgram("echo")
	require.NoError(t, rt.Registry().Load(prog))

	watcher, err := rt.Spawn(process.Spec{Program: prog, EntryFunction: "main", MailboxSize: 4})
	require.NoError(t, err)
	subject, err := rt.Spawn(process.Spec{Program: prog, EntryFunction: "main"})
	require.NoError(t, err)

	_, err = rt.Monitor(watcher, subject)
	require.NoError(t, err)

	require.NoError(t, rt.Terminate(subject, "test done"))

	watcherProc, ok := rt.lookup(watcher)
	require.True(t, ok)
	waitFor(t, time.Second, func() bool { return watcherProc.Mailbox().Len() > 0 })
}

func TestLinkNotifiesOnTerminate(t *testing.T) {
	rt := newTestRuntime(t)
	prog := echoProgram("echo")
	require.NoError(t, rt.Registry().Load(prog))

	a, err := rt.Spawn(process.Spec{Program: prog, EntryFunction: "main", MailboxSize: 4})
	require.NoError(t, err)
	b, err := rt.Spawn(process.Spec{Program: prog, EntryFunction: "main"})
	require.NoError(t, err)

	require.NoError(t, rt.Link(a, b))
	require.NoError(t, rt.Terminate(b, "boom"))

	aProc, ok := rt.lookup(a)
	require.True(t, ok)
	waitFor(t, time.Second, func() bool { return aProc.Mailbox().Len() > 0 })
}

func TestSuspendResume(t *testing.T) {
	rt := newTestRuntime(t)
	prog := echoProgram("echo")
	require.NoError(t, rt.Registry().Load(prog))

	pid, err := rt.Spawn(process.Spec{Program: prog, EntryFunction: "main"})
	require.NoError(t, err)

	require.NoError(t, rt.Suspend(pid))
	info, err := rt.ProcessInfo(pid)
	require.NoError(t, err)
	assert.Equal(t, process.StateSuspended, info.State)

	require.NoError(t, rt.Resume(pid))
	waitFor(t, time.Second, func() bool {
		info, err := rt.ProcessInfo(pid)
		return err == nil && info.State != process.StateSuspended
	})
}

func TestSupervisorRestartsFaultedChildOneForOne(t *testing.T) {
	rt := newTestRuntime(t)
	prog := echoProgram("echo")
	require.NoError(t, rt.Registry().Load(prog))

	spec := supervisor.Spec{
		Name:          "sup-one",
		Strategy:      supervisor.OneForOne,
		MaxRestarts:   3,
		RestartWindow: time.Second,
		Children: []supervisor.ChildSpec{
			{
				ID:      "worker",
				Restart: supervisor.Permanent,
				ProcessSpec: process.Spec{
					Program:       prog,
					EntryFunction: "main",
					Limits:        bounds.Limits{InstructionLimit: 1},
				},
			},
		},
	}
	sv, err := rt.StartSupervisor(spec)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.StopSupervisor("sup-one") })

	children := sv.Children()
	original, ok := children["worker"]
	require.True(t, ok)

	require.NoError(t, rt.Send(original, value.Int(1)))

	waitFor(t, 2*time.Second, func() bool {
		children := sv.Children()
		next, ok := children["worker"]
		return ok && next != original
	})
}

func TestListProcessesReflectsLiveSet(t *testing.T) {
	rt := newTestRuntime(t)
	prog := echoProgram("echo")
	require.NoError(t, rt.Registry().Load(prog))

	pid, err := rt.Spawn(process.Spec{Program: prog, EntryFunction: "main"})
	require.NoError(t, err)

	found := false
	for _, p := range rt.ListProcesses() {
		if p == pid {
			found = true
		}
	}
	assert.True(t, found)
}

func TestGCReclaimsTerminatedProcess(t *testing.T) {
	rt := newTestRuntime(t)
	prog := echoProgram("echo")
	require.NoError(t, rt.Registry().Load(prog))

	pid, err := rt.Spawn(process.Spec{Program: prog, EntryFunction: "main"})
	require.NoError(t, err)
	require.NoError(t, rt.Terminate(pid, "bye"))

	waitFor(t, time.Second, func() bool {
		_, ok := rt.lookup(pid)
		return !ok
	})
}

func TestStatsReflectActivity(t *testing.T) {
	rt := newTestRuntime(t)
	prog := echoProgram("echo")
	require.NoError(t, rt.Registry().Load(prog))

	_, err := rt.Spawn(process.Spec{Program: prog, EntryFunction: "main"})
	require.NoError(t, err)

	stats := rt.Stats()
	assert.GreaterOrEqual(t, stats.LiveProcesses, 1)
}
