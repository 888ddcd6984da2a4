package supervisor

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreactors/runtime/internal/bytecode"
	"github.com/coreactors/runtime/internal/process"
	"github.com/coreactors/runtime/internal/value"
)

func echoProgram() *bytecode.Program {
	instrs := []bytecode.Instruction{
		{Op: bytecode.OpLoad, A: 0},
		{Op: bytecode.OpRet},
	}
	return &bytecode.Program{
		Metadata: bytecode.Metadata{Name: "echo"},
		Instrs:   instrs,
		Functions: []bytecode.Function{
			{ID: 0, Name: "main", ParamCount: 1, LocalCount: 1, StartPC: 0, InstrCount: uint32(len(instrs)), Grade: value.Read},
		},
		Exports: map[string]uint32{"main": 0},
		Globals: bytecode.NewGlobals(0),
	}
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func testSpec(name string) process.Spec {
	return process.Spec{
		EntryFunction:  "main",
		ArenaSize:      4096,
		MailboxSize:    16,
		FuelPerQuantum: 10000,
	}
}

func countingStarter(t *testing.T, starts map[string]int) Starter {
	t.Helper()
	return func(id string, spec process.Spec) (*process.Process, error) {
		starts[id]++
		return process.New(value.NewPID(), echoProgram(), nil, spec, testLogger()), nil
	}
}

func childSpecs(ids ...string) []ChildSpec {
	out := make([]ChildSpec, len(ids))
	for i, id := range ids {
		out[i] = ChildSpec{ID: id, Restart: Permanent, ProcessSpec: testSpec(id)}
	}
	return out
}

func TestOneForOneRestartsOnlyTheFailedChild(t *testing.T) {
	starts := map[string]int{}
	sv, err := New(Spec{
		Name:          "s",
		Strategy:      OneForOne,
		MaxRestarts:   3,
		RestartWindow: time.Minute,
		Children:      childSpecs("a", "b"),
	}, countingStarter(t, starts), testLogger())
	require.NoError(t, err)

	before := sv.Children()["b"]
	sv.HandleTermination("a", "boom")

	assert.Equal(t, 2, starts["a"], "a started once initially, once on restart")
	assert.Equal(t, 1, starts["b"], "b was not restarted")
	assert.Equal(t, before, sv.Children()["b"], "b's pid is unchanged")
}

func TestOneForAllRestartsEveryChildInOrder(t *testing.T) {
	starts := map[string]int{}
	sv, err := New(Spec{
		Name:          "s",
		Strategy:      OneForAll,
		MaxRestarts:   3,
		RestartWindow: time.Minute,
		Children:      childSpecs("a", "b"),
	}, countingStarter(t, starts), testLogger())
	require.NoError(t, err)

	sv.HandleTermination("a", "boom")

	assert.Equal(t, 2, starts["a"])
	assert.Equal(t, 2, starts["b"], "OneForAll restarts every sibling")
}

func TestRestForOneRestartsFailedAndLaterSiblingsOnly(t *testing.T) {
	starts := map[string]int{}
	sv, err := New(Spec{
		Name:          "s",
		Strategy:      RestForOne,
		MaxRestarts:   3,
		RestartWindow: time.Minute,
		Children:      childSpecs("a", "b", "c"),
	}, countingStarter(t, starts), testLogger())
	require.NoError(t, err)

	sv.HandleTermination("b", "boom")

	assert.Equal(t, 1, starts["a"], "children declared before the failure are untouched")
	assert.Equal(t, 2, starts["b"])
	assert.Equal(t, 2, starts["c"], "children declared after the failure restart too")
}

func TestRestartIntensityExhaustionEscalates(t *testing.T) {
	starts := map[string]int{}
	sv, err := New(Spec{
		Name:          "s",
		Strategy:      OneForOne,
		MaxRestarts:   2,
		RestartWindow: time.Minute,
		Children:      childSpecs("a"),
	}, countingStarter(t, starts), testLogger())
	require.NoError(t, err)

	var escalated string
	sv.OnEscalate(func(reason string) { escalated = reason })

	sv.HandleTermination("a", "boom")
	sv.HandleTermination("a", "boom")
	assert.Empty(t, escalated)

	sv.HandleTermination("a", "boom")
	assert.NotEmpty(t, escalated, "the third restart within the window should exceed max_restarts=2")
}

func TestRestartIntensityWindowRollsOver(t *testing.T) {
	starts := map[string]int{}
	sv, err := New(Spec{
		Name:          "s",
		Strategy:      OneForOne,
		MaxRestarts:   1,
		RestartWindow: time.Millisecond,
		Children:      childSpecs("a"),
	}, countingStarter(t, starts), testLogger())
	require.NoError(t, err)

	var escalated string
	sv.OnEscalate(func(reason string) { escalated = reason })

	sv.HandleTermination("a", "boom")
	time.Sleep(5 * time.Millisecond)
	sv.HandleTermination("a", "boom")

	assert.Empty(t, escalated, "the window rolled over so intensity should have reset")
	assert.Equal(t, 3, starts["a"])
}

func TestTemporaryChildIsNeverRestarted(t *testing.T) {
	starts := map[string]int{}
	sv, err := New(Spec{
		Name:          "s",
		Strategy:      OneForOne,
		MaxRestarts:   3,
		RestartWindow: time.Minute,
		Children:      []ChildSpec{{ID: "a", Restart: Temporary, ProcessSpec: testSpec("a")}},
	}, countingStarter(t, starts), testLogger())
	require.NoError(t, err)

	sv.HandleTermination("a", "boom")
	assert.Equal(t, 1, starts["a"], "temporary children are never restarted")
	assert.Equal(t, value.PID{}, sv.Children()["a"])
}

func TestTransientChildRestartsOnlyOnAbnormalReason(t *testing.T) {
	starts := map[string]int{}
	sv, err := New(Spec{
		Name:          "s",
		Strategy:      OneForOne,
		MaxRestarts:   3,
		RestartWindow: time.Minute,
		Children:      []ChildSpec{{ID: "a", Restart: Transient, ProcessSpec: testSpec("a")}},
	}, countingStarter(t, starts), testLogger())
	require.NoError(t, err)

	sv.HandleTermination("a", "normal")
	assert.Equal(t, 1, starts["a"], "a normal exit does not restart a transient child")

	sv.HandleTermination("a", "boom")
	assert.Equal(t, 2, starts["a"], "an abnormal exit does restart a transient child")
}

func TestStartChildAndTerminateChild(t *testing.T) {
	starts := map[string]int{}
	sv, err := New(Spec{Name: "s", Strategy: OneForOne, MaxRestarts: 3, RestartWindow: time.Minute}, countingStarter(t, starts), testLogger())
	require.NoError(t, err)

	pid, err := sv.StartChild(ChildSpec{ID: "dyn", Restart: Permanent, ProcessSpec: testSpec("dyn")})
	require.NoError(t, err)
	assert.Equal(t, pid, sv.Children()["dyn"])

	require.NoError(t, sv.TerminateChild("dyn"))
	assert.NotContains(t, sv.Children(), "dyn")

	err = sv.TerminateChild("dyn")
	assert.Error(t, err)
}

func TestShutdownTerminatesEveryChild(t *testing.T) {
	starts := map[string]int{}
	sv, err := New(Spec{
		Name:          "s",
		Strategy:      OneForOne,
		MaxRestarts:   3,
		RestartWindow: time.Minute,
		Children:      childSpecs("a", "b"),
	}, countingStarter(t, starts), testLogger())
	require.NoError(t, err)

	sv.Shutdown()
	for _, pid := range sv.Children() {
		_ = pid
	}
	for _, c := range sv.children {
		assert.Equal(t, process.StateTerminated, c.proc.State(), "child %s terminated", c.spec.ID)
	}
}
