package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreactors/runtime/internal/bounds"
	"github.com/coreactors/runtime/internal/bytecode"
	"github.com/coreactors/runtime/internal/memory"
	"github.com/coreactors/runtime/internal/value"
)

type fakeHost struct {
	self     value.PID
	sent     []sentMsg
	inbox    []value.Value
	spawned  []string
	printed  []value.Value
	readVals []value.Value
}

type sentMsg struct {
	to  value.PID
	msg value.Value
}

func newFakeHost() *fakeHost {
	return &fakeHost{self: value.NewPID()}
}

func (h *fakeHost) Self() value.PID { return h.self }

func (h *fakeHost) Spawn(entryFunction string, args []value.Value) (value.PID, error) {
	h.spawned = append(h.spawned, entryFunction)
	return value.NewPID(), nil
}

func (h *fakeHost) SendMessage(to value.PID, msg value.Value) error {
	h.sent = append(h.sent, sentMsg{to: to, msg: msg})
	return nil
}

func (h *fakeHost) ReceiveMessage() (value.Value, bool) {
	if len(h.inbox) == 0 {
		return value.Null, false
	}
	v := h.inbox[0]
	h.inbox = h.inbox[1:]
	return v, true
}

func (h *fakeHost) Link(value.PID) error { return nil }

func (h *fakeHost) Monitor(value.PID) (value.Value, error) {
	return value.Pid(value.NewPID()), nil
}

func (h *fakeHost) Print(v value.Value) { h.printed = append(h.printed, v) }

func (h *fakeHost) Read() (value.Value, error) {
	if len(h.readVals) == 0 {
		return value.Null, nil
	}
	v := h.readVals[0]
	h.readVals = h.readVals[1:]
	return v, nil
}

func addProgram() *bytecode.Program {
	p := &bytecode.Program{
		Metadata:  bytecode.Metadata{Name: "add"},
		Constants: []value.Value{value.Int(2), value.Int(3)},
		Instrs: []bytecode.Instruction{
			{Op: bytecode.OpConst, A: 0},
			{Op: bytecode.OpConst, A: 1},
			{Op: bytecode.OpAdd},
			{Op: bytecode.OpRet},
		},
		Functions: []bytecode.Function{
			{ID: 0, Name: "main", LocalCount: 0, StartPC: 0, InstrCount: 4, Grade: value.Pure},
		},
		Exports: map[string]uint32{"main": 0},
		Globals: bytecode.NewGlobals(0),
	}
	require_ := bytecode.Verify(p)
	if require_ != nil {
		panic(require_)
	}
	return p
}

func TestRunHaltsWithReturnValue(t *testing.T) {
	p := addProgram()
	host := newFakeHost()
	counters := bounds.NewCounters(bounds.Limits{}, 1000)
	counters.RefuelQuantum()
	machine := New(p, nil, host, counters, memory.New(4096))

	res := machine.Call("main", nil, 0)
	require.Equal(t, StatusHalted, res.Status)
	n, ok := res.Value.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(5), n)
}

func TestRunYieldsAtQuantumBoundary(t *testing.T) {
	p := addProgram()
	host := newFakeHost()
	counters := bounds.NewCounters(bounds.Limits{}, 1000)
	counters.RefuelQuantum()
	machine := New(p, nil, host, counters, memory.New(4096))

	res := machine.Call("main", nil, 2)
	require.Equal(t, StatusYielded, res.Status)

	res = machine.Resume(0)
	require.Equal(t, StatusHalted, res.Status)
	n, _ := res.Value.AsInt()
	assert.Equal(t, int64(5), n)
}

func branchProgram(takeTrue bool) *bytecode.Program {
	instrs := []bytecode.Instruction{
		{Op: bytecode.OpConst, A: 0}, // push condition
		{Op: bytecode.OpJumpIf, A: 5},
		{Op: bytecode.OpConst, A: 1}, // false branch: push 0
		{Op: bytecode.OpJump, A: 6},
		{Op: bytecode.OpNop}, // pad so true branch target (5) lands on Const
		{Op: bytecode.OpConst, A: 2}, // true branch: push 1
		{Op: bytecode.OpRet},
	}
	cond := value.Bool(false)
	if takeTrue {
		cond = value.Bool(true)
	}
	p := &bytecode.Program{
		Metadata:  bytecode.Metadata{Name: "branch"},
		Constants: []value.Value{cond, value.Int(0), value.Int(1)},
		Instrs:    instrs,
		Functions: []bytecode.Function{
			{ID: 0, Name: "main", LocalCount: 0, StartPC: 0, InstrCount: uint32(len(instrs)), Grade: value.Pure},
		},
		Exports: map[string]uint32{"main": 0},
		Globals: bytecode.NewGlobals(0),
	}
	return p
}

func TestJumpIfTakesTrueBranch(t *testing.T) {
	p := branchProgram(true)
	host := newFakeHost()
	counters := bounds.NewCounters(bounds.Limits{}, 1000)
	counters.RefuelQuantum()
	machine := New(p, nil, host, counters, memory.New(4096))
	res := machine.Call("main", nil, 0)
	require.Equal(t, StatusHalted, res.Status)
	n, _ := res.Value.AsInt()
	assert.Equal(t, int64(1), n)
}

func TestJumpIfFallsThroughOnFalse(t *testing.T) {
	p := branchProgram(false)
	host := newFakeHost()
	counters := bounds.NewCounters(bounds.Limits{}, 1000)
	counters.RefuelQuantum()
	machine := New(p, nil, host, counters, memory.New(4096))
	res := machine.Call("main", nil, 0)
	require.Equal(t, StatusHalted, res.Status)
	n, _ := res.Value.AsInt()
	assert.Equal(t, int64(0), n)
}

func sendProgram() *bytecode.Program {
	instrs := []bytecode.Instruction{
		{Op: bytecode.OpSelf},
		{Op: bytecode.OpConst, A: 0},
		{Op: bytecode.OpSendMessage},
		{Op: bytecode.OpConst, A: 0},
		{Op: bytecode.OpRet},
	}
	return &bytecode.Program{
		Metadata:  bytecode.Metadata{Name: "send"},
		Constants: []value.Value{value.Int(7)},
		Instrs:    instrs,
		Functions: []bytecode.Function{
			{ID: 0, Name: "main", LocalCount: 0, StartPC: 0, InstrCount: uint32(len(instrs)), Grade: value.Send},
		},
		Exports: map[string]uint32{"main": 0},
		Globals: bytecode.NewGlobals(0),
	}
}

func TestSendMessageInvokesHost(t *testing.T) {
	p := sendProgram()
	host := newFakeHost()
	counters := bounds.NewCounters(bounds.Limits{}, 1000)
	counters.RefuelQuantum()
	machine := New(p, nil, host, counters, memory.New(4096))
	res := machine.Call("main", nil, 0)
	require.Equal(t, StatusHalted, res.Status)
	require.Len(t, host.sent, 1)
	assert.Equal(t, host.self, host.sent[0].to)
	n, _ := host.sent[0].msg.AsInt()
	assert.Equal(t, int64(7), n)
}

func TestReceiveMessageBlocksThenResumes(t *testing.T) {
	instrs := []bytecode.Instruction{
		{Op: bytecode.OpReceiveMessage},
		{Op: bytecode.OpRet},
	}
	p := &bytecode.Program{
		Metadata: bytecode.Metadata{Name: "recv"},
		Instrs:   instrs,
		Functions: []bytecode.Function{
			{ID: 0, Name: "main", LocalCount: 0, StartPC: 0, InstrCount: uint32(len(instrs)), Grade: value.Read},
		},
		Exports: map[string]uint32{"main": 0},
		Globals: bytecode.NewGlobals(0),
	}
	host := newFakeHost()
	counters := bounds.NewCounters(bounds.Limits{}, 1000)
	counters.RefuelQuantum()
	machine := New(p, nil, host, counters, memory.New(4096))

	res := machine.Call("main", nil, 0)
	require.Equal(t, StatusWaiting, res.Status)

	host.inbox = append(host.inbox, value.Int(9))
	res = machine.Resume(0)
	require.Equal(t, StatusHalted, res.Status)
	n, _ := res.Value.AsInt()
	assert.Equal(t, int64(9), n)
}

func TestInstructionLimitFaults(t *testing.T) {
	p := addProgram()
	host := newFakeHost()
	counters := bounds.NewCounters(bounds.Limits{InstructionLimit: 2}, 1000)
	counters.RefuelQuantum()
	machine := New(p, nil, host, counters, memory.New(4096))
	res := machine.Call("main", nil, 0)
	require.Equal(t, StatusFaulted, res.Status)
	var fault *Fault
	require.ErrorAs(t, res.Err, &fault)
}

func TestCapabilityCeilingDeniesEffect(t *testing.T) {
	p := sendProgram()
	p.Metadata.WithCeiling(value.Pure)
	host := newFakeHost()
	counters := bounds.NewCounters(bounds.Limits{}, 1000)
	counters.RefuelQuantum()
	machine := New(p, nil, host, counters, memory.New(4096))
	res := machine.Call("main", nil, 0)
	require.Equal(t, StatusFaulted, res.Status)
	assert.ErrorIs(t, res.Err, ErrCapabilityDenied)
}
