package jit

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreactors/runtime/internal/bytecode"
	"github.com/coreactors/runtime/internal/value"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

// addOneProgram declares a pure "add one" function: Load(0), Const(1), Add, Ret.
func addOneProgram() (*bytecode.Program, *bytecode.Function) {
	instrs := []bytecode.Instruction{
		{Op: bytecode.OpLoad, A: 0},
		{Op: bytecode.OpConst, A: 0},
		{Op: bytecode.OpAdd},
		{Op: bytecode.OpRet},
	}
	fn := bytecode.Function{ID: 0, Name: "addOne", ParamCount: 1, LocalCount: 1, StartPC: 0, InstrCount: uint32(len(instrs)), Grade: value.Pure}
	prog := &bytecode.Program{
		Metadata:  bytecode.Metadata{Name: "math"},
		Instrs:    instrs,
		Constants: []value.Value{value.Int(1)},
		Functions: []bytecode.Function{fn},
		Exports:   map[string]uint32{"addOne": 0},
		Globals:   bytecode.NewGlobals(0),
	}
	return prog, &prog.Functions[0]
}

// sendingProgram declares a function that sends a message — not compilable.
func sendingProgram() (*bytecode.Program, *bytecode.Function) {
	instrs := []bytecode.Instruction{
		{Op: bytecode.OpLoad, A: 0},
		{Op: bytecode.OpSelf},
		{Op: bytecode.OpSendMessage},
		{Op: bytecode.OpRet},
	}
	fn := bytecode.Function{ID: 0, Name: "notify", ParamCount: 1, LocalCount: 1, StartPC: 0, InstrCount: uint32(len(instrs)), Grade: value.Send}
	prog := &bytecode.Program{
		Metadata:  bytecode.Metadata{Name: "notify"},
		Instrs:    instrs,
		Functions: []bytecode.Function{fn},
		Exports:   map[string]uint32{"notify": 0},
		Globals:   bytecode.NewGlobals(0),
	}
	return prog, &prog.Functions[0]
}

func TestThreadedCompilerCompilesPureArithmetic(t *testing.T) {
	prog, fn := addOneProgram()
	native, err := ThreadedCompiler{}.Compile(prog, fn)
	require.NoError(t, err)

	result, err := native([]value.Value{value.Int(41)})
	require.NoError(t, err)
	i, ok := result.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(42), i)
}

func TestThreadedCompilerRefusesProcessEffects(t *testing.T) {
	prog, fn := sendingProgram()
	_, err := ThreadedCompiler{}.Compile(prog, fn)
	assert.ErrorIs(t, err, ErrNotCompilable)
}

func TestTierDoesNotPromoteBelowThreshold(t *testing.T) {
	tier := New(Config{PromotionThreshold: 5}, ThreadedCompiler{}, testLogger())
	prog, fn := addOneProgram()
	now := time.Now()

	for i := 0; i < 4; i++ {
		_, handled, err := tier.Invoke(prog, fn, []value.Value{value.Int(1)}, now)
		require.NoError(t, err)
		assert.False(t, handled, "below threshold, the VM should still run this call")
	}
}

func TestTierPromotesAndInvokesNatively(t *testing.T) {
	tier := New(Config{PromotionThreshold: 2}, ThreadedCompiler{}, testLogger())
	prog, fn := addOneProgram()
	now := time.Now()

	tier.Invoke(prog, fn, []value.Value{value.Int(1)}, now)
	result, handled, err := tier.Invoke(prog, fn, []value.Value{value.Int(9)}, now)
	require.NoError(t, err)
	require.True(t, handled)
	i, _ := result.AsInt()
	assert.Equal(t, int64(10), i)
}

func TestTierReturnsNativeFaultWithoutDeoptimizing(t *testing.T) {
	tier := New(Config{PromotionThreshold: 1}, ThreadedCompiler{}, testLogger())
	prog, fn := addOneProgram()
	now := time.Now()

	tier.Invoke(prog, fn, []value.Value{value.Int(1)}, now)
	// Pass the wrong number of args so the compiled closure errors (not a
	// deopt-path error itself, but exercises the "real native fault" branch).
	_, handled, err := tier.Invoke(prog, fn, nil, now)
	assert.True(t, handled)
	assert.Error(t, err)
}

func TestTierWithNilCompilerNeverPromotes(t *testing.T) {
	tier := New(Config{PromotionThreshold: 1}, nil, testLogger())
	prog, fn := addOneProgram()
	now := time.Now()

	for i := 0; i < 5; i++ {
		_, handled, err := tier.Invoke(prog, fn, []value.Value{value.Int(1)}, now)
		require.NoError(t, err)
		assert.False(t, handled)
	}
}
