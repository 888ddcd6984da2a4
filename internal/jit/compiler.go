package jit

import (
	"errors"
	"fmt"

	"github.com/coreactors/runtime/internal/bytecode"
	"github.com/coreactors/runtime/internal/value"
)

// ErrNotCompilable is returned by Compile when a function contains an
// instruction the compiler does not know how to turn into a native
// closure (a branch, a call, or anything above Write grade — spec.md
// §4.8 rule 5 only allows Pure-effect reordering, and this compiler
// extends that same ceiling to "compilable at all": Spawn/Send/Read-
// external-state instructions always run through the interpreter, where
// the Host abstraction is already wired).
var ErrNotCompilable = errors.New("jit: function is not compilable")

// ErrDeoptimize is returned by a NativeFunc to signal that it hit a case
// it cannot safely resolve and the caller must re-run the call on the
// bytecode VM instead of trusting this result (spec.md §4.8's
// deoptimization path, SPEC_FULL §C9's supplement).
var ErrDeoptimize = errors.New("jit: deoptimize, fall back to interpreter")

// NativeFunc is a compiled function: the JIT contract of spec.md §4.8 ("a
// function pointer that, when invoked, returns a Value or traps").
type NativeFunc func(args []value.Value) (value.Value, error)

// Compiler turns a verified bytecode function into a NativeFunc.
type Compiler interface {
	Compile(prog *bytecode.Program, fn *bytecode.Function) (NativeFunc, error)
}

// ThreadedCompiler compiles a restricted class of functions — straight-line
// arithmetic/comparison/local-variable code with no branches, calls, or
// process effects — into a chain of Go closures executed directly on the Go
// call stack (threaded-code interpretation), skipping the bytecode fetch/
// decode dispatch of internal/vm.VM.Run for the hottest, simplest functions.
//
// This stands in for the native-code backend spec.md §4.8 describes ("a
// callable function" built from "a verified program"); generating actual
// machine code is out of reach for a portable Go runtime, so this package
// instead produces an ahead-of-time-compiled Go closure chain, which
// satisfies the same contract (a function pointer that returns a Value or
// traps) without needing cgo or an assembler.
//
// Grounded on the status/trap contract of
// other_examples/5269a6b5_panoptisDev-tosca_old__go-interpreter-sfvm-interpreter.go.go's
// interpreter: a function either produces a value or yields a well-defined
// trap, never an unchecked panic.
type ThreadedCompiler struct{}

// threadedStep is one compiled instruction: given the current operand
// stack and locals, it applies its effect and returns the updated stack.
type threadedStep func(stack []value.Value, locals []value.Value) ([]value.Value, error)

// Compile implements Compiler. It refuses (ErrNotCompilable) any function
// containing a branch, a call, or an instruction graded above Write —
// exactly the instructions that need the VM's Host or control-flow state.
func (ThreadedCompiler) Compile(prog *bytecode.Program, fn *bytecode.Function) (NativeFunc, error) {
	steps := make([]threadedStep, 0, fn.InstrCount)
	for i := uint32(0); i < fn.InstrCount; i++ {
		instr := prog.Instrs[fn.StartPC+i]
		if !instr.Op.Grade().AtMost(value.Write) {
			return nil, fmt.Errorf("%w: %s has grade %s", ErrNotCompilable, instr.Op, instr.Op.Grade())
		}
		step, err := compileStep(prog, instr)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}

	paramCount := int(fn.ParamCount)
	localCount := int(fn.LocalCount)
	return func(args []value.Value) (value.Value, error) {
		if len(args) != paramCount {
			return value.Value{}, fmt.Errorf("jit: %s expects %d args, got %d", fn.Name, paramCount, len(args))
		}
		locals := make([]value.Value, localCount)
		copy(locals, args)
		var stack []value.Value
		var err error
		for _, step := range steps {
			stack, err = step(stack, locals)
			if err != nil {
				return value.Value{}, err
			}
		}
		if len(stack) == 0 {
			return value.Null, nil
		}
		return stack[len(stack)-1], nil
	}, nil
}

func compileStep(prog *bytecode.Program, instr bytecode.Instruction) (threadedStep, error) {
	switch instr.Op {
	case bytecode.OpConst:
		idx := instr.A
		if int(idx) >= len(prog.Constants) {
			return nil, fmt.Errorf("%w: constant index %d out of range", ErrNotCompilable, idx)
		}
		c := prog.Constants[idx]
		return func(stack []value.Value, _ []value.Value) ([]value.Value, error) {
			return append(stack, c), nil
		}, nil
	case bytecode.OpLoad:
		idx := instr.A
		return func(stack []value.Value, locals []value.Value) ([]value.Value, error) {
			if int(idx) >= len(locals) {
				return nil, ErrDeoptimize
			}
			return append(stack, locals[idx]), nil
		}, nil
	case bytecode.OpStore:
		idx := instr.A
		return func(stack []value.Value, locals []value.Value) ([]value.Value, error) {
			if len(stack) == 0 || int(idx) >= len(locals) {
				return nil, ErrDeoptimize
			}
			top := stack[len(stack)-1]
			locals[idx] = top
			return stack[:len(stack)-1], nil
		}, nil
	case bytecode.OpDup:
		return func(stack []value.Value, _ []value.Value) ([]value.Value, error) {
			if len(stack) == 0 {
				return nil, ErrDeoptimize
			}
			return append(stack, stack[len(stack)-1]), nil
		}, nil
	case bytecode.OpPop:
		return func(stack []value.Value, _ []value.Value) ([]value.Value, error) {
			if len(stack) == 0 {
				return nil, ErrDeoptimize
			}
			return stack[:len(stack)-1], nil
		}, nil
	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
		op := instr.Op
		return func(stack []value.Value, _ []value.Value) ([]value.Value, error) {
			if len(stack) < 2 {
				return nil, ErrDeoptimize
			}
			a, b := stack[len(stack)-2], stack[len(stack)-1]
			if op == bytecode.OpAdd {
				if as, ok := a.AsString(); ok {
					if bs, ok := b.AsString(); ok {
						return append(stack[:len(stack)-2], value.String(as+bs)), nil
					}
				}
			}
			sym := map[bytecode.Opcode]string{
				bytecode.OpAdd: "+", bytecode.OpSub: "-", bytecode.OpMul: "*",
				bytecode.OpDiv: "/", bytecode.OpMod: "%",
			}[op]
			r, err := value.Arith(sym, a, b)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDeoptimize, err)
			}
			return append(stack[:len(stack)-2], r), nil
		}, nil
	case bytecode.OpAnd:
		return func(stack []value.Value, _ []value.Value) ([]value.Value, error) {
			if len(stack) < 2 {
				return nil, ErrDeoptimize
			}
			a, b := stack[len(stack)-2], stack[len(stack)-1]
			return append(stack[:len(stack)-2], value.Bool(a.Truthy() && b.Truthy())), nil
		}, nil
	case bytecode.OpOr:
		return func(stack []value.Value, _ []value.Value) ([]value.Value, error) {
			if len(stack) < 2 {
				return nil, ErrDeoptimize
			}
			a, b := stack[len(stack)-2], stack[len(stack)-1]
			return append(stack[:len(stack)-2], value.Bool(a.Truthy() || b.Truthy())), nil
		}, nil
	case bytecode.OpEq:
		return func(stack []value.Value, _ []value.Value) ([]value.Value, error) {
			if len(stack) < 2 {
				return nil, ErrDeoptimize
			}
			a, b := stack[len(stack)-2], stack[len(stack)-1]
			return append(stack[:len(stack)-2], value.Bool(a.Equal(b))), nil
		}, nil
	case bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
		op := instr.Op
		return func(stack []value.Value, _ []value.Value) ([]value.Value, error) {
			if len(stack) < 2 {
				return nil, ErrDeoptimize
			}
			a, b := stack[len(stack)-2], stack[len(stack)-1]
			c, err := value.Compare(a, b)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDeoptimize, err)
			}
			var result bool
			switch op {
			case bytecode.OpLt:
				result = c < 0
			case bytecode.OpLe:
				result = c <= 0
			case bytecode.OpGt:
				result = c > 0
			case bytecode.OpGe:
				result = c >= 0
			}
			return append(stack[:len(stack)-2], value.Bool(result)), nil
		}, nil
	case bytecode.OpNot:
		return func(stack []value.Value, _ []value.Value) ([]value.Value, error) {
			if len(stack) == 0 {
				return nil, ErrDeoptimize
			}
			v := stack[len(stack)-1]
			return append(stack[:len(stack)-1], value.Bool(!v.Truthy())), nil
		}, nil
	case bytecode.OpRet:
		return func(stack []value.Value, _ []value.Value) ([]value.Value, error) {
			return stack, nil
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotCompilable, instr.Op)
	}
}
