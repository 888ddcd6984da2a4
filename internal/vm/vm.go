package vm

import (
	"fmt"
	"time"

	"github.com/coreactors/runtime/internal/bounds"
	"github.com/coreactors/runtime/internal/bytecode"
	"github.com/coreactors/runtime/internal/memory"
	"github.com/coreactors/runtime/internal/value"
)

// NativeTier is the optional JIT hook a VM consults at Call sites before
// falling back to bytecode interpretation (spec.md §4.8): "the JIT must
// honor the quantum flag at the same preemption points as the VM" is
// satisfied trivially here, since internal/jit.ThreadedCompiler only ever
// compiles straight-line, branch-free, process-effect-free functions — a
// compiled function cannot loop or block, so it needs no preemption check
// of its own. internal/jit.Tier satisfies this interface.
type NativeTier interface {
	Invoke(prog *bytecode.Program, fn *bytecode.Function, args []value.Value, now time.Time) (result value.Value, handled bool, err error)
}

// Status is the reason a Run call returned control to its caller.
type Status uint8

const (
	// StatusHalted means the entry function returned; Result.Value holds
	// its return value.
	StatusHalted Status = iota
	// StatusYielded means the quantum's instruction budget (or an explicit
	// OpYield) was reached with the call stack still live; the scheduler
	// should reschedule this process and Resume it later (spec.md §4.6).
	StatusYielded
	// StatusWaiting means the process blocked on OpReceiveMessage with no
	// matching message available; internal/process parks it until its
	// mailbox signals new arrivals (spec.md §4.5, Waiting state).
	StatusWaiting
	// StatusFaulted means execution stopped on an error; Result.Err holds
	// the fault (spec.md §7).
	StatusFaulted
)

func (s Status) String() string {
	switch s {
	case StatusHalted:
		return "halted"
	case StatusYielded:
		return "yielded"
	case StatusWaiting:
		return "waiting"
	case StatusFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Result is returned by Run.
type Result struct {
	Status Status
	Value  value.Value
	Err    error
}

// Fault wraps an execution-time error with the program counter at which it
// occurred, for process_info and crash reports (spec.md §4.5).
type Fault struct {
	PC     uint32
	Reason error
}

func (f *Fault) Error() string { return fmt.Sprintf("vm: pc=%d: %v", f.PC, f.Reason) }
func (f *Fault) Unwrap() error { return f.Reason }

// ErrInvalidInstruction is raised when Step decodes an opcode the verifier
// should already have rejected; it only occurs against unverified programs.
var ErrInvalidInstruction = fmt.Errorf("vm: invalid instruction")

// ErrCapabilityDenied is raised when an instruction's grade exceeds the
// program's effect ceiling at run time (belt-and-suspenders: Verify already
// checks this statically).
var ErrCapabilityDenied = fmt.Errorf("vm: capability denied")

// ErrStackUnderflow is raised when an instruction pops more values than the
// operand stack holds.
var ErrStackUnderflow = fmt.Errorf("vm: stack underflow")

// frame is one activation record on the call stack (spec.md §4.1).
type frame struct {
	fn        *bytecode.Function
	locals    []value.Value
	pc        uint32
	stackBase int
}

// VM executes one Program on behalf of one Host (one process). It holds no
// goroutine of its own: Run is called synchronously by internal/process each
// time the process is scheduled (spec.md §4.6).
type VM struct {
	prog     *bytecode.Program
	registry *bytecode.Registry
	host     Host
	counters *bounds.Counters
	arena    *memory.Arena

	// globals is this VM's own clone of prog.Globals (spec.md §4.2(2)
	// isolation): cloned once at construction so no two processes executing
	// the same *bytecode.Program ever share a mutable global table.
	globals *bytecode.Globals

	stack  []value.Value
	frames []*frame

	ceiling value.Grade
	jit     NativeTier
}

// SetJIT installs the native tier this VM consults at Call sites. A nil
// tier (the default) means every call runs through the interpreter.
func (vm *VM) SetJIT(tier NativeTier) {
	vm.jit = tier
}

// New constructs a VM bound to prog, executing effects against host and
// metered against counters/arena.
func New(prog *bytecode.Program, registry *bytecode.Registry, host Host, counters *bounds.Counters, arena *memory.Arena) *VM {
	return &VM{
		prog:     prog,
		registry: registry,
		host:     host,
		counters: counters,
		arena:    arena,
		globals:  prog.Globals.Clone(),
		ceiling:  prog.Metadata.CeilingOrDefault(),
	}
}

// Call begins (or, if the VM already has frames, ignores the request and
// continues) executing entryFunction with args as its initial locals, then
// runs it for up to quantumInstrs instructions before yielding.
func (vm *VM) Call(entryFunction string, args []value.Value, quantumInstrs uint64) Result {
	if len(vm.frames) == 0 {
		fn, ok := vm.prog.FunctionByName(entryFunction)
		if !ok {
			return Result{Status: StatusFaulted, Err: fmt.Errorf("vm: unknown entry function %q", entryFunction)}
		}
		if err := vm.pushFrame(fn, args); err != nil {
			return Result{Status: StatusFaulted, Err: err}
		}
	}
	return vm.Run(quantumInstrs)
}

// Resume continues a previously yielded or un-blocked VM for up to
// quantumInstrs more instructions (spec.md §4.6's "Resume" action).
func (vm *VM) Resume(quantumInstrs uint64) Result {
	return vm.Run(quantumInstrs)
}

func (vm *VM) pushFrame(fn *bytecode.Function, args []value.Value) error {
	if len(args) != int(fn.ParamCount) {
		return fmt.Errorf("vm: %s expects %d args, got %d", fn.Name, fn.ParamCount, len(args))
	}
	locals := make([]value.Value, fn.LocalCount)
	for i := range locals {
		locals[i] = value.Null
	}
	copy(locals, args)
	vm.frames = append(vm.frames, &frame{fn: fn, locals: locals, pc: fn.StartPC, stackBase: len(vm.stack)})
	return nil
}

func (vm *VM) currentFrame() *frame {
	return vm.frames[len(vm.frames)-1]
}

// Run executes instructions until the call stack empties (Halted), the
// instruction budget is exhausted or an OpYield is hit (Yielded), a receive
// blocks (Waiting), or a fault occurs (Faulted).
func (vm *VM) Run(quantumInstrs uint64) Result {
	var executed uint64
	for {
		if len(vm.frames) == 0 {
			var ret value.Value
			if len(vm.stack) > 0 {
				ret = vm.stack[len(vm.stack)-1]
			}
			return Result{Status: StatusHalted, Value: ret}
		}
		if quantumInstrs != 0 && executed >= quantumInstrs {
			return Result{Status: StatusYielded}
		}

		fr := vm.currentFrame()
		if fr.pc >= uint32(len(vm.prog.Instrs)) {
			return vm.fault(fr.pc, fmt.Errorf("%w: pc out of range", ErrInvalidInstruction))
		}
		instr := vm.prog.Instrs[fr.pc]
		if !instr.Op.Valid() {
			return vm.fault(fr.pc, ErrInvalidInstruction)
		}
		if !instr.Op.Grade().AtMost(vm.ceiling) {
			return vm.fault(fr.pc, ErrCapabilityDenied)
		}
		if vm.counters != nil {
			if err := vm.counters.AddInstructions(1); err != nil {
				return vm.fault(fr.pc, err)
			}
			if vm.counters.DebitFuel(1) {
				return Result{Status: StatusYielded}
			}
		}

		status, err := vm.step(instr)
		executed++
		if err != nil {
			return vm.fault(fr.pc, err)
		}
		switch status {
		case stepContinue:
			// fr.pc was already advanced by step (or by a jump within it).
		case stepYield:
			return Result{Status: StatusYielded}
		case stepWait:
			return Result{Status: StatusWaiting}
		}
	}
}

func (vm *VM) fault(pc uint32, err error) Result {
	return Result{Status: StatusFaulted, Err: &Fault{PC: pc, Reason: err}}
}

type stepOutcome uint8

const (
	stepContinue stepOutcome = iota
	stepYield
	stepWait
)

func (vm *VM) push(v value.Value) {
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop() (value.Value, error) {
	fr := vm.currentFrame()
	if len(vm.stack) <= fr.stackBase {
		return value.Null, ErrStackUnderflow
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v, nil
}

func (vm *VM) peek() (value.Value, error) {
	fr := vm.currentFrame()
	if len(vm.stack) <= fr.stackBase {
		return value.Null, ErrStackUnderflow
	}
	return vm.stack[len(vm.stack)-1], nil
}
