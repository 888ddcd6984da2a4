package bytecode

import (
	"fmt"

	"github.com/coreactors/runtime/internal/value"
)

// VerificationError is the static, pre-execution error of spec.md §4.1/§7:
// it names the offending PC and reason.
type VerificationError struct {
	PC     uint32
	Reason string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("bytecode: verification failed at pc=%d: %s", e.PC, e.Reason)
}

// MaxStackDepth bounds the value stack the verifier will accept; it exists
// so a malicious or buggy program cannot declare an unbounded stack
// requirement (spec.md §4.1(a)).
const MaxStackDepth = 4096

// Verify walks prog's instructions in program-counter order, maintaining a
// symbolic stack-depth counter and local-slot count per function, and
// confirms the checks spec.md §4.1 requires:
//
//	(a) the stack never underflows or exceeds MaxStackDepth;
//	(b) every constant index, function index, and jump target is in range;
//	(c) arithmetic operands are (dynamically) numeric — checked at
//	    execution time, not here, since kinds are not static; bitwise
//	    operands are checked the same way;
//	(d) the capability ceiling (SPEC_FULL §C2) is not exceeded by any
//	    instruction's grade;
//	(e) the total number of locals a function touches does not exceed its
//	    declared LocalCount.
//
// On success it marks prog verified. Registry.Load runs Verify on any
// program not yet verified; the VM itself does not check Verified() and
// will execute an unverified program.
func Verify(prog *Program) error {
	if err := verifyFunctionTable(prog); err != nil {
		return err
	}
	for fi := range prog.Functions {
		if err := verifyFunction(prog, &prog.Functions[fi]); err != nil {
			return err
		}
	}
	prog.markVerified()
	return nil
}

func verifyFunctionTable(prog *Program) error {
	for i, fn := range prog.Functions {
		if int(fn.StartPC)+int(fn.InstrCount) > len(prog.Instrs) {
			return &VerificationError{PC: fn.StartPC, Reason: fmt.Sprintf("function %d instruction range out of bounds", i)}
		}
		if int(fn.ID) != i {
			return &VerificationError{PC: fn.StartPC, Reason: fmt.Sprintf("function table index %d does not match declared id %d", i, fn.ID)}
		}
	}
	for name, id := range prog.Exports {
		if int(id) >= len(prog.Functions) {
			return &VerificationError{Reason: fmt.Sprintf("export %q references unknown function %d", name, id)}
		}
	}
	return nil
}

func verifyFunction(prog *Program, fn *Function) error {
	ceiling := prog.Metadata.CeilingOrDefault()
	depth := 0
	maxLocalTouched := uint32(0)
	aggregate := value.Pure

	end := fn.StartPC + fn.InstrCount
	for pc := fn.StartPC; pc < end; pc++ {
		ins := prog.Instrs[pc]
		if !ins.Op.Valid() {
			return &VerificationError{PC: pc, Reason: "unrecognized opcode"}
		}
		g := ins.Op.Grade()
		aggregate = value.Join(aggregate, g)
		if !g.AtMost(ceiling) {
			return &VerificationError{PC: pc, Reason: fmt.Sprintf("instruction %s grade %s exceeds program ceiling %s", ins.Op, g, ceiling)}
		}

		switch ins.Op {
		case OpConst:
			if int(ins.A) >= len(prog.Constants) {
				return &VerificationError{PC: pc, Reason: "constant index out of range"}
			}
			depth++
		case OpLoad, OpStore:
			if ins.A >= fn.LocalCount {
				return &VerificationError{PC: pc, Reason: "local slot exceeds declared local count"}
			}
			if ins.A+1 > maxLocalTouched {
				maxLocalTouched = ins.A + 1
			}
			if ins.Op == OpLoad {
				depth++
			} else {
				depth--
			}
		case OpJump, OpJumpIf, OpJumpIfNot:
			if ins.A < fn.StartPC || ins.A >= end {
				return &VerificationError{PC: pc, Reason: "jump target outside function body"}
			}
			if ins.Op != OpJump {
				depth--
			}
		case OpCall:
			if int(ins.A) >= len(prog.Functions) {
				return &VerificationError{PC: pc, Reason: "call target function index out of range"}
			}
			callee := prog.Functions[ins.A]
			depth -= int(callee.ParamCount)
			depth++ // return value
		case OpRet:
			// depth effect depends on caller convention; not tracked further.
		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpEq, OpLt, OpLe, OpGt, OpGe, OpAnd, OpOr:
			depth--
		case OpNot:
			// unary, depth unchanged
		case OpDup:
			depth++
		case OpPop:
			depth--
		case OpSwap:
			// depth unchanged
		case OpListNew:
			depth++
		case OpListLen:
			// unary
		case OpListGet:
			depth--
		case OpListSet, OpListAppend:
			depth -= 2
		case OpSpawnProcess:
			// pops the argument list, pushes a PID: depth unchanged
		case OpSendMessage:
			depth -= 2
		case OpReceiveMessage, OpSelf:
			depth++
		case OpLink:
			depth--
		case OpMonitor:
			// pops the target, pushes a reference: depth unchanged
		case OpPrint, OpRead, OpDebug, OpBreak, OpNop, OpYield:
			// no stack effect tracked
		case OpTypeOf:
			// unary
		case OpCast:
			// unary
		case OpLoadGlobal:
			depth++
		case OpStoreGlobal:
			depth--
		}

		if depth < 0 {
			return &VerificationError{PC: pc, Reason: "stack underflow"}
		}
		if depth > MaxStackDepth {
			return &VerificationError{PC: pc, Reason: "stack depth exceeds configured maximum"}
		}
	}

	if maxLocalTouched > fn.LocalCount {
		return &VerificationError{PC: fn.StartPC, Reason: "function touches more locals than declared"}
	}
	if aggregate != fn.Grade {
		return &VerificationError{PC: fn.StartPC, Reason: fmt.Sprintf("declared grade %s does not match computed join %s", fn.Grade, aggregate)}
	}
	return nil
}
