package bytecode

import "github.com/coreactors/runtime/internal/value"

// Optimize performs the pre-execution optimization pass supplemented in
// SPEC_FULL §C2 (grounded on original_source/src/bytecode/optimizer.rs): it
// may reorder or fold a run of instructions only when the join of their
// effect grades is value.Pure, per spec.md §4.8's reordering rule. The JIT
// (internal/jit) has no reordering pass and does not call IsBarrier.
//
// The pass implemented here is deliberately small: it collapses a
// Const,Const,<binop> run into a single folded Const when the binop is one
// of the pure arithmetic/comparison ops, which is the common case a
// compiler emits for literal expressions. It never touches a window that
// contains a non-Pure instruction (IsBarrier reports this).
func Optimize(prog *Program) *Program {
	out := &Program{
		Metadata:  prog.Metadata,
		Constants: append([]value.Value(nil), prog.Constants...),
		Functions: append([]Function(nil), prog.Functions...),
		Exports:   prog.Exports,
		Imports:   prog.Imports,
		Globals:   prog.Globals,
	}
	out.Instrs = foldConstants(prog.Instrs, &out.Constants)
	return out
}

// IsBarrier reports whether op is a scheduling barrier for reordering
// purposes: any instruction whose grade is not Pure.
func IsBarrier(op Opcode) bool {
	return op.Grade() != value.Pure
}

func foldConstants(instrs []Instruction, constants *[]value.Value) []Instruction {
	out := make([]Instruction, 0, len(instrs))
	i := 0
	for i < len(instrs) {
		if i+2 < len(instrs) &&
			instrs[i].Op == OpConst && instrs[i+1].Op == OpConst &&
			isFoldableBinop(instrs[i+2].Op) {
			a := (*constants)[instrs[i].A]
			b := (*constants)[instrs[i+1].A]
			if folded, ok := tryFold(instrs[i+2].Op, a, b); ok {
				idx := uint32(len(*constants))
				*constants = append(*constants, folded)
				out = append(out, Instruction{Op: OpConst, A: idx})
				i += 3
				continue
			}
		}
		out = append(out, instrs[i])
		i++
	}
	return out
}

func isFoldableBinop(op Opcode) bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpEq, OpLt, OpLe, OpGt, OpGe:
		return true
	default:
		return false
	}
}

func tryFold(op Opcode, a, b value.Value) (value.Value, bool) {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		sym := map[Opcode]string{OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%"}[op]
		r, err := value.Arith(sym, a, b)
		if err != nil {
			return value.Value{}, false
		}
		return r, true
	case OpEq:
		return value.Bool(a.Equal(b)), true
	case OpLt, OpLe, OpGt, OpGe:
		c, err := value.Compare(a, b)
		if err != nil {
			return value.Value{}, false
		}
		var r bool
		switch op {
		case OpLt:
			r = c < 0
		case OpLe:
			r = c <= 0
		case OpGt:
			r = c > 0
		case OpGe:
			r = c >= 0
		}
		return value.Bool(r), true
	default:
		return value.Value{}, false
	}
}
