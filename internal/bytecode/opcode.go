// Package bytecode implements the instruction set, constant pool, function
// table, and program container described in spec.md §3/§4.1/§6.
package bytecode

import "github.com/coreactors/runtime/internal/value"

// Opcode enumerates the instruction variants of spec.md §6. Each carries a
// fixed effect grade (Grade) and between 0 and 2 uint32 operands (Arity).
type Opcode uint8

const (
	OpConst Opcode = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpNot
	OpEq
	OpLt
	OpLe
	OpGt
	OpGe
	OpLoad
	OpStore
	OpLoadGlobal
	OpStoreGlobal
	OpJump
	OpJumpIf
	OpJumpIfNot
	OpCall
	OpRet
	OpDup
	OpPop
	OpSwap
	OpListNew
	OpListLen
	OpListGet
	OpListSet
	OpListAppend
	OpSpawnProcess
	OpSendMessage
	OpReceiveMessage
	OpLink
	OpMonitor
	OpSelf
	OpPrint
	OpRead
	OpTypeOf
	OpCast
	OpDebug
	OpBreak
	OpNop
	OpYield // SPEC_FULL §C7 supplement: explicit preemption request

	opcodeCount
)

var opcodeNames = [opcodeCount]string{
	OpConst: "Const", OpAdd: "Add", OpSub: "Sub", OpMul: "Mul", OpDiv: "Div",
	OpMod: "Mod", OpAnd: "And", OpOr: "Or", OpNot: "Not", OpEq: "Eq",
	OpLt: "Lt", OpLe: "Le", OpGt: "Gt", OpGe: "Ge", OpLoad: "Load",
	OpStore: "Store", OpLoadGlobal: "LoadGlobal", OpStoreGlobal: "StoreGlobal",
	OpJump: "Jump", OpJumpIf: "JumpIf", OpJumpIfNot: "JumpIfNot",
	OpCall: "Call", OpRet: "Ret", OpDup: "Dup", OpPop: "Pop", OpSwap: "Swap",
	OpListNew: "ListNew", OpListLen: "ListLen", OpListGet: "ListGet",
	OpListSet: "ListSet", OpListAppend: "ListAppend",
	OpSpawnProcess: "SpawnProcess", OpSendMessage: "SendMessage",
	OpReceiveMessage: "ReceiveMessage", OpLink: "Link", OpMonitor: "Monitor",
	OpSelf: "Self", OpPrint: "Print", OpRead: "Read", OpTypeOf: "TypeOf",
	OpCast: "Cast", OpDebug: "Debug", OpBreak: "Break", OpNop: "Nop",
	OpYield: "Yield",
}

func (op Opcode) String() string {
	if op >= opcodeCount {
		return "Unknown"
	}
	return opcodeNames[op]
}

// Valid reports whether op is a recognized opcode. The VM treats an
// unrecognized opcode as fatal (InvalidInstruction, spec.md §4.1).
func (op Opcode) Valid() bool {
	return op < opcodeCount
}

// arity is the number of uint32 operands each opcode carries.
var arity = [opcodeCount]uint8{
	OpConst: 1, OpAdd: 0, OpSub: 0, OpMul: 0, OpDiv: 0, OpMod: 0, OpAnd: 0,
	OpOr: 0, OpNot: 0, OpEq: 0, OpLt: 0, OpLe: 0, OpGt: 0, OpGe: 0,
	OpLoad: 1, OpStore: 1, OpLoadGlobal: 1, OpStoreGlobal: 1,
	OpJump: 1, OpJumpIf: 1, OpJumpIfNot: 1, OpCall: 1, OpRet: 0,
	OpDup: 0, OpPop: 0, OpSwap: 0,
	OpListNew: 0, OpListLen: 0, OpListGet: 0, OpListSet: 0, OpListAppend: 0,
	OpSpawnProcess: 1, OpSendMessage: 2, OpReceiveMessage: 0,
	OpLink: 0, OpMonitor: 0, OpSelf: 0, OpPrint: 0, OpRead: 0,
	OpTypeOf: 0, OpCast: 1, OpDebug: 0, OpBreak: 0, OpNop: 0, OpYield: 0,
}

// Arity returns how many uint32 operands op expects.
func (op Opcode) Arity() uint8 {
	if op >= opcodeCount {
		return 0
	}
	return arity[op]
}

// grade is the fixed effect grade of each opcode, per SPEC_FULL §C1's
// opcode→grade table (supplementing spec.md's "each instruction carries its
// grade" with the exhaustive assignment original_source/src/bytecode/instruction.rs
// makes explicit).
var grade = [opcodeCount]value.Grade{
	OpConst: value.Pure, OpAdd: value.Pure, OpSub: value.Pure, OpMul: value.Pure,
	OpDiv: value.Pure, OpMod: value.Pure, OpAnd: value.Pure, OpOr: value.Pure,
	OpNot: value.Pure, OpEq: value.Pure, OpLt: value.Pure, OpLe: value.Pure,
	OpGt: value.Pure, OpGe: value.Pure,
	OpLoad: value.Read, OpLoadGlobal: value.Read,
	OpStore: value.Write, OpStoreGlobal: value.Write,
	OpJump: value.Pure, OpJumpIf: value.Pure, OpJumpIfNot: value.Pure,
	OpCall: value.Pure, OpRet: value.Pure,
	OpDup: value.Pure, OpPop: value.Pure, OpSwap: value.Pure,
	OpListNew: value.Pure, OpListLen: value.Read, OpListGet: value.Read,
	OpListSet: value.Write, OpListAppend: value.Write,
	OpSpawnProcess: value.Spawn, OpSendMessage: value.Send,
	OpReceiveMessage: value.Read, OpLink: value.Write, OpMonitor: value.Write,
	OpSelf: value.Pure, OpPrint: value.IO, OpRead: value.IO,
	OpTypeOf: value.Pure, OpCast: value.Pure, OpDebug: value.IO,
	OpBreak: value.IO, OpNop: value.Pure, OpYield: value.Pure,
}

// Grade returns the fixed effect grade of op.
func (op Opcode) Grade() value.Grade {
	if op >= opcodeCount {
		return value.IO
	}
	return grade[op]
}

// Instruction is a decoded instruction: an opcode plus up to two uint32
// operands (spec.md §6: "0-2 u32 operands").
type Instruction struct {
	Op Opcode
	A  uint32
	B  uint32
}
