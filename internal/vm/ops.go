package vm

import (
	"fmt"
	"time"

	"github.com/coreactors/runtime/internal/bytecode"
	"github.com/coreactors/runtime/internal/value"
)

// step executes one instruction and advances the current frame's pc,
// returning how Run should proceed.
func (vm *VM) step(instr bytecode.Instruction) (stepOutcome, error) {
	fr := vm.currentFrame()
	next := fr.pc + 1 // default fallthrough; opcodes that jump overwrite fr.pc directly

	switch instr.Op {
	case bytecode.OpConst:
		if int(instr.A) >= len(vm.prog.Constants) {
			return stepContinue, fmt.Errorf("vm: constant index %d out of range", instr.A)
		}
		vm.push(vm.prog.Constants[instr.A])

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
		if err := vm.binArith(instr.Op); err != nil {
			return stepContinue, err
		}

	case bytecode.OpAnd:
		b, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		a, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		vm.push(value.Bool(a.Truthy() && b.Truthy()))

	case bytecode.OpOr:
		b, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		a, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		vm.push(value.Bool(a.Truthy() || b.Truthy()))

	case bytecode.OpNot:
		a, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		vm.push(value.Bool(!a.Truthy()))

	case bytecode.OpEq:
		b, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		a, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		vm.push(value.Bool(a.Equal(b)))

	case bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
		if err := vm.binCompare(instr.Op); err != nil {
			return stepContinue, err
		}

	case bytecode.OpLoad:
		if int(instr.A) >= len(fr.locals) {
			return stepContinue, fmt.Errorf("vm: local index %d out of range", instr.A)
		}
		vm.push(fr.locals[instr.A])

	case bytecode.OpStore:
		v, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		if int(instr.A) >= len(fr.locals) {
			return stepContinue, fmt.Errorf("vm: local index %d out of range", instr.A)
		}
		fr.locals[instr.A] = v

	case bytecode.OpLoadGlobal:
		vm.push(vm.globals.Get(instr.A))

	case bytecode.OpStoreGlobal:
		v, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		vm.globals.Set(instr.A, v)

	case bytecode.OpJump:
		next = instr.A

	case bytecode.OpJumpIf:
		v, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		if v.Truthy() {
			next = instr.A
		}

	case bytecode.OpJumpIfNot:
		v, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		if !v.Truthy() {
			next = instr.A
		}

	case bytecode.OpCall:
		fn, ok := vm.prog.FunctionByID(instr.A)
		if !ok {
			return stepContinue, fmt.Errorf("vm: call to unknown function %d", instr.A)
		}
		args := make([]value.Value, fn.ParamCount)
		for i := int(fn.ParamCount) - 1; i >= 0; i-- {
			v, err := vm.pop()
			if err != nil {
				return stepContinue, err
			}
			args[i] = v
		}
		fr.pc = next
		if vm.jit != nil {
			if result, handled, err := vm.jit.Invoke(vm.prog, fn, args, time.Now()); handled {
				if err != nil {
					return stepContinue, err
				}
				vm.push(result)
				return stepContinue, nil
			}
		}
		if err := vm.pushFrame(fn, args); err != nil {
			return stepContinue, err
		}
		return stepContinue, nil

	case bytecode.OpRet:
		ret, err := vm.pop()
		if err != nil {
			ret = value.Null
		}
		base := fr.stackBase
		vm.stack = vm.stack[:base]
		vm.frames = vm.frames[:len(vm.frames)-1]
		vm.push(ret)
		return stepContinue, nil

	case bytecode.OpDup:
		v, err := vm.peek()
		if err != nil {
			return stepContinue, err
		}
		vm.push(v)

	case bytecode.OpPop:
		if _, err := vm.pop(); err != nil {
			return stepContinue, err
		}

	case bytecode.OpSwap:
		b, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		a, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		vm.push(b)
		vm.push(a)

	case bytecode.OpListNew:
		vm.push(value.List(nil))

	case bytecode.OpListLen:
		v, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		items, ok := v.AsList()
		if !ok {
			return stepContinue, fmt.Errorf("vm: ListLen on non-list")
		}
		vm.push(value.Int(int64(len(items))))

	case bytecode.OpListGet:
		idxV, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		listV, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		items, ok := listV.AsList()
		if !ok {
			return stepContinue, fmt.Errorf("vm: ListGet on non-list")
		}
		idx, _ := idxV.AsInt()
		if idx < 0 || int(idx) >= len(items) {
			return stepContinue, fmt.Errorf("vm: list index %d out of range", idx)
		}
		vm.push(items[idx])

	case bytecode.OpListSet:
		v, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		idxV, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		listV, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		items, ok := listV.AsList()
		if !ok {
			return stepContinue, fmt.Errorf("vm: ListSet on non-list")
		}
		idx, _ := idxV.AsInt()
		if idx < 0 || int(idx) >= len(items) {
			return stepContinue, fmt.Errorf("vm: list index %d out of range", idx)
		}
		updated := append([]value.Value(nil), items...)
		updated[idx] = v
		if vm.arena != nil {
			if _, err := vm.arena.Allocate(uint32(len(updated)) * 8); err != nil {
				return stepContinue, err
			}
		}
		vm.push(value.List(updated))

	case bytecode.OpListAppend:
		v, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		listV, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		items, ok := listV.AsList()
		if !ok {
			return stepContinue, fmt.Errorf("vm: ListAppend on non-list")
		}
		grown := append(append([]value.Value(nil), items...), v)
		if vm.arena != nil {
			if _, err := vm.arena.Allocate(8); err != nil {
				return stepContinue, err
			}
		}
		vm.push(value.List(grown))

	case bytecode.OpSpawnProcess:
		fn, ok := vm.prog.FunctionByID(instr.A)
		if !ok {
			return stepContinue, fmt.Errorf("vm: spawn of unknown function %d", instr.A)
		}
		argsV, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		args, _ := argsV.AsList()
		pid, err := vm.host.Spawn(fn.Name, args)
		if err != nil {
			return stepContinue, err
		}
		vm.push(value.Pid(pid))

	case bytecode.OpSendMessage:
		msg, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		targetV, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		target, ok := targetV.AsPID()
		if !ok {
			return stepContinue, fmt.Errorf("vm: SendMessage target is not a PID")
		}
		if err := vm.host.SendMessage(target, msg); err != nil {
			return stepContinue, err
		}

	case bytecode.OpReceiveMessage:
		msg, ok := vm.host.ReceiveMessage()
		if !ok {
			return stepWait, nil
		}
		vm.push(msg)

	case bytecode.OpLink:
		targetV, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		target, ok := targetV.AsPID()
		if !ok {
			return stepContinue, fmt.Errorf("vm: Link target is not a PID")
		}
		if err := vm.host.Link(target); err != nil {
			return stepContinue, err
		}

	case bytecode.OpMonitor:
		targetV, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		target, ok := targetV.AsPID()
		if !ok {
			return stepContinue, fmt.Errorf("vm: Monitor target is not a PID")
		}
		ref, err := vm.host.Monitor(target)
		if err != nil {
			return stepContinue, err
		}
		vm.push(ref)

	case bytecode.OpSelf:
		vm.push(value.Pid(vm.host.Self()))

	case bytecode.OpPrint, bytecode.OpDebug, bytecode.OpBreak:
		v, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		vm.host.Print(v)

	case bytecode.OpRead:
		v, err := vm.host.Read()
		if err != nil {
			return stepContinue, err
		}
		vm.push(v)

	case bytecode.OpTypeOf:
		v, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		vm.push(value.String(v.Kind().String()))

	case bytecode.OpCast:
		v, err := vm.pop()
		if err != nil {
			return stepContinue, err
		}
		cast, err := castTo(v, value.Kind(instr.A))
		if err != nil {
			return stepContinue, err
		}
		vm.push(cast)

	case bytecode.OpNop:
		// no-op

	case bytecode.OpYield:
		fr.pc = next
		return stepYield, nil

	default:
		return stepContinue, fmt.Errorf("%w: %s", ErrInvalidInstruction, instr.Op)
	}

	fr.pc = next
	return stepContinue, nil
}

func (vm *VM) binArith(op bytecode.Opcode) error {
	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}
	if op == bytecode.OpAdd {
		if as, ok := a.AsString(); ok {
			if bs, ok := b.AsString(); ok {
				vm.push(value.String(as + bs))
				return nil
			}
		}
	}
	sym := map[bytecode.Opcode]string{
		bytecode.OpAdd: "+", bytecode.OpSub: "-", bytecode.OpMul: "*",
		bytecode.OpDiv: "/", bytecode.OpMod: "%",
	}[op]
	r, err := value.Arith(sym, a, b)
	if err != nil {
		return err
	}
	vm.push(r)
	return nil
}

func (vm *VM) binCompare(op bytecode.Opcode) error {
	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}
	c, err := value.Compare(a, b)
	if err != nil {
		return err
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
	vm.push(value.Bool(result))
	return nil
}

func castTo(v value.Value, target value.Kind) (value.Value, error) {
	switch target {
	case value.KindString:
		return value.String(v.String()), nil
	case value.KindInt:
		switch v.Kind() {
		case value.KindInt:
			return v, nil
		case value.KindUInt:
			u, _ := v.AsUInt()
			return value.Int(int64(u)), nil
		case value.KindFloat:
			f, _ := v.AsFloat()
			return value.Int(int64(f)), nil
		}
	case value.KindFloat:
		switch v.Kind() {
		case value.KindFloat:
			return v, nil
		case value.KindInt:
			i, _ := v.AsInt()
			return value.Float(float64(i)), nil
		case value.KindUInt:
			u, _ := v.AsUInt()
			return value.Float(float64(u)), nil
		}
	case value.KindBool:
		return value.Bool(v.Truthy()), nil
	}
	return value.Value{}, fmt.Errorf("vm: cannot cast %s to %s", v.Kind(), target)
}
