package value

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindUInt
	KindFloat
	KindBool
	KindString
	KindBytes
	KindList
	KindMap
	KindSet
	KindTuple
	KindFunc
	KindPID
	KindHandle
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindUInt:
		return "uint"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindSet:
		return "set"
	case KindTuple:
		return "tuple"
	case KindFunc:
		return "func"
	case KindPID:
		return "pid"
	case KindHandle:
		return "handle"
	default:
		return "unknown"
	}
}

// HandleKind distinguishes the opaque handle variants named in spec.md §3.
type HandleKind uint8

const (
	HandleFile HandleKind = iota
	HandleSocket
	HandleTimer
	HandleMemory
	HandleWeak
)

// Handle is an opaque, identity-compared resource reference.
type Handle struct {
	Kind HandleKind
	ID   uint64
}

// FuncRef is an index into a program's function table.
type FuncRef struct {
	Program  string
	Function uint32
}

// Value is the tagged union described by spec.md §3. The zero Value is
// Null. Values are immutable once constructed; mutating operations (ListSet,
// map assignment) return a new Value, matching the VM's stack-machine
// semantics where every instruction consumes operands and produces a result.
type Value struct {
	kind Kind

	i   int64
	u   uint64
	f   float64
	b   bool
	s   string
	by  []byte
	l   []Value
	m   map[string]Value
	set []Value // canonically ordered, see canonicalizeSet
	tup []Value
	fn  FuncRef
	pid PID
	h   Handle
}

// Null is the canonical null value.
var Null = Value{kind: KindNull}

func Int(i int64) Value      { return Value{kind: KindInt, i: i} }
func UInt(u uint64) Value    { return Value{kind: KindUInt, u: u} }
func Float(f float64) Value  { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func String(s string) Value  { return Value{kind: KindString, s: s} }
func Bytes(b []byte) Value   { return Value{kind: KindBytes, by: append([]byte(nil), b...)} }
func Func(f FuncRef) Value   { return Value{kind: KindFunc, fn: f} }
func Pid(p PID) Value        { return Value{kind: KindPID, pid: p} }
func HandleVal(h Handle) Value { return Value{kind: KindHandle, h: h} }

func List(items []Value) Value {
	return Value{kind: KindList, l: append([]Value(nil), items...)}
}

func Tuple(items ...Value) Value {
	return Value{kind: KindTuple, tup: append([]Value(nil), items...)}
}

func Map(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindMap, m: cp}
}

// Set constructs a set Value, deduplicating and canonically ordering its
// elements so that sets built from the same elements in any order hash and
// compare equal.
func Set(items []Value) Value {
	seen := make([]Value, 0, len(items))
	for _, it := range items {
		dup := false
		for _, s := range seen {
			if s.Equal(it) {
				dup = true
				break
			}
		}
		if !dup {
			seen = append(seen, it)
		}
	}
	canonicalizeSet(seen)
	return Value{kind: KindSet, set: seen}
}

func canonicalizeSet(items []Value) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].sortKey() < items[j].sortKey()
	})
}

// sortKey produces a stable total order over heterogeneous values sufficient
// for canonical set ordering. It need not be meaningful outside that use.
func (v Value) sortKey() string {
	return fmt.Sprintf("%d:%s", v.kind, v.Hash())
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsInt() (int64, bool)       { return v.i, v.kind == KindInt }
func (v Value) AsUInt() (uint64, bool)     { return v.u, v.kind == KindUInt }
func (v Value) AsFloat() (float64, bool)   { return v.f, v.kind == KindFloat }
func (v Value) AsBool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v Value) AsString() (string, bool)   { return v.s, v.kind == KindString }
func (v Value) AsBytes() ([]byte, bool)    { return v.by, v.kind == KindBytes }
func (v Value) AsList() ([]Value, bool)    { return v.l, v.kind == KindList }
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }
func (v Value) AsSet() ([]Value, bool)     { return v.set, v.kind == KindSet }
func (v Value) AsTuple() ([]Value, bool)   { return v.tup, v.kind == KindTuple }
func (v Value) AsFunc() (FuncRef, bool)    { return v.fn, v.kind == KindFunc }
func (v Value) AsPID() (PID, bool)         { return v.pid, v.kind == KindPID }
func (v Value) AsHandle() (Handle, bool)   { return v.h, v.kind == KindHandle }

// IsNumeric reports whether v is Int, UInt, or Float.
func (v Value) IsNumeric() bool {
	return v.kind == KindInt || v.kind == KindUInt || v.kind == KindFloat
}

// Truthy implements the Glossary's truthiness rule: a Value is true iff it
// is a non-zero number, non-empty string/bytes/list/map/set/tuple, true, or
// a non-null handle; null, false, 0, and empty containers are false.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindInt:
		return v.i != 0
	case KindUInt:
		return v.u != 0
	case KindFloat:
		return v.f != 0
	case KindBool:
		return v.b
	case KindString:
		return v.s != ""
	case KindBytes:
		return len(v.by) != 0
	case KindList:
		return len(v.l) != 0
	case KindMap:
		return len(v.m) != 0
	case KindSet:
		return len(v.set) != 0
	case KindTuple:
		return len(v.tup) != 0
	case KindFunc:
		return true
	case KindPID:
		return !v.pid.IsNil()
	case KindHandle:
		return true
	default:
		return false
	}
}

// Equal implements structural equality, with the two documented exceptions:
// float NaN is never equal to anything including itself (except that two
// canonical NaNs compare equal for hashing purposes, see Hash), and handles
// compare by identity (Kind+ID), not structurally.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindInt:
		return v.i == other.i
	case KindUInt:
		return v.u == other.u
	case KindFloat:
		if math.IsNaN(v.f) || math.IsNaN(other.f) {
			return false
		}
		return v.f == other.f
	case KindBool:
		return v.b == other.b
	case KindString:
		return v.s == other.s
	case KindBytes:
		return string(v.by) == string(other.by)
	case KindList, KindTuple:
		a, b := v.seq(), other.seq()
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !a[i].Equal(b[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, a := range v.m {
			b, ok := other.m[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	case KindSet:
		if len(v.set) != len(other.set) {
			return false
		}
		for i := range v.set {
			if !v.set[i].Equal(other.set[i]) {
				return false
			}
		}
		return true
	case KindFunc:
		return v.fn == other.fn
	case KindPID:
		return v.pid.Compare(other.pid) == 0
	case KindHandle:
		return v.h == other.h
	default:
		return false
	}
}

func (v Value) seq() []Value {
	if v.kind == KindTuple {
		return v.tup
	}
	return v.l
}

// Hash produces a string digest consistent with Equal: equal values hash
// equal. float NaN hashes to a single canonical bucket so that sets and maps
// keyed (indirectly, via sortKey) on Value hashing remain well-defined even
// though NaN != NaN under Equal.
func (v Value) Hash() string {
	switch v.kind {
	case KindNull:
		return "n"
	case KindInt:
		return fmt.Sprintf("i%d", v.i)
	case KindUInt:
		return fmt.Sprintf("u%d", v.u)
	case KindFloat:
		if math.IsNaN(v.f) {
			return "f:nan"
		}
		return fmt.Sprintf("f%x", math.Float64bits(v.f))
	case KindBool:
		if v.b {
			return "b1"
		}
		return "b0"
	case KindString:
		return "s" + v.s
	case KindBytes:
		return "y" + string(v.by)
	case KindList:
		return "l[" + joinHashes(v.l) + "]"
	case KindTuple:
		return "t(" + joinHashes(v.tup) + ")"
	case KindSet:
		return "e{" + joinHashes(v.set) + "}"
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteString("m{")
		for _, k := range keys {
			sb.WriteString(k)
			sb.WriteByte(':')
			sb.WriteString(v.m[k].Hash())
			sb.WriteByte(',')
		}
		sb.WriteByte('}')
		return sb.String()
	case KindFunc:
		return fmt.Sprintf("fn%s#%d", v.fn.Program, v.fn.Function)
	case KindPID:
		return "p" + v.pid.Full()
	case KindHandle:
		return fmt.Sprintf("h%d:%d", v.h.Kind, v.h.ID)
	default:
		return "?"
	}
}

func joinHashes(vs []Value) string {
	var sb strings.Builder
	for i, x := range vs {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(x.Hash())
	}
	return sb.String()
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return v.s
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindUInt:
		return fmt.Sprintf("%d", v.u)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindPID:
		return v.pid.String()
	default:
		return fmt.Sprintf("%s(%s)", v.kind, v.Hash())
	}
}
