package bytecode

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/coreactors/runtime/internal/value"
)

// magic identifies the compact binary container (spec.md §6: "magic
// bytes, version, ...").
var magic = [4]byte{'R', 'E', 'A', 'M'}

const containerVersion uint32 = 1

// Encoding selects which of the two accepted wire forms to use.
type Encoding uint8

const (
	// Binary is the preferred compact form: a length-prefixed container
	// whose outer framing is hand-rolled on encoding/binary for exact
	// byte-layout control (magic/version/tables), with CBOR used for the
	// constant pool's payloads (DESIGN.md explains why CBOR is scoped to
	// the payloads and not the outer framing).
	Binary Encoding = iota
	// Text is the self-describing structured-text form used for
	// debugging, encoded as indented JSON.
	Text
)

// Encode serializes p in the requested encoding. A program written in
// either form and read back with Decode round-trips byte-for-byte except
// for optional debug info (spec.md §6).
func Encode(p *Program, enc Encoding) ([]byte, error) {
	switch enc {
	case Binary:
		return encodeBinary(p)
	case Text:
		return encodeText(p)
	default:
		return nil, fmt.Errorf("bytecode: unknown encoding %d", enc)
	}
}

// Decode parses a container previously produced by Encode, auto-detecting
// the encoding from the leading bytes.
func Decode(data []byte) (*Program, error) {
	if len(data) >= 4 && bytes.Equal(data[:4], magic[:]) {
		return decodeBinary(data)
	}
	return decodeText(data)
}

// wireConstant is the CBOR-encoded payload for one constant pool entry. A
// tagged sum type mirrors value.Kind without exposing Value's unexported
// fields to the encoder.
type wireConstant struct {
	Kind  value.Kind
	I     int64             `cbor:",omitempty"`
	U     uint64            `cbor:",omitempty"`
	F     float64           `cbor:",omitempty"`
	B     bool              `cbor:",omitempty"`
	S     string            `cbor:",omitempty"`
	Bytes []byte            `cbor:",omitempty"`
	Items []wireConstant    `cbor:",omitempty"`
	Pairs map[string]wireConstant `cbor:",omitempty"`
	Fn    FuncRefWire       `cbor:",omitempty"`
	PID   []byte            `cbor:",omitempty"`
	HKind value.HandleKind  `cbor:",omitempty"`
	HID   uint64            `cbor:",omitempty"`
}

// EncodeValue CBOR-encodes a single value.Value using the same
// wireConstant representation the constant pool uses, for callers outside
// this package that need to put one value.Value on the wire (the control
// channel's command/response payloads, SPEC_FULL §C10/§C11).
func EncodeValue(v value.Value) ([]byte, error) {
	return cbor.Marshal(toWireConstant(v))
}

// DecodeValue is EncodeValue's inverse.
func DecodeValue(data []byte) (value.Value, error) {
	var w wireConstant
	if err := cbor.Unmarshal(data, &w); err != nil {
		return value.Value{}, err
	}
	return fromWireConstant(w), nil
}

// FuncRefWire mirrors value.FuncRef for CBOR encoding.
type FuncRefWire struct {
	Program  string
	Function uint32
}

func toWireConstant(v value.Value) wireConstant {
	w := wireConstant{Kind: v.Kind()}
	switch v.Kind() {
	case value.KindInt:
		w.I, _ = v.AsInt()
	case value.KindUInt:
		w.U, _ = v.AsUInt()
	case value.KindFloat:
		w.F, _ = v.AsFloat()
	case value.KindBool:
		w.B, _ = v.AsBool()
	case value.KindString:
		w.S, _ = v.AsString()
	case value.KindBytes:
		w.Bytes, _ = v.AsBytes()
	case value.KindList:
		items, _ := v.AsList()
		for _, it := range items {
			w.Items = append(w.Items, toWireConstant(it))
		}
	case value.KindTuple:
		items, _ := v.AsTuple()
		for _, it := range items {
			w.Items = append(w.Items, toWireConstant(it))
		}
	case value.KindSet:
		items, _ := v.AsSet()
		for _, it := range items {
			w.Items = append(w.Items, toWireConstant(it))
		}
	case value.KindMap:
		m, _ := v.AsMap()
		w.Pairs = make(map[string]wireConstant, len(m))
		for k, val := range m {
			w.Pairs[k] = toWireConstant(val)
		}
	case value.KindFunc:
		fn, _ := v.AsFunc()
		w.Fn = FuncRefWire{Program: fn.Program, Function: fn.Function}
	case value.KindPID:
		pid, _ := v.AsPID()
		b, _ := pid.MarshalBinary()
		w.PID = b
	case value.KindHandle:
		h, _ := v.AsHandle()
		w.HKind = h.Kind
		w.HID = h.ID
	}
	return w
}

func fromWireConstant(w wireConstant) value.Value {
	switch w.Kind {
	case value.KindNull:
		return value.Null
	case value.KindInt:
		return value.Int(w.I)
	case value.KindUInt:
		return value.UInt(w.U)
	case value.KindFloat:
		return value.Float(w.F)
	case value.KindBool:
		return value.Bool(w.B)
	case value.KindString:
		return value.String(w.S)
	case value.KindBytes:
		return value.Bytes(w.Bytes)
	case value.KindList:
		items := make([]value.Value, len(w.Items))
		for i, it := range w.Items {
			items[i] = fromWireConstant(it)
		}
		return value.List(items)
	case value.KindTuple:
		items := make([]value.Value, len(w.Items))
		for i, it := range w.Items {
			items[i] = fromWireConstant(it)
		}
		return value.Tuple(items...)
	case value.KindSet:
		items := make([]value.Value, len(w.Items))
		for i, it := range w.Items {
			items[i] = fromWireConstant(it)
		}
		return value.Set(items)
	case value.KindMap:
		m := make(map[string]value.Value, len(w.Pairs))
		for k, val := range w.Pairs {
			m[k] = fromWireConstant(val)
		}
		return value.Map(m)
	case value.KindFunc:
		return value.Func(value.FuncRef{Program: w.Fn.Program, Function: w.Fn.Function})
	case value.KindPID:
		var pid value.PID
		_ = pid.UnmarshalBinary(w.PID)
		return value.Pid(pid)
	case value.KindHandle:
		return value.HandleVal(value.Handle{Kind: w.HKind, ID: w.HID})
	default:
		return value.Null
	}
}

func writeLP(buf *bytes.Buffer, b []byte) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := buf.Write(b)
	return err
}

func readLP(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func encodeBinary(p *Program) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	binary.Write(&buf, binary.BigEndian, containerVersion)
	if err := writeLP(&buf, []byte(p.Metadata.Name)); err != nil {
		return nil, err
	}
	if err := writeLP(&buf, []byte(p.Metadata.SourceLanguage)); err != nil {
		return nil, err
	}
	binary.Write(&buf, binary.BigEndian, p.Metadata.CompiledAt)
	binary.Write(&buf, binary.BigEndian, uint8(p.Metadata.CeilingOrDefault()))

	// Constant pool: each entry is CBOR-encoded then length-prefixed.
	binary.Write(&buf, binary.BigEndian, uint32(len(p.Constants)))
	for _, c := range p.Constants {
		enc, err := cbor.Marshal(toWireConstant(c))
		if err != nil {
			return nil, fmt.Errorf("bytecode: encode constant: %w", err)
		}
		if err := writeLP(&buf, enc); err != nil {
			return nil, err
		}
	}

	// Function table.
	binary.Write(&buf, binary.BigEndian, uint32(len(p.Functions)))
	for _, fn := range p.Functions {
		binary.Write(&buf, binary.BigEndian, fn.ID)
		writeLP(&buf, []byte(fn.Name))
		binary.Write(&buf, binary.BigEndian, fn.ParamCount)
		binary.Write(&buf, binary.BigEndian, fn.LocalCount)
		binary.Write(&buf, binary.BigEndian, fn.StartPC)
		binary.Write(&buf, binary.BigEndian, fn.InstrCount)
		binary.Write(&buf, binary.BigEndian, uint8(fn.Grade))
	}

	// Instruction stream: one byte opcode + up to two uint32 operands.
	binary.Write(&buf, binary.BigEndian, uint32(len(p.Instrs)))
	for _, ins := range p.Instrs {
		buf.WriteByte(byte(ins.Op))
		binary.Write(&buf, binary.BigEndian, ins.A)
		binary.Write(&buf, binary.BigEndian, ins.B)
	}

	// Export table, in name order so re-encoding is deterministic.
	names := make([]string, 0, len(p.Exports))
	for name := range p.Exports {
		names = append(names, name)
	}
	sort.Strings(names)
	binary.Write(&buf, binary.BigEndian, uint32(len(p.Exports)))
	for _, name := range names {
		writeLP(&buf, []byte(name))
		binary.Write(&buf, binary.BigEndian, p.Exports[name])
	}

	// Import table.
	binary.Write(&buf, binary.BigEndian, uint32(len(p.Imports)))
	for _, imp := range p.Imports {
		writeLP(&buf, []byte(imp.Module))
		writeLP(&buf, []byte(imp.Function))
	}

	return buf.Bytes(), nil
}

func decodeBinary(data []byte) (*Program, error) {
	r := bytes.NewReader(data)
	var m [4]byte
	if _, err := r.Read(m[:]); err != nil {
		return nil, err
	}
	if m != magic {
		return nil, fmt.Errorf("bytecode: bad magic")
	}
	var version uint32
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, err
	}
	if version != containerVersion {
		return nil, fmt.Errorf("bytecode: unsupported container version %d", version)
	}

	name, err := readLP(r)
	if err != nil {
		return nil, err
	}
	lang, err := readLP(r)
	if err != nil {
		return nil, err
	}
	var compiledAt int64
	binary.Read(r, binary.BigEndian, &compiledAt)
	var ceiling uint8
	binary.Read(r, binary.BigEndian, &ceiling)

	p := &Program{
		Metadata: Metadata{
			Name:           string(name),
			Version:        version,
			SourceLanguage: string(lang),
			CompiledAt:     compiledAt,
		},
		Exports: map[string]uint32{},
	}
	p.Metadata.WithCeiling(value.Grade(ceiling))

	var nConst uint32
	binary.Read(r, binary.BigEndian, &nConst)
	p.Constants = make([]value.Value, nConst)
	for i := range p.Constants {
		enc, err := readLP(r)
		if err != nil {
			return nil, err
		}
		var w wireConstant
		if err := cbor.Unmarshal(enc, &w); err != nil {
			return nil, fmt.Errorf("bytecode: decode constant %d: %w", i, err)
		}
		p.Constants[i] = fromWireConstant(w)
	}

	var nFn uint32
	binary.Read(r, binary.BigEndian, &nFn)
	p.Functions = make([]Function, nFn)
	for i := range p.Functions {
		var fn Function
		binary.Read(r, binary.BigEndian, &fn.ID)
		nm, err := readLP(r)
		if err != nil {
			return nil, err
		}
		fn.Name = string(nm)
		binary.Read(r, binary.BigEndian, &fn.ParamCount)
		binary.Read(r, binary.BigEndian, &fn.LocalCount)
		binary.Read(r, binary.BigEndian, &fn.StartPC)
		binary.Read(r, binary.BigEndian, &fn.InstrCount)
		var g uint8
		binary.Read(r, binary.BigEndian, &g)
		fn.Grade = value.Grade(g)
		p.Functions[i] = fn
	}

	var nIns uint32
	binary.Read(r, binary.BigEndian, &nIns)
	p.Instrs = make([]Instruction, nIns)
	for i := range p.Instrs {
		opByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		var a, b uint32
		binary.Read(r, binary.BigEndian, &a)
		binary.Read(r, binary.BigEndian, &b)
		p.Instrs[i] = Instruction{Op: Opcode(opByte), A: a, B: b}
	}

	var nExp uint32
	binary.Read(r, binary.BigEndian, &nExp)
	for i := uint32(0); i < nExp; i++ {
		nm, err := readLP(r)
		if err != nil {
			return nil, err
		}
		var id uint32
		binary.Read(r, binary.BigEndian, &id)
		p.Exports[string(nm)] = id
	}

	var nImp uint32
	binary.Read(r, binary.BigEndian, &nImp)
	p.Imports = make([]Import, nImp)
	for i := range p.Imports {
		mod, err := readLP(r)
		if err != nil {
			return nil, err
		}
		fn, err := readLP(r)
		if err != nil {
			return nil, err
		}
		p.Imports[i] = Import{Module: string(mod), Function: string(fn)}
	}

	return p, nil
}

// textProgram is the self-describing JSON form used for debugging
// (spec.md §6). Debug info is intentionally not carried here, matching the
// spec's "round-trip... except for optional debug info" carve-out.
type textProgram struct {
	Name           string
	Version        uint32
	SourceLanguage string
	CompiledAt     int64
	Ceiling        uint8
	Constants      []wireConstant
	Functions      []Function
	Instrs         []Instruction
	Exports        map[string]uint32
	Imports        []Import
}

func encodeText(p *Program) ([]byte, error) {
	t := textProgram{
		Name:           p.Metadata.Name,
		Version:        p.Metadata.Version,
		SourceLanguage: p.Metadata.SourceLanguage,
		CompiledAt:     p.Metadata.CompiledAt,
		Ceiling:        uint8(p.Metadata.CeilingOrDefault()),
		Functions:      p.Functions,
		Instrs:         p.Instrs,
		Exports:        p.Exports,
		Imports:        p.Imports,
	}
	for _, c := range p.Constants {
		t.Constants = append(t.Constants, toWireConstant(c))
	}
	return json.MarshalIndent(t, "", "  ")
}

func decodeText(data []byte) (*Program, error) {
	var t textProgram
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("bytecode: decode text program: %w", err)
	}
	p := &Program{
		Metadata: Metadata{
			Name:           t.Name,
			Version:        t.Version,
			SourceLanguage: t.SourceLanguage,
			CompiledAt:     t.CompiledAt,
		},
		Functions: t.Functions,
		Instrs:    t.Instrs,
		Exports:   t.Exports,
		Imports:   t.Imports,
	}
	if p.Exports == nil {
		p.Exports = map[string]uint32{}
	}
	p.Metadata.WithCeiling(value.Grade(t.Ceiling))
	for _, w := range t.Constants {
		p.Constants = append(p.Constants, fromWireConstant(w))
	}
	return p, nil
}
