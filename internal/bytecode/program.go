package bytecode

import (
	"github.com/coreactors/runtime/internal/value"
)

// Signature declares a function's parameter and return types, used by the
// verifier and by import resolution (SPEC_FULL §C1).
type Signature struct {
	Params []value.Kind
	Return value.Kind
}

// Function is an entry in a Program's function table (spec.md §3).
type Function struct {
	ID        uint32
	Name      string
	ParamCount  uint32
	LocalCount  uint32
	StartPC     uint32
	InstrCount  uint32
	Signature   Signature
	Grade       value.Grade // join of all contained instructions' grades
}

// Import names a function a Program expects its Registry to resolve from
// another loaded Program (SPEC_FULL §C1).
type Import struct {
	Module    string
	Function  string
	Signature Signature
}

// DebugInfo maps program counters to source positions, carried opaquely by
// the core (spec.md §6: "optional debug info").
type DebugInfo struct {
	PCToLine map[uint32]uint32
	PCToFile map[uint32]string
}

// Metadata is the program container's descriptive header.
type Metadata struct {
	Name           string
	Version        uint32
	SourceLanguage string
	CompiledAt     int64 // unix seconds; supplied by the compiler, not the clock
	Debug          *DebugInfo

	// EffectCeiling is the SPEC_FULL §C2 capability check: the strongest
	// grade any instruction in this program may reach. It takes effect only
	// when set via WithCeiling; a ceiling never set is treated as value.Send
	// (no restriction) by CeilingOrDefault, even though the field itself then
	// holds its zero value, value.Pure.
	EffectCeiling value.Grade
	ceilingSet    bool
}

// WithCeiling sets the program's capability ceiling explicitly.
func (m *Metadata) WithCeiling(g value.Grade) {
	m.EffectCeiling = g
	m.ceilingSet = true
}

// CeilingOrDefault returns the configured ceiling, defaulting to value.Send
// (unrestricted) when none was set.
func (m Metadata) CeilingOrDefault() value.Grade {
	if !m.ceilingSet {
		return value.Send
	}
	return m.EffectCeiling
}

// Globals is a program-level table of global values (SPEC_FULL §C1, spec.md
// §9): there is no mutable host-provided global environment.
// LoadGlobal/StoreGlobal address it by slot index, the instruction's
// operand; the table is not addressed by name hash. Declare records the
// FNV-1a hash of a name (HashName) against its name for diagnostics only.
type Globals struct {
	names  map[uint32]string
	values []value.Value
}

// NewGlobals constructs an empty global table sized for n entries.
func NewGlobals(n int) *Globals {
	return &Globals{names: make(map[uint32]string, n), values: make([]value.Value, n)}
}

// Declare registers name at slot idx, recording the mapping for diagnostics.
func (g *Globals) Declare(nameHash uint32, name string, idx int) {
	g.names[nameHash] = name
	if idx >= len(g.values) {
		grown := make([]value.Value, idx+1)
		copy(grown, g.values)
		g.values = grown
	}
}

func (g *Globals) Get(idx uint32) value.Value {
	if int(idx) >= len(g.values) {
		return value.Null
	}
	return g.values[idx]
}

func (g *Globals) Set(idx uint32, v value.Value) {
	if int(idx) >= len(g.values) {
		grown := make([]value.Value, idx+1)
		copy(grown, g.values)
		g.values = grown
	}
	g.values[idx] = v
}

// Clone returns an independent copy of g's current declarations and values.
// A Program's Globals is the only mechanism an actor has for state to
// survive across messages (locals are rebuilt fresh on every Call), so every
// process spawned against the same *Program must run against its own clone
// rather than the shared table on the Program itself — otherwise one
// process's global writes would be directly observable by a sibling process
// running the same compiled module, violating spec.md §4.2(2)'s isolation
// guarantee. A nil receiver clones to an empty table.
func (g *Globals) Clone() *Globals {
	if g == nil {
		return NewGlobals(0)
	}
	names := make(map[uint32]string, len(g.names))
	for k, v := range g.names {
		names[k] = v
	}
	values := make([]value.Value, len(g.values))
	copy(values, g.values)
	return &Globals{names: names, values: values}
}

// HashName computes the FNV-1a hash of a global's name, the key Declare
// records the name under.
func HashName(name string) uint32 {
	const (
		offset = 2166136261
		prime  = 16777619
	)
	h := uint32(offset)
	for i := 0; i < len(name); i++ {
		h ^= uint32(name[i])
		h *= prime
	}
	return h
}

// Program is the bytecode container of spec.md §3/§6: instruction sequence,
// constant pool, function table, export/import tables, and metadata.
//
// Invariant (enforced by Verify, not by construction): every constant
// index, function index, and jump target referenced by Instructions is in
// range.
type Program struct {
	Metadata  Metadata
	Constants []value.Value
	Functions []Function
	Instrs    []Instruction
	Exports   map[string]uint32 // name -> function id
	Imports   []Import
	Globals   *Globals

	verified bool
}

// Verified reports whether Verify has accepted this program.
func (p *Program) Verified() bool { return p.verified }

// markVerified is called only by Verify on success.
func (p *Program) markVerified() { p.verified = true }

// FunctionByID looks up a function by its table index, which is always
// equal to its ID in a well-formed program (the verifier checks this).
func (p *Program) FunctionByID(id uint32) (*Function, bool) {
	if int(id) >= len(p.Functions) {
		return nil, false
	}
	return &p.Functions[id], true
}

// FunctionByName resolves via the export table.
func (p *Program) FunctionByName(name string) (*Function, bool) {
	id, ok := p.Exports[name]
	if !ok {
		return nil, false
	}
	return p.FunctionByID(id)
}
