package bytecode

import (
	"fmt"
	"sync"
)

// Registry resolves a Program's import table against the set of currently
// loaded programs (SPEC_FULL §C1, grounded on
// original_source/src/bytecode/registry.rs). A single Registry is shared by
// every process spawned from a given runtime instance.
type Registry struct {
	mu       sync.RWMutex
	programs map[string]*Program
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{programs: make(map[string]*Program)}
}

// Load verifies prog and registers it under its metadata name, making its
// exports available to later imports.
func (r *Registry) Load(prog *Program) error {
	if !prog.Verified() {
		if err := Verify(prog); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programs[prog.Metadata.Name] = prog
	return nil
}

// Resolve looks up a function by (module, function) name, as named in a
// Program's Imports table, and returns the owning Program's compiled
// function alongside a reference usable as a value.FuncRef.
func (r *Registry) Resolve(module, function string) (*Program, *Function, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	prog, ok := r.programs[module]
	if !ok {
		return nil, nil, fmt.Errorf("bytecode: import module %q not loaded", module)
	}
	fn, ok := prog.FunctionByName(function)
	if !ok {
		return nil, nil, fmt.Errorf("bytecode: import %q:%q not exported", module, function)
	}
	return prog, fn, nil
}

// ResolveImports checks that every import prog declares resolves to a
// function whose signature matches; a mismatch fails verification per
// SPEC_FULL §C1 ("fails verification if an import's declared signature does
// not match the exporting program's").
func (r *Registry) ResolveImports(prog *Program) error {
	for _, imp := range prog.Imports {
		_, fn, err := r.Resolve(imp.Module, imp.Function)
		if err != nil {
			return err
		}
		if !signaturesMatch(imp.Signature, fn.Signature) {
			return &VerificationError{Reason: fmt.Sprintf("import %s:%s signature mismatch", imp.Module, imp.Function)}
		}
	}
	return nil
}

func signaturesMatch(a, b Signature) bool {
	if a.Return != b.Return || len(a.Params) != len(b.Params) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	return true
}
