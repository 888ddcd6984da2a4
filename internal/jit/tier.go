// Package jit implements the optional native tier of spec.md §4.8: a
// hot-spot observer, a bounded cache of compiled functions, and a
// deoptimization path back to the bytecode VM (SPEC_FULL §C9's supplement).
//
// Grounded on panoptisDev-tosca_old's sfvm interpreter for the
// trap-instead-of-panic contract a compiled function must honor, and on
// golang-lru (also used by ethereum-go-ethereum for bytecode/analysis
// caches) for nativeCache, so a long-running runtime with many distinct
// hot programs cannot leak executable closures without bound.
package jit

import (
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/coreactors/runtime/internal/bytecode"
	"github.com/coreactors/runtime/internal/value"
)

// Config tunes promotion thresholds and cache size.
type Config struct {
	CacheSize           int
	PromotionThreshold  int64
	RecompileCooldown   time.Duration
}

func (c Config) withDefaults() Config {
	if c.CacheSize <= 0 {
		c.CacheSize = 256
	}
	if c.PromotionThreshold <= 0 {
		c.PromotionThreshold = 1000
	}
	if c.RecompileCooldown <= 0 {
		c.RecompileCooldown = time.Second
	}
	return c
}

// Tier is the optional native tier a process's VM consults before falling
// back to bytecode interpretation.
type Tier struct {
	cache    *lru.Cache[key, NativeFunc]
	observer *hotSpotObserver
	compiler Compiler
	log      *logrus.Entry
}

// New constructs a Tier. A nil compiler disables compilation entirely
// (Invoke always returns handled=false), which is a valid configuration
// for a runtime that wants bounded-execution guarantees without the
// native tier's relaxed verification surface.
func New(cfg Config, compiler Compiler, log *logrus.Entry) *Tier {
	cfg = cfg.withDefaults()
	cache, _ := lru.New[key, NativeFunc](cfg.CacheSize)
	return &Tier{
		cache:    cache,
		observer: newHotSpotObserver(cfg.PromotionThreshold, cfg.RecompileCooldown),
		compiler: compiler,
		log:      log,
	}
}

// Invoke runs fn natively if it is already compiled (promoting it first if
// this call crosses the hot-spot threshold), returning handled=false when
// the caller should fall back to internal/vm.VM.Call: either because this
// function has never been compiled, the compiler declined it
// (ErrNotCompilable), or it deoptimized on this call (ErrDeoptimize, which
// also evicts it so the next call recompiles cold instead of re-trusting
// a function known to fault).
func (t *Tier) Invoke(prog *bytecode.Program, fn *bytecode.Function, args []value.Value, now time.Time) (result value.Value, handled bool, err error) {
	k := key{program: prog.Metadata.Name, function: fn.ID}

	if t.observer.record(k, now) {
		t.promote(prog, fn, k, now)
	}

	native, ok := t.cache.Get(k)
	if !ok {
		return value.Value{}, false, nil
	}

	result, callErr := native(args)
	if callErr == nil {
		return result, true, nil
	}
	if errors.Is(callErr, ErrDeoptimize) {
		t.cache.Remove(k)
		t.observer.forget(k)
		if t.log != nil {
			t.log.WithFields(logrus.Fields{"program": k.program, "function": fn.Name}).Warn("jit deoptimized, falling back to interpreter")
		}
		return value.Value{}, false, nil
	}
	return value.Value{}, true, callErr
}

func (t *Tier) promote(prog *bytecode.Program, fn *bytecode.Function, k key, now time.Time) {
	if t.compiler == nil {
		return
	}
	if _, ok := t.cache.Get(k); ok {
		return
	}
	native, err := t.compiler.Compile(prog, fn)
	if err != nil {
		// Not compilable (or a transient failure): mark as compiled anyway so
		// we don't re-attempt every single call until the cooldown elapses.
		t.observer.markCompiled(k, now)
		return
	}
	t.cache.Add(k, native)
	t.observer.markCompiled(k, now)
	if t.log != nil {
		t.log.WithFields(logrus.Fields{"program": k.program, "function": fn.Name}).Info("jit promoted function to native")
	}
}

// Evict removes a cached function outright. Nothing in the runtime calls it
// today; internal/runtime's GC cycle does not evict compiled functions.
func (t *Tier) Evict(programName string, functionID uint32) {
	t.cache.Remove(key{program: programName, function: functionID})
}
