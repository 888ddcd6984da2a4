// Package runtime implements the runtime facade of spec.md §4.9: the
// spawn/send/monitor API, the process table, the GC cycle for
// terminated-process resources, and the statistics collector. It owns the
// scheduler (internal/scheduler), the supervision trees rooted on it
// (internal/supervisor), and the optional JIT tier (internal/jit), and is
// the Router every internal/process.Process dispatches effects through.
//
// Grounded directly on ergonode's registrar (registrar.go): a single
// authoritative owner of the process table, generalized from ergonode's
// channel-request pattern (registerProcessRequest et al, serialized through
// one goroutine) to a concurrent map guarded by a mutex, since this facade's
// Router methods are called from many scheduler worker goroutines
// concurrently rather than from one caller at a time.
package runtime

import (
	"io"
	"os"
	"time"

	"github.com/coreactors/runtime/internal/bounds"
)

// Config tunes a Runtime instance. Zero-value fields fall back to the
// defaults below; construct with New(opts...) rather than a literal so
// future fields get sane defaults automatically.
type Config struct {
	Quantum                time.Duration
	QuantumInstructions    uint64
	Workers                int
	DivergenceSweep        time.Duration
	AgingThreshold         time.Duration
	GCInterval             time.Duration
	GCConcurrency          int64
	DefaultLimits          bounds.Limits
	DefaultArenaSize       uint32
	DefaultMailboxCapacity int
	FuelPerQuantum         int64
	EnableJIT              bool
	MetricsAddr            string
	Stdout                 io.Writer
}

// Option configures a Config field, following the functional-options idiom
// SPEC_FULL §A gestures at from ergonode's ProcessOptions and makes
// explicit the way nmxmxh-inos_v1's SupervisorConfig does.
type Option func(*Config)

// WithQuantum overrides the scheduler's wall-clock quantum duration.
func WithQuantum(d time.Duration) Option { return func(c *Config) { c.Quantum = d } }

// WithQuantumInstructions overrides the instruction-count budget per
// dispatch (spec.md §4.6).
func WithQuantumInstructions(n uint64) Option {
	return func(c *Config) { c.QuantumInstructions = n }
}

// WithWorkers overrides the number of scheduler worker goroutines (default
// GOMAXPROCS).
func WithWorkers(n int) Option { return func(c *Config) { c.Workers = n } }

// WithDivergenceSweep overrides how often the background watchdog checks
// for stalled processes (spec.md §4.4(3)).
func WithDivergenceSweep(d time.Duration) Option {
	return func(c *Config) { c.DivergenceSweep = d }
}

// WithDefaultLimits overrides the execution bounds newly spawned processes
// get when their Spec does not set its own (spec.md §3, "Execution bounds").
func WithDefaultLimits(l bounds.Limits) Option {
	return func(c *Config) { c.DefaultLimits = l }
}

// WithDefaultArenaSize overrides the default isolated-memory arena size.
func WithDefaultArenaSize(n uint32) Option { return func(c *Config) { c.DefaultArenaSize = n } }

// WithDefaultMailboxCapacity overrides the default mailbox capacity.
func WithDefaultMailboxCapacity(n int) Option {
	return func(c *Config) { c.DefaultMailboxCapacity = n }
}

// WithFuelPerQuantum overrides the fuel replenished at each quantum start.
func WithFuelPerQuantum(n int64) Option { return func(c *Config) { c.FuelPerQuantum = n } }

// WithGCInterval overrides how often the facade reclaims terminated
// processes' arenas and mailboxes (spec.md §4.9).
func WithGCInterval(d time.Duration) Option { return func(c *Config) { c.GCInterval = d } }

// WithGCConcurrency sets the weight of the GC cycle's semaphore (SPEC_FULL
// §B, golang.org/x/sync/semaphore). Each sweep acquires the full weight, so
// reclamations run one sweep at a time whatever n is.
func WithGCConcurrency(n int64) Option { return func(c *Config) { c.GCConcurrency = n } }

// WithJIT enables the optional native tier (spec.md §4.8).
func WithJIT(enabled bool) Option { return func(c *Config) { c.EnableJIT = enabled } }

// WithMetricsAddr serves Prometheus metrics (SPEC_FULL §B) at addr via
// promhttp if non-empty.
func WithMetricsAddr(addr string) Option { return func(c *Config) { c.MetricsAddr = addr } }

// WithStdout sets Config.Stdout. Nothing reads that field: the VM's
// Print/Debug/Break instructions are logged through the process's logrus
// entry (internal/process.processHost.Print) and are not written to it.
func WithStdout(w io.Writer) Option { return func(c *Config) { c.Stdout = w } }

func defaultConfig() Config {
	return Config{
		Quantum:             time.Millisecond,
		QuantumInstructions: 50000,
		DivergenceSweep:     50 * time.Millisecond,
		AgingThreshold:      200 * time.Millisecond,
		GCInterval:          100 * time.Millisecond,
		GCConcurrency:       4,
		DefaultLimits: bounds.Limits{
			InstructionLimit: 10_000_000,
			MemoryLimit:      64 << 20,
			MessageLimit:     100_000,
			Timeout:          5 * time.Second,
		},
		DefaultArenaSize:       1 << 20,
		DefaultMailboxCapacity: 1000,
		FuelPerQuantum:         50000,
		Stdout:                 os.Stdout,
	}
}

func buildConfig(opts ...Option) Config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
