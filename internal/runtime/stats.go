package runtime

import (
	"net/http"
	"sync/atomic"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stats is the statistics collector of spec.md §4.9: plain Prometheus
// Counters for processes spawned/terminated, messages delivered/dropped and
// GC cycles, plus a live-process count, exposed as Prometheus instruments
// (SPEC_FULL §B) and decoded back into a plain RuntimeStats struct for
// in-process callers via Runtime.Stats(). It records no memory usage and no
// scheduler utilization.
//
// Grounded on nmxmxh-inos_v1's direct prometheus/client_golang dependency
// and on ethereum-go-ethereum/jordigilh-kubernaut's use of CounterVec/
// GaugeVec pairs for exactly this "rate plus current level" shape.
type Stats struct {
	registry *prometheus.Registry

	spawned    prometheus.Counter
	terminated prometheus.Counter
	delivered  prometheus.Counter
	dropped    prometheus.Counter
	gcCycles   prometheus.Counter

	liveProcesses atomic.Int64
}

func newStats() *Stats {
	reg := prometheus.NewRegistry()
	s := &Stats{
		registry: reg,
		spawned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runtime_processes_spawned_total",
			Help: "Total processes spawned since runtime start.",
		}),
		terminated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runtime_processes_terminated_total",
			Help: "Total processes terminated since runtime start.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runtime_messages_delivered_total",
			Help: "Total messages successfully appended to a mailbox.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runtime_messages_dropped_total",
			Help: "Total messages that failed to append (quota exceeded or unknown pid).",
		}),
		gcCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runtime_gc_cycles_total",
			Help: "Total terminated-process reclamation cycles completed.",
		}),
	}
	reg.MustRegister(s.spawned, s.terminated, s.delivered, s.dropped, s.gcCycles)
	return s
}

func (s *Stats) processSpawned()    { s.spawned.Inc(); s.liveProcesses.Add(1) }
func (s *Stats) processTerminated() { s.terminated.Inc(); s.liveProcesses.Add(-1) }
func (s *Stats) messageDelivered()  { s.delivered.Inc() }
func (s *Stats) messageDropped()    { s.dropped.Inc() }
func (s *Stats) gcCycleCompleted()  { s.gcCycles.Inc() }

// Handler exposes the collector over HTTP for RuntimeConfig.MetricsAddr
// (SPEC_FULL §B).
func (s *Stats) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// RuntimeStats is the plain-struct snapshot returned by Runtime.Stats()
// (spec.md §4.9).
type RuntimeStats struct {
	LiveProcesses     int
	ProcessesByState  map[string]int
	MessagesDelivered uint64
	MessagesDropped   uint64
	GCCycles          uint64
}

func counterValue(c prometheus.Counter) uint64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return uint64(m.GetCounter().GetValue())
}

// Stats returns a point-in-time RuntimeStats snapshot (spec.md §4.9's
// stats() -> RuntimeStats).
func (rt *Runtime) Stats() RuntimeStats {
	rt.mu.RLock()
	byState := make(map[string]int, 4)
	for _, e := range rt.procs {
		byState[e.proc.State().String()]++
	}
	live := len(rt.procs)
	rt.mu.RUnlock()

	return RuntimeStats{
		LiveProcesses:     live,
		ProcessesByState:  byState,
		MessagesDelivered: counterValue(rt.stats.delivered),
		MessagesDropped:   counterValue(rt.stats.dropped),
		GCCycles:          counterValue(rt.stats.gcCycles),
	}
}

// MetricsHandler exposes the Prometheus collector for RuntimeConfig's
// optional MetricsAddr (SPEC_FULL §B).
func (rt *Runtime) MetricsHandler() http.Handler { return rt.stats.Handler() }
