package scheduler

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreactors/runtime/internal/bytecode"
	"github.com/coreactors/runtime/internal/mailbox"
	"github.com/coreactors/runtime/internal/process"
	"github.com/coreactors/runtime/internal/value"
)

type fakeRouter struct{}

func (fakeRouter) DeliverTo(value.PID, value.Value) error     { return nil }
func (fakeRouter) SpawnChild(process.Spec) (value.PID, error) { return value.NewPID(), nil }
func (fakeRouter) NotifyDown(value.PID, value.PID, string)    {}

func echoProgram() *bytecode.Program {
	instrs := []bytecode.Instruction{
		{Op: bytecode.OpLoad, A: 0},
		{Op: bytecode.OpRet},
	}
	return &bytecode.Program{
		Metadata: bytecode.Metadata{Name: "echo"},
		Instrs:   instrs,
		Functions: []bytecode.Function{
			{ID: 0, Name: "main", ParamCount: 1, LocalCount: 1, StartPC: 0, InstrCount: uint32(len(instrs)), Grade: value.Read},
		},
		Exports: map[string]uint32{"main": 0},
		Globals: bytecode.NewGlobals(0),
	}
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func newTestProcess() *process.Process {
	pid := value.NewPID()
	spec := process.Spec{
		EntryFunction:  "main",
		ArenaSize:      4096,
		MailboxSize:    16,
		FuelPerQuantum: 10000,
	}
	return process.New(pid, echoProgram(), nil, spec, testLogger())
}

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(Config{Workers: 2, DivergenceSweep: 5 * time.Millisecond, IdleBackoff: time.Millisecond}, fakeRouter{}, testLogger())
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func TestDequePushPopIsLIFO(t *testing.T) {
	d := NewDeque()
	a := &Ready{Priority: PriorityNormal}
	b := &Ready{Priority: PriorityNormal}
	d.PushBottom(a)
	d.PushBottom(b)
	assert.Same(t, b, d.PopBottom())
	assert.Same(t, a, d.PopBottom())
	assert.Nil(t, d.PopBottom())
}

func TestDequeStealTakesOldestFirst(t *testing.T) {
	d := NewDeque()
	a := &Ready{Priority: PriorityNormal}
	b := &Ready{Priority: PriorityNormal}
	d.PushBottom(a)
	d.PushBottom(b)
	assert.Same(t, a, d.Steal())
	assert.Same(t, b, d.PopBottom())
}

func TestDequeStealHalfSplitsRoughlyInTwo(t *testing.T) {
	d := NewDeque()
	for i := 0; i < 4; i++ {
		d.PushBottom(&Ready{Priority: PriorityNormal})
	}
	stolen := d.StealHalf()
	assert.Len(t, stolen, 2)
	assert.Equal(t, 2, d.Len())
}

func TestReadyQueueOrdersByPriorityThenFairness(t *testing.T) {
	q := newReadyQueue()
	low := &Ready{Priority: PriorityLow, LastScheduled: 1}
	high := &Ready{Priority: PriorityHigh, LastScheduled: 5}
	normalOld := &Ready{Priority: PriorityNormal, LastScheduled: 1}
	normalNew := &Ready{Priority: PriorityNormal, LastScheduled: 2}
	q.push(low)
	q.push(high)
	q.push(normalNew)
	q.push(normalOld)

	assert.Same(t, high, q.pop())
	assert.Same(t, normalOld, q.pop())
	assert.Same(t, normalNew, q.pop())
	assert.Same(t, low, q.pop())
	assert.Nil(t, q.pop())
}

func TestSchedulerRunsSubmittedProcessToCompletion(t *testing.T) {
	s := newTestScheduler(t)
	proc := newTestProcess()
	sender := value.NewPID()
	_, err := proc.Mailbox().Send(sender, mailbox.Payload{Value: value.Int(7)})
	require.NoError(t, err)

	s.Submit(proc, PriorityNormal)

	require.Eventually(t, func() bool {
		return proc.Info().MailboxLen == 0
	}, time.Second, time.Millisecond, "message should be dequeued by a worker")
}

func TestSchedulerPromotesWaitingProcessOnceMailboxFills(t *testing.T) {
	s := newTestScheduler(t)
	proc := newTestProcess()
	s.Submit(proc, PriorityNormal)

	require.Eventually(t, func() bool {
		return proc.State() == process.StateWaiting
	}, time.Second, time.Millisecond, "an empty mailbox should move the process to Waiting")

	sender := value.NewPID()
	_, err := proc.Mailbox().Send(sender, mailbox.Payload{Value: value.Int(1)})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return proc.Info().MailboxLen == 0
	}, time.Second, time.Millisecond, "the sweep loop should promote the process once its mailbox is non-empty")
}

func TestQuantumTimerExpiresAfterDuration(t *testing.T) {
	q := newQuantumTimer(time.Millisecond)
	now := time.Now()
	q.start(now)
	assert.False(t, q.shouldPreempt(now))
	assert.True(t, q.shouldPreempt(now.Add(2*time.Millisecond)))
}

func TestQuantumTimerForcePreemptOverridesDeadline(t *testing.T) {
	q := newQuantumTimer(time.Hour)
	now := time.Now()
	q.start(now)
	assert.False(t, q.shouldPreempt(now))
	q.forcePreempt()
	assert.True(t, q.shouldPreempt(now))
}
