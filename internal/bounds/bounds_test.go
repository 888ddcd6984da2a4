package bounds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuelRefuelAndExhaustion(t *testing.T) {
	c := NewCounters(Limits{}, 10)
	c.RefuelQuantum()
	assert.False(t, c.DebitFuel(4))
	assert.False(t, c.DebitFuel(5))
	assert.True(t, c.DebitFuel(2))
	assert.LessOrEqual(t, c.FuelRemaining(), int64(0))
}

func TestInstructionLimitExceeded(t *testing.T) {
	c := NewCounters(Limits{InstructionLimit: 100}, 0)
	require.NoError(t, c.AddInstructions(50))
	require.NoError(t, c.AddInstructions(50))
	err := c.AddInstructions(1)
	var exceeded *Exceeded
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, KindInstructionLimit, exceeded.Kind)
}

func TestMemoryLimitExceeded(t *testing.T) {
	c := NewCounters(Limits{MemoryLimit: 64}, 0)
	require.NoError(t, c.AddMemory(64))
	err := c.AddMemory(1)
	var exceeded *Exceeded
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, KindOutOfMemory, exceeded.Kind)
}

func TestMessageLimitExceeded(t *testing.T) {
	c := NewCounters(Limits{MessageLimit: 2}, 0)
	require.NoError(t, c.AddMessage())
	require.NoError(t, c.AddMessage())
	err := c.AddMessage()
	var exceeded *Exceeded
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, KindMessageOverflow, exceeded.Kind)
}

func TestResetClearsAllCounters(t *testing.T) {
	c := NewCounters(Limits{InstructionLimit: 100}, 5)
	c.RefuelQuantum()
	require.NoError(t, c.AddInstructions(10))
	require.NoError(t, c.AddMemory(10))
	require.NoError(t, c.AddMessage())
	c.Reset()
	snap := c.Snapshot()
	assert.Zero(t, snap.Instructions)
	assert.Zero(t, snap.MemoryBytes)
	assert.Zero(t, snap.Messages)
	assert.Zero(t, c.FuelRemaining())
}

func TestTighterResolvesStricterOfEachField(t *testing.T) {
	child := Limits{InstructionLimit: 1000, MemoryLimit: 0, Timeout: time.Second}
	parent := Limits{InstructionLimit: 500, MemoryLimit: 4096, Timeout: 2 * time.Second}
	got := Tighter(child, parent)
	assert.Equal(t, uint64(500), got.InstructionLimit)
	assert.Equal(t, uint32(4096), got.MemoryLimit)
	assert.Equal(t, time.Second, got.Timeout)
}

func TestDivergenceDetectsStall(t *testing.T) {
	start := time.Now()
	d := NewDivergence(10 * time.Millisecond)
	d.RecordProgress(start)
	assert.NoError(t, d.Check(start.Add(5*time.Millisecond)))
	err := d.Check(start.Add(50 * time.Millisecond))
	var exceeded *Exceeded
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, KindDivergence, exceeded.Kind)
}

func TestDivergenceResetsOnProgress(t *testing.T) {
	start := time.Now()
	d := NewDivergence(10 * time.Millisecond)
	d.RecordProgress(start)
	d.RecordProgress(start.Add(5 * time.Millisecond))
	assert.NoError(t, d.Check(start.Add(12*time.Millisecond)))
}
