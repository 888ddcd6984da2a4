package mailbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreactors/runtime/internal/value"
)

func valPayload(i int64) Payload {
	return Payload{Value: value.Int(i)}
}

func TestVersionsStrictlyIncreasing(t *testing.T) {
	owner := value.NewPID()
	mb := New(owner, 10)
	sender := value.NewPID()
	var last uint64
	for i := int64(1); i <= 5; i++ {
		ver, err := mb.Send(sender, valPayload(i))
		require.NoError(t, err)
		assert.Greater(t, ver, last)
		last = ver
	}
	msgs := mb.Receive(0)
	require.Len(t, msgs, 5)
	for i := 1; i < len(msgs); i++ {
		assert.Greater(t, msgs[i].Version, msgs[i-1].Version)
	}
}

func TestPerSenderOrderPreserved(t *testing.T) {
	owner := value.NewPID()
	mb := New(owner, 1000)
	s1, s2 := value.NewPID(), value.NewPID()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := int64(1); i <= 100; i++ {
			_, _ = mb.Send(s1, valPayload(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := int64(1); i <= 100; i++ {
			_, _ = mb.Send(s2, valPayload(i))
		}
	}()
	wg.Wait()

	msgs := mb.Receive(0)
	require.Len(t, msgs, 200)
	var fromS1, fromS2 []int64
	for _, m := range msgs {
		n, _ := m.Payload.Value.AsInt()
		if m.Sender.Compare(s1) == 0 {
			fromS1 = append(fromS1, n)
		} else {
			fromS2 = append(fromS2, n)
		}
	}
	for i := 1; i < len(fromS1); i++ {
		assert.Greater(t, fromS1[i], fromS1[i-1])
	}
	for i := 1; i < len(fromS2); i++ {
		assert.Greater(t, fromS2[i], fromS2[i-1])
	}
}

func TestQuotaExceeded(t *testing.T) {
	owner := value.NewPID()
	mb := New(owner, 2)
	sender := value.NewPID()
	_, err := mb.Send(sender, valPayload(1))
	require.NoError(t, err)
	_, err = mb.Send(sender, valPayload(2))
	require.NoError(t, err)
	_, err = mb.Send(sender, valPayload(3))
	assert.ErrorIs(t, err, ErrMessageQuotaExceeded)
}

func TestAwaitResumesOnSend(t *testing.T) {
	owner := value.NewPID()
	mb := New(owner, 10)
	sender := value.NewPID()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = mb.Send(sender, valPayload(42))
	}()

	msgs, err := mb.Await(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	n, _ := msgs[0].Payload.Value.AsInt()
	assert.Equal(t, int64(42), n)
}

func TestCompactPublishesWatermark(t *testing.T) {
	owner := value.NewPID()
	mb := New(owner, 100)
	sender := value.NewPID()
	for i := int64(1); i <= 10; i++ {
		_, _ = mb.Send(sender, valPayload(i))
	}
	mb.Compact(3)
	assert.LessOrEqual(t, mb.Len(), 4)
	assert.Greater(t, mb.Watermark(), uint64(0))
}

func TestReceiveMatchingLeavesNonMatchingInPlace(t *testing.T) {
	owner := value.NewPID()
	mb := New(owner, 10)
	sender := value.NewPID()
	_, _ = mb.Send(sender, valPayload(1))
	_, _ = mb.Send(sender, valPayload(2))
	_, _ = mb.Send(sender, valPayload(3))

	msg, ok := mb.ReceiveMatching(0, func(p Payload) bool {
		n, _ := p.Value.AsInt()
		return n == 2
	})
	require.True(t, ok)
	n, _ := msg.Payload.Value.AsInt()
	assert.Equal(t, int64(2), n)

	all := mb.Receive(0)
	assert.Len(t, all, 3, "non-matching messages must remain in the log")
}
