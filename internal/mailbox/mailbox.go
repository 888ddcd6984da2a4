// Package mailbox implements the versioned append-only message log of
// spec.md §4.3: mutex-guarded append with a monotonically increasing
// per-recipient version, non-blocking bounded reads, a blocking await
// primitive, and watermark compaction.
//
// Grounded on nmxmxh-inos_v1/kernel/threads/foundation/message_queue.go's
// ring buffer (sequence numbers, drop/enqueue/dequeue stats), adapted from a
// fixed-capacity zero-copy SharedArrayBuffer ring into a growable,
// compactable versioned log — the isolation and
// message-passing model here has no shared memory to economize, so the
// zero-copy/SAB machinery is replaced by ordinary Go values guarded by a
// mutex plus a condition variable for Await.
package mailbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreactors/runtime/internal/value"
)

// Message is one entry in a mailbox (spec.md §3).
type Message struct {
	Version   uint64
	Sender    value.PID
	Recipient value.PID
	Payload   Payload
}

// Payload is either a Value or one of the typed system messages
// (link/unlink/monitor/demonitor/down), per spec.md §3.
type Payload struct {
	Value  value.Value
	System *SystemMessage
}

// SystemKind enumerates the typed system message variants.
type SystemKind uint8

const (
	SysLink SystemKind = iota
	SysUnlink
	SysMonitor
	SysDemonitor
	SysDown
)

// SystemMessage carries link/monitor lifecycle notifications.
type SystemMessage struct {
	Kind   SystemKind
	From   value.PID
	Reason string
}

// ErrMessageQuotaExceeded is returned by Send when the log has reached its
// per-process capacity (spec.md §4.3).
var ErrMessageQuotaExceeded = fmt.Errorf("mailbox: message quota exceeded")

// Mailbox is the append-only log owned by one recipient PID.
type Mailbox struct {
	mu       sync.Mutex
	cond     *sync.Cond
	owner    value.PID
	capacity int
	nextVer  uint64
	watermark uint64 // lowest version still guaranteed present
	log      []Message
	closed   bool
}

// New constructs a mailbox for owner with the given bounded capacity.
func New(owner value.PID, capacity int) *Mailbox {
	m := &Mailbox{owner: owner, capacity: capacity}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Send atomically appends payload and returns its assigned version. Append
// fails with ErrMessageQuotaExceeded once the log holds `capacity` messages
// above the published watermark (spec.md §4.3).
func (m *Mailbox) Send(sender value.PID, payload Payload) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, fmt.Errorf("mailbox: closed")
	}
	if len(m.log) >= m.capacity {
		return 0, ErrMessageQuotaExceeded
	}
	m.nextVer++
	ver := m.nextVer
	m.log = append(m.log, Message{Version: ver, Sender: sender, Recipient: m.owner, Payload: payload})
	m.cond.Broadcast()
	return ver, nil
}

// Receive returns all messages with version >= fromVersion that are still
// present, in version order. It never blocks; an empty result means either
// there is nothing new, or everything below fromVersion has been compacted
// away (the caller cannot distinguish the two from Receive alone — use
// Watermark to detect a missed gap, per spec.md §4.3).
func (m *Mailbox) Receive(fromVersion uint64) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sliceFrom(fromVersion)
}

func (m *Mailbox) sliceFrom(fromVersion uint64) []Message {
	out := make([]Message, 0)
	for _, msg := range m.log {
		if msg.Version >= fromVersion {
			out = append(out, msg)
		}
	}
	return out
}

// Await parks the caller (the process's Waiting state, enforced by the
// caller) until a message with version >= fromVersion is present, the
// context is cancelled, or the mailbox is closed. It returns the same shape
// as Receive.
func (m *Mailbox) Await(ctx context.Context, fromVersion uint64) ([]Message, error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.cond.Broadcast()
			m.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if m.closed {
			return nil, fmt.Errorf("mailbox: closed")
		}
		if msgs := m.sliceFrom(fromVersion); len(msgs) > 0 {
			return msgs, nil
		}
		m.cond.Wait()
	}
}

// ReceiveMatching implements the selective-receive Open Question decision
// recorded in DESIGN.md: it scans from fromVersion for the first message
// whose payload satisfies match, and returns it without disturbing any
// earlier or later message in the log — non-matching messages are neither
// dropped nor reordered, so a later selective or plain receive still sees
// them in their original version order.
func (m *Mailbox) ReceiveMatching(fromVersion uint64, match func(Payload) bool) (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.log {
		if msg.Version >= fromVersion && match(msg.Payload) {
			return msg, true
		}
	}
	return Message{}, false
}

// Compact drops messages with version < latest-keepVersions and publishes a
// new watermark (spec.md §4.3).
func (m *Mailbox) Compact(keepVersions uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nextVer <= keepVersions {
		return
	}
	cutoff := m.nextVer - keepVersions
	kept := m.log[:0:0]
	for _, msg := range m.log {
		if msg.Version >= cutoff {
			kept = append(kept, msg)
		}
	}
	m.log = kept
	if cutoff > m.watermark {
		m.watermark = cutoff
	}
}

// Watermark returns the lowest version guaranteed to still be present.
func (m *Mailbox) Watermark() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watermark
}

// Len reports the number of messages currently retained.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.log)
}

// Close marks the mailbox closed, waking any blocked Await callers so they
// can observe the closure; it does not clear the log (the runtime facade's
// GC cycle is responsible for that after the quiescence barrier, spec.md
// §4.9).
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Clear drops all retained messages. Used by internal/process.Restart,
// where "messages sent during the fault are lost" (spec.md §4.5).
func (m *Mailbox) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = nil
}
