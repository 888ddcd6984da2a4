// Package memory implements the per-process isolated arena of spec.md §4.2:
// bump allocation, guard regions at both ends, an allocation registry, and
// wholesale release at process termination.
//
// Grounded on nmxmxh-inos_v1/kernel/threads/arena/allocator.go's
// HybridAllocator (AllocationRequest, fragmentation stats), adapted from a
// SharedArrayBuffer-backed slab/buddy router into a single bump-allocated
// arena, since spec.md calls for strictly monotonic allocation within a
// process instance rather than general-purpose free/reuse.
package memory

import (
	"fmt"
	"sync"
	"time"
)

// GuardSize is the width, in bytes, of the guard region placed at each end
// of an arena. Correct code never writes here; a mismatch at destruction is
// reported as a SegmentationFault (spec.md §4.2(3)).
const GuardSize = 64

// guardPattern is written into both guard regions at construction so
// corruption is detectable as "not all 0xCC".
const guardPattern = 0xCC

// Allocation records one live allocation for diagnostics (spec.md §4.2(4)).
type Allocation struct {
	Base      uint32
	Size      uint32
	Timestamp time.Time
}

// Arena is a contiguous, bump-allocated region owned by exactly one
// process. It is never shared: the VM never follows a pointer outside the
// current process's arena (spec.md §4.2(2)), which this type enforces
// simply by never exposing a pointer to memory, only offsets understood in
// the arena's own coordinate space.
type Arena struct {
	mu sync.Mutex

	buf      []byte
	size     uint32
	bump     uint32
	live     []Allocation
	released bool
}

// New allocates a fresh arena of size bytes plus two GuardSize guard
// regions, and writes the guard pattern into both.
func New(size uint32) *Arena {
	buf := make([]byte, uint32(GuardSize)*2+size)
	for i := 0; i < GuardSize; i++ {
		buf[i] = guardPattern
		buf[len(buf)-GuardSize+i] = guardPattern
	}
	return &Arena{buf: buf, size: size, bump: GuardSize}
}

// ErrMemoryBoundaryExceeded is returned by Allocate when the arena's
// remaining space is smaller than the request (spec.md §4.2(1)).
var ErrMemoryBoundaryExceeded = fmt.Errorf("memory: boundary exceeded")

// ErrArenaReleased is returned by any operation on an arena whose Release
// has already run.
var ErrArenaReleased = fmt.Errorf("memory: arena already released")

// Allocate returns the offset of a zero-initialized region of size n bytes,
// or ErrMemoryBoundaryExceeded if the arena cannot satisfy it. Allocation is
// strictly monotonic: there is no free-list, only Release (whole-arena).
func (a *Arena) Allocate(n uint32) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return 0, ErrArenaReleased
	}
	limit := GuardSize + a.size
	if uint64(a.bump)+uint64(n) > uint64(limit) {
		return 0, ErrMemoryBoundaryExceeded
	}
	base := a.bump
	for i := uint32(0); i < n; i++ {
		a.buf[base+i] = 0
	}
	a.bump += n
	a.live = append(a.live, Allocation{Base: base, Size: n, Timestamp: time.Now()})
	return base, nil
}

// Bytes returns a slice view over [offset, offset+n) within the arena's
// buffer, for the VM to read/write an allocation it owns. The bounds check
// covers the whole buffer, guard regions included, so a view can reach
// into a guard. The caller is responsible for staying within a single
// allocation; the
// verifier's local/stack discipline is what prevents cross-process access,
// not a check here (spec.md §4.2(2)).
func (a *Arena) Bytes(offset, n uint32) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return nil, ErrArenaReleased
	}
	if uint64(offset)+uint64(n) > uint64(len(a.buf)) {
		return nil, fmt.Errorf("memory: out-of-bounds access [%d,%d)", offset, offset+n)
	}
	return a.buf[offset : offset+n], nil
}

// ErrSegmentationFault is reported when the guard regions do not match
// their original pattern at Release time (spec.md §4.2(3)).
var ErrSegmentationFault = fmt.Errorf("memory: guard region corrupted")

// Release frees the entire arena in one step (spec.md §4.2, "on process
// termination, the entire arena is released in one step"), first checking
// guard-region integrity.
func (a *Arena) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return nil
	}
	for i := 0; i < GuardSize; i++ {
		if a.buf[i] != guardPattern || a.buf[len(a.buf)-GuardSize+i] != guardPattern {
			a.released = true
			a.buf = nil
			return ErrSegmentationFault
		}
	}
	a.released = true
	a.buf = nil
	a.live = nil
	return nil
}

// Stats summarizes arena usage for diagnostics (spec.md §4.2(4)).
type Stats struct {
	Size          uint32
	Used          uint32
	Fragmentation float64 // unused gap / total, per spec.md §4.2(4)
	LiveCount     int
}

func (a *Arena) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	used := a.bump - GuardSize
	frag := 0.0
	if a.size > 0 {
		frag = float64(a.size-used) / float64(a.size)
	}
	return Stats{Size: a.size, Used: used, Fragmentation: frag, LiveCount: len(a.live)}
}

// LiveAllocations returns a snapshot copy of the current allocation
// registry (spec.md §4.2(4): "list of live allocations for diagnostics").
func (a *Arena) LiveAllocations() []Allocation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Allocation, len(a.live))
	copy(out, a.live)
	return out
}

// Size returns the arena's usable capacity, excluding guard regions.
func (a *Arena) Size() uint32 { return a.size }
