// Package value implements the tagged Value union, process identifiers, and
// the effect-grade lattice shared by the bytecode model, the VM, and the
// actor runtime.
package value

import (
	"fmt"

	"github.com/google/uuid"
)

// PID is a globally unique, totally ordered process identifier. It is
// assigned once at spawn and never reused within a runtime instance.
type PID struct {
	id uuid.UUID
}

// NilPID is the zero PID. It never identifies a live process; it is used as
// a sentinel in message headers that have no sender (e.g. management-surface
// injected messages).
var NilPID = PID{}

// NewPID allocates a fresh, unique PID.
func NewPID() PID {
	return PID{id: uuid.New()}
}

// String renders the PID in a stable textual form, e.g. "<pid:3c9c0b9e>".
func (p PID) String() string {
	if p.id == uuid.Nil {
		return "<pid:nil>"
	}
	return fmt.Sprintf("<pid:%s>", p.id.String()[:8])
}

// Full renders the PID's full 128-bit form, used by the control surface and
// diagnostics where truncated ids are ambiguous.
func (p PID) Full() string {
	return p.id.String()
}

// ParsePID parses a PID's Full() textual form, the inverse used by the
// control channel to turn a Command.PID string back into a PID.
func ParsePID(s string) (PID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return PID{}, fmt.Errorf("pid: %w", err)
	}
	return PID{id: id}, nil
}

// IsNil reports whether p is the zero PID.
func (p PID) IsNil() bool {
	return p.id == uuid.Nil
}

// Compare gives PID a total order: -1, 0, or 1.
func (p PID) Compare(other PID) int {
	for i := range p.id {
		if p.id[i] != other.id[i] {
			if p.id[i] < other.id[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Less supports use of PID as a sort/heap key.
func (p PID) Less(other PID) bool {
	return p.Compare(other) < 0
}

// MarshalBinary implements encoding.BinaryMarshaler for wire encoding.
func (p PID) MarshalBinary() ([]byte, error) {
	b := p.id
	return b[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *PID) UnmarshalBinary(data []byte) error {
	id, err := uuid.FromBytes(data)
	if err != nil {
		return fmt.Errorf("pid: %w", err)
	}
	p.id = id
	return nil
}
