// Package vm implements the bytecode interpreter loop of spec.md §4.1: a
// fetch/decode/execute cycle over a stack machine, cooperating with the
// scheduler (via yield/wait statuses) and the bounded-execution machinery in
// internal/bounds.
//
// Grounded on the CPU instruction cycle in
// other_examples/8e7bc795_smoynes-elsie__internal-vm-exec.go.go (Run/Step,
// fetch-decode-execute staging, per-step logging discipline), adapted from
// LC-3's fixed sixteen-opcode machine with register/memory stages into a
// stack machine over value.Value with a function-call frame stack, and from
// its interrupt-servicing loop into this package's yield/wait exit statuses
// which hand control back to internal/scheduler instead of an in-process ISR
// table.
package vm

import "github.com/coreactors/runtime/internal/value"

// Host is the set of process-level effects a running program can invoke.
// internal/process implements this to bind a VM to one isolated process's
// mailbox, registrar, and supervision links, keeping this package free of
// any dependency on those concerns (spec.md §4.5's "process binds behavior
// + arena + mailbox + bounds").
type Host interface {
	// Self returns the PID of the process the VM is executing as.
	Self() value.PID

	// Spawn starts a new process running entryFunction with args, returning
	// its PID (spec.md §4.6 "spawn").
	Spawn(entryFunction string, args []value.Value) (value.PID, error)

	// SendMessage delivers msg to to's mailbox (spec.md §4.3).
	SendMessage(to value.PID, msg value.Value) error

	// ReceiveMessage returns the next unconsumed message for this process,
	// or ok=false if none is currently available — the caller (Run) turns
	// that into a StatusWaiting exit rather than busy-polling.
	ReceiveMessage() (value.Value, bool)

	// Link establishes a bidirectional link to other (spec.md §4.6).
	Link(other value.PID) error

	// Monitor establishes a unidirectional monitor of other, returning a
	// reference Value the program can later match a SysDown against.
	Monitor(other value.PID) (value.Value, error)

	// Print is the IO-graded console effect used by Print/Debug/Break
	// instructions.
	Print(v value.Value)

	// Read is the IO-graded external input effect.
	Read() (value.Value, error)
}
