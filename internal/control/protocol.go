// Package control implements the management surface of spec.md §4.10: a
// transport-agnostic, bytes-in/bytes-out protocol exposing the runtime
// facade's operations plus an observability snapshot, and the reference
// transport — a local stream socket framed with a 4-byte length prefix
// (spec.md §6).
//
// Grounded on spec.md §4.10/§6 directly (no ergonode precedent for a
// control channel); framing and payload encoding reuse
// github.com/fxamacker/cbor/v2 the same way internal/bytecode's container
// does for the bytecode program's constant pool (SPEC_FULL §B), so the
// wire format here and the program container share one serialization
// idiom throughout the module.
package control

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/coreactors/runtime/internal/bytecode"
	"github.com/coreactors/runtime/internal/process"
	"github.com/coreactors/runtime/internal/value"
)

// CommandKind enumerates spec.md §4.10's command set.
type CommandKind uint8

const (
	CmdListProcesses CommandKind = iota
	CmdGetProcessInfo
	CmdKill
	CmdSuspend
	CmdResume
	CmdRestart
	CmdSend
	CmdGetSystemInfo
	CmdShutdown
	CmdPing
	// CmdWatch and CmdUnwatch implement SPEC_FULL §C10/C11's streaming
	// stats subscription supplement: once accepted, the connection
	// receives unsolicited StatsSnapshot responses every Command.IntervalMS
	// until Unwatch or the connection closes.
	CmdWatch
	CmdUnwatch
)

func (k CommandKind) String() string {
	switch k {
	case CmdListProcesses:
		return "ListProcesses"
	case CmdGetProcessInfo:
		return "GetProcessInfo"
	case CmdKill:
		return "Kill"
	case CmdSuspend:
		return "Suspend"
	case CmdResume:
		return "Resume"
	case CmdRestart:
		return "Restart"
	case CmdSend:
		return "Send"
	case CmdGetSystemInfo:
		return "GetSystemInfo"
	case CmdShutdown:
		return "Shutdown"
	case CmdPing:
		return "Ping"
	case CmdWatch:
		return "Watch"
	case CmdUnwatch:
		return "Unwatch"
	default:
		return "Unknown"
	}
}

// Command is one request frame (spec.md §4.10). Not every field applies to
// every CommandKind; unused fields are left zero. Payload is a nested CBOR
// encoding of a value.Value (CmdSend's message) produced by EncodeValue —
// value.Value's fields are unexported, so encoding it directly would lose
// its contents the same way a bare Response.Payload any would; it is put
// on the wire the way internal/bytecode's container nests each constant
// pool entry's payload inside the outer binary framing.
type Command struct {
	Kind       CommandKind
	PID        string // value.PID.Full(); empty when the command names no process
	Reason     string
	Detailed   bool
	Payload    []byte
	IntervalMS uint64
}

// EncodeValue CBOR-encodes v for Command.Payload.
func EncodeValue(v value.Value) ([]byte, error) { return bytecode.EncodeValue(v) }

// DecodeValue decodes a Command.Payload back into a value.Value.
func DecodeValue(payload []byte) (value.Value, error) { return bytecode.DecodeValue(payload) }

// ResponseKind tags a Response's shape (spec.md §4.10: "Ok(payload) |
// Err(reason) | Pong").
type ResponseKind uint8

const (
	RespOK ResponseKind = iota
	RespErr
	RespPong
	// RespStats tags an unsolicited streaming snapshot pushed by a Watch
	// subscription (SPEC_FULL §C10/C11).
	RespStats
)

// ProcessSummary is one entry in a ListProcesses response.
type ProcessSummary struct {
	PID   string
	State string
}

// ProcessDetail is one entry in a detailed ListProcesses response, or the
// payload of a GetProcessInfo response.
type ProcessDetail struct {
	PID             string
	State           string
	MailboxLen      int
	Links           []string
	Instructions    uint64
	MemoryBytes     uint64
	Messages        uint64
	CurrentFunction string
	LastFault       string
}

func detailFromInfo(info process.Info) ProcessDetail {
	links := make([]string, 0, len(info.Links))
	for _, l := range info.Links {
		links = append(links, l.Full())
	}
	lastFault := ""
	if info.LastFault != nil {
		lastFault = info.LastFault.Error()
	}
	return ProcessDetail{
		PID:             info.PID.Full(),
		State:           info.State.String(),
		MailboxLen:      info.MailboxLen,
		Links:           links,
		Instructions:    info.Counters.Instructions,
		MemoryBytes:     info.Counters.MemoryBytes,
		Messages:        info.Counters.Messages,
		CurrentFunction: info.CurrentFunction,
		LastFault:       lastFault,
	}
}

// SystemInfo answers GetSystemInfo: a snapshot of the runtime's aggregate
// statistics (spec.md §4.9's RuntimeStats, surfaced over the control
// channel per spec.md §4.10).
type SystemInfo struct {
	LiveProcesses     int
	ProcessesByState  map[string]int
	MessagesDelivered uint64
	MessagesDropped   uint64
	GCCycles          uint64
}

// StatsSnapshot is the payload of an unsolicited Watch push.
type StatsSnapshot = SystemInfo

// Response is one reply frame. Payload is itself a nested CBOR encoding
// whose concrete type depends on the originating Command's Kind
// ([]ProcessSummary or []ProcessDetail for ListProcesses, ProcessDetail for
// GetProcessInfo, SystemInfo for GetSystemInfo/Watch pushes, nil
// otherwise) — nesting one self-describing encoding inside another avoids
// the ambiguous "decode into interface{}" problem a bare `any` field would
// have on the wire, the same reason internal/bytecode's container nests
// per-constant CBOR payloads inside its own outer binary framing.
type Response struct {
	Kind    ResponseKind
	Error   string
	Payload []byte
}

// EncodePayload CBOR-encodes v for Response.Payload.
func EncodePayload(v any) ([]byte, error) { return cbor.Marshal(v) }

// DecodePayload CBOR-decodes a Response.Payload into out, which must be a
// pointer to the concrete type the originating Command's Kind implies.
func DecodePayload(payload []byte, out any) error { return cbor.Unmarshal(payload, out) }
