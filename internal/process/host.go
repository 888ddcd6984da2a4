package process

import (
	"fmt"

	"github.com/coreactors/runtime/internal/value"
)

// processHost implements vm.Host by binding VM effects to this process's
// own mailbox plus the router it was constructed with (spec.md §4.5's
// "binds actor behavior to ... a mailbox").
type processHost struct {
	process *Process
	router  Router
}

func (h *processHost) Self() value.PID { return h.process.pid }

func (h *processHost) Spawn(entryFunction string, args []value.Value) (value.PID, error) {
	if h.router == nil {
		return value.PID{}, fmt.Errorf("process: no router configured, cannot spawn")
	}
	return h.router.SpawnChild(Spec{
		Program:        h.process.prog,
		EntryFunction:  entryFunction,
		Args:           args,
		Limits:         h.process.spec.Limits,
		ArenaSize:      h.process.spec.ArenaSize,
		MailboxSize:    h.process.spec.MailboxSize,
		FuelPerQuantum: h.process.spec.FuelPerQuantum,
	})
}

func (h *processHost) SendMessage(to value.PID, msg value.Value) error {
	if h.router == nil {
		return fmt.Errorf("process: no router configured, cannot send")
	}
	return h.router.DeliverTo(to, msg)
}

func (h *processHost) ReceiveMessage() (value.Value, bool) {
	msg, ok := h.process.nextMessage()
	if !ok {
		return value.Null, false
	}
	return msg.Payload.Value, true
}

func (h *processHost) Link(other value.PID) error {
	h.process.Link(other)
	return nil
}

func (h *processHost) Monitor(other value.PID) (value.Value, error) {
	h.process.Monitor(other)
	return value.Pid(other), nil
}

func (h *processHost) Print(v value.Value) {
	if h.process.log != nil {
		h.process.log.WithField("value", v.String()).Info("print")
	}
}

func (h *processHost) Read() (value.Value, error) {
	return value.Null, nil
}
