package control

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coreactors/runtime/internal/process"
	"github.com/coreactors/runtime/internal/runtime"
	"github.com/coreactors/runtime/internal/value"
)

// Facade is the subset of *runtime.Runtime the control server dispatches
// commands against. Declared narrow here, the way internal/process.Router
// and internal/vm.Host are, so swapping in a fake for tests never requires
// a full Runtime.
type Facade interface {
	Send(pid value.PID, payload value.Value) error
	Terminate(pid value.PID, reason string) error
	Suspend(pid value.PID) error
	Resume(pid value.PID) error
	Restart(pid value.PID) error
	ListProcesses() []value.PID
	ProcessInfo(pid value.PID) (process.Info, error)
	Stats() runtime.RuntimeStats
	Shutdown()
}

func systemInfoFromStats(s runtime.RuntimeStats) SystemInfo {
	return SystemInfo{
		LiveProcesses:     s.LiveProcesses,
		ProcessesByState:  s.ProcessesByState,
		MessagesDelivered: s.MessagesDelivered,
		MessagesDropped:   s.MessagesDropped,
		GCCycles:          s.GCCycles,
	}
}

// connState tracks one accepted connection's write serialization (a frame
// write from the reply path and a frame write from an active Watch push
// must never interleave on the wire) and its optional Watch subscription.
type connState struct {
	writeMu   sync.Mutex
	watchDone chan struct{}
}

func (cs *connState) writeFrame(conn net.Conn, v any) error {
	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()
	return WriteFrame(conn, v)
}

// Server is the reference transport of spec.md §6: a length-prefixed,
// CBOR-framed protocol served over a Unix domain socket, one goroutine per
// connection, grounded on sandia-minimega's ContainerVM.console pattern
// (net.Listen("unix", ...) + Accept loop + per-connection goroutine).
type Server struct {
	facade Facade
	log    *logrus.Entry

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]*connState
}

// NewServer constructs a Server dispatching commands to facade.
func NewServer(facade Facade, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.New().WithField("component", "control")
	}
	return &Server{
		facade: facade,
		log:    log,
		conns:  make(map[net.Conn]*connState),
	}
}

// Serve accepts connections on a Unix domain socket at path until Close is
// called. It does not remove a stale socket file left at path by a prior,
// unclean exit; binding fails while one is present, so the caller clears it
// first (cmd/runtimed does).
func (s *Server) Serve(path string) error {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if strings.Contains(err.Error(), "use of closed network connection") {
				return nil
			}
			s.log.WithError(err).Warn("control: accept failed")
			continue
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections and tears down any open Watch
// subscriptions.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.ln
	for _, cs := range s.conns {
		s.stopWatchLocked(cs)
	}
	s.conns = make(map[net.Conn]*connState)
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	cs := &connState{}
	s.mu.Lock()
	s.conns[conn] = cs
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	for {
		var cmd Command
		if err := ReadFrame(conn, &cmd); err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.WithError(err).Debug("control: connection closed")
			}
			s.stopWatch(cs)
			return
		}
		resp := s.dispatch(conn, cs, cmd)
		if err := cs.writeFrame(conn, resp); err != nil {
			s.log.WithError(err).Warn("control: write failed")
			s.stopWatch(cs)
			return
		}
	}
}

func errResponse(err error) Response {
	return Response{Kind: RespErr, Error: err.Error()}
}

func okResponse(payload any) Response {
	if payload == nil {
		return Response{Kind: RespOK}
	}
	body, err := EncodePayload(payload)
	if err != nil {
		return errResponse(err)
	}
	return Response{Kind: RespOK, Payload: body}
}

func (s *Server) dispatch(conn net.Conn, cs *connState, cmd Command) Response {
	switch cmd.Kind {
	case CmdPing:
		return Response{Kind: RespPong}

	case CmdListProcesses:
		pids := s.facade.ListProcesses()
		if !cmd.Detailed {
			out := make([]ProcessSummary, 0, len(pids))
			for _, pid := range pids {
				info, err := s.facade.ProcessInfo(pid)
				if err != nil {
					continue
				}
				out = append(out, ProcessSummary{PID: pid.Full(), State: info.State.String()})
			}
			return okResponse(out)
		}
		out := make([]ProcessDetail, 0, len(pids))
		for _, pid := range pids {
			info, err := s.facade.ProcessInfo(pid)
			if err != nil {
				continue
			}
			out = append(out, detailFromInfo(info))
		}
		return okResponse(out)

	case CmdGetProcessInfo:
		pid, err := parsePID(cmd.PID)
		if err != nil {
			return errResponse(err)
		}
		info, err := s.facade.ProcessInfo(pid)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(detailFromInfo(info))

	case CmdKill:
		pid, err := parsePID(cmd.PID)
		if err != nil {
			return errResponse(err)
		}
		reason := cmd.Reason
		if reason == "" {
			reason = "killed"
		}
		if err := s.facade.Terminate(pid, reason); err != nil {
			return errResponse(err)
		}
		return okResponse(nil)

	case CmdSuspend:
		pid, err := parsePID(cmd.PID)
		if err != nil {
			return errResponse(err)
		}
		if err := s.facade.Suspend(pid); err != nil {
			return errResponse(err)
		}
		return okResponse(nil)

	case CmdResume:
		pid, err := parsePID(cmd.PID)
		if err != nil {
			return errResponse(err)
		}
		if err := s.facade.Resume(pid); err != nil {
			return errResponse(err)
		}
		return okResponse(nil)

	case CmdRestart:
		pid, err := parsePID(cmd.PID)
		if err != nil {
			return errResponse(err)
		}
		if err := s.facade.Restart(pid); err != nil {
			return errResponse(err)
		}
		return okResponse(nil)

	case CmdSend:
		pid, err := parsePID(cmd.PID)
		if err != nil {
			return errResponse(err)
		}
		msg, err := DecodeValue(cmd.Payload)
		if err != nil {
			return errResponse(err)
		}
		if err := s.facade.Send(pid, msg); err != nil {
			return errResponse(err)
		}
		return okResponse(nil)

	case CmdGetSystemInfo:
		return okResponse(systemInfoFromStats(s.facade.Stats()))

	case CmdShutdown:
		go s.facade.Shutdown()
		return okResponse(nil)

	case CmdWatch:
		s.startWatch(conn, cs, cmd.IntervalMS)
		return okResponse(nil)

	case CmdUnwatch:
		s.stopWatch(cs)
		return okResponse(nil)

	default:
		return errResponse(fmt.Errorf("control: unknown command %s", cmd.Kind))
	}
}

func parsePID(s string) (value.PID, error) {
	return value.ParsePID(s)
}

// startWatch implements SPEC_FULL §C10/§C11's streaming stats subscription:
// an unsolicited RespStats frame is pushed to conn every intervalMS until
// stopWatch or the connection closes.
func (s *Server) startWatch(conn net.Conn, cs *connState, intervalMS uint64) {
	if intervalMS == 0 {
		intervalMS = 1000
	}
	s.stopWatch(cs)

	done := make(chan struct{})
	s.mu.Lock()
	cs.watchDone = done
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Duration(intervalMS) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				snap := systemInfoFromStats(s.facade.Stats())
				body, err := EncodePayload(snap)
				if err != nil {
					continue
				}
				if err := cs.writeFrame(conn, Response{Kind: RespStats, Payload: body}); err != nil {
					s.stopWatch(cs)
					return
				}
			}
		}
	}()
}

func (s *Server) stopWatch(cs *connState) {
	s.mu.Lock()
	s.stopWatchLocked(cs)
	s.mu.Unlock()
}

// stopWatchLocked ends cs's Watch subscription, if any. The caller holds s.mu.
func (s *Server) stopWatchLocked(cs *connState) {
	if cs.watchDone != nil {
		close(cs.watchDone)
		cs.watchDone = nil
	}
}
