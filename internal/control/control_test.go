package control

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreactors/runtime/internal/process"
	"github.com/coreactors/runtime/internal/runtime"
	"github.com/coreactors/runtime/internal/value"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

// fakeFacade is a minimal stand-in for *runtime.Runtime, exercising the
// dispatch table without spinning up a real scheduler.
type fakeFacade struct {
	sent       map[value.PID]value.Value
	terminated map[value.PID]string
	suspended  map[value.PID]bool
	restarted  map[value.PID]bool
	info       map[value.PID]process.Info
	shutdown   bool
}

func newFakeFacade() *fakeFacade {
	return &fakeFacade{
		sent:       make(map[value.PID]value.Value),
		terminated: make(map[value.PID]string),
		suspended:  make(map[value.PID]bool),
		restarted:  make(map[value.PID]bool),
		info:       make(map[value.PID]process.Info),
	}
}

func (f *fakeFacade) Send(pid value.PID, payload value.Value) error {
	f.sent[pid] = payload
	return nil
}
func (f *fakeFacade) Terminate(pid value.PID, reason string) error {
	f.terminated[pid] = reason
	return nil
}
func (f *fakeFacade) Suspend(pid value.PID) error { f.suspended[pid] = true; return nil }
func (f *fakeFacade) Resume(pid value.PID) error  { f.suspended[pid] = false; return nil }
func (f *fakeFacade) Restart(pid value.PID) error { f.restarted[pid] = true; return nil }
func (f *fakeFacade) ListProcesses() []value.PID {
	out := make([]value.PID, 0, len(f.info))
	for pid := range f.info {
		out = append(out, pid)
	}
	return out
}
func (f *fakeFacade) ProcessInfo(pid value.PID) (process.Info, error) {
	info, ok := f.info[pid]
	if !ok {
		return process.Info{}, assert.AnError
	}
	return info, nil
}
func (f *fakeFacade) Stats() runtime.RuntimeStats {
	return runtime.RuntimeStats{LiveProcesses: len(f.info)}
}
func (f *fakeFacade) Shutdown() { f.shutdown = true }

func TestFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = WriteFrame(server, Command{Kind: CmdPing})
	}()

	var cmd Command
	require.NoError(t, ReadFrame(client, &cmd))
	assert.Equal(t, CmdPing, cmd.Kind)
}

func TestEncodeDecodeValueRoundTrip(t *testing.T) {
	data, err := EncodeValue(value.String("hello"))
	require.NoError(t, err)
	v, err := DecodeValue(data)
	require.NoError(t, err)
	s, ok := v.AsString()
	require.True(t, ok)
	assert.Equal(t, "hello", s)
}

func withUnixServer(t *testing.T, s *Server) (net.Conn, func()) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "control.sock")
	go func() { _ = s.Serve(sockPath) }()

	var conn net.Conn
	var err error
	for i := 0; i < 100; i++ {
		conn, err = net.Dial("unix", sockPath)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	return conn, func() {
		conn.Close()
		s.Close()
		_ = os.Remove(sockPath)
	}
}

func TestServerPing(t *testing.T) {
	facade := newFakeFacade()
	s := NewServer(facade, testLogger())
	conn, cleanup := withUnixServer(t, s)
	defer cleanup()

	require.NoError(t, WriteFrame(conn, Command{Kind: CmdPing}))
	var resp Response
	require.NoError(t, ReadFrame(conn, &resp))
	assert.Equal(t, RespPong, resp.Kind)
}

func TestServerSendDispatchesToFacade(t *testing.T) {
	facade := newFakeFacade()
	s := NewServer(facade, testLogger())
	conn, cleanup := withUnixServer(t, s)
	defer cleanup()

	pid := value.NewPID()
	payload, err := EncodeValue(value.Int(42))
	require.NoError(t, err)

	require.NoError(t, WriteFrame(conn, Command{Kind: CmdSend, PID: pid.Full(), Payload: payload}))
	var resp Response
	require.NoError(t, ReadFrame(conn, &resp))
	assert.Equal(t, RespOK, resp.Kind)

	got, ok := facade.sent[pid]
	require.True(t, ok)
	n, _ := got.AsInt()
	assert.Equal(t, int64(42), n)
}

func TestServerGetSystemInfo(t *testing.T) {
	facade := newFakeFacade()
	facade.info[value.NewPID()] = process.Info{}
	s := NewServer(facade, testLogger())
	conn, cleanup := withUnixServer(t, s)
	defer cleanup()

	require.NoError(t, WriteFrame(conn, Command{Kind: CmdGetSystemInfo}))
	var resp Response
	require.NoError(t, ReadFrame(conn, &resp))
	require.Equal(t, RespOK, resp.Kind)

	var info SystemInfo
	require.NoError(t, DecodePayload(resp.Payload, &info))
	assert.Equal(t, 1, info.LiveProcesses)
}

func TestServerUnknownPIDReturnsError(t *testing.T) {
	facade := newFakeFacade()
	s := NewServer(facade, testLogger())
	conn, cleanup := withUnixServer(t, s)
	defer cleanup()

	require.NoError(t, WriteFrame(conn, Command{Kind: CmdGetProcessInfo, PID: value.NewPID().Full()}))
	var resp Response
	require.NoError(t, ReadFrame(conn, &resp))
	assert.Equal(t, RespErr, resp.Kind)
	assert.NotEmpty(t, resp.Error)
}
