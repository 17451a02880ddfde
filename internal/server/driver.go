package server

import (
	"context"
	"net"
	"time"

	"github.com/m-lab/go/warnonerror"

	"github.com/m-lab/iperf3-go/internal/iperf3"
	"github.com/m-lab/iperf3-go/internal/logging"
	"github.com/m-lab/iperf3-go/internal/progress"
	"github.com/m-lab/iperf3-go/internal/transport"
)

// acceptPollInterval is the accept-timeout spec.md §4.5's server driver
// recommends, turning Accept into a periodic poll that can observe a
// stop request without blocking forever.
const acceptPollInterval = time.Second

// runAcceptLoop implements spec.md §4.5's server driver steps 1-3: bind,
// accept-poll-until-cancel, one session per accepted control socket,
// serially (the spec permits concurrent sessions but does not require
// them, and the teacher's own NDT5 control handler is similarly
// one-pass-per-connection).
func (s *Server) runAcceptLoop(ctx context.Context, bindAddress string, port int, stream *progress.Stream, handle *Handle) {
	log := logging.Logger.WithField("role", "server")

	stream.Emit(progress.Event{Kind: progress.Starting, Host: bindAddress, Port: port})
	ln, err := transport.Listen(bindAddress, port, 128)
	if err != nil {
		s.setStatus(iperf3.ServerStatus{Running: false, LastError: err.Error()})
		stream.EmitTerminal(progress.Event{Kind: progress.Error, Message: err.Error(), Cause: err})
		return
	}
	handle.track(ln.Close)
	defer warnonerror.Close(ln, "could not close listener")
	ln.SetAcceptTimeout(acceptPollInterval)

	actualPort := ln.Addr().(*net.TCPAddr).Port
	status := iperf3.ServerStatus{Running: true, ListenPort: actualPort}
	s.setStatus(status)
	stream.Emit(progress.Event{Kind: progress.Ready, Port: actualPort, Status: status})

	for !handle.Stopped() {
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if handle.Stopped() {
				break
			}
			// Listener failures other than a poll timeout are fatal to
			// the server instance (spec.md §7).
			status.Running = false
			status.LastError = err.Error()
			s.setStatus(status)
			stream.EmitTerminal(progress.Event{Kind: progress.Error, Message: "accept failed", Cause: err})
			return
		}

		status.ActiveConnections++
		status.LastClientAddr = conn.RemoteAddr().String()
		s.setStatus(status)
		stream.Emit(progress.Event{
			Kind: progress.ClientConnected,
			Host: conn.RemoteAddr().String(),
		})

		sessionLog := log.WithField("session_id", newSessionID()).WithField("remote", conn.RemoteAddr().String())
		s.handleSession(ln, conn, stream, handle, &status, sessionLog)

		status.ActiveConnections--
		s.setStatus(status)
		stream.Emit(progress.Event{Kind: progress.ClientDisconnected})
	}

	status.Running = false
	s.setStatus(status)
	stream.EmitTerminal(progress.Event{Kind: progress.Stopped, Status: status})
}
