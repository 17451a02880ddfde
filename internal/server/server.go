// Package server implements the C5 server driver: the bind/accept/
// session loop spec.md §4.5's "Server driver" describes, mirroring the
// client's state machine from the other side of the wire. It is
// grounded on legacy/handler/tcphandler.go's ListenAndServe shape
// (context-cancellation closes the listener, a per-connection goroutine
// with panic recovery) and ndt5/ndt5.go's HandleControlChannel wrapper
// (metrics, deferred cleanup, archival-record building at the tail end),
// adapted from NDT's websocket-upgrade session to iperf3's raw-TCP one.
//
// Unlike that shape, sessions here run one at a time on the accept-loop
// goroutine, without panic recovery, and the accept loop ends only when
// Handle.Stop is called; the ctx passed to Start is not consulted.
package server

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/m-lab/iperf3-go/internal/iperf3"
	"github.com/m-lab/iperf3-go/internal/metrics"
	"github.com/m-lab/iperf3-go/internal/progress"
)

// Server accepts at most one listener's worth of sessions at a time.
// The zero value is ready to use; Server is not scoped to any global
// process state (spec.md §9), matching client.Client.
type Server struct {
	running int32 // atomic compare-and-set guard

	mu     sync.Mutex
	status iperf3.ServerStatus
}

// New returns a ready-to-use Server.
func New() *Server {
	return &Server{}
}

// Handle lets a caller stop a running server from outside the goroutine
// driving its accept loop, per spec.md §9's redesign note.
type Handle struct {
	cancelled int32
	mu        sync.Mutex
	closers   []func() error
}

func newHandle() *Handle {
	return &Handle{}
}

func (h *Handle) track(closer func() error) {
	h.mu.Lock()
	h.closers = append(h.closers, closer)
	h.mu.Unlock()
}

// Stop requests that the server shut down. It closes the listener
// (unblocking a pending Accept) and every currently-open session
// connection, which surfaces as a transport error to any in-flight
// read/write. Stop is idempotent.
func (h *Handle) Stop() {
	atomic.StoreInt32(&h.cancelled, 1)
	h.mu.Lock()
	closers := h.closers
	h.mu.Unlock()
	for _, c := range closers {
		c()
	}
}

// Stopped reports whether Stop has been called.
func (h *Handle) Stopped() bool {
	return atomic.LoadInt32(&h.cancelled) == 1
}

// Start binds bindAddress:port and begins accepting sessions. It
// returns the server's event stream and a handle to stop it. Only one
// server instance may run per Server value; a second Start call while
// one is active fails synchronously, per spec.md §3's invariants.
func (s *Server) Start(ctx context.Context, bindAddress string, port int) (<-chan progress.Event, *Handle, error) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return nil, nil, iperf3.New(iperf3.AlreadyRunning, "a server is already running on this engine instance")
	}

	stream := progress.NewStream(0)
	handle := newHandle()

	metrics.ActiveSessions.WithLabelValues("server").Inc()
	go func() {
		defer atomic.StoreInt32(&s.running, 0)
		defer metrics.ActiveSessions.WithLabelValues("server").Dec()
		s.runAcceptLoop(ctx, bindAddress, port, stream, handle)
	}()

	return stream.C(), handle, nil
}

// Status returns the most recently published ServerStatus. Updates are
// single-writer (the accept loop), so this is a plain read of an
// atomically-replaced whole record (spec.md §5).
func (s *Server) Status() iperf3.ServerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Server) setStatus(status iperf3.ServerStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func newSessionID() string {
	return uuid.NewString()
}
