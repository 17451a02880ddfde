package transport

import (
	"net"
	"strconv"
	"time"

	"github.com/m-lab/iperf3-go/internal/fdcache"
	"github.com/m-lab/iperf3-go/internal/iperf3"
)

// Listener binds a server socket and accepts connected streams. Accept
// timeouts turn Accept into a periodic poll so the server driver can
// observe a shutdown request without blocking forever, matching the
// teacher's legacy/plain ListenAndServe shape (context-cancel closes
// the listener, breaking a blocked Accept).
type Listener struct {
	ln           *net.TCPListener
	acceptPoll   time.Duration
}

// Listen binds bindAddress:port with the given backlog hint. Go's net
// package does not expose a backlog knob directly; it is accepted here
// for interface parity with spec.md §4.1 and silently ignored, matching
// how net.Listen itself behaves.
func Listen(bindAddress string, port int, backlog int) (*Listener, error) {
	addr := net.JoinHostPort(bindAddress, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, iperf3.Wrap(iperf3.TransportError, "failed to bind listener", err)
	}
	return &Listener{ln: ln.(*net.TCPListener)}, nil
}

// SetAcceptTimeout sets the poll interval Accept uses to periodically
// give up and return a timeout error, so a caller can re-check a cancel
// flag between polls.
func (l *Listener) SetAcceptTimeout(d time.Duration) {
	l.acceptPoll = d
}

// Accept accepts one connection, registers its keepalive and fdcache
// entry the way the teacher's RawListener does on every accepted
// socket, and returns it. A poll timeout set via SetAcceptTimeout
// surfaces as a *net.OpError satisfying net.Error.Timeout(); callers
// should treat that as "no connection yet," not a fatal error.
func (l *Listener) Accept() (*Conn, error) {
	if l.acceptPoll > 0 {
		l.ln.SetDeadline(time.Now().Add(l.acceptPoll))
	}
	tc, err := l.ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)
	fp, err := fdcache.TCPConnToFile(tc)
	if err != nil {
		tc.Close()
		return nil, iperf3.Wrap(iperf3.TransportError, "failed to dup accepted connection", err)
	}
	fdcache.OwnFile(tc, fp)
	return &Conn{tc: tc}, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close closes the listener, unblocking any in-progress Accept.
func (l *Listener) Close() error { return l.ln.Close() }
