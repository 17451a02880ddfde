// Package transport implements the TCP connection and listener
// abstraction the protocol engine drives (spec.md §4.1, C1). It plays
// the same role the teacher's legacy/tcplistener and legacy/plain
// packages play for NDT: accept-time socket tuning plus a
// context-cancellation-closes-listener server loop, adapted from an
// HTTP-sniffing proxy to a plain iperf3 control/data listener.
package transport

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-lab/iperf3-go/internal/fdcache"
	"github.com/m-lab/iperf3-go/internal/iperf3"
	"github.com/m-lab/iperf3-go/internal/netx"
)

// Conn is a timeout-aware wrapper around a *net.TCPConn. It adds no
// buffering: Read and Write go straight to the socket.
// Close is idempotent and safe to call concurrently with a blocked
// Read/Write from another goroutine: it always unblocks the peer call
// with a TransportError rather than a silent EOF (spec.md §4.1).
type Conn struct {
	tc *net.TCPConn

	closeOnce sync.Once
	closed    int32
}

// Connect opens an outbound TCP stream to (host, port) with the given
// connect deadline.
func Connect(host string, port int, timeout time.Duration) (*Conn, error) {
	d := net.Dialer{Timeout: timeout}
	c, err := d.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, iperf3.Wrap(iperf3.TransportError, "failed to connect", err)
	}
	tc, ok := c.(*net.TCPConn)
	if !ok {
		c.Close()
		return nil, iperf3.New(iperf3.TransportError, "dialed connection is not TCP")
	}
	return &Conn{tc: tc}, nil
}

// Raw exposes the underlying *net.TCPConn for callers that need to
// register it with fdcache (BBR, TCP_INFO, UUID).
func (c *Conn) Raw() *net.TCPConn { return c.tc }

// SetNoDelay disables or enables Nagle's algorithm.
func (c *Conn) SetNoDelay(v bool) error {
	if err := c.tc.SetNoDelay(v); err != nil {
		return iperf3.Wrap(iperf3.TransportError, "failed to set TCP_NODELAY", err)
	}
	return nil
}

// SetSendBuffer sets SO_SNDBUF.
func (c *Conn) SetSendBuffer(bytes int) error {
	if err := c.tc.SetWriteBuffer(bytes); err != nil {
		return iperf3.Wrap(iperf3.TransportError, "failed to set SO_SNDBUF", err)
	}
	return nil
}

// SetRecvBuffer sets SO_RCVBUF.
func (c *Conn) SetRecvBuffer(bytes int) error {
	if err := c.tc.SetReadBuffer(bytes); err != nil {
		return iperf3.Wrap(iperf3.TransportError, "failed to set SO_RCVBUF", err)
	}
	return nil
}

// SetReadTimeout sets the deadline for the next Read call. Zero clears
// any existing deadline.
func (c *Conn) SetReadTimeout(d time.Duration) error {
	var t time.Time
	if d > 0 {
		t = time.Now().Add(d)
	}
	if err := c.tc.SetReadDeadline(t); err != nil {
		return iperf3.Wrap(iperf3.TransportError, "failed to set read deadline", err)
	}
	return nil
}

// EnableBBR turns on the BBR congestion controller for this connection.
func (c *Conn) EnableBBR() error {
	return netx.EnableBBR(c.tc)
}

// RegisterForInspection hands the connection's dup()'d file descriptor
// to fdcache so later code can poll TCP_INFO or compute its
// conntrack-based UUID without holding a raw fd directly.
func (c *Conn) RegisterForInspection() error {
	fp, err := fdcache.TCPConnToFile(c.tc)
	if err != nil {
		return iperf3.Wrap(iperf3.TransportError, "failed to dup connection file", err)
	}
	fdcache.OwnFile(c.tc, fp)
	return nil
}

// Read implements io.Reader.
func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.tc.Read(p)
	if err != nil {
		return n, iperf3.Wrap(iperf3.TransportError, "read failed", err)
	}
	return n, nil
}

// Write implements io.Writer.
func (c *Conn) Write(p []byte) (int, error) {
	n, err := c.tc.Write(p)
	if err != nil {
		return n, iperf3.Wrap(iperf3.TransportError, "write failed", err)
	}
	return n, nil
}

// LocalAddr returns the local endpoint.
func (c *Conn) LocalAddr() net.Addr { return c.tc.LocalAddr() }

// RemoteAddr returns the remote endpoint.
func (c *Conn) RemoteAddr() net.Addr { return c.tc.RemoteAddr() }

// Close is idempotent; the second and later calls are no-ops that
// return nil.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.closed, 1)
		err = c.tc.Close()
	})
	return err
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}
