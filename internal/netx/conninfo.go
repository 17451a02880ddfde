package netx

import (
	"net"
	"os"

	"github.com/m-lab/tcp-info/tcp"
	"github.com/m-lab/uuid"

	"github.com/m-lab/iperf3-go/internal/tcpinfox"
)

// ConnFile provides access to a TCP connection's underlying file, needed to
// read kernel-level socket statistics via getsockopt.
type ConnFile interface {
	DupFile(tc *net.TCPConn) (*os.File, error)
}

// NetInfo provides access to optional, best-effort connection metadata. Every
// method may fail on platforms or kernels that don't support the underlying
// syscall; callers should treat a non-nil error as "this field stays absent"
// rather than as a fatal condition, per the TestResult optional-field policy.
type NetInfo interface {
	GetUUID(fp *os.File) (string, error)
	GetTCPInfo(fp *os.File) (*tcp.LinuxTCPInfo, error)
}

// RealConnInfo implements ConnFile and NetInfo against the real kernel.
type RealConnInfo struct{}

// DupFile returns the *os.File backing tc. The returned file is a dup() of
// the original; callers own both and must Close() each independently.
func (f *RealConnInfo) DupFile(tc *net.TCPConn) (*os.File, error) {
	return tc.File()
}

// GetUUID returns the kernel-conntrack-derived UUID for fp.
func (f *RealConnInfo) GetUUID(fp *os.File) (string, error) {
	return uuid.FromFile(fp)
}

// GetTCPInfo returns TCP_INFO statistics for fp.
func (f *RealConnInfo) GetTCPInfo(fp *os.File) (*tcp.LinuxTCPInfo, error) {
	return tcpinfox.GetTCPInfo(fp)
}
