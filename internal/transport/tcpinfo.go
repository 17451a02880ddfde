package transport

import (
	"github.com/m-lab/tcp-info/tcp"

	"github.com/m-lab/iperf3-go/internal/fdcache"
	"github.com/m-lab/iperf3-go/internal/iperf3"
	"github.com/m-lab/iperf3-go/internal/tcpinfox"
)

// TCPInfo returns best-effort kernel TCP_INFO statistics for the data
// connection, using the descriptor cached by Listener.Accept or
// RegisterForInspection. Callers should treat a non-nil error as "this
// sample has no TCP sub-bundle," not as a fatal condition, per the
// optional-field policy spec.md §1 describes for vendor statistics.
func (c *Conn) TCPInfo() (*tcp.LinuxTCPInfo, error) {
	fp := fdcache.PeekFile(c.tc)
	if fp == nil {
		return nil, iperf3.New(iperf3.TransportError, "no cached file descriptor for TCP_INFO")
	}
	info, err := tcpinfox.GetTCPInfo(fp)
	if err != nil {
		return nil, iperf3.Wrap(iperf3.TransportError, "TCP_INFO unavailable", err)
	}
	return info, nil
}

// UUID returns the conntrack-derived identifier for this connection,
// computed on each call from the file descriptor cached by
// Listener.Accept or RegisterForInspection, or "" if none is available
// (no cached descriptor, or the platform doesn't support it).
func (c *Conn) UUID() string {
	id, err := fdcache.GetUUID(c.tc)
	if err != nil {
		return ""
	}
	return id
}
