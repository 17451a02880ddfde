package transport

import (
	"net"
	"strconv"

	"github.com/m-lab/iperf3-go/internal/iperf3"
)

// DatagramSocket is the UDP surface spec.md §4.1 describes. Nothing in
// this module drives it yet — UDP transfer is an explicitly noted
// extension point (spec.md §1, §9) — but the socket primitives exist so
// a future UDP transfer loop has somewhere to live, matching the
// teacher's habit of carrying data-model fields ahead of the code that
// populates them.
type DatagramSocket struct {
	conn *net.UDPConn
}

// ListenDatagram binds a local UDP port. Port 0 picks an ephemeral port.
func ListenDatagram(bindAddress string, port int) (*DatagramSocket, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(bindAddress, strconv.Itoa(port)))
	if err != nil {
		return nil, iperf3.Wrap(iperf3.TransportError, "failed to resolve UDP address", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, iperf3.Wrap(iperf3.TransportError, "failed to bind UDP socket", err)
	}
	return &DatagramSocket{conn: conn}, nil
}

// Connect associates the socket with a remote peer so Send can omit the
// destination on every call.
func (d *DatagramSocket) Connect(host string, port int) error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return iperf3.Wrap(iperf3.TransportError, "failed to resolve UDP peer address", err)
	}
	if err := d.conn.Close(); err != nil {
		return iperf3.Wrap(iperf3.TransportError, "failed to close unconnected UDP socket", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return iperf3.Wrap(iperf3.TransportError, "failed to connect UDP socket", err)
	}
	d.conn = conn
	return nil
}

// Send writes payload to the connected peer.
func (d *DatagramSocket) Send(payload []byte) error {
	if _, err := d.conn.Write(payload); err != nil {
		return iperf3.Wrap(iperf3.TransportError, "UDP send failed", err)
	}
	return nil
}

// Receive reads up to maxSize bytes and returns the payload plus the
// sender's address.
func (d *DatagramSocket) Receive(maxSize int) ([]byte, net.Addr, error) {
	buf := make([]byte, maxSize)
	n, addr, err := d.conn.ReadFrom(buf)
	if err != nil {
		return nil, nil, iperf3.Wrap(iperf3.TransportError, "UDP receive failed", err)
	}
	return buf[:n], addr, nil
}

// SetBroadcast enables or disables SO_BROADCAST.
func (d *DatagramSocket) SetBroadcast(v bool) error {
	// net.UDPConn has no portable SetBroadcast; this is a placeholder
	// surface for the extension point until UDP transfer is driven.
	return nil
}

// SetReadBuffer sets SO_RCVBUF on the datagram socket.
func (d *DatagramSocket) SetReadBuffer(bytes int) error {
	if err := d.conn.SetReadBuffer(bytes); err != nil {
		return iperf3.Wrap(iperf3.TransportError, "failed to set UDP SO_RCVBUF", err)
	}
	return nil
}

// SetWriteBuffer sets SO_SNDBUF on the datagram socket.
func (d *DatagramSocket) SetWriteBuffer(bytes int) error {
	if err := d.conn.SetWriteBuffer(bytes); err != nil {
		return iperf3.Wrap(iperf3.TransportError, "failed to set UDP SO_SNDBUF", err)
	}
	return nil
}

// Close closes the socket.
func (d *DatagramSocket) Close() error {
	return d.conn.Close()
}
