package transport

import (
	"io"
	"net"
	"testing"
	"time"
)

func TestListenAcceptConnectRoundTrip(t *testing.T) {
	ln, err := Listen("127.0.0.1", 0, 8)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	accepted := make(chan *Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			t.Errorf("Accept failed: %v", err)
			return
		}
		accepted <- c
	}()

	client, err := Connect("127.0.0.1", port, time.Second)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	server := <-accepted
	defer server.Close()

	want := []byte("hello")
	if _, err := client.Write(want); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got := make([]byte, len(want))
	if _, err := io.ReadFull(server, got); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAcceptTimeoutIsNotFatal(t *testing.T) {
	ln, err := Listen("127.0.0.1", 0, 8)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()
	ln.SetAcceptTimeout(10 * time.Millisecond)

	_, err = ln.Accept()
	if err == nil {
		t.Fatalf("expected a timeout error, got nil")
	}
	ne, ok := err.(interface{ Timeout() bool })
	if !ok || !ne.Timeout() {
		t.Errorf("expected a timeout-flavored error, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	ln, err := Listen("127.0.0.1", 0, 8)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	defer ln.Close()

	go ln.Accept()
	c, err := Connect("127.0.0.1", port, time.Second)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestCloseUnblocksConcurrentRead(t *testing.T) {
	ln, err := Listen("127.0.0.1", 0, 8)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	accepted := make(chan *Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()
	client, err := Connect("127.0.0.1", port, time.Second)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	server := <-accepted
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		_, err := client.Read(buf)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	client.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Errorf("expected a transport error after close, got nil")
		}
	case <-time.After(time.Second):
		t.Fatalf("Read did not unblock after Close")
	}
}
