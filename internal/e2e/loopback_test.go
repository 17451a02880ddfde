// Package e2e drives internal/client and internal/server against each
// other over loopback TCP, exercising the full bilateral state machine
// spec.md §4.5 describes without requiring a reference iperf3 binary.
// The interop test against a real iperf3 binary is in interop_test.go
// in this package; the tests in this file check that the two drivers
// this module owns agree with each other on the wire.
package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/m-lab/iperf3-go/internal/client"
	"github.com/m-lab/iperf3-go/internal/iperf3"
	"github.com/m-lab/iperf3-go/internal/progress"
	"github.com/m-lab/iperf3-go/internal/server"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startTestServer(t *testing.T) (port int, stop func()) {
	t.Helper()
	srv := server.New()
	ctx, cancel := context.WithCancel(context.Background())
	events, handle, err := srv.Start(ctx, "127.0.0.1", 0)
	require.NoError(t, err)

	// Wait for Ready, draining events in the background so the
	// server's producer never blocks on a full channel.
	ready := make(chan int, 1)
	go func() {
		for e := range events {
			if e.Kind == progress.Ready {
				select {
				case ready <- e.Port:
				default:
				}
			}
		}
	}()

	select {
	case p := <-ready:
		port = p
	case <-time.After(2 * time.Second):
		t.Fatal("server did not become ready")
	}

	return port, func() {
		handle.Stop()
		cancel()
	}
}

func TestClientServerLoopbackUpload(t *testing.T) {
	port, stop := startTestServer(t)
	defer stop()

	c := client.New()
	cfg := iperf3.TestConfiguration{
		ServerHost:        "127.0.0.1",
		ServerPort:        port,
		Duration:          500 * time.Millisecond,
		NumStreams:        1,
		ReportingInterval: 100 * time.Millisecond,
		BufferLength:      16384,
		Timeout:           2 * time.Second,
	}

	events, _, err := c.RunTest(context.Background(), cfg)
	require.NoError(t, err)

	var kinds []progress.Kind
	var result *iperf3.TestResult
	for e := range events {
		kinds = append(kinds, e.Kind)
		if e.Kind == progress.Complete {
			result = e.Result
		}
	}

	require.Contains(t, kinds, progress.Connecting)
	require.Contains(t, kinds, progress.Connected)
	require.Contains(t, kinds, progress.Started)
	require.Contains(t, kinds, progress.Complete)
	require.Equal(t, progress.Complete, kinds[len(kinds)-1], "terminal event must be last")

	require.NotNil(t, result)
	require.True(t, result.IsSuccess)
	require.Greater(t, result.TotalBytes, int64(0))
	require.Greater(t, result.AvgBandwidth, float64(0))

	var summed int64
	for _, iv := range result.Intervals {
		summed += iv.BytesTransferred
	}
	require.Equal(t, summed, result.TotalBytes)
}

func TestClientServerLoopbackReverse(t *testing.T) {
	port, stop := startTestServer(t)
	defer stop()

	c := client.New()
	cfg := iperf3.TestConfiguration{
		ServerHost:        "127.0.0.1",
		ServerPort:        port,
		Duration:          500 * time.Millisecond,
		NumStreams:        1,
		Reverse:           true,
		ReportingInterval: 100 * time.Millisecond,
		BufferLength:      16384,
		Timeout:           2 * time.Second,
	}

	events, _, err := c.RunTest(context.Background(), cfg)
	require.NoError(t, err)

	var result *iperf3.TestResult
	var terminalKind progress.Kind
	for e := range events {
		if e.Kind == progress.Complete {
			result = e.Result
		}
		terminalKind = e.Kind
	}

	require.Equal(t, progress.Complete, terminalKind)
	require.NotNil(t, result)
	require.Greater(t, result.TotalBytes, int64(0))
}

func TestClientCancelMidTransferYieldsPartialResult(t *testing.T) {
	port, stop := startTestServer(t)
	defer stop()

	c := client.New()
	cfg := iperf3.TestConfiguration{
		ServerHost:        "127.0.0.1",
		ServerPort:        port,
		Duration:          5 * time.Second,
		NumStreams:        1,
		ReportingInterval: 100 * time.Millisecond,
		BufferLength:      16384,
		Timeout:           2 * time.Second,
	}

	events, handle, err := c.RunTest(context.Background(), cfg)
	require.NoError(t, err)

	go func() {
		time.Sleep(600 * time.Millisecond)
		handle.Cancel()
	}()

	var sawComplete bool
	var terminalKind progress.Kind
	var partial *iperf3.TestResult
	for e := range events {
		if e.Kind == progress.Complete {
			sawComplete = true
		}
		if e.Kind == progress.Cancelled {
			partial = e.Partial
		}
		terminalKind = e.Kind
	}

	require.False(t, sawComplete)
	require.Equal(t, progress.Cancelled, terminalKind)
	require.NotNil(t, partial)
	require.GreaterOrEqual(t, len(partial.Intervals), 1)
}

func TestSecondConcurrentClientTestFailsSynchronously(t *testing.T) {
	port, stop := startTestServer(t)
	defer stop()

	c := client.New()
	cfg := iperf3.TestConfiguration{
		ServerHost:        "127.0.0.1",
		ServerPort:        port,
		Duration:          1 * time.Second,
		NumStreams:        1,
		ReportingInterval: 200 * time.Millisecond,
		BufferLength:      16384,
		Timeout:           2 * time.Second,
	}

	events, handle, err := c.RunTest(context.Background(), cfg)
	require.NoError(t, err)
	defer handle.Cancel()

	_, _, err2 := c.RunTest(context.Background(), cfg)
	require.Error(t, err2)
	var ierr *iperf3.Error
	require.ErrorAs(t, err2, &ierr)
	require.Equal(t, iperf3.AlreadyRunning, ierr.Kind)

	handle.Cancel()
	for range events {
	}
}
