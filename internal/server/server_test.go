package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/m-lab/iperf3-go/internal/iperf3"
	"github.com/m-lab/iperf3-go/internal/progress"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSecondStartFailsWhileFirstIsRunning(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, handle, err := s.Start(ctx, "127.0.0.1", 0)
	require.NoError(t, err)
	defer handle.Stop()

	// Drain until Ready so the listener is actually bound before the
	// second Start call and before the test tears down.
	waitForKind(t, events, progress.Ready)

	_, _, err2 := s.Start(context.Background(), "127.0.0.1", 0)
	require.Error(t, err2)
	var ierr *iperf3.Error
	require.ErrorAs(t, err2, &ierr)
	require.Equal(t, iperf3.AlreadyRunning, ierr.Kind)

	handle.Stop()
	drain(events)
}

func TestStopClosesListenerAndEmitsStopped(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, handle, err := s.Start(ctx, "127.0.0.1", 0)
	require.NoError(t, err)

	waitForKind(t, events, progress.Ready)
	handle.Stop()

	var terminalKind progress.Kind
	for e := range events {
		terminalKind = e.Kind
	}
	require.Equal(t, progress.Stopped, terminalKind)
	require.False(t, s.Status().Running)
}

func TestHandleStopIsIdempotent(t *testing.T) {
	h := newHandle()
	require.False(t, h.Stopped())
	h.Stop()
	h.Stop()
	require.True(t, h.Stopped())
}

func waitForKind(t *testing.T, events <-chan progress.Event, want progress.Kind) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				t.Fatalf("stream closed before observing kind %v", want)
			}
			if e.Kind == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for kind %v", want)
		}
	}
}

func drain(events <-chan progress.Event) {
	for range events {
	}
}
