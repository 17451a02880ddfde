package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/m-lab/iperf3-go/internal/iperf3"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunTestRejectsInvalidConfigSynchronously(t *testing.T) {
	c := New()
	cfg := iperf3.TestConfiguration{ServerHost: ""} // missing host, no duration
	events, handle, err := c.RunTest(context.Background(), cfg)
	require.Error(t, err)
	require.Nil(t, events)
	require.Nil(t, handle)
	var ierr *iperf3.Error
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, iperf3.ConfigInvalid, ierr.Kind)
}

func TestRunTestRejectsTooManyStreamsSynchronously(t *testing.T) {
	c := New()
	cfg := iperf3.TestConfiguration{
		ServerHost: "127.0.0.1",
		ServerPort: 5201,
		Duration:   1,
		NumStreams: iperf3.MaxStreams + 1,
	}
	_, _, err := c.RunTest(context.Background(), cfg)
	require.Error(t, err)
	var ierr *iperf3.Error
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, iperf3.ConfigInvalid, ierr.Kind)
}

func TestHandleCancelIsIdempotent(t *testing.T) {
	h := newHandle()
	require.False(t, h.Cancelled())
	h.Cancel()
	h.Cancel()
	require.True(t, h.Cancelled())
}

func TestHandleCancelClosesTrackedClosers(t *testing.T) {
	h := newHandle()
	calls := 0
	h.track(func() error {
		calls++
		return nil
	})
	h.track(func() error {
		calls++
		return nil
	})
	h.Cancel()
	require.Equal(t, 2, calls)
}

func TestDirectionReflectsReverseFlag(t *testing.T) {
	require.Equal(t, "upload", direction(iperf3.TestConfiguration{Reverse: false}))
	require.Equal(t, "download", direction(iperf3.TestConfiguration{Reverse: true}))
}
