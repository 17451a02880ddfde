// Package client implements the C5 client driver: the bilateral state
// machine spec.md §4.5 describes, from opening the control connection
// through the final EXCHANGE_RESULTS handshake. It is grounded on the
// control-flow shape of legacy/legacy.go's handleControlChannel (one
// pass per test, metrics-wrapped, deferred cleanup on every exit path)
// and cmd/ndt-client/client/client.go's single-struct-with-run-methods
// surface, adapted from a websocket ndt7 client to a raw-TCP iperf3
// client.
package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/m-lab/iperf3-go/internal/iperf3"
	"github.com/m-lab/iperf3-go/internal/logging"
	"github.com/m-lab/iperf3-go/internal/metrics"
	"github.com/m-lab/iperf3-go/internal/progress"
)

// Client runs at most one test at a time. The zero value is ready to
// use; Client is not scoped to any global process state (spec.md §9).
type Client struct {
	running int32 // atomic compare-and-set guard
}

// New returns a ready-to-use Client.
func New() *Client {
	return &Client{}
}

// Handle lets a caller cancel an in-flight test from outside the
// goroutine driving it. Provided per spec.md §9's redesign note instead
// of exposing raw socket fields.
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

// Cancel requests that the running test abort. It closes every
// connection the test has opened so far, which unblocks any in-flight
// read or write with a transport error. Cancel is idempotent.
func (h *Handle) Cancel() {
	atomic.StoreInt32(&h.cancelled, 1)
	h.mu.Lock()
	closers := h.closers
	h.mu.Unlock()
	for _, c := range closers {
		c()
	}
}

// Cancelled reports whether Cancel has been called.
func (h *Handle) Cancelled() bool {
	return atomic.LoadInt32(&h.cancelled) == 1
}

// RunTest validates cfg, starts a new test, and returns its event
// stream together with a cancellation handle. Validation failures and
// "a test is already running" are returned synchronously and never
// appear as Error events, per spec.md §7.
func (c *Client) RunTest(ctx context.Context, cfg iperf3.TestConfiguration) (<-chan progress.Event, *Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		return nil, nil, iperf3.New(iperf3.AlreadyRunning, "a client test is already running on this engine instance")
	}

	cfg = cfg.WithDefaults()
	stream := progress.NewStream(0)
	handle := newHandle()
	testID := uuid.NewString()

	metrics.ActiveSessions.WithLabelValues("client").Inc()
	go func() {
		defer atomic.StoreInt32(&c.running, 0)
		defer metrics.ActiveSessions.WithLabelValues("client").Dec()
		runDriver(ctx, cfg, stream, handle, testID)
	}()

	return stream.C(), handle, nil
}

// driverState carries the mutable state threaded through the steps of
// one test run.
type driverState struct {
	cfg    iperf3.TestConfiguration
	stream *progress.Stream
	handle *Handle
	testID string
	cookie string
	start  time.Time
}

func runDriver(ctx context.Context, cfg iperf3.TestConfiguration, stream *progress.Stream, handle *Handle, testID string) {
	log := logging.Logger.WithField("test_id", testID).WithField("role", "client")
	d := &driverState{cfg: cfg, stream: stream, handle: handle, testID: testID}

	intervals, err := d.run(ctx, log)

	switch {
	case handle.Cancelled():
		var partial *iperf3.TestResult
		if len(intervals) > 0 {
			partial = iperf3.Aggregate(cfg, intervals)
		}
		metrics.SessionCount.WithLabelValues("client", "cancelled").Inc()
		stream.EmitTerminal(progress.Event{Kind: progress.Cancelled, Partial: partial})
	case err != nil:
		log.WithError(err).Warn("client test failed")
		metrics.SessionCount.WithLabelValues("client", "error").Inc()
		if kerr, ok := err.(*iperf3.Error); ok {
			metrics.SessionErrors.WithLabelValues("client", kerr.Kind.String()).Inc()
		}
		var partial *iperf3.TestResult
		if len(intervals) > 0 {
			partial = iperf3.Aggregate(cfg, intervals)
		}
		stream.EmitTerminal(progress.Event{Kind: progress.Error, Message: err.Error(), Cause: err, Partial: partial})
	default:
		result := iperf3.Aggregate(cfg, intervals)
		metrics.SessionCount.WithLabelValues("client", "success").Inc()
		metrics.SessionRateMbps.WithLabelValues("client", direction(cfg)).Observe(result.AvgBandwidth / 1e6)
		stream.EmitTerminal(progress.Event{Kind: progress.Complete, Result: result})
	}
}

func direction(cfg iperf3.TestConfiguration) string {
	if cfg.Reverse {
		return "download"
	}
	return "upload"
}
