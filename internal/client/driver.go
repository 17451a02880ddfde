package client

import (
	"context"
	"time"

	"github.com/apex/log"
	"github.com/m-lab/go/warnonerror"

	"github.com/m-lab/iperf3-go/internal/iperf3"
	"github.com/m-lab/iperf3-go/internal/progress"
	"github.com/m-lab/iperf3-go/internal/transport"
	"github.com/m-lab/iperf3-go/internal/wire"
)

// run drives the 11-step state machine of spec.md §4.5 and returns the
// interval samples collected before it stopped, plus an error if it
// stopped for any reason other than a clean Complete.
func (d *driverState) run(ctx context.Context, logger log.Interface) ([]iperf3.IntervalResult, error) {
	// Step 1: connect control.
	d.stream.Emit(progress.Event{Kind: progress.Connecting, Host: d.cfg.ServerHost, Port: d.cfg.ServerPort})
	control, err := transport.Connect(d.cfg.ServerHost, d.cfg.ServerPort, d.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	d.handle.track(control.Close)
	defer warnonerror.Close(control, "could not close control connection")

	// Step 2: write cookie.
	cookie, err := iperf3.NewCookie()
	if err != nil {
		return nil, err
	}
	d.cookie = cookie
	if err := wire.WriteCookie(control, cookie); err != nil {
		return nil, err
	}
	d.stream.Emit(progress.Event{Kind: progress.Connected, Cookie: cookie})

	// Step 3: wait PARAM_EXCHANGE.
	if err := d.expectState(control, iperf3.ParamExchange, 30*time.Second); err != nil {
		return nil, err
	}

	// Step 4: write TestParams.
	params := iperf3.FromConfig(&d.cfg)
	if err := wire.WriteJSON(control, params); err != nil {
		return nil, err
	}

	// Step 5: wait CREATE_STREAMS.
	if err := d.expectState(control, iperf3.CreateStreams, 30*time.Second); err != nil {
		return nil, err
	}

	// Step 6: open data connection(s).
	streams := make([]*transport.Conn, d.cfg.NumStreams)
	for i := 0; i < d.cfg.NumStreams; i++ {
		dc, err := transport.Connect(d.cfg.ServerHost, d.cfg.ServerPort, d.cfg.Timeout)
		if err != nil {
			closeAll(streams[:i])
			return nil, err
		}
		d.handle.track(dc.Close)
		if err := wire.WriteCookie(dc, d.cookie); err != nil {
			warnonerror.Close(dc, "could not close data stream")
			closeAll(streams[:i])
			return nil, err
		}
		if d.cfg.NoDelay {
			dc.SetNoDelay(true)
		}
		if d.cfg.WindowSize > 0 {
			dc.SetSendBuffer(d.cfg.WindowSize)
			dc.SetRecvBuffer(d.cfg.WindowSize)
		}
		if d.cfg.CongestionControl == "bbr" {
			if err := dc.EnableBBR(); err != nil {
				logger.WithError(err).Debug("failed to enable BBR on data stream")
			}
		}
		// Best-effort: lets the transfer loop poll TCP_INFO for this
		// stream. A failure here just means the interval samples won't
		// carry a TCP sub-bundle.
		dc.RegisterForInspection()
		streams[i] = dc
	}
	defer closeAll(streams)

	// Step 7: wait TEST_START, then TEST_RUNNING.
	if err := d.expectState(control, iperf3.TestStart, 30*time.Second); err != nil {
		return nil, err
	}
	d.start = time.Now()
	d.stream.Emit(progress.Event{Kind: progress.Started, Config: d.cfg, StartTime: d.start})
	if err := d.expectState(control, iperf3.TestRunning, 30*time.Second); err != nil {
		return nil, err
	}

	// Step 8: transfer loop, one task per data stream.
	intervals, transferErr := d.runTransfer(ctx, streams, logger)
	if transferErr != nil {
		return intervals, transferErr
	}
	if d.handle.Cancelled() {
		return intervals, nil
	}

	// Step 9: send TEST_END.
	if err := wire.WriteState(control, iperf3.TestEnd); err != nil {
		return intervals, err
	}

	// Step 10: exchange results, best-effort.
	d.exchangeResults(control, intervals, logger)

	// Step 11: caller builds the final TestResult from intervals.
	return intervals, nil
}

// expectState reads one state byte within timeout and maps it to a
// ProtocolError if it does not equal want, per spec.md §4.5 step 3.
func (d *driverState) expectState(control *transport.Conn, want iperf3.StateCode, timeout time.Duration) error {
	if err := control.SetReadTimeout(timeout); err != nil {
		return err
	}
	got, err := wire.ReadState(control)
	if err != nil {
		return err
	}
	if got != want {
		return iperf3.UnexpectedStateError(got)
	}
	return nil
}

// exchangeResults implements spec.md §4.5 step 10: best-effort, errors
// here are logged and discarded because the transfer has already
// semantically succeeded.
func (d *driverState) exchangeResults(control *transport.Conn, intervals []iperf3.IntervalResult, logger log.Interface) {
	if err := d.expectState(control, iperf3.ExchangeResults, 30*time.Second); err != nil {
		logger.WithError(err).Debug("did not receive EXCHANGE_RESULTS cleanly")
		return
	}

	var totalBytes int64
	var seconds float64
	for _, iv := range intervals {
		totalBytes += iv.BytesTransferred
		if iv.EndTime > seconds {
			seconds = iv.EndTime
		}
	}

	if _, err := wire.ReadJSONRaw(control); err != nil {
		logger.WithError(err).Debug("peer results JSON unreadable, substituting {}")
	}
	own := iperf3.MinimalResults(totalBytes, seconds)
	if err := wire.WriteJSON(control, own); err != nil {
		logger.WithError(err).Debug("failed to write own results JSON")
		return
	}

	control.SetReadTimeout(5 * time.Second)
	if _, err := wire.ReadState(control); err != nil {
		logger.WithError(err).Debug("did not receive DISPLAY_RESULTS")
		return
	}
	control.SetReadTimeout(5 * time.Second)
	if _, err := wire.ReadState(control); err != nil {
		logger.WithError(err).Debug("did not receive IPERF_DONE")
	}
}

func closeAll(conns []*transport.Conn) {
	for _, c := range conns {
		if c != nil {
			warnonerror.Close(c, "could not close data stream")
		}
	}
}
