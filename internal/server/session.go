package server

import (
	"time"

	"github.com/apex/log"
	"github.com/m-lab/go/warnonerror"

	"github.com/m-lab/iperf3-go/internal/iperf3"
	"github.com/m-lab/iperf3-go/internal/metrics"
	"github.com/m-lab/iperf3-go/internal/progress"
	"github.com/m-lab/iperf3-go/internal/transport"
	"github.com/m-lab/iperf3-go/internal/wire"
)

// controlReadTimeout is the default control-connection read deadline,
// per spec.md §5.
const controlReadTimeout = 30 * time.Second

// dataStreamAcceptTimeout bounds how long the server waits for the
// client to open each declared data stream after CREATE_STREAMS.
const dataStreamAcceptTimeout = 30 * time.Second

// handleSession drives spec.md §4.5's server-side session steps a-k for
// one accepted control connection. Failures partway through end the
// session without taking down the listener (spec.md §7); the caller
// (runAcceptLoop) continues accepting afterward regardless of outcome.
func (s *Server) handleSession(ln *transport.Listener, control *transport.Conn, stream *progress.Stream, handle *Handle, status *iperf3.ServerStatus, logger log.Interface) {
	defer warnonerror.Close(control, "could not close control connection")
	handle.track(control.Close)
	// acceptDataStream below repoints the listener's accept deadline at
	// the data-stream timeout; restore the poll interval runAcceptLoop
	// relies on to observe a stop request once this session ends.
	defer ln.SetAcceptTimeout(acceptPollInterval)

	metrics.ActiveSessions.WithLabelValues("server-session").Inc()
	defer metrics.ActiveSessions.WithLabelValues("server-session").Dec()

	control.SetReadTimeout(controlReadTimeout)

	// Step a: read cookie.
	cookie, err := wire.ReadCookie(control)
	if err != nil {
		logger.WithError(err).Warn("failed to read session cookie")
		metrics.SessionErrors.WithLabelValues("server", iperf3.FramingError.String()).Inc()
		return
	}
	logger = logger.WithField("cookie", cookie)

	// Step b: send PARAM_EXCHANGE.
	if err := wire.WriteState(control, iperf3.ParamExchange); err != nil {
		logger.WithError(err).Warn("failed to send PARAM_EXCHANGE")
		return
	}

	// Step c: read TestParams.
	var params iperf3.TestParams
	if err := wire.ReadJSON(control, &params); err != nil {
		logger.WithError(err).Warn("failed to read TestParams")
		wire.WriteState(control, iperf3.ServerError)
		metrics.SessionErrors.WithLabelValues("server", iperf3.FramingError.String()).Inc()
		return
	}
	if params.Parallel < 0 || params.Parallel > iperf3.MaxStreams {
		logger.Warn("rejecting session with out-of-range parallel stream count")
		wire.WriteState(control, iperf3.ServerError)
		metrics.SessionErrors.WithLabelValues("server", iperf3.ConfigInvalid.String()).Inc()
		return
	}

	// Step d: send CREATE_STREAMS.
	if err := wire.WriteState(control, iperf3.CreateStreams); err != nil {
		logger.WithError(err).Warn("failed to send CREATE_STREAMS")
		return
	}

	// Step e: accept one data connection per declared stream, validating
	// each one's cookie against the control connection's.
	numStreams := params.Parallel
	if numStreams <= 0 {
		numStreams = 1
	}
	streams := make([]*transport.Conn, 0, numStreams)
	for i := 0; i < numStreams; i++ {
		dc, err := acceptDataStream(ln, cookie, dataStreamAcceptTimeout)
		if err != nil {
			logger.WithError(err).Warn("failed to accept data stream")
			closeAll(streams)
			return
		}
		handle.track(dc.Close)
		if params.Congestion == "bbr" {
			if err := dc.EnableBBR(); err != nil {
				logger.WithError(err).Debug("failed to enable BBR on data stream")
			}
		}
		streams = append(streams, dc)
	}
	defer closeAll(streams)

	cfg := params.ToConfig("", status.ListenPort)

	// Step f: send TEST_START, then TEST_RUNNING.
	if err := wire.WriteState(control, iperf3.TestStart); err != nil {
		logger.WithError(err).Warn("failed to send TEST_START")
		return
	}
	start := time.Now()
	if err := wire.WriteState(control, iperf3.TestRunning); err != nil {
		logger.WithError(err).Warn("failed to send TEST_RUNNING")
		return
	}
	stream.Emit(progress.Event{Kind: progress.TestRunning, Config: cfg, StartTime: start})

	// Step g: mirror transfer loop.
	intervals := s.runMirrorTransfer(cfg, streams, start, handle, stream, status)

	// Step h: read TEST_END, tolerated if the client doesn't send it
	// cleanly (spec.md §4.5 step h: "tolerate EOF").
	control.SetReadTimeout(5 * time.Second)
	if _, err := wire.ReadState(control); err != nil {
		logger.WithError(err).Debug("did not receive TEST_END cleanly")
	}

	// Step i: exchange results, best-effort on the read side.
	if err := wire.WriteState(control, iperf3.ExchangeResults); err != nil {
		logger.WithError(err).Warn("failed to send EXCHANGE_RESULTS")
		return
	}
	own := iperf3.ResultsFromIntervals(intervals, params.Reverse)
	if err := wire.WriteJSON(control, own); err != nil {
		logger.WithError(err).Warn("failed to write results JSON")
		return
	}
	control.SetReadTimeout(5 * time.Second)
	if _, err := wire.ReadJSONRaw(control); err != nil {
		logger.WithError(err).Debug("client results JSON unreadable, ignoring")
	}

	// Step j: send DISPLAY_RESULTS, then IPERF_DONE.
	wire.WriteState(control, iperf3.DisplayResults)
	wire.WriteState(control, iperf3.IperfDone)

	result := iperf3.Aggregate(cfg, intervals)
	status.CumulativeBytes += result.TotalBytes
	s.setStatus(*status)
	stream.Emit(progress.Event{Kind: progress.TestComplete, Result: result})
	metrics.SessionCount.WithLabelValues("server", "success").Inc()
}

// acceptDataStream accepts one connection on ln within timeout and
// validates that its cookie matches the control connection's, per
// spec.md §4.5 step e.
func acceptDataStream(ln *transport.Listener, wantCookie string, timeout time.Duration) (*transport.Conn, error) {
	ln.SetAcceptTimeout(timeout)
	conn, err := ln.Accept()
	if err != nil {
		return nil, iperf3.Wrap(iperf3.TransportError, "failed to accept data stream", err)
	}
	conn.SetReadTimeout(timeout)
	got, err := wire.ReadCookie(conn)
	if err != nil {
		warnonerror.Close(conn, "could not close data stream")
		return nil, err
	}
	if got != wantCookie {
		warnonerror.Close(conn, "could not close data stream")
		return nil, iperf3.New(iperf3.ProtocolError, "data stream cookie does not match control connection")
	}
	return conn, nil
}

func closeAll(conns []*transport.Conn) {
	for _, c := range conns {
		if c != nil {
			warnonerror.Close(c, "could not close data stream")
		}
	}
}
