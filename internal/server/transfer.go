package server

import (
	"context"
	"sync"
	"time"

	"github.com/m-lab/iperf3-go/internal/iperf3"
	"github.com/m-lab/iperf3-go/internal/metrics"
	"github.com/m-lab/iperf3-go/internal/pacer"
	"github.com/m-lab/iperf3-go/internal/progress"
	"github.com/m-lab/iperf3-go/internal/transport"
)

// mirrorBoundary is the server-side twin of client's boundary type:
// reporting-interval bookkeeping for one data stream.
type mirrorBoundary struct {
	reportEvery   time.Duration
	intervalBytes int64
	lastBoundary  time.Duration
	index         int
}

// runMirrorTransfer implements spec.md §4.5 server driver step g: one
// task per data stream, sending if the client asked for reverse mode
// and receiving otherwise — the mirror image of the client's own
// send/receive choice.
func (s *Server) runMirrorTransfer(cfg iperf3.TestConfiguration, streams []*transport.Conn, start time.Time, handle *Handle, stream *progress.Stream, status *iperf3.ServerStatus) []iperf3.IntervalResult {
	var mu sync.Mutex
	var intervals []iperf3.IntervalResult

	var wg sync.WaitGroup
	for i, conn := range streams {
		wg.Add(1)
		go func(streamID int, conn *transport.Conn) {
			defer wg.Done()
			var local []iperf3.IntervalResult
			if cfg.Reverse {
				local = mirrorSendLoop(cfg, streamID, conn, start, handle, stream)
			} else {
				local = mirrorReceiveLoop(cfg, streamID, conn, start, handle, stream)
			}
			mu.Lock()
			intervals = append(intervals, local...)
			mu.Unlock()
		}(i, conn)
	}
	wg.Wait()
	return intervals
}

func emitMirrorInterval(stream *progress.Stream, streamID int, b *mirrorBoundary, elapsed time.Duration, conn *transport.Conn, direction string) *iperf3.IntervalResult {
	next := time.Duration(b.index+1) * b.reportEvery
	if elapsed < next {
		return nil
	}
	start := b.lastBoundary.Seconds()
	end := elapsed.Seconds()
	ir := iperf3.NewIntervalResult(streamID, start, end, b.intervalBytes)
	if info, err := conn.TCPInfo(); err == nil {
		ir.TCP = iperf3.TCPStatsFromInfo(info)
	}
	metrics.BytesTotal.WithLabelValues("server", direction).Add(float64(b.intervalBytes))
	stream.Emit(progress.Event{
		Kind:      progress.Interval,
		Sample:    ir,
		ElapsedMs: elapsed.Milliseconds(),
	})
	b.intervalBytes = 0
	b.lastBoundary = elapsed
	b.index++
	return &ir
}

// mirrorSendLoop is the server's half of reverse mode: the client asked
// to receive, so the server sends, paced exactly like the client's own
// sendLoop (spec.md §4.4, §4.5 step g).
func mirrorSendLoop(cfg iperf3.TestConfiguration, streamID int, conn *transport.Conn, start time.Time, handle *Handle, stream *progress.Stream) []iperf3.IntervalResult {
	buf := make([]byte, cfg.BufferLength)
	for i := range buf {
		buf[i] = byte(i)
	}
	reportEvery := cfg.ReportingInterval
	if reportEvery <= 0 {
		reportEvery = iperf3.DefaultReportingInterval
	}
	p := pacer.New(cfg.BandwidthLimit, 0)
	b := &mirrorBoundary{reportEvery: reportEvery}

	var intervals []iperf3.IntervalResult
	var totalBytes int64
	deadline := cfg.Duration
	ctx := context.Background()

	for {
		if handle.Stopped() {
			return intervals
		}
		elapsed := time.Since(start)
		if deadline > 0 && elapsed >= deadline {
			return intervals
		}
		if cfg.BytesToTransfer > 0 && totalBytes >= cfg.BytesToTransfer {
			return intervals
		}

		if err := p.Acquire(ctx, int64(len(buf))); err != nil {
			return intervals
		}

		// Strict overshoot policy, matching the client's send loop and
		// SPEC_FULL.md §13's decision on spec.md §9's open question.
		elapsed = time.Since(start)
		if deadline > 0 && elapsed >= deadline {
			return intervals
		}

		n, err := conn.Write(buf)
		if err != nil {
			return intervals
		}
		totalBytes += int64(n)
		b.intervalBytes += int64(n)

		elapsed = time.Since(start)
		if ir := emitMirrorInterval(stream, streamID, b, elapsed, conn, "sent"); ir != nil {
			intervals = append(intervals, *ir)
		}
	}
}

// mirrorReceiveLoop is the server's half of the default (upload) mode:
// the client sends, so the server reads.
func mirrorReceiveLoop(cfg iperf3.TestConfiguration, streamID int, conn *transport.Conn, start time.Time, handle *Handle, stream *progress.Stream) []iperf3.IntervalResult {
	buf := make([]byte, cfg.BufferLength)
	readTimeout := cfg.Duration + 5*time.Second
	conn.SetReadTimeout(readTimeout)
	reportEvery := cfg.ReportingInterval
	if reportEvery <= 0 {
		reportEvery = iperf3.DefaultReportingInterval
	}
	b := &mirrorBoundary{reportEvery: reportEvery}

	var intervals []iperf3.IntervalResult
	var totalBytes int64
	deadline := cfg.Duration

	for {
		if handle.Stopped() {
			return intervals
		}
		elapsed := time.Since(start)
		if deadline > 0 && elapsed >= deadline {
			return intervals
		}
		if cfg.BytesToTransfer > 0 && totalBytes >= cfg.BytesToTransfer {
			return intervals
		}

		n, err := conn.Read(buf)
		if n > 0 {
			totalBytes += int64(n)
			b.intervalBytes += int64(n)
		}
		if err != nil {
			// A clean EOF/close from the client ends the loop without
			// it being a session failure, mirroring the client's own
			// receiveLoop termination policy.
			return intervals
		}

		elapsed = time.Since(start)
		if ir := emitMirrorInterval(stream, streamID, b, elapsed, conn, "received"); ir != nil {
			intervals = append(intervals, *ir)
		}
	}
}
