package client

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/m-lab/iperf3-go/internal/iperf3"
	"github.com/m-lab/iperf3-go/internal/metrics"
	"github.com/m-lab/iperf3-go/internal/pacer"
	"github.com/m-lab/iperf3-go/internal/progress"
	"github.com/m-lab/iperf3-go/internal/transport"
)

// runTransfer drives spec.md §4.5 step 8: one task per data stream,
// each either sending (paced) or receiving, emitting an IntervalResult
// at every reporting-interval boundary and accumulating its bytes.
func (d *driverState) runTransfer(ctx context.Context, streams []*transport.Conn, logger log.Interface) ([]iperf3.IntervalResult, error) {
	var mu sync.Mutex
	var intervals []iperf3.IntervalResult
	var firstErr error

	var wg sync.WaitGroup
	for i, conn := range streams {
		wg.Add(1)
		go func(streamID int, conn *transport.Conn) {
			defer wg.Done()
			localIntervals, err := d.transferStream(ctx, streamID, conn, logger)
			mu.Lock()
			intervals = append(intervals, localIntervals...)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}(i, conn)
	}
	wg.Wait()

	if d.handle.Cancelled() {
		return intervals, nil
	}
	return intervals, firstErr
}

// transferStream runs the send or receive loop for a single data
// stream until the configured duration/byte count elapses, the peer
// closes the connection, or cancellation is observed.
func (d *driverState) transferStream(ctx context.Context, streamID int, conn *transport.Conn, logger log.Interface) ([]iperf3.IntervalResult, error) {
	if d.cfg.Reverse {
		return d.receiveLoop(streamID, conn, logger)
	}
	return d.sendLoop(ctx, streamID, conn, logger)
}

// boundary tracks the reporting-interval bookkeeping shared by both
// loop directions.
type boundary struct {
	reportEvery   time.Duration
	intervalBytes int64
	lastBoundary  time.Duration
	index         int
}

func (d *driverState) emitIfBoundary(streamID int, b *boundary, elapsed time.Duration, totalBytes int64, direction string, conn *transport.Conn) *iperf3.IntervalResult {
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
	metrics.BytesTotal.WithLabelValues("client", direction).Add(float64(b.intervalBytes))
	d.stream.Emit(progress.Event{
		Kind:      progress.Interval,
		Sample:    ir,
		ElapsedMs: elapsed.Milliseconds(),
		Progress:  d.computeProgress(elapsed, totalBytes),
	})
	b.intervalBytes = 0
	b.lastBoundary = elapsed
	b.index++
	return &ir
}

// computeProgress favors byte-count completion over elapsed time when
// the test has a target byte count, since that is the authoritative
// stopping condition in that mode.
func (d *driverState) computeProgress(elapsed time.Duration, totalBytes int64) float64 {
	var p float64
	switch {
	case d.cfg.BytesToTransfer > 0:
		p = float64(totalBytes) / float64(d.cfg.BytesToTransfer)
	case d.cfg.Duration > 0:
		p = elapsed.Seconds() / d.cfg.Duration.Seconds()
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p
}

// sendLoop implements the default (upload) direction of spec.md §4.5
// step 8: acquire bufferLength tokens from the pacer, write, flush,
// accumulate, and emit at each interval boundary. The pacer overshoot
// policy is strict (SPEC_FULL.md §13): elapsed is re-checked after
// Acquire returns and before the write is issued.
func (d *driverState) sendLoop(ctx context.Context, streamID int, conn *transport.Conn, logger log.Interface) ([]iperf3.IntervalResult, error) {
	buf := make([]byte, d.cfg.BufferLength)
	for i := range buf {
		buf[i] = byte(i)
	}
	p := pacer.New(d.cfg.BandwidthLimit, 0)
	b := &boundary{reportEvery: d.cfg.ReportingInterval}

	var intervals []iperf3.IntervalResult
	var totalBytes int64
	deadline := d.cfg.Duration

	for {
		if d.handle.Cancelled() {
			return intervals, nil
		}
		elapsed := time.Since(d.start)
		if deadline > 0 && elapsed >= deadline {
			return intervals, nil
		}
		if d.cfg.BytesToTransfer > 0 && totalBytes >= d.cfg.BytesToTransfer {
			return intervals, nil
		}

		if err := p.Acquire(ctx, int64(len(buf))); err != nil {
			if d.handle.Cancelled() {
				return intervals, nil
			}
			return intervals, iperf3.Wrap(iperf3.Cancelled, "pacer wait interrupted", err)
		}

		// Strict overshoot policy: re-check the deadline after the
		// pacer suspension before issuing the write.
		elapsed = time.Since(d.start)
		if deadline > 0 && elapsed >= deadline {
			return intervals, nil
		}

		n, err := conn.Write(buf)
		if err != nil {
			if d.handle.Cancelled() {
				return intervals, nil
			}
			return intervals, err
		}
		totalBytes += int64(n)
		b.intervalBytes += int64(n)

		elapsed = time.Since(d.start)
		if ir := d.emitIfBoundary(streamID, b, elapsed, totalBytes, "sent", conn); ir != nil {
			intervals = append(intervals, *ir)
		}
	}
}

// receiveLoop implements spec.md §4.5 step 8's reverse direction: read
// into the buffer until EOF, duration elapses, or cancellation is
// observed.
func (d *driverState) receiveLoop(streamID int, conn *transport.Conn, logger log.Interface) ([]iperf3.IntervalResult, error) {
	buf := make([]byte, d.cfg.BufferLength)
	readTimeout := d.cfg.Duration + 5*time.Second
	if err := conn.SetReadTimeout(readTimeout); err != nil {
		return nil, err
	}
	b := &boundary{reportEvery: d.cfg.ReportingInterval}

	var intervals []iperf3.IntervalResult
	var totalBytes int64
	deadline := d.cfg.Duration

	for {
		if d.handle.Cancelled() {
			return intervals, nil
		}
		elapsed := time.Since(d.start)
		if deadline > 0 && elapsed >= deadline {
			return intervals, nil
		}
		if d.cfg.BytesToTransfer > 0 && totalBytes >= d.cfg.BytesToTransfer {
			return intervals, nil
		}

		n, err := conn.Read(buf)
		if n > 0 {
			totalBytes += int64(n)
			b.intervalBytes += int64(n)
		}
		if err != nil {
			if d.handle.Cancelled() {
				return intervals, nil
			}
			// A clean EOF/close from the peer ends the loop without
			// it being a test failure: spec.md §4.5 step 8 lists it
			// alongside the deadline and cancellation as a normal exit.
			return intervals, nil
		}

		elapsed = time.Since(d.start)
		if ir := d.emitIfBoundary(streamID, b, elapsed, totalBytes, "received", conn); ir != nil {
			intervals = append(intervals, *ir)
		}
	}
}
