package iperf3

import (
	"time"

	"github.com/m-lab/tcp-info/tcp"
)

// TCPIntervalStats holds the optional per-interval TCP fields. A nil
// *TCPIntervalStats means the platform could not supply them (spec.md
// §1: "may be reported as absent").
type TCPIntervalStats struct {
	Retransmits       int64 `json:"retransmits"`
	CongestionWindow  int64 `json:"congestionWindow"`
}

// TCPStatsFromInfo adapts a kernel TCP_INFO sample to the optional
// sub-bundle an IntervalResult carries. It returns nil if info is nil,
// so callers can pass through a failed best-effort TCPInfo() call
// directly: ir.TCP = TCPStatsFromInfo(info).
func TCPStatsFromInfo(info *tcp.LinuxTCPInfo) *TCPIntervalStats {
	if info == nil {
		return nil
	}
	return &TCPIntervalStats{
		Retransmits:      int64(info.Retransmits),
		CongestionWindow: int64(info.SndCwnd),
	}
}

// UDPIntervalStats holds the optional per-interval UDP fields. Nothing
// in this module drives them yet (spec.md §9); they exist so a future
// UDP engine has somewhere to write.
type UDPIntervalStats struct {
	Jitter             float64 `json:"jitter"`
	Packets            int64   `json:"packets"`
	LostPackets        int64   `json:"lostPackets"`
	OutOfOrderPackets   int64  `json:"outOfOrderPackets"`
}

// IntervalResult is a single reporting slice for one stream, or for the
// aggregate across streams when StreamID is -1. It is created once by
// the protocol engine and never mutated afterward.
type IntervalResult struct {
	StreamID         int
	StartTime        float64 // seconds relative to test start
	EndTime          float64 // seconds relative to test start
	BytesTransferred int64
	BitsPerSecond    float64

	TCP *TCPIntervalStats `json:"tcp,omitempty"`
	UDP *UDPIntervalStats `json:"udp,omitempty"`
}

// NewIntervalResult computes BitsPerSecond from the byte count and the
// slice's duration, matching spec.md §3's bitsPerSecond formula.
func NewIntervalResult(streamID int, start, end float64, bytes int64) IntervalResult {
	ir := IntervalResult{
		StreamID:         streamID,
		StartTime:        start,
		EndTime:          end,
		BytesTransferred: bytes,
	}
	if d := end - start; d > 0 {
		ir.BitsPerSecond = float64(bytes) * 8 / d
	}
	return ir
}

// TestResult is the terminal record of a test, built only on the
// Complete, Error, or Cancelled transitions.
type TestResult struct {
	Name      string
	Host      string
	Port      int
	Timestamp time.Time
	Protocol  Protocol
	Reverse   bool

	TotalBytes int64
	Duration   time.Duration

	AvgBandwidth float64
	MinBandwidth float64
	MaxBandwidth float64

	TCP *TCPIntervalStats `json:"tcp,omitempty"`
	UDP *UDPIntervalStats `json:"udp,omitempty"`

	// QualityScore is derived 0..100 by an external collaborator; the
	// aggregation step leaves it at the sentinel 0 when no scorer is
	// supplied.
	QualityScore int

	Intervals []IntervalResult

	// RawJSON is an optional copy of the peer's results JSON, kept for
	// fidelity even though this module's own aggregation does not need
	// it to compute the fields above.
	RawJSON string

	IsSuccess bool
}

// Aggregate builds a TestResult from the accumulated interval samples
// and the configuration that produced them, per spec.md §4.6.
func Aggregate(cfg TestConfiguration, intervals []IntervalResult) *TestResult {
	r := &TestResult{
		Host:      cfg.ServerHost,
		Port:      cfg.ServerPort,
		Timestamp: time.Now(),
		Protocol:  cfg.Protocol,
		Reverse:   cfg.Reverse,
		Intervals: intervals,
		IsSuccess: true,
	}
	if len(intervals) == 0 {
		r.Duration = cfg.Duration
		return r
	}
	minStart, maxEnd := intervals[0].StartTime, intervals[0].EndTime
	r.MinBandwidth = intervals[0].BitsPerSecond
	for _, iv := range intervals {
		r.TotalBytes += iv.BytesTransferred
		if iv.BitsPerSecond < r.MinBandwidth {
			r.MinBandwidth = iv.BitsPerSecond
		}
		if iv.BitsPerSecond > r.MaxBandwidth {
			r.MaxBandwidth = iv.BitsPerSecond
		}
		r.AvgBandwidth += iv.BitsPerSecond
		if iv.StartTime < minStart {
			minStart = iv.StartTime
		}
		if iv.EndTime > maxEnd {
			maxEnd = iv.EndTime
		}
	}
	r.AvgBandwidth /= float64(len(intervals))
	r.Duration = time.Duration((maxEnd - minStart) * float64(time.Second))
	return r
}

// ServerStatus is the observable state of the server component. Updates
// are single-writer (the accept loop), so readers see an atomically
// replaced whole record.
type ServerStatus struct {
	Running           bool
	ListenPort         int
	ActiveConnections  int
	CumulativeBytes    int64
	LastClientAddr     string
	LastError          string
}
