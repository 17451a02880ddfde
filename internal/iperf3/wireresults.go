package iperf3

// IPerf3Results is the JSON document exchanged in the EXCHANGE_RESULTS
// step. It mirrors the reference implementation's results format closely
// enough to parse what a real iperf3 peer sends, and to produce a
// minimally valid document of its own; an empty "{}" is acceptable on
// either side where no richer data is available (spec.md §4.3).
type IPerf3Results struct {
	Start     *ResultsStart      `json:"start,omitempty"`
	Intervals []ResultsInterval  `json:"intervals,omitempty"`
	End       *ResultsEnd        `json:"end,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// ResultsStart is the "start" object of the reference results document.
type ResultsStart struct {
	Connected []ResultsConnection `json:"connected,omitempty"`
	Version   string              `json:"version,omitempty"`
	Timestamp ResultsTimestamp    `json:"timestamp,omitempty"`
	TestStart TestParams          `json:"test_start,omitempty"`
}

// ResultsConnection describes one socket pair in the "connected" list.
type ResultsConnection struct {
	Socket     int    `json:"socket"`
	LocalHost  string `json:"local_host"`
	LocalPort  int    `json:"local_port"`
	RemoteHost string `json:"remote_host"`
	RemotePort int    `json:"remote_port"`
}

// ResultsTimestamp is the reference format's dual plain/Unix timestamp.
type ResultsTimestamp struct {
	Time     string `json:"time,omitempty"`
	TimeSecs int64  `json:"timesecs,omitempty"`
}

// ResultsInterval is one element of the top-level "intervals" array: a
// per-stream breakdown plus the sum across streams for that slice.
type ResultsInterval struct {
	Streams []ResultsStreamSample `json:"streams"`
	Sum     ResultsStreamSample   `json:"sum"`
}

// ResultsStreamSample is a single stream's (or the sum's) sample within
// one interval.
type ResultsStreamSample struct {
	Socket        int     `json:"socket,omitempty"`
	Start         float64 `json:"start"`
	End           float64 `json:"end"`
	Seconds       float64 `json:"seconds"`
	Bytes         int64   `json:"bytes"`
	BitsPerSecond float64 `json:"bits_per_second"`
	Retransmits   int64   `json:"retransmits,omitempty"`
	Omitted       bool    `json:"omitted,omitempty"`
}

// ResultsEnd is the "end" object: per-stream and summary statistics for
// the whole test, split into sender/receiver halves like the reference
// format.
type ResultsEnd struct {
	Streams          []ResultsStreamEnd `json:"streams,omitempty"`
	SumSent          ResultsStreamEnd   `json:"sum_sent"`
	SumReceived      ResultsStreamEnd   `json:"sum_received"`
	CPUUtilPercent   map[string]float64 `json:"cpu_utilization_percent,omitempty"`
}

// ResultsStreamEnd is one stream's (or the sum's) sender/receiver
// end-of-test summary.
type ResultsStreamEnd struct {
	Socket        int     `json:"socket,omitempty"`
	Start         float64 `json:"start"`
	End           float64 `json:"end"`
	Seconds       float64 `json:"seconds"`
	Bytes         int64   `json:"bytes"`
	BitsPerSecond float64 `json:"bits_per_second"`
	Retransmits   int64   `json:"retransmits,omitempty"`
}

// MinimalResults builds the smallest results document this module
// produces when asked for its own side of an EXCHANGE_RESULTS: "{}" is
// explicitly acceptable per spec.md §4.3, but populating End (Start is
// left nil) mirrors the teacher's habit of always emitting a structured record
// rather than silently mirroring bytes (see SPEC_FULL.md §13).
func MinimalResults(totalBytes int64, seconds float64) *IPerf3Results {
	var bps float64
	if seconds > 0 {
		bps = float64(totalBytes) * 8 / seconds
	}
	sum := ResultsStreamEnd{
		Start:         0,
		End:           seconds,
		Seconds:       seconds,
		Bytes:         totalBytes,
		BitsPerSecond: bps,
	}
	return &IPerf3Results{
		End: &ResultsEnd{
			SumSent:     sum,
			SumReceived: sum,
		},
	}
}

// ResultsFromIntervals builds a results document that also populates
// the top-level "intervals" array from a server session's own interval
// accounting, unlike MinimalResults. spec.md §9 notes the reference
// server only mirrors bytes and never builds this array; SPEC_FULL.md
// §13 calls that out as a gap worth closing, since the teacher's own
// server-side code always builds a structured record rather than
// silently mirroring bytes.
func ResultsFromIntervals(intervals []IntervalResult, reverse bool) *IPerf3Results {
	var totalBytes int64
	var seconds float64
	wireIntervals := make([]ResultsInterval, 0, len(intervals))
	for _, iv := range intervals {
		totalBytes += iv.BytesTransferred
		if iv.EndTime > seconds {
			seconds = iv.EndTime
		}
		sample := ResultsStreamSample{
			Socket:        iv.StreamID,
			Start:         iv.StartTime,
			End:           iv.EndTime,
			Seconds:       iv.EndTime - iv.StartTime,
			Bytes:         iv.BytesTransferred,
			BitsPerSecond: iv.BitsPerSecond,
		}
		if iv.TCP != nil {
			sample.Retransmits = iv.TCP.Retransmits
		}
		wireIntervals = append(wireIntervals, ResultsInterval{
			Streams: []ResultsStreamSample{sample},
			Sum:     sample,
		})
	}

	results := MinimalResults(totalBytes, seconds)
	results.Intervals = wireIntervals
	if reverse {
		// When the client requested reverse mode, the server was the
		// sender; report its own role accordingly in the end summary.
		results.End.SumSent, results.End.SumReceived = results.End.SumReceived, results.End.SumSent
	}
	return results
}
