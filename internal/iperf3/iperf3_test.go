package iperf3

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() TestConfiguration {
	return TestConfiguration{
		ServerHost: "127.0.0.1",
		ServerPort: 5201,
		Duration:   3 * time.Second,
		NumStreams: 1,
	}
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	c := validConfig()
	require.NoError(t, c.Validate())
}

func TestValidateRejectsMissingDurationAndBytes(t *testing.T) {
	c := validConfig()
	c.Duration = 0
	c.BytesToTransfer = 0
	err := c.Validate()
	require.Error(t, err)
	var ierr *Error
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, ConfigInvalid, ierr.Kind)
}

func TestValidateAcceptsBytesToTransferWithoutDuration(t *testing.T) {
	c := validConfig()
	c.Duration = 0
	c.BytesToTransfer = 1 << 20
	require.NoError(t, c.Validate())
}

func TestValidateRejectsTooManyStreams(t *testing.T) {
	c := validConfig()
	c.NumStreams = MaxStreams + 1
	err := c.Validate()
	require.Error(t, err)
	var ierr *Error
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, ConfigInvalid, ierr.Kind)
}

func TestValidateRejectsEmptyHost(t *testing.T) {
	c := validConfig()
	c.ServerHost = ""
	require.Error(t, c.Validate())
}

func TestValidateRejectsBadPort(t *testing.T) {
	c := validConfig()
	c.ServerPort = 70000
	require.Error(t, c.Validate())
}

func TestWithDefaultsFillsZeroFields(t *testing.T) {
	c := TestConfiguration{ServerHost: "x", Duration: time.Second}
	got := c.WithDefaults()
	require.Equal(t, DefaultServerPort, got.ServerPort)
	require.Equal(t, DefaultReportingInterval, got.ReportingInterval)
	require.Equal(t, DefaultBufferLength, got.BufferLength)
	require.Equal(t, DefaultTimeout, got.Timeout)
	require.Equal(t, 1, got.NumStreams)
}

func TestNewCookieHasDocumentedShape(t *testing.T) {
	c, err := NewCookie()
	require.NoError(t, err)
	require.Len(t, c, CookieLength)
	for _, r := range c {
		require.Contains(t, cookieChars, string(r))
	}
}

func TestNewCookieIsNotConstant(t *testing.T) {
	a, err := NewCookie()
	require.NoError(t, err)
	b, err := NewCookie()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestFromConfigToConfigRoundTripsDocumentedFields(t *testing.T) {
	c := validConfig()
	c.Duration = 10 * time.Second
	c.NumStreams = 4
	c.BandwidthLimit = 5_000_000
	c.Reverse = true
	c.NoDelay = true
	c.BufferLength = 65536
	c.CongestionControl = "bbr"

	params := FromConfig(&c)
	back := params.ToConfig(c.ServerHost, c.ServerPort)

	require.Equal(t, c.Duration, back.Duration)
	require.Equal(t, c.NumStreams, back.NumStreams)
	require.Equal(t, c.BandwidthLimit, back.BandwidthLimit)
	require.Equal(t, c.Reverse, back.Reverse)
	require.Equal(t, c.NoDelay, back.NoDelay)
	require.Equal(t, c.BufferLength, back.BufferLength)
	require.Equal(t, c.CongestionControl, back.CongestionControl)
	require.Equal(t, "bbr", params.Congestion)
}

func TestAggregateSumsBytesAndKeepsAvgWithinMinMax(t *testing.T) {
	intervals := []IntervalResult{
		NewIntervalResult(0, 0, 1, 1_000_000),
		NewIntervalResult(0, 1, 2, 2_000_000),
		NewIntervalResult(0, 2, 3, 500_000),
	}
	cfg := validConfig()
	result := Aggregate(cfg, intervals)

	var wantTotal int64
	for _, iv := range intervals {
		wantTotal += iv.BytesTransferred
	}
	require.Equal(t, wantTotal, result.TotalBytes)
	require.GreaterOrEqual(t, result.AvgBandwidth, result.MinBandwidth)
	require.LessOrEqual(t, result.AvgBandwidth, result.MaxBandwidth)
	require.True(t, result.IsSuccess)
	require.Equal(t, intervals, result.Intervals)
	require.Equal(t, 3*time.Second, result.Duration)
}

func TestAggregateWithNoIntervalsFallsBackToConfiguredDuration(t *testing.T) {
	cfg := validConfig()
	result := Aggregate(cfg, nil)
	require.Equal(t, cfg.Duration, result.Duration)
	require.Equal(t, int64(0), result.TotalBytes)
	require.True(t, result.IsSuccess)
}

func TestUnexpectedStateErrorMapsKnownCodes(t *testing.T) {
	cases := map[StateCode]Kind{
		AccessDenied:     ProtocolError,
		ServerError:      ProtocolError,
		ServerTerminate:  ProtocolError,
	}
	for code, wantKind := range cases {
		err := UnexpectedStateError(code)
		var ierr *Error
		require.ErrorAs(t, err, &ierr)
		require.Equal(t, wantKind, ierr.Kind)
	}
}

func TestUnexpectedStateErrorMapsUnknownCodeToProtocolError(t *testing.T) {
	err := UnexpectedStateError(StateCode(99))
	var ierr *Error
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, ProtocolError, ierr.Kind)
}

func TestMinimalResultsMarshalsToValidJSON(t *testing.T) {
	r := MinimalResults(1_000_000, 2.5)
	b, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded IPerf3Results
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.NotNil(t, decoded.End)
	require.Equal(t, int64(1_000_000), decoded.End.SumSent.Bytes)
}

func TestResultsFromIntervalsBuildsOneEntryPerInterval(t *testing.T) {
	intervals := []IntervalResult{
		NewIntervalResult(0, 0, 1, 1000),
		NewIntervalResult(0, 1, 2, 2000),
	}
	r := ResultsFromIntervals(intervals, false)
	require.Len(t, r.Intervals, len(intervals))
	require.Equal(t, int64(3000), r.End.SumSent.Bytes)
}

func TestResultsFromIntervalsSwapsSentReceivedWhenReverse(t *testing.T) {
	intervals := []IntervalResult{NewIntervalResult(0, 0, 1, 5000)}
	forward := ResultsFromIntervals(intervals, false)
	reverse := ResultsFromIntervals(intervals, true)
	require.Equal(t, forward.End.SumSent.Bytes, reverse.End.SumReceived.Bytes)
}
