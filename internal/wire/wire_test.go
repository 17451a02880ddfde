package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/m-lab/iperf3-go/internal/iperf3"
)

func TestStateRoundTrip(t *testing.T) {
	for _, s := range []iperf3.StateCode{
		iperf3.TestStart, iperf3.ParamExchange, iperf3.AccessDenied, iperf3.ServerError,
	} {
		var buf bytes.Buffer
		require.NoError(t, WriteState(&buf, s))
		got, err := ReadState(&buf)
		require.NoError(t, err)
		require.Equal(t, s, got)
	}
}

func TestCookieRoundTrip(t *testing.T) {
	cases := []string{"", "a", "0123456789012345678901234567890123456"[:36]}
	for _, c := range cases {
		var buf bytes.Buffer
		require.NoError(t, WriteCookie(&buf, c))
		require.Equal(t, CookieLength, buf.Len())
		got, err := ReadCookie(&buf)
		require.NoError(t, err)
		require.Equal(t, c, got)
	}
}

func TestCookieTruncatesOversizedInput(t *testing.T) {
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'x'
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCookie(&buf, string(long)))
	got, err := ReadCookie(&buf)
	require.NoError(t, err)
	require.Len(t, got, CookieLength-1)
}

func TestJSONRoundTrip(t *testing.T) {
	in := iperf3.TestParams{Time: 10, Parallel: 4, Title: "hello"}
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, in))
	var out iperf3.TestParams
	require.NoError(t, ReadJSON(&buf, &out))
	require.Equal(t, in, out)
}

func TestReadJSONRejectsZeroLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0})
	_, err := ReadJSONRaw(&buf)
	require.Error(t, err)
	var ferr *iperf3.Error
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, iperf3.FramingError, ferr.Kind)
}

func TestReadJSONRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x7F, 0xFF, 0xFF, 0xFF})
	_, err := ReadJSONRaw(&buf)
	require.Error(t, err)
	var ferr *iperf3.Error
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, iperf3.FramingError, ferr.Kind)
}

func TestWriteJSONRawRoundTripArbitrarySize(t *testing.T) {
	for _, size := range []int{1, 100, 65536, 1 << 20} {
		body := bytes.Repeat([]byte("x"), size)
		var buf bytes.Buffer
		require.NoError(t, WriteJSONRaw(&buf, body))
		got, err := ReadJSONRaw(&buf)
		require.NoError(t, err)
		require.Equal(t, body, got)
	}
}
