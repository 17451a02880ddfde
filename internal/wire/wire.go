// Package wire implements the three on-wire primitives of the iperf3
// control connection: the signed state byte, the 37-byte session
// cookie, and the 4-byte length-prefixed JSON message. It is the
// iperf3-shaped analogue of the teacher's NDT framing
// (ReadNDTMessage/WriteNDTMessage in legacy/protocol/protocol.go), but
// the wire shapes themselves are fixed by spec.md §4.2/§6 and bear no
// resemblance to NDT's type-byte-plus-16-bit-length framing.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/m-lab/iperf3-go/internal/iperf3"
)

// CookieLength is the fixed on-wire size of a session cookie: 36 ASCII
// characters plus a trailing NUL.
const CookieLength = 37

// MaxJSONLength is the largest accepted length-prefixed JSON message
// body, per spec.md §4.2.
const MaxJSONLength = 1 << 20 // 1 MiB

// ReadState reads the single signed byte that carries a state code.
func ReadState(r io.Reader) (iperf3.StateCode, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, iperf3.Wrap(iperf3.TransportError, "failed to read state byte", err)
	}
	return iperf3.StateCode(int8(b[0])), nil
}

// WriteState writes the single signed byte carrying state. Writers are
// expected to flush immediately; this package never buffers across
// calls, so there is nothing further to flush here.
func WriteState(w io.Writer, state iperf3.StateCode) error {
	b := [1]byte{byte(int8(state))}
	if _, err := w.Write(b[:]); err != nil {
		return iperf3.Wrap(iperf3.TransportError, "failed to write state byte", err)
	}
	return nil
}

// EncodeCookie pads or truncates cookie to 36 ASCII characters plus a
// trailing NUL, producing the fixed 37-byte on-wire representation.
func EncodeCookie(cookie string) [CookieLength]byte {
	var out [CookieLength]byte
	n := len(cookie)
	if n > CookieLength-1 {
		n = CookieLength - 1
	}
	copy(out[:n], cookie[:n])
	// Remaining bytes, including out[CookieLength-1], stay zero (NUL).
	return out
}

// DecodeCookie decodes a 37-byte on-wire cookie as ASCII, stripping
// trailing NULs.
func DecodeCookie(b [CookieLength]byte) string {
	n := len(b)
	for n > 0 && b[n-1] == 0 {
		n--
	}
	return string(b[:n])
}

// ReadCookie reads the fixed 37-byte cookie field and returns the
// decoded string.
func ReadCookie(r io.Reader) (string, error) {
	var buf [CookieLength]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return "", iperf3.Wrap(iperf3.FramingError, "short cookie read", err)
	}
	return DecodeCookie(buf), nil
}

// WriteCookie writes cookie as the fixed 37-byte on-wire field.
func WriteCookie(w io.Writer, cookie string) error {
	buf := EncodeCookie(cookie)
	if _, err := w.Write(buf[:]); err != nil {
		return iperf3.Wrap(iperf3.TransportError, "failed to write cookie", err)
	}
	return nil
}

// ReadJSON reads a 4-byte big-endian length prefix followed by exactly
// that many bytes of UTF-8 JSON, and unmarshals them into v. A length of
// 0 or greater than MaxJSONLength is rejected as a FramingError.
func ReadJSON(r io.Reader, v interface{}) error {
	body, err := ReadJSONRaw(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return iperf3.Wrap(iperf3.FramingError, "malformed JSON message body", err)
	}
	return nil
}

// ReadJSONRaw reads a length-prefixed message and returns its raw body
// without decoding it, for callers that tolerate malformed peer JSON
// (spec.md §4.5 step 10) and want to substitute a fallback rather than
// fail outright.
func ReadJSONRaw(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, iperf3.Wrap(iperf3.FramingError, "failed to read message length prefix", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 || length > MaxJSONLength {
		return nil, iperf3.New(iperf3.FramingError, "declared JSON message length out of bounds")
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, iperf3.Wrap(iperf3.FramingError, "short JSON message body read", err)
	}
	return body, nil
}

// WriteJSON serialises v to UTF-8 JSON, writes the 4-byte big-endian
// length prefix, then the payload.
func WriteJSON(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return iperf3.Wrap(iperf3.FramingError, "failed to marshal JSON message", err)
	}
	return WriteJSONRaw(w, body)
}

// WriteJSONRaw writes a pre-encoded JSON body with its length prefix.
func WriteJSONRaw(w io.Writer, body []byte) error {
	if len(body) == 0 || len(body) > MaxJSONLength {
		return iperf3.New(iperf3.FramingError, "JSON message body length out of bounds")
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return iperf3.Wrap(iperf3.TransportError, "failed to write message length prefix", err)
	}
	if _, err := w.Write(body); err != nil {
		return iperf3.Wrap(iperf3.TransportError, "failed to write message body", err)
	}
	return nil
}
