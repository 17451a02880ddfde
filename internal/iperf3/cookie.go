package iperf3

import (
	"crypto/rand"
)

// cookieChars is the alphanumeric charset the reference client draws its
// session cookie from.
const cookieChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// CookieLength is the number of significant characters in a session
// cookie, not counting the trailing NUL the wire format adds.
const CookieLength = 36

// NewCookie generates a fresh 36-character alphanumeric session cookie.
// The client calls this once per test and reuses the result on every
// data connection so the server can associate them with the control
// connection.
func NewCookie() (string, error) {
	buf := make([]byte, CookieLength)
	if _, err := rand.Read(buf); err != nil {
		return "", Wrap(TransportError, "failed to generate session cookie", err)
	}
	out := make([]byte, CookieLength)
	for i, b := range buf {
		out[i] = cookieChars[int(b)%len(cookieChars)]
	}
	return string(out), nil
}
