// Package fdcache lets code that only holds a net.Conn obtain the raw
// *os.File behind it, so that socket-level facilities (TCP_INFO, BBR,
// conntrack-derived UUIDs) stay reachable without threading an *os.File
// through every layer of the transport abstraction.
//
// The data connection for an iperf3 stream is accepted as a *net.TCPConn
// and handed off to the transport and protocol-engine layers as a plain
// net.Conn. To read TCP_INFO or set BBR on it later, something needs a
// file descriptor. TCPConnToFile gets one via (*net.TCPConn).File(),
// which dup()s the underlying fd; the dup survives independently of the
// original connection, so we cache it keyed by the connection's four
// tuple (local and remote address and port) until the owning code comes
// back to claim it with GetAndForgetFile.
//
// Entries can go stale if a connection is accepted and then closed
// before anything claims its cached file, so OwnFile also runs a
// periodic sweep that closes and evicts entries older than maxInactive.
package fdcache

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/m-lab/uuid"
)

// connKey is the key associated to a TCP connection.
type connKey string

// makekey creates a connKey from |conn|.
func makekey(conn net.Conn) connKey {
	return connKey(conn.LocalAddr().String() + "<=>" + conn.RemoteAddr().String())
}

// entry is an entry inside the cache.
type entry struct {
	Fp    *os.File
	Stamp time.Time
}

// cache maps a connKey to the corresponding *os.File.
var cache = make(map[connKey]entry)

// mutex serializes access to cache.
var mutex sync.Mutex

// lastCheck is last time when we checked the cache for stale entries.
var lastCheck time.Time

// checkInterval is the interval between each check for stale entries.
const checkInterval = 500 * time.Millisecond

// maxInactive is the amount of time after which an entry is stale.
const maxInactive = 3 * time.Second

// TCPConnToFile maps |tc| to the corresponding *os.File. The returned
// *os.File is a dup() of the original, so the caller now owns two
// objects and must eventually Close() both.
func TCPConnToFile(tc *net.TCPConn) (*os.File, error) {
	return tc.File()
}

// OwnFile transfers ownership of |fp| to the fdcache module, keyed by
// |conn|'s four tuple. Passing a nil |fp| is a programming error and
// panics.
func OwnFile(conn net.Conn, fp *os.File) {
	if fp == nil {
		panic("OwnFile: nil *os.File")
	}
	curTime := time.Now()
	key := makekey(conn)
	mutex.Lock()
	defer mutex.Unlock()
	if curTime.Sub(lastCheck) > checkInterval {
		lastCheck = curTime
		// Safe to delete from a map while iterating it in Go.
		for key, entry := range cache {
			if curTime.Sub(entry.Stamp) > maxInactive {
				entry.Fp.Close()
				delete(cache, key)
			}
		}
	}
	cache[key] = entry{
		Fp:    fp, // takes ownership of fp
		Stamp: curTime,
	}
}

// GetAndForgetFile returns the *os.File previously saved for |conn| with
// OwnFile, or nil if none was found. Ownership passes to the caller, and
// the entry is removed from the cache.
func GetAndForgetFile(conn net.Conn) *os.File {
	key := makekey(conn)
	mutex.Lock()
	defer mutex.Unlock()
	entry, found := cache[key]
	if !found {
		return nil
	}
	delete(cache, key)
	return entry.Fp // ownership passes to caller
}

// PeekFile returns the *os.File cached for conn without removing it,
// for callers that need to read it more than once over a connection's
// lifetime (e.g. polling TCP_INFO once per reporting interval). Returns
// nil if nothing is cached for conn.
func PeekFile(conn net.Conn) *os.File {
	key := makekey(conn)
	mutex.Lock()
	defer mutex.Unlock()
	entry, found := cache[key]
	if !found {
		return nil
	}
	return entry.Fp
}

// GetUUID returns the conntrack-derived UUID for the data connection
// previously registered with OwnFile.
func GetUUID(conn net.Conn) (string, error) {
	key := makekey(conn)
	mutex.Lock()
	defer mutex.Unlock()
	entry, found := cache[key]
	if !found {
		return "", fmt.Errorf("fdcache: no cached file for %s", key)
	}
	return uuid.FromFile(entry.Fp)
}
