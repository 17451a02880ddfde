// Package progress implements the lazy, single-subscriber event stream
// the protocol engine emits from (spec.md §4.6, C6): a producer-owned
// channel that the producer closes exactly once, after its terminal
// event. The ownership discipline — producer closes, consumer drains on
// Stop to guarantee the producer goroutine can always exit — is lifted
// directly from ndt7/measurer's Start/Stop pair.
package progress

import (
	"time"

	"github.com/m-lab/iperf3-go/internal/iperf3"
)

// Kind identifies which fields of an Event are populated.
type Kind int

const (
	Idle Kind = iota
	Connecting
	Connected
	Started
	Interval
	Complete
	Error
	Cancelled

	// Server-side kinds.
	Starting
	Ready
	ClientConnected
	TestRunning
	TestComplete
	ClientDisconnected
	Stopped
)

// Event is a single item of the progress stream. Only the fields
// relevant to Kind are populated; the rest are zero.
type Event struct {
	Kind Kind

	Host string
	Port int

	ServerVersion string
	Cookie        string

	Config    iperf3.TestConfiguration
	StartTime time.Time

	Sample    iperf3.IntervalResult
	ElapsedMs int64
	Progress  float64

	Result  *iperf3.TestResult
	Partial *iperf3.TestResult

	Message string
	Cause   error

	Status iperf3.ServerStatus
}

// defaultBufferSize bounds how many non-terminal Interval events can
// queue before Emit starts dropping the oldest one, per spec.md §9's
// "small bounded buffer with drop-oldest" allowance.
const defaultBufferSize = 16

// Stream is a single-producer, single-consumer event channel. The zero
// value is not usable; construct with NewStream.
type Stream struct {
	c chan Event
}

// NewStream allocates a Stream with room for bufferSize buffered,
// non-terminal events. A bufferSize of 0 uses defaultBufferSize.
func NewStream(bufferSize int) *Stream {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Stream{c: make(chan Event, bufferSize)}
}

// C returns the read side of the stream for consumers to range over.
func (s *Stream) C() <-chan Event { return s.c }

// Emit sends a non-terminal event. If the buffer is full, the oldest
// queued event is dropped to make room — non-terminal events may be
// lost under backpressure, but Emit itself never blocks the protocol
// engine. Only the owning producer goroutine may call Emit.
func (s *Stream) Emit(e Event) {
	select {
	case s.c <- e:
		return
	default:
	}
	select {
	case <-s.c:
	default:
	}
	select {
	case s.c <- e:
	default:
	}
}

// EmitTerminal sends the stream's one terminal event (Complete, Error,
// or Cancelled for the client stream; Stopped or Error for the server
// stream) and then closes the channel. Unlike Emit, this blocks until
// there is room rather than dropping — a terminal event must never be
// lost (spec.md §9).
func (s *Stream) EmitTerminal(e Event) {
	s.c <- e
	close(s.c)
}

// Stop drains c until the producer closes it, guaranteeing that a
// producer goroutine blocked sending on a full buffered channel can
// always make progress and exit. Callers that start a Stream should
// also Stop it if they abandon it before it reaches a terminal event.
func Stop(c <-chan Event) {
	for range c {
	}
}
