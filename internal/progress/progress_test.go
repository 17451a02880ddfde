package progress

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTerminalEventClosesStream(t *testing.T) {
	s := NewStream(0)
	done := make(chan struct{})
	go func() {
		s.EmitTerminal(Event{Kind: Complete})
		close(done)
	}()
	var last Event
	for e := range s.C() {
		last = e
	}
	<-done
	if last.Kind != Complete {
		t.Errorf("got kind %v, want Complete", last.Kind)
	}
}

func TestStopDrainsAndUnblocksProducer(t *testing.T) {
	s := NewStream(1)
	produced := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			s.Emit(Event{Kind: Interval})
		}
		s.EmitTerminal(Event{Kind: Complete})
		close(produced)
	}()
	Stop(s.C())
	<-produced
}

func TestEmitDropsOldestUnderBackpressure(t *testing.T) {
	s := NewStream(1)
	s.Emit(Event{Kind: Interval, ElapsedMs: 1})
	s.Emit(Event{Kind: Interval, ElapsedMs: 2})
	// EmitTerminal blocks until the buffered event is consumed, so it
	// runs on its own goroutine while this one drains the stream.
	go s.EmitTerminal(Event{Kind: Complete})
	var got []Event
	for e := range s.C() {
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].ElapsedMs != 2 {
		t.Errorf("got first event elapsed %d, want 2 (oldest should have been dropped)", got[0].ElapsedMs)
	}
}
