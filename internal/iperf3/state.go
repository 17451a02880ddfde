package iperf3

import "fmt"

// StateCode is a single signed byte exchanged on the control connection
// that drives the bilateral state machine.
type StateCode int8

// State codes all peers must recognise. Others are forwarded but ignored.
const (
	TestStart       StateCode = 1
	TestRunning     StateCode = 2
	TestEnd         StateCode = 4
	ParamExchange   StateCode = 9
	CreateStreams   StateCode = 10
	ServerTerminate StateCode = 11
	ClientTerminate StateCode = 12
	ExchangeResults StateCode = 13
	DisplayResults  StateCode = 14
	IperfStart      StateCode = 15
	IperfDone       StateCode = 16
	AccessDenied    StateCode = -1
	ServerError     StateCode = -2
)

func (s StateCode) String() string {
	switch s {
	case TestStart:
		return "TEST_START"
	case TestRunning:
		return "TEST_RUNNING"
	case TestEnd:
		return "TEST_END"
	case ParamExchange:
		return "PARAM_EXCHANGE"
	case CreateStreams:
		return "CREATE_STREAMS"
	case ServerTerminate:
		return "SERVER_TERMINATE"
	case ClientTerminate:
		return "CLIENT_TERMINATE"
	case ExchangeResults:
		return "EXCHANGE_RESULTS"
	case DisplayResults:
		return "DISPLAY_RESULTS"
	case IperfStart:
		return "IPERF_START"
	case IperfDone:
		return "IPERF_DONE"
	case AccessDenied:
		return "ACCESS_DENIED"
	case ServerError:
		return "SERVER_ERROR"
	default:
		return fmt.Sprintf("UNKNOWN_STATE(%d)", int8(s))
	}
}

// UnexpectedStateError maps a state read that did not match what the
// caller expected, applying the mapping spec.md §4.5 step 3 describes.
func UnexpectedStateError(got StateCode) *Error {
	switch got {
	case AccessDenied:
		return New(ProtocolError, "Access denied by server")
	case ServerError:
		return New(ProtocolError, "Server error")
	case ServerTerminate:
		return New(ProtocolError, "Server terminated the connection")
	default:
		return New(ProtocolError, fmt.Sprintf("Unexpected protocol state: %s", got))
	}
}
