// iperf3-go-client drives a single bandwidth test against an
// iperf3-go-server (or a reference iperf3 -s) and prints the resulting
// interval and summary lines, in the manner of cmd/ndt-client/main.go's
// flag-driven single-shot client.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/apex/log"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/iperf3-go/internal/client"
	"github.com/m-lab/iperf3-go/internal/iperf3"
	"github.com/m-lab/iperf3-go/internal/progress"
	"github.com/m-lab/iperf3-go/internal/version"
)

var (
	host           = flag.String("c", "", "Host to connect to, as in iperf3 -c <host>")
	port           = flag.Int("p", iperf3.DefaultServerPort, "Server port to connect to")
	duration       = flag.Duration("t", 10*time.Second, "Total duration of the test")
	numBytes       = flag.Int64("n", 0, "Bytes to transfer, overriding -t if positive")
	parallel       = flag.Int("P", 1, "Number of parallel data streams")
	bandwidth      = flag.Int64("b", 0, "Target bandwidth in bits/sec, 0 for unlimited")
	reverse        = flag.Bool("R", false, "Run in reverse mode (server sends, client receives)")
	bidirectional  = flag.Bool("bidir", false, "Set the bidirectional flag in the test parameters; data streams still run in one direction")
	length         = flag.Int("l", 0, "Read/write buffer length in bytes, 0 for the default")
	window         = flag.Int("w", 0, "TCP window size in bytes, 0 for the OS default")
	noDelay        = flag.Bool("N", false, "Set TCP_NODELAY on data streams")
	congestion     = flag.String("C", "", "Congestion control algorithm to use on data streams, e.g. \"bbr\"")
	interval       = flag.Duration("i", iperf3.DefaultReportingInterval, "Reporting interval")
	connectTimeout = flag.Duration("connect-timeout", iperf3.DefaultTimeout, "Control connection timeout")
)

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "could not read flags from the environment")

	promSrv := prometheusx.MustServeMetrics()
	defer promSrv.Close()

	if *host == "" {
		fmt.Fprintln(os.Stderr, "iperf3-go-client: -c <host> is required")
		os.Exit(1)
	}

	cfg := iperf3.TestConfiguration{
		ServerHost:        *host,
		ServerPort:        *port,
		Protocol:          iperf3.TCP,
		Duration:          *duration,
		BytesToTransfer:   *numBytes,
		NumStreams:        *parallel,
		BandwidthLimit:    *bandwidth,
		Reverse:           *reverse,
		Bidirectional:     *bidirectional,
		ReportingInterval: *interval,
		BufferLength:      *length,
		WindowSize:        *window,
		NoDelay:           *noDelay,
		CongestionControl: *congestion,
		Timeout:           *connectTimeout,
	}

	log.Infof("iperf3-go-client %s connecting to %s:%d", version.Version, *host, *port)

	c := client.New()
	events, handle, err := c.RunTest(context.Background(), cfg)
	rtx.Must(err, "failed to start test")

	exitCode := drain(events, handle)
	os.Exit(exitCode)
}

// drain consumes the event stream until its terminal event, printing
// progress as it goes, and returns a process exit code.
func drain(events <-chan progress.Event, handle *client.Handle) int {
	for ev := range events {
		switch ev.Kind {
		case progress.Connecting:
			log.Info("connecting to server")
		case progress.Connected:
			log.WithField("cookie", ev.Cookie).WithField("server_version", ev.ServerVersion).Info("connected")
		case progress.Started:
			log.Info("test started")
		case progress.Interval:
			s := ev.Sample
			fmt.Printf("[%d] %6.2f-%6.2f sec  %10d bytes  %10.2f Mbits/sec\n",
				s.StreamID, s.StartTime, s.EndTime, s.BytesTransferred, s.BitsPerSecond/1e6)
		case progress.Complete:
			printResult(ev.Result)
			return 0
		case progress.Cancelled:
			log.Warn("test cancelled")
			return 1
		case progress.Error:
			log.WithError(ev.Cause).Error(ev.Message)
			return 1
		}
	}
	return 0
}

func printResult(r *iperf3.TestResult) {
	fmt.Printf("- - - - - - - - - - - - - - - - - - - - - - - - -\n")
	fmt.Printf("[SUM] 0.00-%.2f sec  %d bytes  %.2f Mbits/sec\n",
		r.Duration.Seconds(), r.TotalBytes, r.AvgBandwidth/1e6)
}
