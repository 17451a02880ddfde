// iperf3-go-server runs the C5 server driver as a standalone process,
// in the manner of ndt-server.go's main(): parse flags, serve metrics
// on a side port, then block running the accept loop until the process
// is asked to stop.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/iperf3-go/internal/progress"
	"github.com/m-lab/iperf3-go/internal/server"
	"github.com/m-lab/iperf3-go/internal/version"
)

var (
	bindAddress = flag.String("B", "", "Address to bind to, empty for all interfaces")
	port        = flag.Int("p", 5201, "Port to listen on, as in iperf3 -s -p <port>")
)

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "could not read flags from the environment")

	promSrv := prometheusx.MustServeMetrics()
	defer promSrv.Close()

	log.Infof("iperf3-go-server %s starting on %s:%d", version.Version, *bindAddress, *port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := server.New()
	events, handle, err := s.Start(ctx, *bindAddress, *port)
	if err != nil {
		log.WithError(err).Error("failed to start server")
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("received shutdown signal")
		handle.Stop()
	}()

	drain(events)
}

// drain logs each server-side progress event until the stream's
// terminal event closes the channel.
func drain(events <-chan progress.Event) {
	for ev := range events {
		switch ev.Kind {
		case progress.Starting:
			log.WithField("host", ev.Host).WithField("port", ev.Port).Info("binding listener")
		case progress.Ready:
			log.WithField("port", ev.Port).Info("accepting connections")
		case progress.ClientConnected:
			log.WithField("remote", ev.Host).Info("client connected")
		case progress.TestRunning:
			log.WithField("num_streams", ev.Config.NumStreams).Info("test running")
		case progress.Interval:
			s := ev.Sample
			log.WithField("stream", s.StreamID).
				WithField("bits_per_second", s.BitsPerSecond).
				Debug("interval sample")
		case progress.TestComplete:
			log.WithField("total_bytes", ev.Result.TotalBytes).
				WithField("avg_bandwidth", ev.Result.AvgBandwidth).
				Info("test complete")
		case progress.ClientDisconnected:
			log.Info("client disconnected")
		case progress.Error:
			log.WithError(ev.Cause).Error(ev.Message)
		case progress.Stopped:
			log.Info("server stopped")
		}
	}
}
