// Command tracedemo registers a client, submits a handful of trace jobs
// against a running daemon, and reports ring buffer statistics on exit.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	tracing "github.com/qorix-group/tracingclient"
	"github.com/qorix-group/tracingclient/internal/logging"
)

func main() {
	var (
		socketPath = flag.String("socket", tracing.DefaultOptions().SocketPath, "daemon IPC socket path")
		appID      = flag.String("app-id", "tracedemo", "application id to register under")
		count      = flag.Int("count", 10, "number of trace jobs to submit")
		interval   = flag.Duration("interval", 200*time.Millisecond, "delay between submitted jobs")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	opts := tracing.DefaultOptions()
	opts.SocketPath = *socketPath
	opts.Logger = logger

	client, err := tracing.NewClient(opts)
	if err != nil {
		logger.Error("failed to create tracing client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error("error closing tracing client", "error", err)
		}
	}()

	localID, err := client.RegisterClient(tracing.BindingVectorZeroCopy, tracing.AppIdType(*appID))
	if err != nil {
		logger.Error("failed to register client", "error", err)
		os.Exit(1)
	}
	fmt.Printf("registered client %q as local id %d\n", *appID, localID)

	var completed int64
	if err := client.RegisterTraceDoneCB(localID, func() { atomic.AddInt64(&completed, 1) }); err != nil {
		logger.Error("failed to register trace-done callback", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Printf("submitting %d trace jobs, press Ctrl+C to stop early...\n", *count)
	for i := 0; i < *count; i++ {
		select {
		case <-sigCh:
			fmt.Println("\ninterrupted")
			goto done
		default:
		}
		if err := client.Trace(localID, tracing.InvalidShmObjectHandle, uint64(i), 0); err != nil {
			logger.Warn("trace submission failed", "index", i, "error", err)
		}
		time.Sleep(*interval)
	}

done:
	snap := client.Stats()
	fmt.Printf("producer calls: %d  buffer full: %d  consumer calls: %d  completed callbacks: %d\n",
		snap.ProducerCallCount, snap.BufferFullCount, snap.ConsumerCallCount, atomic.LoadInt64(&completed))
}
