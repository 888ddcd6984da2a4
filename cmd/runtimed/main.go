// Command runtimed is the minimal entry point of SPEC_FULL §C10/§C11: it
// wires a runtime.Runtime to a control.Server listening on a Unix domain
// socket and shuts down cleanly on SIGINT/SIGTERM. It is deliberately thin
// — every interesting behavior lives in internal/runtime and
// internal/control, not here.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/coreactors/runtime/internal/control"
	"github.com/coreactors/runtime/internal/runtime"
)

func main() {
	sockPath := flag.String("socket", "/tmp/runtimed.sock", "control-channel unix socket path")
	metricsAddr := flag.String("metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
	workers := flag.Int("workers", 0, "scheduler worker goroutines (0 = GOMAXPROCS)")
	jit := flag.Bool("jit", true, "enable the JIT native tier")
	flag.Parse()

	log := logrus.New().WithField("component", "runtimed")

	opts := []runtime.Option{runtime.WithJIT(*jit)}
	if *workers > 0 {
		opts = append(opts, runtime.WithWorkers(*workers))
	}
	if *metricsAddr != "" {
		opts = append(opts, runtime.WithMetricsAddr(*metricsAddr))
	}

	rt := runtime.New(opts...)
	rt.Start()
	defer rt.Shutdown()

	if *metricsAddr != "" {
		go func() {
			log.WithField("addr", *metricsAddr).Info("serving metrics")
			if err := http.ListenAndServe(*metricsAddr, rt.MetricsHandler()); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	_ = os.Remove(*sockPath)
	srv := control.NewServer(rt, log.WithField("subcomponent", "control"))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(*sockPath) }()
	log.WithField("socket", *sockPath).Info("runtimed listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("control server exited")
		}
	}

	_ = srv.Close()
	_ = os.Remove(*sockPath)
}
