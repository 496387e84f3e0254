package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/fieldpresence/internal/simulator"
	"github.com/okian/fieldpresence/pkg/logger"
)

const stubReadHeaderTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	var (
		baseURL      = flag.String("url", "http://localhost:9080", "Base URL of the presence service")
		scenarioFile = flag.String("scenario", "", "YAML scenario file (default: built-in approach)")
		timeout      = flag.Duration("timeout", simulator.DefaultTimeout, "HTTP request timeout")
		wait         = flag.Duration("wait", simulator.DefaultWait, "How long to wait for the check-in; 0 with -stub serves until interrupted")
		stubAddr     = flag.String("stub", "", "Serve a stub attendance backend on this address")
		failCheckins = flag.Int("fail-checkins", 0, "Make the stub fail the first N check-ins")
		logFile      = flag.String("log", "", "Log file (default: simulate_TIMESTAMP.log)")
		verbose      = flag.Bool("verbose", false, "Log every step")
		help         = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulator.ShowHelp()
		return 0
	}

	closeLog, err := simulator.SetupLogging(*logFile, *verbose)
	if err != nil {
		_, _ = os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	log := logger.Named("simulate")

	if *stubAddr != "" {
		stub := simulator.NewStubBackend(
			simulator.WithFailCheckins(*failCheckins),
			simulator.WithStubLogger(logger.Named("stub")),
		)
		srv := &http.Server{Addr: *stubAddr, Handler: stub, ReadHeaderTimeout: stubReadHeaderTimeout}
		go func() {
			log.Info(ctx, "serving stub backend", logger.String("addr", *stubAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(ctx, "stub backend failed", logger.Error(err))
				stop()
			}
		}()
		defer func() {
			c := stub.Counts()
			log.Info(context.Background(), "stub backend totals",
				logger.Int("checkins", c.Checkins),
				logger.Int("attendances", c.Attendances),
				logger.Int("uploads", c.Uploads),
				logger.Int("points", c.Points),
				logger.Int("heartbeats", c.Heartbeats),
				logger.Int("awols", c.AWOLs))
			_ = srv.Close()
		}()

		if *wait == 0 {
			<-ctx.Done()
			return 0
		}
	}

	sc, err := simulator.LoadScenario(*scenarioFile)
	if err != nil {
		log.Error(ctx, "failed to load scenario", logger.Error(err))
		return 1
	}

	config := &simulator.Config{
		BaseURL:      *baseURL,
		ScenarioFile: *scenarioFile,
		Timeout:      *timeout,
		Wait:         *wait,
		LogFile:      *logFile,
		Verbose:      *verbose,
	}
	if _, err := simulator.Run(ctx, config, sc); err != nil {
		log.Error(ctx, "simulation failed", logger.Error(err))
		return 1
	}
	return 0
}
