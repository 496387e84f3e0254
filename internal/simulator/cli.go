package simulator

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/fieldpresence/pkg/logger"
)

const logFilePermission = 0600

// SetupLogging sends logs to both stdout and a file. If logFile is empty,
// a timestamped filename is generated. The returned func closes the file.
func SetupLogging(logFile string, verbose bool) (func() error, error) {
	if logFile == "" {
		logFile = "simulate_" + time.Now().Format("20060102_150405") + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	if err := logger.InitWith(io.MultiWriter(os.Stdout, file), "text"); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return file.Close, nil
}

// ShowHelp prints usage information for the simulator.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`Field Presence Simulator
========================

Walks a virtual worker toward a branch, posting positioning fixes and motion
samples to a running presence service, then waits for the automatic check-in.

Usage:
  go run ./cmd/simulate [options]

Options:
  -url string
        Base URL of the presence service (default "http://localhost:9080")
  -scenario string
        YAML scenario file (default: built-in 400 m approach)
  -timeout duration
        HTTP request timeout (default 10s)
  -wait duration
        How long to wait for the check-in after the walk (default 2m)
  -stub string
        Serve a stub attendance backend on this address, e.g. :9090
  -fail-checkins int
        Make the stub fail the first N check-ins
  -log string
        Log file (default: simulate_TIMESTAMP.log)
  -verbose
        Log every step
  -help
        Show this help message

Examples:
  # Run a stub backend and point the service at it
  go run ./cmd/simulate -stub :9090 -wait 0

  # Walk the default scenario against a local service
  go run ./cmd/simulate -url http://localhost:9080

  # Custom scenario with a flaky backend
  go run ./cmd/simulate -scenario walk.yaml -stub :9090 -fail-checkins 2
`)
}
