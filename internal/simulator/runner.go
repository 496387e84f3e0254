package simulator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/fieldpresence/internal/domain/types"
	"github.com/okian/fieldpresence/pkg/logger"
)

// ErrNotRegistered is returned when the service never reports a check-in.
var ErrNotRegistered = errors.New("attendance not registered")

// Run walks the scenario against the service and verifies that the
// automatic check-in happened.
func Run(ctx context.Context, config *Config, sc Scenario) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Named("simulator")

	log.Info(ctx, "starting presence simulation",
		logger.String("baseURL", config.BaseURL),
		logger.Int("branchID", int(sc.Branch.ID)),
		logger.Float64("startDistance", sc.Start.Distance),
		logger.Float64("speed", sc.Speed),
		logger.Duration("interval", sc.Interval),
		logger.Float64("noise", sc.Noise))

	client := newHTTPClient(config.Timeout)

	if err := checkServiceHealth(ctx, client, config.BaseURL); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	if err := walk(ctx, client, config, sc, stats); err != nil {
		return stats, fmt.Errorf("walk failed: %w", err)
	}

	st, err := awaitRegistration(ctx, client, config, stats)
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)
	if err != nil {
		return stats, err
	}

	log.Info(ctx, "simulation completed",
		logger.String("attendanceID", st.AttendanceID),
		logger.Bool("inside", st.Inside))
	return stats, nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, client *HTTPClient, baseURL string) error {
	resp, err := client.Get(ctx, baseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// walk posts one fix and its motion samples per interval until the walker
// has arrived and dwelled.
func walk(ctx context.Context, client *HTTPClient, config *Config, sc Scenario, stats *Stats) error {
	log := logger.Named("simulator")
	w := NewWalker(sc, time.Now())
	ticker := time.NewTicker(sc.Interval)
	defer ticker.Stop()

	for !w.Done() {
		step := w.Next()
		stats.StepsWalked++
		stats.FinalDistance = step.Remaining

		if err := client.PostAccepted(ctx, config.BaseURL+"/fix", step.Fix); err != nil {
			stats.FixesFailed++
			log.Warn(ctx, "fix rejected", logger.Error(err))
		} else {
			stats.FixesPosted++
		}
		for _, m := range step.Motion {
			if err := client.PostAccepted(ctx, config.BaseURL+"/motion", m); err != nil {
				stats.MotionFailed++
				log.Debug(ctx, "motion sample rejected", logger.Error(err))
				continue
			}
			stats.MotionPosted++
		}

		if config.Verbose {
			log.Info(ctx, "step",
				logger.Int("n", stats.StepsWalked),
				logger.Float64("remaining_m", step.Remaining),
				logger.Bool("arrived", step.Arrived))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// awaitRegistration polls /state until the check-in is registered or the
// wait elapses.
func awaitRegistration(ctx context.Context, client *HTTPClient, config *Config, stats *Stats) (types.Status, error) {
	wait := config.Wait
	if wait <= 0 {
		wait = DefaultWait
	}
	every := config.PollInterval
	if every <= 0 {
		every = DefaultPollInterval
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var st types.Status
	for {
		stats.StatePolls++
		if err := client.GetJSON(ctx, config.BaseURL+"/state", &st); err == nil {
			if err := verifyStatus(st); err == nil {
				stats.Registered = true
				stats.AttendanceID = st.AttendanceID
				return st, nil
			}
		}
		select {
		case <-ctx.Done():
			return st, fmt.Errorf("%w: last state %q", ErrNotRegistered, st.State)
		case <-ticker.C:
		}
	}
}

// verifyStatus checks a snapshot for a completed check-in.
func verifyStatus(st types.Status) error {
	switch {
	case !st.Registered():
		return fmt.Errorf("%w: state %q", ErrNotRegistered, st.State)
	case st.AttendanceID == "":
		return fmt.Errorf("%w: no attendance id", ErrNotRegistered)
	case !st.RecordedToday:
		return fmt.Errorf("%w: not recorded today", ErrNotRegistered)
	}
	return nil
}

// displayFinalStats logs the walk statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var fixRate float64
	if total := stats.FixesPosted + stats.FixesFailed; total > 0 {
		fixRate = float64(stats.FixesPosted) / float64(total) * 100
	}
	logger.Named("simulator").Info(ctx, "final statistics",
		logger.Int("steps", stats.StepsWalked),
		logger.Int("fixesPosted", stats.FixesPosted),
		logger.Int("fixesFailed", stats.FixesFailed),
		logger.Int("motionPosted", stats.MotionPosted),
		logger.Int("motionFailed", stats.MotionFailed),
		logger.Int("statePolls", stats.StatePolls),
		logger.Bool("registered", stats.Registered),
		logger.String("attendanceID", stats.AttendanceID),
		logger.Float64("finalDistance", stats.FinalDistance),
		logger.Float64("fixSuccessRate", fixRate),
		logger.Duration("duration", stats.Duration))
}
