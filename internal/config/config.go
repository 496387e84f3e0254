// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - Load layers defaults, an optional YAML file and the environment.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/okian/fieldpresence/internal/domain/attendance"
	"github.com/okian/fieldpresence/internal/domain/model"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoder: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// UserID identifies the tracked worker on outbound calls.
	UserID string `koanf:"user_id"`

	// RecordedToday tells the engine the server already holds today's
	// attendance record, e.g. after a restart.
	RecordedToday bool `koanf:"recorded_today"`

	// BackendURL is the base URL of the attendance backend.
	BackendURL string `koanf:"backend_url"`

	// RequestTimeout bounds every outbound HTTP call.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// ShutdownTimeout bounds the final telemetry flush and HTTP drain.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// QueueSize bounds the outbound job queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of outbound workers.
	WorkerCount int `koanf:"worker_count"`

	// Branches lists the geofences a worker may check in at.
	Branches []model.Branch `koanf:"branches"`

	Window Window `koanf:"window"`
	Engine Engine `koanf:"engine"`
}

// Window is the attendance window as configured.
type Window struct {
	WorkStart           string   `koanf:"work_start"`
	WorkEnd             string   `koanf:"work_end"`
	EarlyCheckinMinutes int      `koanf:"early_checkin_minutes"`
	LateCheckinMinutes  int      `koanf:"late_checkin_minutes"`
	WorkingDays         []string `koanf:"working_days"`
}

// Engine holds tuning for the presence loop.
type Engine struct {
	PredictionIntervalMS int     `koanf:"prediction_interval_ms"`
	UpdateFPS            int     `koanf:"update_fps"`
	BatchIntervalSec     int     `koanf:"batch_interval_sec"`
	NoiseThreshold       float64 `koanf:"noise_threshold"`
	GPSCorrectionWeight  float64 `koanf:"gps_correction_weight"`
	DriftThreshold       float64 `koanf:"drift_threshold"`
	BufferCapacity       int     `koanf:"buffer_capacity"`

	PollInterval       time.Duration `koanf:"poll_interval"`
	HeartbeatInterval  time.Duration `koanf:"heartbeat_interval"`
	Debounce           time.Duration `koanf:"debounce"`
	RetryCooldown      time.Duration `koanf:"retry_cooldown"`
	AWOLCooldown       time.Duration `koanf:"awol_cooldown"`
	AlertDisplay       time.Duration `koanf:"alert_display"`
	AcquisitionTimeout time.Duration `koanf:"acquisition_timeout"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "text",
		Addr:            ":9080",
		UserID:          "field-worker",
		BackendURL:      "http://localhost:9081",
		RequestTimeout:  10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		QueueSize:       256,
		WorkerCount:     4,
		Window: Window{
			WorkStart:           "08:00",
			WorkEnd:             "17:00",
			EarlyCheckinMinutes: 60,
			LateCheckinMinutes:  15,
			WorkingDays:         []string{"sun", "mon", "tue", "wed", "thu"},
		},
		Engine: Engine{
			PredictionIntervalMS: 100,
			UpdateFPS:            60,
			BatchIntervalSec:     30,
			NoiseThreshold:       0.2,
			GPSCorrectionWeight:  0.3,
			DriftThreshold:       5,
			BufferCapacity:       1000,
			PollInterval:         250 * time.Millisecond,
			HeartbeatInterval:    time.Minute,
			Debounce:             500 * time.Millisecond,
			RetryCooldown:        10 * time.Second,
			AWOLCooldown:         5 * time.Minute,
			AlertDisplay:         10 * time.Second,
			AcquisitionTimeout:   15 * time.Second,
		},
	}
}

// AttendanceWindow parses the configured window.
func (c *Config) AttendanceWindow() (attendance.Window, error) {
	w := c.Window
	win, err := attendance.NewWindow(w.WorkStart, w.WorkEnd, w.EarlyCheckinMinutes, w.LateCheckinMinutes, w.WorkingDays)
	if err != nil {
		return attendance.Window{}, fmt.Errorf("%w: window: %w", ErrInvalidConfig, err)
	}
	return win, nil
}

// PredictionInterval is the dead-reckoning tick period.
func (e Engine) PredictionInterval() time.Duration {
	return time.Duration(e.PredictionIntervalMS) * time.Millisecond
}

// ExposeInterval is the period of the estimate exposure task.
func (e Engine) ExposeInterval() time.Duration {
	return time.Second / time.Duration(e.UpdateFPS)
}

// BatchInterval is the telemetry flush period.
func (e Engine) BatchInterval() time.Duration {
	return time.Duration(e.BatchIntervalSec) * time.Second
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.UserID == "" {
		return fmt.Errorf("%w: user_id must not be empty", ErrInvalidConfig)
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: backend_url %q must be an absolute http(s) URL", ErrInvalidConfig, c.BackendURL)
	}
	if c.RequestTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.QueueSize <= 0 || c.WorkerCount <= 0 {
		return fmt.Errorf("%w: queue_size and worker_count must be positive", ErrInvalidConfig)
	}
	if _, err := c.AttendanceWindow(); err != nil {
		return err
	}
	if err := validateBranches(c.Branches); err != nil {
		return err
	}
	return c.Engine.validate()
}

func (e Engine) validate() error {
	switch {
	case e.PredictionIntervalMS <= 0:
		return fmt.Errorf("%w: engine.prediction_interval_ms must be positive", ErrInvalidConfig)
	case e.UpdateFPS <= 0 || e.UpdateFPS > 1000:
		return fmt.Errorf("%w: engine.update_fps must be in [1, 1000]", ErrInvalidConfig)
	case e.BatchIntervalSec <= 0:
		return fmt.Errorf("%w: engine.batch_interval_sec must be positive", ErrInvalidConfig)
	case e.NoiseThreshold < 0:
		return fmt.Errorf("%w: engine.noise_threshold must not be negative", ErrInvalidConfig)
	case e.GPSCorrectionWeight <= 0 || e.GPSCorrectionWeight > 1:
		return fmt.Errorf("%w: engine.gps_correction_weight must be in (0, 1]", ErrInvalidConfig)
	case e.DriftThreshold < 0:
		return fmt.Errorf("%w: engine.drift_threshold must not be negative", ErrInvalidConfig)
	case e.BufferCapacity <= 0:
		return fmt.Errorf("%w: engine.buffer_capacity must be positive", ErrInvalidConfig)
	case e.PollInterval <= 0 || e.HeartbeatInterval <= 0:
		return fmt.Errorf("%w: engine poll and heartbeat intervals must be positive", ErrInvalidConfig)
	case e.Debounce <= 0 || e.RetryCooldown <= 0 || e.AWOLCooldown <= 0 || e.AlertDisplay <= 0:
		return fmt.Errorf("%w: engine timers must be positive", ErrInvalidConfig)
	case e.AcquisitionTimeout <= 0:
		return fmt.Errorf("%w: engine.acquisition_timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

func validateBranches(branches []model.Branch) error {
	seen := make(map[int64]struct{}, len(branches))
	for i, b := range branches {
		if _, dup := seen[b.ID]; dup {
			return fmt.Errorf("%w: %w: branches[%d]: duplicate id %d", ErrInvalidConfig, ErrInvalidBranch, i, b.ID)
		}
		seen[b.ID] = struct{}{}
		if math.IsNaN(b.Latitude) || b.Latitude < -90 || b.Latitude > 90 ||
			math.IsNaN(b.Longitude) || b.Longitude < -180 || b.Longitude > 180 {
			return fmt.Errorf("%w: %w: branches[%d]: coordinates out of range", ErrInvalidConfig, ErrInvalidBranch, i)
		}
		if !(b.Radius > 0) {
			return fmt.Errorf("%w: %w: branches[%d]: geofence_radius must be positive", ErrInvalidConfig, ErrInvalidBranch, i)
		}
	}
	return nil
}
