package service

import (
	"time"

	"github.com/okian/fieldpresence/internal/adapters/repository"
	"github.com/okian/fieldpresence/internal/domain/estimator"
	"github.com/okian/fieldpresence/internal/positioning"
	"github.com/okian/fieldpresence/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithUserID sets the worker the engine tracks.
func WithUserID(id string) Option {
	return func(e *Engine) {
		if id != "" {
			e.userID = id
		}
	}
}

// WithRecordedToday seeds whether the server already holds an attendance
// record for the current day. The flag clears at the next day rollover.
func WithRecordedToday(recorded bool) Option {
	return func(e *Engine) {
		e.recordedToday = recorded
	}
}

// WithPredictionInterval sets the dead-reckoning tick period.
func WithPredictionInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.predictEvery = d
		}
	}
}

// WithExposeInterval sets how often the estimate is sampled into telemetry.
func WithExposeInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.exposeEvery = d
		}
	}
}

// WithPollInterval sets the containment evaluation period.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pollEvery = d
		}
	}
}

// WithFlushInterval sets the telemetry batch period.
func WithFlushInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.flushEvery = d
		}
	}
}

// WithHeartbeatInterval sets the heartbeat period.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.heartbeatEvery = d
		}
	}
}

// WithDebounce sets how long check-in conditions must hold.
func WithDebounce(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.debounce = d
		}
	}
}

// WithRetryCooldown sets the pause after a failed check-in.
func WithRetryCooldown(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retryCooldown = d
		}
	}
}

// WithAWOLCooldown sets the minimum spacing between AWOL alerts.
func WithAWOLCooldown(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.awolCooldown = d
		}
	}
}

// WithAlertDisplay sets how long an AWOL alert stays in the status.
func WithAlertDisplay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.alertDisplay = d
		}
	}
}

// WithBufferCapacity bounds the telemetry buffer.
func WithBufferCapacity(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.bufferCapacity = n
		}
	}
}

// WithQueueSize bounds the outbound job queue.
func WithQueueSize(size int) Option {
	return func(e *Engine) {
		if size > 0 {
			e.queueSize = size
		}
	}
}

// WithWorkerCount sets the number of outbound workers.
func WithWorkerCount(count int) Option {
	return func(e *Engine) {
		if count > 0 {
			e.workerCount = count
		}
	}
}

// WithJobTimeout bounds a single outbound job.
func WithJobTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.jobTimeout = d
		}
	}
}

// WithShutdownTimeout bounds the final flush and worker drain in Stop.
func WithShutdownTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.shutdownTimeout = d
		}
	}
}

// WithEstimatorOptions tunes the position estimator.
func WithEstimatorOptions(opts ...estimator.Option) Option {
	return func(e *Engine) {
		e.estimatorOpts = append(e.estimatorOpts, opts...)
	}
}

// WithPositioning attaches a fix source supervised with the given
// acquisition timeout.
func WithPositioning(src positioning.Source, timeout time.Duration) Option {
	return func(e *Engine) {
		e.source = src
		e.acquisitionTimeout = positioning.ClampTimeout(timeout)
	}
}

// WithColleagueStore replaces the in-memory colleague store.
func WithColleagueStore(s repository.Store) Option {
	return func(e *Engine) {
		if s != nil {
			e.colleagues = s
		}
	}
}

// WithClock overrides the wall clock used for the attendance window and
// timestamps. Timer and ticker durations still use real time.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
