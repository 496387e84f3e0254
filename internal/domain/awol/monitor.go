// Package awol watches the containment stream after check-in and raises an
// alert when a registered worker leaves the work area.
package awol

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/okian/fieldpresence/internal/domain/cooldown"
	"github.com/okian/fieldpresence/internal/domain/model"
	"github.com/okian/fieldpresence/pkg/logger"
)

// DefaultDisplay is how long a raised alert stays visible in status.
const DefaultDisplay = 10 * time.Second

// Alert is one boundary-exit event.
type Alert struct {
	ID        string
	UserID    string
	Latitude  float64
	Longitude float64
	At        time.Time
}

// Reporter sends alerts outward. Delivery is best effort.
type Reporter interface {
	ReportAWOL(ctx context.Context, a Alert)
}

// Outcome classifies one observation.
type Outcome int

const (
	Inactive   Outcome = iota // monitor not armed (not registered)
	Recorded                  // first sample for the user, stored without alert
	Unchanged                 // in->in or out->out
	Returned                  // out->in
	Alerted                   // in->out, alert raised
	Suppressed                // in->out inside the cooldown window
)

func (o Outcome) String() string {
	switch o {
	case Inactive:
		return "inactive"
	case Recorded:
		return "recorded"
	case Unchanged:
		return "unchanged"
	case Returned:
		return "returned"
	case Alerted:
		return "alerted"
	case Suppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// Monitor tracks the previous containment per user.
type Monitor struct {
	tracker  cooldown.Tracker
	reporter Reporter
	display  time.Duration
	logger   logger.Logger

	prev       map[string]bool
	alertUntil time.Time
	lastAlert  *Alert
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithDisplay sets how long an alert stays active for status readers.
func WithDisplay(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.display = d
		}
	}
}

// WithLogger sets the monitor logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMonitor creates a monitor using tracker for per-user cooldowns.
func NewMonitor(tracker cooldown.Tracker, reporter Reporter, opts ...Option) *Monitor {
	m := &Monitor{
		tracker:  tracker,
		reporter: reporter,
		display:  DefaultDisplay,
		logger:   logger.Nop(),
		prev:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Observe feeds one containment evaluation for userID. active must be
// true only while the user's registration state is Registered.
func (m *Monitor) Observe(ctx context.Context, userID string, active, inside bool, est model.Estimate, now time.Time) Outcome {
	if !active {
		return Inactive
	}

	was, known := m.prev[userID]
	m.prev[userID] = inside
	switch {
	case !known:
		return Recorded
	case was == inside:
		return Unchanged
	case inside:
		return Returned
	}

	if !m.tracker.Allow(ctx, userID, now) {
		last, _ := m.tracker.Last(ctx, userID)
		m.logger.Debug(ctx, "boundary exit inside cooldown",
			logger.String("user_id", userID),
			logger.Duration("since_last", now.Sub(last)),
		)
		return Suppressed
	}

	a := Alert{
		ID:        uuid.NewString(),
		UserID:    userID,
		Latitude:  est.Latitude,
		Longitude: est.Longitude,
		At:        now,
	}
	m.lastAlert = &a
	m.alertUntil = now.Add(m.display)
	m.logger.Warn(ctx, "worker left the work area after check-in",
		logger.String("user_id", userID),
		logger.String("alert_id", a.ID),
		logger.Float64("latitude", a.Latitude),
		logger.Float64("longitude", a.Longitude),
	)
	m.reporter.ReportAWOL(ctx, a)
	return Alerted
}

// AlertActive reports whether an alert is still within its display time.
func (m *Monitor) AlertActive(now time.Time) bool {
	return m.lastAlert != nil && now.Before(m.alertUntil)
}

// LastAlert returns the most recent alert, if any.
func (m *Monitor) LastAlert() (Alert, bool) {
	if m.lastAlert == nil {
		return Alert{}, false
	}
	return *m.lastAlert, true
}

// Forget clears the stored containment for userID, e.g. after a reset.
func (m *Monitor) Forget(userID string) {
	delete(m.prev, userID)
}
