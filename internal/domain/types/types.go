// Package types contains the read-side views shared by the engine and the
// HTTP API.
package types

import (
	"time"

	"github.com/okian/fieldpresence/internal/domain/model"
)

// Status is an immutable snapshot of the engine, published after every
// loop step.
type Status struct {
	UserID      string          `json:"user_id"`
	Initialized bool            `json:"initialized"`
	Estimate    *model.Estimate `json:"estimate,omitempty"`

	State         string        `json:"registration_state"`
	Branch        *model.Branch `json:"branch,omitempty"`
	Inside        bool          `json:"inside"`
	WithinWindow  bool          `json:"within_window"`
	RecordedToday bool          `json:"recorded_today"`
	AttendanceID  string        `json:"attendance_id,omitempty"`
	LastFailure   string        `json:"last_failure,omitempty"`

	AWOLActive bool   `json:"awol_alert"`
	LastAlert  *Alert `json:"last_alert,omitempty"`

	BufferLen        int    `json:"buffer_len"`
	BufferDropped    uint64 `json:"buffer_dropped"`
	PollingSuspended bool   `json:"polling_suspended"`

	PositioningAcquired bool   `json:"positioning_acquired"`
	PositioningError    string `json:"positioning_error,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Alert is the most recent AWOL alert as shown to readers.
type Alert struct {
	ID        string    `json:"id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	At        time.Time `json:"at"`
}

// Colleagues is the heartbeat view returned to readers.
type Colleagues struct {
	Colleagues []model.Colleague `json:"colleagues"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Registered reports whether the snapshot shows a completed check-in.
func (s Status) Registered() bool { return s.State == "registered" }
