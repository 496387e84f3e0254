// Package model contains domain models passed between layers.
package model

import (
	"math"
	"time"
)

// Velocity bounds enforced by the estimator, meters per second.
const (
	MinVelocity = 0.0
	MaxVelocity = 50.0
)

// Fix is one absolute positioning reading as reported by the device.
type Fix struct {
	Latitude   float64   // decimal degrees
	Longitude  float64   // decimal degrees
	Accuracy   float64   // horizontal accuracy in meters, source-reported
	Heading    float64   // degrees, only meaningful when HasHeading
	HasHeading bool      // false when the source did not report a course
	Speed      float64   // m/s, <= 0 means unknown
	Timestamp  time.Time // source timestamp
}

// Valid reports whether the fix carries usable coordinates.
func (f Fix) Valid() bool {
	if !finite(f.Latitude) || !finite(f.Longitude) {
		return false
	}
	return f.Latitude >= -90 && f.Latitude <= 90 && f.Longitude >= -180 && f.Longitude <= 180
}

// Estimate is the fused position/heading/velocity estimate. Only the
// estimator writes it; everything downstream receives copies.
type Estimate struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Heading   float64   `json:"heading"`  // [0, 360)
	Velocity  float64   `json:"velocity"` // [0, 50] m/s
	Accuracy  float64   `json:"accuracy"` // meters
	Timestamp time.Time `json:"timestamp"`
}

// MotionKind identifies the axis group a MotionSample belongs to.
type MotionKind int

const (
	// MotionAccel is an accelerometer reading in m/s².
	MotionAccel MotionKind = iota + 1
	// MotionOrientation is a compass/gyroscope reading in degrees.
	MotionOrientation
)

func (k MotionKind) String() string {
	switch k {
	case MotionAccel:
		return "accel"
	case MotionOrientation:
		return "orientation"
	default:
		return "unknown"
	}
}

// MotionSample is one inertial reading. X/Y/Z are set for MotionAccel,
// Alpha/Beta/Gamma for MotionOrientation.
type MotionSample struct {
	Kind      MotionKind
	X, Y, Z   float64
	Alpha     float64 // compass heading, degrees
	Beta      float64
	Gamma     float64
	Timestamp time.Time
}

// Valid reports whether the sample is usable for its axis group.
func (s MotionSample) Valid() bool {
	switch s.Kind {
	case MotionAccel:
		return finite(s.X) && finite(s.Y) && finite(s.Z)
	case MotionOrientation:
		return finite(s.Alpha) && finite(s.Beta) && finite(s.Gamma)
	default:
		return false
	}
}

// Branch is a circular geofence loaded once from configuration.
type Branch struct {
	ID        int64   `json:"id" koanf:"id"`
	Name      string  `json:"name" koanf:"name"`
	Latitude  float64 `json:"latitude" koanf:"latitude"`
	Longitude float64 `json:"longitude" koanf:"longitude"`
	Radius    float64 `json:"geofence_radius" koanf:"geofence_radius"` // meters
}

// TelemetryRecord is a compressed estimate sample queued for batch upload.
type TelemetryRecord struct {
	Lat       float64   // ~6 decimal places
	Lng       float64   // ~6 decimal places
	Heading   int       // whole degrees
	Velocity  float64   // 0.1 m/s steps
	Accuracy  int       // whole meters
	Timestamp time.Time // original sample time
}

// Colleague is another worker's last known presence as returned by the
// heartbeat endpoint.
type Colleague struct {
	UserID         string  `json:"user_id"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	WithinGeofence bool    `json:"is_within_geofence"`
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
