// Package estimator fuses positioning fixes and inertial samples into a
// continuously updated position, heading and velocity estimate.
//
// The estimator is not safe for concurrent use. The engine owns it from a
// single goroutine; consumers receive Estimate copies.
package estimator

import (
	"errors"
	"math"
	"time"

	"github.com/okian/fieldpresence/internal/domain/geo"
	"github.com/okian/fieldpresence/internal/domain/model"
)

// Default tuning.
const (
	DefaultCorrectionWeight = 0.3
	DefaultNoiseThreshold   = 0.2 // m/s²
	DefaultDriftThreshold   = 5.0 // meters

	stationaryDecay    = 0.95 // velocity multiplier per stationary tick
	fixHeadingBlend    = 0.5
	compassHeadingLerp = 0.2
)

// ErrInvalidFix is returned for fixes with non-finite or out-of-range coordinates.
var ErrInvalidFix = errors.New("invalid positioning fix")

// CorrectionKind says how a fix was applied.
type CorrectionKind int

const (
	// CorrectionSeed is the first fix; the estimate was taken verbatim.
	CorrectionSeed CorrectionKind = iota + 1
	// CorrectionSnap means drift was within threshold and the estimate jumped to the fix.
	CorrectionSnap
	// CorrectionBlend means drift exceeded threshold and the fix was weighted in.
	CorrectionBlend
)

func (k CorrectionKind) String() string {
	switch k {
	case CorrectionSeed:
		return "seed"
	case CorrectionSnap:
		return "snap"
	case CorrectionBlend:
		return "blend"
	default:
		return "unknown"
	}
}

// Correction reports the outcome of IngestFix.
type Correction struct {
	Kind  CorrectionKind
	Drift float64 // meters between prediction and fix; zero on seed
}

// TickResult reports the outcome of a prediction step.
type TickResult struct {
	Stationary   bool    // below the noise floor; position untouched
	Acceleration float64 // horizontal magnitude used, m/s²
	Distance     float64 // meters travelled this step
}

// Estimator is the position-fusion filter.
type Estimator struct {
	correctionWeight float64
	noiseThreshold   float64
	driftThreshold   float64

	est         model.Estimate
	initialized bool

	accel          model.MotionSample
	hasAccel       bool
	orientation    model.MotionSample
	hasOrientation bool
}

// New creates an estimator with default tuning.
func New(opts ...Option) *Estimator {
	e := &Estimator{
		correctionWeight: DefaultCorrectionWeight,
		noiseThreshold:   DefaultNoiseThreshold,
		driftThreshold:   DefaultDriftThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initialized reports whether at least one fix has been ingested.
func (e *Estimator) Initialized() bool { return e.initialized }

// Estimate returns a copy of the current estimate.
func (e *Estimator) Estimate() model.Estimate { return e.est }

// IngestFix applies an absolute fix. The first fix seeds the estimate;
// later fixes snap when drift is small and blend when it is large.
func (e *Estimator) IngestFix(fix model.Fix) (Correction, error) {
	if !fix.Valid() {
		return Correction{}, ErrInvalidFix
	}

	if !e.initialized {
		e.est = model.Estimate{
			Latitude:  fix.Latitude,
			Longitude: fix.Longitude,
			Accuracy:  nonNegative(fix.Accuracy),
			Timestamp: fix.Timestamp,
		}
		if fix.HasHeading {
			e.est.Heading = geo.NormalizeHeading(fix.Heading)
		}
		if fix.Speed > 0 {
			e.est.Velocity = clampVelocity(fix.Speed)
		}
		e.initialized = true
		return Correction{Kind: CorrectionSeed}, nil
	}

	drift := geo.Distance(e.est.Latitude, e.est.Longitude, fix.Latitude, fix.Longitude)
	kind := CorrectionSnap
	if drift > e.driftThreshold {
		w := e.correctionWeight
		e.est.Latitude = w*fix.Latitude + (1-w)*e.est.Latitude
		e.est.Longitude = w*fix.Longitude + (1-w)*e.est.Longitude
		kind = CorrectionBlend
	} else {
		e.est.Latitude = fix.Latitude
		e.est.Longitude = fix.Longitude
	}

	if fix.HasHeading && finite(fix.Heading) {
		e.est.Heading = geo.LerpHeading(e.est.Heading, fix.Heading, fixHeadingBlend)
	}
	if fix.Speed > 0 && finite(fix.Speed) {
		e.est.Velocity = clampVelocity(fix.Speed)
	}
	e.est.Accuracy = nonNegative(fix.Accuracy)
	if fix.Timestamp.After(e.est.Timestamp) {
		e.est.Timestamp = fix.Timestamp
	}

	return Correction{Kind: kind, Drift: drift}, nil
}

// IngestMotion stores the latest sample for its axis group. Malformed
// samples are ignored and reported as false.
func (e *Estimator) IngestMotion(s model.MotionSample) bool {
	if !s.Valid() {
		return false
	}
	switch s.Kind {
	case model.MotionAccel:
		e.accel, e.hasAccel = s, true
	case model.MotionOrientation:
		e.orientation, e.hasOrientation = s, true
	}
	return true
}

// Tick runs one dead-reckoning prediction step of length dt. It does
// nothing until the estimator has been seeded by a fix.
func (e *Estimator) Tick(dt time.Duration, now time.Time) TickResult {
	if !e.initialized {
		return TickResult{Stationary: true}
	}

	secs := dt.Seconds()
	if secs < 0 || !finite(secs) {
		secs = 0
	}

	var a float64
	if e.hasAccel {
		a = math.Hypot(e.accel.X, e.accel.Y)
	}

	if a < e.noiseThreshold {
		e.est.Velocity = clampVelocity(e.est.Velocity * stationaryDecay)
		e.touch(now)
		return TickResult{Stationary: true, Acceleration: a}
	}

	if e.hasOrientation {
		e.est.Heading = geo.LerpHeading(e.est.Heading, e.orientation.Alpha, compassHeadingLerp)
	}

	e.est.Velocity = clampVelocity(e.est.Velocity + a*secs)
	d := e.est.Velocity*secs + 0.5*a*secs*secs
	if d > 0 {
		e.est.Latitude, e.est.Longitude = geo.Destination(e.est.Latitude, e.est.Longitude, e.est.Heading, d)
	}
	e.touch(now)

	return TickResult{Acceleration: a, Distance: d}
}

// touch refreshes the timestamp without letting it move backwards.
func (e *Estimator) touch(now time.Time) {
	if now.After(e.est.Timestamp) {
		e.est.Timestamp = now
	}
}

func clampVelocity(v float64) float64 {
	if !finite(v) || v < model.MinVelocity {
		return model.MinVelocity
	}
	if v > model.MaxVelocity {
		return model.MaxVelocity
	}
	return v
}

func nonNegative(v float64) float64 {
	if !finite(v) || v < 0 {
		return 0
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
