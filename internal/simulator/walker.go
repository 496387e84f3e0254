package simulator

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/okian/fieldpresence/internal/adapters/http/api"
	"github.com/okian/fieldpresence/internal/domain/geo"
)

// Step is one tick of the walk: a noisy fix plus the motion samples a
// phone would report over the same interval.
type Step struct {
	Fix       api.FixRequest
	Motion    []api.MotionRequest
	Remaining float64 // true distance to the branch centre, meters
	Arrived   bool
}

// Walker moves a virtual worker in a straight line toward the branch.
// It is deterministic for a given scenario seed and start time.
type Walker struct {
	sc       Scenario
	rng      *rand.Rand
	lat, lng float64
	heading  float64
	at       time.Time
	phase    float64
	dwelled  time.Duration
}

// NewWalker places the worker at the scenario start point.
func NewWalker(sc Scenario, start time.Time) *Walker {
	lat, lng := geo.Destination(sc.Branch.Latitude, sc.Branch.Longitude, sc.Start.Bearing, sc.Start.Distance)
	return &Walker{
		sc:      sc,
		rng:     rand.New(rand.NewPCG(sc.Seed, sc.Seed^0x9e3779b97f4a7c15)),
		lat:     lat,
		lng:     lng,
		heading: geo.NormalizeHeading(sc.Start.Bearing + 180),
		at:      start,
	}
}

// Done reports whether the worker has arrived and dwelled long enough.
func (w *Walker) Done() bool {
	return w.remaining() == 0 && w.dwelled >= w.sc.Dwell
}

func (w *Walker) remaining() float64 {
	return geo.Distance(w.lat, w.lng, w.sc.Branch.Latitude, w.sc.Branch.Longitude)
}

// Next advances the walk by one interval.
func (w *Walker) Next() Step {
	dt := w.sc.Interval.Seconds()
	move := math.Min(w.sc.Speed*dt, w.remaining())
	if move < 0.01 {
		// Snap to the centre once the last stride lands on it.
		w.lat, w.lng, move = w.sc.Branch.Latitude, w.sc.Branch.Longitude, 0
		w.dwelled += w.sc.Interval
	} else {
		w.lat, w.lng = geo.Destination(w.lat, w.lng, w.heading, move)
	}
	w.at = w.at.Add(w.sc.Interval)
	speed := move / dt
	moving := speed > 0

	step := Step{
		Fix:       w.fix(speed, moving),
		Remaining: w.remaining(),
		Arrived:   w.remaining() == 0,
	}
	step.Motion = append(step.Motion, w.accel(moving, dt), w.orientation())
	return step
}

func (w *Walker) fix(speed float64, moving bool) api.FixRequest {
	lat, lng := w.lat, w.lng
	accuracy := minAccuracy
	if w.sc.Noise > 0 {
		offset := math.Abs(w.rng.NormFloat64()) * w.sc.Noise
		lat, lng = geo.Destination(lat, lng, w.rng.Float64()*360, offset)
		accuracy = math.Max(minAccuracy, w.sc.Noise*(1+w.rng.Float64()))
	}
	req := api.FixRequest{
		Latitude:  &lat,
		Longitude: &lng,
		Accuracy:  math.Round(accuracy*10) / 10,
		Timestamp: w.at.UnixMilli(),
	}
	if moving {
		h, s := w.heading, speed
		req.Heading, req.Speed = &h, &s
	}
	return req
}

func (w *Walker) accel(moving bool, dt float64) api.MotionRequest {
	x := w.rng.NormFloat64() * restJitter
	y := w.rng.NormFloat64() * restJitter
	z := gravity + w.rng.NormFloat64()*restJitter
	if moving {
		w.phase += 2 * math.Pi * strideHz * dt
		y += bounceAmp / 2 * math.Cos(w.phase)
		z += bounceAmp * math.Sin(w.phase)
	}
	return api.MotionRequest{
		Kind:      "accel",
		X:         x,
		Y:         y,
		Z:         z,
		Timestamp: w.at.UnixMilli(),
	}
}

func (w *Walker) orientation() api.MotionRequest {
	return api.MotionRequest{
		Kind:      "orientation",
		Alpha:     geo.NormalizeHeading(w.heading + w.rng.NormFloat64()*compassJitter),
		Beta:      w.rng.NormFloat64(),
		Gamma:     w.rng.NormFloat64(),
		Timestamp: w.at.UnixMilli(),
	}
}
