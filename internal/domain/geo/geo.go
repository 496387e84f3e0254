// Package geo holds the great-circle and angular helpers shared by the
// estimator and the geofence matcher.
package geo

import (
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is the mean Earth radius used for all projections.
const EarthRadiusMeters = 6371000.0

// Distance returns the great-circle distance between two points in meters.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lng1)
	p2 := s2.LatLngFromDegrees(lat2, lng2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// Destination projects a point distance meters away along bearing degrees
// using the spherical destination formula.
func Destination(lat, lng, bearing, distance float64) (float64, float64) {
	p := s2.LatLngFromDegrees(lat, lng)
	brng := (s1.Angle(bearing) * s1.Degree).Radians()
	delta := distance / EarthRadiusMeters

	latRad := p.Lat.Radians()
	lngRad := p.Lng.Radians()

	lat2 := math.Asin(math.Sin(latRad)*math.Cos(delta) +
		math.Cos(latRad)*math.Sin(delta)*math.Cos(brng))
	lng2 := lngRad + math.Atan2(
		math.Sin(brng)*math.Sin(delta)*math.Cos(latRad),
		math.Cos(delta)-math.Sin(latRad)*math.Sin(lat2))

	out := s2.LatLng{Lat: s1.Angle(lat2), Lng: s1.Angle(lng2)}.Normalized()
	return out.Lat.Degrees(), out.Lng.Degrees()
}

// NormalizeHeading maps any angle in degrees onto [0, 360).
func NormalizeHeading(deg float64) float64 {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return 0
	}
	h := math.Mod(deg, 360)
	if h < 0 {
		h += 360
	}
	// math.Mod can return 360 for tiny negative inputs after the shift.
	if h >= 360 {
		h = 0
	}
	return h
}

// AngleDelta returns the signed shortest rotation from one heading to
// another, in (-180, 180].
func AngleDelta(from, to float64) float64 {
	d := math.Mod(NormalizeHeading(to)-NormalizeHeading(from), 360)
	switch {
	case d > 180:
		d -= 360
	case d <= -180:
		d += 360
	}
	return d
}

// LerpHeading moves from toward to by fraction t of the shortest gap and
// returns the normalized result.
func LerpHeading(from, to, t float64) float64 {
	return NormalizeHeading(from + AngleDelta(from, to)*t)
}
