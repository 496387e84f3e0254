// Package geofence matches position estimates against circular branch
// geofences.
package geofence

import (
	"math"

	"github.com/okian/fieldpresence/internal/domain/geo"
	"github.com/okian/fieldpresence/internal/domain/model"
)

// MaxTolerance caps how much reported inaccuracy can widen a geofence.
const MaxTolerance = 20.0 // meters

// Match is the result of a successful containment test.
type Match struct {
	Branch   model.Branch
	Distance float64 // meters from the branch center
}

// Matcher tests estimates against a fixed branch list.
type Matcher struct {
	branches []model.Branch
}

// NewMatcher copies branches so later edits by the caller cannot leak in.
func NewMatcher(branches []model.Branch) *Matcher {
	cp := make([]model.Branch, len(branches))
	copy(cp, branches)
	return &Matcher{branches: cp}
}

// Branches returns a copy of the configured branches.
func (m *Matcher) Branches() []model.Branch {
	cp := make([]model.Branch, len(m.branches))
	copy(cp, m.branches)
	return cp
}

// Match returns the nearest branch whose radius, widened by
// min(accuracy, MaxTolerance), contains the estimate.
func (m *Matcher) Match(est model.Estimate) (Match, bool) {
	tolerance := Tolerance(est.Accuracy)

	var (
		best  Match
		found bool
	)
	for _, b := range m.branches {
		d := geo.Distance(est.Latitude, est.Longitude, b.Latitude, b.Longitude)
		if d > b.Radius+tolerance {
			continue
		}
		if !found || d < best.Distance {
			best = Match{Branch: b, Distance: d}
			found = true
		}
	}
	return best, found
}

// Contains reports whether the estimate falls inside any branch.
func (m *Matcher) Contains(est model.Estimate) bool {
	_, ok := m.Match(est)
	return ok
}

// Tolerance returns the containment slack for a reported accuracy.
func Tolerance(accuracy float64) float64 {
	if math.IsNaN(accuracy) || accuracy < 0 {
		return 0
	}
	return math.Min(accuracy, MaxTolerance)
}
