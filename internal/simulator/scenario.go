package simulator

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/okian/fieldpresence/internal/domain/model"
	"gopkg.in/yaml.v3"
)

// ErrInvalidScenario is returned when a scenario fails validation.
var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario describes one approach to a branch.
//
//	branch:
//	  id: 7
//	  latitude: 24.7136
//	  longitude: 46.6753
//	  radius: 100
//	start:
//	  distance: 400
//	  bearing: 90
//	speed: 1.4
//	interval: 1s
//	noise: 4
//	dwell: 30s
//	seed: 42
type Scenario struct {
	Branch   BranchSpec    `yaml:"branch"`
	Start    StartSpec     `yaml:"start"`
	Speed    float64       `yaml:"speed"`    // m/s
	Interval time.Duration `yaml:"interval"` // time between fixes
	Noise    float64       `yaml:"noise"`    // GPS noise sigma, meters
	Dwell    time.Duration `yaml:"dwell"`    // time spent at the branch after arrival
	Seed     uint64        `yaml:"seed"`
}

// BranchSpec is the target branch.
type BranchSpec struct {
	ID        int64   `yaml:"id"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Radius    float64 `yaml:"radius"`
}

// StartSpec places the worker relative to the branch centre.
type StartSpec struct {
	Distance float64 `yaml:"distance"` // meters
	Bearing  float64 `yaml:"bearing"`  // degrees from the branch to the start
}

// DefaultScenario walks 400 m toward a Riyadh branch at walking pace.
func DefaultScenario() Scenario {
	return Scenario{
		Branch:   BranchSpec{ID: 1, Latitude: 24.7136, Longitude: 46.6753, Radius: 100},
		Start:    StartSpec{Distance: 400, Bearing: 90},
		Speed:    1.4,
		Interval: time.Second,
		Noise:    4,
		Dwell:    30 * time.Second,
		Seed:     1,
	}
}

// LoadScenario reads a YAML scenario. Missing fields keep their
// DefaultScenario values.
func LoadScenario(path string) (Scenario, error) {
	sc := DefaultScenario()
	if path == "" {
		return sc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

// Validate checks ranges.
func (s Scenario) Validate() error {
	switch {
	case math.Abs(s.Branch.Latitude) > 90 || math.Abs(s.Branch.Longitude) > 180:
		return fmt.Errorf("%w: branch coordinates out of range", ErrInvalidScenario)
	case s.Branch.Radius <= 0:
		return fmt.Errorf("%w: branch radius must be positive", ErrInvalidScenario)
	case s.Start.Distance < 0:
		return fmt.Errorf("%w: start distance must not be negative", ErrInvalidScenario)
	case s.Speed <= 0:
		return fmt.Errorf("%w: speed must be positive", ErrInvalidScenario)
	case s.Interval <= 0:
		return fmt.Errorf("%w: interval must be positive", ErrInvalidScenario)
	case s.Noise < 0 || s.Dwell < 0:
		return fmt.Errorf("%w: noise and dwell must not be negative", ErrInvalidScenario)
	}
	return nil
}

// Target returns the branch as a domain model.
func (s Scenario) Target() model.Branch {
	return model.Branch{
		ID:        s.Branch.ID,
		Name:      "simulated",
		Latitude:  s.Branch.Latitude,
		Longitude: s.Branch.Longitude,
		Radius:    s.Branch.Radius,
	}
}
