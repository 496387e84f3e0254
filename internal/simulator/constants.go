package simulator

import "time"

// Runner defaults.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultWait         = 2 * time.Minute
	DefaultPollInterval = time.Second
)

// Physical constants used by the walker.
const (
	gravity       = 9.81 // m/s²
	strideHz      = 1.8  // steps per second at walking pace
	bounceAmp     = 1.2  // m/s² vertical bounce while walking
	restJitter    = 0.05 // m/s² sensor noise at rest
	compassJitter = 2.0  // degrees
	minAccuracy   = 1.0  // meters
)
