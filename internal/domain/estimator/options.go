package estimator

// Option applies a configuration option to the Estimator.
type Option func(*Estimator)

// WithCorrectionWeight sets the weight given to a fresh fix when blending
// it with the dead-reckoned position. Values outside (0, 1] are ignored.
func WithCorrectionWeight(w float64) Option {
	return func(e *Estimator) {
		if w > 0 && w <= 1 {
			e.correctionWeight = w
		}
	}
}

// WithNoiseThreshold sets the horizontal acceleration (m/s²) below which
// the device is treated as stationary.
func WithNoiseThreshold(threshold float64) Option {
	return func(e *Estimator) {
		if threshold >= 0 {
			e.noiseThreshold = threshold
		}
	}
}

// WithDriftThreshold sets the drift (meters) above which a fix is blended
// rather than snapped to.
func WithDriftThreshold(meters float64) Option {
	return func(e *Estimator) {
		if meters >= 0 {
			e.driftThreshold = meters
		}
	}
}
