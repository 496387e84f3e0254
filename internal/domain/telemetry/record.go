// Package telemetry compresses estimate samples and buffers them for batch
// upload.
package telemetry

import (
	"math"

	"github.com/okian/fieldpresence/internal/domain/geo"
	"github.com/okian/fieldpresence/internal/domain/model"
)

const coordScale = 1e6

// Compress rounds an estimate to wire precision: ~6 decimal places for
// coordinates, whole degrees for heading, 0.1 m/s for velocity and whole
// meters for accuracy.
func Compress(est model.Estimate) model.TelemetryRecord {
	h := int(math.Round(geo.NormalizeHeading(est.Heading)))
	if h >= 360 {
		h -= 360
	}
	return model.TelemetryRecord{
		Lat:       math.Round(est.Latitude*coordScale) / coordScale,
		Lng:       math.Round(est.Longitude*coordScale) / coordScale,
		Heading:   h,
		Velocity:  math.Round(est.Velocity*10) / 10,
		Accuracy:  int(math.Round(est.Accuracy)),
		Timestamp: est.Timestamp,
	}
}

// Expand turns a record back into an estimate.
func Expand(rec model.TelemetryRecord) model.Estimate {
	return model.Estimate{
		Latitude:  rec.Lat,
		Longitude: rec.Lng,
		Heading:   float64(rec.Heading),
		Velocity:  rec.Velocity,
		Accuracy:  float64(rec.Accuracy),
		Timestamp: rec.Timestamp,
	}
}
