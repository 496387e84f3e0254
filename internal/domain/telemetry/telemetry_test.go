package telemetry_test

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/okian/fieldpresence/internal/domain/geo"
	"github.com/okian/fieldpresence/internal/domain/model"
	"github.com/okian/fieldpresence/internal/domain/telemetry"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)

func rec(i int) model.TelemetryRecord {
	return model.TelemetryRecord{Lat: float64(i), Timestamp: t0.Add(time.Duration(i) * time.Second)}
}

func TestCompress(t *testing.T) {
	Convey("Given an estimate", t, func() {
		est := model.Estimate{
			Latitude: 24.71361234, Longitude: 46.67538765,
			Heading: 123.6, Velocity: 1.26, Accuracy: 7.4, Timestamp: t0,
		}

		Convey("When it is compressed", func() {
			r := telemetry.Compress(est)

			Convey("Then each field is rounded to wire precision", func() {
				So(r.Lat, ShouldAlmostEqual, 24.713612, 1e-9)
				So(r.Lng, ShouldAlmostEqual, 46.675388, 1e-9)
				So(r.Heading, ShouldEqual, 124)
				So(r.Velocity, ShouldAlmostEqual, 1.3, 1e-9)
				So(r.Accuracy, ShouldEqual, 7)
				So(r.Timestamp, ShouldEqual, t0)
			})
		})

		Convey("When the heading rounds up to 360", func() {
			est.Heading = 359.7
			So(telemetry.Compress(est).Heading, ShouldEqual, 0)
		})
	})

	Convey("Given random estimates", t, func() {
		rng := rand.New(rand.NewSource(11))
		worst := struct{ coord, heading, velocity, accuracy float64 }{}
		for i := 0; i < 10000; i++ {
			est := model.Estimate{
				Latitude:  rng.Float64()*180 - 90,
				Longitude: rng.Float64()*360 - 180,
				Heading:   rng.Float64() * 360,
				Velocity:  rng.Float64() * 50,
				Accuracy:  rng.Float64() * 200,
			}
			back := telemetry.Expand(telemetry.Compress(est))
			worst.coord = math.Max(worst.coord, math.Max(math.Abs(back.Latitude-est.Latitude), math.Abs(back.Longitude-est.Longitude)))
			worst.heading = math.Max(worst.heading, math.Abs(geo.AngleDelta(est.Heading, back.Heading)))
			worst.velocity = math.Max(worst.velocity, math.Abs(back.Velocity-est.Velocity))
			worst.accuracy = math.Max(worst.accuracy, math.Abs(back.Accuracy-est.Accuracy))
		}

		Convey("Then round-trip error stays within the stated precision", func() {
			So(worst.coord, ShouldBeLessThanOrEqualTo, 1e-6)
			So(worst.heading, ShouldBeLessThanOrEqualTo, 1)
			So(worst.velocity, ShouldBeLessThanOrEqualTo, 0.1)
			So(worst.accuracy, ShouldBeLessThanOrEqualTo, 1)
		})
	})
}

func TestBuffer(t *testing.T) {
	Convey("Given a buffer of capacity 3", t, func() {
		b := telemetry.NewBuffer(3)

		Convey("Then it starts empty", func() {
			So(b.Len(), ShouldEqual, 0)
			So(b.Cap(), ShouldEqual, 3)
			So(b.Drain(), ShouldBeNil)
		})

		Convey("When more records than capacity are appended", func() {
			for i := 0; i < 5; i++ {
				b.Append(rec(i))
			}

			Convey("Then the oldest are dropped and order is kept", func() {
				So(b.Len(), ShouldEqual, 3)
				So(b.Dropped(), ShouldEqual, 2)
				out := b.Drain()
				So(out[0].Lat, ShouldEqual, 2)
				So(out[2].Lat, ShouldEqual, 4)
				So(b.Len(), ShouldEqual, 0)
			})
		})

		Convey("When a failed batch is requeued behind new records", func() {
			b.Append(rec(0))
			b.Append(rec(1))
			batch := b.Drain()
			b.Append(rec(2))
			dropped := b.Requeue(batch)

			Convey("Then the batch goes in front", func() {
				So(dropped, ShouldEqual, 0)
				out := b.Drain()
				So(len(out), ShouldEqual, 3)
				So(out[0].Lat, ShouldEqual, 0)
				So(out[1].Lat, ShouldEqual, 1)
				So(out[2].Lat, ShouldEqual, 2)
			})
		})

		Convey("When a requeue overflows the capacity", func() {
			b.Append(rec(0))
			b.Append(rec(1))
			b.Append(rec(2))
			batch := b.Drain()
			b.Append(rec(3))
			b.Append(rec(4))
			dropped := b.Requeue(batch)

			Convey("Then the oldest records are dropped", func() {
				So(dropped, ShouldEqual, 2)
				So(b.Dropped(), ShouldEqual, 2)
				out := b.Drain()
				So(out[0].Lat, ShouldEqual, 2)
				So(out[1].Lat, ShouldEqual, 3)
				So(out[2].Lat, ShouldEqual, 4)
			})
		})

		Convey("When an empty batch is requeued", func() {
			So(b.Requeue(nil), ShouldEqual, 0)
			So(b.Len(), ShouldEqual, 0)
		})
	})

	Convey("Given a non-positive capacity", t, func() {
		So(telemetry.NewBuffer(0).Cap(), ShouldEqual, telemetry.DefaultCapacity)
	})

	Convey("Given a sustained outage", t, func() {
		b := telemetry.NewBuffer(telemetry.DefaultCapacity)
		for cycle := 0; cycle < 10; cycle++ {
			for i := 0; i < 600; i++ {
				b.Append(rec(cycle*600 + i))
			}
			b.Requeue(b.Drain())
		}

		Convey("Then the buffer never grows past its cap", func() {
			So(b.Len(), ShouldEqual, telemetry.DefaultCapacity)
			So(b.Drain()[telemetry.DefaultCapacity-1].Lat, ShouldEqual, 5999)
		})
	})
}
