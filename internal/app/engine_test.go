package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	service "github.com/okian/fieldpresence/internal/app"
	"github.com/okian/fieldpresence/internal/adapters/http/client"
	"github.com/okian/fieldpresence/internal/domain/attendance"
	"github.com/okian/fieldpresence/internal/domain/estimator"
	"github.com/okian/fieldpresence/internal/domain/model"
	"github.com/okian/fieldpresence/internal/positioning"
	"github.com/okian/fieldpresence/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var (
	hq = model.Branch{ID: 7, Name: "HQ", Latitude: 24.7136, Longitude: 46.6753, Radius: 100}

	atHQ    = model.Fix{Latitude: 24.7136, Longitude: 46.6753, Accuracy: 5}
	faraway = model.Fix{Latitude: 24.7336, Longitude: 46.6753, Accuracy: 5}

	// Sunday, inside the 07:00-08:15 check-in window.
	inWindow = time.Date(2026, 10, 18, 8, 5, 0, 0, time.UTC)
	// Sunday evening.
	afterHours = time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC)
)

type fakeBackend struct {
	mu          sync.Mutex
	checkins    []client.Checkin
	batches     [][]model.TelemetryRecord
	heartbeats  int
	awols       int
	failCheckin int // number of check-ins to fail before succeeding
	gate        chan struct{} // check-ins block until closed
	failUpload  bool
	colleagues  []model.Colleague
}

func (b *fakeBackend) CheckIn(ctx context.Context, in client.Checkin) (string, error) {
	b.mu.Lock()
	b.checkins = append(b.checkins, in)
	n, gate := len(b.checkins), b.gate
	fail := b.failCheckin > 0
	if fail {
		b.failCheckin--
	}
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fail {
		return "", fmt.Errorf("%s: %w", client.PathAttendance, client.ErrNetworkFailure)
	}
	return fmt.Sprintf("att-%d", n), nil
}

func (b *fakeBackend) UploadTelemetry(_ context.Context, batch []model.TelemetryRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failUpload {
		return fmt.Errorf("%s: %w", client.PathTelemetry, client.ErrNetworkFailure)
	}
	b.batches = append(b.batches, batch)
	return nil
}

func (b *fakeBackend) Heartbeat(_ context.Context, _ model.Estimate) ([]model.Colleague, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.heartbeats++
	return b.colleagues, nil
}

func (b *fakeBackend) ReportAWOL(_ context.Context, _, _ float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.awols++
	return nil
}

func (b *fakeBackend) checkinCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.checkins)
}

func (b *fakeBackend) checkin(i int) client.Checkin {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.checkins[i]
}

func (b *fakeBackend) awolCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.awols
}

func (b *fakeBackend) uploaded() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, batch := range b.batches {
		n += len(batch)
	}
	return n
}

func (b *fakeBackend) setFailUpload(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failUpload = fail
}

// clockFrom returns a wall clock that starts at base and advances in real time.
func clockFrom(base time.Time) func() time.Time {
	start := time.Now()
	return func() time.Time { return base.Add(time.Since(start)) }
}

// shiftClock is a wall clock that advances in real time and can jump ahead.
type shiftClock struct {
	mu     sync.Mutex
	base   time.Time
	start  time.Time
	offset time.Duration
}

func newShiftClock(base time.Time) *shiftClock {
	return &shiftClock{base: base, start: time.Now()}
}

func (c *shiftClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base.Add(time.Since(c.start) + c.offset)
}

func (c *shiftClock) jump(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

func window() attendance.Window {
	w, err := attendance.NewWindow("08:00", "17:00", 60, 15, []string{"sun", "mon", "tue", "wed", "thu"})
	if err != nil {
		panic(err)
	}
	return w
}

func fastOptions(base time.Time) []service.Option {
	return []service.Option{
		service.WithUserID("u-42"),
		service.WithClock(clockFrom(base)),
		service.WithPredictionInterval(10 * time.Millisecond),
		service.WithExposeInterval(10 * time.Millisecond),
		service.WithPollInterval(10 * time.Millisecond),
		service.WithFlushInterval(50 * time.Millisecond),
		service.WithHeartbeatInterval(50 * time.Millisecond),
		service.WithDebounce(30 * time.Millisecond),
		service.WithRetryCooldown(80 * time.Millisecond),
		service.WithWorkerCount(2),
		service.WithShutdownTimeout(time.Second),
	}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestEngine_Lifecycle(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new engine", t, func() {
		eng := service.New(&fakeBackend{}, []model.Branch{hq}, window())
		Reset(eng.Stop)

		Convey("Then it publishes an initial snapshot", func() {
			st := eng.Status()
			So(st.State, ShouldEqual, "awaiting_conditions")
			So(st.Initialized, ShouldBeFalse)
			So(st.Estimate, ShouldBeNil)
		})

		Convey("Then inputs are refused before Start", func() {
			So(errors.Is(eng.IngestFix(ctx, atHQ), service.ErrNotRunning), ShouldBeTrue)
			So(errors.Is(eng.Reset(ctx, "operator"), service.ErrNotRunning), ShouldBeTrue)
		})

		Convey("When it is started twice and stopped twice", func() {
			So(eng.Start(ctx), ShouldBeNil)
			So(eng.Start(ctx), ShouldBeNil)
			eng.Stop()
			eng.Stop()

			Convey("Then it refuses inputs and cannot be restarted", func() {
				So(errors.Is(eng.IngestFix(ctx, atHQ), service.ErrNotRunning), ShouldBeTrue)
				So(errors.Is(eng.Start(ctx), service.ErrStopped), ShouldBeTrue)
			})
		})

		Convey("When malformed samples arrive", func() {
			So(eng.Start(ctx), ShouldBeNil)
			errFix := eng.IngestFix(ctx, model.Fix{Latitude: 123, Longitude: 0})
			errMotion := eng.IngestMotion(ctx, model.MotionSample{Kind: model.MotionKind(9)})

			Convey("Then they are rejected without touching the estimate", func() {
				So(errors.Is(errFix, service.ErrInvalidSample), ShouldBeTrue)
				So(errors.Is(errMotion, service.ErrInvalidSample), ShouldBeTrue)
				time.Sleep(30 * time.Millisecond)
				So(eng.Status().Initialized, ShouldBeFalse)
			})
		})
	})
}

func TestEngine_AutomaticCheckin(t *testing.T) {
	ctx := context.Background()

	Convey("Given a running engine inside the check-in window", t, func() {
		backend := &fakeBackend{}
		eng := service.New(backend, []model.Branch{hq}, window(), fastOptions(inWindow)...)
		So(eng.Start(ctx), ShouldBeNil)
		Reset(eng.Stop)

		Convey("When the worker stands at the branch", func() {
			So(eng.IngestFix(ctx, atHQ), ShouldBeNil)

			Convey("Then exactly one check-in is registered", func() {
				So(eventually(func() bool { return eng.Status().Registered() }), ShouldBeTrue)
				st := eng.Status()
				So(st.AttendanceID, ShouldEqual, "att-1")
				So(st.RecordedToday, ShouldBeTrue)
				So(st.Branch, ShouldNotBeNil)
				So(st.Branch.ID, ShouldEqual, hq.ID)
				So(st.PollingSuspended, ShouldBeFalse)

				time.Sleep(100 * time.Millisecond)
				So(backend.checkinCount(), ShouldEqual, 1)
				So(backend.checkin(0).BranchID, ShouldEqual, hq.ID)
				So(backend.checkin(0).IdempotencyKey, ShouldNotBeBlank)
			})

			Convey("Then leaving the branch raises one AWOL alert", func() {
				So(eventually(func() bool { return eng.Status().Registered() }), ShouldBeTrue)
				time.Sleep(30 * time.Millisecond)
				So(eng.IngestFix(ctx, faraway), ShouldBeNil)

				So(eventually(func() bool { return backend.awolCount() == 1 }), ShouldBeTrue)
				So(eventually(func() bool { return eng.Status().AWOLActive }), ShouldBeTrue)
				st := eng.Status()
				So(st.LastAlert, ShouldNotBeNil)
				// One far fix pulls the estimate part of the way there.
				blended := estimator.DefaultCorrectionWeight*faraway.Latitude + (1-estimator.DefaultCorrectionWeight)*atHQ.Latitude
				So(st.LastAlert.Latitude, ShouldAlmostEqual, blended, 1e-4)
				So(st.Inside, ShouldBeFalse)
			})

			Convey("Then an operator reset allows a fresh registration", func() {
				So(eventually(func() bool { return eng.Status().Registered() }), ShouldBeTrue)
				So(eng.Reset(ctx, "operator"), ShouldBeNil)
				So(eventually(func() bool { return backend.checkinCount() == 2 }), ShouldBeTrue)
				So(eventually(func() bool { return eng.Status().AttendanceID == "att-2" }), ShouldBeTrue)
			})
		})

		Convey("When the worker is far from every branch", func() {
			So(eng.IngestFix(ctx, faraway), ShouldBeNil)
			time.Sleep(150 * time.Millisecond)

			Convey("Then nothing is submitted", func() {
				So(backend.checkinCount(), ShouldEqual, 0)
				So(eng.Status().State, ShouldEqual, "awaiting_conditions")
				So(eng.Status().Initialized, ShouldBeTrue)
			})
		})
	})

	Convey("Given an engine outside the check-in window", t, func() {
		backend := &fakeBackend{}
		eng := service.New(backend, []model.Branch{hq}, window(), fastOptions(afterHours)...)
		So(eng.Start(ctx), ShouldBeNil)
		Reset(eng.Stop)

		Convey("When the worker stands at the branch", func() {
			So(eng.IngestFix(ctx, atHQ), ShouldBeNil)
			time.Sleep(150 * time.Millisecond)

			Convey("Then no check-in is attempted", func() {
				So(backend.checkinCount(), ShouldEqual, 0)
				So(eng.Status().WithinWindow, ShouldBeFalse)
				So(eng.Status().Inside, ShouldBeTrue)
			})
		})
	})
}

func TestEngine_CheckinFailure(t *testing.T) {
	ctx := context.Background()

	Convey("Given a backend that drops the first check-in", t, func() {
		backend := &fakeBackend{failCheckin: 1}
		eng := service.New(backend, []model.Branch{hq}, window(), fastOptions(inWindow)...)
		So(eng.Start(ctx), ShouldBeNil)
		Reset(eng.Stop)

		So(eng.IngestFix(ctx, atHQ), ShouldBeNil)

		Convey("Then the failure is surfaced and the engine retries after the cooldown", func() {
			So(eventually(func() bool { return eng.Status().State == "failed" }), ShouldBeTrue)
			So(eng.Status().LastFailure, ShouldContainSubstring, "network failure")

			So(eventually(func() bool { return eng.Status().Registered() }), ShouldBeTrue)
			So(backend.checkinCount(), ShouldEqual, 2)
			So(eng.Status().LastFailure, ShouldBeBlank)
			So(backend.checkin(0).IdempotencyKey, ShouldNotEqual, backend.checkin(1).IdempotencyKey)
		})
	})
}

func TestEngine_Telemetry(t *testing.T) {
	ctx := context.Background()

	Convey("Given a running engine with an estimate", t, func() {
		backend := &fakeBackend{colleagues: []model.Colleague{{UserID: "u-7", WithinGeofence: true}}}
		opts := append(fastOptions(afterHours), service.WithBufferCapacity(5))
		eng := service.New(backend, []model.Branch{hq}, window(), opts...)
		So(eng.Start(ctx), ShouldBeNil)
		Reset(eng.Stop)
		So(eng.IngestFix(ctx, atHQ), ShouldBeNil)

		Convey("Then samples are uploaded in batches", func() {
			So(eventually(func() bool { return backend.uploaded() > 0 }), ShouldBeTrue)
		})

		Convey("Then heartbeats fill the colleague list", func() {
			So(eventually(func() bool {
				c, err := eng.Colleagues(ctx, 0)
				return err == nil && len(c.Colleagues) == 1
			}), ShouldBeTrue)
			c, _ := eng.Colleagues(ctx, 0)
			So(c.Colleagues[0].UserID, ShouldEqual, "u-7")
			So(c.UpdatedAt.IsZero(), ShouldBeFalse)
		})

		Convey("When uploads keep failing while the worker moves", func() {
			backend.setFailUpload(true)
			for i := 0; i < 20; i++ {
				fix := atHQ
				fix.Latitude += float64(i) * 0.001
				So(eng.IngestFix(ctx, fix), ShouldBeNil)
				time.Sleep(15 * time.Millisecond)
			}

			Convey("Then the buffer stays bounded", func() {
				st := eng.Status()
				So(st.BufferLen, ShouldBeLessThanOrEqualTo, 5)
				So(st.BufferDropped, ShouldBeGreaterThan, 0)
			})
		})
	})

	Convey("Given an engine that never reaches its flush interval", t, func() {
		backend := &fakeBackend{}
		opts := append(fastOptions(afterHours), service.WithFlushInterval(time.Hour))
		eng := service.New(backend, []model.Branch{hq}, window(), opts...)
		So(eng.Start(ctx), ShouldBeNil)
		So(eng.IngestFix(ctx, atHQ), ShouldBeNil)
		So(eventually(func() bool { return eng.Status().BufferLen > 0 }), ShouldBeTrue)

		Convey("When it is stopped", func() {
			eng.Stop()

			Convey("Then buffered samples are flushed once", func() {
				So(backend.uploaded(), ShouldBeGreaterThan, 0)
				So(eng.Status().BufferLen, ShouldEqual, 0)
			})
		})
	})
}

func TestEngine_Positioning(t *testing.T) {
	ctx := context.Background()

	Convey("Given an engine fed by a push source", t, func() {
		src := positioning.NewPushSource()
		opts := append(fastOptions(afterHours), service.WithPositioning(src, positioning.MinTimeout))
		eng := service.New(&fakeBackend{}, []model.Branch{hq}, window(), opts...)
		So(eng.Start(ctx), ShouldBeNil)
		Reset(eng.Stop)

		Convey("When a fix is published", func() {
			So(eventually(func() bool { return src.PublishFix(atHQ) == nil }), ShouldBeTrue)

			Convey("Then the engine initializes and reports acquisition", func() {
				So(eventually(func() bool { return eng.Status().Initialized }), ShouldBeTrue)
				So(eventually(func() bool { return eng.Status().PositioningAcquired }), ShouldBeTrue)
			})
		})

		Convey("When the device denies permission", func() {
			So(eventually(func() bool { return src.PublishError(positioning.ErrPermissionDenied) == nil }), ShouldBeTrue)

			Convey("Then the error is shown without stopping the engine", func() {
				So(eventually(func() bool { return eng.Status().PositioningError == "permission_denied" }), ShouldBeTrue)
				So(eng.IngestMotion(ctx, model.MotionSample{Kind: model.MotionAccel}), ShouldBeNil)
			})
		})
	})
}

func TestEngine_RecordedToday(t *testing.T) {
	ctx := context.Background()

	Convey("Given an engine told the server already holds today's record", t, func() {
		backend := &fakeBackend{}
		clk := newShiftClock(inWindow)
		opts := append(fastOptions(inWindow), service.WithClock(clk.now), service.WithRecordedToday(true))
		eng := service.New(backend, []model.Branch{hq}, window(), opts...)
		So(eng.Start(ctx), ShouldBeNil)
		Reset(eng.Stop)

		Convey("When the worker stands at the branch inside the window", func() {
			So(eng.IngestFix(ctx, atHQ), ShouldBeNil)
			time.Sleep(150 * time.Millisecond)

			Convey("Then no check-in is attempted", func() {
				st := eng.Status()
				So(backend.checkinCount(), ShouldEqual, 0)
				So(st.RecordedToday, ShouldBeTrue)
				So(st.Inside, ShouldBeTrue)
				So(st.WithinWindow, ShouldBeTrue)
				So(st.State, ShouldEqual, "awaiting_conditions")
			})

			Convey("Then the flag lapses on the next working day", func() {
				clk.jump(24 * time.Hour)
				So(eventually(func() bool { return eng.Status().Registered() }), ShouldBeTrue)
				So(backend.checkinCount(), ShouldEqual, 1)
			})
		})
	})

	Convey("Given a running engine inside the check-in window", t, func() {
		backend := &fakeBackend{}
		eng := service.New(backend, []model.Branch{hq}, window(), fastOptions(inWindow)...)
		So(eng.Start(ctx), ShouldBeNil)
		Reset(eng.Stop)

		Convey("When the host reports an existing record before the first fix", func() {
			So(eng.SetRecordedToday(ctx, true), ShouldBeNil)
			So(eng.IngestFix(ctx, atHQ), ShouldBeNil)
			time.Sleep(150 * time.Millisecond)

			Convey("Then nothing is submitted", func() {
				So(backend.checkinCount(), ShouldEqual, 0)
				So(eng.Status().RecordedToday, ShouldBeTrue)
			})

			Convey("Then clearing the flag lets the engine register", func() {
				So(eng.SetRecordedToday(ctx, false), ShouldBeNil)
				So(eventually(func() bool { return eng.Status().Registered() }), ShouldBeTrue)
				So(backend.checkinCount(), ShouldEqual, 1)
			})
		})
	})

	Convey("Given an engine that was never started", t, func() {
		eng := service.New(&fakeBackend{}, []model.Branch{hq}, window())

		Convey("Then the flag cannot be changed", func() {
			So(errors.Is(eng.SetRecordedToday(ctx, true), service.ErrNotRunning), ShouldBeTrue)
		})
	})
}

func TestEngine_DayRollover(t *testing.T) {
	ctx := context.Background()

	Convey("Given an engine registered on Sunday", t, func() {
		backend := &fakeBackend{}
		clk := newShiftClock(inWindow)
		opts := append(fastOptions(inWindow), service.WithClock(clk.now))
		eng := service.New(backend, []model.Branch{hq}, window(), opts...)
		So(eng.Start(ctx), ShouldBeNil)
		Reset(eng.Stop)

		So(eng.IngestFix(ctx, atHQ), ShouldBeNil)
		So(eventually(func() bool { return eng.Status().Registered() }), ShouldBeTrue)
		So(eng.Status().AttendanceID, ShouldEqual, "att-1")

		Convey("When the clock passes midnight into Monday's window", func() {
			clk.jump(24 * time.Hour)

			Convey("Then the machine resets and registers exactly once for the new day", func() {
				So(eventually(func() bool { return eng.Status().AttendanceID == "att-2" }), ShouldBeTrue)
				So(eng.Status().RecordedToday, ShouldBeTrue)

				time.Sleep(100 * time.Millisecond)
				So(backend.checkinCount(), ShouldEqual, 2)
				So(backend.checkin(0).IdempotencyKey, ShouldNotEqual, backend.checkin(1).IdempotencyKey)
			})
		})
	})

	Convey("Given an engine whose check-in is still in flight at midnight", t, func() {
		backend := &fakeBackend{gate: make(chan struct{})}
		clk := newShiftClock(inWindow)
		opts := append(fastOptions(inWindow), service.WithClock(clk.now))
		eng := service.New(backend, []model.Branch{hq}, window(), opts...)
		So(eng.Start(ctx), ShouldBeNil)
		Reset(eng.Stop)

		So(eng.IngestFix(ctx, atHQ), ShouldBeNil)
		So(eventually(func() bool { return eng.Status().State == "submitting" }), ShouldBeTrue)
		clk.jump(24 * time.Hour)
		time.Sleep(50 * time.Millisecond)

		Convey("Then the rollover waits for the call to finish", func() {
			So(eng.Status().State, ShouldEqual, "submitting")
			So(backend.checkinCount(), ShouldEqual, 1)

			close(backend.gate)

			Convey("And is retried on a later poll, registering the new day", func() {
				So(eventually(func() bool { return eng.Status().AttendanceID == "att-2" }), ShouldBeTrue)
				So(backend.checkinCount(), ShouldEqual, 2)
			})
		})
	})
}
