package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okian/fieldpresence/internal/adapters/http/api"
	"github.com/okian/fieldpresence/internal/adapters/repository"
	service "github.com/okian/fieldpresence/internal/app"
	"github.com/okian/fieldpresence/internal/domain/attendance"
	"github.com/okian/fieldpresence/internal/domain/model"
	"github.com/okian/fieldpresence/internal/domain/types"
	"github.com/okian/fieldpresence/internal/positioning"
	. "github.com/smartystreets/goconvey/convey"
)

// Mock implementations for testing
type mockEngine struct {
	motion     []model.MotionSample
	motionErr  error
	resets     []string
	resetErr   error
	recorded   []bool
	status     types.Status
	colleagues []model.Colleague
}

func (m *mockEngine) IngestMotion(_ context.Context, s model.MotionSample) error {
	if m.motionErr != nil {
		return m.motionErr
	}
	m.motion = append(m.motion, s)
	return nil
}

func (m *mockEngine) Reset(_ context.Context, reason string) error {
	if m.resetErr != nil {
		return m.resetErr
	}
	m.resets = append(m.resets, reason)
	return nil
}

func (m *mockEngine) SetRecordedToday(_ context.Context, recorded bool) error {
	if m.resetErr != nil {
		return m.resetErr
	}
	m.recorded = append(m.recorded, recorded)
	return nil
}

func (m *mockEngine) Status() types.Status { return m.status }

func (m *mockEngine) Colleagues(_ context.Context, limit int) (types.Colleagues, error) {
	if limit < 0 {
		return types.Colleagues{}, repository.ErrInvalidLimit
	}
	list := m.colleagues
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return types.Colleagues{Colleagues: list}, nil
}

type mockPublisher struct {
	fixes  []model.Fix
	errs   []error
	fixErr error
}

func (m *mockPublisher) PublishFix(fix model.Fix) error {
	if m.fixErr != nil {
		return m.fixErr
	}
	if !fix.Valid() {
		return positioning.ErrInvalidFix
	}
	m.fixes = append(m.fixes, fix)
	return nil
}

func (m *mockPublisher) PublishError(err error) error {
	if m.fixErr != nil {
		return m.fixErr
	}
	m.errs = append(m.errs, err)
	return nil
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newMux(engine *mockEngine, pub *mockPublisher) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(engine, pub).Register(context.Background(), mux)
	return mux
}

func do(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeError(w *httptest.ResponseRecorder) errorResponse {
	var resp errorResponse
	So(json.NewDecoder(w.Body).Decode(&resp), ShouldBeNil)
	return resp
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		mux := newMux(&mockEngine{status: types.Status{State: "awaiting_conditions"}}, &mockPublisher{})

		Convey("Then the health endpoint serves metrics", func() {
			w := do(mux, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("Then every route rejects the wrong method", func() {
			for _, tc := range []struct{ method, path string }{
				{http.MethodGet, "/fix"},
				{http.MethodGet, "/positioning/error"},
				{http.MethodGet, "/motion"},
				{http.MethodPost, "/state"},
				{http.MethodPost, "/colleagues"},
				{http.MethodGet, "/reset"},
				{http.MethodGet, "/attendance/status"},
				{http.MethodPost, "/healthz"},
			} {
				So(do(mux, tc.method, tc.path, "").Code, ShouldEqual, http.StatusNotFound)
			}
		})
	})
}

func TestSensorsHandler_Fix(t *testing.T) {
	Convey("Given the fix endpoint", t, func() {
		engine := &mockEngine{}
		pub := &mockPublisher{}
		mux := newMux(engine, pub)

		Convey("When a full fix is posted", func() {
			w := do(mux, http.MethodPost, "/fix",
				`{"latitude":24.7136,"longitude":46.6753,"accuracy":6.5,"heading":90,"speed":1.2,"timestamp":1792310400000}`)

			Convey("Then it is published with every field", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(pub.fixes, ShouldHaveLength, 1)
				fix := pub.fixes[0]
				So(fix.Latitude, ShouldEqual, 24.7136)
				So(fix.Accuracy, ShouldEqual, 6.5)
				So(fix.HasHeading, ShouldBeTrue)
				So(fix.Heading, ShouldEqual, 90)
				So(fix.Speed, ShouldEqual, 1.2)
				So(fix.Timestamp.Equal(time.UnixMilli(1792310400000)), ShouldBeTrue)
			})
		})

		Convey("When the heading is omitted", func() {
			w := do(mux, http.MethodPost, "/fix", `{"latitude":1,"longitude":2,"accuracy":3}`)

			Convey("Then the fix carries no heading and a current timestamp", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(pub.fixes[0].HasHeading, ShouldBeFalse)
				So(time.Since(pub.fixes[0].Timestamp), ShouldBeLessThan, time.Minute)
			})
		})

		Convey("When the body is malformed", func() {
			for _, body := range []string{
				`{invalid json`,
				`{"longitude":2}`,
				`{"latitude":1,"longitude":2,"accuracy":-1}`,
				`{"latitude":1,"longitude":2,"extra":true}`,
				`{"latitude":91,"longitude":2}`,
			} {
				w := do(mux, http.MethodPost, "/fix", body)
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeError(w).Code, ShouldEqual, "bad_request")
			}
			So(pub.fixes, ShouldBeEmpty)
		})

		Convey("When no subscription is open", func() {
			pub.fixErr = positioning.ErrNoSubscriber
			w := do(mux, http.MethodPost, "/fix", `{"latitude":1,"longitude":2}`)

			Convey("Then the service is unavailable", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
				So(decodeError(w).Code, ShouldEqual, "unavailable")
			})
		})
	})
}

func TestSensorsHandler_PositioningError(t *testing.T) {
	Convey("Given the positioning error endpoint", t, func() {
		pub := &mockPublisher{}
		mux := newMux(&mockEngine{}, pub)

		Convey("When a known kind is posted with a message", func() {
			w := do(mux, http.MethodPost, "/positioning/error", `{"kind":"permission_denied","message":"user declined"}`)

			Convey("Then the sentinel is published with the message", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(pub.errs, ShouldHaveLength, 1)
				So(errors.Is(pub.errs[0], positioning.ErrPermissionDenied), ShouldBeTrue)
				So(pub.errs[0].Error(), ShouldContainSubstring, "user declined")
			})
		})

		Convey("When an unknown kind is posted", func() {
			w := do(mux, http.MethodPost, "/positioning/error", `{"kind":"meteor"}`)

			Convey("Then it is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(pub.errs, ShouldBeEmpty)
			})
		})
	})
}

func TestSensorsHandler_Motion(t *testing.T) {
	Convey("Given the motion endpoint", t, func() {
		engine := &mockEngine{}
		mux := newMux(engine, &mockPublisher{})

		Convey("When accelerometer and orientation samples are posted", func() {
			w1 := do(mux, http.MethodPost, "/motion", `{"kind":"accel","x":0.5,"y":0.1,"z":9.8}`)
			w2 := do(mux, http.MethodPost, "/motion", `{"kind":"orientation","alpha":270}`)

			Convey("Then both reach the engine", func() {
				So(w1.Code, ShouldEqual, http.StatusAccepted)
				So(w2.Code, ShouldEqual, http.StatusAccepted)
				So(engine.motion, ShouldHaveLength, 2)
				So(engine.motion[0].Kind, ShouldEqual, model.MotionAccel)
				So(engine.motion[0].Z, ShouldEqual, 9.8)
				So(engine.motion[1].Kind, ShouldEqual, model.MotionOrientation)
				So(engine.motion[1].Alpha, ShouldEqual, 270)
			})
		})

		Convey("When the kind is unknown", func() {
			w := do(mux, http.MethodPost, "/motion", `{"kind":"barometer"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(engine.motion, ShouldBeEmpty)
		})

		Convey("When the engine maps its errors", func() {
			tests := []struct {
				err  error
				code int
			}{
				{fmt.Errorf("%w: accel sample", service.ErrInvalidSample), http.StatusBadRequest},
				{service.ErrNotRunning, http.StatusServiceUnavailable},
				{errors.New("boom"), http.StatusInternalServerError},
			}
			for _, tc := range tests {
				engine.motionErr = tc.err
				w := do(mux, http.MethodPost, "/motion", `{"kind":"accel"}`)
				So(w.Code, ShouldEqual, tc.code)
			}
		})
	})
}

func TestStatusHandler(t *testing.T) {
	Convey("Given the status endpoints", t, func() {
		engine := &mockEngine{
			status: types.Status{
				UserID:       "u-42",
				Initialized:  true,
				Estimate:     &model.Estimate{Latitude: 24.7, Longitude: 46.6},
				State:        "registered",
				AttendanceID: "att-9",
				AWOLActive:   true,
				BufferLen:    12,
			},
			colleagues: []model.Colleague{{UserID: "a"}, {UserID: "b"}, {UserID: "c"}},
		}
		mux := newMux(engine, &mockPublisher{})

		Convey("When the state is requested", func() {
			w := do(mux, http.MethodGet, "/state", "")

			Convey("Then the snapshot is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var st types.Status
				So(json.NewDecoder(w.Body).Decode(&st), ShouldBeNil)
				So(st.State, ShouldEqual, "registered")
				So(st.AttendanceID, ShouldEqual, "att-9")
				So(st.AWOLActive, ShouldBeTrue)
				So(st.BufferLen, ShouldEqual, 12)
				So(st.Estimate.Latitude, ShouldEqual, 24.7)
			})
		})

		Convey("When colleagues are requested with a limit", func() {
			w := do(mux, http.MethodGet, "/colleagues?limit=2", "")

			Convey("Then at most that many are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var out types.Colleagues
				So(json.NewDecoder(w.Body).Decode(&out), ShouldBeNil)
				So(out.Colleagues, ShouldHaveLength, 2)
			})
		})

		Convey("When the limit is invalid", func() {
			So(do(mux, http.MethodGet, "/colleagues?limit=abc", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodGet, "/colleagues?limit=-1", "").Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestStatusHandler_Reset(t *testing.T) {
	Convey("Given the reset endpoint", t, func() {
		engine := &mockEngine{}
		mux := newMux(engine, &mockPublisher{})

		Convey("When it is called without a body", func() {
			w := do(mux, http.MethodPost, "/reset", "")

			Convey("Then the engine is reset by the operator", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(engine.resets, ShouldResemble, []string{"operator"})
			})
		})

		Convey("When a reason is given", func() {
			w := do(mux, http.MethodPost, "/reset", `{"reason":"new shift"}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(engine.resets, ShouldResemble, []string{"new shift"})
		})

		Convey("When a check-in is in flight", func() {
			engine.resetErr = attendance.ErrResetInFlight
			w := do(mux, http.MethodPost, "/reset", "")

			Convey("Then it conflicts", func() {
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(decodeError(w).Code, ShouldEqual, "conflict")
			})
		})

		Convey("When the engine is not running", func() {
			engine.resetErr = service.ErrNotRunning
			So(do(mux, http.MethodPost, "/reset", "").Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}

func TestStatusHandler_AttendanceStatus(t *testing.T) {
	Convey("Given the attendance status endpoint", t, func() {
		engine := &mockEngine{}
		mux := newMux(engine, &mockPublisher{})

		Convey("When the server already holds today's record", func() {
			w := do(mux, http.MethodPost, "/attendance/status", `{"recorded_today":true}`)

			Convey("Then the flag reaches the engine", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(engine.recorded, ShouldResemble, []bool{true})
			})
		})

		Convey("When the flag is cleared", func() {
			So(do(mux, http.MethodPost, "/attendance/status", `{"recorded_today":false}`).Code, ShouldEqual, http.StatusOK)
			So(engine.recorded, ShouldResemble, []bool{false})
		})

		Convey("When the flag is missing", func() {
			w := do(mux, http.MethodPost, "/attendance/status", `{}`)

			Convey("Then it is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeError(w).Code, ShouldEqual, "bad_request")
				So(engine.recorded, ShouldBeEmpty)
			})
		})

		Convey("When the engine is not running", func() {
			engine.resetErr = service.ErrNotRunning
			So(do(mux, http.MethodPost, "/attendance/status", `{"recorded_today":true}`).Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}

func TestKindError(t *testing.T) {
	Convey("Given a wrapped kind error", t, func() {
		cause := errors.New("decode failed")
		err := api.WrapKind("api.post_fix", api.ErrBadRequest, cause)

		Convey("Then both the kind and the cause match", func() {
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.post_fix: bad request: decode failed")
		})
	})

	Convey("Given a kind error without a cause", t, func() {
		err := api.NewKind("api.post_reset", api.ErrConflict)
		So(errors.Is(err, api.ErrConflict), ShouldBeTrue)
		So(err.Error(), ShouldEqual, "api.post_reset: conflict")
	})
}
