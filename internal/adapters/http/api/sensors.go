package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	service "github.com/okian/fieldpresence/internal/app"
	"github.com/okian/fieldpresence/internal/domain/model"
	"github.com/okian/fieldpresence/internal/positioning"
)

// SensorsHandler accepts fixes, positioning errors and motion samples.
type SensorsHandler struct {
	engine Engine
	fixes  FixPublisher
}

// NewSensorsHandler creates a new sensors handler.
func NewSensorsHandler(engine Engine, fixes FixPublisher) *SensorsHandler {
	return &SensorsHandler{engine: engine, fixes: fixes}
}

// HandlePostFix handles POST /fix requests.
func (h *SensorsHandler) HandlePostFix(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_fix"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req FixRequest
	if err := decode(w, r, &req); err != nil {
		writeKindError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	fix, err := req.toFix()
	if err != nil {
		writeKindError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.fixes.PublishFix(fix); err != nil {
		writeKindError(w, WrapKind(op, publishKind(err), err))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}

// HandlePostPositioningError handles POST /positioning/error requests.
func (h *SensorsHandler) HandlePostPositioningError(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_positioning_error"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req PositioningErrorRequest
	if err := decode(w, r, &req); err != nil {
		writeKindError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	perr, ok := positioning.ParseKind(req.Kind)
	if !ok {
		writeKindError(w, WrapKind(op, ErrBadRequest, perr))
		return
	}
	if msg := strings.TrimSpace(req.Message); msg != "" {
		perr = fmt.Errorf("%w: %s", perr, msg)
	}
	if err := h.fixes.PublishError(perr); err != nil {
		writeKindError(w, WrapKind(op, publishKind(err), err))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}

// HandlePostMotion handles POST /motion requests.
func (h *SensorsHandler) HandlePostMotion(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_motion"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req MotionRequest
	if err := decode(w, r, &req); err != nil {
		writeKindError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	sample, err := req.toSample()
	if err != nil {
		writeKindError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.engine.IngestMotion(r.Context(), sample); err != nil {
		writeKindError(w, WrapKind(op, engineKind(err), err))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}

func (req FixRequest) toFix() (model.Fix, error) {
	if req.Latitude == nil || req.Longitude == nil {
		return model.Fix{}, errors.New("missing latitude or longitude")
	}
	if req.Accuracy < 0 {
		return model.Fix{}, errors.New("accuracy must not be negative")
	}
	fix := model.Fix{
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		Accuracy:  req.Accuracy,
		Timestamp: stamp(req.Timestamp),
	}
	if req.Heading != nil {
		fix.Heading, fix.HasHeading = *req.Heading, true
	}
	if req.Speed != nil {
		fix.Speed = *req.Speed
	}
	return fix, nil
}

func (req MotionRequest) toSample() (model.MotionSample, error) {
	s := model.MotionSample{
		X: req.X, Y: req.Y, Z: req.Z,
		Alpha: req.Alpha, Beta: req.Beta, Gamma: req.Gamma,
		Timestamp: stamp(req.Timestamp),
	}
	switch strings.ToLower(req.Kind) {
	case "accel", "acceleration":
		s.Kind = model.MotionAccel
	case "orientation":
		s.Kind = model.MotionOrientation
	default:
		return model.MotionSample{}, fmt.Errorf("unknown motion kind %q", req.Kind)
	}
	return s, nil
}

func stamp(ms int64) time.Time {
	if ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

func publishKind(err error) error {
	switch {
	case errors.Is(err, positioning.ErrInvalidFix):
		return ErrBadRequest
	case errors.Is(err, positioning.ErrNoSubscriber):
		return ErrUnavailable
	default:
		return err
	}
}

func engineKind(err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidSample):
		return ErrBadRequest
	case errors.Is(err, service.ErrNotRunning):
		return ErrUnavailable
	default:
		return err
	}
}
