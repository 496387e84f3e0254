// Package api declares the inbound HTTP contract: the device adapter pushes
// sensor feeds and the host app reads presence status.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/fieldpresence/internal/domain/model"
	"github.com/okian/fieldpresence/internal/domain/types"
)

const maxBodyBytes = 64 << 10

// Engine is the part of the presence engine the handlers need.
type Engine interface {
	IngestMotion(ctx context.Context, s model.MotionSample) error
	Reset(ctx context.Context, reason string) error
	SetRecordedToday(ctx context.Context, recorded bool) error
	Status() types.Status
	Colleagues(ctx context.Context, limit int) (types.Colleagues, error)
}

// FixPublisher feeds the positioning subscription.
type FixPublisher interface {
	PublishFix(fix model.Fix) error
	PublishError(err error) error
}

// Server wires HTTP routes for the presence API.
type Server struct {
	healthHandler  *HealthHandler
	sensorsHandler *SensorsHandler
	statusHandler  *StatusHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(engine Engine, fixes FixPublisher) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		sensorsHandler: NewSensorsHandler(engine, fixes),
		statusHandler:  NewStatusHandler(engine),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/fix", MetricsMiddleware(s.sensorsHandler.HandlePostFix, "fix"))
	mux.HandleFunc("/positioning/error", MetricsMiddleware(s.sensorsHandler.HandlePostPositioningError, "positioning_error"))
	mux.HandleFunc("/motion", MetricsMiddleware(s.sensorsHandler.HandlePostMotion, "motion"))
	mux.HandleFunc("/state", MetricsMiddleware(s.statusHandler.HandleGetState, "state"))
	mux.HandleFunc("/colleagues", MetricsMiddleware(s.statusHandler.HandleGetColleagues, "colleagues"))
	mux.HandleFunc("/reset", MetricsMiddleware(s.statusHandler.HandlePostReset, "reset"))
	mux.HandleFunc("/attendance/status", MetricsMiddleware(s.statusHandler.HandlePostAttendanceStatus, "attendance_status"))
}

// FixRequest is the body of POST /fix. Timestamps are unix milliseconds;
// zero means "now".
type FixRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

// PositioningErrorRequest is the body of POST /positioning/error.
type PositioningErrorRequest struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
}

// MotionRequest is the body of POST /motion. Kind is "accel" (x, y, z in
// m/s²) or "orientation" (alpha, beta, gamma in degrees).
type MotionRequest struct {
	Kind      string  `json:"kind"`
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
	Z         float64 `json:"z,omitempty"`
	Alpha     float64 `json:"alpha,omitempty"`
	Beta      float64 `json:"beta,omitempty"`
	Gamma     float64 `json:"gamma,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

// ResetRequest is the optional body of POST /reset.
type ResetRequest struct {
	Reason string `json:"reason"`
}

// AttendanceStatusRequest is the body of POST /attendance/status.
type AttendanceStatusRequest struct {
	RecordedToday *bool `json:"recorded_today"`
}

type ackResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeKindError maps an error's kind to a status code.
func writeKindError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err)
	case errors.Is(err, ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
