package simulator

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/okian/fieldpresence/internal/adapters/http/client"
	"github.com/okian/fieldpresence/internal/domain/model"
	"github.com/okian/fieldpresence/pkg/logger"
)

const maxStubBody = 1 << 20

// StubCounts is a snapshot of what the stub backend has received.
type StubCounts struct {
	Checkins    int // check-in calls, including retries and failures
	Attendances int // distinct attendance ids issued
	Uploads     int
	Points      int // telemetry points across all uploads
	Heartbeats  int
	AWOLs       int
}

// StubBackend is an in-memory attendance backend serving the four
// endpoints the engine calls. Check-ins are idempotent per key.
type StubBackend struct {
	mux    *http.ServeMux
	logger logger.Logger

	mu           sync.Mutex
	counts       StubCounts
	failCheckins int
	replay       *replayCache
	colleagues   []client.ColleagueDTO
}

// StubOption configures a StubBackend.
type StubOption func(*StubBackend)

// WithFailCheckins fails the first n check-in calls with 503.
func WithFailCheckins(n int) StubOption {
	return func(s *StubBackend) {
		if n > 0 {
			s.failCheckins = n
		}
	}
}

// WithColleagues sets the colleague list returned by heartbeats.
func WithColleagues(list []model.Colleague) StubOption {
	return func(s *StubBackend) {
		s.colleagues = make([]client.ColleagueDTO, len(list))
		for i, c := range list {
			s.colleagues[i] = client.ColleagueDTO{
				UserID:         client.ID(c.UserID),
				Latitude:       c.Latitude,
				Longitude:      c.Longitude,
				WithinGeofence: c.WithinGeofence,
			}
		}
	}
}

// WithReplaySize bounds how many idempotency keys the stub remembers.
func WithReplaySize(n int) StubOption {
	return func(s *StubBackend) {
		if n > 0 {
			s.replay = newReplayCache(n)
		}
	}
}

// WithStubLogger sets the stub logger.
func WithStubLogger(l logger.Logger) StubOption {
	return func(s *StubBackend) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStubBackend creates a stub backend.
func NewStubBackend(opts ...StubOption) *StubBackend {
	s := &StubBackend{
		mux:    http.NewServeMux(),
		logger: logger.Nop(),
		replay: newReplayCache(defaultReplaySize),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux.HandleFunc(client.PathAttendance, s.handleCheckin)
	s.mux.HandleFunc(client.PathTelemetry, s.handleTelemetry)
	s.mux.HandleFunc(client.PathHeartbeat, s.handleHeartbeat)
	s.mux.HandleFunc(client.PathAWOL, s.handleAWOL)
	return s
}

// ServeHTTP implements http.Handler.
func (s *StubBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Counts returns a snapshot of the received calls.
func (s *StubBackend) Counts() StubCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts
}

func (s *StubBackend) handleCheckin(w http.ResponseWriter, r *http.Request) {
	var req client.CheckinRequest
	if !decodePost(w, r, &req) {
		return
	}
	key := r.Header.Get(client.IdempotencyHeader)

	s.mu.Lock()
	s.counts.Checkins++
	if s.failCheckins > 0 {
		s.failCheckins--
		s.mu.Unlock()
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	id, seen := uuid.NewString(), false
	if key != "" {
		id, seen = s.replay.LoadOrStore(key, id)
	}
	if !seen {
		s.counts.Attendances++
	}
	s.mu.Unlock()

	s.logger.Info(r.Context(), "check-in",
		logger.String("user", r.Header.Get(client.UserHeader)),
		logger.Int("branch", int(req.BranchID)),
		logger.String("attendance_id", id),
		logger.Bool("replay", seen))
	writeStubJSON(w, client.CheckinResponse{Success: true, AttendanceID: client.ID(id)})
}

func (s *StubBackend) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	var req client.TelemetryRequest
	if !decodePost(w, r, &req) {
		return
	}
	if req.Count != len(req.Path) {
		writeStubJSON(w, client.Ack{Success: false, Message: "count does not match path"})
		return
	}
	s.mu.Lock()
	s.counts.Uploads++
	s.counts.Points += len(req.Path)
	s.mu.Unlock()
	writeStubJSON(w, client.Ack{Success: true})
}

func (s *StubBackend) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req client.HeartbeatRequest
	if !decodePost(w, r, &req) {
		return
	}
	s.mu.Lock()
	s.counts.Heartbeats++
	colleagues := append([]client.ColleagueDTO(nil), s.colleagues...)
	s.mu.Unlock()
	writeStubJSON(w, client.HeartbeatResponse{Success: true, Colleagues: colleagues})
}

func (s *StubBackend) handleAWOL(w http.ResponseWriter, r *http.Request) {
	var req client.AWOLRequest
	if !decodePost(w, r, &req) {
		return
	}
	s.mu.Lock()
	s.counts.AWOLs++
	s.mu.Unlock()
	s.logger.Warn(r.Context(), "awol alert",
		logger.String("user", r.Header.Get(client.UserHeader)),
		logger.Float64("latitude", req.Latitude),
		logger.Float64("longitude", req.Longitude))
	writeStubJSON(w, client.Ack{Success: true})
}

func decodePost(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxStubBody)).Decode(v); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return false
	}
	return true
}

func writeStubJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
