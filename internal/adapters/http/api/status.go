package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/fieldpresence/internal/adapters/repository"
	"github.com/okian/fieldpresence/internal/domain/attendance"
)

// StatusHandler serves the read side and the reset operation.
type StatusHandler struct {
	engine Engine
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(engine Engine) *StatusHandler {
	return &StatusHandler{engine: engine}
}

// HandleGetState handles GET /state requests.
func (h *StatusHandler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Status())
}

// HandleGetColleagues handles GET /colleagues?limit=N requests.
func (h *StatusHandler) HandleGetColleagues(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_colleagues"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	limit := 0
	if s := strings.TrimSpace(r.URL.Query().Get("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeKindError(w, WrapKind(op, ErrBadRequest, err))
			return
		}
		limit = n
	}
	out, err := h.engine.Colleagues(r.Context(), limit)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidLimit) {
			writeKindError(w, WrapKind(op, ErrBadRequest, err))
			return
		}
		writeKindError(w, WrapKind(op, err, nil))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandlePostReset handles POST /reset requests. The body is optional.
func (h *StatusHandler) HandlePostReset(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_reset"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	req := ResetRequest{Reason: "operator"}
	if err := decode(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeKindError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.engine.Reset(r.Context(), req.Reason); err != nil {
		switch {
		case errors.Is(err, attendance.ErrResetInFlight):
			writeKindError(w, WrapKind(op, ErrConflict, err))
		default:
			writeKindError(w, WrapKind(op, engineKind(err), err))
		}
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Status: "reset"})
}

// HandlePostAttendanceStatus handles POST /attendance/status requests. The
// host app calls it with the server's view of today's record.
func (h *StatusHandler) HandlePostAttendanceStatus(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_attendance_status"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req AttendanceStatusRequest
	if err := decode(w, r, &req); err != nil {
		writeKindError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if req.RecordedToday == nil {
		writeKindError(w, WrapKind(op, ErrBadRequest, errors.New("missing recorded_today")))
		return
	}
	if err := h.engine.SetRecordedToday(r.Context(), *req.RecordedToday); err != nil {
		writeKindError(w, WrapKind(op, engineKind(err), err))
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Status: "updated"})
}
