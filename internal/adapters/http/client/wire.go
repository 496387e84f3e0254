package client

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/okian/fieldpresence/internal/domain/model"
)

// Endpoint paths relative to the backend base URL.
const (
	PathAttendance = "/attendance"
	PathTelemetry  = "/telemetry/batch"
	PathHeartbeat  = "/heartbeat"
	PathAWOL       = "/awol"
)

// IdempotencyHeader carries the per-submission key on check-in calls.
const IdempotencyHeader = "Idempotency-Key"

// UserHeader identifies the tracked worker.
const UserHeader = "X-User-ID"

// errorBody is the JSON error shape of a 4xx answer.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CheckinRequest is the body of POST /attendance.
type CheckinRequest struct {
	Action    string  `json:"action"`
	Auto      bool    `json:"auto"`
	BranchID  int64   `json:"branch_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

// CheckinResponse is the answer to POST /attendance.
type CheckinResponse struct {
	Success      bool   `json:"success"`
	AttendanceID ID     `json:"attendance_id,omitempty"`
	Message      string `json:"message,omitempty"`
}

// PathPoint is one compressed telemetry record on the wire. T is unix
// milliseconds.
type PathPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
	H   int     `json:"h"`
	V   float64 `json:"v"`
	A   int     `json:"a"`
	T   int64   `json:"t"`
}

// TelemetryRequest is the body of POST /telemetry/batch.
type TelemetryRequest struct {
	Path      []PathPoint `json:"path"`
	Timestamp int64       `json:"timestamp"`
	Count     int         `json:"count"`
}

// HeartbeatRequest is the body of POST /heartbeat.
type HeartbeatRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

// HeartbeatResponse is the answer to POST /heartbeat.
type HeartbeatResponse struct {
	Success    bool           `json:"success"`
	Colleagues []ColleagueDTO `json:"colleagues"`
	Message    string         `json:"message,omitempty"`
}

// ColleagueDTO is a colleague entry as the backend sends it.
type ColleagueDTO struct {
	UserID         ID      `json:"user_id"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	WithinGeofence bool    `json:"is_within_geofence"`
}

// AWOLRequest is the body of POST /awol.
type AWOLRequest struct {
	AWOLAlert bool    `json:"awol_alert"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Ack is the minimal response shape shared by every endpoint.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ID accepts either a JSON string or number.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// PathFromRecords converts buffered records to wire points.
func PathFromRecords(recs []model.TelemetryRecord) []PathPoint {
	out := make([]PathPoint, len(recs))
	for i, r := range recs {
		out[i] = PathPoint{Lat: r.Lat, Lng: r.Lng, H: r.Heading, V: r.Velocity, A: r.Accuracy, T: r.Timestamp.UnixMilli()}
	}
	return out
}

// RecordsFromPath converts wire points back to records.
func RecordsFromPath(path []PathPoint) []model.TelemetryRecord {
	out := make([]model.TelemetryRecord, len(path))
	for i, p := range path {
		out[i] = model.TelemetryRecord{Lat: p.Lat, Lng: p.Lng, Heading: p.H, Velocity: p.V, Accuracy: p.A, Timestamp: time.UnixMilli(p.T).UTC()}
	}
	return out
}

func (id ID) String() string { return string(id) }

