// Package client talks to the attendance backend: check-in, telemetry
// batches, heartbeats and AWOL reports, all JSON over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okian/fieldpresence/internal/domain/model"
	"github.com/okian/fieldpresence/pkg/logger"
	"github.com/okian/fieldpresence/pkg/metrics"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// Client calls the backend. It is safe for concurrent use.
type Client struct {
	base   string
	http   *http.Client
	userID string
	logger logger.Logger
	now    func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithUserID sets the worker id sent in the X-User-ID header.
func WithUserID(id string) Option {
	return func(c *Client) {
		c.userID = id
	}
}

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the clock used for batch timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a client for the backend rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: defaultTimeout},
		logger: logger.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Checkin is one automatic check-in request.
type Checkin struct {
	IdempotencyKey string
	BranchID       int64
	Latitude       float64
	Longitude      float64
	Accuracy       float64
}

// CheckIn registers attendance and returns the backend's attendance id.
func (c *Client) CheckIn(ctx context.Context, in Checkin) (string, error) {
	body := CheckinRequest{
		Action:    "checkin",
		Auto:      true,
		BranchID:  in.BranchID,
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		Accuracy:  in.Accuracy,
	}
	var out CheckinResponse
	hdr := map[string]string{}
	if in.IdempotencyKey != "" {
		hdr[IdempotencyHeader] = in.IdempotencyKey
	}
	if err := c.post(ctx, PathAttendance, body, &out, hdr); err != nil {
		return "", err
	}
	if !out.Success {
		return "", rejected(PathAttendance, out.Message)
	}
	return out.AttendanceID.String(), nil
}

// UploadTelemetry sends one batch of records.
func (c *Client) UploadTelemetry(ctx context.Context, batch []model.TelemetryRecord) error {
	body := TelemetryRequest{
		Path:      PathFromRecords(batch),
		Timestamp: c.now().UnixMilli(),
		Count:     len(batch),
	}
	var out Ack
	if err := c.post(ctx, PathTelemetry, body, &out, nil); err != nil {
		return err
	}
	if !out.Success {
		return rejected(PathTelemetry, out.Message)
	}
	return nil
}

// Heartbeat reports the current estimate and returns colleague presence.
func (c *Client) Heartbeat(ctx context.Context, est model.Estimate) ([]model.Colleague, error) {
	body := HeartbeatRequest{Latitude: est.Latitude, Longitude: est.Longitude, Accuracy: est.Accuracy}
	var out HeartbeatResponse
	if err := c.post(ctx, PathHeartbeat, body, &out, nil); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, rejected(PathHeartbeat, out.Message)
	}
	colleagues := make([]model.Colleague, 0, len(out.Colleagues))
	for _, dto := range out.Colleagues {
		colleagues = append(colleagues, model.Colleague{
			UserID:         dto.UserID.String(),
			Latitude:       dto.Latitude,
			Longitude:      dto.Longitude,
			WithinGeofence: dto.WithinGeofence,
		})
	}
	return colleagues, nil
}

// ReportAWOL reports a boundary exit.
func (c *Client) ReportAWOL(ctx context.Context, lat, lng float64) error {
	var out Ack
	if err := c.post(ctx, PathAWOL, AWOLRequest{AWOLAlert: true, Latitude: lat, Longitude: lng}, &out, nil); err != nil {
		return err
	}
	if !out.Success {
		return rejected(PathAWOL, out.Message)
	}
	return nil
}

func rejected(path, msg string) error {
	if msg == "" {
		return fmt.Errorf("%s: %w", path, ErrServerRejected)
	}
	return fmt.Errorf("%s: %w: %s", path, ErrServerRejected, msg)
}

// clientError reports a 4xx answer the backend will not accept on retry.
// 408 and 429 are transient.
func clientError(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return status >= 400 && status < 500
}

func rejection(status int, data []byte) string {
	var body errorBody
	_ = json.Unmarshal(data, &body)
	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		return fmt.Sprintf("status %d", status)
	}
	return fmt.Sprintf("status %d: %s", status, msg)
}

func (c *Client) post(ctx context.Context, path string, in, out any, headers map[string]string) (err error) {
	start := time.Now()
	defer func() {
		ms := float64(time.Since(start).Microseconds()) / 1000
		metrics.RecordOutboundRequest(path, Kind(err), ms)
		if err != nil {
			c.logger.Debug(ctx, "backend call failed",
				logger.String("path", path),
				logger.Float64("latency_ms", ms),
				logger.Error(err),
			)
		}
	}()

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: %w: %w", path, ErrNetworkFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userID != "" {
		req.Header.Set(UserHeader, c.userID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", path, ErrNetworkFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%s: %w: read body: %w", path, ErrNetworkFailure, err)
	}
	switch {
	case clientError(resp.StatusCode):
		return rejected(path, rejection(resp.StatusCode, data))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%s: %w: status %d", path, ErrNetworkFailure, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: %w: decode body: %w", path, ErrNetworkFailure, err)
	}
	return nil
}
